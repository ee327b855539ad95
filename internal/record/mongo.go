package record

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/pitabwire/cartable/model"
)

// MongoStore is a Store backed by MongoDB. Every record collection maps to
// a Mongo collection of the same name in one database.
type MongoStore struct {
	client *mongo.Client
	db     *mongo.Database
}

var _ Store = (*MongoStore)(nil)

// NewMongoStore creates a Mongo-backed record store. dbName defaults to
// "cartable" if empty.
func NewMongoStore(client *mongo.Client, dbName string) *MongoStore {
	if dbName == "" {
		dbName = "cartable"
	}
	return &MongoStore{client: client, db: client.Database(dbName)}
}

type mongoRecordDoc struct {
	ID       string `bson:"_id"`
	Revision int64  `bson:"revision"`
	Fields   bson.M `bson:"fields"`
}

func (d mongoRecordDoc) record() (Record, error) {
	fields, err := normalize(d.Fields)
	if err != nil {
		return Record{}, err
	}
	return Record{ID: d.ID, Revision: d.Revision, Fields: fields}, nil
}

// List queries with dotted field paths under "fields".
func (s *MongoStore) List(ctx context.Context, collection string, filter Filter) ([]Record, error) {
	opts := options.Find().SetSort(bson.D{{Key: "_id", Value: 1}})
	cur, err := s.db.Collection(collection).Find(ctx, mongoFilter(filter), opts)
	if err != nil {
		return nil, unavailable("mongo find", err)
	}
	defer cur.Close(ctx)

	var out []Record
	for cur.Next(ctx) {
		var doc mongoRecordDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, fmt.Errorf("decode record: %w", err)
		}
		rec, err := doc.record()
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := cur.Err(); err != nil {
		return nil, unavailable("mongo cursor", err)
	}
	return out, nil
}

// Get retrieves a single record.
func (s *MongoStore) Get(ctx context.Context, collection, id string) (Record, error) {
	var doc mongoRecordDoc
	err := s.db.Collection(collection).FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return Record{}, notFound(collection, id)
	}
	if err != nil {
		return Record{}, unavailable("mongo find one", err)
	}
	return doc.record()
}

// Insert stores a new record at revision 1.
func (s *MongoStore) Insert(ctx context.Context, collection string, rec Record) (Record, error) {
	if rec.ID == "" {
		return Record{}, model.NewBadRequestError("record id is required")
	}
	fields, err := normalize(rec.Fields)
	if err != nil {
		return Record{}, err
	}

	_, err = s.db.Collection(collection).InsertOne(ctx, mongoRecordDoc{
		ID:       rec.ID,
		Revision: 1,
		Fields:   bson.M(fields),
	})
	if mongo.IsDuplicateKeyError(err) {
		return Record{}, duplicate(collection, rec.ID)
	}
	if err != nil {
		return Record{}, unavailable("mongo insert", err)
	}
	return Record{ID: rec.ID, Revision: 1, Fields: fields}, nil
}

// Update sets each patched field and increments the revision in a single
// revision-filtered FindOneAndUpdate.
func (s *MongoStore) Update(ctx context.Context, collection, id string, patch map[string]any, revision int64) (Record, error) {
	normalized, err := normalize(patch)
	if err != nil {
		return Record{}, err
	}

	coll := s.db.Collection(collection)
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var doc mongoRecordDoc
	err = coll.FindOneAndUpdate(ctx,
		bson.M{"_id": id, "revision": revision},
		mongoUpdate(normalized),
		opts,
	).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		current, getErr := s.Get(ctx, collection, id)
		if getErr != nil {
			return Record{}, getErr
		}
		return Record{}, conflict(collection, id, revision, current.Revision)
	}
	if err != nil {
		return Record{}, unavailable("mongo update", err)
	}
	return doc.record()
}

// HealthCheck pings the primary.
func (s *MongoStore) HealthCheck(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

func mongoFilter(filter Filter) bson.M {
	out := bson.M{}
	for k, v := range filter {
		out["fields."+k] = v
	}
	return out
}

func mongoUpdate(patch map[string]any) bson.M {
	set := bson.M{}
	for k, v := range patch {
		set["fields."+k] = v
	}
	update := bson.M{"$inc": bson.M{"revision": 1}}
	if len(set) > 0 {
		update["$set"] = set
	}
	return update
}
