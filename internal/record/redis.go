package record

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/redis/go-redis/v9"

	"github.com/pitabwire/cartable/model"
)

// RedisStore is a Store backed by Redis.
//
// Key layout (prefix defaults to "cartable:"):
//
//	<prefix>rec:<collection>:<id>  JSON-encoded Record
//	<prefix>idx:<collection>       set of record ids
//
// Updates use WATCH/MULTI so a concurrent writer aborts the transaction.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore creates a Redis-backed record store.
func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "cartable:"
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) keyRecord(collection, id string) string {
	return s.prefix + "rec:" + collection + ":" + id
}

func (s *RedisStore) keyIndex(collection string) string {
	return s.prefix + "idx:" + collection
}

// List loads every indexed record of the collection and filters in process.
func (s *RedisStore) List(ctx context.Context, collection string, filter Filter) ([]Record, error) {
	ids, err := s.client.SMembers(ctx, s.keyIndex(collection)).Result()
	if err != nil {
		return nil, unavailable("redis smembers", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.keyRecord(collection, id)
	}
	vals, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, unavailable("redis mget", err)
	}

	var out []Record
	for _, v := range vals {
		raw, ok := v.(string)
		if !ok {
			continue // index entry without a record
		}
		var rec Record
		if err := unmarshalFields([]byte(raw), &rec); err != nil {
			return nil, fmt.Errorf("unmarshal record: %w", err)
		}
		if filter.Match(rec.Fields) {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Get retrieves a single record.
func (s *RedisStore) Get(ctx context.Context, collection, id string) (Record, error) {
	return s.get(ctx, s.client, collection, id)
}

type redisGetter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func (s *RedisStore) get(ctx context.Context, c redisGetter, collection, id string) (Record, error) {
	raw, err := c.Get(ctx, s.keyRecord(collection, id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Record{}, notFound(collection, id)
	}
	if err != nil {
		return Record{}, unavailable("redis get", err)
	}
	var rec Record
	if err := unmarshalFields(raw, &rec); err != nil {
		return Record{}, fmt.Errorf("unmarshal record: %w", err)
	}
	return rec, nil
}

// Insert stores a new record at revision 1 using SETNX.
func (s *RedisStore) Insert(ctx context.Context, collection string, rec Record) (Record, error) {
	if rec.ID == "" {
		return Record{}, model.NewBadRequestError("record id is required")
	}
	fields, err := normalize(rec.Fields)
	if err != nil {
		return Record{}, err
	}
	stored := Record{ID: rec.ID, Revision: 1, Fields: fields}
	raw, err := json.Marshal(stored)
	if err != nil {
		return Record{}, fmt.Errorf("marshal record: %w", err)
	}

	ok, err := s.client.SetNX(ctx, s.keyRecord(collection, rec.ID), raw, 0).Result()
	if err != nil {
		return Record{}, unavailable("redis setnx", err)
	}
	if !ok {
		return Record{}, duplicate(collection, rec.ID)
	}
	if err := s.client.SAdd(ctx, s.keyIndex(collection), rec.ID).Err(); err != nil {
		return Record{}, unavailable("redis sadd", err)
	}
	return stored, nil
}

// Update merges patch under WATCH on the record key.
func (s *RedisStore) Update(ctx context.Context, collection, id string, patch map[string]any, revision int64) (Record, error) {
	normalized, err := normalize(patch)
	if err != nil {
		return Record{}, err
	}
	key := s.keyRecord(collection, id)

	var stored Record
	txf := func(tx *redis.Tx) error {
		existing, err := s.get(ctx, tx, collection, id)
		if err != nil {
			return err
		}
		if existing.Revision != revision {
			return conflict(collection, id, revision, existing.Revision)
		}

		stored = Record{
			ID:       id,
			Revision: existing.Revision + 1,
			Fields:   merge(existing.Fields, normalized),
		}
		raw, err := json.Marshal(stored)
		if err != nil {
			return fmt.Errorf("marshal record: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, raw, 0)
			return nil
		})
		return err
	}

	err = s.client.Watch(ctx, txf, key)
	if errors.Is(err, redis.TxFailedErr) {
		return Record{}, conflict(collection, id, revision, revision+1)
	}
	if err != nil {
		var env *model.ErrorEnvelope
		if errors.As(err, &env) {
			return Record{}, err
		}
		return Record{}, unavailable("redis update", err)
	}
	return stored, nil
}

// HealthCheck pings Redis.
func (s *RedisStore) HealthCheck(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
