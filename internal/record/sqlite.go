package record

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/pitabwire/cartable/model"
)

// SQLiteStore is a Store backed by SQLite.
//
// It expects an *sql.DB that uses a SQLite driver; the service imports
// "modernc.org/sqlite" for that:
//
//	import _ "modernc.org/sqlite"
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore initializes the schema in db and returns the store.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	s := &SQLiteStore{db: db}
	if err := s.initSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS records (
			collection TEXT NOT NULL,
			id TEXT NOT NULL,
			revision INTEGER NOT NULL,
			fields TEXT NOT NULL,
			PRIMARY KEY (collection, id)
		);`,
	)
	if err != nil {
		return fmt.Errorf("init sqlite schema: %w", err)
	}
	return nil
}

// List scans the collection and applies the filter in process.
func (s *SQLiteStore) List(ctx context.Context, collection string, filter Filter) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, revision, fields FROM records WHERE collection = ? ORDER BY id`,
		collection,
	)
	if err != nil {
		return nil, unavailable("query records", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var rec Record
		var raw string
		if err := rows.Scan(&rec.ID, &rec.Revision, &raw); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		if err := unmarshalFields([]byte(raw), &rec.Fields); err != nil {
			return nil, fmt.Errorf("unmarshal fields: %w", err)
		}
		if filter.Match(rec.Fields) {
			out = append(out, rec)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("iterate records", err)
	}
	return out, nil
}

// Get retrieves a single record.
func (s *SQLiteStore) Get(ctx context.Context, collection, id string) (Record, error) {
	return s.get(ctx, s.db, collection, id)
}

type sqlQueryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *SQLiteStore) get(ctx context.Context, q sqlQueryer, collection, id string) (Record, error) {
	rec := Record{ID: id}
	var raw string
	err := q.QueryRowContext(ctx,
		`SELECT revision, fields FROM records WHERE collection = ? AND id = ?`,
		collection, id,
	).Scan(&rec.Revision, &raw)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, notFound(collection, id)
	}
	if err != nil {
		return Record{}, unavailable("query record", err)
	}
	if err := unmarshalFields([]byte(raw), &rec.Fields); err != nil {
		return Record{}, fmt.Errorf("unmarshal fields: %w", err)
	}
	return rec, nil
}

// Insert stores a new record at revision 1.
func (s *SQLiteStore) Insert(ctx context.Context, collection string, rec Record) (Record, error) {
	if rec.ID == "" {
		return Record{}, model.NewBadRequestError("record id is required")
	}
	fields, err := normalize(rec.Fields)
	if err != nil {
		return Record{}, err
	}
	raw, err := json.Marshal(fields)
	if err != nil {
		return Record{}, fmt.Errorf("marshal fields: %w", err)
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO records (collection, id, revision, fields) VALUES (?, ?, 1, ?)`,
		collection, rec.ID, string(raw),
	)
	if err != nil {
		return Record{}, unavailable("insert record", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return Record{}, duplicate(collection, rec.ID)
	}
	return Record{ID: rec.ID, Revision: 1, Fields: fields}, nil
}

// Update reads, merges and writes inside one transaction; the UPDATE also
// carries the revision predicate.
func (s *SQLiteStore) Update(ctx context.Context, collection, id string, patch map[string]any, revision int64) (Record, error) {
	normalized, err := normalize(patch)
	if err != nil {
		return Record{}, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Record{}, unavailable("begin tx", err)
	}
	defer func() { _ = tx.Rollback() }()

	existing, err := s.get(ctx, tx, collection, id)
	if err != nil {
		return Record{}, err
	}
	if existing.Revision != revision {
		return Record{}, conflict(collection, id, revision, existing.Revision)
	}

	fields := merge(existing.Fields, normalized)
	raw, err := json.Marshal(fields)
	if err != nil {
		return Record{}, fmt.Errorf("marshal fields: %w", err)
	}

	res, err := tx.ExecContext(ctx,
		`UPDATE records SET revision = revision + 1, fields = ? WHERE collection = ? AND id = ? AND revision = ?`,
		string(raw), collection, id, revision,
	)
	if err != nil {
		return Record{}, unavailable("update record", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return Record{}, conflict(collection, id, revision, existing.Revision+1)
	}
	if err := tx.Commit(); err != nil {
		return Record{}, unavailable("commit tx", err)
	}
	return Record{ID: id, Revision: revision + 1, Fields: fields}, nil
}

// HealthCheck pings the database.
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
