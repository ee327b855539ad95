package record

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pitabwire/cartable/model"
)

const pgSchema = `
CREATE TABLE IF NOT EXISTS records (
	collection TEXT        NOT NULL,
	id         TEXT        NOT NULL,
	revision   BIGINT      NOT NULL,
	fields     JSONB       NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (collection, id)
);
CREATE INDEX IF NOT EXISTS records_fields_gin ON records USING GIN (fields jsonb_path_ops);`

// PgStore is a PostgreSQL-backed Store using pgx/v5. Records live in a
// single table keyed by (collection, id) with fields in a JSONB column.
type PgStore struct {
	pool *pgxpool.Pool
}

var _ Store = (*PgStore)(nil)

// NewPgStore creates a PostgreSQL record store.
func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool}
}

// Migrate creates the records table if it does not exist.
func (s *PgStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, pgSchema); err != nil {
		return fmt.Errorf("migrate records table: %w", err)
	}
	return nil
}

// List returns matching records using JSONB containment.
func (s *PgStore) List(ctx context.Context, collection string, filter Filter) ([]Record, error) {
	query, args, err := pgListQuery(collection, filter)
	if err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, unavailable("query records", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var rec Record
		var raw []byte
		if err := rows.Scan(&rec.ID, &rec.Revision, &raw); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		if err := unmarshalFields(raw, &rec.Fields); err != nil {
			return nil, fmt.Errorf("unmarshal fields: %w", err)
		}
		// Containment treats arrays as subsets; re-check exact equality.
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
func (s *PgStore) Get(ctx context.Context, collection, id string) (Record, error) {
	rec := Record{ID: id}
	var raw []byte
	err := s.pool.QueryRow(ctx, `
		SELECT revision, fields FROM records
		WHERE collection = $1 AND id = $2`,
		collection, id,
	).Scan(&rec.Revision, &raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return Record{}, notFound(collection, id)
	}
	if err != nil {
		return Record{}, unavailable("query record", err)
	}
	if err := unmarshalFields(raw, &rec.Fields); err != nil {
		return Record{}, fmt.Errorf("unmarshal fields: %w", err)
	}
	return rec, nil
}

// Insert stores a new record at revision 1.
func (s *PgStore) Insert(ctx context.Context, collection string, rec Record) (Record, error) {
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

	tag, err := s.pool.Exec(ctx, `
		INSERT INTO records (collection, id, revision, fields)
		VALUES ($1, $2, 1, $3)
		ON CONFLICT (collection, id) DO NOTHING`,
		collection, rec.ID, raw,
	)
	if err != nil {
		return Record{}, unavailable("insert record", err)
	}
	if tag.RowsAffected() == 0 {
		return Record{}, duplicate(collection, rec.ID)
	}
	return Record{ID: rec.ID, Revision: 1, Fields: fields}, nil
}

// Update merges patch with the JSONB concatenation operator under a
// revision check.
func (s *PgStore) Update(ctx context.Context, collection, id string, patch map[string]any, revision int64) (Record, error) {
	normalized, err := normalize(patch)
	if err != nil {
		return Record{}, err
	}
	raw, err := json.Marshal(normalized)
	if err != nil {
		return Record{}, fmt.Errorf("marshal patch: %w", err)
	}

	rec := Record{ID: id}
	var out []byte
	err = s.pool.QueryRow(ctx, `
		UPDATE records
		SET fields = fields || $1::jsonb, revision = revision + 1, updated_at = now()
		WHERE collection = $2 AND id = $3 AND revision = $4
		RETURNING revision, fields`,
		raw, collection, id, revision,
	).Scan(&rec.Revision, &out)
	if errors.Is(err, pgx.ErrNoRows) {
		current, getErr := s.Get(ctx, collection, id)
		if getErr != nil {
			return Record{}, getErr
		}
		return Record{}, conflict(collection, id, revision, current.Revision)
	}
	if err != nil {
		return Record{}, unavailable("update record", err)
	}
	if err := unmarshalFields(out, &rec.Fields); err != nil {
		return Record{}, fmt.Errorf("unmarshal fields: %w", err)
	}
	return rec, nil
}

// HealthCheck pings the pool.
func (s *PgStore) HealthCheck(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func pgListQuery(collection string, filter Filter) (string, []any, error) {
	if len(filter) == 0 {
		return `SELECT id, revision, fields FROM records WHERE collection = $1 ORDER BY id`,
			[]any{collection}, nil
	}
	raw, err := json.Marshal(filter)
	if err != nil {
		return "", nil, fmt.Errorf("marshal filter: %w", err)
	}
	return `SELECT id, revision, fields FROM records WHERE collection = $1 AND fields @> $2::jsonb ORDER BY id`,
		[]any{collection, raw}, nil
}
