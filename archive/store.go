package archive

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS telemetry (
		id          BIGSERIAL PRIMARY KEY,
		received_at TIMESTAMPTZ NOT NULL,
		type        TEXT NOT NULL,
		payload     JSONB NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS telemetry_type_received_at ON telemetry (type, received_at)`,
}

const insertRow = `INSERT INTO telemetry (received_at, type, payload) VALUES ($1, $2, $3)`

// PgStore writes telemetry rows to Postgres.
type PgStore struct {
	pool *pgxpool.Pool
}

func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool}
}

func (s *PgStore) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("create telemetry schema: %w", err)
		}
	}
	return nil
}

// InsertBatch inserts rows in a single round trip using pgx.Batch.
func (s *PgStore) InsertBatch(ctx context.Context, rows []Row) error {
	batch := &pgx.Batch{}
	for _, r := range rows {
		batch.Queue(insertRow, r.ReceivedAt, r.Type, string(r.Payload))
	}

	results := s.pool.SendBatch(ctx, batch)
	defer results.Close()

	for range rows {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("insert telemetry: %w", err)
		}
	}
	return nil
}
