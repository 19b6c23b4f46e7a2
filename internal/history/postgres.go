package history

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/angeloszaimis/fleet-watcher/internal/models"
)

// Postgres stores samples in a single table keyed by entity and time.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres connects, pings and migrates.
func NewPostgres(ctx context.Context, databaseURL string) (*Postgres, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	p := &Postgres{pool: pool}
	if err := p.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return p, nil
}

// Migrate creates the samples table and its index if missing.
func (p *Postgres) Migrate(ctx context.Context) error {
	_, err := p.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS samples (
			seq       BIGSERIAL PRIMARY KEY,
			id        UUID NOT NULL,
			entity_id TEXT NOT NULL,
			kind      TEXT NOT NULL,
			taken_at  TIMESTAMPTZ NOT NULL,
			payload   JSONB NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_samples_entity_time
			ON samples(entity_id, taken_at DESC, seq DESC);
	`)
	if err != nil {
		return fmt.Errorf("migrate samples: %w", err)
	}
	return nil
}

func (p *Postgres) Append(ctx context.Context, rec models.Record) error {
	rec = withID(rec)

	payload, err := encodePayload(rec)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreWrite, err)
	}

	_, err = p.pool.Exec(ctx,
		`INSERT INTO samples (id, entity_id, kind, taken_at, payload) VALUES ($1, $2, $3, $4, $5)`,
		rec.ID, rec.EntityID, string(rec.Kind), rec.When, payload)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreWrite, err)
	}
	return nil
}

func (p *Postgres) Query(ctx context.Context, entityID string, opts QueryOptions) ([]models.Record, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT id::text, entity_id, kind, taken_at, payload
		   FROM samples
		  WHERE entity_id = $1 AND ($2::timestamptz IS NULL OR taken_at < $2)
		    AND ($4::text = '' OR kind = $4)
		  ORDER BY taken_at DESC, seq DESC
		  LIMIT $3`,
		entityID, opts.Before, opts.EffectiveLimit(), string(opts.Kind))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreQuery, err)
	}
	defer rows.Close()

	out := []models.Record{}
	for rows.Next() {
		var (
			rec     models.Record
			kind    string
			payload []byte
		)
		if err := rows.Scan(&rec.ID, &rec.EntityID, &kind, &rec.When, &payload); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStoreQuery, err)
		}
		rec.Kind = models.SampleKind(kind)
		if err := decodePayload(&rec, payload); err != nil {
			return nil, fmt.Errorf("%w: decode %s: %v", ErrStoreQuery, rec.ID, err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreQuery, err)
	}
	return out, nil
}

func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}
