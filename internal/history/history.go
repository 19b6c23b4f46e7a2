package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/angeloszaimis/fleet-watcher/config"
	"github.com/angeloszaimis/fleet-watcher/internal/models"
)

// MaxLimit caps the number of records a single query returns.
const MaxLimit = 1024

var (
	ErrStoreWrite = errors.New("history: write failed")
	ErrStoreQuery = errors.New("history: query failed")
)

// Store is an append-only sample log.
type Store interface {
	Append(ctx context.Context, rec models.Record) error
	// Query returns records for entityID newest first. An unknown entity
	// yields an empty result and no error.
	Query(ctx context.Context, entityID string, opts QueryOptions) ([]models.Record, error)
	Close() error
}

type QueryOptions struct {
	// Before, if set, excludes records at or after this instant.
	Before *time.Time
	Limit  int
	// Kind, if set, keeps only records of that kind.
	Kind models.SampleKind
}

// EffectiveLimit is Limit clamped to (0, MaxLimit]. Zero or negative means
// MaxLimit.
func (o QueryOptions) EffectiveLimit() int {
	if o.Limit <= 0 || o.Limit > MaxLimit {
		return MaxLimit
	}
	return o.Limit
}

func (o QueryOptions) admits(rec models.Record) bool {
	if o.Kind != "" && rec.Kind != o.Kind {
		return false
	}
	return o.Before == nil || rec.When.Before(*o.Before)
}

// Open builds the store selected by cfg.Driver.
func Open(ctx context.Context, cfg config.StoreConfig) (Store, error) {
	switch cfg.Driver {
	case "", config.StoreMemory:
		return NewMemory(), nil
	case config.StorePostgres:
		return NewPostgres(ctx, cfg.DatabaseURL)
	case config.StoreS3:
		return NewS3(ctx, cfg.S3)
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}

func withID(rec models.Record) models.Record {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	return rec
}

func encodePayload(rec models.Record) ([]byte, error) {
	switch rec.Kind {
	case models.KindStatus:
		if rec.Status == nil {
			return nil, errors.New("status record without sample")
		}
		return json.Marshal(rec.Status)
	case models.KindPing:
		if rec.Ping == nil {
			return nil, errors.New("ping record without sample")
		}
		return json.Marshal(rec.Ping)
	default:
		return nil, fmt.Errorf("unknown record kind %q", rec.Kind)
	}
}

func decodePayload(rec *models.Record, payload []byte) error {
	switch rec.Kind {
	case models.KindStatus:
		rec.Status = &models.StatusSample{}
		return json.Unmarshal(payload, rec.Status)
	case models.KindPing:
		rec.Ping = &models.PingSample{}
		return json.Unmarshal(payload, rec.Ping)
	default:
		return fmt.Errorf("unknown record kind %q", rec.Kind)
	}
}
