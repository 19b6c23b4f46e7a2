package history

import (
	"context"
	"sort"
	"sync"

	"github.com/angeloszaimis/fleet-watcher/internal/models"
)

// Memory keeps records per entity ordered by time. Samples are copied in and
// out so stored records cannot be mutated by callers.
type Memory struct {
	mu      sync.RWMutex
	records map[string][]models.Record
}

func NewMemory() *Memory {
	return &Memory{records: make(map[string][]models.Record)}
}

func (m *Memory) Append(_ context.Context, rec models.Record) error {
	rec = clone(withID(rec))

	m.mu.Lock()
	defer m.mu.Unlock()

	recs := m.records[rec.EntityID]
	// after any record with the same timestamp, so ties read back newest-appended first
	i := sort.Search(len(recs), func(i int) bool { return recs[i].When.After(rec.When) })
	recs = append(recs, models.Record{})
	copy(recs[i+1:], recs[i:])
	recs[i] = rec
	m.records[rec.EntityID] = recs
	return nil
}

func (m *Memory) Query(_ context.Context, entityID string, opts QueryOptions) ([]models.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	recs := m.records[entityID]
	limit := opts.EffectiveLimit()
	out := make([]models.Record, 0, min(limit, len(recs)))

	for i := len(recs) - 1; i >= 0 && len(out) < limit; i-- {
		if !opts.admits(recs[i]) {
			continue
		}
		out = append(out, clone(recs[i]))
	}
	return out, nil
}

func (m *Memory) Close() error { return nil }

func clone(rec models.Record) models.Record {
	if rec.Status != nil {
		s := *rec.Status
		s.Users, s.Guests, s.DBUsed = copyOf(s.Users), copyOf(s.Guests), copyOf(s.DBUsed)
		s.MemFree, s.MemTotal = copyOf(s.MemFree), copyOf(s.MemTotal)
		s.Stamp = copyOf(s.Stamp)
		rec.Status = &s
	}
	if rec.Ping != nil {
		p := *rec.Ping
		rec.Ping = &p
	}
	return rec
}

func copyOf[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
