package tracker

import (
	"sync"

	"github.com/angeloszaimis/fleet-watcher/internal/models"
)

// registry holds one entry per server, created on first use.
type registry struct {
	mutex   sync.RWMutex
	entries map[string]*entry
}

func newRegistry() *registry {
	return &registry{entries: make(map[string]*entry)}
}

func (r *registry) get(serverID string) *entry {
	r.mutex.RLock()
	e, exists := r.entries[serverID]
	r.mutex.RUnlock()

	if exists {
		return e
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()

	// another goroutine may have created it
	if e, exists = r.entries[serverID]; exists {
		return e
	}

	e = &entry{}
	r.entries[serverID] = e
	return e
}

func (r *registry) lookup(serverID string) (*entry, bool) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	e, ok := r.entries[serverID]
	return e, ok
}

// entry is the mutable record of one server.
type entry struct {
	mutex  sync.Mutex
	state  *models.HealthState
	latest *models.StatusSample
}

type outcome struct {
	stale   bool
	changed bool
	from    models.State
	to      models.State
	recheck bool
	event   *models.NotificationEvent
	// recovered without the down event ever having been sent
	absorbed bool
}

// apply runs one sample through the state machine.
func (e *entry) apply(s models.StatusSample) outcome {
	e.mutex.Lock()
	defer e.mutex.Unlock()

	if e.latest == nil || !s.When.Before(e.latest.When) {
		latest := s
		e.latest = &latest
	}

	up := s.Up()
	st := e.state
	out := outcome{from: st.State()}

	switch {
	case st == nil:
		e.state = &models.HealthState{When: s.When, Up: up, Since: s.When}

	case s.When.Before(st.When):
		out.stale = true
		return out

	case up == st.Up && !st.Probation:
		st.When = s.When

	case !up && st.Up:
		st.Up = false
		st.Probation = true
		st.When = s.When
		st.Since = s.When
		out.recheck = true

	case !up && st.Probation:
		out.event = &models.NotificationEvent{
			Kind:     models.EventDown,
			ServerID: s.ServerID,
			Message:  "Server " + s.ServerID + " DOWN",
			Since:    st.Since,
			Details:  s.BustedReason,
		}
		st.Probation = false
		st.WasNotifiedDown = true
		st.When = s.When

	case up && !st.Up:
		if st.WasNotifiedDown {
			out.event = &models.NotificationEvent{
				Kind:     models.EventUp,
				ServerID: s.ServerID,
				Message:  "Server " + s.ServerID + " UP",
				Since:    st.Since,
			}
		} else {
			out.absorbed = true
		}
		*st = models.HealthState{When: s.When, Up: true, Since: s.When}
	}

	out.to = e.state.State()
	out.changed = out.from != out.to
	return out
}

// view copies the entry for readers.
func (e *entry) view() (*models.StatusSample, *models.HealthState) {
	e.mutex.Lock()
	defer e.mutex.Unlock()

	var latest *models.StatusSample
	if e.latest != nil {
		l := *e.latest
		latest = &l
	}
	var state *models.HealthState
	if e.state != nil {
		s := *e.state
		state = &s
	}
	return latest, state
}
