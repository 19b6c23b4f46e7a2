package tracker

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/angeloszaimis/fleet-watcher/internal/history"
	"github.com/angeloszaimis/fleet-watcher/internal/models"
)

// Fleet describes the inventory for snapshots.
type Fleet interface {
	Hosts() []models.Host
	Servers() []models.Server
}

type Dispatcher interface {
	Dispatch(ctx context.Context, ev models.NotificationEvent) error
}

// Recorder is told whenever a server changes conceptual state.
type Recorder interface {
	RecordStateChange(serverID string, state models.State)
}

type nopRecorder struct{}

func (nopRecorder) RecordStateChange(string, models.State) {}

type Tracker struct {
	fleet      Fleet
	store      history.Store
	dispatcher Dispatcher
	recorder   Recorder
	recheck    func()
	now        func() time.Time
	log        *slog.Logger

	servers *registry

	pingMu sync.RWMutex
	pings  map[string]models.PingSample

	bootOnce sync.Once
}

type Option func(*Tracker)

func WithRecorder(r Recorder) Option {
	return func(t *Tracker) { t.recorder = r }
}

// WithRecheck sets what to call when a server enters probation.
func WithRecheck(fn func()) Option {
	return func(t *Tracker) { t.recheck = fn }
}

func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

func New(fleet Fleet, store history.Store, dispatcher Dispatcher, log *slog.Logger, opts ...Option) *Tracker {
	t := &Tracker{
		fleet:      fleet,
		store:      store,
		dispatcher: dispatcher,
		recorder:   nopRecorder{},
		recheck:    func() {},
		now:        time.Now,
		log:        log,
		servers:    newRegistry(),
		pings:      make(map[string]models.PingSample),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// RecordStatus applies a server sample, stores it and sends any resulting
// notification. Storage failures are logged and do not stop notification.
func (t *Tracker) RecordStatus(ctx context.Context, s models.StatusSample) {
	out := t.servers.get(s.ServerID).apply(s)

	switch {
	case out.stale:
		t.log.Debug("Stale sample not applied",
			slog.String("server", s.ServerID),
			slog.Time("when", s.When))
	case out.changed:
		t.log.Info("Server state changed",
			slog.String("server", s.ServerID),
			slog.String("from", out.from.String()),
			slog.String("to", out.to.String()),
			slog.Int("statusCode", s.HTTPStatusCode))
		t.recorder.RecordStateChange(s.ServerID, out.to)
	}
	if out.absorbed {
		t.log.Info("Server no longer on probation", slog.String("server", s.ServerID))
	}
	if out.recheck {
		t.log.Warn("Server on probation",
			slog.String("server", s.ServerID),
			slog.String("busted", s.BustedReason))
		t.recheck()
	}

	if err := t.store.Append(ctx, models.StatusRecord(s)); err != nil {
		t.log.Error("Failed to store status sample",
			slog.String("server", s.ServerID),
			slog.Any("err", err))
	}

	if out.event != nil {
		t.dispatch(ctx, *out.event)
	}
}

// RecordPing updates the host's alive indicator and stores the sample.
func (t *Tracker) RecordPing(ctx context.Context, p models.PingSample) {
	t.pingMu.Lock()
	if prev, ok := t.pings[p.HostID]; !ok || !p.When.Before(prev.When) {
		t.pings[p.HostID] = p
	}
	t.pingMu.Unlock()

	if err := t.store.Append(ctx, models.PingRecord(p)); err != nil {
		t.log.Error("Failed to store ping sample",
			slog.String("host", p.HostID),
			slog.Any("err", err))
	}
}

// Boot sends the start-up event. Only the first call has any effect.
func (t *Tracker) Boot(ctx context.Context, hostname string) {
	t.bootOnce.Do(func() {
		t.dispatch(ctx, models.NotificationEvent{
			Kind:    models.EventBoot,
			Message: "Watcher started@" + hostname,
			Details: "fleet-watcher has started",
			Since:   t.now(),
		})
	})
}

func (t *Tracker) dispatch(ctx context.Context, ev models.NotificationEvent) {
	if t.dispatcher == nil {
		return
	}
	// the dispatcher logs each failed channel itself
	if err := t.dispatcher.Dispatch(ctx, ev); err != nil {
		t.log.Warn("Notification incomplete",
			slog.String("event", string(ev.Kind)),
			slog.String("server", ev.ServerID),
			slog.Any("err", err))
	}
}

// State returns the health state of a server; nil if no sample has arrived.
func (t *Tracker) State(serverID string) *models.HealthState {
	e, ok := t.servers.lookup(serverID)
	if !ok {
		return nil
	}
	_, st := e.view()
	return st
}

type HostView struct {
	Stealth    bool               `json:"stealth"`
	ServerIDs  []string           `json:"serverIds"`
	LatestPing *models.PingSample `json:"latestPing,omitempty"`
}

type ServerView struct {
	HostID          string               `json:"hostId"`
	LatestStatus    *models.StatusSample `json:"latestStatus,omitempty"`
	LastKnownStatus *models.HealthState  `json:"lastKnownStatus,omitempty"`
	State           models.State         `json:"state"`
}

type Snapshot struct {
	Hosts   map[string]HostView   `json:"hosts"`
	Servers map[string]ServerView `json:"servers"`
}

// Snapshot copies the in-memory view of the whole fleet.
func (t *Tracker) Snapshot() Snapshot {
	snap := Snapshot{
		Hosts:   make(map[string]HostView),
		Servers: make(map[string]ServerView),
	}

	t.pingMu.RLock()
	for _, h := range t.fleet.Hosts() {
		hv := HostView{Stealth: h.Stealth, ServerIDs: h.ServerIDs}
		if p, ok := t.pings[h.ID]; ok {
			hv.LatestPing = &p
		}
		snap.Hosts[h.ID] = hv
	}
	t.pingMu.RUnlock()

	for _, s := range t.fleet.Servers() {
		sv := ServerView{HostID: s.HostID}
		if e, ok := t.servers.lookup(s.ID); ok {
			sv.LatestStatus, sv.LastKnownStatus = e.view()
		}
		sv.State = sv.LastKnownStatus.State()
		snap.Servers[s.ID] = sv
	}

	return snap
}

// StatusReport summarizes every server, one line each plus the busted
// reason when the latest sample has one.
func (t *Tracker) StatusReport() string {
	var b strings.Builder

	for _, s := range t.fleet.Servers() {
		var (
			latest *models.StatusSample
			st     *models.HealthState
		)
		if e, ok := t.servers.lookup(s.ID); ok {
			latest, st = e.view()
		}

		if st == nil {
			fmt.Fprintf(&b, "%s: status not known (ask me later)\n", s.ID)
			continue
		}
		fmt.Fprintf(&b, "%s: %s as of %s\n", s.ID, st.State(), st.When.UTC().Format(time.RFC3339))
		if latest != nil && latest.BustedReason != "" {
			fmt.Fprintf(&b, " %d:busted=%s\n", latest.HTTPStatusCode, latest.BustedReason)
		}
	}
	return b.String()
}
