package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/angeloszaimis/fleet-watcher/internal/models"
)

// Fleet lists what to poll.
type Fleet interface {
	Hosts() []models.Host
	Servers() []models.Server
}

// Probe takes single samples.
type Probe interface {
	ProbeHost(ctx context.Context, host models.Host) models.PingSample
	ProbeServer(ctx context.Context, server models.Server) models.StatusSample
}

// Sink receives samples as they arrive.
type Sink interface {
	RecordStatus(ctx context.Context, sample models.StatusSample)
	RecordPing(ctx context.Context, sample models.PingSample)
}

// Recorder is notified of cycles and completed probes.
type Recorder interface {
	RecordPollCycle(recheck bool)
	RecordProbe(kind models.SampleKind, entityID string, ok bool, latency time.Duration)
}

type nopRecorder struct{}

func (nopRecorder) RecordPollCycle(bool)                                       {}
func (nopRecorder) RecordProbe(models.SampleKind, string, bool, time.Duration) {}

type Scheduler struct {
	fleet     Fleet
	probe     Probe
	sink      Sink
	interval  time.Duration
	probation time.Duration
	recorder  Recorder
	log       *slog.Logger

	inflight sync.WaitGroup

	mu      sync.Mutex
	base    context.Context
	pending *time.Timer
	stopped bool
}

type Option func(*Scheduler)

func WithRecorder(r Recorder) Option {
	return func(s *Scheduler) { s.recorder = r }
}

func New(fleet Fleet, probe Probe, sink Sink, interval, probation time.Duration, log *slog.Logger, opts ...Option) *Scheduler {
	s := &Scheduler{
		fleet:     fleet,
		probe:     probe,
		sink:      sink,
		interval:  interval,
		probation: probation,
		recorder:  nopRecorder{},
		log:       log,
		base:      context.Background(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run polls immediately and then every interval until ctx is done. A pending
// recheck is cancelled on return; in-flight probes are not awaited, use Wait.
func (s *Scheduler) Run(ctx context.Context) error {
	s.mu.Lock()
	s.base = ctx
	s.mu.Unlock()

	s.log.Info("Scheduler started",
		slog.Duration("interval", s.interval),
		slog.Duration("probation", s.probation))

	s.PollCycle(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.stop()
			s.log.Info("Scheduler stopped")
			return nil
		case <-ticker.C:
			s.PollCycle(ctx)
		}
	}
}

// PollCycle starts one probe per non-stealth host and one per server and
// returns without waiting for them.
func (s *Scheduler) PollCycle(ctx context.Context) {
	s.cycle(ctx, false)
}

func (s *Scheduler) cycle(ctx context.Context, recheck bool) {
	hosts := s.fleet.Hosts()
	servers := s.fleet.Servers()

	s.recorder.RecordPollCycle(recheck)
	s.log.Debug("Polling",
		slog.Int("hosts", len(hosts)),
		slog.Int("servers", len(servers)),
		slog.Bool("recheck", recheck))

	for _, h := range hosts {
		if h.Stealth {
			continue
		}
		s.inflight.Add(1)
		go func(h models.Host) {
			defer s.inflight.Done()
			sample := s.probe.ProbeHost(ctx, h)
			if ctx.Err() != nil {
				return
			}
			s.recorder.RecordProbe(models.KindPing, h.ID, sample.Alive, time.Duration(sample.LatencyNs))
			s.sink.RecordPing(ctx, sample)
		}(h)
	}

	for _, srv := range servers {
		s.inflight.Add(1)
		go func(srv models.Server) {
			defer s.inflight.Done()
			sample := s.probe.ProbeServer(ctx, srv)
			if ctx.Err() != nil {
				return
			}
			s.recorder.RecordProbe(models.KindStatus, srv.ID, sample.Up(), time.Duration(sample.LatencyNs))
			s.sink.RecordStatus(ctx, sample)
		}(srv)
	}
}

// ScheduleRecheck arms a full-fleet poll after the probation interval.
// Requests made while one is pending join it.
func (s *Scheduler) ScheduleRecheck() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped || s.pending != nil {
		return
	}

	s.log.Info("Recheck scheduled", slog.Duration("in", s.probation))
	s.pending = time.AfterFunc(s.probation, func() {
		s.mu.Lock()
		s.pending = nil
		ctx := s.base
		stopped := s.stopped
		s.mu.Unlock()

		if stopped || ctx.Err() != nil {
			return
		}
		s.cycle(ctx, true)
	})
}

// RecheckPending reports whether a recheck is armed.
func (s *Scheduler) RecheckPending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending != nil
}

// Wait blocks until every probe started so far has delivered its sample.
func (s *Scheduler) Wait() {
	s.inflight.Wait()
}

func (s *Scheduler) stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopped = true
	if s.pending != nil {
		s.pending.Stop()
		s.pending = nil
	}
}
