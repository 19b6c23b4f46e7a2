package metrics

import (
	"context"
	"log/slog"
	"time"

	"github.com/angeloszaimis/fleet-watcher/internal/models"
)

type EventType string

const (
	EventProbeCompleted     EventType = "probe_completed"
	EventStateChanged       EventType = "state_changed"
	EventNotificationSent   EventType = "notification_sent"
	EventNotificationFailed EventType = "notification_failed"
	EventPollCycle          EventType = "poll_cycle"
)

type MetricEvent struct {
	Type      EventType
	Timestamp time.Time
	Entity    string
	Kind      models.SampleKind
	OK        bool
	Duration  time.Duration
	State     models.State
	Channel   string
	Recheck   bool
}

type Collector struct {
	eventCh   chan MetricEvent
	metrics   *Metrics
	telemetry *Telemetry
	logger    *slog.Logger
}

// NewCollector creates a collector. telemetry may be nil.
func NewCollector(bufferSize int, telemetry *Telemetry, logger *slog.Logger) *Collector {
	return &Collector{
		eventCh:   make(chan MetricEvent, bufferSize),
		metrics:   NewMetrics(),
		telemetry: telemetry,
		logger:    logger,
	}
}

func (c *Collector) EventChannel() chan<- MetricEvent {
	return c.eventCh
}

func (c *Collector) Start(ctx context.Context) {
	go c.Run(ctx)
}

// Run processes events until ctx is done, then drains what is buffered.
func (c *Collector) Run(ctx context.Context) error {
	c.logger.Info("Metrics collector started")
	defer c.logger.Info("Metrics collector stopped")

	for {
		select {
		case event := <-c.eventCh:
			c.processEvent(event)
		case <-ctx.Done():
			c.drain()
			return nil
		}
	}
}

// emit never blocks; events are dropped when the buffer is full.
func (c *Collector) emit(event MetricEvent) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	select {
	case c.eventCh <- event:
	default:
		c.logger.Debug("Metric event dropped", slog.String("type", string(event.Type)))
	}
}

func (c *Collector) RecordProbe(kind models.SampleKind, entityID string, ok bool, latency time.Duration) {
	c.emit(MetricEvent{Type: EventProbeCompleted, Kind: kind, Entity: entityID, OK: ok, Duration: latency})
}

func (c *Collector) RecordPollCycle(recheck bool) {
	c.emit(MetricEvent{Type: EventPollCycle, Recheck: recheck})
}

func (c *Collector) RecordStateChange(serverID string, state models.State) {
	c.emit(MetricEvent{Type: EventStateChanged, Entity: serverID, State: state})
}

func (c *Collector) RecordNotification(channel string, ok bool) {
	typ := EventNotificationSent
	if !ok {
		typ = EventNotificationFailed
	}
	c.emit(MetricEvent{Type: typ, Channel: channel})
}

func (c *Collector) processEvent(event MetricEvent) {
	switch event.Type {
	case EventProbeCompleted:
		c.metrics.RecordProbe(event.Entity, event.Kind, event.OK, event.Duration)

	case EventStateChanged:
		c.metrics.UpdateState(event.Entity, event.State)

	case EventNotificationSent, EventNotificationFailed:
		c.metrics.RecordNotification(event.Channel, event.Type == EventNotificationSent)

	case EventPollCycle:
		c.metrics.RecordPollCycle(event.Recheck)
	}

	if c.telemetry != nil {
		c.telemetry.record(context.Background(), event)
	}
}

func (c *Collector) drain() {
	for {
		select {
		case event := <-c.eventCh:
			c.processEvent(event)
		default:
			return
		}
	}
}

func (c *Collector) Snapshot() Snapshot {
	return c.metrics.Snapshot()
}
