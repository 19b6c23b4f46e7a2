package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"text/template"

	"go.uber.org/multierr"

	"github.com/angeloszaimis/fleet-watcher/internal/models"
)

var ErrChannelSend = errors.New("notify: channel send failed")

type Kind string

const (
	KindEmail Kind = "email"
	KindChat  Kind = "chat"
	KindSMS   Kind = "sms"
)

// Message is a rendered notification ready for a channel.
type Message struct {
	Event   models.NotificationEvent
	Subject string
	Body    string
}

// Channel delivers rendered messages to its recipients.
type Channel interface {
	Name() string
	Kind() Kind
	Send(ctx context.Context, msg Message) error
}

// Binding selects the events a channel receives and how they are rendered.
// Empty Events means every kind. Servers, when set, restricts server events;
// events without a server (boot) are not filtered by it.
type Binding struct {
	Enabled  bool
	Events   []models.EventKind
	Servers  []string
	Subject  string
	Template string
}

func (b Binding) matches(ev models.NotificationEvent) bool {
	if !b.Enabled {
		return false
	}
	if len(b.Events) > 0 && !slices.Contains(b.Events, ev.Kind) {
		return false
	}
	if len(b.Servers) > 0 && ev.ServerID != "" && !slices.Contains(b.Servers, ev.ServerID) {
		return false
	}
	return true
}

// Recorder is told about every delivery attempt.
type Recorder interface {
	RecordNotification(channel string, ok bool)
}

type nopRecorder struct{}

func (nopRecorder) RecordNotification(string, bool) {}

type route struct {
	ch      Channel
	binding Binding
	tmpl    *template.Template
}

type Dispatcher struct {
	routes   []route
	footer   string
	recorder Recorder
	log      *slog.Logger
}

type Option func(*Dispatcher)

func WithRecorder(r Recorder) Option {
	return func(d *Dispatcher) { d.recorder = r }
}

func NewDispatcher(footer string, log *slog.Logger, opts ...Option) *Dispatcher {
	d := &Dispatcher{footer: footer, recorder: nopRecorder{}, log: log}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Register adds a channel. The binding's template is parsed here so a bad
// template fails at startup.
func (d *Dispatcher) Register(ch Channel, b Binding) error {
	for _, kind := range b.Events {
		if !kind.Valid() {
			return fmt.Errorf("channel %s: unknown event %q", ch.Name(), kind)
		}
	}
	tmpl, err := parseTemplate(ch.Name(), b.Template)
	if err != nil {
		return fmt.Errorf("channel %s: %w", ch.Name(), err)
	}
	d.routes = append(d.routes, route{ch: ch, binding: b, tmpl: tmpl})
	return nil
}

// Channels returns the registered channel names in registration order.
func (d *Dispatcher) Channels() []string {
	names := make([]string, 0, len(d.routes))
	for _, r := range d.routes {
		names = append(names, r.ch.Name())
	}
	return names
}

// Dispatch sends ev to every matching channel. All channels are attempted;
// the failures are returned combined, each wrapping ErrChannelSend.
func (d *Dispatcher) Dispatch(ctx context.Context, ev models.NotificationEvent) error {
	var errs error

	for _, r := range d.routes {
		if !r.binding.matches(ev) {
			continue
		}

		if err := d.deliver(ctx, r, ev); err != nil {
			err = fmt.Errorf("%w: %s: %v", ErrChannelSend, r.ch.Name(), err)
			d.log.Error("Notification failed",
				slog.String("channel", r.ch.Name()),
				slog.String("event", string(ev.Kind)),
				slog.Any("err", err))
			d.recorder.RecordNotification(r.ch.Name(), false)
			errs = multierr.Append(errs, err)
			continue
		}

		d.recorder.RecordNotification(r.ch.Name(), true)
		d.log.Info("Notification sent",
			slog.String("channel", r.ch.Name()),
			slog.String("kind", string(r.ch.Kind())),
			slog.String("event", string(ev.Kind)),
			slog.String("server", ev.ServerID))
	}

	return errs
}

// deliver renders and sends ev on one route. A panicking channel is
// reported as a failed send.
func (d *Dispatcher) deliver(ctx context.Context, r route, ev models.NotificationEvent) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
	}()

	msg, err := render(r.tmpl, r.binding.Subject, d.footer, ev)
	if err != nil {
		return err
	}
	return r.ch.Send(ctx, msg)
}
