package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/angeloszaimis/fleet-watcher/internal/handler"
	"github.com/angeloszaimis/fleet-watcher/internal/history"
	"github.com/angeloszaimis/fleet-watcher/internal/httpserver"
	"github.com/angeloszaimis/fleet-watcher/internal/metrics"
	"github.com/angeloszaimis/fleet-watcher/internal/notify"
	"github.com/angeloszaimis/fleet-watcher/internal/prober"
	"github.com/angeloszaimis/fleet-watcher/internal/scheduler"
	"github.com/angeloszaimis/fleet-watcher/internal/tracker"
	"github.com/angeloszaimis/fleet-watcher/pkg/logger"
)

const metricsBufferSize = 1024

func init() {
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Watch the fleet and serve the HTTP API",
	RunE:  runServe,
}

// services is the wired watcher.
type services struct {
	store     history.Store
	telemetry *metrics.Telemetry
	collector *metrics.Collector
	chats     []*notify.Chat
	tracker   *tracker.Tracker
	scheduler *scheduler.Scheduler
	server    *httpserver.Server
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := setup(ctx, os.Stdout)
	if err != nil {
		return err
	}

	store, err := history.Open(ctx, a.cfg.Store)
	if err != nil {
		a.log.Error("Failed to open history store",
			slog.String("driver", a.cfg.Store.Driver),
			slog.Any("err", err))
		return err
	}

	svc, err := newServices(a, store, prober.ICMPPinger{Privileged: a.cfg.Poll.PrivilegedPing})
	if err != nil {
		store.Close()
		return err
	}

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}

	return svc.run(ctx, hostname, a.log)
}

func newServices(a *app, store history.Store, pinger prober.Pinger) (*services, error) {
	log := a.log

	telemetry, err := metrics.NewTelemetry(a.cfg.Telemetry.Exporter)
	if err != nil {
		log.Error("Failed to set up telemetry", slog.Any("err", err))
		return nil, err
	}
	collector := metrics.NewCollector(metricsBufferSize, telemetry, logger.Component(log, "metrics"))

	svc := &services{store: store, telemetry: telemetry, collector: collector}

	// The tracker and the scheduler refer to each other through these closures.
	status := notify.StatusFunc(func() string { return svc.tracker.StatusReport() })
	recheck := func() { svc.scheduler.ScheduleRecheck() }

	dispatcher, chats, err := notify.FromConfig(a.cfg.Notify, status,
		logger.Component(log, "notify"), notify.WithRecorder(collector))
	if err != nil {
		log.Error("Failed to set up notifications", slog.Any("err", err))
		return nil, err
	}
	svc.chats = chats
	log.Info("Notifications configured", slog.Any("channels", dispatcher.Channels()))

	svc.tracker = tracker.New(a.fleet, store, dispatcher, logger.Component(log, "tracker"),
		tracker.WithRecorder(collector),
		tracker.WithRecheck(recheck))

	probe := prober.New(a.cfg.Poll.ProbeTimeoutDuration(), pinger, logger.Component(log, "prober"))
	svc.scheduler = scheduler.New(a.fleet, probe, svc.tracker,
		a.cfg.Poll.IntervalDuration(), a.cfg.Poll.ProbationDuration(),
		logger.Component(log, "scheduler"),
		scheduler.WithRecorder(collector))

	h := handler.New(svc.tracker, store, logger.Component(log, "http"))
	router := handler.NewRouter(h, handler.RouterConfig{
		AllowedOrigins: a.cfg.Server.AllowedOrigins,
		Stats:          collector.Handler(),
		Metrics:        telemetry.Handler(),
	})

	svc.server, err = httpserver.New(a.cfg.Server.Address, router, logger.Component(log, "http"))
	if err != nil {
		log.Error("Failed to create server", slog.Any("err", err))
		return nil, err
	}

	return svc, nil
}

// run blocks until ctx is done or a component fails, then waits for
// in-flight probes and releases the store and telemetry.
func (svc *services) run(ctx context.Context, hostname string, log *slog.Logger) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return svc.collector.Run(gctx) })
	for _, chat := range svc.chats {
		g.Go(func() error { return chat.Run(gctx) })
	}
	g.Go(func() error {
		svc.tracker.Boot(gctx, hostname)
		return nil
	})
	g.Go(func() error { return svc.server.Run(gctx) })
	g.Go(func() error { return svc.scheduler.Run(gctx) })

	err := g.Wait()
	if err != nil {
		log.Error("Watcher stopped with error", slog.Any("err", err))
	} else {
		log.Info("Shutting down gracefully...")
	}

	svc.scheduler.Wait()

	if cerr := svc.store.Close(); cerr != nil {
		log.Error("Error closing history store", slog.Any("err", cerr))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if serr := svc.telemetry.Shutdown(shutdownCtx); serr != nil {
		log.Error("Error shutting down telemetry", slog.Any("err", serr))
	}

	return err
}
