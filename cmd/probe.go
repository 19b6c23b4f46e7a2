package main

import (
	"context"
	"os"
	"sort"
	"sync"

	"github.com/spf13/cobra"

	"github.com/angeloszaimis/fleet-watcher/internal/models"
	"github.com/angeloszaimis/fleet-watcher/internal/prober"
	"github.com/angeloszaimis/fleet-watcher/internal/scheduler"
	"github.com/angeloszaimis/fleet-watcher/pkg/logger"
)

func init() {
	rootCmd.AddCommand(probeCmd)
}

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Probe every host and server once and print the samples",
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := setup(cmd.Context(), os.Stderr)
		if err != nil {
			return err
		}

		pinger := prober.ICMPPinger{Privileged: a.cfg.Poll.PrivilegedPing}
		report := probeOnce(cmd.Context(), a, pinger)
		return printJSON(cmd.OutOrStdout(), report)
	},
}

type probeReport struct {
	Pings    []models.PingSample   `json:"pings"`
	Statuses []models.StatusSample `json:"statuses"`
}

// collectingSink keeps every sample it receives.
type collectingSink struct {
	mu     sync.Mutex
	report probeReport
}

func (c *collectingSink) RecordStatus(_ context.Context, s models.StatusSample) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.report.Statuses = append(c.report.Statuses, s)
}

func (c *collectingSink) RecordPing(_ context.Context, p models.PingSample) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.report.Pings = append(c.report.Pings, p)
}

// sorted returns the samples ordered by entity ID.
func (c *collectingSink) sorted() probeReport {
	c.mu.Lock()
	defer c.mu.Unlock()

	r := probeReport{
		Pings:    append([]models.PingSample{}, c.report.Pings...),
		Statuses: append([]models.StatusSample{}, c.report.Statuses...),
	}
	sort.Slice(r.Pings, func(i, j int) bool { return r.Pings[i].HostID < r.Pings[j].HostID })
	sort.Slice(r.Statuses, func(i, j int) bool { return r.Statuses[i].ServerID < r.Statuses[j].ServerID })
	return r
}

func probeOnce(ctx context.Context, a *app, pinger prober.Pinger) probeReport {
	sink := &collectingSink{}
	probe := prober.New(a.cfg.Poll.ProbeTimeoutDuration(), pinger, logger.Component(a.log, "prober"))
	sched := scheduler.New(a.fleet, probe, sink,
		a.cfg.Poll.IntervalDuration(), a.cfg.Poll.ProbationDuration(),
		logger.Component(a.log, "scheduler"))

	sched.PollCycle(ctx)
	sched.Wait()
	return sink.sorted()
}
