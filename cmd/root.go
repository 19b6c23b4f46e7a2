package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/angeloszaimis/fleet-watcher/config"
	"github.com/angeloszaimis/fleet-watcher/internal/inventory"
	"github.com/angeloszaimis/fleet-watcher/pkg/logger"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "fleet-watcher",
	Short: "Uptime watcher for a fleet of status-reporting servers",
	Long: `fleet-watcher polls every configured server's status endpoint and pings
its host, keeps the history, and notifies people when a server goes down
or comes back.

Running without a subcommand is the same as "serve".`,
	RunE:         runServe,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (default ./config/config.yaml)")
}

type app struct {
	cfg   *config.Config
	log   *slog.Logger
	fleet *inventory.Inventory
}

// setup loads configuration, builds the logger writing to w, and resolves
// the inventory.
func setup(ctx context.Context, w io.Writer) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	log := logger.NewWithWriter(w, cfg.Logging.Level, true, cfg.Server.Environment)

	fleet, err := buildInventory(ctx, cfg, log)
	if err != nil {
		log.Error("Failed to build inventory", slog.Any("err", err))
		return nil, err
	}

	return &app{cfg: cfg, log: log, fleet: fleet}, nil
}

func buildInventory(ctx context.Context, cfg *config.Config, log *slog.Logger) (*inventory.Inventory, error) {
	var (
		inv *inventory.Inventory
		err error
	)

	switch cfg.Inventory.Source {
	case config.SourceConsul:
		catalog, cerr := inventory.NewConsulCatalog(cfg.Inventory.ConsulAddr)
		if cerr != nil {
			return nil, cerr
		}
		inv, err = inventory.FromCatalog(ctx, catalog, cfg.Inventory.ConsulTag, cfg.Inventory.StatusPath)
	case config.SourceStatic, "":
		inv, err = inventory.New(cfg.Hosts, cfg.Inventory.StatusPath)
	default:
		return nil, fmt.Errorf("unknown inventory source %q", cfg.Inventory.Source)
	}
	if err != nil {
		return nil, err
	}

	log.Info("Inventory loaded",
		slog.String("source", cfg.Inventory.Source),
		slog.Int("hosts", len(inv.Hosts())),
		slog.Int("servers", len(inv.Servers())))
	return inv, nil
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
