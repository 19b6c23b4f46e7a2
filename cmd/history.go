package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/angeloszaimis/fleet-watcher/internal/history"
	"github.com/angeloszaimis/fleet-watcher/internal/models"
)

var (
	historyServer string
	historyLimit  int
	historyBefore string
	historyKind   string
)

func init() {
	historyCmd.Flags().StringVarP(&historyServer, "server", "s", "", "server or host ID")
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "maximum number of samples")
	historyCmd.Flags().StringVar(&historyBefore, "before", "", "only samples before this RFC3339 time")
	historyCmd.Flags().StringVar(&historyKind, "kind", "", "only samples of this kind (status or ping)")
	rootCmd.AddCommand(historyCmd)
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Print stored samples for one server, newest first",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if historyServer == "" {
			return errors.New("--server is required")
		}

		opts := history.QueryOptions{Limit: historyLimit, Kind: models.SampleKind(historyKind)}
		if opts.Kind != "" && opts.Kind != models.KindStatus && opts.Kind != models.KindPing {
			return fmt.Errorf("unknown kind %q", historyKind)
		}
		if historyBefore != "" {
			before, err := time.Parse(time.RFC3339, historyBefore)
			if err != nil {
				return err
			}
			opts.Before = &before
		}

		a, err := setup(cmd.Context(), os.Stderr)
		if err != nil {
			return err
		}

		store, err := history.Open(cmd.Context(), a.cfg.Store)
		if err != nil {
			return err
		}
		defer store.Close()

		recs, err := store.Query(cmd.Context(), historyServer, opts)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), recs)
	},
}
