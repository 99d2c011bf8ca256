package status

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/tinyland-inc/hostbridge/cmd/hostbridge/internal"
	"github.com/tinyland-inc/hostbridge/pkg/daemon"
)

func NewStatusCommand() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:     "status",
		Aliases: []string{"s"},
		Short:   "Show the running daemon's counters",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := internal.LoadConfig()
			if err != nil {
				return fmt.Errorf("error loading config: %w", err)
			}
			snap, err := daemon.ReadStatus(cfg.StatusPath())
			if errors.Is(err, os.ErrNotExist) {
				return fmt.Errorf("no status at %s: is the daemon running?", cfg.StatusPath())
			}
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(snap)
			}
			printStatus(cmd.OutOrStdout(), snap, time.Now())
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the raw status snapshot")

	return cmd
}

func printStatus(w io.Writer, snap daemon.Snapshot, now time.Time) {
	fmt.Fprintf(w, "Daemon pid %d, up %s (updated %s ago)\n",
		snap.PID,
		now.Sub(snap.StartedAt).Truncate(time.Second),
		now.Sub(snap.UpdatedAt).Truncate(time.Second))
	fmt.Fprintf(w, "Queue: %d pending, %d in flight\n", snap.Pending, snap.InFlight)

	names := make([]string, 0, len(snap.Services))
	for name := range snap.Services {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		m := snap.Services[name]
		fmt.Fprintf(w, "  %-8s dispatched=%d success=%d error=%d timeout=%d avg=%.1fms\n",
			name, m.Dispatched, m.Success, m.Errors, m.Timeouts, m.AverageLatencyMS())
	}
}
