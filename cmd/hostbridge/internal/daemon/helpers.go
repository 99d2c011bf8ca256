package daemon

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/tinyland-inc/hostbridge/cmd/hostbridge/internal"
	"github.com/tinyland-inc/hostbridge/pkg/daemon"
	"github.com/tinyland-inc/hostbridge/pkg/logger"
)

func daemonCmd(parent context.Context, debug, once bool) error {
	cfg, err := internal.LoadConfig()
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}
	if debug {
		logger.SetLevel(logger.DEBUG)
		fmt.Println("Debug mode enabled")
	}

	dir := cfg.BridgePath()
	st, cd, err := internal.OpenStore(cfg)
	if err != nil {
		return fmt.Errorf("error opening store: %w", err)
	}
	defer st.Close()

	lock, err := daemon.AcquireLock(dir)
	if err != nil {
		return err
	}
	defer lock.Release()

	reg := internal.NewRegistry(cfg)
	d := daemon.New(st, reg,
		daemon.WithCodec(cd),
		daemon.WithPollInterval(cfg.PollInterval()),
		daemon.WithWorkers(cfg.Workers),
		daemon.WithResponseTTL(cfg.ResponseTTL()),
		daemon.WithPruneSchedule(cfg.PruneSchedule),
		daemon.WithMaxIOFailures(cfg.MaxIOFailures),
		daemon.WithStatusPath(cfg.StatusPath()),
	)

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if once {
		recovered, err := d.Recover(ctx)
		if err != nil {
			return fmt.Errorf("recovery failed: %w", err)
		}
		processed, err := d.Scan(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("Recovered %d, processed %d request(s)\n", recovered, processed)
		return nil
	}

	var enabled []string
	for _, svc := range reg.List() {
		if svc.Enabled {
			enabled = append(enabled, string(svc.Name))
		}
	}
	logger.InfoCF("daemon", "Services registered", map[string]any{
		"bridge_dir": dir,
		"store":      cfg.Store,
		"codec":      cd.Name(),
		"workers":    cfg.Workers,
		"services":   enabled,
	})
	fmt.Printf("Serving %v from %s\n", enabled, dir)
	fmt.Println("Press Ctrl+C to stop")

	err = d.Run(ctx)
	if errors.Is(err, daemon.ErrFatalIO) {
		logger.ErrorCF("daemon", "Record store unavailable, giving up", map[string]any{"error": err.Error()})
		return err
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	fmt.Println("Daemon stopped")
	return nil
}
