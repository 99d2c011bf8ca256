package daemon

import (
	"context"
	"fmt"
	"time"

	"github.com/adhocore/gronx"

	"github.com/tinyland-inc/hostbridge/pkg/logger"
	"github.com/tinyland-inc/hostbridge/pkg/store"
)

// PruneResult counts what a prune pass removed.
type PruneResult struct {
	Responses int
	Markers   int
}

func (d *Daemon) scheduleNextPrune(after time.Time) {
	if d.pruneSchedule == "" {
		d.nextPrune = time.Time{}
		return
	}
	next, err := gronx.NextTickAfter(d.pruneSchedule, after, false)
	if err != nil {
		logger.WarnCF("daemon", "Cannot compute next prune time, pruning disabled", map[string]any{
			"schedule": d.pruneSchedule,
			"error":    err.Error(),
		})
		d.pruneSchedule = ""
		d.nextPrune = time.Time{}
		return
	}
	d.nextPrune = next
}

func (d *Daemon) maybePrune(ctx context.Context) {
	if d.nextPrune.IsZero() {
		return
	}
	now := d.clock.Now()
	if now.Before(d.nextPrune) {
		return
	}
	d.scheduleNextPrune(now)

	result, err := d.prune(ctx)
	if err != nil {
		logger.WarnCF("daemon", "Prune failed", map[string]any{"error": err.Error()})
		return
	}
	if result.Responses > 0 || result.Markers > 0 {
		logger.InfoCF("daemon", "Pruned stale records", map[string]any{
			"responses": result.Responses,
			"markers":   result.Markers,
		})
	}
}

// prune removes responses nobody collected within the response TTL and
// markers whose request is gone. It also forgets finished ids whose
// request record no longer exists.
func (d *Daemon) prune(ctx context.Context) (PruneResult, error) {
	var result PruneResult
	now := d.clock.Now()

	if d.responseTTL > 0 {
		responses, err := d.store.List(ctx, store.Responses)
		if err != nil {
			return result, fmt.Errorf("listing responses: %w", err)
		}
		for _, e := range responses {
			if now.Sub(e.ModTime) <= d.responseTTL {
				continue
			}
			if err := d.store.Delete(ctx, store.Responses, e.Key); err != nil {
				return result, fmt.Errorf("removing response %s: %w", e.Key, err)
			}
			result.Responses++
		}
	}

	requests, err := d.store.List(ctx, store.Requests)
	if err != nil {
		return result, fmt.Errorf("listing requests: %w", err)
	}
	pending := make(map[string]bool, len(requests))
	for _, e := range requests {
		pending[e.Key] = true
	}

	markers, err := d.store.List(ctx, store.Dispatched)
	if err != nil {
		return result, fmt.Errorf("listing markers: %w", err)
	}
	for _, e := range markers {
		if pending[e.Key] || d.seen[e.Key] {
			continue
		}
		if err := d.store.Delete(ctx, store.Dispatched, e.Key); err != nil {
			return result, fmt.Errorf("removing marker %s: %w", e.Key, err)
		}
		result.Markers++
	}

	for id, inFlight := range d.seen {
		if !inFlight && !pending[id] {
			delete(d.seen, id)
		}
	}
	return result, nil
}
