package daemon

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/tinyland-inc/hostbridge/pkg/bus"
	"github.com/tinyland-inc/hostbridge/pkg/logger"
	"github.com/tinyland-inc/hostbridge/pkg/model"
	"github.com/tinyland-inc/hostbridge/pkg/store"
)

// Marker is written to the dispatched channel just before a handler
// runs, overwritten with the answered state once the response is
// stored, and removed with the request. A marker that survives a
// restart identifies a request whose handler may have run.
type Marker struct {
	ID           string        `json:"id"`
	State        MarkerState   `json:"state,omitempty"`
	Service      model.Service `json:"service,omitempty"`
	Action       string        `json:"action,omitempty"`
	DispatchedAt time.Time     `json:"dispatched_at,omitzero"`
	AnsweredAt   time.Time     `json:"answered_at,omitzero"`
	PID          int           `json:"pid"`
}

type MarkerState string

const (
	MarkerDispatched MarkerState = "dispatched"
	// MarkerAnswered means the response was stored. The client may
	// already have consumed it, so its absence proves nothing.
	MarkerAnswered MarkerState = "answered"
)

const interruptedMessage = "interrupted by daemon restart"

func (d *Daemon) markDispatched(ctx context.Context, req *model.Request) error {
	data, err := d.codec.Marshal(Marker{
		ID:           req.ID,
		State:        MarkerDispatched,
		Service:      req.Service,
		Action:       req.Action,
		DispatchedAt: d.clock.Now().UTC(),
		PID:          os.Getpid(),
	})
	if err != nil {
		return fmt.Errorf("encoding marker %s: %w", req.ID, err)
	}
	if err := d.store.Put(ctx, store.Dispatched, req.ID, data); err != nil {
		return fmt.Errorf("writing marker %s: %w", req.ID, err)
	}
	return nil
}

// markAnswered records that id has a stored response, so a restart
// before the request is removed never answers it twice.
func (d *Daemon) markAnswered(ctx context.Context, id string, service model.Service) error {
	data, err := d.codec.Marshal(Marker{
		ID:         id,
		State:      MarkerAnswered,
		Service:    service,
		AnsweredAt: d.clock.Now().UTC(),
		PID:        os.Getpid(),
	})
	if err != nil {
		return fmt.Errorf("encoding marker %s: %w", id, err)
	}
	if err := d.store.Put(ctx, store.Dispatched, id, data); err != nil {
		return fmt.Errorf("writing marker %s: %w", id, err)
	}
	return nil
}

// loadMarker decodes a marker. An unreadable marker is treated as a
// plain dispatch record.
func (d *Daemon) loadMarker(ctx context.Context, id string) (Marker, error) {
	marker := Marker{ID: id, State: MarkerDispatched}
	data, err := d.store.Get(ctx, store.Dispatched, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return marker, nil
		}
		return marker, fmt.Errorf("reading marker %s: %w", id, err)
	}
	if err := d.codec.Unmarshal(data, &marker); err != nil {
		logger.WarnCF("daemon", "Unreadable dispatch marker", map[string]any{"id": id, "error": err.Error()})
		return Marker{ID: id, State: MarkerDispatched}, nil
	}
	if marker.State == "" {
		marker.State = MarkerDispatched
	}
	return marker, nil
}

// Recover settles every request a previous daemon left marked as
// dispatched:
//
//   - already answered (response present or marker in the answered
//     state): the request and marker are removed, nothing runs
//   - idempotent service: the marker is removed and the request is
//     scheduled again by the next scan
//   - anything else: answered with an error, since its handler may have
//     had side effects
//
// Run calls Recover before serving. It returns how many markers it
// settled.
func (d *Daemon) Recover(ctx context.Context) (int, error) {
	markers, err := d.store.List(ctx, store.Dispatched)
	if err != nil {
		return 0, fmt.Errorf("listing markers: %w", err)
	}

	settled := 0
	for _, m := range markers {
		id := m.Key
		marker, err := d.loadMarker(ctx, id)
		if err != nil {
			return settled, err
		}
		answered := marker.State == MarkerAnswered
		if !answered {
			if answered, err = d.exists(ctx, store.Responses, id); err != nil {
				return settled, err
			}
		}
		data, err := d.store.Get(ctx, store.Requests, id)
		pending := err == nil
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return settled, fmt.Errorf("reading request %s: %w", id, err)
		}
		service := marker.Service
		if service == "" && pending {
			service = d.requestService(data)
		}

		switch {
		case answered:
			logger.InfoCF("daemon", "Request was answered before restart", map[string]any{"id": id})
			d.clear(ctx, id)
		case !pending:
			if err := d.store.Delete(ctx, store.Dispatched, id); err != nil {
				return settled, fmt.Errorf("removing marker %s: %w", id, err)
			}
		case d.registry.Idempotent(service):
			logger.InfoCF("daemon", "Re-running interrupted request", map[string]any{"id": id})
			if err := d.store.Delete(ctx, store.Dispatched, id); err != nil {
				return settled, fmt.Errorf("removing marker %s: %w", id, err)
			}
			d.recovered[id] = true
		default:
			logger.WarnCF("daemon", "Request interrupted by restart", map[string]any{"id": id})
			if err := d.finish(ctx, id, service, model.ErrorResponse(id, interruptedMessage, d.clock.Now())); err != nil {
				return settled, err
			}
			d.stats.Record(bus.Completion{RequestID: id, Service: service, Status: model.StatusError})
		}
		settled++
	}

	if settled > 0 {
		logger.InfoCF("daemon", "Recovery complete", map[string]any{"markers": settled})
	}
	return settled, nil
}

// requestService reads the service from a request record written before
// markers carried it. Undecodable records yield "".
func (d *Daemon) requestService(data []byte) model.Service {
	var req model.Request
	if err := d.codec.Unmarshal(data, &req); err != nil {
		return ""
	}
	return req.Service
}

func (d *Daemon) exists(ctx context.Context, kind store.Kind, id string) (bool, error) {
	_, err := d.store.Get(ctx, kind, id)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	return false, fmt.Errorf("reading %s/%s: %w", kind, id, err)
}
