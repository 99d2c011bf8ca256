package daemon

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/tinyland-inc/hostbridge/pkg/model"
)

// DefaultServiceTimeout bounds a handler whose request carries no
// timeout and whose service sets none.
const DefaultServiceTimeout = 30 * time.Second

// Result is what a handler reports on success.
type Result struct {
	Message string
	Data    map[string]any
}

// Handler performs one request for a service. The context is canceled
// when the request's deadline or the service timeout passes.
type Handler interface {
	Handle(ctx context.Context, payload model.Payload) (Result, error)
}

type HandlerFunc func(ctx context.Context, payload model.Payload) (Result, error)

func (f HandlerFunc) Handle(ctx context.Context, payload model.Payload) (Result, error) {
	return f(ctx, payload)
}

// ServiceOptions control how the daemon runs a service's handler.
type ServiceOptions struct {
	Enabled     bool
	Timeout     time.Duration
	Description string
	// Idempotent handlers are re-run when a restart interrupts them.
	// Others get an error response instead.
	Idempotent bool
}

// Service is a registered handler with its options.
type Service struct {
	Name    model.Service
	Handler Handler
	ServiceOptions
}

// Registry maps service names to handlers. It is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	services map[model.Service]*Service
}

func NewRegistry() *Registry {
	return &Registry{services: make(map[model.Service]*Service)}
}

// Register adds or replaces the handler for name.
func (r *Registry) Register(name model.Service, h Handler, opts ServiceOptions) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.services[name] = &Service{Name: name, Handler: h, ServiceOptions: opts}
}

// Lookup returns the service, an *UnknownServiceError, or a
// *DisabledServiceError.
func (r *Registry) Lookup(name model.Service) (*Service, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	svc, ok := r.services[name]
	if !ok {
		return nil, &UnknownServiceError{Service: name}
	}
	if !svc.Enabled {
		return nil, &DisabledServiceError{Service: name}
	}
	return svc, nil
}

// Idempotent reports whether name is registered as safe to re-run.
func (r *Registry) Idempotent(name model.Service) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	svc, ok := r.services[name]
	return ok && svc.Idempotent
}

// List returns every registered service sorted by name.
func (r *Registry) List() []Service {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]Service, 0, len(r.services))
	for _, svc := range r.services {
		result = append(result, *svc)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result
}
