package daemon

import (
	"errors"
	"fmt"

	"github.com/tinyland-inc/hostbridge/pkg/model"
)

// ErrFatalIO matches the error Run returns when the store keeps failing.
var ErrFatalIO = errors.New("record store unavailable")

// HandlerError wraps a failure inside a service handler, including a
// recovered panic.
type HandlerError struct {
	Service model.Service
	Action  string
	Err     error
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("%s.%s failed: %v", e.Service, e.Action, e.Err)
}

func (e *HandlerError) Unwrap() error { return e.Err }

// UnknownServiceError is reported for requests naming a service nobody
// registered.
type UnknownServiceError struct {
	Service model.Service
}

func (e *UnknownServiceError) Error() string {
	return fmt.Sprintf("unknown service %q", string(e.Service))
}

// DisabledServiceError is reported for a registered service turned off
// in configuration.
type DisabledServiceError struct {
	Service model.Service
}

func (e *DisabledServiceError) Error() string {
	return fmt.Sprintf("service %q is disabled", string(e.Service))
}

// FatalIOError ends Run after too many consecutive store failures. A
// supervisor is expected to restart the daemon.
type FatalIOError struct {
	Failures int
	Err      error
}

func (e *FatalIOError) Error() string {
	return fmt.Sprintf("giving up after %d consecutive store failures: %v", e.Failures, e.Err)
}

func (e *FatalIOError) Unwrap() error { return e.Err }

func (e *FatalIOError) Is(target error) bool { return target == ErrFatalIO }
