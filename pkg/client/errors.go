package client

import (
	"errors"
	"fmt"
	"time"

	"github.com/tinyland-inc/hostbridge/pkg/model"
)

var (
	// ErrIO matches any failure to read or write the record store.
	ErrIO = errors.New("bridge storage failure")
	// ErrTimeout matches a call that gave up waiting for its response.
	ErrTimeout = errors.New("bridge call timed out")
)

// IOError reports a record store failure. It is distinct from a
// response with status "error", which the daemon writes when a handler
// fails.
type IOError struct {
	Op        string
	RequestID string
	Err       error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("bridge %s %s: %v", e.Op, e.RequestID, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }

func (e *IOError) Is(target error) bool { return target == ErrIO }

// TimeoutError reports that no response arrived in time. Err holds the
// context error when the caller's context ended the wait.
type TimeoutError struct {
	RequestID string
	Service   model.Service
	Timeout   time.Duration
	Err       error
}

func (e *TimeoutError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s request %s: stopped waiting: %v", e.Service, e.RequestID, e.Err)
	}
	return fmt.Sprintf("%s request %s: no response within %s", e.Service, e.RequestID, e.Timeout)
}

func (e *TimeoutError) Unwrap() error { return e.Err }

func (e *TimeoutError) Is(target error) bool { return target == ErrTimeout }
