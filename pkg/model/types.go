// Package model defines the request and response records exchanged
// between the sandbox-side client and the host-side daemon.
package model

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Service names a category of host capability.
type Service string

const (
	ServiceVSCode Service = "vscode"
	ServiceAudio  Service = "audio"
	ServiceSpeech Service = "speech"
)

// KnownServices lists the services the bridge ships handlers for.
var KnownServices = []Service{ServiceVSCode, ServiceAudio, ServiceSpeech}

// Known reports whether s is one of KnownServices.
func (s Service) Known() bool {
	for _, known := range KnownServices {
		if s == known {
			return true
		}
	}
	return false
}

// Priority orders pending requests. Higher priority is dequeued first.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityNormal Priority = "normal"
	PriorityLow    Priority = "low"
)

// Valid reports whether p is one of the three tiers.
func (p Priority) Valid() bool {
	switch p {
	case PriorityHigh, PriorityNormal, PriorityLow:
		return true
	}
	return false
}

// Rank returns 0 for high, 1 for normal, 2 for low. Anything else ranks
// as normal.
func (p Priority) Rank() int {
	switch p {
	case PriorityHigh:
		return 0
	case PriorityLow:
		return 2
	default:
		return 1
	}
}

// ParsePriority accepts "high", "normal", "low" and the empty string
// (normal).
func ParsePriority(s string) (Priority, error) {
	if s == "" {
		return PriorityNormal, nil
	}
	p := Priority(s)
	if !p.Valid() {
		return "", fmt.Errorf("invalid priority %q (want high, normal or low)", s)
	}
	return p, nil
}

// Status is the outcome carried by a Response.
type Status string

const (
	StatusSuccess Status = "success"
	StatusError   Status = "error"
	StatusTimeout Status = "timeout"
)

func (s Status) Valid() bool {
	switch s {
	case StatusSuccess, StatusError, StatusTimeout:
		return true
	}
	return false
}

// Request is written once by the client and read by the daemon.
type Request struct {
	ID        string         `json:"id"`
	Service   Service        `json:"service"`
	Action    string         `json:"action"`
	Timestamp time.Time      `json:"timestamp"`
	Payload   map[string]any `json:"payload"`
	Timeout   int64          `json:"timeout"` // milliseconds
	Priority  Priority       `json:"priority"`
}

// NewID returns a fresh request id. UUIDv7 ids sort in creation order.
func NewID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// NewRequest builds a request stamped with now and a fresh id.
func NewRequest(service Service, action string, payload map[string]any, timeout time.Duration, priority Priority, now time.Time) *Request {
	if payload == nil {
		payload = map[string]any{}
	}
	if priority == "" {
		priority = PriorityNormal
	}
	return &Request{
		ID:        NewID(),
		Service:   service,
		Action:    action,
		Timestamp: now.UTC(),
		Payload:   payload,
		Timeout:   timeout.Milliseconds(),
		Priority:  priority,
	}
}

// TimeoutDuration returns Timeout as a time.Duration.
func (r *Request) TimeoutDuration() time.Duration {
	return time.Duration(r.Timeout) * time.Millisecond
}

// Deadline is the instant after which nobody is waiting for the result.
// The zero time means no deadline.
func (r *Request) Deadline() time.Time {
	if r.Timeout <= 0 {
		return time.Time{}
	}
	return r.Timestamp.Add(r.TimeoutDuration())
}

// Expired reports whether now is at or past the request's deadline.
func (r *Request) Expired(now time.Time) bool {
	if r.Timeout <= 0 {
		return false
	}
	return now.Sub(r.Timestamp) >= r.TimeoutDuration()
}

// EffectivePriority returns Priority, defaulting to normal.
func (r *Request) EffectivePriority() Priority {
	if r.Priority == "" {
		return PriorityNormal
	}
	return r.Priority
}

// Kind returns the (service, action) pair of the request.
func (r *Request) Kind() Kind {
	return Kind{Service: r.Service, Action: r.Action}
}

// Validate checks the structural fields of a request. It does not check
// that the service is registered; the daemon answers unknown services
// with an error response instead.
func (r *Request) Validate() error {
	if err := ValidateID(r.ID); err != nil {
		return err
	}
	if r.Service == "" {
		return errors.New("service is required")
	}
	if r.Action == "" {
		return errors.New("action is required")
	}
	if r.Timestamp.IsZero() {
		return errors.New("timestamp is required")
	}
	if r.Timeout < 0 {
		return fmt.Errorf("timeout must not be negative, got %d", r.Timeout)
	}
	if r.Priority != "" && !r.Priority.Valid() {
		return fmt.Errorf("invalid priority %q", r.Priority)
	}
	return nil
}

// Response is written once by the daemon, keyed by the request id.
type Response struct {
	ID        string         `json:"id"`
	Status    Status         `json:"status"`
	Message   string         `json:"message"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data,omitempty"`
}

// Validate checks that a response can be correlated and reported.
func (r *Response) Validate() error {
	if err := ValidateID(r.ID); err != nil {
		return err
	}
	if !r.Status.Valid() {
		return fmt.Errorf("invalid status %q", r.Status)
	}
	if r.Message == "" {
		return errors.New("message is required")
	}
	return nil
}

// OK reports whether the response carries a success status.
func (r *Response) OK() bool { return r.Status == StatusSuccess }

func newResponse(id string, status Status, message string, now time.Time) *Response {
	return &Response{ID: id, Status: status, Message: message, Timestamp: now.UTC()}
}

// SuccessResponse answers id with a success status.
func SuccessResponse(id, message string, data map[string]any, now time.Time) *Response {
	resp := newResponse(id, StatusSuccess, message, now)
	resp.Data = data
	return resp
}

// ErrorResponse answers id with an error status.
func ErrorResponse(id, message string, now time.Time) *Response {
	return newResponse(id, StatusError, message, now)
}

// TimeoutResponse answers id with a timeout status.
func TimeoutResponse(id, message string, now time.Time) *Response {
	return newResponse(id, StatusTimeout, message, now)
}
