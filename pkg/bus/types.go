package bus

import (
	"time"

	"github.com/tinyland-inc/hostbridge/pkg/model"
)

// Job is one request handed from the scheduler to a worker.
type Job struct {
	Request *model.Request `json:"request"`
	// Recovered marks a request re-executed after a daemon restart.
	Recovered bool      `json:"recovered,omitempty"`
	Queued    time.Time `json:"queued"`
}

// Completion reports the outcome of a Job back to the scheduler.
type Completion struct {
	RequestID string        `json:"request_id"`
	Service   model.Service `json:"service"`
	Status    model.Status  `json:"status"`
	Latency   time.Duration `json:"latency"`
	// Err is set when the response could not be stored; the request
	// stays pending and is retried on a later scan.
	Err error `json:"-"`
}
