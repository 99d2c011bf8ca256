package daemon

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/tinyland-inc/hostbridge/pkg/bus"
	"github.com/tinyland-inc/hostbridge/pkg/model"
)

// ServiceMeter tracks per-service request outcomes.
type ServiceMeter struct {
	Service        string    `json:"service"`
	Dispatched     int64     `json:"dispatched"`
	Success        int64     `json:"success"`
	Errors         int64     `json:"errors"`
	Timeouts       int64     `json:"timeouts"`
	TotalLatencyMS float64   `json:"total_latency_ms"`
	LastActivity   time.Time `json:"last_activity,omitzero"`
}

// Answered is the number of responses written for the service.
func (m ServiceMeter) Answered() int64 { return m.Success + m.Errors + m.Timeouts }

// AverageLatencyMS is the mean handling time of answered requests.
func (m ServiceMeter) AverageLatencyMS() float64 {
	if n := m.Answered(); n > 0 {
		return m.TotalLatencyMS / float64(n)
	}
	return 0
}

// Snapshot is a point-in-time copy of the daemon's counters. It is also
// the format of the status file.
type Snapshot struct {
	PID       int                     `json:"pid,omitempty"`
	StartedAt time.Time               `json:"started_at"`
	UpdatedAt time.Time               `json:"updated_at"`
	Pending   int                     `json:"pending"`
	InFlight  int                     `json:"in_flight"`
	Services  map[string]ServiceMeter `json:"services"`
}

// Stats aggregates completions per service.
type Stats struct {
	mu       sync.RWMutex
	started  time.Time
	pending  int
	inFlight int
	meters   map[string]*ServiceMeter
}

func NewStats(started time.Time) *Stats {
	return &Stats{
		started: started,
		meters:  make(map[string]*ServiceMeter),
	}
}

func (s *Stats) meter(service model.Service) *ServiceMeter {
	name := string(service)
	if name == "" {
		name = "unknown"
	}
	m, ok := s.meters[name]
	if !ok {
		m = &ServiceMeter{Service: name}
		s.meters[name] = m
	}
	return m
}

// Dispatched counts a request handed to a worker.
func (s *Stats) Dispatched(service model.Service) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.meter(service).Dispatched++
}

// Record adds a completion to its service's meter.
func (s *Stats) Record(c bus.Completion) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m := s.meter(c.Service)
	switch c.Status {
	case model.StatusSuccess:
		m.Success++
	case model.StatusTimeout:
		m.Timeouts++
	default:
		m.Errors++
	}
	m.TotalLatencyMS += float64(c.Latency) / float64(time.Millisecond)
	m.LastActivity = time.Now()
}

// SetQueue updates the pending and in-flight gauges.
func (s *Stats) SetQueue(pending, inFlight int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = pending
	s.inFlight = inFlight
}

func (s *Stats) Snapshot(now time.Time) Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	services := make(map[string]ServiceMeter, len(s.meters))
	for name, m := range s.meters {
		services[name] = *m
	}
	return Snapshot{
		StartedAt: s.started,
		UpdatedAt: now,
		Pending:   s.pending,
		InFlight:  s.inFlight,
		Services:  services,
	}
}

// WriteStatus atomically replaces the status file at path.
func WriteStatus(path string, snap Snapshot) error {
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding status: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating status directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("creating status file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		return fmt.Errorf("writing status file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing status file: %w", err)
	}
	return os.Rename(tmp.Name(), path)
}

// ReadStatus loads a status file written by WriteStatus.
func ReadStatus(path string) (Snapshot, error) {
	var snap Snapshot
	data, err := os.ReadFile(path)
	if err != nil {
		return snap, err
	}
	if err := json.Unmarshal(data, &snap); err != nil {
		return snap, fmt.Errorf("parsing status file %s: %w", path, err)
	}
	return snap, nil
}
