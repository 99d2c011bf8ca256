// Package daemon is the host side of the bridge. It watches the request
// channel of a record store, runs each request through the handler
// registered for its service, and writes exactly one response per
// request id.
//
// One scheduling goroutine lists pending requests, orders them by
// priority then arrival, and hands them to a fixed pool of workers over
// a bus.WorkBus. It only hands out as many requests as there are idle
// workers, so a high-priority request that arrives while the pool is
// busy is picked before older low-priority ones.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/adhocore/gronx"

	"github.com/tinyland-inc/hostbridge/pkg/bus"
	"github.com/tinyland-inc/hostbridge/pkg/clock"
	"github.com/tinyland-inc/hostbridge/pkg/codec"
	"github.com/tinyland-inc/hostbridge/pkg/logger"
	"github.com/tinyland-inc/hostbridge/pkg/model"
	"github.com/tinyland-inc/hostbridge/pkg/store"
)

const (
	DefaultPollInterval  = 100 * time.Millisecond
	DefaultWorkers       = 4
	DefaultResponseTTL   = 10 * time.Minute
	DefaultPruneSchedule = "*/5 * * * *"
	DefaultMaxIOFailures = 10

	statusInterval = time.Second
	maxBackoff     = 5 * time.Second
)

// Daemon consumes requests from a store. Run and Scan must not be used
// at the same time on one Daemon, and only one daemon may consume a
// store (see AcquireLock).
type Daemon struct {
	store    store.Store
	registry *Registry
	codec    codec.Codec
	clock    clock.Clock
	stats    *Stats

	pollInterval  time.Duration
	workers       int
	responseTTL   time.Duration
	pruneSchedule string
	statusPath    string
	maxIOFailures int

	// Owned by the scheduling goroutine.
	seen       map[string]bool // request id -> still in flight
	recovered  map[string]bool
	inflight   int
	nextPrune  time.Time
	lastStatus time.Time
}

type Option func(*Daemon)

func WithPollInterval(d time.Duration) Option {
	return func(dm *Daemon) {
		if d > 0 {
			dm.pollInterval = d
		}
	}
}

// WithWorkers sets how many requests run at once.
func WithWorkers(n int) Option {
	return func(dm *Daemon) {
		if n > 0 {
			dm.workers = n
		}
	}
}

func WithClock(c clock.Clock) Option {
	return func(dm *Daemon) { dm.clock = c }
}

// WithCodec must match the codec clients write with.
func WithCodec(c codec.Codec) Option {
	return func(dm *Daemon) { dm.codec = c }
}

// WithPruneSchedule sets the cron expression for removing unclaimed
// responses and orphaned markers. An empty expression disables pruning.
func WithPruneSchedule(expr string) Option {
	return func(dm *Daemon) { dm.pruneSchedule = expr }
}

// WithResponseTTL sets how long an unclaimed response is kept.
func WithResponseTTL(d time.Duration) Option {
	return func(dm *Daemon) { dm.responseTTL = d }
}

// WithStatusPath makes Run write a status snapshot to path.
func WithStatusPath(path string) Option {
	return func(dm *Daemon) { dm.statusPath = path }
}

// WithMaxIOFailures sets how many consecutive store failures Run
// tolerates before returning a *FatalIOError.
func WithMaxIOFailures(n int) Option {
	return func(dm *Daemon) {
		if n > 0 {
			dm.maxIOFailures = n
		}
	}
}

func New(st store.Store, reg *Registry, opts ...Option) *Daemon {
	d := &Daemon{
		store:         st,
		registry:      reg,
		codec:         codec.JSON,
		clock:         clock.Real(),
		pollInterval:  DefaultPollInterval,
		workers:       DefaultWorkers,
		responseTTL:   DefaultResponseTTL,
		pruneSchedule: DefaultPruneSchedule,
		maxIOFailures: DefaultMaxIOFailures,
		seen:          make(map[string]bool),
		recovered:     make(map[string]bool),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.pruneSchedule != "" && !gronx.New().IsValid(d.pruneSchedule) {
		logger.WarnCF("daemon", "Invalid prune schedule, pruning disabled", map[string]any{
			"schedule": d.pruneSchedule,
		})
		d.pruneSchedule = ""
	}
	d.stats = NewStats(d.clock.Now())
	return d
}

// Stats returns the daemon's current counters.
func (d *Daemon) Stats() Snapshot {
	return d.stats.Snapshot(d.clock.Now())
}

// Run recovers from any previous crash, then serves requests until ctx
// is canceled. In-flight requests are allowed to finish before Run
// returns. It returns a *FatalIOError if the store keeps failing.
func (d *Daemon) Run(ctx context.Context) error {
	logger.InfoCF("daemon", "Daemon starting", map[string]any{
		"workers":        d.workers,
		"poll_interval":  d.pollInterval.String(),
		"codec":          d.codec.Name(),
		"prune_schedule": d.pruneSchedule,
	})

	if err := d.retry(ctx, "recover", func() error {
		_, err := d.Recover(ctx)
		return err
	}); err != nil {
		return err
	}

	wb := bus.NewWorkBus(d.workers)
	var wg sync.WaitGroup
	for i := 0; i < d.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.work(ctx, wb)
		}()
	}

	ticker := d.clock.NewTicker(d.pollInterval)
	defer ticker.Stop()
	d.scheduleNextPrune(d.clock.Now())

	var scanFailures, writeFailures int
	for {
		if _, err := d.dispatch(ctx, wb); err != nil && ctx.Err() == nil {
			scanFailures++
			logger.WarnCF("daemon", "Scan failed", map[string]any{
				"error":    err.Error(),
				"failures": scanFailures,
			})
			if scanFailures >= d.maxIOFailures {
				d.shutdown(wb, &wg)
				return &FatalIOError{Failures: scanFailures, Err: err}
			}
		} else if err == nil {
			scanFailures = 0
		}

		d.maybePrune(ctx)
		d.maybeWriteStatus(false)

		wait := ticker.C
		if scanFailures > 0 {
			wait = d.clock.After(backoff(d.pollInterval, scanFailures))
		}

		select {
		case <-ctx.Done():
			d.shutdown(wb, &wg)
			logger.InfoC("daemon", "Daemon stopped")
			return nil
		case c := <-wb.Completions():
			if err := d.complete(c); err != nil {
				writeFailures++
				if writeFailures >= d.maxIOFailures {
					d.shutdown(wb, &wg)
					return &FatalIOError{Failures: writeFailures, Err: err}
				}
			} else {
				writeFailures = 0
			}
		case <-wait:
		}
	}
}

// Scan answers every pending request inline, in priority order, on the
// calling goroutine. It returns how many requests it handled.
func (d *Daemon) Scan(ctx context.Context) (int, error) {
	jobs, err := d.pending(ctx, nil)
	if err != nil {
		return 0, err
	}
	d.stats.SetQueue(len(jobs), 0)

	handled := 0
	for _, job := range jobs {
		if err := ctx.Err(); err != nil {
			return handled, err
		}
		d.stats.Dispatched(job.Request.Service)
		c := d.execute(ctx, job)
		if c.Err != nil {
			return handled, c.Err
		}
		d.stats.Record(c)
		delete(d.recovered, job.Request.ID)
		handled++
	}
	d.stats.SetQueue(0, 0)
	return handled, nil
}

// dispatch hands pending requests to idle workers, best first.
func (d *Daemon) dispatch(ctx context.Context, wb *bus.WorkBus) (int, error) {
	free := d.workers - d.inflight
	if free <= 0 {
		return 0, nil
	}
	jobs, err := d.pending(ctx, d.seen)
	if err != nil {
		return 0, err
	}

	sent := 0
	for _, job := range jobs {
		if sent == free {
			break
		}
		id := job.Request.ID
		d.seen[id] = true
		d.inflight++
		if err := wb.Dispatch(ctx, job); err != nil {
			delete(d.seen, id)
			d.inflight--
			break
		}
		d.stats.Dispatched(job.Request.Service)
		sent++
	}
	d.stats.SetQueue(len(jobs)-sent, d.inflight)
	return sent, nil
}

// complete records a worker's report. A failed job is forgotten so the
// next scan picks it up again.
func (d *Daemon) complete(c bus.Completion) error {
	d.inflight--
	if c.Err != nil {
		delete(d.seen, c.RequestID)
		logger.ErrorCF("daemon", "Request left pending after store failure", map[string]any{
			"id":    c.RequestID,
			"error": c.Err.Error(),
		})
		return c.Err
	}
	d.seen[c.RequestID] = false
	delete(d.recovered, c.RequestID)
	d.stats.Record(c)
	d.maybeWriteStatus(false)
	return nil
}

func (d *Daemon) work(ctx context.Context, wb *bus.WorkBus) {
	// A request that started runs to completion even during shutdown.
	jobCtx := context.WithoutCancel(ctx)
	for {
		job, ok := wb.ConsumeJob(ctx)
		if !ok {
			return
		}
		c := d.execute(jobCtx, job)
		if err := wb.PublishCompletion(jobCtx, c); err != nil {
			logger.DebugCF("daemon", "Completion dropped during shutdown", map[string]any{"id": c.RequestID})
		}
	}
}

func (d *Daemon) shutdown(wb *bus.WorkBus, wg *sync.WaitGroup) {
	wb.Close()
	wg.Wait()
	for {
		select {
		case c := <-wb.Completions():
			d.complete(c)
		default:
			d.maybeWriteStatus(true)
			return
		}
	}
}

// pending lists, decodes and orders the requests not in skip.
// Malformed records are answered with an error response on the spot.
func (d *Daemon) pending(ctx context.Context, skip map[string]bool) ([]bus.Job, error) {
	entries, err := d.store.List(ctx, store.Requests)
	if err != nil {
		return nil, fmt.Errorf("listing requests: %w", err)
	}

	jobs := make([]bus.Job, 0, len(entries))
	for _, e := range entries {
		if _, ok := skip[e.Key]; ok {
			continue
		}
		req, err := d.load(ctx, e.Key)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if req != nil {
			jobs = append(jobs, bus.Job{Request: req, Queued: e.ModTime, Recovered: d.recovered[req.ID]})
		}
	}

	sortJobs(jobs)
	return jobs, nil
}

// sortJobs orders by priority rank, then timestamp, then id.
func sortJobs(jobs []bus.Job) {
	sort.SliceStable(jobs, func(i, j int) bool {
		a, b := jobs[i].Request, jobs[j].Request
		if ra, rb := a.EffectivePriority().Rank(), b.EffectivePriority().Rank(); ra != rb {
			return ra < rb
		}
		if !a.Timestamp.Equal(b.Timestamp) {
			return a.Timestamp.Before(b.Timestamp)
		}
		return a.ID < b.ID
	})
}

// load reads and validates one request. It returns nil, nil for a
// record it rejected.
func (d *Daemon) load(ctx context.Context, key string) (*model.Request, error) {
	data, err := d.store.Get(ctx, store.Requests, key)
	if err != nil {
		return nil, err
	}

	var req model.Request
	problem := d.codec.Unmarshal(data, &req)
	if problem == nil {
		problem = req.Validate()
	}
	if problem == nil && req.ID != key {
		problem = fmt.Errorf("id %q does not match record key", req.ID)
	}
	if problem == nil {
		return &req, nil
	}

	logger.WarnCF("daemon", "Rejecting malformed request", map[string]any{
		"id":    key,
		"error": problem.Error(),
	})
	resp := model.ErrorResponse(key, "malformed request: "+problem.Error(), d.clock.Now())
	if err := d.finish(ctx, key, req.Service, resp); err != nil {
		return nil, err
	}
	d.stats.Record(bus.Completion{RequestID: key, Service: req.Service, Status: model.StatusError})
	return nil, nil
}

// execute takes one request from pending to answered.
func (d *Daemon) execute(ctx context.Context, job bus.Job) bus.Completion {
	req := job.Request
	start := d.clock.Now()
	c := bus.Completion{RequestID: req.ID, Service: req.Service}

	resp, err := d.respond(ctx, job)
	if err != nil {
		c.Err = err
		return c
	}
	if err := d.finishWithRetry(ctx, req.ID, req.Service, resp); err != nil {
		c.Err = err
		return c
	}

	c.Status = resp.Status
	c.Latency = d.clock.Now().Sub(start)
	logger.InfoCF("daemon", "Request answered", map[string]any{
		"id":        req.ID,
		"service":   string(req.Service),
		"action":    req.Action,
		"status":    string(resp.Status),
		"recovered": job.Recovered,
		"latency":   c.Latency.String(),
	})
	return c
}

// respond produces the response for a request, running its handler
// unless the request is expired or unroutable. An error means nothing
// was executed and the request should be retried.
func (d *Daemon) respond(ctx context.Context, job bus.Job) (*model.Response, error) {
	req := job.Request
	now := d.clock.Now()

	if req.Expired(now) {
		msg := fmt.Sprintf("request expired before execution (timeout %s)", req.TimeoutDuration())
		return model.TimeoutResponse(req.ID, msg, now), nil
	}

	svc, err := d.registry.Lookup(req.Service)
	if err != nil {
		logger.WarnCF("daemon", "Rejecting request", map[string]any{
			"id":      req.ID,
			"service": string(req.Service),
			"error":   err.Error(),
		})
		return model.ErrorResponse(req.ID, err.Error(), now), nil
	}

	payload, err := model.DecodePayload(req.Service, req.Action, req.Payload)
	if err != nil {
		return model.ErrorResponse(req.ID, "invalid payload: "+err.Error(), now), nil
	}

	if err := d.markDispatched(ctx, req); err != nil {
		return nil, err
	}

	result, err := d.invoke(ctx, svc, req, payload)
	done := d.clock.Now()
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return model.TimeoutResponse(req.ID, err.Error(), done), nil
		}
		logger.ErrorCF("daemon", "Handler failed", map[string]any{
			"id":      req.ID,
			"service": string(req.Service),
			"error":   err.Error(),
		})
		return model.ErrorResponse(req.ID, err.Error(), done), nil
	}

	msg := result.Message
	if msg == "" {
		msg = req.Kind().String() + " completed"
	}
	return model.SuccessResponse(req.ID, msg, result.Data, done), nil
}

// invoke runs the handler under the tighter of the service timeout and
// the request's remaining lifetime, turning panics into errors.
func (d *Daemon) invoke(ctx context.Context, svc *Service, req *model.Request, payload model.Payload) (result Result, err error) {
	timeout := svc.Timeout
	if timeout <= 0 {
		timeout = DefaultServiceTimeout
	}
	if deadline := req.Deadline(); !deadline.IsZero() {
		if remaining := deadline.Sub(d.clock.Now()); remaining < timeout {
			timeout = remaining
		}
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			result = Result{}
			err = &HandlerError{Service: req.Service, Action: req.Action, Err: fmt.Errorf("panic: %v", r)}
		}
	}()

	result, err = svc.Handler.Handle(ctx, payload)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) && !errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("%w after %s: %v", context.DeadlineExceeded, timeout, err)
		}
		return Result{}, &HandlerError{Service: req.Service, Action: req.Action, Err: err}
	}
	return result, nil
}

// finish writes the response, flips the marker to answered, then clears
// the request and its marker. ErrExists means someone already answered;
// the first answer stands.
func (d *Daemon) finish(ctx context.Context, id string, service model.Service, resp *model.Response) error {
	data, err := d.codec.Marshal(resp)
	if err != nil {
		resp = model.ErrorResponse(id, "encoding response: "+err.Error(), resp.Timestamp)
		if data, err = d.codec.Marshal(resp); err != nil {
			return fmt.Errorf("encoding response %s: %w", id, err)
		}
	}

	if err := d.store.Create(ctx, store.Responses, id, data); err != nil {
		if !errors.Is(err, store.ErrExists) {
			return fmt.Errorf("writing response %s: %w", id, err)
		}
		logger.DebugCF("daemon", "Response already present", map[string]any{"id": id})
	}
	if err := d.markAnswered(ctx, id, service); err != nil {
		return err
	}

	d.clear(ctx, id)
	return nil
}

// clear removes an answered request and then its marker. The marker
// outlives the request so a restart can tell the request was answered;
// recovery and pruning remove leftovers later.
func (d *Daemon) clear(ctx context.Context, id string) {
	if err := d.store.Delete(ctx, store.Requests, id); err != nil {
		logger.WarnCF("daemon", "Failed to remove answered request", map[string]any{"id": id, "error": err.Error()})
		return
	}
	if err := d.store.Delete(ctx, store.Dispatched, id); err != nil {
		logger.WarnCF("daemon", "Failed to remove dispatch marker", map[string]any{"id": id, "error": err.Error()})
	}
}

// finishWithRetry keeps trying to write a response whose handler has
// already run, since re-running it is not an option.
func (d *Daemon) finishWithRetry(ctx context.Context, id string, service model.Service, resp *model.Response) error {
	var err error
	for attempt := 1; attempt <= d.maxIOFailures; attempt++ {
		if err = d.finish(ctx, id, service, resp); err == nil {
			return nil
		}
		logger.WarnCF("daemon", "Response write failed", map[string]any{
			"id":      id,
			"attempt": attempt,
			"error":   err.Error(),
		})
		if attempt == d.maxIOFailures {
			break
		}
		select {
		case <-ctx.Done():
			return err
		case <-d.clock.After(backoff(d.pollInterval, attempt)):
		}
	}
	return err
}

// retry runs fn until it succeeds, backing off between attempts.
func (d *Daemon) retry(ctx context.Context, op string, fn func() error) error {
	var err error
	for attempt := 1; ; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		logger.WarnCF("daemon", "Store operation failed", map[string]any{
			"op":      op,
			"attempt": attempt,
			"error":   err.Error(),
		})
		if attempt >= d.maxIOFailures {
			return &FatalIOError{Failures: attempt, Err: err}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-d.clock.After(backoff(d.pollInterval, attempt)):
		}
	}
}

// backoff doubles base per failure up to maxBackoff.
func backoff(base time.Duration, failures int) time.Duration {
	if failures < 1 {
		failures = 1
	}
	shift := failures - 1
	if shift > 6 {
		shift = 6
	}
	delay := base << shift
	if delay > maxBackoff {
		delay = maxBackoff
	}
	return delay
}

func (d *Daemon) maybeWriteStatus(force bool) {
	if d.statusPath == "" {
		return
	}
	now := d.clock.Now()
	if !force && now.Sub(d.lastStatus) < statusInterval {
		return
	}
	d.lastStatus = now

	snap := d.stats.Snapshot(now)
	snap.PID = os.Getpid()
	if err := WriteStatus(d.statusPath, snap); err != nil {
		logger.WarnCF("daemon", "Failed to write status file", map[string]any{
			"path":  d.statusPath,
			"error": err.Error(),
		})
	}
}
