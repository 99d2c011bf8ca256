// Package client is the sandbox side of the bridge. A Client writes one
// request record per call and, for blocking calls, polls the response
// channel until the daemon answers or the wait budget runs out.
package client

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tinyland-inc/hostbridge/pkg/clock"
	"github.com/tinyland-inc/hostbridge/pkg/codec"
	"github.com/tinyland-inc/hostbridge/pkg/logger"
	"github.com/tinyland-inc/hostbridge/pkg/model"
	"github.com/tinyland-inc/hostbridge/pkg/store"
)

const (
	DefaultPollInterval = 100 * time.Millisecond
	DefaultTimeout      = 30 * time.Second
)

type Client struct {
	store        store.Store
	codec        codec.Codec
	clock        clock.Clock
	pollInterval time.Duration
	timeout      time.Duration
	priority     model.Priority
	interceptors []Interceptor
	invoke       Invoker
}

type Option func(*Client)

// WithPollInterval sets how often a waiting call checks for its response.
func WithPollInterval(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.pollInterval = d
		}
	}
}

// WithTimeout sets the wait budget used when a call passes zero.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

func WithPriority(p model.Priority) Option {
	return func(c *Client) { c.priority = p }
}

func WithClock(clk clock.Clock) Option {
	return func(c *Client) { c.clock = clk }
}

// WithCodec must match the codec the daemon reads with.
func WithCodec(cd codec.Codec) Option {
	return func(c *Client) { c.codec = cd }
}

// WithInterceptors appends interceptors. The first one registered is
// the outermost.
func WithInterceptors(interceptors ...Interceptor) Option {
	return func(c *Client) { c.interceptors = append(c.interceptors, interceptors...) }
}

func New(st store.Store, opts ...Option) *Client {
	c := &Client{
		store:        st,
		codec:        codec.JSON,
		clock:        clock.Real(),
		pollInterval: DefaultPollInterval,
		timeout:      DefaultTimeout,
		priority:     model.PriorityNormal,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.invoke = chain(c.interceptors, c.roundTrip)
	return c
}

// CallAndWait writes a request and blocks for its response. A response
// with status "error" or "timeout" written by the daemon is returned
// with a nil error. When nobody answers within timeout (zero means the
// client default) or ctx ends first, CallAndWait returns a locally
// built timeout response together with a *TimeoutError. Store failures
// return an *IOError and no response.
func (c *Client) CallAndWait(ctx context.Context, service model.Service, action string, payload map[string]any, timeout time.Duration) (*model.Response, error) {
	if timeout <= 0 {
		timeout = c.timeout
	}
	req := model.NewRequest(service, action, payload, timeout, c.priority, c.clock.Now())
	return c.invoke(ctx, &Call{Request: req, Wait: true})
}

// CallNoWait writes a request and returns its id without reading the
// response channel. The request still carries the client's default
// timeout so the daemon can drop it once it is stale.
func (c *Client) CallNoWait(ctx context.Context, service model.Service, action string, payload map[string]any) (string, error) {
	req := model.NewRequest(service, action, payload, c.timeout, c.priority, c.clock.Now())
	if _, err := c.invoke(ctx, &Call{Request: req}); err != nil {
		return "", err
	}
	return req.ID, nil
}

// Send is CallAndWait for a typed payload.
func (c *Client) Send(ctx context.Context, p model.Payload, timeout time.Duration) (*model.Response, error) {
	k := p.Kind()
	return c.CallAndWait(ctx, k.Service, k.Action, model.EncodePayload(p), timeout)
}

// Post is CallNoWait for a typed payload.
func (c *Client) Post(ctx context.Context, p model.Payload) (string, error) {
	k := p.Kind()
	return c.CallNoWait(ctx, k.Service, k.Action, model.EncodePayload(p))
}

// roundTrip is the innermost invoker: it stores the request and, for
// waiting calls, polls for the answer.
func (c *Client) roundTrip(ctx context.Context, call *Call) (*model.Response, error) {
	req := call.Request
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("invalid request: %w", err)
	}

	data, err := c.codec.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encoding request %s: %w", req.ID, err)
	}
	if err := c.store.Create(ctx, store.Requests, req.ID, data); err != nil {
		return nil, &IOError{Op: "write request", RequestID: req.ID, Err: err}
	}

	if !call.Wait {
		return nil, nil
	}
	return c.await(ctx, req)
}

func (c *Client) await(ctx context.Context, req *model.Request) (*model.Response, error) {
	timeout := req.TimeoutDuration()
	deadline := c.clock.After(timeout)
	ticker := c.clock.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		resp, err := c.collect(ctx, req.ID)
		if err != nil {
			return nil, err
		}
		if resp != nil {
			return resp, nil
		}

		select {
		case <-ticker.C:
		case <-deadline:
			msg := fmt.Sprintf("no response from %s within %s", req.Service, timeout)
			return model.TimeoutResponse(req.ID, msg, c.clock.Now()),
				&TimeoutError{RequestID: req.ID, Service: req.Service, Timeout: timeout}
		case <-ctx.Done():
			return model.TimeoutResponse(req.ID, "stopped waiting: "+ctx.Err().Error(), c.clock.Now()),
				&TimeoutError{RequestID: req.ID, Service: req.Service, Timeout: timeout, Err: ctx.Err()}
		}
	}
}

// collect returns the response for id if one has been written, removing
// it from the store. It returns nil, nil while the daemon is still busy.
func (c *Client) collect(ctx context.Context, id string) (*model.Response, error) {
	// Reads must not be cut short by the caller's context: a canceled
	// wait is reported as a timeout, not a storage failure.
	readCtx := context.WithoutCancel(ctx)

	data, err := c.store.Get(readCtx, store.Responses, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, &IOError{Op: "read response", RequestID: id, Err: err}
	}

	var resp model.Response
	if err := c.codec.Unmarshal(data, &resp); err != nil {
		return nil, &IOError{Op: "decode response", RequestID: id, Err: err}
	}
	if resp.ID != id {
		return nil, &IOError{Op: "decode response", RequestID: id, Err: fmt.Errorf("response carries id %q", resp.ID)}
	}

	if err := c.store.Delete(readCtx, store.Responses, id); err != nil {
		// The answer is already in hand; the daemon prunes leftovers.
		logger.WarnCF("client", "Failed to remove consumed response", map[string]any{
			"id":    id,
			"error": err.Error(),
		})
	}
	return &resp, nil
}
