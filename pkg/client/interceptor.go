package client

import (
	"context"
	"errors"
	"maps"
	"time"

	"github.com/tinyland-inc/hostbridge/pkg/logger"
	"github.com/tinyland-inc/hostbridge/pkg/model"
	"github.com/tinyland-inc/hostbridge/pkg/pathmap"
)

// Call is one outgoing request. Wait is false for fire-and-forget
// calls, whose invokers return a nil response.
type Call struct {
	Request *model.Request
	Wait    bool
}

// Invoker performs a call.
type Invoker func(ctx context.Context, call *Call) (*model.Response, error)

// Interceptor wraps an Invoker. It may inspect or replace the call
// before passing it to next, and inspect the result afterwards.
type Interceptor func(ctx context.Context, call *Call, next Invoker) (*model.Response, error)

func chain(interceptors []Interceptor, final Invoker) Invoker {
	invoke := final
	for i := len(interceptors) - 1; i >= 0; i-- {
		ic, next := interceptors[i], invoke
		invoke = func(ctx context.Context, call *Call) (*model.Response, error) {
			return ic(ctx, call, next)
		}
	}
	return invoke
}

// LoggingInterceptor logs every call with its outcome and latency.
func LoggingInterceptor() Interceptor {
	return func(ctx context.Context, call *Call, next Invoker) (*model.Response, error) {
		start := time.Now()
		resp, err := next(ctx, call)

		fields := map[string]any{
			"id":       call.Request.ID,
			"service":  string(call.Request.Service),
			"action":   call.Request.Action,
			"priority": string(call.Request.EffectivePriority()),
			"wait":     call.Wait,
			"latency":  time.Since(start).String(),
		}
		if resp != nil {
			fields["status"] = string(resp.Status)
		}
		switch {
		case errors.Is(err, ErrTimeout):
			logger.WarnCF("client", "Bridge call timed out", fields)
		case err != nil:
			fields["error"] = err.Error()
			logger.ErrorCF("client", "Bridge call failed", fields)
		default:
			logger.DebugCF("client", "Bridge call finished", fields)
		}
		return resp, err
	}
}

// PathTranslationInterceptor rewrites the "path" payload field from a
// sandbox path to the host path before the request is written. The
// caller's payload map is not modified.
func PathTranslationInterceptor(t pathmap.Translator) Interceptor {
	return func(ctx context.Context, call *Call, next Invoker) (*model.Response, error) {
		p, ok := call.Request.Payload["path"].(string)
		if !ok {
			return next(ctx, call)
		}
		translated := t.Translate(p)
		if translated == p {
			return next(ctx, call)
		}

		req := *call.Request
		req.Payload = maps.Clone(call.Request.Payload)
		req.Payload["path"] = translated
		return next(ctx, &Call{Request: &req, Wait: call.Wait})
	}
}
