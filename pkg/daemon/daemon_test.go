package daemon

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinyland-inc/hostbridge/pkg/client"
	"github.com/tinyland-inc/hostbridge/pkg/clock"
	"github.com/tinyland-inc/hostbridge/pkg/codec"
	"github.com/tinyland-inc/hostbridge/pkg/model"
	"github.com/tinyland-inc/hostbridge/pkg/store"
	"github.com/tinyland-inc/hostbridge/pkg/store/filestore"
)

func newStore(t *testing.T) store.Store {
	t.Helper()
	st, err := filestore.New(t.TempDir())
	require.NoError(t, err)
	return st
}

func putRequest(t *testing.T, st store.Store, req *model.Request) {
	t.Helper()
	data, err := codec.JSON.Marshal(req)
	require.NoError(t, err)
	require.NoError(t, st.Create(context.Background(), store.Requests, req.ID, data))
}

func getResponse(t *testing.T, st store.Store, id string) *model.Response {
	t.Helper()
	data, err := st.Get(context.Background(), store.Responses, id)
	require.NoError(t, err)
	var resp model.Response
	require.NoError(t, codec.JSON.Unmarshal(data, &resp))
	return &resp
}

func exists(t *testing.T, st store.Store, kind store.Kind, id string) bool {
	t.Helper()
	_, err := st.Get(context.Background(), kind, id)
	if errors.Is(err, store.ErrNotFound) {
		return false
	}
	require.NoError(t, err)
	return true
}

// recorder is a handler that remembers the order it was called in.
type recorder struct {
	mu    sync.Mutex
	calls []string
}

func (r *recorder) handler() Handler {
	return HandlerFunc(func(ctx context.Context, p model.Payload) (Result, error) {
		msg := p.(model.SpeechSay).Message
		r.mu.Lock()
		r.calls = append(r.calls, msg)
		r.mu.Unlock()
		return Result{Message: "said " + msg}, nil
	})
}

func (r *recorder) order() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

func sayRequest(msg string, priority model.Priority, ts time.Time) *model.Request {
	return model.NewRequest(model.ServiceSpeech, model.ActionSay,
		map[string]any{"message": msg}, time.Minute, priority, ts)
}

func enabled() ServiceOptions { return ServiceOptions{Enabled: true} }

// runDaemon starts Run in the background and stops it at test end.
func runDaemon(t *testing.T, d *Daemon) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Error("daemon did not stop")
		}
	})
}

func TestRoundTrip_Success(t *testing.T) {
	st := newStore(t)
	rec := &recorder{}
	reg := NewRegistry()
	reg.Register(model.ServiceSpeech, rec.handler(), enabled())

	runDaemon(t, New(st, reg, WithPollInterval(5*time.Millisecond)))

	c := client.New(st, client.WithPollInterval(5*time.Millisecond))
	resp, err := c.Send(context.Background(), model.SpeechSay{Message: "hello"}, 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, model.StatusSuccess, resp.Status)
	assert.Equal(t, "said hello", resp.Message)
	assert.Equal(t, []string{"hello"}, rec.order())

	// The client consumed the response; the daemon clears the rest.
	assert.False(t, exists(t, st, store.Responses, resp.ID))
	require.Eventually(t, func() bool {
		return !exists(t, st, store.Requests, resp.ID) && !exists(t, st, store.Dispatched, resp.ID)
	}, 5*time.Second, 5*time.Millisecond)
}

func TestScan_PriorityThenArrival(t *testing.T) {
	st := newStore(t)
	rec := &recorder{}
	reg := NewRegistry()
	reg.Register(model.ServiceSpeech, rec.handler(), enabled())

	now := time.Now()
	putRequest(t, st, sayRequest("low", model.PriorityLow, now))
	putRequest(t, st, sayRequest("normal-late", model.PriorityNormal, now.Add(2*time.Millisecond)))
	putRequest(t, st, sayRequest("normal-early", model.PriorityNormal, now.Add(time.Millisecond)))
	putRequest(t, st, sayRequest("high", model.PriorityHigh, now.Add(3*time.Millisecond)))

	d := New(st, reg)
	n, err := d.Scan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.Equal(t, []string{"high", "normal-early", "normal-late", "low"}, rec.order())
}

func TestRun_PriorityWithOneWorker(t *testing.T) {
	st := newStore(t)
	rec := &recorder{}
	reg := NewRegistry()
	reg.Register(model.ServiceSpeech, rec.handler(), enabled())

	now := time.Now()
	low := sayRequest("low", model.PriorityLow, now)
	normal := sayRequest("normal", model.PriorityNormal, now.Add(time.Millisecond))
	high := sayRequest("high", model.PriorityHigh, now.Add(2*time.Millisecond))
	for _, req := range []*model.Request{low, normal, high} {
		putRequest(t, st, req)
	}

	runDaemon(t, New(st, reg, WithWorkers(1), WithPollInterval(5*time.Millisecond)))

	require.Eventually(t, func() bool { return len(rec.order()) == 3 }, 5*time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"high", "normal", "low"}, rec.order())
}

func TestUnknownService_ErrorAndLoopContinues(t *testing.T) {
	st := newStore(t)
	rec := &recorder{}
	reg := NewRegistry()
	reg.Register(model.ServiceSpeech, rec.handler(), enabled())

	runDaemon(t, New(st, reg, WithPollInterval(5*time.Millisecond)))

	c := client.New(st, client.WithPollInterval(5*time.Millisecond))
	resp, err := c.CallAndWait(context.Background(), "bogus", "x", nil, 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, model.StatusError, resp.Status)
	assert.Equal(t, `unknown service "bogus"`, resp.Message)

	resp, err = c.Send(context.Background(), model.SpeechSay{Message: "still alive"}, 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, model.StatusSuccess, resp.Status)
}

func TestDisabledService(t *testing.T) {
	st := newStore(t)
	reg := NewRegistry()
	reg.Register(model.ServiceAudio, HandlerFunc(func(ctx context.Context, p model.Payload) (Result, error) {
		t.Error("disabled handler ran")
		return Result{}, nil
	}), ServiceOptions{Enabled: false})

	req := model.NewRequest(model.ServiceAudio, model.ActionPlay, map[string]any{"sound": "Glass"}, time.Minute, "", time.Now())
	putRequest(t, st, req)

	_, err := New(st, reg).Scan(context.Background())
	require.NoError(t, err)
	resp := getResponse(t, st, req.ID)
	assert.Equal(t, model.StatusError, resp.Status)
	assert.Contains(t, resp.Message, "disabled")
}

func TestHandlerFailureAndPanic(t *testing.T) {
	st := newStore(t)
	reg := NewRegistry()
	reg.Register(model.ServiceSpeech, HandlerFunc(func(ctx context.Context, p model.Payload) (Result, error) {
		if p.(model.SpeechSay).Message == "panic" {
			panic("boom")
		}
		return Result{}, errors.New("exit status 1: no voice")
	}), enabled())

	failing := sayRequest("fail", "", time.Now())
	panicking := sayRequest("panic", "", time.Now().Add(time.Millisecond))
	putRequest(t, st, failing)
	putRequest(t, st, panicking)

	n, err := New(st, reg).Scan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	resp := getResponse(t, st, failing.ID)
	assert.Equal(t, model.StatusError, resp.Status)
	assert.Contains(t, resp.Message, "no voice")

	resp = getResponse(t, st, panicking.ID)
	assert.Equal(t, model.StatusError, resp.Status)
	assert.Contains(t, resp.Message, "panic: boom")
}

func TestInvalidPayload(t *testing.T) {
	st := newStore(t)
	reg := NewRegistry()
	reg.Register(model.ServiceSpeech, (&recorder{}).handler(), enabled())

	req := model.NewRequest(model.ServiceSpeech, model.ActionSay, map[string]any{"voice": "Alex"}, time.Minute, "", time.Now())
	putRequest(t, st, req)

	_, err := New(st, reg).Scan(context.Background())
	require.NoError(t, err)
	resp := getResponse(t, st, req.ID)
	assert.Equal(t, model.StatusError, resp.Status)
	assert.Contains(t, resp.Message, "invalid payload")
}

func TestExpiredRequest_NotExecuted(t *testing.T) {
	st := newStore(t)
	fake := clock.Fake(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	var calls atomic.Int32
	reg := NewRegistry()
	reg.Register(model.ServiceSpeech, HandlerFunc(func(ctx context.Context, p model.Payload) (Result, error) {
		calls.Add(1)
		return Result{}, nil
	}), enabled())

	req := model.NewRequest(model.ServiceSpeech, model.ActionSay, map[string]any{"message": "late"},
		time.Second, "", fake.Now().Add(-10*time.Second))
	putRequest(t, st, req)

	_, err := New(st, reg, WithClock(fake)).Scan(context.Background())
	require.NoError(t, err)

	resp := getResponse(t, st, req.ID)
	assert.Equal(t, model.StatusTimeout, resp.Status)
	assert.Contains(t, resp.Message, "expired before execution")
	assert.Zero(t, calls.Load())
	assert.False(t, exists(t, st, store.Requests, req.ID))
}

func TestSlowHandler_ClientTimesOut(t *testing.T) {
	st := newStore(t)
	reg := NewRegistry()
	reg.Register(model.ServiceSpeech, HandlerFunc(func(ctx context.Context, p model.Payload) (Result, error) {
		time.Sleep(300 * time.Millisecond)
		return Result{Message: "finally"}, nil
	}), enabled())

	runDaemon(t, New(st, reg, WithPollInterval(5*time.Millisecond)))

	c := client.New(st, client.WithPollInterval(5*time.Millisecond))
	resp, err := c.Send(context.Background(), model.SpeechSay{Message: "slow"}, 100*time.Millisecond)
	require.Error(t, err)
	assert.ErrorIs(t, err, client.ErrTimeout)
	assert.Equal(t, model.StatusTimeout, resp.Status)

	// The daemon still answers once the handler returns; nobody collects it.
	require.Eventually(t, func() bool { return exists(t, st, store.Responses, resp.ID) }, 5*time.Second, 5*time.Millisecond)
	assert.Equal(t, "finally", getResponse(t, st, resp.ID).Message)
}

func TestCallNoWait_IsExecuted(t *testing.T) {
	st := newStore(t)
	rec := &recorder{}
	reg := NewRegistry()
	reg.Register(model.ServiceSpeech, rec.handler(), enabled())

	runDaemon(t, New(st, reg, WithPollInterval(5*time.Millisecond)))

	c := client.New(st)
	id, err := c.Post(context.Background(), model.SpeechSay{Message: "fire"})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return exists(t, st, store.Responses, id) }, 5*time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"fire"}, rec.order())
}

func TestMalformedRequest(t *testing.T) {
	st := newStore(t)
	ctx := context.Background()
	require.NoError(t, st.Create(ctx, store.Requests, "garbage", []byte("{not json")))

	mismatched := sayRequest("x", "", time.Now())
	data, err := codec.JSON.Marshal(mismatched)
	require.NoError(t, err)
	require.NoError(t, st.Create(ctx, store.Requests, "other-key", data))

	n, err := New(st, NewRegistry()).Scan(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	for _, key := range []string{"garbage", "other-key"} {
		resp := getResponse(t, st, key)
		assert.Equal(t, model.StatusError, resp.Status)
		assert.Contains(t, resp.Message, "malformed request")
		assert.False(t, exists(t, st, store.Requests, key))
	}
}

func TestResponseAlreadyPresent_FirstAnswerStands(t *testing.T) {
	st := newStore(t)
	reg := NewRegistry()
	reg.Register(model.ServiceSpeech, (&recorder{}).handler(), enabled())

	req := sayRequest("x", "", time.Now())
	putRequest(t, st, req)
	first, err := codec.JSON.Marshal(model.SuccessResponse(req.ID, "first", nil, time.Now()))
	require.NoError(t, err)
	require.NoError(t, st.Create(context.Background(), store.Responses, req.ID, first))

	_, err = New(st, reg).Scan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "first", getResponse(t, st, req.ID).Message)
	assert.False(t, exists(t, st, store.Requests, req.ID))
}

func TestCBORCodec(t *testing.T) {
	st := newStore(t)
	reg := NewRegistry()
	reg.Register(model.ServiceSpeech, (&recorder{}).handler(), enabled())

	runDaemon(t, New(st, reg, WithCodec(codec.CBOR), WithPollInterval(5*time.Millisecond)))

	c := client.New(st, client.WithCodec(codec.CBOR), client.WithPollInterval(5*time.Millisecond))
	resp, err := c.Send(context.Background(), model.SpeechSay{Message: "binary"}, 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, "said binary", resp.Message)
}

// failingStore fails every List call.
type failingStore struct {
	store.Store
	lists atomic.Int32
}

func (f *failingStore) List(ctx context.Context, kind store.Kind) ([]store.Entry, error) {
	if kind == store.Requests {
		f.lists.Add(1)
		return nil, errors.New("input/output error")
	}
	return f.Store.List(ctx, kind)
}

func TestRun_FatalAfterRepeatedStoreFailures(t *testing.T) {
	st := &failingStore{Store: newStore(t)}
	d := New(st, NewRegistry(), WithPollInterval(time.Millisecond), WithMaxIOFailures(3), WithPruneSchedule(""))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := d.Run(ctx)

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrFatalIO)
	var fatal *FatalIOError
	require.ErrorAs(t, err, &fatal)
	assert.Equal(t, 3, fatal.Failures)
	assert.Equal(t, int32(3), st.lists.Load())
}

func TestRun_WritesStatusFile(t *testing.T) {
	st := newStore(t)
	reg := NewRegistry()
	reg.Register(model.ServiceSpeech, (&recorder{}).handler(), enabled())
	statusPath := filepath.Join(t.TempDir(), "status.json")

	d := New(st, reg, WithPollInterval(5*time.Millisecond), WithStatusPath(statusPath))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	c := client.New(st, client.WithPollInterval(5*time.Millisecond))
	_, err := c.Send(context.Background(), model.SpeechSay{Message: "count me"}, 5*time.Second)
	require.NoError(t, err)

	cancel()
	require.NoError(t, <-done)

	snap, err := ReadStatus(statusPath)
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), snap.PID)
	speech := snap.Services[string(model.ServiceSpeech)]
	assert.Equal(t, int64(1), speech.Dispatched)
	assert.Equal(t, int64(1), speech.Success)
	assert.Equal(t, int64(1), d.Stats().Services["speech"].Answered())
}

func TestBackoff(t *testing.T) {
	assert.Equal(t, 100*time.Millisecond, backoff(100*time.Millisecond, 1))
	assert.Equal(t, 400*time.Millisecond, backoff(100*time.Millisecond, 3))
	assert.Equal(t, maxBackoff, backoff(100*time.Millisecond, 50))
}
