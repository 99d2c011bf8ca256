package sqlitestore

import (
	"context"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinyland-inc/hostbridge/pkg/store"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()

	var tick atomic.Int64
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s, err := Open(Config{
		Path:     filepath.Join(t.TempDir(), "bridge.db"),
		PoolSize: 2,
		Now: func() time.Time {
			return base.Add(time.Duration(tick.Add(1)) * time.Millisecond)
		},
	})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpen_RequiresPath(t *testing.T) {
	_, err := Open(Config{})
	assert.Error(t, err)
}

func TestCreate_IsExclusive(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	require.NoError(t, s.Create(ctx, store.Responses, "r1", []byte("first")))
	err := s.Create(ctx, store.Responses, "r1", []byte("second"))
	assert.ErrorIs(t, err, store.ErrExists)

	body, err := s.Get(ctx, store.Responses, "r1")
	require.NoError(t, err)
	assert.Equal(t, "first", string(body))

	// The same key in another kind is independent.
	assert.NoError(t, s.Create(ctx, store.Requests, "r1", []byte("req")))
}

func TestCreate_ConcurrentWritersOneWinner(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	var wg sync.WaitGroup
	var wins atomic.Int32
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.Create(ctx, store.Responses, "contended", []byte("x")); err == nil {
				wins.Add(1)
			} else {
				assert.ErrorIs(t, err, store.ErrExists)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())
}

func TestPutGetDelete(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	require.NoError(t, s.Put(ctx, store.Dispatched, "r1", []byte("a")))
	require.NoError(t, s.Put(ctx, store.Dispatched, "r1", []byte("b")))

	body, err := s.Get(ctx, store.Dispatched, "r1")
	require.NoError(t, err)
	assert.Equal(t, "b", string(body))

	require.NoError(t, s.Delete(ctx, store.Dispatched, "r1"))
	require.NoError(t, s.Delete(ctx, store.Dispatched, "r1"))

	_, err = s.Get(ctx, store.Dispatched, "r1")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestList_OrderedByModificationTime(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	require.NoError(t, s.Create(ctx, store.Requests, "c", []byte("{}")))
	require.NoError(t, s.Create(ctx, store.Requests, "a", []byte("{}")))
	require.NoError(t, s.Create(ctx, store.Requests, "b", []byte("{}")))
	require.NoError(t, s.Create(ctx, store.Responses, "z", []byte("{}")))

	entries, err := s.List(ctx, store.Requests)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "c", entries[0].Key)
	assert.Equal(t, "a", entries[1].Key)
	assert.Equal(t, "b", entries[2].Key)
	assert.True(t, entries[0].ModTime.Before(entries[1].ModTime))
}

func TestInvalidKeys(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	assert.Error(t, s.Create(ctx, store.Requests, "", nil))
	assert.Error(t, s.Put(ctx, store.Kind("bogus"), "a", nil))
	_, err := s.List(ctx, store.Kind("bogus"))
	assert.Error(t, err)
}
