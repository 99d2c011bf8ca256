package internal

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinyland-inc/hostbridge/pkg/client"
	"github.com/tinyland-inc/hostbridge/pkg/config"
	"github.com/tinyland-inc/hostbridge/pkg/model"
	"github.com/tinyland-inc/hostbridge/pkg/store"
	"github.com/tinyland-inc/hostbridge/pkg/store/filestore"
	"github.com/tinyland-inc/hostbridge/pkg/store/sqlitestore"
)

func TestGetConfigPath(t *testing.T) {
	t.Cleanup(func() { SetConfigPath("") })

	t.Setenv("HOSTBRIDGE_CONFIG", "/etc/hostbridge.yaml")
	assert.Equal(t, "/etc/hostbridge.yaml", GetConfigPath())

	SetConfigPath("/tmp/override.json")
	assert.Equal(t, "/tmp/override.json", GetConfigPath())

	SetConfigPath("")
	t.Setenv("HOSTBRIDGE_CONFIG", "")
	assert.True(t, strings.HasSuffix(GetConfigPath(), filepath.Join(".hostbridge", "config.json")))
}

func TestOpenStore(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.BridgeDir = t.TempDir()

	st, cd, err := OpenStore(cfg)
	require.NoError(t, err)
	defer st.Close()
	assert.IsType(t, &filestore.Store{}, st)
	assert.Equal(t, "json", cd.Name())

	cfg.Store = config.StoreSQLite
	cfg.Codec = "cbor"
	cfg.BridgeDir = filepath.Join(t.TempDir(), "nested")
	st2, cd2, err := OpenStore(cfg)
	require.NoError(t, err)
	defer st2.Close()
	assert.IsType(t, &sqlitestore.Store{}, st2)
	assert.Equal(t, "cbor", cd2.Name())
	_, err = os.Stat(filepath.Join(cfg.BridgeDir, "bridge.db"))
	assert.NoError(t, err)
}

func TestOpenStore_CBORFileExtension(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.BridgeDir = t.TempDir()
	cfg.Codec = "cbor"

	st, _, err := OpenStore(cfg)
	require.NoError(t, err)
	require.NoError(t, st.Create(context.Background(), store.Requests, "r1", []byte{0xa0}))

	_, err = os.Stat(filepath.Join(cfg.BridgeDir, "requests", "r1.cbor"))
	assert.NoError(t, err)
}

func TestNewRegistry_FollowsConfig(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Services.Audio.Enabled = false
	cfg.Services.Speech.TimeoutMS = 1500

	reg := NewRegistry(cfg)
	services := reg.List()
	require.Len(t, services, 3)

	speech, err := reg.Lookup(model.ServiceSpeech)
	require.NoError(t, err)
	assert.Equal(t, 1500*time.Millisecond, speech.Timeout)
	assert.False(t, speech.Idempotent)

	_, err = reg.Lookup(model.ServiceAudio)
	assert.Error(t, err, "disabled services are rejected")

	assert.True(t, reg.Idempotent(model.ServiceVSCode))
}

func TestResponseError(t *testing.T) {
	now := time.Now()

	assert.NoError(t, ResponseError(model.SuccessResponse("r1", "ok", nil, now), nil))
	assert.ErrorContains(t, ResponseError(model.ErrorResponse("r1", "boom", now), nil), "error: boom")

	timeout := &client.TimeoutError{RequestID: "r1", Err: context.DeadlineExceeded}
	err := ResponseError(model.TimeoutResponse("r1", "late", now), timeout)
	assert.ErrorIs(t, err, client.ErrTimeout)

	ioErr := errors.New("disk gone")
	assert.ErrorIs(t, ResponseError(nil, ioErr), ioErr)
}

func TestCall_NoWaitQueuesRequest(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.BridgeDir = t.TempDir()

	c, st, err := NewClient(cfg)
	require.NoError(t, err)
	defer st.Close()

	require.NoError(t, Call(context.Background(), c, model.SpeechSay{Message: "hi"}, false, 0))

	entries, err := st.List(context.Background(), store.Requests)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}
