package daemon

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinyland-inc/hostbridge/cmd/hostbridge/internal"
	"github.com/tinyland-inc/hostbridge/pkg/model"
	"github.com/tinyland-inc/hostbridge/pkg/store"
	"github.com/tinyland-inc/hostbridge/pkg/store/filestore"
)

func TestNewDaemonCommand(t *testing.T) {
	cmd := NewDaemonCommand()

	require.NotNil(t, cmd)
	assert.Equal(t, "daemon", cmd.Use)
	assert.Equal(t, []string{"d"}, cmd.Aliases)
	assert.True(t, cmd.HasExample())
	assert.False(t, cmd.HasSubCommands())
	assert.NotNil(t, cmd.RunE)

	assert.NotNil(t, cmd.Flags().Lookup("debug"))
	assert.NotNil(t, cmd.Flags().Lookup("once"))
}

func TestDaemonOnce_AnswersPendingRequests(t *testing.T) {
	bridge := t.TempDir()
	cfgPath := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(cfgPath, []byte(`{
  "bridge_dir": "`+bridge+`",
  "status_file": "`+filepath.Join(bridge, "status.json")+`",
  "services": {"speech": {"enabled": false}}
}`), 0o644))
	internal.SetConfigPath(cfgPath)
	t.Cleanup(func() { internal.SetConfigPath("") })

	st, err := filestore.New(bridge)
	require.NoError(t, err)
	ctx := t.Context()
	req := model.NewRequest(model.ServiceSpeech, model.ActionSay, map[string]any{"message": "hi"}, 0, model.PriorityNormal, time.Now())
	data, err := json.Marshal(req)
	require.NoError(t, err)
	require.NoError(t, st.Create(ctx, store.Requests, req.ID, data))

	cmd := NewDaemonCommand()
	cmd.SetArgs([]string{"--once"})
	require.NoError(t, cmd.ExecuteContext(ctx))

	body, err := st.Get(ctx, store.Responses, req.ID)
	require.NoError(t, err)
	var resp model.Response
	require.NoError(t, json.Unmarshal(body, &resp))
	assert.Equal(t, model.StatusError, resp.Status)
	assert.Contains(t, resp.Message, "disabled")

	_, err = st.Get(ctx, store.Requests, req.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}
