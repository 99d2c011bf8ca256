package logger

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want LogLevel
		err  bool
	}{
		{"debug", DEBUG, false},
		{"INFO", INFO, false},
		{"", INFO, false},
		{"warning", WARN, false},
		{"error", ERROR, false},
		{"loud", INFO, true},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		if tt.err {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestInfoCF_JSONFields(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf, "json")
	SetLevel(INFO)
	t.Cleanup(func() { SetOutput(os.Stderr, "text") })

	InfoCF("daemon", "request completed", map[string]any{
		"id":      "abc",
		"service": "speech",
	})

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, "request completed", record["msg"])
	assert.Equal(t, "daemon", record["component"])
	assert.Equal(t, "abc", record["id"])
	assert.Equal(t, "speech", record["service"])
}

func TestSetLevel_FiltersDebug(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf, "text")
	t.Cleanup(func() {
		SetLevel(INFO)
		SetOutput(os.Stderr, "text")
	})

	SetLevel(INFO)
	DebugC("client", "hidden")
	assert.Empty(t, buf.String())

	SetLevel(DEBUG)
	assert.Equal(t, DEBUG, GetLevel())
	DebugC("client", "visible")
	assert.Contains(t, buf.String(), "visible")
}

func TestConfigure_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "hostbridge.log")
	require.NoError(t, Configure("warn", "text", path))
	t.Cleanup(func() {
		Close()
		SetLevel(INFO)
	})

	InfoC("store", "dropped")
	WarnC("store", "kept")
	Close()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.False(t, strings.Contains(string(data), "dropped"))
	assert.Contains(t, string(data), "kept")
}
