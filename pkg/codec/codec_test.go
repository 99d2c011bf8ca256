package codec

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinyland-inc/hostbridge/pkg/model"
)

func TestByName(t *testing.T) {
	c, err := ByName("")
	require.NoError(t, err)
	assert.Equal(t, "json", c.Name())

	c, err = ByName("cbor")
	require.NoError(t, err)
	assert.Equal(t, ".cbor", c.Extension())

	_, err = ByName("xml")
	assert.Error(t, err)
}

// Both codecs must carry every request field without loss, including
// sub-second timestamps and nested payload values.
func TestCodecs_PreserveRequestFields(t *testing.T) {
	ts := time.Date(2026, 5, 1, 12, 0, 0, 123_456_789, time.UTC)
	req := &model.Request{
		ID:        "0190f0e4-8a4b-7c3d-9e2f-1a2b3c4d5e6f",
		Service:   model.ServiceVSCode,
		Action:    model.ActionOpen,
		Timestamp: ts,
		Payload:   map[string]any{"path": "/workspace/main/x.go", "line": 7, "newWindow": true},
		Timeout:   15000,
		Priority:  model.PriorityHigh,
	}

	for _, c := range []Codec{JSON, CBOR} {
		t.Run(c.Name(), func(t *testing.T) {
			data, err := c.Marshal(req)
			require.NoError(t, err)

			var got model.Request
			require.NoError(t, c.Unmarshal(data, &got))

			assert.Equal(t, req.ID, got.ID)
			assert.Equal(t, req.Service, got.Service)
			assert.Equal(t, req.Action, got.Action)
			assert.True(t, ts.Equal(got.Timestamp), "timestamp %v != %v", got.Timestamp, ts)
			assert.Equal(t, req.Timeout, got.Timeout)
			assert.Equal(t, req.Priority, got.Priority)

			payload, err := model.DecodePayload(got.Service, got.Action, got.Payload)
			require.NoError(t, err)
			assert.Equal(t, model.VSCodeOpen{Path: "/workspace/main/x.go", Line: 7, NewWindow: true}, payload)
		})
	}
}

func TestCodecs_PreserveResponseData(t *testing.T) {
	resp := model.SuccessResponse("abc", "spoken", map[string]any{"voice": "Alex"}, time.Now())

	for _, c := range []Codec{JSON, CBOR} {
		t.Run(c.Name(), func(t *testing.T) {
			data, err := c.Marshal(resp)
			require.NoError(t, err)

			var got model.Response
			require.NoError(t, c.Unmarshal(data, &got))
			assert.Equal(t, resp.ID, got.ID)
			assert.Equal(t, resp.Status, got.Status)
			assert.Equal(t, resp.Message, got.Message)
			assert.Equal(t, "Alex", got.Data["voice"])
		})
	}
}
