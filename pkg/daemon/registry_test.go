package daemon

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinyland-inc/hostbridge/pkg/model"
)

func TestRegistry(t *testing.T) {
	reg := NewRegistry()
	noop := HandlerFunc(func(ctx context.Context, p model.Payload) (Result, error) { return Result{}, nil })

	reg.Register(model.ServiceVSCode, noop, ServiceOptions{Enabled: true, Idempotent: true, Description: "open files"})
	reg.Register(model.ServiceAudio, noop, ServiceOptions{Enabled: false})

	svc, err := reg.Lookup(model.ServiceVSCode)
	require.NoError(t, err)
	assert.Equal(t, "open files", svc.Description)
	assert.True(t, reg.Idempotent(model.ServiceVSCode))

	_, err = reg.Lookup(model.ServiceAudio)
	var disabled *DisabledServiceError
	assert.ErrorAs(t, err, &disabled)
	assert.False(t, reg.Idempotent(model.ServiceAudio))

	_, err = reg.Lookup("bogus")
	var unknown *UnknownServiceError
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, `unknown service "bogus"`, err.Error())

	names := []model.Service{}
	for _, s := range reg.List() {
		names = append(names, s.Name)
	}
	assert.Equal(t, []model.Service{model.ServiceAudio, model.ServiceVSCode}, names)
}
