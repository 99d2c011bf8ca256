// Package handlers implements the host services the daemon offers:
// speech, audio playback and opening files in VS Code. Each one shells
// out to a host command through a Runner.
package handlers

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/tinyland-inc/hostbridge/pkg/daemon"
	"github.com/tinyland-inc/hostbridge/pkg/logger"
	"github.com/tinyland-inc/hostbridge/pkg/model"
)

// Option configures any of the handlers in this package.
type Option func(*Base)

// WithRunner replaces the command runner, mainly for tests.
func WithRunner(r Runner) Option {
	return func(b *Base) { b.runner = r }
}

// WithCommand overrides the host binary. Empty keeps the default.
func WithCommand(command string) Option {
	return func(b *Base) {
		if command != "" {
			b.command = command
		}
	}
}

// Base holds what every handler needs: its service name, the host
// command it drives, and a runner.
type Base struct {
	service model.Service
	command string
	runner  Runner
}

func newBase(service model.Service, command string, opts []Option) Base {
	b := Base{service: service, command: command, runner: ExecRunner{}}
	for _, opt := range opts {
		opt(&b)
	}
	return b
}

func (b *Base) Service() model.Service { return b.service }

// Command returns the host binary the handler runs.
func (b *Base) Command() string { return b.command }

// tool is the command's base name, used to pick its flag dialect.
func (b *Base) tool() string { return filepath.Base(b.command) }

func (b *Base) run(ctx context.Context, args ...string) (string, error) {
	logger.DebugCF("handler", "Running host command", map[string]any{
		"service": string(b.service),
		"command": b.command,
		"args":    args,
	})
	return b.runner.Run(ctx, b.command, args...)
}

// unsupported reports a payload this handler has no action for.
func (b *Base) unsupported(p model.Payload) (daemon.Result, error) {
	return daemon.Result{}, fmt.Errorf("%s does not support action %q", b.service, p.Kind().Action)
}
