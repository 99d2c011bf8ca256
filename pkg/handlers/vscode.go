package handlers

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/tinyland-inc/hostbridge/pkg/daemon"
	"github.com/tinyland-inc/hostbridge/pkg/model"
	"github.com/tinyland-inc/hostbridge/pkg/pathmap"
)

// VSCode opens files in the host editor with the code CLI. Paths from
// the sandbox are translated to host paths first.
type VSCode struct {
	Base
	translator pathmap.Translator
}

func NewVSCode(translator pathmap.Translator, opts ...Option) *VSCode {
	return &VSCode{Base: newBase(model.ServiceVSCode, "code", opts), translator: translator}
}

func (v *VSCode) Handle(ctx context.Context, p model.Payload) (daemon.Result, error) {
	req, ok := p.(model.VSCodeOpen)
	if !ok {
		return v.unsupported(p)
	}

	path := v.translator.Translate(req.Path)
	if !filepath.IsAbs(path) {
		return daemon.Result{}, fmt.Errorf("path %q must be absolute", req.Path)
	}

	var args []string
	if req.NewWindow {
		args = append(args, "-n")
	}
	target := path
	if req.Line > 0 {
		args = append(args, "--goto")
		target = fmt.Sprintf("%s:%d", path, req.Line)
	}
	args = append(args, "--", target)

	if _, err := v.run(ctx, args...); err != nil {
		return daemon.Result{}, err
	}
	return daemon.Result{Message: "opened " + path, Data: map[string]any{"path": path}}, nil
}
