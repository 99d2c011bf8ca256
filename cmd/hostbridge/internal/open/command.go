package open

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/tinyland-inc/hostbridge/cmd/hostbridge/internal"
	"github.com/tinyland-inc/hostbridge/pkg/client"
	"github.com/tinyland-inc/hostbridge/pkg/model"
)

func NewOpenCommand() *cobra.Command {
	var wait bool
	var line int
	var newWindow bool
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "open <path>",
		Short: "Open a file in VS Code on the host",
		Args:  cobra.ExactArgs(1),
		Example: `  hostbridge open src/main.go
  hostbridge open --line 42 /workspace/main/pkg/x.go
  hostbridge open --new-window /workspace/worktrees/feature`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if line < 0 {
				return fmt.Errorf("--line must not be negative")
			}
			path, err := filepath.Abs(args[0])
			if err != nil {
				return err
			}
			p := model.VSCodeOpen{Path: path, Line: line, NewWindow: newWindow}
			return openCmd(cmd.Context(), p, wait, timeout)
		},
	}

	cmd.Flags().BoolVarP(&wait, "wait", "w", false, "Wait until the editor has opened the file")
	cmd.Flags().IntVarP(&line, "line", "l", 0, "Line to jump to")
	cmd.Flags().BoolVarP(&newWindow, "new-window", "n", false, "Open in a new window")
	cmd.Flags().DurationVarP(&timeout, "timeout", "t", 0, "How long to wait with --wait (default from config)")

	return cmd
}

func openCmd(ctx context.Context, p model.VSCodeOpen, wait bool, timeout time.Duration) error {
	cfg, err := internal.LoadConfig()
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}

	var opts []client.Option
	if cfg.ProjectRoot != "" {
		opts = append(opts, client.WithInterceptors(client.PathTranslationInterceptor(internal.Translator(cfg))))
	}
	c, st, err := internal.NewClient(cfg, opts...)
	if err != nil {
		return fmt.Errorf("error opening bridge: %w", err)
	}
	defer st.Close()

	return internal.Call(ctx, c, p, wait, timeout)
}
