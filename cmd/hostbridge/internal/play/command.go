package play

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/tinyland-inc/hostbridge/cmd/hostbridge/internal"
	"github.com/tinyland-inc/hostbridge/pkg/model"
)

func NewPlayCommand() *cobra.Command {
	var wait bool
	var volume float64
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "play <sound>",
		Short: "Play a sound on the host",
		Args:  cobra.ExactArgs(1),
		Example: `  hostbridge play Glass
  hostbridge play --volume 0.3 /workspace/main/assets/done.wav`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if volume < 0 || volume > 1 {
				return fmt.Errorf("--volume must be between 0 and 1")
			}
			return playCmd(cmd.Context(), model.AudioPlay{Sound: args[0], Volume: volume}, wait, timeout)
		},
	}

	cmd.Flags().BoolVarP(&wait, "wait", "w", false, "Wait until the sound has played")
	cmd.Flags().Float64Var(&volume, "volume", 0, "Volume between 0 and 1 (0 for the player default)")
	cmd.Flags().DurationVarP(&timeout, "timeout", "t", 0, "How long to wait with --wait (default from config)")

	return cmd
}

func playCmd(ctx context.Context, p model.AudioPlay, wait bool, timeout time.Duration) error {
	cfg, err := internal.LoadConfig()
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}
	c, st, err := internal.NewClient(cfg)
	if err != nil {
		return fmt.Errorf("error opening bridge: %w", err)
	}
	defer st.Close()

	return internal.Call(ctx, c, p, wait, timeout)
}
