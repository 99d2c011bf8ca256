package say

import (
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/tinyland-inc/hostbridge/pkg/model"
)

type options struct {
	wait     bool
	voice    string
	rate     int
	priority string
	timeout  time.Duration
}

func NewSayCommand() *cobra.Command {
	var opts options

	cmd := &cobra.Command{
		Use:   "say [message]",
		Short: "Speak a message on the host",
		Long:  "Speak a message on the host. Without a message, starts an interactive prompt.",
		Example: `  hostbridge say "build finished"
  hostbridge say --wait --voice Alex "tests passed"
  hostbridge say`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := model.ParsePriority(opts.priority); err != nil {
				return err
			}
			return sayCmd(cmd.Context(), strings.Join(args, " "), opts)
		},
	}

	cmd.Flags().BoolVarP(&opts.wait, "wait", "w", false, "Wait for the host to finish speaking")
	cmd.Flags().StringVarP(&opts.voice, "voice", "v", "", "Voice to use")
	cmd.Flags().IntVarP(&opts.rate, "rate", "r", 0, "Words per minute")
	cmd.Flags().StringVarP(&opts.priority, "priority", "p", string(model.PriorityNormal), "Request priority: high, normal or low")
	cmd.Flags().DurationVarP(&opts.timeout, "timeout", "t", 0, "How long to wait with --wait (default from config)")

	return cmd
}
