package daemon

import (
	"github.com/spf13/cobra"
)

func NewDaemonCommand() *cobra.Command {
	var debug bool
	var once bool

	cmd := &cobra.Command{
		Use:     "daemon",
		Aliases: []string{"d"},
		Short:   "Serve sandbox requests on this host",
		Args:    cobra.NoArgs,
		Example: `  hostbridge daemon
  hostbridge daemon --debug
  hostbridge daemon --once`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return daemonCmd(cmd.Context(), debug, once)
		},
	}

	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")
	cmd.Flags().BoolVar(&once, "once", false, "Process pending requests once and exit")

	return cmd
}
