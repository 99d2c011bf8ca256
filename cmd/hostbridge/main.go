// hostbridge - host services for sandboxed processes
// License: MIT
//
// Copyright (c) 2026 hostbridge contributors

// Command hostbridge lets processes in a sandbox ask the host to speak,
// play sounds and open files, through a shared directory.
package main

import (
	"context"
	"os"

	"github.com/spf13/cobra"

	"github.com/tinyland-inc/hostbridge/cmd/hostbridge/internal"
	"github.com/tinyland-inc/hostbridge/cmd/hostbridge/internal/configcmd"
	"github.com/tinyland-inc/hostbridge/cmd/hostbridge/internal/daemon"
	"github.com/tinyland-inc/hostbridge/cmd/hostbridge/internal/open"
	"github.com/tinyland-inc/hostbridge/cmd/hostbridge/internal/play"
	"github.com/tinyland-inc/hostbridge/cmd/hostbridge/internal/say"
	"github.com/tinyland-inc/hostbridge/cmd/hostbridge/internal/status"
	"github.com/tinyland-inc/hostbridge/cmd/hostbridge/internal/version"
	"github.com/tinyland-inc/hostbridge/pkg/logger"
)

func NewHostbridgeCommand() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:          "hostbridge",
		Short:        "hostbridge - host services for sandboxed processes v" + internal.GetVersion(),
		Example:      "hostbridge say \"done\"",
		SilenceUsage: true,
		PersistentPreRun: func(_ *cobra.Command, _ []string) {
			internal.SetConfigPath(configPath)
		},
	}

	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (default ~/.hostbridge/config.json)")

	cmd.AddCommand(
		daemon.NewDaemonCommand(),
		say.NewSayCommand(),
		play.NewPlayCommand(),
		open.NewOpenCommand(),
		status.NewStatusCommand(),
		configcmd.NewConfigCommand(),
		version.NewVersionCommand(),
	)

	return cmd
}

func main() {
	cmd := NewHostbridgeCommand()
	err := cmd.ExecuteContext(context.Background())
	logger.Close()
	if err != nil {
		os.Exit(1)
	}
}
