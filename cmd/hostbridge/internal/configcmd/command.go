package configcmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tinyland-inc/hostbridge/cmd/hostbridge/internal"
	"github.com/tinyland-inc/hostbridge/pkg/config"
)

func NewConfigCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Create or inspect the configuration",
		Example: `  hostbridge config init
  hostbridge config init --project-root ~/src/app --force
  hostbridge config show`,
	}

	var force bool
	var projectRoot string

	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default config file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path := internal.GetConfigPath()
			if err := initConfig(path, projectRoot, force); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Config written to %s\n", path)
			return nil
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing config file")
	initCmd.Flags().StringVar(&projectRoot, "project-root", "", "Host directory mounted as the sandbox workspace")

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Print the effective config, after environment overrides",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadConfig(internal.GetConfigPath())
			if err != nil {
				return err
			}
			data, err := json.MarshalIndent(cfg, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return nil
		},
	}

	cmd.AddCommand(initCmd, showCmd)
	return cmd
}

func initConfig(path, projectRoot string, force bool) error {
	if _, err := os.Stat(path); err == nil && !force {
		return fmt.Errorf("%s already exists (use --force to overwrite)", path)
	}
	cfg := config.DefaultConfig()
	cfg.ProjectRoot = projectRoot
	if err := cfg.Validate(); err != nil {
		return err
	}
	return config.SaveConfig(path, cfg)
}
