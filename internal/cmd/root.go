package cmd

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/harrison/harbor/internal/config"
)

// Version is injected at build time via -ldflags
var Version = "dev"

// NewRootCommand creates and returns the root cobra command for harbor
func NewRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "harbor",
		Short: "Device-driven game automation agent",
		Long: `Harbor drives a game client through a tool server, scheduling recurring
tasks, interrupting them when the dock or other buffers fill up, and handing
control to a human when its fallback options run out.

Settings are read from $HARBOR_HOME/config.yaml (default ./.harbor). A .env
file in the working directory is loaded first.`,
		Version: Version,
		// Silence usage on errors to avoid duplicate help text
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return loadDotEnv(".env")
		},
	}

	cmd.PersistentFlags().String("config", "", "Path to config file (default: $HARBOR_HOME/config.yaml)")

	// Add subcommands
	cmd.AddCommand(NewRunCommand())
	cmd.AddCommand(NewValidateCommand())
	cmd.AddCommand(NewStatusCommand())
	cmd.AddCommand(NewResumeCommand())
	cmd.AddCommand(NewLogsCommand())

	return cmd
}

// loadDotEnv loads environment overrides. A missing file is not an error.
func loadDotEnv(path string) error {
	err := godotenv.Load(path)
	if err == nil || errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return fmt.Errorf("failed to load %s: %w", path, err)
}

// loadConfig reads the config named by --config, or the one under the
// harbor home, and fills unset paths relative to the home directory.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	home, err := config.GetHarborHome()
	if err != nil {
		return nil, err
	}

	path, _ := cmd.Flags().GetString("config")
	if path == "" {
		path, err = config.DefaultConfigPath()
		if err != nil {
			return nil, err
		}
	} else if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}

	cfg, err := config.LoadConfig(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config from %s: %w", path, err)
	}
	cfg.ResolvePaths(home)
	return cfg, nil
}
