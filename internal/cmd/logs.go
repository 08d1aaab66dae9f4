package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/harrison/harbor/internal/logger"
	"github.com/harrison/harbor/internal/logscan"
)

// NewLogsCommand creates the logs subcommand
func NewLogsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "logs [file]",
		Short: "Summarize a run log",
		Long: `Parse a run log and print task runs, errors, interrupts, ladder
stages, takeovers and fodder balances. Without a file the latest run log
in the log directory is read.`,
		Args: cobra.MaximumNArgs(1),
		RunE: logsCommand,
	}
	cmd.Flags().Bool("json", false, "Print the summary as JSON")
	cmd.Flags().Bool("errors", false, "Print only errors")
	return cmd
}

func logsCommand(cmd *cobra.Command, args []string) error {
	asJSON, _ := cmd.Flags().GetBool("json")
	onlyErrors, _ := cmd.Flags().GetBool("errors")
	if asJSON && onlyErrors {
		return fmt.Errorf("cannot use both --json and --errors")
	}

	var path string
	if len(args) == 1 {
		path = args[0]
	} else {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		path = filepath.Join(cfg.LogDir, logger.LatestLog)
	}

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open log: %w", err)
	}
	defer f.Close()

	summary, err := logscan.Parse(f)
	if err != nil {
		return fmt.Errorf("failed to parse %s: %w", path, err)
	}

	out := cmd.OutOrStdout()
	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(summary)
	}

	colorize := isatty.IsTerminal(os.Stdout.Fd()) && out == os.Stdout
	formatter := logscan.NewFormatter(colorize)
	if onlyErrors {
		formatter.WriteErrors(out, summary)
		return nil
	}
	formatter.WriteSummary(out, summary)
	return nil
}
