package cmd

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/harrison/harbor/internal/config"
)

// NewValidateCommand creates and returns the validate subcommand
func NewValidateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration and print the task table",
		Long: `Load the configuration, check every value and print the resolved
task table: priority, cooldowns and whether each domain is enabled.

Exit code: 0 if valid, 1 if errors found`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			return validateConfigWithOutput(cfg, cmd.OutOrStdout())
		},
		SilenceUsage: true,
	}

	return cmd
}

// validateConfigWithOutput validates cfg and writes the task table to output
func validateConfigWithOutput(cfg *config.Config, output io.Writer) error {
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(output, "✗ Configuration invalid: %v\n", err)
		return err
	}

	r := cfg.Retirement
	fmt.Fprintf(output, "✓ Configuration valid\n\n")
	fmt.Fprintf(output, "Retirement: mode=%s ship_to_enhance=%s enhance_index=%d min_free_slots=%d\n",
		cfg.RetireMode(), cfg.ShipFilter(), r.EnhanceIndex, r.MinFreeSlotsRequired)
	fmt.Fprintf(output, "Tool server: %s %v (timeout %s, %d retries)\n\n",
		cfg.MCP.Command, cfg.MCP.Args, cfg.ToolTimeout, cfg.TransientRetries)

	tw := tabwriter.NewWriter(output, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TASK\tPRIORITY\tSUCCESS\tFAILURE\tENABLED")
	for _, spec := range cfg.TaskSpecs() {
		enabled := "yes"
		if !spec.Enabled {
			enabled = "no"
		}
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\t%s\n", spec.ID, spec.Priority, spec.SuccessInterval, spec.FailureInterval, enabled)
	}
	return tw.Flush()
}
