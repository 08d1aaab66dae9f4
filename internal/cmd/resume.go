package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/harrison/harbor/internal/models"
	"github.com/harrison/harbor/internal/state"
)

// NewResumeCommand creates the resume subcommand
func NewResumeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "resume <domain>",
		Short: "Hand a domain back to the agent after a human takeover",
		Long: `Queue a resume request for a domain. A running agent picks it up
between task cycles: the takeover is cleared, the task re-enabled and any
sticky engine state reset. Without a running agent the request is applied
at the next start.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			return requestResume(state.NewManager(cfg.StateDir), models.Domain(args[0]), cmd.OutOrStdout())
		},
	}
	return cmd
}

func requestResume(mgr *state.Manager, d models.Domain, out io.Writer) error {
	known := false
	for _, k := range models.AllDomains() {
		if k == d {
			known = true
			break
		}
	}
	if !known {
		return models.Errorf(models.KindConfigurationInvalid, "unknown domain %q", d)
	}

	snap, err := mgr.Load()
	if err != nil {
		return err
	}
	if err := mgr.RequestResume(d); err != nil {
		return fmt.Errorf("failed to queue resume: %w", err)
	}

	if ev, ok := snap.Takeovers[d]; ok {
		fmt.Fprintf(out, "Resume queued for %s (clears takeover %s: %s)\n", d, ev.ID, ev.Reason)
		return nil
	}
	fmt.Fprintf(out, "Resume queued for %s\n", d)
	return nil
}
