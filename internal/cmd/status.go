package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/harrison/harbor/internal/history"
	"github.com/harrison/harbor/internal/models"
	"github.com/harrison/harbor/internal/state"
)

// NewStatusCommand creates the status subcommand
func NewStatusCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show persisted agent state and recent history",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			limit, _ := cmd.Flags().GetInt("limit")

			snap, err := state.NewManager(cfg.StateDir).Load()
			if err != nil {
				return err
			}

			var store *history.Store
			if _, err := os.Stat(cfg.HistoryDB); err == nil {
				store, err = history.NewStore(cfg.HistoryDB)
				if err != nil {
					return fmt.Errorf("failed to open history: %w", err)
				}
				defer store.Close()
			} else if !errors.Is(err, os.ErrNotExist) {
				return err
			}

			colorize := isatty.IsTerminal(os.Stdout.Fd()) && cmd.OutOrStdout() == os.Stdout
			return writeStatus(cmd.Context(), cmd.OutOrStdout(), snap, store, limit, colorize)
		},
	}
	cmd.Flags().Int("limit", 10, "Number of recent runs to show")
	return cmd
}

func writeStatus(ctx context.Context, out io.Writer, snap state.Snapshot, store *history.Store, limit int, colorize bool) error {
	if ctx == nil {
		ctx = context.Background()
	}
	bold := color.New(color.Bold)
	bad := color.New(color.FgRed)
	good := color.New(color.FgGreen)
	for _, c := range []*color.Color{bold, bad, good} {
		if colorize {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
	}

	bold.Fprintln(out, "Retirement")
	if r := snap.Retirement; r != nil {
		fmt.Fprintf(out, "  mode=%s stage=%d (%s) enhance_index=%d unable_to_enhance=%t\n",
			r.Mode, int(r.Stage), r.Stage, r.EnhanceIndex, r.UnableToEnhance)
	} else {
		fmt.Fprintln(out, "  no state saved yet")
	}
	if !snap.SavedAt.IsZero() {
		fmt.Fprintf(out, "  saved %s\n", snap.SavedAt.Format(time.RFC3339))
	}

	fmt.Fprintln(out)
	bold.Fprintln(out, "Disabled tasks")
	if len(snap.Disabled) == 0 {
		fmt.Fprintln(out, "  none")
	}
	ids := make([]string, 0, len(snap.Disabled))
	for id := range snap.Disabled {
		ids = append(ids, string(id))
	}
	sort.Strings(ids)
	for _, id := range ids {
		fmt.Fprintf(out, "  %s: %s\n", id, snap.Disabled[models.TaskID(id)])
	}

	fmt.Fprintln(out)
	bold.Fprintln(out, "Open takeovers")
	if len(snap.Takeovers) == 0 {
		fmt.Fprintln(out, "  none")
	}
	domains := make([]string, 0, len(snap.Takeovers))
	for d := range snap.Takeovers {
		domains = append(domains, string(d))
	}
	sort.Strings(domains)
	for _, d := range domains {
		ev := snap.Takeovers[models.Domain(d)]
		bad.Fprintf(out, "  %s", d)
		fmt.Fprintf(out, " since %s: %s\n    harbor resume %s\n", ev.Timestamp.Format(time.RFC3339), ev.Reason, d)
	}
	if len(snap.ResumeRequests) > 0 {
		fmt.Fprintf(out, "  pending resume: %v\n", snap.ResumeRequests)
	}

	if store == nil {
		return nil
	}

	runs, err := store.RecentRuns(ctx, limit)
	if err != nil {
		return err
	}
	fmt.Fprintln(out)
	bold.Fprintln(out, "Recent runs")
	if len(runs) == 0 {
		fmt.Fprintln(out, "  none")
		return nil
	}
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "  STARTED\tTASK\tRESULT\tDURATION\tDETAIL")
	for _, r := range runs {
		result := good.Sprint("ok")
		detail := string(r.ObservedState)
		if !r.Success {
			result = bad.Sprint("failed")
			detail = fmt.Sprintf("[%s] %s", r.ErrorKind, r.ErrorMessage)
		}
		fmt.Fprintf(tw, "  %s\t%s\t%s\t%s\t%s\n", r.StartedAt.Format("01-02 15:04:05"), r.TaskID, result, r.Duration.Round(time.Millisecond), detail)
	}
	return tw.Flush()
}
