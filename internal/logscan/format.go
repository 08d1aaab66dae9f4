package logscan

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/fatih/color"
)

// Formatter writes summaries, optionally with ANSI color.
type Formatter struct {
	bold  *color.Color
	dim   *color.Color
	ok    *color.Color
	fail  *color.Color
	warn  *color.Color
	label *color.Color
}

// NewFormatter creates a Formatter. Without colorize, output is plain text.
func NewFormatter(colorize bool) *Formatter {
	f := &Formatter{
		bold:  color.New(color.Bold),
		dim:   color.New(color.Faint),
		ok:    color.New(color.FgGreen),
		fail:  color.New(color.FgRed),
		warn:  color.New(color.FgYellow),
		label: color.New(color.FgCyan),
	}
	for _, c := range []*color.Color{f.bold, f.dim, f.ok, f.fail, f.warn, f.label} {
		if colorize {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
	}
	return f
}

// WriteSummary writes the single-screen overview.
func (f *Formatter) WriteSummary(w io.Writer, s *Summary) {
	sep := strings.Repeat("=", 60)
	rule := f.dim.Sprint(strings.Repeat("-", 60))

	fmt.Fprintln(w, f.bold.Sprint(sep))
	fmt.Fprintln(w, f.bold.Sprint("HARBOR LOG SUMMARY"))
	fmt.Fprintln(w, f.bold.Sprint(sep))
	fmt.Fprintln(w)

	if !s.Start.IsZero() {
		fmt.Fprintf(w, "Session: %s to %s\n", s.Start.Format("2006-01-02 15:04:05"), s.End.Format("15:04:05"))
		fmt.Fprintf(w, "Duration: %s\n", f.ok.Sprint(s.Duration().Truncate(time.Second)))
	}
	fmt.Fprintf(w, "Entries: %s\n\n", f.label.Sprint(s.Entries))

	fmt.Fprintln(w, f.bold.Sprint("Tasks"))
	fmt.Fprintln(w, rule)
	stats := s.Stats()
	if len(stats) == 0 {
		fmt.Fprintln(w, f.dim.Sprint("  No tasks found"))
	}
	for _, st := range stats {
		status := f.ok.Sprint("[OK]")
		if st.Failed > 0 {
			status = f.fail.Sprintf("(%d failed)", st.Failed)
		}
		avg := "incomplete"
		if st.Average > 0 {
			avg = "avg " + st.Average.Truncate(time.Second).String()
		}
		fmt.Fprintf(w, "  %-20s x%-3d %-12s %s\n", st.Task, st.Runs, status, avg)
	}
	fmt.Fprintln(w)

	if len(s.Interrupts) > 0 {
		fmt.Fprintln(w, f.bold.Sprint("Interrupts"))
		fmt.Fprintln(w, rule)
		for _, name := range sortedKeys(s.Interrupts) {
			fmt.Fprintf(w, "  %-30s x%d\n", name, s.Interrupts[name])
		}
		fmt.Fprintln(w)
	}

	if len(s.LadderStages) > 0 {
		fmt.Fprintln(w, f.bold.Sprint("Retirement ladder"))
		fmt.Fprintln(w, rule)
		stages := make([]int, 0, len(s.LadderStages))
		for st := range s.LadderStages {
			stages = append(stages, st)
		}
		sort.Ints(stages)
		for _, st := range stages {
			fmt.Fprintf(w, "  stage %d x%d\n", st, s.LadderStages[st])
		}
		fmt.Fprintln(w)
	}

	if len(s.Consumed) > 0 {
		fmt.Fprintln(w, f.bold.Sprint("Resources"))
		fmt.Fprintln(w, rule)
		for _, d := range sortedKeys(s.Consumed) {
			line := fmt.Sprintf("  %-20s consumed %d", d, s.Consumed[d])
			if r, ok := s.LastBalance(d); ok {
				line += fmt.Sprintf(", last balance %d", r.Balance)
			}
			fmt.Fprintln(w, line)
		}
		fmt.Fprintln(w)
	}

	fmt.Fprintln(w, f.bold.Sprint("Errors & Warnings"))
	fmt.Fprintln(w, rule)
	fmt.Fprintf(w, "  Errors:   %s\n", f.fail.Sprint(len(s.Errors)))
	fmt.Fprintf(w, "  Warnings: %s\n", f.warn.Sprint(s.Warnings))
	if len(s.ErrorKinds) > 0 {
		fmt.Fprintln(w, "\n  Failure kinds:")
		for _, k := range sortedKeys(s.ErrorKinds) {
			fmt.Fprintf(w, "    %-28s x%d\n", k, s.ErrorKinds[k])
		}
	}

	if len(s.Takeovers) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, f.fail.Sprint("HUMAN TAKEOVERS"))
		fmt.Fprintln(w, rule)
		for _, t := range s.Takeovers {
			fmt.Fprintf(w, "  %s %s: %s (%s)\n", t.Time.Format("15:04:05"), t.Domain, t.Reason, t.ID)
		}
	}
}

// WriteErrors writes only the ERROR entries, with continuation lines.
func (f *Formatter) WriteErrors(w io.Writer, s *Summary) {
	if len(s.Errors) == 0 {
		fmt.Fprintln(w, f.ok.Sprint("No errors."))
		return
	}
	for _, e := range s.Errors {
		ts := "??:??:??"
		if !e.Time.IsZero() {
			ts = e.Time.Format("15:04:05")
		}
		fmt.Fprintf(w, "%s %s %s\n", f.dim.Sprintf("%5d", e.Line), f.dim.Sprint(ts), f.fail.Sprint(e.Message))
		for _, c := range e.Continuation {
			fmt.Fprintf(w, "               %s\n", c)
		}
	}
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
