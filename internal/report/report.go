// Package report writes the human-review document for a takeover event.
package report

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/afero"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/harrison/harbor/internal/models"
)

// Writer renders takeover events into Markdown and HTML files.
type Writer struct {
	fs       afero.Fs
	dir      string
	markdown goldmark.Markdown
}

// NewWriter creates a Writer rooted at dir on fs. Use afero.NewOsFs() for the
// real filesystem and afero.NewMemMapFs() in tests.
func NewWriter(fs afero.Fs, dir string) *Writer {
	return &Writer{
		fs:       fs,
		dir:      dir,
		markdown: goldmark.New(goldmark.WithExtensions(extension.Table)),
	}
}

// BaseName returns the file name, without extension, for an event.
func BaseName(ev models.TakeoverEvent) string {
	return fmt.Sprintf("takeover-%s-%s", ev.Domain, ev.ID)
}

// Deliver writes <dir>/takeover-<domain>-<id>.md and .html.
func (w *Writer) Deliver(ctx context.Context, ev models.TakeoverEvent) error {
	if err := w.fs.MkdirAll(w.dir, 0755); err != nil {
		return fmt.Errorf("create report directory: %w", err)
	}

	md := Markdown(ev)
	base := filepath.Join(w.dir, BaseName(ev))
	if err := afero.WriteFile(w.fs, base+".md", md, 0644); err != nil {
		return fmt.Errorf("write markdown report: %w", err)
	}

	html, err := w.HTML(ev)
	if err != nil {
		return err
	}
	if err := afero.WriteFile(w.fs, base+".html", html, 0644); err != nil {
		return fmt.Errorf("write html report: %w", err)
	}
	return nil
}

// HTML renders the event's Markdown into a standalone page.
func (w *Writer) HTML(ev models.TakeoverEvent) ([]byte, error) {
	var body bytes.Buffer
	if err := w.markdown.Convert(Markdown(ev), &body); err != nil {
		return nil, fmt.Errorf("render report: %w", err)
	}

	var page bytes.Buffer
	page.WriteString("<!DOCTYPE html>\n<html>\n<head>\n<meta charset=\"utf-8\">\n")
	fmt.Fprintf(&page, "<title>Human takeover: %s</title>\n</head>\n<body>\n", ev.Domain)
	page.Write(body.Bytes())
	page.WriteString("</body>\n</html>\n")
	return page.Bytes(), nil
}

// Markdown renders the diagnostic snapshot of an event.
func Markdown(ev models.TakeoverEvent) []byte {
	var sb strings.Builder
	fmt.Fprintf(&sb, "# Human takeover: %s\n\n", ev.Domain)
	fmt.Fprintf(&sb, "Automatic operation of `%s` has stopped and needs review.\n\n", ev.Domain)

	sb.WriteString("| Field | Value |\n|---|---|\n")
	fmt.Fprintf(&sb, "| Event | `%s` |\n", ev.ID)
	fmt.Fprintf(&sb, "| Kind | %s |\n", ev.Kind)
	fmt.Fprintf(&sb, "| Task | `%s` |\n", ev.Task)
	fmt.Fprintf(&sb, "| Reason | %s |\n", escapeCell(ev.Reason))
	observed := string(ev.LastObservedState)
	if observed == "" {
		observed = "unknown"
	}
	fmt.Fprintf(&sb, "| Last observed state | `%s` |\n", observed)
	fmt.Fprintf(&sb, "| Time | %s |\n\n", ev.Timestamp.Format(time.RFC3339))

	sb.WriteString("## Actions taken\n\n")
	if len(ev.ActionsTaken) == 0 {
		sb.WriteString("None recorded.\n")
	}
	for i, a := range ev.ActionsTaken {
		fmt.Fprintf(&sb, "%d. `%s`\n", i+1, a)
	}

	sb.WriteString("\n## Markers seen\n\n")
	if len(ev.MarkersSeen) == 0 {
		sb.WriteString("None recorded.\n")
	}
	for _, m := range ev.MarkersSeen {
		fmt.Fprintf(&sb, "- `%s`\n", m)
	}

	fmt.Fprintf(&sb, "\n## Next step\n\nResolve the condition on the device, then run `harbor resume %s`.\n", ev.Domain)
	return []byte(sb.String())
}

func escapeCell(s string) string {
	return strings.ReplaceAll(s, "|", `\|`)
}
