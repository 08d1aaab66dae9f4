// Package logscan summarizes harbor run logs after the fact.
package logscan

import (
	"bufio"
	"io"
	"regexp"
	"strings"
	"time"
)

// Entry is one log record plus any continuation lines that followed it.
type Entry struct {
	Line         int
	Time         time.Time // Zero when the line carried no timestamp
	Level        string
	Message      string
	Continuation []string
}

// FullMessage joins the message with its continuation lines.
func (e Entry) FullMessage() string {
	if len(e.Continuation) == 0 {
		return e.Message
	}
	return e.Message + "\n" + strings.Join(e.Continuation, "\n")
}

var (
	// [15:04:05] [INFO] message
	linePattern    = regexp.MustCompile(`^\[(\d{2}:\d{2}:\d{2})\] \[([A-Z]+)\] ?(.*)$`)
	startedPattern = regexp.MustCompile(`^Started at: (\S+)$`)
)

// Entries reads r and returns its records. Lines that do not start a record
// are continuation lines of the previous one. The "Started at" header dates
// the HH:MM:SS timestamps; a timestamp earlier than its predecessor is taken
// to have crossed midnight.
func Entries(r io.Reader) ([]Entry, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	var (
		entries []Entry
		current *Entry
		base    time.Time
		last    time.Time
		lineNum int
	)
	flush := func() {
		if current != nil {
			entries = append(entries, *current)
			current = nil
		}
	}

	for scanner.Scan() {
		lineNum++
		line := strings.TrimRight(scanner.Text(), "\r")

		if m := startedPattern.FindStringSubmatch(line); m != nil {
			if t, err := time.Parse(time.RFC3339, m[1]); err == nil {
				base = time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
			}
			continue
		}

		m := linePattern.FindStringSubmatch(line)
		if m == nil {
			if strings.TrimSpace(line) == "" || strings.HasPrefix(line, "=== Harbor Run Log") {
				continue
			}
			if current != nil {
				current.Continuation = append(current.Continuation, line)
				continue
			}
			// Orphan line with no parent record
			current = &Entry{Line: lineNum, Message: strings.TrimSpace(line)}
			continue
		}

		flush()
		ts := stamp(base, m[1])
		if !ts.IsZero() && !last.IsZero() && ts.Before(last) {
			ts = ts.Add(24 * time.Hour)
			base = base.Add(24 * time.Hour)
		}
		if !ts.IsZero() {
			last = ts
		}
		current = &Entry{Line: lineNum, Time: ts, Level: m[2], Message: strings.TrimSpace(m[3])}
	}
	flush()

	if err := scanner.Err(); err != nil {
		return entries, err
	}
	return entries, nil
}

func stamp(base time.Time, clock string) time.Time {
	t, err := time.Parse("15:04:05", clock)
	if err != nil {
		return time.Time{}
	}
	return base.Add(time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute + time.Duration(t.Second())*time.Second)
}
