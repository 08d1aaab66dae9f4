package logger

import (
	"github.com/fatih/color"
)

// colorScheme defines consistent colors for task outcomes.
// Green: success
// Red: failure and takeover
// Yellow: warnings
// Cyan: labels and identifiers
type colorScheme struct {
	success *color.Color
	fail    *color.Color
	warn    *color.Color
	label   *color.Color
}

func newColorScheme() *colorScheme {
	return &colorScheme{
		success: color.New(color.FgGreen),
		fail:    color.New(color.FgRed),
		warn:    color.New(color.FgYellow),
		label:   color.New(color.FgCyan),
	}
}
