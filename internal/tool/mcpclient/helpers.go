package mcpclient

import (
	"context"

	"github.com/harrison/harbor/internal/models"
	"github.com/harrison/harbor/internal/tool"
)

// Device tool names exposed by the automation server.
const (
	ToolScreenshot   = "adb_screenshot"
	ToolTap          = "adb_tap"
	ToolSwipe        = "adb_swipe"
	ToolCurrentState = "alas_get_current_state"
	ToolGoto         = "alas_goto"
	ToolListTools    = "alas_list_tools"
	ToolCallTool     = "alas_call_tool"
	ToolEnsureMain   = "alas_login_ensure_main"
)

// DefaultSwipeMillis is the swipe duration when none is given.
const DefaultSwipeMillis = 100

// Tap taps the screen at x,y.
func Tap(ctx context.Context, p tool.Provider, x, y int) (models.ToolResult, error) {
	return p.Invoke(ctx, ToolTap, map[string]any{"x": x, "y": y})
}

// Swipe swipes from x1,y1 to x2,y2. A non-positive duration uses the default.
func Swipe(ctx context.Context, p tool.Provider, x1, y1, x2, y2, durationMs int) (models.ToolResult, error) {
	if durationMs <= 0 {
		durationMs = DefaultSwipeMillis
	}
	return p.Invoke(ctx, ToolSwipe, map[string]any{
		"x1": x1, "y1": y1, "x2": x2, "y2": y2, "duration_ms": durationMs,
	})
}

// Goto navigates to page and verifies the server landed there.
func Goto(ctx context.Context, p tool.Provider, page models.State) (models.ToolResult, error) {
	return tool.Expect(ctx, p, ToolGoto, map[string]any{"page": string(page)}, page)
}

// CurrentState asks the server which page or condition is showing.
func CurrentState(ctx context.Context, p tool.Provider) (models.State, error) {
	res, err := tool.Expect(ctx, p, ToolCurrentState, nil, models.StateUnknown)
	if err != nil {
		return models.StateUnknown, err
	}
	return res.ObservedState, nil
}

// EnsureMain waits for the game to reach the main page, logging in if needed.
func EnsureMain(ctx context.Context, p tool.Provider, maxWaitS, pollIntervalS float64) (models.ToolResult, error) {
	return tool.Expect(ctx, p, ToolEnsureMain, map[string]any{
		"max_wait_s":      maxWaitS,
		"poll_interval_s": pollIntervalS,
	}, models.StateMain)
}

// CallNamed runs a server-side tool by name through the generic dispatcher.
func CallNamed(ctx context.Context, p tool.Provider, name string, args map[string]any) (models.ToolResult, error) {
	if args == nil {
		args = map[string]any{}
	}
	return p.Invoke(ctx, ToolCallTool, map[string]any{"name": name, "arguments": args})
}
