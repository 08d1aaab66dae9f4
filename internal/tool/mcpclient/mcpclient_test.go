package mcpclient

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harrison/harbor/internal/models"
)

func text(s string) []mcp.Content {
	return []mcp.Content{&mcp.TextContent{Text: s}}
}

func TestDecode(t *testing.T) {
	tests := []struct {
		name string
		in   *mcp.CallToolResult
		want models.ToolResult
	}{
		{
			name: "text envelope",
			in:   &mcp.CallToolResult{Content: text(`{"success":true,"data":{"freed":5},"observed_state":"retire_done","expected_state":"retire_done"}`)},
			want: models.ToolResult{Success: true, Data: map[string]any{"freed": float64(5)}, ObservedState: "retire_done", ExpectedState: "retire_done"},
		},
		{
			name: "failed envelope defaults to transient",
			in:   &mcp.CallToolResult{Content: text(`{"success":false,"error":"device offline","observed_state":null,"expected_state":"page_main"}`)},
			want: models.ToolResult{Success: false, Error: "device offline", ErrorKind: models.KindTransient, ExpectedState: "page_main"},
		},
		{
			name: "envelope kind passes through",
			in:   &mcp.CallToolResult{Content: text(`{"success":false,"error":"stuck","error_kind":"timeout","expected_state":"page_main"}`)},
			want: models.ToolResult{Success: false, Error: "stuck", ErrorKind: models.KindTimeout, ExpectedState: "page_main"},
		},
		{
			name: "scalar data is wrapped",
			in:   &mcp.CallToolResult{Content: text(`{"success":true,"data":1200,"observed_state":"page_meowfficer"}`)},
			want: models.ToolResult{Success: true, Data: map[string]any{"value": float64(1200)}, ObservedState: "page_meowfficer"},
		},
		{
			name: "plain text has no observed state",
			in:   &mcp.CallToolResult{Content: text("tapped 100,200")},
			want: models.ToolResult{Success: true, Data: map[string]any{"text": "tapped 100,200"}},
		},
		{
			name: "json without envelope is plain text",
			in:   &mcp.CallToolResult{Content: text(`{"name":"x"}`)},
			want: models.ToolResult{Success: true, Data: map[string]any{"text": `{"name":"x"}`}},
		},
		{
			name: "is error",
			in:   &mcp.CallToolResult{IsError: true, Content: text("unknown page: page_nowhere")},
			want: models.ToolResult{Success: false, Error: "unknown page: page_nowhere", ErrorKind: models.KindTransient},
		},
		{
			name: "structured content wins",
			in: &mcp.CallToolResult{
				Content:           text("ignored"),
				StructuredContent: map[string]any{"success": true, "observed_state": "page_main", "expected_state": "page_main"},
			},
			want: models.ToolResult{Success: true, ObservedState: "page_main", ExpectedState: "page_main"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Decode(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDecodeNil(t *testing.T) {
	_, err := Decode(nil)
	assert.Error(t, err)
}

func TestNormalize(t *testing.T) {
	plain := func(s string) models.ToolResult {
		return models.ToolResult{Success: true, Data: map[string]any{"text": s}}
	}

	got := Normalize(ToolCurrentState, nil, plain("page_main"))
	assert.Equal(t, models.StateMain, got.ObservedState)

	got = Normalize(ToolGoto, map[string]any{"page": "page_campaign"}, plain("navigated to page_campaign"))
	assert.Equal(t, models.State("page_campaign"), got.ObservedState)

	got = Normalize(ToolGoto, map[string]any{"page": "page_campaign"}, plain("navigated to page_main"))
	assert.False(t, got.ObservedState.IsKnown(), "a different landing page is not a confirmation")

	got = Normalize(ToolTap, nil, plain("tapped 1,2"))
	assert.False(t, got.ObservedState.IsKnown())
}

type fakeSession struct {
	params   []*mcp.CallToolParams
	deadline []time.Duration
	reply    *mcp.CallToolResult
	err      error
}

func (f *fakeSession) CallTool(ctx context.Context, params *mcp.CallToolParams) (*mcp.CallToolResult, error) {
	f.params = append(f.params, params)
	if dl, ok := ctx.Deadline(); ok {
		f.deadline = append(f.deadline, time.Until(dl))
	} else {
		f.deadline = append(f.deadline, 0)
	}
	return f.reply, f.err
}

func (f *fakeSession) Close() error { return nil }

func TestProviderInvoke(t *testing.T) {
	sess := &fakeSession{reply: &mcp.CallToolResult{Content: text("page_main")}}
	p := NewProvider(sess, 30*time.Second)

	state, err := CurrentState(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, models.StateMain, state)
	require.Len(t, sess.params, 1)
	assert.Equal(t, ToolCurrentState, sess.params[0].Name)
	assert.InDelta(t, float64(30*time.Second), float64(sess.deadline[0]), float64(time.Second))
}

func TestProviderBoundsByMaxWait(t *testing.T) {
	sess := &fakeSession{reply: &mcp.CallToolResult{Content: text(`{"success":true,"observed_state":"page_main","expected_state":"page_main"}`)}}
	p := NewProvider(sess, 0)

	_, err := EnsureMain(context.Background(), p, 60, 1)
	require.NoError(t, err)
	assert.InDelta(t, float64(60*time.Second+waitGrace), float64(sess.deadline[0]), float64(time.Second))
}

func TestProviderTransportError(t *testing.T) {
	sess := &fakeSession{err: errors.New("broken pipe")}
	p := NewProvider(sess, time.Second)

	_, err := p.Invoke(context.Background(), ToolTap, map[string]any{"x": 1, "y": 2})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "call adb_tap")
}

func TestSwipeDefaultsDuration(t *testing.T) {
	sess := &fakeSession{reply: &mcp.CallToolResult{Content: text("swiped")}}
	p := NewProvider(sess, time.Second)

	_, err := Swipe(context.Background(), p, 1, 2, 3, 4, 0)
	require.NoError(t, err)
	args := sess.params[0].Arguments.(map[string]any)
	assert.Equal(t, DefaultSwipeMillis, args["duration_ms"])
}
