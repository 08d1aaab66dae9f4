package mcpclient

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/harrison/harbor/internal/models"
)

// envelope is the server's reply shape.
type envelope struct {
	Success       *bool           `json:"success"`
	Data          json.RawMessage `json:"data"`
	Error         string          `json:"error"`
	ErrorKind     string          `json:"error_kind"`
	ObservedState string          `json:"observed_state"`
	ExpectedState string          `json:"expected_state"`
}

// Decode converts a tool reply into a ToolResult. Structured content wins
// over text; text that is not an envelope is a success without an observed
// state, which callers requiring a state will treat as incomplete.
func Decode(res *mcp.CallToolResult) (models.ToolResult, error) {
	if res == nil {
		return models.ToolResult{}, fmt.Errorf("empty tool result")
	}
	text := firstText(res.Content)

	if res.IsError {
		msg := text
		if msg == "" {
			msg = "tool reported an error"
		}
		return models.ToolResult{Success: false, Error: msg, ErrorKind: models.KindTransient}, nil
	}

	if res.StructuredContent != nil {
		raw, err := json.Marshal(res.StructuredContent)
		if err != nil {
			return models.ToolResult{}, fmt.Errorf("encode structured content: %w", err)
		}
		if out, ok, err := decodeEnvelope(raw); ok || err != nil {
			return out, err
		}
	}

	trimmed := strings.TrimSpace(text)
	if strings.HasPrefix(trimmed, "{") {
		if out, ok, err := decodeEnvelope([]byte(trimmed)); ok || err != nil {
			return out, err
		}
	}

	out := models.ToolResult{Success: true}
	if trimmed != "" {
		out.Data = map[string]any{"text": trimmed}
	}
	return out, nil
}

// decodeEnvelope reports ok=false when raw is JSON without a success field.
func decodeEnvelope(raw []byte) (models.ToolResult, bool, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return models.ToolResult{}, false, nil
	}
	if env.Success == nil {
		return models.ToolResult{}, false, nil
	}

	out := models.ToolResult{
		Success:       *env.Success,
		Error:         env.Error,
		ErrorKind:     models.Kind(env.ErrorKind),
		ObservedState: models.State(env.ObservedState),
		ExpectedState: models.State(env.ExpectedState),
	}
	if !out.Success && out.ErrorKind == "" {
		out.ErrorKind = models.KindTransient
	}
	if len(env.Data) > 0 && string(env.Data) != "null" {
		var obj map[string]any
		if err := json.Unmarshal(env.Data, &obj); err == nil {
			out.Data = obj
		} else {
			var v any
			if err := json.Unmarshal(env.Data, &v); err != nil {
				return models.ToolResult{}, true, fmt.Errorf("decode envelope data: %w", err)
			}
			out.Data = map[string]any{"value": v}
		}
	}
	return out, true, nil
}

// Normalize fills the observed state of plain-text replies from tools whose
// text is itself the observation: the current page name, or the
// "navigated to <page>" confirmation.
func Normalize(name string, args map[string]any, res models.ToolResult) models.ToolResult {
	if !res.Success || res.ObservedState.IsKnown() {
		return res
	}
	text, _ := res.Data["text"].(string)
	if text == "" {
		return res
	}
	switch name {
	case ToolCurrentState:
		res.ObservedState = models.State(text)
	case ToolGoto:
		page, _ := args["page"].(string)
		if page != "" && text == "navigated to "+page {
			res.ObservedState = models.State(page)
			res.ExpectedState = models.State(page)
		}
	}
	return res
}

func firstText(content []mcp.Content) string {
	for _, c := range content {
		if t, ok := c.(*mcp.TextContent); ok {
			return t.Text
		}
	}
	return ""
}
