// Package mcpclient implements the Tool Provider over an MCP stdio session
// with the device automation server.
package mcpclient

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/harrison/harbor/internal/models"
)

// waitGrace is added to a tool's own max_wait_s when bounding the call.
const waitGrace = 5 * time.Second

// Session is the part of an MCP client session the provider uses.
type Session interface {
	CallTool(ctx context.Context, params *mcp.CallToolParams) (*mcp.CallToolResult, error)
	Close() error
}

// Config describes how to launch the tool server.
type Config struct {
	Command string
	Args    []string
	Env     map[string]string
	Timeout time.Duration // Per-call bound when the tool has no max_wait_s
	Version string
}

// Provider calls MCP tools and decodes their envelopes.
type Provider struct {
	session Session
	timeout time.Duration
}

// NewProvider wraps an existing session.
func NewProvider(s Session, timeout time.Duration) *Provider {
	return &Provider{session: s, timeout: timeout}
}

// Dial launches the configured server command and connects to it over stdio.
func Dial(ctx context.Context, cfg Config) (*Provider, error) {
	if cfg.Command == "" {
		return nil, models.Errorf(models.KindConfigurationInvalid, "mcp command is required")
	}
	cmd := exec.Command(cfg.Command, cfg.Args...)
	cmd.Stderr = os.Stderr
	if len(cfg.Env) > 0 {
		cmd.Env = os.Environ()
		for k, v := range cfg.Env {
			cmd.Env = append(cmd.Env, k+"="+v)
		}
	}

	version := cfg.Version
	if version == "" {
		version = "dev"
	}
	client := mcp.NewClient(&mcp.Implementation{Name: "harbor", Version: version}, nil)
	session, err := client.Connect(ctx, mcp.NewCommandTransport(cmd))
	if err != nil {
		return nil, fmt.Errorf("connect to %s: %w", cfg.Command, err)
	}
	return NewProvider(session, cfg.Timeout), nil
}

// Invoke calls the named tool. Transport failures are returned as errors;
// tool-level failures come back as unsuccessful results.
func (p *Provider) Invoke(ctx context.Context, name string, args map[string]any) (models.ToolResult, error) {
	if bound := p.bound(args); bound > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, bound)
		defer cancel()
	}

	if args == nil {
		args = map[string]any{}
	}
	res, err := p.session.CallTool(ctx, &mcp.CallToolParams{Name: name, Arguments: args})
	if err != nil {
		return models.ToolResult{}, fmt.Errorf("call %s: %w", name, err)
	}
	out, err := Decode(res)
	if err != nil {
		return out, fmt.Errorf("decode %s: %w", name, err)
	}
	return Normalize(name, args, out), nil
}

// bound is the call deadline: the tool's own max_wait_s plus a grace period,
// or the provider timeout.
func (p *Provider) bound(args map[string]any) time.Duration {
	switch v := args["max_wait_s"].(type) {
	case float64:
		return time.Duration(v*float64(time.Second)) + waitGrace
	case int:
		return time.Duration(v)*time.Second + waitGrace
	}
	return p.timeout
}

// Close ends the session and the server process.
func (p *Provider) Close() error {
	return p.session.Close()
}
