// Package tooltest provides a scripted Tool Provider for tests.
package tooltest

import (
	"context"
	"fmt"
	"sync"

	"github.com/harrison/harbor/internal/models"
)

// Call records one invocation.
type Call struct {
	Name string
	Args map[string]any
}

// Reply is a scripted response.
type Reply struct {
	Result models.ToolResult
	Err    error
}

// HandlerFunc computes a reply dynamically.
type HandlerFunc func(ctx context.Context, args map[string]any) Reply

// Provider replies from per-tool queues or handlers and records every call.
// The last queued reply for a tool is repeated once the queue drains.
type Provider struct {
	mu       sync.Mutex
	calls    []Call
	queues   map[string][]Reply
	handlers map[string]HandlerFunc
}

// New creates an empty scripted provider.
func New() *Provider {
	return &Provider{
		queues:   make(map[string][]Reply),
		handlers: make(map[string]HandlerFunc),
	}
}

// Queue appends replies for a tool.
func (p *Provider) Queue(name string, replies ...Reply) *Provider {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.queues[name] = append(p.queues[name], replies...)
	return p
}

// On installs a handler for a tool. Handlers take precedence over queues.
func (p *Provider) On(name string, fn HandlerFunc) *Provider {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handlers[name] = fn
	return p
}

// Invoke implements tool.Provider.
func (p *Provider) Invoke(ctx context.Context, name string, args map[string]any) (models.ToolResult, error) {
	p.mu.Lock()
	p.calls = append(p.calls, Call{Name: name, Args: args})
	handler := p.handlers[name]
	var reply Reply
	var scripted bool
	if handler == nil {
		queue := p.queues[name]
		if len(queue) > 0 {
			reply = queue[0]
			scripted = true
			if len(queue) > 1 {
				p.queues[name] = queue[1:]
			}
		}
	}
	p.mu.Unlock()

	if handler != nil {
		reply = handler(ctx, args)
		return reply.Result, reply.Err
	}
	if !scripted {
		return models.ToolResult{}, fmt.Errorf("tooltest: unscripted tool %q", name)
	}
	return reply.Result, reply.Err
}

// Calls returns a copy of every recorded call.
func (p *Provider) Calls() []Call {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Call(nil), p.calls...)
}

// Names returns the tool names in invocation order.
func (p *Provider) Names() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	names := make([]string, len(p.calls))
	for i, c := range p.calls {
		names[i] = c.Name
	}
	return names
}

// Count returns how many times a tool was invoked.
func (p *Provider) Count(name string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, c := range p.calls {
		if c.Name == name {
			n++
		}
	}
	return n
}

// OK replies success with an observed state.
func OK(observed models.State) Reply {
	return Reply{Result: models.ToolResult{Success: true, ObservedState: observed, ExpectedState: observed}}
}

// OKData replies success with an observed state and payload.
func OKData(observed models.State, data map[string]any) Reply {
	r := OK(observed)
	r.Result.Data = data
	return r
}

// Fail replies with a device-level failure.
func Fail(msg string) Reply {
	return Reply{Result: models.ToolResult{Success: false, Error: msg}}
}

// Err replies with an invocation error.
func Err(err error) Reply {
	return Reply{Err: err}
}
