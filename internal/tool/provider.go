// Package tool defines the Tool Provider contract consumed by the core and
// helpers for verifying and decoding the envelopes it returns.
//
// The device connection behind a Provider is a singleton owned by the process
// running the core. Providers are not expected to serialize concurrent callers;
// the core never issues two invocations at once.
package tool

import (
	"context"
	"errors"
	"fmt"

	"github.com/harrison/harbor/internal/models"
)

// Provider executes named operations against the device.
// A non-nil error means the invocation itself failed (transport, encoding);
// device-level failures are reported through ToolResult.Success.
type Provider interface {
	Invoke(ctx context.Context, name string, args map[string]any) (models.ToolResult, error)
}

// ProviderFunc adapts a function to the Provider interface.
type ProviderFunc func(ctx context.Context, name string, args map[string]any) (models.ToolResult, error)

// Invoke calls f.
func (f ProviderFunc) Invoke(ctx context.Context, name string, args map[string]any) (models.ToolResult, error) {
	return f(ctx, name, args)
}

// Verify checks a result against the state the caller required.
// It never infers success from a missing observation.
func Verify(res models.ToolResult, expected models.State) error {
	if !res.Success {
		kind := res.ErrorKind
		if kind == "" {
			kind = models.KindTransient
		}
		msg := res.Error
		if msg == "" {
			msg = "tool reported failure"
		}
		return models.NewError(kind, msg, nil)
	}
	if !res.ObservedState.IsKnown() {
		return models.Errorf(models.KindIncomplete, "no observed state (expected %s)", expected)
	}
	if expected.IsKnown() && res.ObservedState != expected {
		return models.Errorf(models.KindStateMismatch, "expected %s, observed %s", expected, res.ObservedState)
	}
	return nil
}

// Expect invokes a tool and verifies the result in one call.
// Invocation errors are classified as transient tool failures.
func Expect(ctx context.Context, p Provider, name string, args map[string]any, expected models.State) (models.ToolResult, error) {
	res, err := p.Invoke(ctx, name, args)
	if err != nil {
		if ctx.Err() != nil {
			return res, models.NewError(models.KindTimeout, fmt.Sprintf("invoke %s", name), ctx.Err()).WithStep(name)
		}
		return res, models.NewError(models.KindTransient, fmt.Sprintf("invoke %s", name), err).WithStep(name)
	}
	if res.ExpectedState == models.StateUnknown {
		res.ExpectedState = expected
	}
	if err := Verify(res, expected); err != nil {
		var ce *models.CoreError
		if errors.As(err, &ce) {
			ce.WithStep(name)
		}
		return res, err
	}
	return res, nil
}

// CopyArgs returns a shallow copy of args with extra entries merged in.
func CopyArgs(args map[string]any, extra map[string]any) map[string]any {
	out := make(map[string]any, len(args)+len(extra))
	for k, v := range args {
		out[k] = v
	}
	for k, v := range extra {
		out[k] = v
	}
	return out
}
