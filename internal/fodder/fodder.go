// Package fodder selects low-value resources to feed into a capped target
// and consumes them in batches under a balance constraint.
package fodder

import (
	"context"
	"fmt"

	"github.com/harrison/harbor/internal/models"
)

// Logger receives batch progress. It may be nil.
type Logger interface {
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
}

// Select returns the candidates eligible for consumption under levelCap.
// Empty slots, already-selected candidates and candidates above cap are
// excluded. The input slice is not modified.
func Select(cands []models.FodderCandidate, levelCap int) []models.FodderCandidate {
	var out []models.FodderCandidate
	for _, c := range cands {
		if c.Empty || c.Selected {
			continue
		}
		if c.Level > levelCap {
			continue
		}
		out = append(out, c)
	}
	return out
}

// Source is the device surface one fodder domain consumes from.
type Source interface {
	// Balance reads the consumable resource balance.
	Balance(ctx context.Context) (int, error)
	// Scan lists the candidates currently offered.
	Scan(ctx context.Context) ([]models.FodderCandidate, error)
	// Confirm consumes the selected candidates and returns how many were used.
	Confirm(ctx context.Context, selected []models.FodderCandidate) (int, error)
}

// StopReason tells why a Consume loop ended.
type StopReason string

// Stop reasons
const (
	StopBelowBalance StopReason = "balance_low"
	StopNoEligible   StopReason = "none_eligible"
	StopMaxBatches   StopReason = "max_batches"
	StopScanEmpty    StopReason = "scan_empty"
)

// Result summarizes a Consume loop.
type Result struct {
	Batches     int        // Confirm actions emitted
	Consumed    int        // Candidates consumed across all batches
	Stop        StopReason // Why the loop ended
	LastBalance int        // Last balance read (-1 when balance is unchecked)
}

// Err returns a ResourceExhausted error when the balance guard stopped the
// loop before any progress. Other outcomes return nil.
func (r Result) Err() error {
	if r.Stop == StopBelowBalance && r.Batches == 0 {
		return models.Errorf(models.KindResourceExhausted, "balance %d below threshold", r.LastBalance)
	}
	return nil
}

// Engine runs the greedy filter-and-consume loop.
type Engine struct {
	Domain     models.Domain
	MinBalance int // 0 disables the balance guard
	MaxBatches int // Upper bound on batches per invocation
	Logger     Logger
}

// Consume repeatedly scans, selects under cap and confirms. The balance is
// re-read before every batch and the loop stops as soon as it drops below
// MinBalance.
func (e *Engine) Consume(ctx context.Context, src Source, levelCap int) (Result, error) {
	if e.MaxBatches <= 0 {
		return Result{}, models.Errorf(models.KindConfigurationInvalid, "max batches must be > 0, got %d", e.MaxBatches).WithDomain(e.Domain)
	}

	res := Result{LastBalance: -1}
	for res.Batches < e.MaxBatches {
		if err := ctx.Err(); err != nil {
			return res, models.NewError(models.KindTimeout, "fodder consume abandoned", err).WithDomain(e.Domain)
		}

		if e.MinBalance > 0 {
			bal, err := src.Balance(ctx)
			if err != nil {
				return res, fmt.Errorf("read balance: %w", err)
			}
			res.LastBalance = bal
			if bal < e.MinBalance {
				res.Stop = StopBelowBalance
				if e.Logger != nil {
					e.Logger.Warnf("Fodder `%s` stopped: balance %d below %d", e.Domain, bal, e.MinBalance)
				}
				return res, nil
			}
		}

		cands, err := src.Scan(ctx)
		if err != nil {
			return res, fmt.Errorf("scan candidates: %w", err)
		}
		if len(cands) == 0 {
			res.Stop = StopScanEmpty
			return res, nil
		}
		eligible := Select(cands, levelCap)
		if len(eligible) == 0 {
			res.Stop = StopNoEligible
			return res, nil
		}

		n, err := src.Confirm(ctx, eligible)
		if err != nil {
			return res, fmt.Errorf("confirm batch %d: %w", res.Batches+1, err)
		}
		res.Batches++
		res.Consumed += n
		if e.Logger != nil {
			e.Logger.Infof("Fodder `%s` batch %d: balance %d, consumed %d", e.Domain, res.Batches, res.LastBalance, n)
		}
		if n == 0 {
			// Confirm made no progress; rescanning would see the same set
			res.Stop = StopNoEligible
			return res, nil
		}
	}
	res.Stop = StopMaxBatches
	return res, nil
}
