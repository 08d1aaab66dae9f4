package fodder

import (
	"context"

	"github.com/harrison/harbor/internal/models"
	"github.com/harrison/harbor/internal/tool"
)

// ToolSource is a Source backed by three named tools.
type ToolSource struct {
	Provider    tool.Provider
	BalanceTool string
	ScanTool    string
	ConfirmTool string
	ScanArgs    map[string]any
}

// MeowfficerSource returns the companion-unit source.
func MeowfficerSource(p tool.Provider) *ToolSource {
	return &ToolSource{
		Provider:    p,
		BalanceTool: "meowfficer_balance",
		ScanTool:    "meowfficer_scan",
		ConfirmTool: "meowfficer_confirm",
	}
}

// Balance implements Source.
func (s *ToolSource) Balance(ctx context.Context) (int, error) {
	res, err := tool.Expect(ctx, s.Provider, s.BalanceTool, nil, models.StateUnknown)
	if err != nil {
		return 0, err
	}
	return tool.Int(res.Data, "balance")
}

// Scan implements Source.
func (s *ToolSource) Scan(ctx context.Context) ([]models.FodderCandidate, error) {
	res, err := tool.Expect(ctx, s.Provider, s.ScanTool, s.ScanArgs, models.StateUnknown)
	if err != nil {
		return nil, err
	}
	return tool.Candidates(res.Data)
}

// Confirm implements Source.
func (s *ToolSource) Confirm(ctx context.Context, selected []models.FodderCandidate) (int, error) {
	ids := make([]string, len(selected))
	for i, c := range selected {
		ids[i] = c.ID
	}
	res, err := tool.Expect(ctx, s.Provider, s.ConfirmTool, map[string]any{"ids": ids}, models.StateUnknown)
	if err != nil {
		return 0, err
	}
	return tool.IntOr(res.Data, "consumed", len(selected)), nil
}
