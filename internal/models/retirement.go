package models

import (
	"fmt"
	"strings"
)

// RetireMode is the strategy used to free dock capacity.
type RetireMode int

const (
	// RetireModeOneClick retires eligible ships in one pass.
	RetireModeOneClick RetireMode = iota + 1
	// RetireModeEnhance feeds ships into an enhancement target.
	RetireModeEnhance
)

// ParseRetireMode parses the configuration spelling of a retire mode.
func ParseRetireMode(s string) (RetireMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "one_click_retire":
		return RetireModeOneClick, nil
	case "enhance":
		return RetireModeEnhance, nil
	default:
		return 0, Errorf(KindConfigurationInvalid, "unknown retire mode %q (want one_click_retire or enhance)", s)
	}
}

// String returns the configuration spelling of the mode.
func (m RetireMode) String() string {
	switch m {
	case RetireModeOneClick:
		return "one_click_retire"
	case RetireModeEnhance:
		return "enhance"
	default:
		return fmt.Sprintf("RetireMode(%d)", int(m))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (m RetireMode) MarshalText() ([]byte, error) {
	switch m {
	case RetireModeOneClick, RetireModeEnhance:
		return []byte(m.String()), nil
	default:
		return nil, fmt.Errorf("invalid retire mode %d", int(m))
	}
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *RetireMode) UnmarshalText(text []byte) error {
	parsed, err := ParseRetireMode(string(text))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// ShipFilter selects which ships may be fed into an enhancement target.
type ShipFilter int

const (
	// ShipFilterAll considers every ship in the dock.
	ShipFilterAll ShipFilter = iota + 1
	// ShipFilterFavourite considers favourited ships only.
	ShipFilterFavourite
)

// ParseShipFilter parses the configuration spelling of a ship filter.
func ParseShipFilter(s string) (ShipFilter, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "all":
		return ShipFilterAll, nil
	case "favourite", "favorite":
		return ShipFilterFavourite, nil
	default:
		return 0, Errorf(KindConfigurationInvalid, "unknown ship filter %q (want all or favourite)", s)
	}
}

// String returns the configuration spelling of the filter.
func (f ShipFilter) String() string {
	switch f {
	case ShipFilterAll:
		return "all"
	case ShipFilterFavourite:
		return "favourite"
	default:
		return fmt.Sprintf("ShipFilter(%d)", int(f))
	}
}

// LadderStage is a rung of the retirement escalation ladder.
type LadderStage int

const (
	StageInitial      LadderStage = 0 // Run the active branch as configured
	StageResetFilters LadderStage = 1 // Clear soft filters, retry
	StageWidenKeep    LadderStage = 2 // Widen the persistent keep policy, retry
	StageEscalate     LadderStage = 3 // Hand over to a human
)

// String returns a short description of the stage.
func (s LadderStage) String() string {
	switch s {
	case StageInitial:
		return "initial"
	case StageResetFilters:
		return "reset filters"
	case StageWidenKeep:
		return "widen keep policy"
	case StageEscalate:
		return "escalate"
	default:
		return fmt.Sprintf("stage(%d)", int(s))
	}
}

// RetirementState is the decision engine's persisted record. It is passed
// into and returned from every engine invocation and never re-derived.
type RetirementState struct {
	Mode            RetireMode  `json:"mode"`
	UnableToEnhance bool        `json:"unable_to_enhance"`
	Stage           LadderStage `json:"stage"`
	EnhanceIndex    int         `json:"enhance_index"`
}

// NewRetirementState creates the initial state for a configured mode and index.
func NewRetirementState(mode RetireMode, enhanceIndex int) RetirementState {
	return RetirementState{Mode: mode, EnhanceIndex: enhanceIndex}
}

// Escalated reports whether the ladder ended in a takeover that is not yet cleared.
func (s RetirementState) Escalated() bool {
	return s.Stage == StageEscalate
}

// EnhancementTarget is the ship currently receiving fodder.
type EnhancementTarget struct {
	Index int `json:"index"`
	Level int `json:"level"`
	Cap   int `json:"cap"`
}

// Capped reports whether the target cannot be enhanced further.
func (t EnhancementTarget) Capped() bool {
	return t.Cap > 0 && t.Level >= t.Cap
}

// FodderCandidate is one scanned slot that might be consumed.
type FodderCandidate struct {
	ID       string `json:"id"`
	Level    int    `json:"level"`
	Category string `json:"category"`
	Empty    bool   `json:"empty"`
	Selected bool   `json:"selected"`
}
