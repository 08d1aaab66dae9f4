package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/harrison/harbor/internal/models"
)

// MaxEnhanceIndex is the number of enhancement target slots.
const MaxEnhanceIndex = 12

// validate is a singleton validator instance
var validate = validator.New()

// IntervalConfig holds the cooldowns of one domain.
type IntervalConfig struct {
	Success time.Duration
	Failure time.Duration
}

// RetirementConfig represents the decision engine options
type RetirementConfig struct {
	// RetireMode is one_click_retire or enhance
	RetireMode string `yaml:"retire_mode" validate:"required"`

	// ShipToEnhance is all or favourite
	ShipToEnhance string `yaml:"ship_to_enhance" validate:"required"`

	// MaxFeedLevel is the highest fodder level fed into a target
	MaxFeedLevel int `yaml:"max_feed_level" validate:"min=1"`

	// EnhanceIndex is the starting enhancement target (1..12)
	EnhanceIndex int `yaml:"enhance_index" validate:"min=1,max=12"`

	// MinFreeSlotsRequired is the slot minimum an enhance pass must free
	MinFreeSlotsRequired int `yaml:"min_free_slots_required" validate:"min=1"`

	// ResourceMinBalance stops fodder batches once the balance drops below it (0 disables)
	ResourceMinBalance int `yaml:"resource_min_balance" validate:"min=0"`

	// MaxBatches bounds the fodder batches of one pass
	MaxBatches int `yaml:"max_batches" validate:"min=1"`

	// MeowfficerMinBalance is the balance guard of the companion-unit domain
	MeowfficerMinBalance int `yaml:"meowfficer_min_balance" validate:"min=0"`

	// MeowfficerMaxLevel is the fodder level cap of the companion-unit domain
	MeowfficerMaxLevel int `yaml:"meowfficer_max_level" validate:"min=1"`
}

// MCPConfig describes how to launch the tool server
type MCPConfig struct {
	Command string            `yaml:"command"`
	Args    []string          `yaml:"args"`
	Env     map[string]string `yaml:"env"`
}

// Config represents harbor configuration options
type Config struct {
	// LogLevel is one of trace, debug, info, warn, error
	LogLevel string `validate:"required"`

	// LogDir holds per-run log files
	LogDir string

	// StateDir holds the persisted snapshot and resume requests
	StateDir string

	// HistoryDB is the SQLite run history path
	HistoryDB string

	// ReportDir receives takeover reports
	ReportDir string

	// MetricsAddr serves /metrics when set (e.g. ":9120")
	MetricsAddr string

	// ToolTimeout bounds a single tool invocation
	ToolTimeout time.Duration `validate:"min=0"`

	// TransientRetries is how often a failed invocation is retried in place
	TransientRetries int `validate:"min=0,max=10"`

	// IdlePoll bounds the sleep when no task is eligible
	IdlePoll time.Duration `validate:"min=0"`

	// BattleWait bounds the result-screen wait of combat
	BattleWait time.Duration `validate:"min=0"`

	Retirement RetirementConfig

	TaskIntervals map[models.Domain]IntervalConfig
	TaskPriority  map[models.Domain]int
	TasksEnabled  map[models.Domain]bool

	MCP MCPConfig
}

// DefaultConfig returns a Config with sensible default values
func DefaultConfig() *Config {
	return &Config{
		LogLevel:         "info",
		ToolTimeout:      90 * time.Second,
		TransientRetries: 2,
		IdlePoll:         30 * time.Second,
		BattleWait:       5 * time.Minute,
		Retirement: RetirementConfig{
			RetireMode:           models.RetireModeOneClick.String(),
			ShipToEnhance:        models.ShipFilterAll.String(),
			MaxFeedLevel:         1,
			EnhanceIndex:         1,
			MinFreeSlotsRequired: 3,
			ResourceMinBalance:   1000,
			MaxBatches:           10,
			MeowfficerMinBalance: 1000,
			MeowfficerMaxLevel:   1,
		},
		TaskIntervals: map[models.Domain]IntervalConfig{
			models.DomainCombat:     {Success: 10 * time.Minute, Failure: 5 * time.Minute},
			models.DomainCommission: {Success: time.Hour, Failure: 10 * time.Minute},
			models.DomainReward:     {Success: 30 * time.Minute, Failure: 5 * time.Minute},
			models.DomainRetirement: {Success: time.Hour, Failure: 10 * time.Minute},
			models.DomainEnhance:    {Success: 2 * time.Hour, Failure: 30 * time.Minute},
			models.DomainMeowfficer: {Success: 6 * time.Hour, Failure: 30 * time.Minute},
		},
		TaskPriority: map[models.Domain]int{
			models.DomainRetirement: 8,
			models.DomainCommission: 6,
			models.DomainCombat:     5,
			models.DomainReward:     4,
			models.DomainEnhance:    2,
			models.DomainMeowfficer: 1,
		},
		TasksEnabled: map[models.Domain]bool{
			models.DomainCombat:     true,
			models.DomainCommission: true,
			models.DomainReward:     true,
			models.DomainRetirement: true,
			models.DomainEnhance:    false,
			models.DomainMeowfficer: true,
		},
		MCP: MCPConfig{
			Command: "python",
			Args:    []string{"-m", "alas_mcp_server"},
		},
	}
}

// yamlConfig mirrors the file layout. Durations are strings and optional
// integers are pointers so zero values from the file can be told apart.
type yamlConfig struct {
	LogLevel         string `yaml:"log_level"`
	LogDir           string `yaml:"log_dir"`
	StateDir         string `yaml:"state_dir"`
	HistoryDB        string `yaml:"history_db"`
	ReportDir        string `yaml:"report_dir"`
	MetricsAddr      string `yaml:"metrics_addr"`
	ToolTimeout      string `yaml:"tool_timeout"`
	TransientRetries *int   `yaml:"transient_retries"`
	IdlePoll         string `yaml:"idle_poll"`
	BattleWait       string `yaml:"battle_wait"`

	Retirement struct {
		RetireMode           string `yaml:"retire_mode"`
		ShipToEnhance        string `yaml:"ship_to_enhance"`
		MaxFeedLevel         *int   `yaml:"max_feed_level"`
		EnhanceIndex         *int   `yaml:"enhance_index"`
		MinFreeSlotsRequired *int   `yaml:"min_free_slots_required"`
		ResourceMinBalance   *int   `yaml:"resource_min_balance"`
		MaxBatches           *int   `yaml:"max_batches"`
		MeowfficerMinBalance *int   `yaml:"meowfficer_min_balance"`
		MeowfficerMaxLevel   *int   `yaml:"meowfficer_max_level"`
	} `yaml:"retirement"`

	TaskIntervals map[string]struct {
		Success string `yaml:"success"`
		Failure string `yaml:"failure"`
	} `yaml:"task_intervals"`
	TaskPriority map[string]int  `yaml:"task_priority"`
	TasksEnabled map[string]bool `yaml:"tasks_enabled"`

	MCP *MCPConfig `yaml:"mcp"`
}

// LoadConfig loads configuration from the specified file path
// If the file doesn't exist, returns default configuration without error
// If the file exists but is malformed, returns an error
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var y yamlConfig
	if err := yaml.Unmarshal(data, &y); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.apply(&y); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadConfigFromDir loads configuration from .harbor/config.yaml in the specified directory
// If the directory or file doesn't exist, returns default configuration without error
func LoadConfigFromDir(dir string) (*Config, error) {
	return LoadConfig(filepath.Join(dir, ".harbor", "config.yaml"))
}

func (c *Config) apply(y *yamlConfig) error {
	setString(&c.LogLevel, y.LogLevel)
	setString(&c.LogDir, y.LogDir)
	setString(&c.StateDir, y.StateDir)
	setString(&c.HistoryDB, y.HistoryDB)
	setString(&c.ReportDir, y.ReportDir)
	setString(&c.MetricsAddr, y.MetricsAddr)
	setInt(&c.TransientRetries, y.TransientRetries)

	if err := setDuration(&c.ToolTimeout, "tool_timeout", y.ToolTimeout); err != nil {
		return err
	}
	if err := setDuration(&c.IdlePoll, "idle_poll", y.IdlePoll); err != nil {
		return err
	}
	if err := setDuration(&c.BattleWait, "battle_wait", y.BattleWait); err != nil {
		return err
	}

	r := &c.Retirement
	setString(&r.RetireMode, y.Retirement.RetireMode)
	setString(&r.ShipToEnhance, y.Retirement.ShipToEnhance)
	setInt(&r.MaxFeedLevel, y.Retirement.MaxFeedLevel)
	setInt(&r.EnhanceIndex, y.Retirement.EnhanceIndex)
	setInt(&r.MinFreeSlotsRequired, y.Retirement.MinFreeSlotsRequired)
	setInt(&r.ResourceMinBalance, y.Retirement.ResourceMinBalance)
	setInt(&r.MaxBatches, y.Retirement.MaxBatches)
	setInt(&r.MeowfficerMinBalance, y.Retirement.MeowfficerMinBalance)
	setInt(&r.MeowfficerMaxLevel, y.Retirement.MeowfficerMaxLevel)

	for name, iv := range y.TaskIntervals {
		d := models.Domain(name)
		cur := c.TaskIntervals[d]
		if err := setDuration(&cur.Success, "task_intervals."+name+".success", iv.Success); err != nil {
			return err
		}
		if err := setDuration(&cur.Failure, "task_intervals."+name+".failure", iv.Failure); err != nil {
			return err
		}
		c.TaskIntervals[d] = cur
	}
	for name, p := range y.TaskPriority {
		c.TaskPriority[models.Domain(name)] = p
	}
	for name, on := range y.TasksEnabled {
		c.TasksEnabled[models.Domain(name)] = on
	}

	if y.MCP != nil {
		setString(&c.MCP.Command, y.MCP.Command)
		if y.MCP.Args != nil {
			c.MCP.Args = y.MCP.Args
		}
		if y.MCP.Env != nil {
			c.MCP.Env = y.MCP.Env
		}
	}
	return nil
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setInt(dst *int, v *int) {
	if v != nil {
		*dst = *v
	}
}

func setDuration(dst *time.Duration, key, raw string) error {
	if raw == "" {
		return nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid %s format %q: %w", key, raw, err)
	}
	*dst = d
	return nil
}

// ResolvePaths fills unset paths relative to the harbor home directory.
func (c *Config) ResolvePaths(home string) {
	if c.LogDir == "" {
		c.LogDir = filepath.Join(home, "logs")
	}
	if c.StateDir == "" {
		c.StateDir = filepath.Join(home, "state")
	}
	if c.HistoryDB == "" {
		c.HistoryDB = filepath.Join(home, "history.db")
	}
	if c.ReportDir == "" {
		c.ReportDir = filepath.Join(home, "reports")
	}
}

// MergeWithFlags merges CLI flags into the configuration
// Non-nil flag values override configuration values
func (c *Config) MergeWithFlags(logLevel *string, logDir *string, metricsAddr *string) {
	if logLevel != nil {
		c.LogLevel = *logLevel
	}
	if logDir != nil {
		c.LogDir = *logDir
	}
	if metricsAddr != nil {
		c.MetricsAddr = *metricsAddr
	}
}

// Validate validates the configuration values.
// Every failure is a ConfigurationInvalid error; nothing is clamped.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return models.NewError(models.KindConfigurationInvalid, "invalid configuration", err)
	}

	validLevels := map[string]bool{
		"trace": true,
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLevels[c.LogLevel] {
		return models.Errorf(models.KindConfigurationInvalid, "invalid log_level %q, must be one of: trace, debug, info, warn, error", c.LogLevel)
	}

	if _, err := models.ParseRetireMode(c.Retirement.RetireMode); err != nil {
		return err
	}
	if _, err := models.ParseShipFilter(c.Retirement.ShipToEnhance); err != nil {
		return err
	}
	if c.Retirement.EnhanceIndex > MaxEnhanceIndex {
		return models.Errorf(models.KindConfigurationInvalid, "retirement.enhance_index must be within 1..%d, got %d", MaxEnhanceIndex, c.Retirement.EnhanceIndex)
	}

	known := make(map[models.Domain]bool)
	for _, d := range models.AllDomains() {
		known[d] = true
	}
	for _, d := range domainKeys(c) {
		if !known[d] {
			return models.Errorf(models.KindConfigurationInvalid, "unknown task domain %q (want one of %s)", d, joinDomains(models.AllDomains()))
		}
	}
	for d, iv := range c.TaskIntervals {
		if iv.Success < 0 || iv.Failure < 0 {
			return models.Errorf(models.KindConfigurationInvalid, "task_intervals.%s must be >= 0", d)
		}
	}

	return nil
}

func domainKeys(c *Config) []models.Domain {
	var out []models.Domain
	for d := range c.TaskIntervals {
		out = append(out, d)
	}
	for d := range c.TaskPriority {
		out = append(out, d)
	}
	for d := range c.TasksEnabled {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func joinDomains(ds []models.Domain) string {
	parts := make([]string, len(ds))
	for i, d := range ds {
		parts[i] = string(d)
	}
	return strings.Join(parts, ", ")
}

// RetireMode returns the parsed retire mode. Call after Validate.
func (c *Config) RetireMode() models.RetireMode {
	m, _ := models.ParseRetireMode(c.Retirement.RetireMode)
	return m
}

// ShipFilter returns the parsed ship filter. Call after Validate.
func (c *Config) ShipFilter() models.ShipFilter {
	f, _ := models.ParseShipFilter(c.Retirement.ShipToEnhance)
	return f
}

// TaskSpecs builds one TaskSpec per known domain in registration order.
func (c *Config) TaskSpecs() []models.TaskSpec {
	domains := models.AllDomains()
	specs := make([]models.TaskSpec, 0, len(domains))
	for _, d := range domains {
		iv := c.TaskIntervals[d]
		enabled := c.TasksEnabled[d]
		spec := models.TaskSpec{
			ID:              models.TaskID(d),
			Domain:          d,
			SuccessInterval: iv.Success,
			FailureInterval: iv.Failure,
			Priority:        c.TaskPriority[d],
			Enabled:         enabled,
		}
		if !enabled {
			spec.DisabledReason = "disabled in config"
		}
		specs = append(specs, spec)
	}
	return specs
}
