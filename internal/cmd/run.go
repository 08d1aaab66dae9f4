package cmd

import (
	"context"
	"fmt"
	"os"
	"sort"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/harrison/harbor/internal/agent"
	"github.com/harrison/harbor/internal/filelock"
	"github.com/harrison/harbor/internal/history"
	"github.com/harrison/harbor/internal/logger"
	"github.com/harrison/harbor/internal/metrics"
	"github.com/harrison/harbor/internal/models"
	"github.com/harrison/harbor/internal/report"
	"github.com/harrison/harbor/internal/state"
	"github.com/harrison/harbor/internal/tool/mcpclient"
)

// NewRunCommand creates the run command
func NewRunCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the automation loop",
		Long: `Connect to the tool server and run scheduled tasks until interrupted.

The loop runs one task at a time. Interrupt tasks (retirement when the dock
fills up, companion-unit enhancement, reward collection) run at checkpoints
inside the current task, which then resumes where it stopped.

CLI flags override configuration file settings.

Examples:
  harbor run                         # Run until Ctrl-C
  harbor run --once                  # Run a single task cycle
  harbor run --log-level debug       # Verbose console and file logs
  harbor run --metrics-addr :9120    # Serve Prometheus metrics`,
		Args: cobra.NoArgs,
		RunE: runCommand,
	}

	cmd.Flags().String("log-level", "", "Log level: trace, debug, info, warn, error")
	cmd.Flags().String("log-dir", "", "Directory for log files")
	cmd.Flags().String("metrics-addr", "", "Serve /metrics on this address (e.g. :9120)")
	cmd.Flags().Bool("once", false, "Run a single task cycle and exit")

	return cmd
}

// runCommand implements the run command logic
func runCommand(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	var logLevelPtr, logDirPtr, metricsAddrPtr *string
	if cmd.Flags().Changed("log-level") {
		v, _ := cmd.Flags().GetString("log-level")
		logLevelPtr = &v
	}
	if cmd.Flags().Changed("log-dir") {
		v, _ := cmd.Flags().GetString("log-dir")
		logDirPtr = &v
	}
	if cmd.Flags().Changed("metrics-addr") {
		v, _ := cmd.Flags().GetString("metrics-addr")
		metricsAddrPtr = &v
	}
	cfg.MergeWithFlags(logLevelPtr, logDirPtr, metricsAddrPtr)

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	once, _ := cmd.Flags().GetBool("once")

	lock, err := filelock.Acquire(cfg.StateDir)
	if err != nil {
		return fmt.Errorf("another harbor instance owns %s: %w", cfg.StateDir, err)
	}
	defer lock.Unlock()

	// Create multi-logger that writes to both console and file
	consoleLog := logger.NewConsoleLogger(cmd.OutOrStdout(), cfg.LogLevel)
	fileLog, err := logger.NewFileLoggerWithDirAndLevel(cfg.LogDir, cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to create file logger: %w", err)
	}
	defer fileLog.Close()
	log := logger.NewMultiLogger(consoleLog, fileLog)

	store, err := history.NewStore(cfg.HistoryDB)
	if err != nil {
		return fmt.Errorf("failed to open history: %w", err)
	}
	defer store.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	env := make(map[string]string, len(cfg.MCP.Env))
	for k, v := range cfg.MCP.Env {
		env[k] = os.ExpandEnv(v)
	}
	provider, err := mcpclient.Dial(ctx, mcpclient.Config{
		Command: cfg.MCP.Command,
		Args:    cfg.MCP.Args,
		Env:     env,
		Timeout: cfg.ToolTimeout,
		Version: Version,
	})
	if err != nil {
		return fmt.Errorf("failed to connect to tool server: %w", err)
	}
	defer provider.Close()

	m := metrics.New()
	mgr := state.NewManager(cfg.StateDir)
	a, err := agent.New(cfg, agent.Deps{
		Provider: provider,
		Logger:   log,
		State:    mgr,
		History:  store,
		Metrics:  m,
		Reports:  report.NewWriter(afero.NewOsFs(), cfg.ReportDir),
	})
	if err != nil {
		return err
	}

	watcher, err := state.Watch(mgr)
	if err != nil {
		log.Warnf("Resume requests will only be read between cycles: %v", err)
	} else {
		defer watcher.Close()
		a.WakeOn(watcher.Changes())
		go func() {
			for err := range watcher.Errors() {
				log.Debugf("State watcher: %v", err)
			}
		}()
	}

	if cfg.MetricsAddr != "" {
		go func() {
			if err := m.Serve(ctx, cfg.MetricsAddr); err != nil {
				log.Warnf("Metrics endpoint %s: %v", cfg.MetricsAddr, err)
			}
		}()
		log.Infof("Serving metrics on %s/metrics", cfg.MetricsAddr)
	}

	log.Infof("Run log: %s (session %s)", fileLog.RunFile(), store.SessionID())
	summary, err := a.Run(ctx, once)
	if err != nil {
		return fmt.Errorf("run failed: %w", err)
	}

	printTakeoverHints(cmd, a, summary)
	return nil
}

// printTakeoverHints tells the operator how to hand control back.
func printTakeoverHints(cmd *cobra.Command, a *agent.Agent, summary models.RunSummary) {
	var pending []models.Domain
	for _, d := range models.AllDomains() {
		if _, ok := a.Gate().Active(d); ok {
			pending = append(pending, d)
		}
	}
	if len(pending) == 0 {
		return
	}
	sort.Slice(pending, func(i, j int) bool { return pending[i] < pending[j] })

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "\n%d domain(s) need a human (%d takeover(s) this session):\n", len(pending), summary.Takeovers)
	for _, d := range pending {
		fmt.Fprintf(out, "  harbor resume %s\n", d)
	}
}
