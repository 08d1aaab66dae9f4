// Package metrics exposes the agent's Prometheus counters and gauges.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/harrison/harbor/internal/models"
)

// Metrics holds the agent's collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	taskRuns       *prometheus.CounterVec
	taskDuration   *prometheus.HistogramVec
	interrupts     *prometheus.CounterVec
	ladderStages   *prometheus.CounterVec
	fodderConsumed *prometheus.CounterVec
	takeovers      *prometheus.CounterVec
	taskEnabled    *prometheus.GaugeVec
}

// New creates and registers the collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		taskRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "harbor_task_runs_total",
			Help: "Task cycles by domain and result.",
		}, []string{"domain", "result"}),
		taskDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "harbor_task_duration_seconds",
			Help:    "Task cycle wall time.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 900},
		}, []string{"domain"}),
		interrupts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "harbor_interrupts_total",
			Help: "Interrupts raised by trigger.",
		}, []string{"trigger"}),
		ladderStages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "harbor_ladder_stage_total",
			Help: "Retirement fallback ladder stages entered.",
		}, []string{"stage"}),
		fodderConsumed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "harbor_fodder_consumed_total",
			Help: "Fodder units consumed by domain.",
		}, []string{"domain"}),
		takeovers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "harbor_takeovers_total",
			Help: "HumanTakeover events by domain.",
		}, []string{"domain"}),
		taskEnabled: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "harbor_task_enabled",
			Help: "1 when the domain's task is enabled.",
		}, []string{"domain"}),
	}
	m.registry.MustRegister(
		m.taskRuns,
		m.taskDuration,
		m.interrupts,
		m.ladderStages,
		m.fodderConsumed,
		m.takeovers,
		m.taskEnabled,
	)
	return m
}

// Registry returns the registry the collectors live on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// AfterTask counts a finished task cycle.
func (m *Metrics) AfterTask(ctx context.Context, spec models.TaskSpec, res models.ToolResult, d time.Duration) error {
	result := "success"
	if !res.Success {
		result = "failure"
	}
	m.taskRuns.WithLabelValues(string(spec.Domain), result).Inc()
	m.taskDuration.WithLabelValues(string(spec.Domain)).Observe(d.Seconds())
	return nil
}

// AfterInterrupt counts a handled interrupt.
func (m *Metrics) AfterInterrupt(ctx context.Context, in models.Interrupt, res models.ToolResult) error {
	m.interrupts.WithLabelValues(in.Trigger).Inc()
	return nil
}

// LadderStage counts a fallback ladder stage entered.
func (m *Metrics) LadderStage(stage models.LadderStage) {
	m.ladderStages.WithLabelValues(strconv.Itoa(int(stage))).Inc()
}

// FodderConsumed adds n consumed fodder units.
func (m *Metrics) FodderConsumed(domain models.Domain, n int) {
	if n > 0 {
		m.fodderConsumed.WithLabelValues(string(domain)).Add(float64(n))
	}
}

// Deliver counts a takeover event and marks its domain disabled.
func (m *Metrics) Deliver(ctx context.Context, ev models.TakeoverEvent) error {
	m.takeovers.WithLabelValues(string(ev.Domain)).Inc()
	m.taskEnabled.WithLabelValues(string(ev.Domain)).Set(0)
	return nil
}

// SetEnabled records whether a domain's task is enabled.
func (m *Metrics) SetEnabled(domain models.Domain, enabled bool) {
	v := 0.0
	if enabled {
		v = 1
	}
	m.taskEnabled.WithLabelValues(string(domain)).Set(v)
}

// Serve exposes /metrics on addr until ctx is done.
func (m *Metrics) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
