// Package metrics exposes Prometheus counters for interactive sessions and
// the task router.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/small-frappuccino/kokobot/pkg/interactive"
	"github.com/small-frappuccino/kokobot/pkg/task"
)

const namespace = "kokobot"

// Metrics owns a private registry so tests can create as many as they like.
type Metrics struct {
	registry *prometheus.Registry

	sessionsOpened *prometheus.CounterVec
	sessionsClosed *prometheus.CounterVec
	reactions      *prometheus.CounterVec
	taskDuration   *prometheus.HistogramVec
	taskFailures   *prometheus.CounterVec
	commands       *prometheus.CounterVec
}

var (
	_ interactive.Observer = (*Metrics)(nil)
	_ task.Observer        = (*Metrics)(nil)
)

// New creates the collectors, including the Go runtime and process ones.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		sessionsOpened: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "interactive",
			Name:      "sessions_opened_total",
			Help:      "Interactive sessions registered, by kind.",
		}, []string{"kind"}),
		sessionsClosed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "interactive",
			Name:      "sessions_closed_total",
			Help:      "Interactive sessions ended, by kind and reason.",
		}, []string{"kind", "reason"}),
		reactions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "interactive",
			Name:      "reactions_total",
			Help:      "Reactions applied to live sessions, by kind and symbol.",
		}, []string{"kind", "symbol"}),
		taskDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "tasks",
			Name:      "duration_seconds",
			Help:      "Task handler run time, by task type.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"type"}),
		taskFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tasks",
			Name:      "failures_total",
			Help:      "Task handler runs that returned an error, by task type.",
		}, []string{"type"}),
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_total",
			Help:      "Prefix commands executed, by command and outcome.",
		}, []string{"command", "outcome"}),
	}
	m.registry.MustRegister(
		m.sessionsOpened,
		m.sessionsClosed,
		m.reactions,
		m.taskDuration,
		m.taskFailures,
		m.commands,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) SessionOpened(kind interactive.Kind) {
	m.sessionsOpened.WithLabelValues(kind.String()).Inc()
}

func (m *Metrics) SessionClosed(kind interactive.Kind, reason interactive.CloseReason) {
	m.sessionsClosed.WithLabelValues(kind.String(), string(reason)).Inc()
}

func (m *Metrics) ReactionHandled(kind interactive.Kind, sym interactive.Symbol) {
	m.reactions.WithLabelValues(kind.String(), sym.String()).Inc()
}

func (m *Metrics) TaskFinished(taskType string, d time.Duration, err error) {
	m.taskDuration.WithLabelValues(taskType).Observe(d.Seconds())
	if err != nil {
		m.taskFailures.WithLabelValues(taskType).Inc()
	}
}

// CommandHandled counts one command run; outcome is "ok", "user_error" or "error".
func (m *Metrics) CommandHandled(command, outcome string) {
	m.commands.WithLabelValues(command, outcome).Inc()
}

// Gauge registers a gauge read from f at scrape time.
func (m *Metrics) Gauge(subsystem, name, help string, f func() float64) error {
	return m.registry.Register(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      name,
		Help:      help,
	}, f))
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
