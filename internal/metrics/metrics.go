// Package metrics exposes Prometheus instruments for the real-time server.
//
// A nil *Metrics is valid and records nothing, so components can take one
// unconditionally.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "potluck"

// Frame kinds.
const (
	FramePing    = "ping"
	FrameTagged  = "tagged"
	FrameInvalid = "invalid"
)

// Command outcomes.
const (
	OutcomeOK    = "ok"
	OutcomeError = "error"
)

// Metrics holds the server's instruments.
type Metrics struct {
	frames          *prometheus.CounterVec   // By kind (ping/tagged/invalid)
	commands        *prometheus.CounterVec   // By command and outcome
	commandDuration *prometheus.HistogramVec // By command
	sessions        prometheus.Gauge
	pushes          *prometheus.CounterVec // By command and result (delivered/failed)
	mailboxQueued   prometheus.Counter
	mailboxDrained  prometheus.Counter
	authzFailures   *prometheus.CounterVec // By predicate
}

// New creates the instruments and registers them with reg. A nil reg
// disables metrics and returns nil.
func New(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		return nil, nil
	}

	m := &Metrics{
		frames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ws",
			Name:      "frames_total",
			Help:      "Inbound frames by kind",
		}, []string{"kind"}),

		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "commands_total",
			Help:      "Dispatched commands by command and outcome",
		}, []string{"command", "outcome"}),

		commandDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "command_duration_seconds",
			Help:      "Command processing time in seconds",
			Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		}, []string{"command"}),

		sessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "live",
			Help:      "Identities with a live session",
		}),

		pushes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "pushes_total",
			Help:      "Push notifications to live peers by command and result",
		}, []string{"command", "result"}),

		mailboxQueued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "mailbox",
			Name:      "queued_total",
			Help:      "Messages persisted for offline recipients",
		}),

		mailboxDrained: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "mailbox",
			Name:      "drained_total",
			Help:      "Messages delivered from the mailbox",
		}),

		authzFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "authz",
			Name:      "store_failures_total",
			Help:      "Predicates forced closed by a store failure",
		}, []string{"predicate"}),
	}

	for _, c := range []prometheus.Collector{
		m.frames, m.commands, m.commandDuration, m.sessions,
		m.pushes, m.mailboxQueued, m.mailboxDrained, m.authzFailures,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Frame counts one inbound frame.
func (m *Metrics) Frame(kind string) {
	if m == nil {
		return
	}
	m.frames.WithLabelValues(kind).Inc()
}

// Command records one finished command.
func (m *Metrics) Command(command, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.commands.WithLabelValues(command, outcome).Inc()
	m.commandDuration.WithLabelValues(command).Observe(d.Seconds())
}

// Sessions sets the live session gauge.
func (m *Metrics) Sessions(n int) {
	if m == nil {
		return
	}
	m.sessions.Set(float64(n))
}

// Push records a push attempt to a live peer.
func (m *Metrics) Push(command string, delivered bool) {
	if m == nil {
		return
	}
	result := "delivered"
	if !delivered {
		result = "failed"
	}
	m.pushes.WithLabelValues(command, result).Inc()
}

// Queued counts one message persisted to the mailbox.
func (m *Metrics) Queued() {
	if m == nil {
		return
	}
	m.mailboxQueued.Inc()
}

// Drained counts n messages handed out of the mailbox.
func (m *Metrics) Drained(n int) {
	if m == nil {
		return
	}
	m.mailboxDrained.Add(float64(n))
}

// AuthzFailure counts a predicate forced closed by a store failure.
func (m *Metrics) AuthzFailure(predicate string) {
	if m == nil {
		return
	}
	m.authzFailures.WithLabelValues(predicate).Inc()
}
