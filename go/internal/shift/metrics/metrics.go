package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Shift kinds
const (
	KindColorTheme = "color_theme"
	KindFontFamily = "font_family"
)

// Collector defines the interface for collecting shift interval metrics
type Collector interface {
	RecordTick()
	RecordBroadcast(recipients int)
	RecordShift(kind string, success bool, duration time.Duration)
	SetParticipants(count int)
	RecordFailover(branch string)
	RecordRoleChange(role string)
}

// NoOp is a no-op implementation for when metrics aren't needed
type NoOp struct{}

func (NoOp) RecordTick()                             {}
func (NoOp) RecordBroadcast(int)                     {}
func (NoOp) RecordShift(string, bool, time.Duration) {}
func (NoOp) SetParticipants(int)                     {}
func (NoOp) RecordFailover(string)                   {}
func (NoOp) RecordRoleChange(string)                 {}

// Prometheus implements Collector using Prometheus
type Prometheus struct {
	ticks         prometheus.Counter
	broadcasts    prometheus.Counter
	recipients    prometheus.Histogram
	shifts        *prometheus.CounterVec
	shiftDuration *prometheus.HistogramVec
	participants  prometheus.Gauge
	failovers     *prometheus.CounterVec
	roleChanges   *prometheus.CounterVec
}

// NewPrometheus creates the collectors and registers them with reg
func NewPrometheus(reg prometheus.Registerer) *Prometheus {
	m := &Prometheus{
		ticks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "shifter",
			Name:      "ticks_total",
			Help:      "Coordinator ticks processed.",
		}),
		broadcasts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "shifter",
			Name:      "status_broadcasts_total",
			Help:      "Status updates broadcast to participants.",
		}),
		recipients: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "shifter",
			Name:      "status_broadcast_recipients",
			Help:      "Participants reached per status broadcast.",
			Buckets:   []float64{0, 1, 2, 4, 8, 16, 32},
		}),
		shifts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "shifter",
			Name:      "shifts_total",
			Help:      "Shifts attempted, by kind and status.",
		}, []string{"kind", "status"}),
		shiftDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "shifter",
			Name:      "shift_duration_seconds",
			Help:      "Time spent performing a shift.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"kind"}),
		participants: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "shifter",
			Name:      "participants",
			Help:      "Participants connected to this coordinator.",
		}),
		failovers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "shifter",
			Name:      "failovers_total",
			Help:      "Failover decisions taken after losing the coordinator.",
		}, []string{"branch"}),
		roleChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "shifter",
			Name:      "role_changes_total",
			Help:      "Roles assumed by this process.",
		}, []string{"role"}),
	}

	reg.MustRegister(
		m.ticks,
		m.broadcasts,
		m.recipients,
		m.shifts,
		m.shiftDuration,
		m.participants,
		m.failovers,
		m.roleChanges,
	)
	return m
}

// RecordTick implements Collector
func (m *Prometheus) RecordTick() {
	m.ticks.Inc()
}

// RecordBroadcast implements Collector
func (m *Prometheus) RecordBroadcast(recipients int) {
	m.broadcasts.Inc()
	m.recipients.Observe(float64(recipients))
}

// RecordShift implements Collector
func (m *Prometheus) RecordShift(kind string, success bool, duration time.Duration) {
	status := "success"
	if !success {
		status = "failure"
	}
	m.shifts.WithLabelValues(kind, status).Inc()
	m.shiftDuration.WithLabelValues(kind).Observe(duration.Seconds())
}

// SetParticipants implements Collector
func (m *Prometheus) SetParticipants(count int) {
	m.participants.Set(float64(count))
}

// RecordFailover implements Collector
func (m *Prometheus) RecordFailover(branch string) {
	m.failovers.WithLabelValues(branch).Inc()
}

// RecordRoleChange implements Collector
func (m *Prometheus) RecordRoleChange(role string) {
	m.roleChanges.WithLabelValues(role).Inc()
}
