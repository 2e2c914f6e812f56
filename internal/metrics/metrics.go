package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus collectors for the sensor. A nil *Metrics is
// valid and records nothing, so components can be built without one in tests.
type Metrics struct {
	Heartbeats     *prometheus.CounterVec
	Alerts         *prometheus.CounterVec
	FlushedEvents  *prometheus.CounterVec
	QueueDepth     prometheus.Gauge
	PolicyMatches  *prometheus.CounterVec
	PolicyErrors   prometheus.Counter
	ActivePolicies prometheus.Gauge
	Commands       *prometheus.CounterVec
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Heartbeats: f.NewCounterVec(prometheus.CounterOpts{
			Name: "sentinel_heartbeats_total",
			Help: "Heartbeats sent to HQ, by result",
		}, []string{"result"}),
		Alerts: f.NewCounterVec(prometheus.CounterOpts{
			Name: "sentinel_alerts_total",
			Help: "Alerts raised, by outcome (sent or queued)",
		}, []string{"outcome"}),
		FlushedEvents: f.NewCounterVec(prometheus.CounterOpts{
			Name: "sentinel_queue_flushed_events_total",
			Help: "Queued alerts attempted during flush, by result",
		}, []string{"result"}),
		QueueDepth: f.NewGauge(prometheus.GaugeOpts{
			Name: "sentinel_offline_queue_depth",
			Help: "Alerts currently waiting in the offline queue",
		}),
		PolicyMatches: f.NewCounterVec(prometheus.CounterOpts{
			Name: "sentinel_policy_matches_total",
			Help: "Clipboard contents matched by a policy",
		}, []string{"policy", "action"}),
		PolicyErrors: f.NewCounter(prometheus.CounterOpts{
			Name: "sentinel_policy_errors_total",
			Help: "Policies rejected because their pattern did not compile",
		}),
		ActivePolicies: f.NewGauge(prometheus.GaugeOpts{
			Name: "sentinel_active_policies",
			Help: "Rules in the active policy set",
		}),
		Commands: f.NewCounterVec(prometheus.CounterOpts{
			Name: "sentinel_commands_total",
			Help: "Remote commands handled, by type and result",
		}, []string{"type", "result"}),
	}
}

func (m *Metrics) ObserveHeartbeat(ok bool) {
	if m == nil {
		return
	}
	m.Heartbeats.WithLabelValues(result(ok)).Inc()
}

func (m *Metrics) ObserveAlert(outcome string) {
	if m == nil {
		return
	}
	m.Alerts.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveFlush(delivered, failed int) {
	if m == nil {
		return
	}
	m.FlushedEvents.WithLabelValues("delivered").Add(float64(delivered))
	m.FlushedEvents.WithLabelValues("failed").Add(float64(failed))
}

func (m *Metrics) SetQueueDepth(n int) {
	if m == nil {
		return
	}
	m.QueueDepth.Set(float64(n))
}

func (m *Metrics) ObserveMatch(policy, action string) {
	if m == nil {
		return
	}
	m.PolicyMatches.WithLabelValues(policy, action).Inc()
}

// ObservePolicyUpdate records a policy swap with total rules and rejected rules.
func (m *Metrics) ObservePolicyUpdate(total, rejected int) {
	if m == nil {
		return
	}
	m.ActivePolicies.Set(float64(total))
	m.PolicyErrors.Add(float64(rejected))
}

func (m *Metrics) ObserveCommand(cmdType string, ok bool) {
	if m == nil {
		return
	}
	m.Commands.WithLabelValues(cmdType, result(ok)).Inc()
}

func result(ok bool) string {
	if ok {
		return "ok"
	}
	return "error"
}
