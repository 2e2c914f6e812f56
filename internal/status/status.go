// Package status exposes the sensor's local health, state and metrics
// endpoints.
package status

import (
	"sync"
	"time"

	"agents/sentinel-sensor/internal/identity"
	"agents/sentinel-sensor/internal/telemetry"
)

// PolicyCounter reports the size and version of the active rule set.
type PolicyCounter interface {
	Len() int
	Version() string
}

// QueueCounter reports the offline queue depth.
type QueueCounter interface {
	QueueLen() int
}

type AlertSummary struct {
	Type      string    `json:"type"`
	Policy    string    `json:"policy"`
	Action    string    `json:"action"`
	State     string    `json:"state"`
	Timestamp time.Time `json:"timestamp"`
}

// Snapshot is the body of GET /status.
type Snapshot struct {
	SensorID      string        `json:"sensorId"`
	Hostname      string        `json:"hostname"`
	OS            string        `json:"os"`
	Version       string        `json:"version"`
	StartedAt     time.Time     `json:"startedAt"`
	HQReachable   bool          `json:"hqReachable"`
	LastHeartbeat *time.Time    `json:"lastHeartbeat,omitempty"`
	LastContact   *time.Time    `json:"lastContact,omitempty"`
	Policies      int           `json:"policies"`
	PolicyVersion string        `json:"policyVersion,omitempty"`
	QueueDepth    int           `json:"queueDepth"`
	AlertsSent    int           `json:"alertsSent"`
	AlertsQueued  int           `json:"alertsQueued"`
	LastAlert     *AlertSummary `json:"lastAlert,omitempty"`
	Process       *ProcessStats `json:"process,omitempty"`
}

// Status accumulates what the monitor loop reports. It is written by the
// loop and read by the HTTP handlers.
type Status struct {
	policies PolicyCounter
	queue    QueueCounter

	mu            sync.Mutex
	id            identity.SensorIdentity
	version       string
	startedAt     time.Time
	reachable     bool
	lastHeartbeat time.Time
	lastContact   time.Time
	sent, queued  int
	lastAlert     *AlertSummary
}

func New(version string, policies PolicyCounter, queue QueueCounter) *Status {
	return &Status{
		policies:  policies,
		queue:     queue,
		version:   version,
		startedAt: time.Now().UTC(),
	}
}

func (s *Status) SetIdentity(id identity.SensorIdentity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.id = id
}

func (s *Status) RecordHeartbeat(res telemetry.HeartbeatResult, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastHeartbeat = at.UTC()
	s.reachable = res.Reachable
	if res.Reachable {
		s.lastContact = at.UTC()
	}
}

func (s *Status) RecordAlert(ev telemetry.AlertEvent, state telemetry.State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch state {
	case telemetry.StateSent:
		s.sent++
	case telemetry.StateQueued:
		s.queued++
	}
	s.lastAlert = &AlertSummary{
		Type:      ev.Type,
		Policy:    ev.Metadata["contentOverride"],
		Action:    ev.Metadata["action"],
		State:     string(state),
		Timestamp: time.UnixMilli(ev.TimestampMillis).UTC(),
	}
}

// Snapshot returns the current state without process statistics.
func (s *Status) Snapshot() Snapshot {
	s.mu.Lock()
	snap := Snapshot{
		SensorID:     s.id.ID,
		Hostname:     s.id.Hostname,
		OS:           s.id.OSInfo,
		Version:      s.version,
		StartedAt:    s.startedAt,
		HQReachable:  s.reachable,
		AlertsSent:   s.sent,
		AlertsQueued: s.queued,
	}
	if !s.lastHeartbeat.IsZero() {
		t := s.lastHeartbeat
		snap.LastHeartbeat = &t
	}
	if !s.lastContact.IsZero() {
		t := s.lastContact
		snap.LastContact = &t
	}
	if s.lastAlert != nil {
		a := *s.lastAlert
		snap.LastAlert = &a
	}
	s.mu.Unlock()

	if s.policies != nil {
		snap.Policies = s.policies.Len()
		snap.PolicyVersion = s.policies.Version()
	}
	if s.queue != nil {
		snap.QueueDepth = s.queue.QueueLen()
	}
	return snap
}
