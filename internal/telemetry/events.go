package telemetry

import (
	"maps"
	"time"
)

const (
	// EventClipboardBlock is raised when clipboard content matches a policy.
	EventClipboardBlock = "CLIPBOARD_BLOCK"
	// EventSystemStartup is sent once, after the first heartbeat HQ answers.
	EventSystemStartup  = "SYSTEM_STARTUP"
)

// State is where an alert ended up after Alert returned.
type State string

const (
	StateSent   State = "SENT"
	StateQueued State = "QUEUED"
)

// AlertEvent is an incident report for HQ. Build it with NewAlertEvent and
// treat it as read-only afterwards: the same value may be sent, queued and
// re-sent, and must stay byte-identical across attempts.
type AlertEvent struct {
	SensorID        string            `json:"sensorId"`
	Type            string            `json:"type"`
	TimestampMillis int64             `json:"timestamp"`
	Metadata        map[string]string `json:"metadata"`
}

// NewAlertEvent copies metadata so later changes by the caller do not leak
// into the event.
func NewAlertEvent(sensorID, eventType string, at time.Time, metadata map[string]string) AlertEvent {
	md := make(map[string]string, len(metadata))
	maps.Copy(md, metadata)
	return AlertEvent{
		SensorID:        sensorID,
		Type:            eventType,
		TimestampMillis: at.UnixMilli(),
		Metadata:        md,
	}
}
