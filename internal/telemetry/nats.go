package telemetry

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"agents/sentinel-sensor/internal/logging"
)

var errNATSNotConnected = errors.New("nats not connected")

// NATSMirror publishes a copy of every alert to a NATS subject for local
// SOC tooling. It is not part of the HQ delivery guarantee: while the
// server is down, publishes go to the client's reconnect buffer and may be
// lost if that overflows.
type NATSMirror struct {
	nc      *nats.Conn
	subject string
}

// NewNATSMirror connects to url. The connection keeps retrying in the
// background, so a NATS server that is down at startup is not an error.
func NewNATSMirror(url, subject string, logger *slog.Logger) (*NATSMirror, error) {
	if logger == nil {
		logger = logging.Discard()
	}
	logger = logger.With("component", "nats")

	nc, err := nats.Connect(url,
		nats.Name("sentinel-sensor"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("nats reconnected", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats %s: %w", url, err)
	}
	return &NATSMirror{nc: nc, subject: subject}, nil
}

// PublishAlert sends ev as JSON on the mirror subject.
func (m *NATSMirror) PublishAlert(ev AlertEvent) error {
	if m == nil || m.nc == nil {
		return errNATSNotConnected
	}
	b, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal alert: %w", err)
	}
	return m.nc.Publish(m.subject, b)
}

// Close drains pending publishes and closes the connection.
func (m *NATSMirror) Close() error {
	if m == nil || m.nc == nil {
		return nil
	}
	if err := m.nc.Drain(); err != nil {
		m.nc.Close()
		return err
	}
	return nil
}
