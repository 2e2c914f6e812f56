// Package command executes remote commands HQ piggybacks on heartbeat
// responses. Commands are fire-and-forget: nothing is acknowledged back.
package command

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"agents/sentinel-sensor/internal/capability"
	"agents/sentinel-sensor/internal/logging"
	"agents/sentinel-sensor/internal/metrics"
)

// Type selects the handler for a command.
type Type string

const (
	TypePurge Type = "PURGE"
	TypeMsg   Type = "MSG"
	TypeOpen  Type = "OPEN"
)

// MessageTitle is the notification title for MSG commands.
const MessageTitle = "HQ COMMAND"

// Command is one remote instruction from HQ.
type Command struct {
	Type    Type   `json:"type"`
	Payload string `json:"payload"`
}

// Handler runs one command payload.
type Handler func(ctx context.Context, payload string) error

// Dispatcher maps command types to handlers.
type Dispatcher struct {
	handlers map[Type]Handler
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// NewDispatcher registers the PURGE, MSG and OPEN handlers on caps.
func NewDispatcher(caps capability.Set, m *metrics.Metrics, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = logging.Discard()
	}
	d := &Dispatcher{
		handlers: make(map[Type]Handler),
		metrics:  m,
		logger:   logger.With("component", "command"),
	}
	d.Register(TypePurge, purge(caps.Content))
	d.Register(TypeMsg, message(caps.Notifier))
	d.Register(TypeOpen, open(caps.Opener))
	return d
}

// Register installs or replaces the handler for t.
func (d *Dispatcher) Register(t Type, h Handler) {
	d.handlers[t] = h
}

// Execute runs commands in order. Unknown types are skipped, and a failing or
// panicking handler never stops the commands after it.
func (d *Dispatcher) Execute(ctx context.Context, cmds []Command) {
	for _, cmd := range cmds {
		t := Type(strings.ToUpper(strings.TrimSpace(string(cmd.Type))))
		h, ok := d.handlers[t]
		if !ok {
			d.logger.Warn("ignoring unknown command", "type", cmd.Type)
			d.metrics.ObserveCommand("unknown", false)
			continue
		}

		d.logger.Debug("executing command", "type", t, "payload_bytes", len(cmd.Payload))
		if err := d.run(ctx, h, cmd.Payload); err != nil {
			d.logger.Error("command failed", "type", t, "error", err)
			d.metrics.ObserveCommand(string(t), false)
			continue
		}
		d.metrics.ObserveCommand(string(t), true)
	}
}

func (d *Dispatcher) run(ctx context.Context, h Handler, payload string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panicked: %v", r)
		}
	}()
	return h(ctx, payload)
}

var errNoCapability = errors.New("capability not configured")

func purge(src capability.ContentSource) Handler {
	return func(ctx context.Context, _ string) error {
		if src == nil {
			return errNoCapability
		}
		return src.Overwrite("")
	}
}

func message(n capability.Notifier) Handler {
	return func(ctx context.Context, payload string) error {
		if n == nil {
			return errNoCapability
		}
		return n.Notify(MessageTitle, payload)
	}
}

func open(o capability.URLOpener) Handler {
	return func(ctx context.Context, payload string) error {
		if o == nil {
			return errNoCapability
		}
		u, err := url.Parse(strings.TrimSpace(payload))
		if err != nil {
			return fmt.Errorf("invalid url: %w", err)
		}
		if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("refusing to open %q: only absolute http(s) urls are allowed", payload)
		}
		return o.Open(u.String())
	}
}
