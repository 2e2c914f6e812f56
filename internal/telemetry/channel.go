package telemetry

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"agents/sentinel-sensor/internal/command"
	"agents/sentinel-sensor/internal/identity"
	"agents/sentinel-sensor/internal/logging"
	"agents/sentinel-sensor/internal/metrics"
	"agents/sentinel-sensor/internal/policy"
)

// StatusOnline is the status the sensor reports while running.
const StatusOnline = "ONLINE"

// CommandExecutor runs commands received with a heartbeat.
type CommandExecutor interface {
	Execute(ctx context.Context, cmds []command.Command)
}

// AlertMirror receives a copy of every alert, independent of HQ delivery.
type AlertMirror interface {
	PublishAlert(ev AlertEvent) error
}

// HeartbeatResult is what the monitor loop needs from a heartbeat.
// PoliciesChanged is false whenever Policies must not be applied: the
// heartbeat failed, the response was malformed, or HQ said the sensor's set
// is current.
type HeartbeatResult struct {
	Reachable       bool
	PoliciesChanged bool
	Policies        []policy.Policy
	PolicyVersion   string
	Commands        int
}

// FlushResult counts the outcome of one flush.
type FlushResult struct {
	Delivered int
	Remaining int
}

// Options configures a Channel. Zero values are valid.
type Options struct {
	Version string
	Mirror  AlertMirror
	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

// Channel is the sensor's link to HQ: heartbeats, alerts with at-least-once
// delivery through the offline queue, and opportunistic flushing.
type Channel struct {
	client   *Client
	queue    *Queue
	commands CommandExecutor
	mirror   AlertMirror
	metrics  *metrics.Metrics
	logger   *slog.Logger
	version  string

	mu            sync.Mutex
	policyVersion string
}

func NewChannel(client *Client, queue *Queue, commands CommandExecutor, opts Options) *Channel {
	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	return &Channel{
		client:   client,
		queue:    queue,
		commands: commands,
		mirror:   opts.Mirror,
		metrics:  opts.Metrics,
		logger:   logger.With("component", "telemetry"),
		version:  opts.Version,
	}
}

// Heartbeat reports the sensor to HQ. On success it runs any commands HQ
// returned, flushes the offline queue, and returns the policy set if HQ sent
// one. Failures are logged and yield a zero result; Heartbeat never errors.
func (c *Channel) Heartbeat(ctx context.Context, id identity.SensorIdentity) HeartbeatResult {
	req := HeartbeatRequest{
		ID:            id.ID,
		Hostname:      id.Hostname,
		Status:        StatusOnline,
		Version:       c.version,
		OS:            id.OSInfo,
		PolicyVersion: c.PolicyVersion(),
	}

	resp, err := c.client.Heartbeat(ctx, req)
	if err != nil && !errors.Is(err, ErrMalformedResponse) {
		c.metrics.ObserveHeartbeat(false)
		c.logger.Warn("heartbeat failed", "error", err)
		return HeartbeatResult{}
	}
	c.metrics.ObserveHeartbeat(true)

	if err != nil {
		c.logger.Warn("ignoring malformed heartbeat response", "error", err)
		c.Flush(ctx)
		return HeartbeatResult{Reachable: true}
	}

	for _, err := range resp.RejectedCommands {
		c.logger.Warn("skipping undecodable command", "error", err)
		c.metrics.ObserveCommand("invalid", false)
	}
	if len(resp.Commands) > 0 && c.commands != nil {
		c.commands.Execute(ctx, resp.Commands)
	}
	c.Flush(ctx)

	res := HeartbeatResult{Reachable: true, Commands: len(resp.Commands)}
	if resp.Policies != nil {
		res.PoliciesChanged = true
		res.Policies = *resp.Policies
		res.PolicyVersion = resp.PolicyVersion
		c.setPolicyVersion(resp.PolicyVersion)
	}
	return res
}

// FetchPolicies pulls the full policy set from HQ, flushing the queue when
// HQ answers.
func (c *Channel) FetchPolicies(ctx context.Context) ([]policy.Policy, error) {
	policies, err := c.client.Policies(ctx)
	if err != nil && !errors.Is(err, ErrMalformedResponse) {
		return nil, err
	}
	c.Flush(ctx)
	if err != nil {
		return nil, err
	}
	return policies, nil
}

// Alert delivers ev to HQ, or appends it to the offline queue if HQ cannot
// be reached or rejects it. Once Alert returns StateQueued the event is on
// disk, unless storage itself failed, in which case it is held in memory.
func (c *Channel) Alert(ctx context.Context, ev AlertEvent) State {
	c.publishMirror(ev)

	err := c.client.SendAlert(ctx, ev)
	if err == nil {
		c.metrics.ObserveAlert("sent")
		c.logger.Info("alert sent", "type", ev.Type)
		c.Flush(ctx)
		return StateSent
	}

	c.logger.Warn("alert delivery failed, queuing", "type", ev.Type, "error", err)
	if err := c.queue.Append(ev); err != nil {
		c.logger.Error("could not persist offline queue, alert held in memory", "error", err)
	}
	c.metrics.ObserveAlert("queued")
	return StateQueued
}

// Flush tries to deliver every queued alert in order and then rewrites the
// queue once with only the alerts that still failed, keeping their order.
// If ctx ends mid-flush the untried tail stays queued.
func (c *Channel) Flush(ctx context.Context) FlushResult {
	pending := c.queue.Events()
	if len(pending) == 0 {
		return FlushResult{}
	}
	c.logger.Info("flushing offline queue", "events", len(pending))

	failed := make([]AlertEvent, 0, len(pending))
	for i, ev := range pending {
		if ctx.Err() != nil {
			failed = append(failed, pending[i:]...)
			break
		}
		if err := c.client.SendAlert(ctx, ev); err != nil {
			c.logger.Debug("queued alert still undeliverable", "type", ev.Type, "error", err)
			failed = append(failed, ev)
		}
	}

	delivered := len(pending) - len(failed)
	c.metrics.ObserveFlush(delivered, len(failed))
	if delivered > 0 {
		if err := c.queue.Replace(failed); err != nil {
			c.logger.Error("could not persist flushed queue", "error", err)
		}
	}

	if len(failed) == 0 {
		c.logger.Info("offline queue cleared", "delivered", delivered)
	} else {
		c.logger.Warn("offline queue partially flushed", "delivered", delivered, "remaining", len(failed))
	}
	return FlushResult{Delivered: delivered, Remaining: len(failed)}
}

// QueueLen reports how many alerts are waiting for delivery.
func (c *Channel) QueueLen() int {
	return c.queue.Len()
}

// PolicyVersion is the last policy version HQ sent with a policy set.
func (c *Channel) PolicyVersion() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.policyVersion
}

func (c *Channel) setPolicyVersion(v string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.policyVersion = v
}

func (c *Channel) publishMirror(ev AlertEvent) {
	if c.mirror == nil {
		return
	}
	if err := c.mirror.PublishAlert(ev); err != nil {
		c.logger.Warn("alert mirror publish failed", "error", err)
	}
}
