// Package monitor runs the sensor's main cycle: heartbeat, policy sync and
// the clipboard check.
package monitor

import (
	"context"
	"log/slog"
	"time"

	"agents/sentinel-sensor/internal/capability"
	"agents/sentinel-sensor/internal/identity"
	"agents/sentinel-sensor/internal/logging"
	"agents/sentinel-sensor/internal/metrics"
	"agents/sentinel-sensor/internal/policy"
	"agents/sentinel-sensor/internal/telemetry"
)

const (
	// BlockedMarker replaces clipboard content a BLOCK rule matched.
	BlockedMarker = "[SENTINEL::BLOCKED]"
	IncidentTitle = "Security Incident"

	// StartupMessage is carried by the SYSTEM_STARTUP alert.
	StartupMessage = "Sensor service initialized"

	riskBlocked = "100"
	riskLogged  = "10"

	defaultInterval = time.Second
)

// Channel is the part of the HQ link the loop drives.
type Channel interface {
	Heartbeat(ctx context.Context, id identity.SensorIdentity) telemetry.HeartbeatResult
	Alert(ctx context.Context, ev telemetry.AlertEvent) telemetry.State
	FetchPolicies(ctx context.Context) ([]policy.Policy, error)
}

// IdentitySource yields the sensor identity reported to HQ.
type IdentitySource interface {
	Identity(ctx context.Context) identity.SensorIdentity
}

// Recorder is told about each heartbeat and alert, for the status endpoint.
type Recorder interface {
	RecordHeartbeat(res telemetry.HeartbeatResult, at time.Time)
	RecordAlert(ev telemetry.AlertEvent, state telemetry.State)
}

type Options struct {
	Interval time.Duration
	// Version is reported in the startup alert.
	Version  string
	Recorder Recorder
	Metrics  *metrics.Metrics
	Logger   *slog.Logger
}

// Loop is the single writer of the policy set and the offline queue.
type Loop struct {
	channel  Channel
	ids      IdentitySource
	policies *policy.Store
	content  capability.ContentSource
	notifier capability.Notifier
	recorder Recorder
	metrics  *metrics.Metrics
	logger   *slog.Logger
	interval time.Duration
	version  string
	now      func() time.Time

	id          *identity.SensorIdentity
	lastContent string
	announced   bool
}

func NewLoop(ch Channel, ids IdentitySource, policies *policy.Store, caps capability.Set, opts Options) *Loop {
	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	interval := opts.Interval
	if interval <= 0 {
		interval = defaultInterval
	}
	return &Loop{
		channel:  ch,
		ids:      ids,
		policies: policies,
		content:  caps.Content,
		notifier: caps.Notifier,
		recorder: opts.Recorder,
		metrics:  opts.Metrics,
		logger:   logger.With("component", "monitor"),
		interval: interval,
		version:  opts.Version,
		now:      time.Now,
	}
}

// Run syncs the full policy set, runs a cycle immediately and then one per
// interval until ctx is cancelled. A cycle in progress when ctx ends is
// allowed to finish. Run returns nil on cancellation.
func (l *Loop) Run(ctx context.Context) error {
	if ctx.Err() != nil {
		return nil
	}
	cycleCtx := context.WithoutCancel(ctx)

	l.logger.Info("monitor starting", "interval", l.interval)
	l.SyncPolicies(cycleCtx)

	t := time.NewTicker(l.interval)
	defer t.Stop()

	l.RunCycle(cycleCtx)
	for {
		select {
		case <-ctx.Done():
			l.logger.Info("monitor stopped")
			return nil
		case <-t.C:
			l.RunCycle(cycleCtx)
		}
	}
}

// SyncPolicies replaces the active set with the one HQ serves at /policy.
// On failure the current set is kept.
func (l *Loop) SyncPolicies(ctx context.Context) {
	policies, err := l.channel.FetchPolicies(ctx)
	if err != nil {
		l.logger.Warn("initial policy sync failed, keeping current rules", "error", err)
		return
	}
	l.applyPolicies(policies, "")
}

// RunCycle performs one heartbeat, applies any policy set HQ returned with
// it, and checks the clipboard against the active rules. The first heartbeat
// HQ answers is followed by a single SYSTEM_STARTUP alert.
func (l *Loop) RunCycle(ctx context.Context) {
	id := l.identity(ctx)

	res := l.channel.Heartbeat(ctx, id)
	if res.PoliciesChanged {
		l.applyPolicies(res.Policies, res.PolicyVersion)
	}
	if l.recorder != nil {
		l.recorder.RecordHeartbeat(res, l.now())
	}
	if res.Reachable && !l.announced {
		l.announce(ctx, id)
	}

	l.checkContent(ctx, id)
}

func (l *Loop) announce(ctx context.Context, id identity.SensorIdentity) {
	l.announced = true
	ev := telemetry.NewAlertEvent(id.ID, telemetry.EventSystemStartup, l.now(), map[string]string{
		"message": StartupMessage,
		"version": l.version,
	})
	state := l.channel.Alert(ctx, ev)
	l.logger.Info("announced startup to HQ", "state", state)
}

func (l *Loop) identity(ctx context.Context) identity.SensorIdentity {
	if l.id == nil {
		id := l.ids.Identity(ctx)
		l.id = &id
	}
	return *l.id
}

func (l *Loop) applyPolicies(policies []policy.Policy, version string) {
	errs := l.policies.Update(policies, version)
	l.metrics.ObservePolicyUpdate(l.policies.Len(), len(errs))
}

func (l *Loop) checkContent(ctx context.Context, id identity.SensorIdentity) {
	if l.content == nil || l.policies.Len() == 0 {
		return
	}

	text, err := l.content.Read()
	if err != nil {
		l.logger.Debug("clipboard read failed", "error", err)
		return
	}
	if text == "" || text == l.lastContent {
		return
	}
	l.lastContent = text

	p, ok := l.policies.Match(text)
	if !ok {
		return
	}

	action := p.EffectiveAction()
	l.metrics.ObserveMatch(p.Label(), string(action))
	l.logger.Warn("policy matched", "policy", p.Label(), "action", action)

	risk := riskLogged
	if p.Blocks() {
		risk = riskBlocked
		l.block(p)
	}

	metadata := map[string]string{
		"contentOverride": p.Label(),
		"riskScore":       risk,
		"action":          string(action),
		"host":            id.Hostname,
	}
	if p.ID != "" {
		metadata["policyId"] = p.ID
	}
	ev := telemetry.NewAlertEvent(id.ID, telemetry.EventClipboardBlock, l.now(), metadata)

	state := l.channel.Alert(ctx, ev)
	if l.recorder != nil {
		l.recorder.RecordAlert(ev, state)
	}
}

func (l *Loop) block(p policy.Policy) {
	if err := l.content.Overwrite(BlockedMarker); err != nil {
		l.logger.Error("could not overwrite clipboard", "policy", p.Label(), "error", err)
	} else {
		l.lastContent = BlockedMarker
	}

	if l.notifier == nil {
		return
	}
	if err := l.notifier.Notify(IncidentTitle, "Restricted Data Blocked: "+p.Label()); err != nil {
		l.logger.Warn("notification failed", "error", err)
	}
}
