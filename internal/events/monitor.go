package events

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/bergpinheiro/dashdocker/internal/aggregator"
	"github.com/bergpinheiro/dashdocker/pkg/types"
)

// ActionUnhealthy is the engine's action string for a failed healthcheck.
const ActionUnhealthy = "health_status: unhealthy"

const historyRetention = time.Hour

// flapWindow is how soon after a die a start is considered part of a
// restart rather than a noteworthy recovery.
const flapWindow = 30 * time.Second

// defaultCooldowns throttles repeat notifications per container and
// action. Unlisted actions fall back to defaultCooldown.
var defaultCooldowns = map[string]time.Duration{
	"start":         30 * time.Second,
	"die":           60 * time.Second,
	"kill":          30 * time.Second,
	"restart":       60 * time.Second,
	"oom":           300 * time.Second,
	ActionUnhealthy: 300 * time.Second,
}

const defaultCooldown = 60 * time.Second

// defaultCritical is the set of actions that page the operator. Other
// actions only show up in the live feed.
var defaultCritical = map[string]bool{
	"die":           true,
	"kill":          true,
	"oom":           true,
	ActionUnhealthy: true,
}

// Notifier delivers event notifications.
type Notifier interface {
	Send(ctx context.Context, message string) error
	Enabled() bool
}

// Callback receives every event for the live feed, with a flag telling
// whether the event is in the critical set.
type Callback func(ev aggregator.TaggedEvent, critical bool)

// Monitor feeds every container event to the live feed and notifies on
// critical ones. The suppression rules (clean kills, restart flaps,
// repeats within cooldown) only gate the notification.
type Monitor struct {
	log      *logrus.Logger
	notifier Notifier
	now      func() time.Time

	critical  map[string]bool
	cooldowns map[string]time.Duration
	callback  Callback

	mu       sync.Mutex
	lastSeen map[string]time.Time // container_action -> last accepted
	lastDie  map[string]time.Time // container -> last die
	running  bool
}

// NewMonitor creates a monitor with the default cooldowns and critical
// action set.
func NewMonitor(log *logrus.Logger, notifier Notifier) *Monitor {
	return &Monitor{
		log:       log,
		notifier:  notifier,
		now:       time.Now,
		critical:  defaultCritical,
		cooldowns: defaultCooldowns,
		lastSeen:  make(map[string]time.Time),
		lastDie:   make(map[string]time.Time),
	}
}

// SetCriticalActions replaces the critical action set.
func (m *Monitor) SetCriticalActions(actions []string) {
	critical := make(map[string]bool, len(actions))
	for _, a := range actions {
		critical[a] = true
	}
	m.mu.Lock()
	m.critical = critical
	m.mu.Unlock()
}

// SetCallback registers the live-feed callback. Must be called before the
// first event is handled.
func (m *Monitor) SetCallback(cb Callback) {
	m.callback = cb
}

// Running reports whether the monitor's event stream is still alive.
func (m *Monitor) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// Run consumes events until the stream errors or ctx is cancelled. A
// stream error stops monitoring without reconnecting; the operator sees
// it through the status endpoint.
func (m *Monitor) Run(ctx context.Context, events <-chan aggregator.TaggedEvent, errs <-chan error) {
	m.mu.Lock()
	m.running = true
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.running = false
		m.mu.Unlock()
	}()

	m.log.Info("Event monitor started")

	for {
		select {
		case <-ctx.Done():
			m.log.Info("Event monitor stopped")
			return
		case err, ok := <-errs:
			if !ok {
				return
			}
			m.log.WithError(err).Error("Event stream failed, monitoring stopped")
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			m.Handle(ctx, ev)
		}
	}
}

// Handle processes one event. The live-feed callback always runs; the
// return value reports whether the event passed the suppression rules
// and may notify.
func (m *Monitor) Handle(ctx context.Context, ev aggregator.TaggedEvent) bool {
	name := containerName(ev.RuntimeEvent)
	now := m.now()

	m.mu.Lock()
	critical := m.critical[ev.Action]
	notify := m.notifyEligibleLocked(name, ev, now)
	m.purgeLocked(now)
	m.mu.Unlock()

	m.log.WithFields(logrus.Fields{
		"container": name,
		"action":    ev.Action,
		"node":      ev.NodeID,
		"critical":  critical,
	}).Info("Container event")

	if m.callback != nil {
		m.callback(ev, critical)
	}

	if notify && critical && m.notifier.Enabled() {
		msg := "🚨 " + name + ": " + ev.Action + " (node " + ev.NodeID + ")"
		if err := m.notifier.Send(ctx, msg); err != nil {
			m.log.WithError(err).Error("Failed to deliver event notification")
		}
	}

	return notify
}

// notifyEligibleLocked applies the suppression rules and claims the
// cooldown slot when the event passes.
func (m *Monitor) notifyEligibleLocked(name string, ev aggregator.TaggedEvent, now time.Time) bool {
	if ev.Action == "kill" && ev.Attributes["exitCode"] == "0" {
		return false
	}
	if ev.Action == "start" {
		if died, ok := m.lastDie[name]; ok && now.Sub(died) <= flapWindow {
			m.log.WithField("container", name).Debug("Suppressed restart flap")
			return false
		}
	}
	if ev.Action == "die" {
		m.lastDie[name] = now
	}

	key := name + "_" + ev.Action
	cooldown, ok := m.cooldowns[ev.Action]
	if !ok {
		cooldown = defaultCooldown
	}
	if last, seen := m.lastSeen[key]; seen && now.Sub(last) < cooldown {
		return false
	}
	m.lastSeen[key] = now
	return true
}

func (m *Monitor) purgeLocked(now time.Time) {
	cutoff := now.Add(-historyRetention)
	for key, t := range m.lastSeen {
		if t.Before(cutoff) {
			delete(m.lastSeen, key)
		}
	}
	for name, t := range m.lastDie {
		if t.Before(cutoff) {
			delete(m.lastDie, name)
		}
	}
}

func containerName(ev types.RuntimeEvent) string {
	if name := ev.Attributes["name"]; name != "" {
		return name
	}
	return ev.ID
}
