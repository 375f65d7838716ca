package alerts

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/bergpinheiro/dashdocker/internal/aggregator"
)

// Alert levels.
const (
	LevelWarning  = "warning"
	LevelCritical = "critical"
)

// Alert types.
const (
	TypeResource = "resource"
	TypeHealth   = "health"
	TypeStopped  = "stopped"
	TypeGeneric  = "generic"
)

// Cooldown windows per alert type. Resource cooldowns are tracked per
// container, resource and level, so escalation from warning to critical
// is never suppressed by the warning's cooldown.
const (
	resourceCooldown = 5 * time.Minute
	healthCooldown   = 10 * time.Minute
	stoppedCooldown  = 2 * time.Hour

	historyRetention = 24 * time.Hour

	// A stopped container younger than this is assumed intentional.
	stoppedGrace = time.Hour

	// DefaultEvalInterval is how often the engine sweeps the cluster view.
	DefaultEvalInterval = 30 * time.Second
)

// Thresholds are the resource alert trigger levels, in percent.
type Thresholds struct {
	CPUWarning     float64 `json:"cpuWarning"`
	CPUCritical    float64 `json:"cpuCritical"`
	MemoryWarning  float64 `json:"memoryWarning"`
	MemoryCritical float64 `json:"memoryCritical"`
}

// DefaultThresholds returns the out-of-the-box trigger levels.
func DefaultThresholds() Thresholds {
	return Thresholds{
		CPUWarning:     70,
		CPUCritical:    90,
		MemoryWarning:  80,
		MemoryCritical: 95,
	}
}

// ThresholdUpdate is a partial thresholds change. Nil fields keep their
// current value. Validation happens at the API boundary, not here.
type ThresholdUpdate struct {
	CPUWarning     *float64 `json:"cpuWarning,omitempty"`
	CPUCritical    *float64 `json:"cpuCritical,omitempty"`
	MemoryWarning  *float64 `json:"memoryWarning,omitempty"`
	MemoryCritical *float64 `json:"memoryCritical,omitempty"`
}

// Alert is one fired alert, kept in history for a day.
type Alert struct {
	ID            string    `json:"id"`
	Type          string    `json:"type"`
	Level         string    `json:"level"`
	ContainerID   string    `json:"containerId,omitempty"`
	ContainerName string    `json:"containerName,omitempty"`
	NodeID        string    `json:"nodeId,omitempty"`
	Resource      string    `json:"resource,omitempty"`
	Value         float64   `json:"value,omitempty"`
	Message       string    `json:"message"`
	Time          time.Time `json:"time"`
}

// ClusterView is the read side of the aggregator the engine evaluates.
type ClusterView interface {
	GetAllContainers() []aggregator.TaggedContainer
	GetAllStats() map[string]aggregator.TaggedStats
}

// Sink delivers alert messages to the operator.
type Sink interface {
	Send(ctx context.Context, message string) error
	Enabled() bool
}

// Engine periodically evaluates the cluster view against thresholds and
// container states, firing deduplicated alerts through the sink.
type Engine struct {
	log  *logrus.Logger
	view ClusterView
	sink Sink
	now  func() time.Time

	evalInterval time.Duration

	mu         sync.Mutex
	thresholds Thresholds
	cooldowns  map[string]time.Time
	history    []Alert

	sendWG sync.WaitGroup
}

// NewEngine creates an engine with default thresholds.
func NewEngine(log *logrus.Logger, view ClusterView, sink Sink, evalInterval time.Duration) *Engine {
	if evalInterval <= 0 {
		evalInterval = DefaultEvalInterval
	}
	return &Engine{
		log:          log,
		view:         view,
		sink:         sink,
		now:          time.Now,
		evalInterval: evalInterval,
		thresholds:   DefaultThresholds(),
		cooldowns:    make(map[string]time.Time),
	}
}

// GetThresholds returns the current trigger levels.
func (e *Engine) GetThresholds() Thresholds {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.thresholds
}

// UpdateThresholds merges a partial update into the current thresholds
// and returns the result.
func (e *Engine) UpdateThresholds(upd ThresholdUpdate) Thresholds {
	e.mu.Lock()
	defer e.mu.Unlock()

	if upd.CPUWarning != nil {
		e.thresholds.CPUWarning = *upd.CPUWarning
	}
	if upd.CPUCritical != nil {
		e.thresholds.CPUCritical = *upd.CPUCritical
	}
	if upd.MemoryWarning != nil {
		e.thresholds.MemoryWarning = *upd.MemoryWarning
	}
	if upd.MemoryCritical != nil {
		e.thresholds.MemoryCritical = *upd.MemoryCritical
	}

	e.log.WithField("thresholds", e.thresholds).Info("Alert thresholds updated")
	return e.thresholds
}

// Status summarizes the engine state for the API.
type Status struct {
	Thresholds      Thresholds `json:"thresholds"`
	ActiveCooldowns int        `json:"activeCooldowns"`
	HistorySize     int        `json:"historySize"`
	SinkEnabled     bool       `json:"sinkEnabled"`
}

// GetStatus reports the current engine state.
func (e *Engine) GetStatus() Status {
	e.mu.Lock()
	defer e.mu.Unlock()

	active := 0
	now := e.now()
	for _, until := range e.cooldowns {
		if now.Before(until) {
			active++
		}
	}

	return Status{
		Thresholds:      e.thresholds,
		ActiveCooldowns: active,
		HistorySize:     len(e.history),
		SinkEnabled:     e.sink.Enabled(),
	}
}

// History returns fired alerts, most recent last.
func (e *Engine) History() []Alert {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]Alert, len(e.history))
	copy(out, e.history)
	return out
}

// Run evaluates the cluster view every evalInterval until ctx is
// cancelled. The first evaluation happens after one interval, giving
// agents a chance to report before alerting on an empty cluster.
func (e *Engine) Run(ctx context.Context) {
	ticker := time.NewTicker(e.evalInterval)
	defer ticker.Stop()

	e.log.WithField("interval", e.evalInterval).Info("Alert engine started")

	for {
		select {
		case <-ctx.Done():
			e.sendWG.Wait()
			e.log.Info("Alert engine stopped")
			return
		case <-ticker.C:
			e.Evaluate(ctx)
		}
	}
}

// Evaluate runs one sweep over the cluster view: resource thresholds,
// unhealthy containers and long-stopped containers.
func (e *Engine) Evaluate(ctx context.Context) {
	containers := e.view.GetAllContainers()
	stats := e.view.GetAllStats()

	names := make(map[string]aggregator.TaggedContainer, len(containers))
	for _, c := range containers {
		names[c.ID] = c
	}

	th := e.thresholdsSnapshot()
	for containerID, st := range stats {
		c := names[containerID]
		name := c.Name
		if name == "" {
			name = containerID
		}
		e.checkResource(ctx, containerID, name, st.NodeID, "cpu", st.CPU.Percent,
			th.CPUWarning, th.CPUCritical)
		e.checkResource(ctx, containerID, name, st.NodeID, "memory", st.Memory.Percent,
			th.MemoryWarning, th.MemoryCritical)
	}

	for _, c := range containers {
		e.checkHealth(ctx, c)
		e.checkStopped(ctx, c)
	}

	e.purgeHistory()
}

func (e *Engine) thresholdsSnapshot() Thresholds {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.thresholds
}

// checkResource fires at most one alert per resource: critical wins over
// warning when both thresholds are crossed.
func (e *Engine) checkResource(ctx context.Context, containerID, name, nodeID, resource string, value, warning, critical float64) {
	var level string
	switch {
	case value > critical:
		level = LevelCritical
	case value > warning:
		level = LevelWarning
	default:
		return
	}

	key := fmt.Sprintf("%s_%s_%s", containerID, resource, level)
	if !e.claimCooldown(key, resourceCooldown) {
		return
	}

	icon := "⚠️"
	if level == LevelCritical {
		icon = "🚨"
	}
	e.fire(ctx, Alert{
		Type:          TypeResource,
		Level:         level,
		ContainerID:   containerID,
		ContainerName: name,
		NodeID:        nodeID,
		Resource:      resource,
		Value:         value,
		Message: fmt.Sprintf("%s %s %s at %.1f%% (node %s)",
			icon, name, resource, value, nodeID),
	})
}

func (e *Engine) checkHealth(ctx context.Context, c aggregator.TaggedContainer) {
	if c.State != "running" || c.Health != "unhealthy" {
		return
	}

	key := c.ID + "_health"
	if !e.claimCooldown(key, healthCooldown) {
		return
	}

	e.fire(ctx, Alert{
		Type:          TypeHealth,
		Level:         LevelCritical,
		ContainerID:   c.ID,
		ContainerName: c.Name,
		NodeID:        c.NodeID,
		Message:       fmt.Sprintf("🚨 %s is unhealthy (node %s)", c.Name, c.NodeID),
	})
}

var secondsAgoRe = regexp.MustCompile(`(\d+) seconds ago`)

func (e *Engine) checkStopped(ctx context.Context, c aggregator.TaggedContainer) {
	if c.State != "exited" && c.State != "dead" {
		return
	}

	stopped := e.stoppedFor(c)
	if stopped <= stoppedGrace {
		return
	}

	key := c.ID + "_stopped"
	if !e.claimCooldown(key, stoppedCooldown) {
		return
	}

	e.fire(ctx, Alert{
		Type:          TypeStopped,
		Level:         LevelWarning,
		ContainerID:   c.ID,
		ContainerName: c.Name,
		NodeID:        c.NodeID,
		Message: fmt.Sprintf("⚠️ %s has been stopped for %s (node %s)",
			c.Name, stopped.Round(time.Minute), c.NodeID),
	})
}

// stoppedFor estimates how long a container has been down. The engine
// status string only carries second precision right after a stop; beyond
// that the container's creation time is the only anchor available from a
// list call.
func (e *Engine) stoppedFor(c aggregator.TaggedContainer) time.Duration {
	if m := secondsAgoRe.FindStringSubmatch(c.Status); m != nil {
		if secs, err := strconv.Atoi(m[1]); err == nil {
			return time.Duration(secs) * time.Second
		}
	}
	if c.Created > 0 {
		return e.now().Sub(time.Unix(c.Created, 0))
	}
	return 0
}

// claimCooldown records the cooldown and reports whether the alert may
// fire. The cooldown is claimed before the send, so a failed delivery
// does not retrigger on every sweep.
func (e *Engine) claimCooldown(key string, window time.Duration) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.now()
	if until, ok := e.cooldowns[key]; ok && now.Before(until) {
		return false
	}
	e.cooldowns[key] = now.Add(window)
	return true
}

func (e *Engine) fire(ctx context.Context, alert Alert) {
	alert.ID = uuid.New().String()
	alert.Time = e.now()

	e.mu.Lock()
	e.history = append(e.history, alert)
	e.mu.Unlock()

	e.log.WithFields(logrus.Fields{
		"type":      alert.Type,
		"level":     alert.Level,
		"container": alert.ContainerName,
		"node":      alert.NodeID,
	}).Warn("Alert fired")

	if !e.sink.Enabled() {
		return
	}

	// Delivery runs in its own goroutine so a slow gateway cannot stall
	// the sweep. The cooldown is already claimed at this point.
	e.sendWG.Add(1)
	go func() {
		defer e.sendWG.Done()
		if err := e.sink.Send(ctx, alert.Message); err != nil {
			e.log.WithError(err).Error("Failed to deliver alert")
		}
	}()
}

func (e *Engine) purgeHistory() {
	e.mu.Lock()
	defer e.mu.Unlock()

	cutoff := e.now().Add(-historyRetention)
	kept := e.history[:0]
	for _, a := range e.history {
		if a.Time.After(cutoff) {
			kept = append(kept, a)
		}
	}
	e.history = kept

	for key, until := range e.cooldowns {
		if e.now().After(until) {
			delete(e.cooldowns, key)
		}
	}
}

// FireTest sends a synthetic alert of the given type, bypassing
// cooldowns. Used by the test-notification endpoint.
func (e *Engine) FireTest(ctx context.Context, alertType string) Alert {
	alert := Alert{Type: alertType, Level: LevelWarning}
	switch alertType {
	case TypeResource:
		alert.Level = LevelCritical
		alert.Message = "🚨 test-container cpu at 95.0% on test-container (node test-node)"
	case TypeHealth:
		alert.Level = LevelCritical
		alert.Message = "🚨 test-container is unhealthy (node test-node)"
	case TypeStopped:
		alert.Message = "⚠️ test-container has been stopped for 2h0m0s (node test-node)"
	default:
		alert.Type = TypeGeneric
		alert.Message = "Test notification from the dashboard"
	}

	e.fire(ctx, alert)
	return alert
}
