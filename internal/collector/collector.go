package collector

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/bergpinheiro/dashdocker/pkg/types"
)

// Engine is the Docker surface the collector reads from.
type Engine interface {
	ListContainers(ctx context.Context) ([]types.ContainerSnapshot, error)
	ContainerStats(ctx context.Context, containerID string) (types.ResourceStats, error)
	RecentEvents(ctx context.Context, since, until time.Time) ([]types.RuntimeEvent, error)
}

// Sender pushes updates to the aggregation server.
type Sender interface {
	Connected() bool
	SendUpdate(update types.NodeUpdate) error
}

// Collector polls the local engine on a fixed interval and pushes each
// cycle's full snapshot upstream. Cycles while disconnected are dropped;
// the next connected cycle carries the complete current truth anyway.
type Collector struct {
	log    *logrus.Logger
	engine Engine
	sender Sender

	nodeID       string
	pollInterval time.Duration
	eventWindow  time.Duration
	now          func() time.Time
}

// New creates a collector for one node.
func New(log *logrus.Logger, engine Engine, sender Sender, nodeID string, pollInterval, eventWindow time.Duration) *Collector {
	return &Collector{
		log:          log,
		engine:       engine,
		sender:       sender,
		nodeID:       nodeID,
		pollInterval: pollInterval,
		eventWindow:  eventWindow,
		now:          time.Now,
	}
}

// Run polls until ctx is cancelled. The first collection happens
// immediately rather than one interval in.
func (c *Collector) Run(ctx context.Context) {
	c.log.WithFields(logrus.Fields{
		"node_id":  c.nodeID,
		"interval": c.pollInterval,
	}).Info("Collector started")

	c.collectOnce(ctx)

	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.log.Info("Collector stopped")
			return
		case <-ticker.C:
			c.collectOnce(ctx)
		}
	}
}

func (c *Collector) collectOnce(ctx context.Context) {
	if !c.sender.Connected() {
		c.log.Debug("Not connected, skipping collection cycle")
		return
	}

	update, err := c.Collect(ctx)
	if err != nil {
		c.log.WithError(err).Error("Collection cycle failed")
		return
	}

	if !c.sender.Connected() {
		c.log.Debug("Connection lost during collection, dropping update")
		return
	}
	if err := c.sender.SendUpdate(update); err != nil {
		c.log.WithError(err).Error("Failed to push update")
	}
}

// Collect builds one complete node update: all containers, stats for the
// running ones and events from the trailing window. A failed stats read
// for one container becomes a nil entry instead of failing the cycle.
func (c *Collector) Collect(ctx context.Context) (types.NodeUpdate, error) {
	now := c.now()

	containers, err := c.engine.ListContainers(ctx)
	if err != nil {
		return types.NodeUpdate{}, err
	}

	statsMap := make(map[string]*types.ResourceStats)
	var mu sync.Mutex
	var wg sync.WaitGroup

	for _, ct := range containers {
		if ct.State != "running" {
			continue
		}
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			st, err := c.engine.ContainerStats(ctx, id)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				c.log.WithError(err).WithField("container", id).Debug("Stats collection failed")
				statsMap[id] = nil
				return
			}
			statsMap[id] = &st
		}(ct.ID)
	}
	wg.Wait()

	events, err := c.engine.RecentEvents(ctx, now.Add(-c.eventWindow), now)
	if err != nil {
		c.log.WithError(err).Debug("Event query failed")
		events = []types.RuntimeEvent{}
	}

	return types.NodeUpdate{
		NodeID:     c.nodeID,
		Timestamp:  now.UnixMilli(),
		Containers: containers,
		Stats:      statsMap,
		Events:     events,
	}, nil
}
