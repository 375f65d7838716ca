package aggregator

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/bergpinheiro/dashdocker/pkg/types"
)

const (
	// DefaultNodeTimeout is how long a node may stay silent before it is
	// marked offline. A node silent for twice this long is evicted.
	DefaultNodeTimeout = 30 * time.Second

	// DefaultCleanupInterval bounds how often the aging sweep runs.
	DefaultCleanupInterval = 10 * time.Second

	// DefaultRecentWindow is the recency cutoff for GetAllRecentEvents.
	DefaultRecentWindow = 30 * time.Second
)

// nodeRecord is the last-known state of one node. It is owned exclusively
// by the store; the record mutex makes each push atomic per node without
// serializing pushes from different nodes.
type nodeRecord struct {
	mu         sync.Mutex
	lastUpdate time.Time
	containers []types.ContainerSnapshot
	stats      map[string]*types.ResourceStats
	events     []types.RuntimeEvent
	isOnline   bool
}

// Store is the single source of truth for the cluster view. It merges
// per-node pushes into one queryable in-memory state and ages out nodes
// that stop reporting.
type Store struct {
	log             *logrus.Logger
	nodeTimeout     time.Duration
	cleanupInterval time.Duration
	recentWindow    time.Duration
	now             func() time.Time

	mu          sync.RWMutex // guards the nodes map, not the records
	nodes       map[string]*nodeRecord
	lastCleanup time.Time
}

// Options tunes the store timeouts. Zero values fall back to defaults.
type Options struct {
	NodeTimeout     time.Duration
	CleanupInterval time.Duration
	RecentWindow    time.Duration
}

// NewStore creates an empty store.
func NewStore(log *logrus.Logger, opts Options) *Store {
	if opts.NodeTimeout <= 0 {
		opts.NodeTimeout = DefaultNodeTimeout
	}
	if opts.CleanupInterval <= 0 {
		opts.CleanupInterval = DefaultCleanupInterval
	}
	if opts.RecentWindow <= 0 {
		opts.RecentWindow = DefaultRecentWindow
	}

	return &Store{
		log:             log,
		nodeTimeout:     opts.NodeTimeout,
		cleanupInterval: opts.CleanupInterval,
		recentWindow:    opts.RecentWindow,
		now:             time.Now,
		nodes:           make(map[string]*nodeRecord),
	}
}

// UpdateNodeData applies one push from a node: the containers, stats and
// events replace the previous cycle wholesale, the node is marked online
// and its lastUpdate advanced. Missing collections default to empty.
// Pushes are last-arrived-wins; an out-of-order push with an older
// timestamp is not rejected.
func (s *Store) UpdateNodeData(nodeID string, update types.NodeUpdate) {
	if nodeID == "" {
		return
	}

	containers := update.Containers
	if containers == nil {
		containers = []types.ContainerSnapshot{}
	}
	stats := update.Stats
	if stats == nil {
		stats = map[string]*types.ResourceStats{}
	}
	events := update.Events
	if events == nil {
		events = []types.RuntimeEvent{}
	}

	lastUpdate := time.UnixMilli(update.Timestamp)

	s.mu.RLock()
	rec, exists := s.nodes[nodeID]
	s.mu.RUnlock()

	if !exists {
		s.mu.Lock()
		rec, exists = s.nodes[nodeID]
		if !exists {
			rec = &nodeRecord{}
			s.nodes[nodeID] = rec
			s.log.WithField("node_id", nodeID).Info("New node registered")
		}
		s.mu.Unlock()
	}

	rec.mu.Lock()
	rec.lastUpdate = lastUpdate
	rec.containers = containers
	rec.stats = stats
	rec.events = events
	rec.isOnline = true
	rec.mu.Unlock()

	s.log.WithFields(logrus.Fields{
		"node_id":    nodeID,
		"containers": len(containers),
	}).Debug("Node data updated")

	s.cleanupIfNeeded()
}

// NodeSummary is the per-node row returned by GetAllNodesData.
type NodeSummary struct {
	NodeID         string    `json:"nodeId"`
	LastUpdate     time.Time `json:"lastUpdate"`
	IsOnline       bool      `json:"isOnline"`
	ContainerCount int       `json:"containerCount"`
	RunningCount   int       `json:"runningCount"`
}

// GetAllNodesData returns a summary of every known node, sorted by nodeId
// for stable UI ordering.
func (s *Store) GetAllNodesData() []NodeSummary {
	nodes := make([]NodeSummary, 0)

	s.mu.RLock()
	defer s.mu.RUnlock()

	for nodeID, rec := range s.nodes {
		rec.mu.Lock()
		summary := NodeSummary{
			NodeID:         nodeID,
			LastUpdate:     rec.lastUpdate,
			IsOnline:       rec.isOnline,
			ContainerCount: len(rec.containers),
		}
		for _, c := range rec.containers {
			if c.State == "running" {
				summary.RunningCount++
			}
		}
		rec.mu.Unlock()
		nodes = append(nodes, summary)
	}

	sort.Slice(nodes, func(i, j int) bool { return nodes[i].NodeID < nodes[j].NodeID })
	return nodes
}

// TaggedContainer is a container snapshot tagged with its source node.
type TaggedContainer struct {
	types.ContainerSnapshot
	NodeID string `json:"nodeId"`
}

// GetAllContainers flattens every node's container list into one sequence.
// Containers are not deduplicated across nodes: if two nodes erroneously
// report the same container ID, both entries appear.
func (s *Store) GetAllContainers() []TaggedContainer {
	all := make([]TaggedContainer, 0)

	s.mu.RLock()
	defer s.mu.RUnlock()

	for nodeID, rec := range s.nodes {
		rec.mu.Lock()
		for _, c := range rec.containers {
			all = append(all, TaggedContainer{ContainerSnapshot: c, NodeID: nodeID})
		}
		rec.mu.Unlock()
	}

	return all
}

// TaggedStats is a container's resource stats tagged with its source node.
type TaggedStats struct {
	types.ResourceStats
	NodeID string `json:"nodeId"`
}

// GetAllStats returns the stats of every container across all nodes.
// Containers whose stats collection failed this cycle are omitted.
func (s *Store) GetAllStats() map[string]TaggedStats {
	all := make(map[string]TaggedStats)

	s.mu.RLock()
	defer s.mu.RUnlock()

	for nodeID, rec := range s.nodes {
		rec.mu.Lock()
		for containerID, st := range rec.stats {
			if st == nil {
				continue
			}
			all[containerID] = TaggedStats{ResourceStats: *st, NodeID: nodeID}
		}
		rec.mu.Unlock()
	}

	return all
}

// NodeData is the full last-known state of one node.
type NodeData struct {
	NodeID     string                          `json:"nodeId"`
	LastUpdate time.Time                       `json:"lastUpdate"`
	IsOnline   bool                            `json:"isOnline"`
	Containers []types.ContainerSnapshot      `json:"containers"`
	Stats      map[string]*types.ResourceStats `json:"stats"`
	Events     []types.RuntimeEvent            `json:"events"`
}

// GetNodeData returns the full state of one node, or nil if unknown.
func (s *Store) GetNodeData(nodeID string) *NodeData {
	s.mu.RLock()
	rec, ok := s.nodes[nodeID]
	s.mu.RUnlock()
	if !ok {
		return nil
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()

	containers := make([]types.ContainerSnapshot, len(rec.containers))
	copy(containers, rec.containers)
	stats := make(map[string]*types.ResourceStats, len(rec.stats))
	for k, v := range rec.stats {
		stats[k] = v
	}
	events := make([]types.RuntimeEvent, len(rec.events))
	copy(events, rec.events)

	return &NodeData{
		NodeID:     nodeID,
		LastUpdate: rec.lastUpdate,
		IsOnline:   rec.isOnline,
		Containers: containers,
		Stats:      stats,
		Events:     events,
	}
}

// GetNodeContainers returns the containers of one node, or an empty slice
// if the node is unknown.
func (s *Store) GetNodeContainers(nodeID string) []types.ContainerSnapshot {
	data := s.GetNodeData(nodeID)
	if data == nil {
		return []types.ContainerSnapshot{}
	}
	return data.Containers
}

// GetNodeStats returns the stats map of one node, or an empty map if the
// node is unknown.
func (s *Store) GetNodeStats(nodeID string) map[string]*types.ResourceStats {
	data := s.GetNodeData(nodeID)
	if data == nil {
		return map[string]*types.ResourceStats{}
	}
	return data.Stats
}

// ClusterStats is the aggregate view over all nodes.
type ClusterStats struct {
	TotalNodes        int     `json:"totalNodes"`
	OnlineNodes       int     `json:"onlineNodes"`
	TotalContainers   int     `json:"totalContainers"`
	RunningContainers int     `json:"runningContainers"`
	StoppedContainers int     `json:"stoppedContainers"`
	AverageCPU        float64 `json:"averageCpu"`
	TotalMemory       uint64  `json:"totalMemory"`
}

// GetClusterStats computes cluster-wide counters in one pass over the
// store. The result is weakly consistent with concurrent pushes.
func (s *Store) GetClusterStats() ClusterStats {
	var cs ClusterStats
	var totalCPU float64

	s.mu.RLock()
	defer s.mu.RUnlock()

	cs.TotalNodes = len(s.nodes)

	for _, rec := range s.nodes {
		rec.mu.Lock()
		if rec.isOnline {
			cs.OnlineNodes++
		}
		cs.TotalContainers += len(rec.containers)
		for _, c := range rec.containers {
			if c.State == "running" {
				cs.RunningContainers++
			}
		}
		for _, st := range rec.stats {
			if st == nil {
				continue
			}
			totalCPU += st.CPU.Percent
			cs.TotalMemory += st.Memory.Usage
		}
		rec.mu.Unlock()
	}

	cs.StoppedContainers = cs.TotalContainers - cs.RunningContainers
	if cs.TotalContainers > 0 {
		cs.AverageCPU = totalCPU / float64(cs.TotalContainers)
	}
	return cs
}

// TaggedEvent is a runtime event tagged with its source node.
type TaggedEvent struct {
	types.RuntimeEvent
	NodeID string `json:"nodeId"`
}

// GetAllRecentEvents merges every node's event buffer, keeps only events
// within the recency window and sorts them most recent first. Event times
// arrive in either second or nanosecond precision depending on the engine.
func (s *Store) GetAllRecentEvents() []TaggedEvent {
	nowMillis := s.now().UnixMilli()
	recent := make([]TaggedEvent, 0)

	s.mu.RLock()
	for nodeID, rec := range s.nodes {
		rec.mu.Lock()
		for _, ev := range rec.events {
			if nowMillis-eventMillis(ev) <= s.recentWindow.Milliseconds() {
				recent = append(recent, TaggedEvent{RuntimeEvent: ev, NodeID: nodeID})
			}
		}
		rec.mu.Unlock()
	}
	s.mu.RUnlock()

	sort.Slice(recent, func(i, j int) bool {
		return eventNanos(recent[i].RuntimeEvent) > eventNanos(recent[j].RuntimeEvent)
	})
	return recent
}

func eventMillis(ev types.RuntimeEvent) int64 {
	if ev.TimeNano != 0 {
		return ev.TimeNano / int64(time.Millisecond)
	}
	return ev.Time * 1000
}

func eventNanos(ev types.RuntimeEvent) int64 {
	if ev.TimeNano != 0 {
		return ev.TimeNano
	}
	return ev.Time * int64(time.Second)
}

// cleanupIfNeeded runs the aging sweep at most once per cleanupInterval.
// The sweep is amortized into the push path, so node staleness has a
// bounded detection lag of one interval.
func (s *Store) cleanupIfNeeded() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if now.Sub(s.lastCleanup) < s.cleanupInterval {
		return
	}
	s.lastCleanup = now

	s.sweepLocked(now)
}

// Sweep runs the aging sweep immediately, regardless of the interval.
func (s *Store) Sweep() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	s.lastCleanup = now
	s.sweepLocked(now)
}

func (s *Store) sweepLocked(now time.Time) {
	var evicted []string

	for nodeID, rec := range s.nodes {
		rec.mu.Lock()
		silence := now.Sub(rec.lastUpdate)
		switch {
		case silence > 2*s.nodeTimeout:
			evicted = append(evicted, nodeID)
		case silence > s.nodeTimeout && rec.isOnline:
			rec.isOnline = false
			s.log.WithFields(logrus.Fields{
				"node_id": nodeID,
				"silence": silence.Round(time.Second),
			}).Warn("Node marked offline")
		}
		rec.mu.Unlock()
	}

	for _, nodeID := range evicted {
		delete(s.nodes, nodeID)
		s.log.WithField("node_id", nodeID).Info("Evicted stale node")
	}
}

// Run periodically sweeps in the background so offline detection does not
// depend on pushes arriving. Blocks until ctx is cancelled.
func (s *Store) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep()
		}
	}
}
