package aggregator

import (
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/bergpinheiro/dashdocker/pkg/types"
)

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

// fakeClock lets tests advance store time deterministically.
type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time { return c.t }

func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestStore(clock *fakeClock) *Store {
	s := NewStore(testLogger(), Options{})
	s.now = clock.now
	return s
}

func update(clock *fakeClock, containers []types.ContainerSnapshot, stats map[string]*types.ResourceStats, events []types.RuntimeEvent) types.NodeUpdate {
	return types.NodeUpdate{
		Timestamp:  clock.t.UnixMilli(),
		Containers: containers,
		Stats:      stats,
		Events:     events,
	}
}

func TestUpdateNodeDataReplacesWholesale(t *testing.T) {
	clock := &fakeClock{t: time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)}
	s := newTestStore(clock)

	s.UpdateNodeData("worker-1", update(clock,
		[]types.ContainerSnapshot{{ID: "aaa", Name: "web", State: "running"}, {ID: "bbb", Name: "db", State: "running"}},
		map[string]*types.ResourceStats{"aaa": {CPU: types.CPUStats{Percent: 10}}},
		nil))

	// Second push omits container bbb entirely. Nothing from the first
	// push may survive.
	s.UpdateNodeData("worker-1", update(clock,
		[]types.ContainerSnapshot{{ID: "aaa", Name: "web", State: "running"}},
		map[string]*types.ResourceStats{"aaa": {CPU: types.CPUStats{Percent: 20}}},
		nil))

	data := s.GetNodeData("worker-1")
	if data == nil {
		t.Fatal("GetNodeData() = nil for known node")
	}
	if len(data.Containers) != 1 || data.Containers[0].ID != "aaa" {
		t.Errorf("containers = %+v, want only aaa", data.Containers)
	}
	if got := data.Stats["aaa"].CPU.Percent; got != 20 {
		t.Errorf("stats cpu = %v, want 20 from latest push", got)
	}
}

func TestUpdateNodeDataDefaultsMissingCollections(t *testing.T) {
	clock := &fakeClock{t: time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)}
	s := newTestStore(clock)

	s.UpdateNodeData("worker-1", types.NodeUpdate{Timestamp: clock.t.UnixMilli()})

	data := s.GetNodeData("worker-1")
	if data.Containers == nil || data.Stats == nil || data.Events == nil {
		t.Errorf("missing collections must default to empty, got %+v", data)
	}
}

func TestUnknownNodeSentinels(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	s := newTestStore(clock)

	if got := s.GetNodeData("ghost"); got != nil {
		t.Errorf("GetNodeData(ghost) = %+v, want nil", got)
	}
	if got := s.GetNodeContainers("ghost"); got == nil || len(got) != 0 {
		t.Errorf("GetNodeContainers(ghost) = %v, want empty slice", got)
	}
	if got := s.GetNodeStats("ghost"); got == nil || len(got) != 0 {
		t.Errorf("GetNodeStats(ghost) = %v, want empty map", got)
	}
}

func TestOfflineAndEvictionTimeline(t *testing.T) {
	clock := &fakeClock{t: time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)}
	s := newTestStore(clock)

	s.UpdateNodeData("worker-1", update(clock, nil, nil, nil))

	nodes := s.GetAllNodesData()
	if len(nodes) != 1 || !nodes[0].IsOnline {
		t.Fatalf("fresh node must be online, got %+v", nodes)
	}

	// Silent past the timeout: marked offline but still listed.
	clock.advance(35 * time.Second)
	s.Sweep()

	nodes = s.GetAllNodesData()
	if len(nodes) != 1 {
		t.Fatalf("node evicted too early, got %d nodes", len(nodes))
	}
	if nodes[0].IsOnline {
		t.Error("node silent for 35s must be offline")
	}

	// Silent past twice the timeout: evicted entirely.
	clock.advance(30 * time.Second)
	s.Sweep()

	if nodes = s.GetAllNodesData(); len(nodes) != 0 {
		t.Errorf("node silent for 65s must be evicted, got %+v", nodes)
	}

	// A returning node reappears as a fresh registration.
	s.UpdateNodeData("worker-1", update(clock, nil, nil, nil))
	nodes = s.GetAllNodesData()
	if len(nodes) != 1 || !nodes[0].IsOnline {
		t.Errorf("returning node must be online again, got %+v", nodes)
	}
}

func TestPushRevivesOfflineNode(t *testing.T) {
	clock := &fakeClock{t: time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)}
	s := newTestStore(clock)

	s.UpdateNodeData("worker-1", update(clock, nil, nil, nil))
	clock.advance(35 * time.Second)
	s.Sweep()

	s.UpdateNodeData("worker-1", update(clock, nil, nil, nil))
	nodes := s.GetAllNodesData()
	if !nodes[0].IsOnline {
		t.Error("push must flip an offline node back online")
	}
}

func TestGetAllNodesDataSortedWithCounts(t *testing.T) {
	clock := &fakeClock{t: time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)}
	s := newTestStore(clock)

	s.UpdateNodeData("worker-2", update(clock,
		[]types.ContainerSnapshot{{ID: "c1", State: "running"}}, nil, nil))
	s.UpdateNodeData("worker-1", update(clock,
		[]types.ContainerSnapshot{{ID: "c2", State: "running"}, {ID: "c3", State: "exited"}}, nil, nil))

	nodes := s.GetAllNodesData()
	if len(nodes) != 2 || nodes[0].NodeID != "worker-1" || nodes[1].NodeID != "worker-2" {
		t.Fatalf("nodes not sorted by id: %+v", nodes)
	}
	if nodes[0].ContainerCount != 2 || nodes[0].RunningCount != 1 {
		t.Errorf("worker-1 counts = %d/%d, want 2/1", nodes[0].ContainerCount, nodes[0].RunningCount)
	}
}

func TestGetAllContainersTagsNodeWithoutDedup(t *testing.T) {
	clock := &fakeClock{t: time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)}
	s := newTestStore(clock)

	// Same container ID reported by two nodes stays duplicated.
	s.UpdateNodeData("worker-1", update(clock, []types.ContainerSnapshot{{ID: "dup"}}, nil, nil))
	s.UpdateNodeData("worker-2", update(clock, []types.ContainerSnapshot{{ID: "dup"}}, nil, nil))

	all := s.GetAllContainers()
	if len(all) != 2 {
		t.Fatalf("GetAllContainers() = %d entries, want 2", len(all))
	}
	for _, c := range all {
		if c.NodeID != "worker-1" && c.NodeID != "worker-2" {
			t.Errorf("container missing node tag: %+v", c)
		}
	}
}

func TestGetAllStatsOmitsFailedCollections(t *testing.T) {
	clock := &fakeClock{t: time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)}
	s := newTestStore(clock)

	s.UpdateNodeData("worker-1", update(clock, nil, map[string]*types.ResourceStats{
		"ok":     {CPU: types.CPUStats{Percent: 5}},
		"failed": nil,
	}, nil))

	all := s.GetAllStats()
	if len(all) != 1 {
		t.Fatalf("GetAllStats() = %d entries, want 1", len(all))
	}
	if _, present := all["failed"]; present {
		t.Error("failed collection must be omitted from the aggregate")
	}
	if all["ok"].NodeID != "worker-1" {
		t.Error("stats entry missing node tag")
	}
}

func TestGetClusterStats(t *testing.T) {
	clock := &fakeClock{t: time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)}
	s := newTestStore(clock)

	if got := s.GetClusterStats(); got.AverageCPU != 0 {
		t.Errorf("empty cluster AverageCPU = %v, want 0", got.AverageCPU)
	}

	s.UpdateNodeData("worker-1", update(clock,
		[]types.ContainerSnapshot{{ID: "a", State: "running"}, {ID: "b", State: "exited"}},
		map[string]*types.ResourceStats{
			"a": {CPU: types.CPUStats{Percent: 30}, Memory: types.MemoryStats{Usage: 100}},
		}, nil))
	s.UpdateNodeData("worker-2", update(clock,
		[]types.ContainerSnapshot{{ID: "c", State: "running"}},
		map[string]*types.ResourceStats{
			"c": {CPU: types.CPUStats{Percent: 60}, Memory: types.MemoryStats{Usage: 50}},
		}, nil))

	cs := s.GetClusterStats()
	if cs.TotalNodes != 2 || cs.OnlineNodes != 2 {
		t.Errorf("nodes = %d/%d, want 2/2", cs.TotalNodes, cs.OnlineNodes)
	}
	if cs.TotalContainers != 3 || cs.RunningContainers != 2 || cs.StoppedContainers != 1 {
		t.Errorf("containers = %d/%d/%d, want 3/2/1", cs.TotalContainers, cs.RunningContainers, cs.StoppedContainers)
	}
	// Average is over all containers, including those without stats.
	if want := 90.0 / 3.0; cs.AverageCPU != want {
		t.Errorf("AverageCPU = %v, want %v", cs.AverageCPU, want)
	}
	if cs.TotalMemory != 150 {
		t.Errorf("TotalMemory = %v, want 150", cs.TotalMemory)
	}
}

func TestGetAllRecentEvents(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	clock := &fakeClock{t: now}
	s := newTestStore(clock)

	s.UpdateNodeData("worker-1", update(clock, nil, nil, []types.RuntimeEvent{
		{Action: "die", TimeNano: now.Add(-10 * time.Second).UnixNano()},
		{Action: "stale", TimeNano: now.Add(-45 * time.Second).UnixNano()},
		// Second-precision timestamp, as older engines report.
		{Action: "start", Time: now.Add(-5 * time.Second).Unix()},
	}))
	s.UpdateNodeData("worker-2", update(clock, nil, nil, []types.RuntimeEvent{
		{Action: "kill", TimeNano: now.Add(-20 * time.Second).UnixNano()},
	}))

	events := s.GetAllRecentEvents()
	if len(events) != 3 {
		t.Fatalf("GetAllRecentEvents() = %d events, want 3", len(events))
	}
	want := []string{"start", "die", "kill"}
	for i, w := range want {
		if events[i].Action != w {
			t.Errorf("events[%d].Action = %q, want %q (most recent first)", i, events[i].Action, w)
		}
	}
	for _, ev := range events {
		if ev.Action == "stale" {
			t.Error("event older than the window must be excluded")
		}
	}
}

func TestGetNodeDataReturnsCopies(t *testing.T) {
	clock := &fakeClock{t: time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)}
	s := newTestStore(clock)

	s.UpdateNodeData("worker-1", update(clock,
		[]types.ContainerSnapshot{{ID: "aaa", Name: "web"}}, nil, nil))

	data := s.GetNodeData("worker-1")
	data.Containers[0].Name = "mutated"

	if got := s.GetNodeData("worker-1").Containers[0].Name; got != "web" {
		t.Errorf("caller mutation leaked into the store: name = %q", got)
	}
}

func TestAmortizedCleanupOnPush(t *testing.T) {
	clock := &fakeClock{t: time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)}
	s := newTestStore(clock)

	s.UpdateNodeData("worker-1", update(clock, nil, nil, nil))
	clock.advance(35 * time.Second)

	// A push from another node triggers the sweep without an explicit
	// Sweep call.
	s.UpdateNodeData("worker-2", update(clock, nil, nil, nil))

	for _, n := range s.GetAllNodesData() {
		if n.NodeID == "worker-1" && n.IsOnline {
			t.Error("stale node must be marked offline by the amortized sweep")
		}
	}
}
