package server

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/bergpinheiro/dashdocker/internal/aggregator"
	"github.com/bergpinheiro/dashdocker/internal/alerts"
	"github.com/bergpinheiro/dashdocker/internal/events"
	"github.com/bergpinheiro/dashdocker/internal/notifier"
	"github.com/bergpinheiro/dashdocker/pkg/types"
)

func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()

	log := logrus.New()
	log.SetOutput(io.Discard)

	store := aggregator.NewStore(log, aggregator.Options{})
	waha := notifier.NewWaha(log, "", "", "", "")
	engine := alerts.NewEngine(log, store, waha, time.Minute)
	monitor := events.NewMonitor(log, waha)

	s := New(log, ":0", store, engine, monitor, waha)
	ts := httptest.NewServer(s.routes())
	t.Cleanup(ts.Close)
	return s, ts
}

func getJSON(t *testing.T, url string, target any) *http.Response {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	if target != nil {
		if err := json.NewDecoder(resp.Body).Decode(target); err != nil {
			t.Fatalf("decode %s: %v", url, err)
		}
	}
	return resp
}

func TestHealthEndpoint(t *testing.T) {
	_, ts := newTestServer(t)

	var body map[string]any
	resp := getJSON(t, ts.URL+"/health", &body)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if body["status"] != "ok" {
		t.Errorf("status field = %v", body["status"])
	}
}

func TestNodeEndpoints(t *testing.T) {
	s, ts := newTestServer(t)

	s.store.UpdateNodeData("worker-1", types.NodeUpdate{
		Timestamp: time.Now().UnixMilli(),
		Containers: []types.ContainerSnapshot{
			{ID: "c1", Name: "web", State: "running"},
		},
	})

	var nodes []aggregator.NodeSummary
	getJSON(t, ts.URL+"/api/cluster/nodes", &nodes)
	if len(nodes) != 1 || nodes[0].NodeID != "worker-1" {
		t.Fatalf("nodes = %+v", nodes)
	}

	var node aggregator.NodeData
	resp := getJSON(t, ts.URL+"/api/cluster/nodes/worker-1", &node)
	if resp.StatusCode != http.StatusOK || len(node.Containers) != 1 {
		t.Errorf("node fetch: status=%d containers=%d", resp.StatusCode, len(node.Containers))
	}

	resp = getJSON(t, ts.URL+"/api/cluster/nodes/ghost", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown node status = %d, want 404", resp.StatusCode)
	}

	// Unknown node collection endpoints return empty, not errors.
	var containers []types.ContainerSnapshot
	resp = getJSON(t, ts.URL+"/api/cluster/nodes/ghost/containers", &containers)
	if resp.StatusCode != http.StatusOK || len(containers) != 0 {
		t.Errorf("ghost containers: status=%d len=%d", resp.StatusCode, len(containers))
	}
}

func TestServiceLookupEndpoint(t *testing.T) {
	s, ts := newTestServer(t)

	s.store.UpdateNodeData("worker-1", types.NodeUpdate{
		Timestamp: time.Now().UnixMilli(),
		Containers: []types.ContainerSnapshot{
			{ID: "c1", Name: "web.1.abc123", State: "running"},
			{ID: "c2", Name: "postgres", State: "running"},
		},
	})

	var matches []aggregator.TaggedContainer
	getJSON(t, ts.URL+"/api/services/web/containers", &matches)
	if len(matches) != 1 || matches[0].ID != "c1" {
		t.Errorf("matches = %+v", matches)
	}
}

func TestThresholdsValidation(t *testing.T) {
	_, ts := newTestServer(t)

	var current alerts.Thresholds
	getJSON(t, ts.URL+"/api/alerts/thresholds", &current)
	if current.CPUWarning != 70 || current.CPUCritical != 90 {
		t.Fatalf("defaults = %+v", current)
	}

	put := func(body string) int {
		req, _ := http.NewRequest(http.MethodPut, ts.URL+"/api/alerts/thresholds", bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("PUT: %v", err)
		}
		defer resp.Body.Close()
		io.Copy(io.Discard, resp.Body)
		return resp.StatusCode
	}

	if status := put(`{"cpuWarning": 50}`); status != http.StatusOK {
		t.Errorf("valid partial update status = %d", status)
	}
	// Warning crossing the current critical must be rejected.
	if status := put(`{"cpuWarning": 95}`); status != http.StatusBadRequest {
		t.Errorf("warning above critical status = %d, want 400", status)
	}
	if status := put(`{"memoryCritical": 101}`); status != http.StatusBadRequest {
		t.Errorf("critical above 100 status = %d, want 400", status)
	}
	if status := put(`{"cpuWarning": -1}`); status != http.StatusBadRequest {
		t.Errorf("negative warning status = %d, want 400", status)
	}
	if status := put(`not json`); status != http.StatusBadRequest {
		t.Errorf("malformed body status = %d, want 400", status)
	}

	// The rejected updates must not have leaked into the engine.
	getJSON(t, ts.URL+"/api/alerts/thresholds", &current)
	if current.CPUWarning != 50 || current.CPUCritical != 90 {
		t.Errorf("thresholds after rejects = %+v", current)
	}
}

func TestAlertTestEndpoint(t *testing.T) {
	_, ts := newTestServer(t)

	resp, err := http.Post(ts.URL+"/api/alerts/test", "application/json",
		bytes.NewBufferString(`{"type":"resource"}`))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var alert alerts.Alert
	if err := json.NewDecoder(resp.Body).Decode(&alert); err != nil {
		t.Fatal(err)
	}
	if alert.Type != alerts.TypeResource || alert.Level != alerts.LevelCritical {
		t.Errorf("test alert = %+v", alert)
	}
}

func TestAlertStatusEndpoint(t *testing.T) {
	_, ts := newTestServer(t)

	var status map[string]any
	getJSON(t, ts.URL+"/api/alerts/status", &status)

	if _, ok := status["thresholds"]; !ok {
		t.Error("status missing thresholds")
	}
	if status["eventMonitor"] != false {
		t.Errorf("eventMonitor = %v, want false before Run", status["eventMonitor"])
	}
	if status["sinkEnabled"] != false {
		t.Errorf("sinkEnabled = %v, want false without gateway config", status["sinkEnabled"])
	}
}

func TestOverviewEndpoint(t *testing.T) {
	s, ts := newTestServer(t)

	cpu := 40.0
	s.store.UpdateNodeData("worker-1", types.NodeUpdate{
		Timestamp: time.Now().UnixMilli(),
		Containers: []types.ContainerSnapshot{
			{ID: "c1", State: "running"},
			{ID: "c2", State: "exited"},
		},
		Stats: map[string]*types.ResourceStats{
			"c1": {CPU: types.CPUStats{Percent: cpu}},
		},
	})

	var overview aggregator.ClusterStats
	getJSON(t, ts.URL+"/api/cluster/overview", &overview)
	if overview.TotalContainers != 2 || overview.RunningContainers != 1 {
		t.Errorf("overview = %+v", overview)
	}
	if overview.AverageCPU != cpu/2 {
		t.Errorf("AverageCPU = %v, want %v", overview.AverageCPU, cpu/2)
	}
}

func TestIngestForwardsEvents(t *testing.T) {
	s, _ := newTestServer(t)

	s.ingest("worker-1", types.NodeUpdate{
		Timestamp: time.Now().UnixMilli(),
		Events:    []types.RuntimeEvent{{Action: "die", ID: "c1"}},
	})

	select {
	case ev := <-s.Events():
		if ev.NodeID != "worker-1" || ev.Action != "die" {
			t.Errorf("forwarded event = %+v", ev)
		}
	default:
		t.Fatal("event not forwarded to the monitor queue")
	}

	// The push itself must have landed in the store too.
	if s.store.GetNodeData("worker-1") == nil {
		t.Error("push not applied to the store")
	}
}

func TestNotifyStatusUnconfigured(t *testing.T) {
	_, ts := newTestServer(t)

	var status notifier.GatewayStatus
	getJSON(t, ts.URL+"/api/notify/status", &status)
	if status.Configured {
		t.Errorf("status = %+v, want unconfigured", status)
	}
}
