package types

import "time"

// Message is the websocket envelope exchanged between agent and server.
type Message struct {
	Type      string      `json:"type"` // "register", "registered", "node_data", "error"
	ID        string      `json:"id,omitempty"`
	Payload   interface{} `json:"payload,omitempty"`
	Error     string      `json:"error,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// RegistrationRequest is sent by the agent right after connecting.
type RegistrationRequest struct {
	NodeID       string `json:"node_id"`
	Hostname     string `json:"hostname,omitempty"`
	AgentVersion string `json:"agent_version,omitempty"`
	AgentOS      string `json:"agent_os,omitempty"`
	AgentArch    string `json:"agent_arch,omitempty"`
}

// RegistrationResponse acknowledges a registration.
type RegistrationResponse struct {
	NodeID string `json:"node_id"`
}

// PortMapping describes one published container port.
type PortMapping struct {
	IP          string `json:"ip,omitempty"`
	PrivatePort uint16 `json:"private_port"`
	PublicPort  uint16 `json:"public_port,omitempty"`
	Type        string `json:"type"`
}

// ContainerSnapshot is the point-in-time view of one container as reported
// by a node. A new snapshot replaces the previous one wholesale; identity
// continuity is by ID only.
type ContainerSnapshot struct {
	ID      string            `json:"id"`
	Name    string            `json:"name"`
	Image   string            `json:"image"`
	State   string            `json:"state"`            // running, exited, dead, ...
	Status  string            `json:"status,omitempty"` // human readable, e.g. "Exited (0) 5 seconds ago"
	Health  string            `json:"health,omitempty"` // healthy, unhealthy, starting
	Created int64             `json:"created"`          // unix seconds
	Uptime  string            `json:"uptime,omitempty"` // rendered, running containers only
	Ports   []PortMapping     `json:"ports,omitempty"`
	Labels  map[string]string `json:"labels,omitempty"`
	Command string            `json:"command,omitempty"`
}

// CPUStats holds the normalized CPU usage of one container.
type CPUStats struct {
	Percent float64 `json:"percent"`
	Usage   uint64  `json:"usage"`  // cpu delta (ticks)
	System  uint64  `json:"system"` // system delta (ticks)
}

// MemoryStats holds the normalized memory usage of one container. The
// formatted fields carry the rendered sizes alongside the raw counters.
type MemoryStats struct {
	Percent        float64 `json:"percent"`
	Usage          uint64  `json:"usage"` // bytes
	Limit          uint64  `json:"limit"` // bytes
	UsageFormatted string  `json:"usageFormatted,omitempty"`
	LimitFormatted string  `json:"limitFormatted,omitempty"`
}

// NetworkStats holds byte counters summed across all interfaces.
type NetworkStats struct {
	RxBytes     uint64 `json:"rx_bytes"`
	TxBytes     uint64 `json:"tx_bytes"`
	RxFormatted string `json:"rxFormatted,omitempty"`
	TxFormatted string `json:"txFormatted,omitempty"`
}

// BlockIOStats holds byte counters summed across all block devices.
type BlockIOStats struct {
	Read           uint64 `json:"read"`
	Write          uint64 `json:"write"`
	ReadFormatted  string `json:"readFormatted,omitempty"`
	WriteFormatted string `json:"writeFormatted,omitempty"`
}

// ResourceStats is the normalized resource usage of one container for one
// collection cycle.
type ResourceStats struct {
	CPU     CPUStats     `json:"cpu"`
	Memory  MemoryStats  `json:"memory"`
	Network NetworkStats `json:"network"`
	Block   BlockIOStats `json:"block"`
}

// RuntimeEvent is one Docker engine event observed during a collection
// window. Time is unix seconds, TimeNano unix nanoseconds; either may be
// zero depending on the engine version.
type RuntimeEvent struct {
	Type       string            `json:"type"`
	Action     string            `json:"action"`
	ID         string            `json:"id"`
	From       string            `json:"from,omitempty"`
	Time       int64             `json:"time"`
	TimeNano   int64             `json:"timeNano,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// NodeUpdate is one full push from a node collector: the complete truth
// about that node for one cycle. A nil entry in Stats means stats
// collection failed for that container this cycle.
type NodeUpdate struct {
	NodeID     string                    `json:"nodeId"`
	Timestamp  int64                     `json:"timestamp"` // ms since epoch
	Containers []ContainerSnapshot       `json:"containers"`
	Stats      map[string]*ResourceStats `json:"stats"`
	Events     []RuntimeEvent            `json:"events"`
}
