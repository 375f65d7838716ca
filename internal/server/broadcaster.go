package server

import (
	"encoding/json"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/bergpinheiro/dashdocker/internal/aggregator"
)

// Broadcaster fans live container events out to dashboard websockets.
type Broadcaster struct {
	log *logrus.Logger

	mu             sync.RWMutex
	connections    map[*websocket.Conn]*sync.Mutex // per-connection write mutex
	maxConnections int
}

// NewBroadcaster creates a broadcaster capped at 100 connections.
func NewBroadcaster(log *logrus.Logger) *Broadcaster {
	return &Broadcaster{
		log:            log,
		connections:    make(map[*websocket.Conn]*sync.Mutex),
		maxConnections: 100,
	}
}

// AddConnection registers a dashboard connection. Returns an error when
// the connection limit is reached.
func (b *Broadcaster) AddConnection(conn *websocket.Conn) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.connections) >= b.maxConnections {
		b.log.WithField("limit", b.maxConnections).Warn("Event websocket limit reached, rejecting connection")
		return &websocket.CloseError{Code: websocket.ClosePolicyViolation, Text: "connection limit reached"}
	}

	b.connections[conn] = &sync.Mutex{}
	b.log.WithField("total", len(b.connections)).Debug("Event websocket connected")
	return nil
}

// RemoveConnection unregisters a dashboard connection.
func (b *Broadcaster) RemoveConnection(conn *websocket.Conn) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.connections, conn)
	b.log.WithField("total", len(b.connections)).Debug("Event websocket disconnected")
}

// liveEvent is the wire shape of one feed entry.
type liveEvent struct {
	aggregator.TaggedEvent
	IsCritical bool `json:"isCritical"`
}

// Broadcast sends one event to every connected dashboard. Connections
// that fail the write are dropped.
func (b *Broadcaster) Broadcast(ev aggregator.TaggedEvent, critical bool) {
	data, err := json.Marshal(liveEvent{TaggedEvent: ev, IsCritical: critical})
	if err != nil {
		b.log.WithError(err).Error("Failed to marshal event")
		return
	}

	b.mu.RLock()
	connMutexes := make(map[*websocket.Conn]*sync.Mutex, len(b.connections))
	for conn, mu := range b.connections {
		connMutexes[conn] = mu
	}
	b.mu.RUnlock()

	var dead []*websocket.Conn
	for conn, mu := range connMutexes {
		mu.Lock()
		err := conn.WriteMessage(websocket.TextMessage, data)
		mu.Unlock()

		if err != nil {
			dead = append(dead, conn)
		}
	}

	if len(dead) > 0 {
		b.mu.Lock()
		var toClose []*websocket.Conn
		for _, conn := range dead {
			if _, exists := b.connections[conn]; exists {
				delete(b.connections, conn)
				toClose = append(toClose, conn)
			}
		}
		b.mu.Unlock()

		// Close outside the lock, the call can block on network I/O.
		for _, conn := range toClose {
			conn.Close()
		}
	}
}

// ConnectionCount returns the number of connected dashboards.
func (b *Broadcaster) ConnectionCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.connections)
}

// CloseAll disconnects every dashboard, used at shutdown.
func (b *Broadcaster) CloseAll() {
	b.mu.Lock()
	var toClose []*websocket.Conn
	for conn := range b.connections {
		toClose = append(toClose, conn)
	}
	b.connections = make(map[*websocket.Conn]*sync.Mutex)
	b.mu.Unlock()

	for _, conn := range toClose {
		conn.Close()
	}
}
