package client

import (
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/bergpinheiro/dashdocker/internal/config"
	"github.com/bergpinheiro/dashdocker/pkg/types"
)

func testClient(serverURL string) *WebSocketClient {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return NewWebSocketClient(&config.AgentConfig{
		ServerURL:        serverURL,
		NodeID:           "worker-1",
		ReconnectInitial: time.Second,
		ReconnectMax:     60 * time.Second,
	}, log)
}

func TestWsURL(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"http://server:3001", "ws://server:3001/api/agent/ws"},
		{"https://server:3001", "wss://server:3001/api/agent/ws"},
		{"ws://server:3001", "ws://server:3001/api/agent/ws"},
		{"ws://server:3001/api/agent/ws", "ws://server:3001/api/agent/ws"},
		{"http://server:3001/", "ws://server:3001/api/agent/ws"},
	}
	for _, tt := range tests {
		c := testClient(tt.in)
		if got := c.wsURL(); got != tt.want {
			t.Errorf("wsURL(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestSendUpdateWhenDisconnected(t *testing.T) {
	c := testClient("ws://server:3001")

	if c.Connected() {
		t.Error("Connected() = true before any connection")
	}
	if err := c.SendUpdate(types.NodeUpdate{NodeID: "worker-1"}); err == nil {
		t.Error("SendUpdate() must fail fast while disconnected")
	}
}
