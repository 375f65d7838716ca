package client

import (
	"context"
	"crypto/tls"
	"fmt"
	"os"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/bergpinheiro/dashdocker/internal/config"
	"github.com/bergpinheiro/dashdocker/internal/protocol"
	"github.com/bergpinheiro/dashdocker/pkg/types"
)

const (
	writeTimeout     = 10 * time.Second
	handshakeTimeout = 10 * time.Second
	pingInterval     = 30 * time.Second
	pongTimeout      = 10 * time.Second
)

// Version is stamped at build time.
var Version = "dev"

// WebSocketClient maintains the connection to the aggregation server,
// reconnecting with exponential backoff. Pushes while disconnected fail
// fast; the collector drops those cycles.
type WebSocketClient struct {
	cfg *config.AgentConfig
	log *logrus.Logger

	conn   *websocket.Conn
	connMu sync.RWMutex

	stopChan chan struct{}
	doneChan chan struct{}
	stopOnce sync.Once
}

// NewWebSocketClient creates a client for the configured server.
func NewWebSocketClient(cfg *config.AgentConfig, log *logrus.Logger) *WebSocketClient {
	return &WebSocketClient{
		cfg:      cfg,
		log:      log,
		stopChan: make(chan struct{}),
		doneChan: make(chan struct{}),
	}
}

// Run connects and keeps the connection alive until ctx is cancelled or
// Stop is called. Each successful connection resets the backoff.
func (c *WebSocketClient) Run(ctx context.Context) error {
	defer close(c.doneChan)

	backoff := c.cfg.ReconnectInitial
	isReconnect := false

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.stopChan:
			return nil
		default:
		}

		if isReconnect {
			c.log.WithField("backoff", backoff).Info("Attempting to reconnect...")
		}

		if err := c.connect(ctx); err != nil {
			c.log.WithField("error", err.Error()).Errorf("Connection failed, retrying in %v", backoff)

			select {
			case <-time.After(backoff):
				backoff = backoff * 2
				if backoff > c.cfg.ReconnectMax {
					backoff = c.cfg.ReconnectMax
				}
			case <-ctx.Done():
				return ctx.Err()
			case <-c.stopChan:
				return nil
			}
			isReconnect = true
			continue
		}

		backoff = c.cfg.ReconnectInitial
		isReconnect = false

		if err := c.handleConnection(ctx); err != nil {
			c.log.WithError(err).Warn("Connection lost, will attempt to reconnect")
		}

		c.closeConnection()
		isReconnect = true
	}
}

// Stop shuts the client down and waits for Run to return.
func (c *WebSocketClient) Stop() {
	c.stopOnce.Do(func() { close(c.stopChan) })
	<-c.doneChan
}

// Connected reports whether a registered connection is up.
func (c *WebSocketClient) Connected() bool {
	c.connMu.RLock()
	defer c.connMu.RUnlock()
	return c.conn != nil
}

// SendUpdate pushes one collection cycle to the server.
func (c *WebSocketClient) SendUpdate(update types.NodeUpdate) error {
	return c.sendMessage(protocol.NewNodeData(update))
}

// wsURL converts the configured server URL to the websocket endpoint.
func (c *WebSocketClient) wsURL() string {
	u := c.cfg.ServerURL
	if strings.HasPrefix(u, "http://") {
		u = "ws://" + strings.TrimPrefix(u, "http://")
	} else if strings.HasPrefix(u, "https://") {
		u = "wss://" + strings.TrimPrefix(u, "https://")
	}
	if !strings.HasSuffix(u, "/api/agent/ws") {
		u = strings.TrimRight(u, "/") + "/api/agent/ws"
	}
	return u
}

func (c *WebSocketClient) connect(ctx context.Context) error {
	url := c.wsURL()
	c.log.WithField("url", url).Info("Connecting to server")

	dialer := websocket.Dialer{
		HandshakeTimeout: handshakeTimeout,
	}
	if c.cfg.InsecureSkipVerify {
		dialer.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}

	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return fmt.Errorf("failed to dial: %w", err)
	}

	c.connMu.Lock()
	c.conn = conn
	c.connMu.Unlock()

	if err := c.register(conn); err != nil {
		conn.Close()
		c.connMu.Lock()
		c.conn = nil
		c.connMu.Unlock()
		return fmt.Errorf("registration failed: %w", err)
	}

	c.log.WithField("node_id", c.cfg.NodeID).Info("Registered with server")
	return nil
}

// register performs the handshake: send identity, wait for the ack.
func (c *WebSocketClient) register(conn *websocket.Conn) error {
	hostname, _ := os.Hostname()
	req := protocol.NewRegister(types.RegistrationRequest{
		NodeID:       c.cfg.NodeID,
		Hostname:     hostname,
		AgentVersion: Version,
		AgentOS:      runtime.GOOS,
		AgentArch:    runtime.GOARCH,
	})

	data, err := protocol.EncodeMessage(req)
	if err != nil {
		return err
	}

	conn.SetWriteDeadline(time.Now().Add(handshakeTimeout))
	err = conn.WriteMessage(websocket.TextMessage, data)
	conn.SetWriteDeadline(time.Time{})
	if err != nil {
		return fmt.Errorf("failed to send registration: %w", err)
	}

	conn.SetReadDeadline(time.Now().Add(handshakeTimeout))
	defer conn.SetReadDeadline(time.Time{})

	_, respData, err := conn.ReadMessage()
	if err != nil {
		return fmt.Errorf("failed to read registration response: %w", err)
	}

	resp, err := protocol.DecodeMessage(respData)
	if err != nil {
		return fmt.Errorf("failed to decode registration response: %w", err)
	}
	if resp.Type == protocol.TypeError {
		return fmt.Errorf("registration rejected: %s", resp.Error)
	}
	if resp.Type != protocol.TypeRegistered {
		return fmt.Errorf("unexpected response type: %s", resp.Type)
	}

	return nil
}

// handleConnection keeps reading until the connection drops. The server
// only talks back to report errors, so the read loop doubles as liveness
// detection via ping/pong deadlines.
func (c *WebSocketClient) handleConnection(ctx context.Context) error {
	connCtx, connCancel := context.WithCancel(ctx)
	defer connCancel()

	c.connMu.RLock()
	conn := c.conn
	c.connMu.RUnlock()
	if conn == nil {
		return fmt.Errorf("connection not established")
	}

	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pingInterval + pongTimeout))
	})
	conn.SetReadDeadline(time.Now().Add(pingInterval + pongTimeout))

	// Shutdown watcher: closing the connection interrupts the blocked read.
	go func() {
		select {
		case <-connCtx.Done():
		case <-c.stopChan:
			c.connMu.Lock()
			if c.conn != nil {
				c.conn.Close()
				c.conn = nil
			}
			c.connMu.Unlock()
		}
	}()

	go c.pingLoop(connCtx)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.stopChan:
			return nil
		default:
		}

		c.connMu.RLock()
		conn := c.conn
		c.connMu.RUnlock()
		if conn == nil {
			return fmt.Errorf("connection closed")
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read error: %w", err)
		}
		conn.SetReadDeadline(time.Now().Add(pingInterval + pongTimeout))

		msg, err := protocol.DecodeMessage(data)
		if err != nil {
			c.log.WithError(err).Warn("Failed to decode message")
			continue
		}
		if msg.Type == protocol.TypeError {
			c.log.WithField("error", msg.Error).Warn("Server reported an error")
		}
	}
}

func (c *WebSocketClient) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stopChan:
			return
		case <-ticker.C:
			c.connMu.Lock()
			if c.conn == nil {
				c.connMu.Unlock()
				return
			}
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			err := c.conn.WriteMessage(websocket.PingMessage, nil)
			c.conn.SetWriteDeadline(time.Time{})
			c.connMu.Unlock()

			if err != nil {
				c.log.WithError(err).Warn("Failed to send ping")
				return
			}
		}
	}
}

// sendMessage writes one message, serialized by the connection mutex.
func (c *WebSocketClient) sendMessage(msg *types.Message) error {
	data, err := protocol.EncodeMessage(msg)
	if err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}

	c.connMu.Lock()
	defer c.connMu.Unlock()

	if c.conn == nil {
		return fmt.Errorf("connection not established")
	}

	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	err = c.conn.WriteMessage(websocket.TextMessage, data)
	c.conn.SetWriteDeadline(time.Time{})

	if err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	return nil
}

func (c *WebSocketClient) closeConnection() {
	c.connMu.Lock()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.connMu.Unlock()
}
