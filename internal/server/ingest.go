package server

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/bergpinheiro/dashdocker/internal/aggregator"
	"github.com/bergpinheiro/dashdocker/internal/protocol"
	"github.com/bergpinheiro/dashdocker/pkg/types"
)

// Agents ping every 30s; a socket silent for longer than this is dead.
const agentReadTimeout = 90 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// handleAgentWS is the ingest endpoint: one connection per node agent.
// The agent registers once, then streams node_data pushes.
func (s *Server) handleAgentWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.WithError(err).Warn("Agent websocket upgrade failed")
		return
	}
	defer conn.Close()

	nodeID, err := s.acceptRegistration(conn)
	if err != nil {
		s.log.WithError(err).Warn("Agent registration failed")
		return
	}

	log := s.log.WithField("node_id", nodeID)
	log.Info("Agent connected")
	defer log.Info("Agent disconnected")

	conn.SetReadDeadline(time.Now().Add(agentReadTimeout))
	conn.SetPingHandler(func(appData string) error {
		conn.SetReadDeadline(time.Now().Add(agentReadTimeout))
		return conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(10*time.Second))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		conn.SetReadDeadline(time.Now().Add(agentReadTimeout))

		msg, err := protocol.DecodeMessage(data)
		if err != nil {
			log.WithError(err).Warn("Undecodable message from agent")
			continue
		}

		switch msg.Type {
		case protocol.TypeNodeData:
			var update types.NodeUpdate
			if err := protocol.ParsePayload(msg, &update); err != nil {
				log.WithError(err).Warn("Malformed node_data payload")
				s.sendError(conn, msg.ID, err)
				continue
			}
			s.ingest(nodeID, update)
		default:
			log.WithField("type", msg.Type).Warn("Unexpected message type from agent")
		}
	}
}

// acceptRegistration performs the server side of the handshake.
func (s *Server) acceptRegistration(conn *websocket.Conn) (string, error) {
	conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	defer conn.SetReadDeadline(time.Time{})

	_, data, err := conn.ReadMessage()
	if err != nil {
		return "", fmt.Errorf("failed to read registration: %w", err)
	}

	msg, err := protocol.DecodeMessage(data)
	if err != nil {
		return "", fmt.Errorf("failed to decode registration: %w", err)
	}
	if msg.Type != protocol.TypeRegister {
		s.sendError(conn, msg.ID, fmt.Errorf("expected register, got %s", msg.Type))
		return "", fmt.Errorf("expected register, got %s", msg.Type)
	}

	var req types.RegistrationRequest
	if err := protocol.ParsePayload(msg, &req); err != nil {
		s.sendError(conn, msg.ID, err)
		return "", fmt.Errorf("malformed registration payload: %w", err)
	}
	if req.NodeID == "" {
		err := fmt.Errorf("node_id is required")
		s.sendError(conn, msg.ID, err)
		return "", err
	}

	ack := protocol.NewRegistered(msg.ID, types.RegistrationResponse{NodeID: req.NodeID})
	ackData, err := protocol.EncodeMessage(ack)
	if err != nil {
		return "", err
	}
	conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	err = conn.WriteMessage(websocket.TextMessage, ackData)
	conn.SetWriteDeadline(time.Time{})
	if err != nil {
		return "", fmt.Errorf("failed to send ack: %w", err)
	}

	s.log.WithFields(logrus.Fields{
		"node_id":  req.NodeID,
		"hostname": req.Hostname,
		"version":  req.AgentVersion,
	}).Info("Agent registered")

	return req.NodeID, nil
}

// ingest applies one push and forwards its events to the monitor. The
// registered identity wins over whatever node ID the payload claims.
func (s *Server) ingest(nodeID string, update types.NodeUpdate) {
	s.store.UpdateNodeData(nodeID, update)

	for _, ev := range update.Events {
		tagged := aggregator.TaggedEvent{RuntimeEvent: ev, NodeID: nodeID}
		select {
		case s.eventsCh <- tagged:
		default:
			s.log.Warn("Event queue full, dropping event")
		}
	}
}

func (s *Server) sendError(conn *websocket.Conn, requestID string, cause error) {
	msg := protocol.NewError(requestID, cause)
	data, err := protocol.EncodeMessage(msg)
	if err != nil {
		return
	}
	conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	conn.WriteMessage(websocket.TextMessage, data)
	conn.SetWriteDeadline(time.Time{})
}

// handleEventsWS is the dashboard live feed. The server only writes;
// reads just detect the close.
func (s *Server) handleEventsWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.WithError(err).Warn("Event websocket upgrade failed")
		return
	}

	if err := s.broadcaster.AddConnection(conn); err != nil {
		conn.Close()
		return
	}
	defer func() {
		s.broadcaster.RemoveConnection(conn)
		conn.Close()
	}()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
