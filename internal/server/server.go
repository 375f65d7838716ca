package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"github.com/bergpinheiro/dashdocker/internal/aggregator"
	"github.com/bergpinheiro/dashdocker/internal/alerts"
	"github.com/bergpinheiro/dashdocker/internal/events"
	"github.com/bergpinheiro/dashdocker/internal/notifier"
)

// Server wires the aggregator, alert engine, event monitor and notifier
// behind the HTTP API.
type Server struct {
	log         *logrus.Logger
	store       *aggregator.Store
	engine      *alerts.Engine
	monitor     *events.Monitor
	waha        *notifier.Waha
	broadcaster *Broadcaster

	eventsCh chan aggregator.TaggedEvent

	httpServer *http.Server
}

// New assembles the server.
func New(log *logrus.Logger, listenAddr string, store *aggregator.Store, engine *alerts.Engine, monitor *events.Monitor, waha *notifier.Waha) *Server {
	s := &Server{
		log:         log,
		store:       store,
		engine:      engine,
		monitor:     monitor,
		waha:        waha,
		broadcaster: NewBroadcaster(log),
		eventsCh:    make(chan aggregator.TaggedEvent, 256),
	}

	monitor.SetCallback(s.broadcaster.Broadcast)

	s.httpServer = &http.Server{
		Addr:         listenAddr,
		Handler:      s.routes(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	return s
}

// Events returns the channel the event monitor consumes. Agent pushes
// feed it; the monitor applies suppression and drives the live feed.
func (s *Server) Events() <-chan aggregator.TaggedEvent {
	return s.eventsCh
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Get("/api/agent/ws", s.handleAgentWS)
	r.Get("/api/events/ws", s.handleEventsWS)

	r.Route("/api/cluster", func(r chi.Router) {
		r.Get("/nodes", s.handleNodes)
		r.Get("/nodes/{nodeID}", s.handleNode)
		r.Get("/nodes/{nodeID}/containers", s.handleNodeContainers)
		r.Get("/nodes/{nodeID}/stats", s.handleNodeStats)
		r.Get("/containers", s.handleContainers)
		r.Get("/stats", s.handleStats)
		r.Get("/overview", s.handleOverview)
		r.Get("/events", s.handleRecentEvents)
	})

	r.Get("/api/services/{name}/containers", s.handleServiceContainers)

	r.Route("/api/alerts", func(r chi.Router) {
		r.Get("/thresholds", s.handleGetThresholds)
		r.Put("/thresholds", s.handlePutThresholds)
		r.Post("/test", s.handleAlertTest)
		r.Get("/status", s.handleAlertStatus)
		r.Get("/history", s.handleAlertHistory)
	})

	r.Route("/api/notify", func(r chi.Router) {
		r.Get("/status", s.handleNotifyStatus)
		r.Post("/test", s.handleNotifyTest)
	})

	return r
}

// Start serves HTTP until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	s.log.WithField("addr", s.httpServer.Addr).Info("HTTP server listening")
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests and closes dashboard websockets.
func (s *Server) Shutdown(ctx context.Context) error {
	s.broadcaster.CloseAll()
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.WithError(err).Error("Failed to encode response")
	}
}

func (s *Server) respondError(w http.ResponseWriter, status int, msg string) {
	s.respondJSON(w, status, map[string]string{"error": msg})
}
