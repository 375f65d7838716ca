package server

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/bergpinheiro/dashdocker/internal/alerts"
	"github.com/bergpinheiro/dashdocker/internal/service"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]any{
		"status":     "ok",
		"nodes":      len(s.store.GetAllNodesData()),
		"dashboards": s.broadcaster.ConnectionCount(),
	})
}

func (s *Server) handleNodes(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, s.store.GetAllNodesData())
}

func (s *Server) handleNode(w http.ResponseWriter, r *http.Request) {
	nodeID := chi.URLParam(r, "nodeID")
	data := s.store.GetNodeData(nodeID)
	if data == nil {
		s.respondError(w, http.StatusNotFound, "unknown node: "+nodeID)
		return
	}
	s.respondJSON(w, http.StatusOK, data)
}

func (s *Server) handleNodeContainers(w http.ResponseWriter, r *http.Request) {
	nodeID := chi.URLParam(r, "nodeID")
	s.respondJSON(w, http.StatusOK, s.store.GetNodeContainers(nodeID))
}

func (s *Server) handleNodeStats(w http.ResponseWriter, r *http.Request) {
	nodeID := chi.URLParam(r, "nodeID")
	s.respondJSON(w, http.StatusOK, s.store.GetNodeStats(nodeID))
}

func (s *Server) handleContainers(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, s.store.GetAllContainers())
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, s.store.GetAllStats())
}

func (s *Server) handleOverview(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, s.store.GetClusterStats())
}

func (s *Server) handleRecentEvents(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, s.store.GetAllRecentEvents())
}

func (s *Server) handleServiceContainers(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	matches := service.FindContainers(s.store.GetAllContainers(), name)
	s.respondJSON(w, http.StatusOK, matches)
}

func (s *Server) handleGetThresholds(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, s.engine.GetThresholds())
}

func (s *Server) handlePutThresholds(w http.ResponseWriter, r *http.Request) {
	var upd alerts.ThresholdUpdate
	if err := json.NewDecoder(r.Body).Decode(&upd); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}

	// Validate the merged result, not just the supplied fields, so a
	// partial update can never leave warning above critical.
	merged := s.engine.GetThresholds()
	if upd.CPUWarning != nil {
		merged.CPUWarning = *upd.CPUWarning
	}
	if upd.CPUCritical != nil {
		merged.CPUCritical = *upd.CPUCritical
	}
	if upd.MemoryWarning != nil {
		merged.MemoryWarning = *upd.MemoryWarning
	}
	if upd.MemoryCritical != nil {
		merged.MemoryCritical = *upd.MemoryCritical
	}

	if err := validateThresholds(merged); err != "" {
		s.respondError(w, http.StatusBadRequest, err)
		return
	}

	s.respondJSON(w, http.StatusOK, s.engine.UpdateThresholds(upd))
}

func validateThresholds(t alerts.Thresholds) string {
	if t.CPUWarning < 0 || t.CPUCritical > 100 || t.CPUWarning >= t.CPUCritical {
		return "cpu thresholds must satisfy 0 <= warning < critical <= 100"
	}
	if t.MemoryWarning < 0 || t.MemoryCritical > 100 || t.MemoryWarning >= t.MemoryCritical {
		return "memory thresholds must satisfy 0 <= warning < critical <= 100"
	}
	return ""
}

func (s *Server) handleAlertTest(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Type string `json:"type"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}

	alert := s.engine.FireTest(r.Context(), req.Type)
	s.respondJSON(w, http.StatusOK, alert)
}

func (s *Server) handleAlertStatus(w http.ResponseWriter, r *http.Request) {
	status := s.engine.GetStatus()
	s.respondJSON(w, http.StatusOK, map[string]any{
		"thresholds":      status.Thresholds,
		"activeCooldowns": status.ActiveCooldowns,
		"historySize":     status.HistorySize,
		"sinkEnabled":     status.SinkEnabled,
		"eventMonitor":    s.monitor.Running(),
	})
}

func (s *Server) handleAlertHistory(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, s.engine.History())
}

func (s *Server) handleNotifyStatus(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, s.waha.Status(r.Context()))
}

func (s *Server) handleNotifyTest(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Message string `json:"message"`
		Phone   string `json:"phone"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if req.Message == "" {
		req.Message = "Test notification from the dashboard"
	}
	phone := req.Phone
	if phone == "" {
		phone = s.waha.Phone
	}

	if err := s.waha.SendTo(r.Context(), req.Message, phone); err != nil {
		s.respondError(w, http.StatusBadGateway, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]bool{"sent": true})
}
