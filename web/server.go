package web

import (
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"time"

	"shadowrunner/capture"
	"shadowrunner/filter"
	"shadowrunner/session"
)

// Server exposes the dashboard API: live events over websocket plus JSON
// views of sessions, capture state, and filter behavior.
type Server struct {
	hub         *Hub
	interceptor *capture.Interceptor
	recorder    *session.Recorder
	filter      *filter.SmartFilter
}

func NewServer(hub *Hub, ic *capture.Interceptor, rec *session.Recorder, sf *filter.SmartFilter) *Server {
	return &Server{
		hub:         hub,
		interceptor: ic,
		recorder:    rec,
		filter:      sf,
	}
}

// RegisterRoutes mounts the dashboard endpoints on mux and starts the hub
// pump.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	go s.hub.Run()

	mux.HandleFunc("/ws", s.hub.HandleWebSocket)
	mux.HandleFunc("/api/sessions", s.handleSessions)
	mux.HandleFunc("/api/sessions/", s.handleSessionDetail)
	mux.HandleFunc("/api/stats", s.handleStats)
	mux.HandleFunc("/api/filters", s.handleFilters)
	mux.HandleFunc("/api/capture", s.handleCapture)

	log.Printf("Dashboard API registered")
}

type sessionSummary struct {
	ID           string    `json:"id"`
	UserID       string    `json:"user_id"`
	StartTime    time.Time `json:"start_time"`
	Interactions int       `json:"interactions"`
}

type sessionsResponse struct {
	Active []sessionSummary `json:"active"`
	Saved  []string         `json:"saved"`
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	resp := sessionsResponse{Active: []sessionSummary{}, Saved: []string{}}
	for _, sess := range s.recorder.ActiveSessions() {
		resp.Active = append(resp.Active, sessionSummary{
			ID:           sess.ID,
			UserID:       sess.UserID,
			StartTime:    sess.StartTime,
			Interactions: len(sess.Interactions),
		})
	}

	saved, err := s.recorder.Store().List()
	if err != nil {
		http.Error(w, "Failed to list sessions", http.StatusInternalServerError)
		return
	}
	resp.Saved = append(resp.Saved, saved...)

	writeJSON(w, resp)
}

// handleSessionDetail serves one session, checking the active set before
// falling back to the store.
func (s *Server) handleSessionDetail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	id := strings.TrimPrefix(r.URL.Path, "/api/sessions/")
	if id == "" || strings.Contains(id, "/") {
		http.Error(w, "Invalid session ID", http.StatusBadRequest)
		return
	}

	for _, sess := range s.recorder.ActiveSessions() {
		if sess.ID == id {
			writeJSON(w, session.ToDocument(sess))
			return
		}
	}

	if sess := s.recorder.Store().Load(id); sess != nil {
		writeJSON(w, session.ToDocument(sess))
		return
	}

	http.Error(w, "Session not found", http.StatusNotFound)
}

type statsResponse struct {
	Sessions *session.Statistics `json:"sessions"`
	Capture  captureStats        `json:"capture"`
}

type captureStats struct {
	Enabled        bool             `json:"enabled"`
	Logged         int              `json:"logged"`
	Pending        int              `json:"pending"`
	ActiveSessions int              `json:"active_sessions"`
	TotalObserved  int64            `json:"total_observed"`
	EndpointCounts map[string]int64 `json:"endpoint_counts"`
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	sessionStats, err := s.recorder.SessionStatistics()
	if err != nil {
		http.Error(w, "Failed to compute statistics", http.StatusInternalServerError)
		return
	}

	writeJSON(w, statsResponse{
		Sessions: sessionStats,
		Capture: captureStats{
			Enabled:        s.interceptor.Enabled(),
			Logged:         s.interceptor.Len(),
			Pending:        s.interceptor.PendingCount(),
			ActiveSessions: s.recorder.ActiveCount(),
			TotalObserved:  s.filter.TotalRecorded(),
			EndpointCounts: s.filter.EndpointCounts(),
		},
	})
}

type ruleView struct {
	Name     string `json:"name"`
	Priority int    `json:"priority"`
	Action   string `json:"action"`
	Active   bool   `json:"active"`
}

type filtersResponse struct {
	Rules []ruleView        `json:"rules"`
	Audit filter.Statistics `json:"audit"`
}

// handleFilters lists the rule set and audits it against the captured log,
// showing which rules the current traffic actually exercises.
func (s *Server) handleFilters(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	rules := s.filter.Rules()
	views := make([]ruleView, 0, len(rules))
	for _, rule := range rules {
		views = append(views, ruleView{
			Name:     rule.Name,
			Priority: rule.Priority,
			Action:   string(rule.Action),
			Active:   rule.Active(),
		})
	}

	writeJSON(w, filtersResponse{
		Rules: views,
		Audit: s.filter.Statistics(s.interceptor.Interactions()),
	})
}

type captureToggle struct {
	Enabled bool `json:"enabled"`
}

// handleCapture reads or flips the interceptor switch. Stopping keeps all
// captured data.
func (s *Server) handleCapture(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, captureToggle{Enabled: s.interceptor.Enabled()})
	case http.MethodPost:
		var req captureToggle
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}
		if req.Enabled {
			s.interceptor.Start()
		} else {
			s.interceptor.Stop()
		}
		writeJSON(w, captureToggle{Enabled: s.interceptor.Enabled()})
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Failed to encode response: %v", err)
	}
}
