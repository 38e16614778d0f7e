package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/sentra-project/sentra/internal/core"
)

// Server is the sentra REST API server.
type Server struct {
	svc    *core.Service
	cfg    *core.Config
	server *http.Server
	logger zerolog.Logger
}

// NewServer creates an API server over the audit service.
func NewServer(svc *core.Service, cfg *core.Config, logger zerolog.Logger) *Server {
	s := &Server{
		svc:    svc,
		cfg:    cfg,
		logger: logger.With().Str("component", "api_server").Logger(),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/events", s.handleIngestEvent)
	mux.HandleFunc("/api/v1/events/search", s.handleSearch)
	mux.HandleFunc("/api/v1/events/", s.handleEventByID)
	mux.HandleFunc("/api/v1/statistics", s.handleStatistics)
	mux.HandleFunc("/api/v1/alerts", s.handleAlerts)
	mux.HandleFunc("/api/v1/alerts/", s.handleAlertAck)
	mux.HandleFunc("/api/v1/lineage", s.handleLineage)
	mux.HandleFunc("/api/v1/deadletter", s.handleDeadLetter)
	mux.HandleFunc("/api/v1/status", s.handleStatus)
	mux.HandleFunc("/health", s.handleHealth)
	mux.Handle("/metrics", promhttp.Handler())

	// Middleware chain: CORS -> logging -> rate limit -> auth -> handler
	handler := corsMiddleware(
		loggingMiddleware(
			rateLimitMiddleware(
				authMiddleware(mux, cfg, s.logger),
				100,
			),
			s.logger,
		),
		cfg.Server.CORSOrigins,
	)

	s.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Handler exposes the full middleware-wrapped handler (used by tests).
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Start begins serving the API.
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.server.Addr).Msg("API server starting")
	if s.cfg.AuthEnabled() {
		s.logger.Info().Int("keys", len(s.cfg.Server.APIKeys)).Msg("API authentication enabled")
	} else {
		s.logger.Warn().Msg("API authentication disabled — set api_keys in config or SENTRA_API_KEY env var")
	}
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("API server error")
		}
	}()
	return nil
}

// Stop gracefully shuts down the API server.
func (s *Server) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"queue_size": s.svc.QueueSize(),
		"pipeline":   s.svc.Metrics(),
	})
}

type ingestRequest struct {
	core.EventInput
	Priority core.Priority `json:"priority"`
}

// handleIngestEvent accepts an audit event. The request's network context
// becomes the event's client context.
func (s *Server) handleIngestEvent(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req ingestRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}

	ctx := core.WithClientContext(r.Context(), clientInfoFromRequest(r), sessionInfoFromRequest(r))

	eventsIngested.Inc()
	id, err := s.svc.LogEvent(ctx, req.EventInput, core.LogOptions{Priority: req.Priority})
	if err != nil {
		if req.Priority == core.PriorityHigh {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	status := http.StatusAccepted
	if req.Priority == core.PriorityHigh {
		status = http.StatusOK
	}
	writeJSON(w, status, map[string]string{"event_id": id})
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	q := core.SearchQuery{
		Resource: r.URL.Query().Get("resource"),
		Action:   r.URL.Query().Get("action"),
		UserID:   r.URL.Query().Get("user_id"),
		Limit:    queryInt(r, "limit"),
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"events": s.svc.Search(q)})
}

// handleEventByID handles GET /api/v1/events/{id}.
func (s *Server) handleEventByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	id := strings.TrimPrefix(r.URL.Path, "/api/v1/events/")
	if id == "" || strings.Contains(id, "/") {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}

	event, err := s.svc.GetEvent(r.Context(), id)
	if err != nil {
		if err == core.ErrNotFound {
			writeError(w, http.StatusNotFound, "event not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, event)
}

func (s *Server) handleStatistics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	stats, err := s.svc.Statistics(r.URL.Query().Get("tenant_id"), r.URL.Query().Get("window"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	alerts, err := s.svc.Alerts(
		r.URL.Query().Get("tenant_id"),
		r.URL.Query().Get("severity"),
		queryInt(r, "limit"),
	)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"alerts": alerts, "count": len(alerts)})
}

// handleAlertAck handles POST /api/v1/alerts/{id}/ack.
func (s *Server) handleAlertAck(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, "/api/v1/alerts/")
	alertID, ok := strings.CutSuffix(rest, "/ack")
	if !ok || alertID == "" {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}

	var body struct {
		By string `json:"by"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.By == "" {
		writeError(w, http.StatusBadRequest, "field \"by\" is required")
		return
	}

	if err := s.svc.Acknowledge(r.Context(), alertID, body.By); err != nil {
		if err == core.ErrNotFound {
			writeError(w, http.StatusNotFound, "alert not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "acknowledged"})
}

func (s *Server) handleLineage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	edges := s.svc.Lineage(r.URL.Query().Get("resource"), queryInt(r, "limit"))
	writeJSON(w, http.StatusOK, map[string]interface{}{"edges": edges})
}

func (s *Server) handleDeadLetter(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"entries": s.svc.DeadLetters()})
}

func clientInfoFromRequest(r *http.Request) core.ClientInfo {
	ip := r.Header.Get("X-Forwarded-For")
	if ip != "" {
		ip = strings.TrimSpace(strings.Split(ip, ",")[0])
	} else {
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err == nil {
			ip = host
		} else {
			ip = r.RemoteAddr
		}
	}
	return core.ClientInfo{
		IP:        ip,
		UserAgent: r.UserAgent(),
		Locale:    r.Header.Get("Accept-Language"),
	}
}

func sessionInfoFromRequest(r *http.Request) core.SessionInfo {
	return core.SessionInfo{ID: r.Header.Get("X-Session-ID")}
}

func queryInt(r *http.Request, name string) int {
	v := r.URL.Query().Get(name)
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
