// Package api provides the HTTP and WebSocket boundary of the hub.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/quorumhq/quorum/internal/auth"
	"github.com/quorumhq/quorum/internal/config"
	"github.com/quorumhq/quorum/internal/dispatch"
	"github.com/quorumhq/quorum/internal/registry"
	"github.com/quorumhq/quorum/internal/store"
	"github.com/quorumhq/quorum/pkg/protocol"
)

// Server is the HTTP API server.
type Server struct {
	store        store.Store
	tokens       *auth.TokenService
	verifier     *auth.Verifier
	registry     *registry.Registry
	engine       *dispatch.Engine
	logger       *slog.Logger
	mux          *chi.Mux
	startTime    time.Time
	maxBodyBytes int64
	rl           *rateLimiter
	upgrader     websocket.Upgrader
}

// NewServer creates a new API server.
func NewServer(s store.Store, tokens *auth.TokenService, verifier *auth.Verifier, reg *registry.Registry, eng *dispatch.Engine, cfg *config.Config, logger *slog.Logger) *Server {
	srv := &Server{
		store:        s,
		tokens:       tokens,
		verifier:     verifier,
		registry:     reg,
		engine:       eng,
		logger:       logger.With("component", "api"),
		startTime:    time.Now(),
		maxBodyBytes: cfg.Server.MaxBodyBytes,
		upgrader:     makeUpgrader(cfg.Server.AllowedOrigins),
	}

	mux := chi.NewRouter()
	mux.Use(chimw.Recoverer)
	mux.Use(chimw.RealIP)
	mux.Use(securityHeadersMiddleware)
	mux.Use(makeCORSMiddleware(cfg.Server.AllowedOrigins))

	// Health check routes (unauthenticated)
	mux.Get("/healthz", srv.handleHealthz)
	mux.Get("/readyz", srv.handleReadyz)

	// Live conversation channel (HMAC admission handled inside)
	mux.Get("/ws/secure/interact/{chatID}", srv.handleInteractWS)

	// Authenticated interaction route
	srv.rl = newRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst)
	mux.Group(func(r chi.Router) {
		r.Use(srv.authMiddleware)
		r.Use(rateLimitMiddleware(srv.rl))

		r.Post("/interactions/secure/{chatID}", srv.handleInteraction)
	})

	// Internal agent-directory admin, guarded by the same signed transport
	// the agents themselves use.
	mux.Group(func(r chi.Router) {
		r.Use(srv.signedTransportMiddleware)

		r.Get("/agents/internal", srv.handleListAgents)
		r.Post("/agents/internal", srv.handleUpsertAgent)
		r.Delete("/agents/internal/{agentID}", srv.handleDeleteAgent)
		r.Get("/agents/internal/audit", srv.handleListAuditEvents)
	})

	srv.mux = mux
	return srv
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// StartBackgroundTasks starts periodic cleanup tasks for rate limiters.
func (s *Server) StartBackgroundTasks(ctx context.Context) {
	if s.rl != nil {
		s.rl.StartCleanup(ctx, 5*time.Minute, 10*time.Minute)
	}
}

// --- Interaction handler ---

type interactionRequest struct {
	Input           string                  `json:"input"`
	AvailableAgents []string                `json:"available_agents,omitempty"`
	ChatHistory     []protocol.HistoryEntry `json:"chat_history,omitempty"`
}

func (s *Server) handleInteraction(w http.ResponseWriter, r *http.Request) {
	chatID, err := uuid.Parse(chi.URLParam(r, "chatID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid chat id")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.maxBodyBytes)
	var req interactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Input == "" {
		writeError(w, http.StatusBadRequest, "input is required")
		return
	}

	identity := getIdentityFromContext(r.Context())

	available := req.AvailableAgents
	if len(available) == 0 {
		agents, err := s.store.ListAgents(r.Context(), identity.CompanyID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to resolve available agents")
			return
		}
		for _, a := range agents {
			if a.Enabled {
				available = append(available, a.ID)
			}
		}
	}

	s.engine.Schedule(dispatch.Request{
		ChatID:          chatID,
		HumanText:       req.Input,
		SenderID:        identity.UserID,
		OrgID:           identity.CompanyID,
		AvailableAgents: available,
		History:         req.ChatHistory,
	})

	// The work is queued, not done: outcomes arrive over the WebSocket and
	// the recorded transcript.
	writeJSON(w, http.StatusAccepted, map[string]string{"detail": "request received"})
}

// --- Agent directory handlers (internal) ---

func (s *Server) handleListAgents(w http.ResponseWriter, r *http.Request) {
	orgID := r.URL.Query().Get("org_id")
	agents, err := s.store.ListAgents(r.Context(), orgID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list agents")
		return
	}
	if agents == nil {
		agents = []store.Agent{}
	}
	writeJSON(w, http.StatusOK, agents)
}

func (s *Server) handleUpsertAgent(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxBodyBytes)
	var agent store.Agent
	if err := json.NewDecoder(r.Body).Decode(&agent); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if agent.ID == "" || agent.BaseURL == "" {
		writeError(w, http.StatusBadRequest, "id and base_url are required")
		return
	}
	if agent.CreatedAt.IsZero() {
		agent.CreatedAt = time.Now()
	}
	if err := s.store.UpsertAgent(r.Context(), &agent); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to save agent")
		return
	}
	if err := s.store.LogAuditEvent(r.Context(), &store.AuditEvent{
		ID: uuid.New().String(), OrgID: agent.OrgID, Action: "agent.upsert",
		AgentID: agent.ID, CreatedAt: time.Now(),
	}); err != nil {
		s.logger.Warn("failed to log audit event", "action", "agent.upsert", "error", err)
	}
	writeJSON(w, http.StatusOK, agent)
}

func (s *Server) handleDeleteAgent(w http.ResponseWriter, r *http.Request) {
	agentID := chi.URLParam(r, "agentID")
	if err := s.store.DeleteAgent(r.Context(), agentID); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to delete agent")
		return
	}
	if err := s.store.LogAuditEvent(r.Context(), &store.AuditEvent{
		ID: uuid.New().String(), Action: "agent.delete", AgentID: agentID, CreatedAt: time.Now(),
	}); err != nil {
		s.logger.Warn("failed to log audit event", "action", "agent.delete", "error", err)
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) handleListAuditEvents(w http.ResponseWriter, r *http.Request) {
	limit := 50
	offset := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > 500 {
		limit = 500
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}

	events, err := s.store.ListAuditEvents(r.Context(), r.URL.Query().Get("org_id"), limit, offset)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list audit events")
		return
	}
	if events == nil {
		events = []store.AuditEvent{}
	}
	writeJSON(w, http.StatusOK, events)
}

// --- Health handlers ---

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"uptime": time.Since(s.startTime).Truncate(time.Second).String(),
	})
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// --- Helpers ---

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
