package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"automation-engine/internal/cache"
	"automation-engine/internal/config"
	"automation-engine/internal/models"
	"automation-engine/internal/ratelimit"
	"automation-engine/internal/store"
	"automation-engine/internal/telemetry"
)

// Server wires the producer and admin HTTP API. Producers emit events here
// and never await automation side effects; everything else is inspection or
// workflow/subscription management.
type Server struct {
	cfg     config.Config
	store   *store.Store
	cache   *cache.Cache
	limiter *ratelimit.TokenBucket
}

// New constructs the API server.
func New(cfg config.Config, st *store.Store, c *cache.Cache, limiter *ratelimit.TokenBucket) *Server {
	return &Server{cfg: cfg, store: st, cache: c, limiter: limiter}
}

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Mount("/metrics", telemetry.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Post("/events", s.handleEmit)
		r.Get("/events", s.handleListEvents)
		r.Get("/events/{id}", s.handleGetEvent)
		r.Post("/events/{id}/retry", s.handleRetryEvent)
		r.Post("/workflows", s.handleCreateWorkflow)
		r.Get("/workflows", s.handleListWorkflows)
		r.Get("/workflows/{id}/runs", s.handleListRuns)
		r.Post("/webhooks", s.handleCreateSubscription)
		r.Get("/webhooks", s.handleListSubscriptions)
		r.Get("/audit", s.handleAudit)
		r.Get("/stats", s.handleStats)
	})
	return r
}

type emitRequest struct {
	Type    string         `json:"type"`
	Payload map[string]any `json:"payload"`
	DelayMs int            `json:"delay_ms"`
}

func (s *Server) handleEmit(w http.ResponseWriter, r *http.Request) {
	orgID, ok := orgFromRequest(w, r)
	if !ok {
		return
	}
	var req emitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if req.Type == "" {
		http.Error(w, "type is required", http.StatusBadRequest)
		return
	}

	if s.limiter != nil {
		allowed, err := s.limiter.Allow(r.Context(), orgID)
		if err != nil {
			http.Error(w, "rate limit error", http.StatusInternalServerError)
			return
		}
		if !allowed {
			telemetry.RateLimitRejects.Inc()
			http.Error(w, "rate limited", http.StatusTooManyRequests)
			return
		}
	}

	ev, err := s.store.Emit(r.Context(), orgID, req.Type, req.Payload, time.Duration(req.DelayMs)*time.Millisecond)
	if err != nil {
		log.Error().Err(err).Str("org_id", orgID).Msg("emit event")
		http.Error(w, "emit failed", http.StatusInternalServerError)
		return
	}
	telemetry.EventsEmitted.Inc()
	writeJSON(w, http.StatusAccepted, ev)
}

func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	orgID, ok := orgFromRequest(w, r)
	if !ok {
		return
	}
	events, err := s.store.ListEvents(r.Context(), orgID, r.URL.Query().Get("status"), 100)
	if err != nil {
		http.Error(w, "list failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

func (s *Server) handleGetEvent(w http.ResponseWriter, r *http.Request) {
	orgID, ok := orgFromRequest(w, r)
	if !ok {
		return
	}
	ev, err := s.store.GetEvent(r.Context(), orgID, chi.URLParam(r, "id"))
	if errors.Is(err, store.ErrNotFound) {
		http.Error(w, "event not found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, "lookup failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, ev)
}

// handleRetryEvent returns a terminally FAILED event to PENDING. The rerun
// re-executes all matched workflows and webhook deliveries, which can
// duplicate downstream records; callers opt into that tradeoff.
func (s *Server) handleRetryEvent(w http.ResponseWriter, r *http.Request) {
	orgID, ok := orgFromRequest(w, r)
	if !ok {
		return
	}
	err := s.store.ResetFailed(r.Context(), orgID, chi.URLParam(r, "id"))
	if errors.Is(err, store.ErrNotFound) {
		http.Error(w, "no failed event with that id", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, "retry failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "requeued"})
}

type createWorkflowRequest struct {
	Name       string             `json:"name"`
	Enabled    *bool              `json:"enabled"`
	Trigger    models.Trigger     `json:"trigger"`
	Conditions []models.Condition `json:"conditions"`
	Actions    []models.Action    `json:"actions"`
	CreatedBy  string             `json:"created_by"`
}

func (s *Server) handleCreateWorkflow(w http.ResponseWriter, r *http.Request) {
	orgID, ok := orgFromRequest(w, r)
	if !ok {
		return
	}
	var req createWorkflowRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if req.Name == "" || req.Trigger.Type == "" {
		http.Error(w, "name and trigger.type are required", http.StatusBadRequest)
		return
	}
	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}
	wf, err := s.store.CreateWorkflow(r.Context(), models.Workflow{
		OrgID:      orgID,
		Name:       req.Name,
		Enabled:    enabled,
		Trigger:    req.Trigger,
		Conditions: req.Conditions,
		Actions:    req.Actions,
		CreatedBy:  req.CreatedBy,
	})
	if err != nil {
		log.Error().Err(err).Str("org_id", orgID).Msg("create workflow")
		http.Error(w, "create failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, wf)
}

func (s *Server) handleListWorkflows(w http.ResponseWriter, r *http.Request) {
	orgID, ok := orgFromRequest(w, r)
	if !ok {
		return
	}
	workflows, err := s.store.ListWorkflows(r.Context(), orgID)
	if err != nil {
		http.Error(w, "list failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"workflows": workflows})
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	orgID, ok := orgFromRequest(w, r)
	if !ok {
		return
	}
	runs, err := s.store.ListRuns(r.Context(), orgID, chi.URLParam(r, "id"), 100)
	if err != nil {
		http.Error(w, "list failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

type createSubscriptionRequest struct {
	EventType string `json:"event_type"`
	URL       string `json:"url"`
	Secret    string `json:"secret"`
	Enabled   *bool  `json:"enabled"`
}

func (s *Server) handleCreateSubscription(w http.ResponseWriter, r *http.Request) {
	orgID, ok := orgFromRequest(w, r)
	if !ok {
		return
	}
	var req createSubscriptionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if req.EventType == "" || req.URL == "" || req.Secret == "" {
		http.Error(w, "event_type, url and secret are required", http.StatusBadRequest)
		return
	}
	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}
	// The secret is write-only from here on; responses never carry it.
	sub, err := s.store.CreateSubscription(r.Context(), models.WebhookSubscription{
		OrgID:     orgID,
		EventType: req.EventType,
		URL:       req.URL,
		Secret:    req.Secret,
		Enabled:   enabled,
	})
	if err != nil {
		http.Error(w, "create failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, sub)
}

func (s *Server) handleListSubscriptions(w http.ResponseWriter, r *http.Request) {
	orgID, ok := orgFromRequest(w, r)
	if !ok {
		return
	}
	subs, err := s.store.ListSubscriptions(r.Context(), orgID)
	if err != nil {
		http.Error(w, "list failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"webhooks": subs})
}

func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	orgID, ok := orgFromRequest(w, r)
	if !ok {
		return
	}
	entries, err := s.store.AuditTrail(r.Context(), orgID, 100)
	if err != nil {
		http.Error(w, "list failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"audit": entries})
}

// handleStats serves the org's event counts by status from the read-side
// cache, falling back to Postgres on a miss. The worker wipes these keys on
// every successful event.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	orgID, ok := orgFromRequest(w, r)
	if !ok {
		return
	}
	key := cache.OrgPrefix(orgID) + "event_stats"

	var stats map[string]int
	err := s.cache.Get(r.Context(), key, &stats)
	if err == nil {
		writeJSON(w, http.StatusOK, map[string]any{"events": stats, "cached": true})
		return
	}
	if !errors.Is(err, cache.ErrMiss) {
		log.Warn().Err(err).Str("org_id", orgID).Msg("read stats cache")
	}

	stats, err = s.store.EventStats(r.Context(), orgID)
	if err != nil {
		http.Error(w, "stats failed", http.StatusInternalServerError)
		return
	}
	if err := s.cache.Set(r.Context(), key, stats); err != nil {
		log.Warn().Err(err).Str("org_id", orgID).Msg("write stats cache")
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": stats, "cached": false})
}

func orgFromRequest(w http.ResponseWriter, r *http.Request) (string, bool) {
	orgID := r.Header.Get("X-Org-ID")
	if orgID == "" {
		http.Error(w, "X-Org-ID header is required", http.StatusBadRequest)
		return "", false
	}
	return orgID, true
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}
