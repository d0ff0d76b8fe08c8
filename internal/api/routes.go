package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"fieldsync-service/internal/config"
	"fieldsync-service/internal/logger"
	"fieldsync-service/internal/store"
	syncpkg "fieldsync-service/internal/sync"
)

// Handler is the local control surface for the sync engine: UI layers and
// tooling trigger passes, inspect state, and answer manual resolution
// requests through it.
type Handler struct {
	cfg     config.ServerConfig
	manager *syncpkg.Manager
	monitor *syncpkg.Monitor
	hub     *Hub
}

func NewHandler(cfg config.ServerConfig, manager *syncpkg.Manager, monitor *syncpkg.Monitor, hub *Hub) *Handler {
	return &Handler{
		cfg:     cfg,
		manager: manager,
		monitor: monitor,
		hub:     hub,
	}
}

func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(CorsMiddleware)

	r.Get("/health", h.HealthCheck)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(AuthMiddleware(h.cfg.AuthToken))

		r.Post("/sync/full", h.TriggerFullSync)
		r.Post("/sync/delta", h.TriggerDeltaSync)
		r.Post("/sync/cancel", h.CancelSync)
		r.Get("/sync/status", h.GetSyncStatus)
		r.Get("/sync/stats", h.GetStatistics)
		r.Get("/sync/history", h.GetHistory)

		r.Get("/conflicts", h.ListConflicts)
		r.Post("/resolutions/{requestID}", h.SubmitResolution)

		r.Get("/queue", h.GetQueue)
		r.Post("/queue/clear", h.ClearQueue)

		r.Get("/changes", h.GetChanges)
		r.Post("/changes", h.QueueChange)

		r.Get("/ws", h.hub.Serve)
	})

	return r
}

func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

type syncRequest struct {
	Strategy string `json:"strategy"`
}

func (h *Handler) TriggerFullSync(w http.ResponseWriter, r *http.Request) {
	h.triggerSync(w, r, func(strategy syncpkg.Strategy) syncpkg.Result {
		return h.manager.FullSync(context.Background(), strategy)
	})
}

func (h *Handler) TriggerDeltaSync(w http.ResponseWriter, r *http.Request) {
	h.triggerSync(w, r, func(strategy syncpkg.Strategy) syncpkg.Result {
		return h.manager.DeltaSync(context.Background(), strategy)
	})
}

// triggerSync starts a pass in the background; the result surfaces through
// the websocket events and the history endpoint. A running pass rejects the
// request instead of queueing it.
func (h *Handler) triggerSync(w http.ResponseWriter, r *http.Request, run func(syncpkg.Strategy) syncpkg.Result) {
	if h.manager.IsSyncing() {
		writeJSON(w, http.StatusConflict, map[string]string{"error": "sync already in progress"})
		return
	}

	var req syncRequest
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req)
	}
	strategy := syncpkg.ParseStrategy(req.Strategy)

	go func() {
		result := run(strategy)
		logger.Log.Info("API-triggered sync finished",
			zap.String("mode", result.Mode),
			zap.Bool("success", result.Success),
			zap.String("message", result.Message),
		)
	}()

	writeJSON(w, http.StatusAccepted, map[string]string{
		"status":   "started",
		"strategy": string(strategy),
	})
}

func (h *Handler) CancelSync(w http.ResponseWriter, r *http.Request) {
	h.manager.CancelSync()
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelling"})
}

func (h *Handler) GetSyncStatus(w http.ResponseWriter, r *http.Request) {
	online := true
	if h.monitor != nil {
		online = h.monitor.IsOnline()
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"syncing": h.manager.IsSyncing(),
		"online":  online,
		"pending": h.manager.Queue().PendingCount(),
	})
}

func (h *Handler) GetStatistics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.manager.GetStatistics())
}

func (h *Handler) GetHistory(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	history, err := h.manager.History(r.Context(), limit)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, history)
}

func (h *Handler) ListConflicts(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.manager.Conflicts())
}

type resolutionRequest struct {
	Decision string `json:"decision"`
}

func (h *Handler) SubmitResolution(w http.ResponseWriter, r *http.Request) {
	requestID := chi.URLParam(r, "requestID")

	var req resolutionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	decision := syncpkg.Decision(req.Decision)
	switch decision {
	case syncpkg.DecisionUseClient, syncpkg.DecisionUseServer, syncpkg.DecisionDiscard:
	default:
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "decision must be use_client, use_server or discard"})
		return
	}

	if err := h.manager.SubmitResolution(requestID, decision); err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "resolved"})
}

func (h *Handler) GetQueue(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.manager.Queue().Snapshot())
}

func (h *Handler) ClearQueue(w http.ResponseWriter, r *http.Request) {
	h.manager.Queue().Clear()
	writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

func (h *Handler) GetChanges(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 {
		limit = 100
	}
	writeJSON(w, http.StatusOK, h.manager.RecentChanges(limit))
}

type queueChangeRequest struct {
	Operation  string          `json:"operation"`
	EntityType string          `json:"entity_type"`
	EntityID   string          `json:"entity_id"`
	Payload    json.RawMessage `json:"payload"`
}

func (h *Handler) QueueChange(w http.ResponseWriter, r *http.Request) {
	var req queueChangeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	op := store.OperationType(req.Operation)
	switch op {
	case store.OperationCreate, store.OperationUpdate, store.OperationDelete, store.OperationUpload:
	default:
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "operation must be create, update, delete or upload"})
		return
	}
	if req.EntityType == "" || req.EntityID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "entity_type and entity_id are required"})
		return
	}

	id := h.manager.QueueChange(op, req.EntityType, req.EntityID, req.Payload)
	writeJSON(w, http.StatusCreated, map[string]string{"operation_id": id})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Log.Warn("Failed to encode response", zap.Error(err))
	}
}

func CorsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Accept, Authorization, Content-Type, X-CSRF-Token")

		if r.Method == "OPTIONS" {
			return
		}

		next.ServeHTTP(w, r)
	})
}

// AuthMiddleware checks a static bearer token when one is configured.
func AuthMiddleware(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token != "" && r.Header.Get("Authorization") != "Bearer "+token {
				writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
