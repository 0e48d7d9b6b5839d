package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/lalithlochan/cirrus/internal/category"
	"github.com/lalithlochan/cirrus/internal/decision"
	"github.com/lalithlochan/cirrus/internal/digest"
	"github.com/lalithlochan/cirrus/internal/metrics"
	"github.com/lalithlochan/cirrus/internal/prefs"
	"github.com/lalithlochan/cirrus/internal/redis"
)

// PreferenceStore defines the preference operations the API depends on.
type PreferenceStore interface {
	GetOrCreate(ctx context.Context, userID string) (*prefs.Preferences, error)
	UpdateGlobal(ctx context.Context, userID string, upd prefs.GlobalUpdate) (*prefs.Preferences, error)
	UpdateCategory(ctx context.Context, userID, categoryID string, upd prefs.CategoryUpdate) (*prefs.CategoryPreference, error)
	UpdateQuietHours(ctx context.Context, userID string, upd prefs.QuietHoursUpdate) (*prefs.QuietHours, error)
	UpdateDigest(ctx context.Context, userID string, upd prefs.DigestUpdate) (*prefs.DigestSettings, error)
}

// DecisionEngine evaluates the delivery rule cascade.
type DecisionEngine interface {
	Evaluate(ctx context.Context, userID, categoryID string, channel prefs.Channel, urgent bool) (decision.Result, error)
	EvaluateChannels(ctx context.Context, userID, categoryID string, urgent bool) (map[prefs.Channel]decision.Result, error)
}

// TokenResolver resolves unsubscribe tokens into preference changes.
type TokenResolver interface {
	Resolve(ctx context.Context, token, categoryID string) (string, error)
}

// DecisionRequest asks whether one notification should be delivered.
type DecisionRequest struct {
	UserID     string `json:"user_id"`
	CategoryID string `json:"category_id"`
	Channel    string `json:"channel"`
	Urgent     bool   `json:"urgent"`
}

// ChannelDecisionRequest asks for a decision on every channel at once.
type ChannelDecisionRequest struct {
	UserID     string `json:"user_id"`
	CategoryID string `json:"category_id"`
	Urgent     bool   `json:"urgent"`
}

// DigestItemRequest enqueues one deferred notification.
type DigestItemRequest struct {
	UserID     string          `json:"user_id"`
	CategoryID string          `json:"category_id"`
	Title      string          `json:"title"`
	Body       string          `json:"body"`
	Data       json.RawMessage `json:"data,omitempty"`
}

// UnsubscribeRequest carries a token from an email unsubscribe link.
type UnsubscribeRequest struct {
	Token      string `json:"token"`
	CategoryID string `json:"category_id,omitempty"`
}

// ErrorResponse represents an error in problem+json format
type ErrorResponse struct {
	Type   string `json:"type"`
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// Handler holds dependencies for API handlers
type Handler struct {
	logger      *zap.Logger
	registry    *category.Registry
	store       PreferenceStore
	engine      DecisionEngine
	resolver    TokenResolver
	queue       digest.Queue
	idempotency *redis.IdempotencyService // nil if Redis not configured
}

// NewHandler creates a new API handler.
func NewHandler(logger *zap.Logger, registry *category.Registry, store PreferenceStore, engine DecisionEngine, resolver TokenResolver, queue digest.Queue) *Handler {
	return &Handler{
		logger:   logger,
		registry: registry,
		store:    store,
		engine:   engine,
		resolver: resolver,
		queue:    queue,
	}
}

// NewHandlerWithIdempotency creates a handler that deduplicates digest
// enqueues via the Idempotency-Key header.
func NewHandlerWithIdempotency(logger *zap.Logger, registry *category.Registry, store PreferenceStore, engine DecisionEngine, resolver TokenResolver, queue digest.Queue, idempotency *redis.IdempotencyService) *Handler {
	h := NewHandler(logger, registry, store, engine, resolver, queue)
	h.idempotency = idempotency
	return h
}

// ListCategories handles GET /v1/categories
func (h *Handler) ListCategories(w http.ResponseWriter, r *http.Request) {
	cats := h.registry.List()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"data":  cats,
		"count": len(cats),
	})
}

// ListCategoriesGrouped handles GET /v1/categories/grouped
func (h *Handler) ListCategoriesGrouped(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"groups": h.registry.ListGrouped(),
	})
}

// GetPreferences handles GET /v1/users/{userID}/preferences.
// First touch materializes catalog defaults.
func (h *Handler) GetPreferences(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := chi.URLParam(r, "userID")

	p, err := h.store.GetOrCreate(ctx, userID)
	if err != nil {
		h.logger.Error("failed to load preferences",
			zap.Error(err),
			zap.String("user_id", userID),
		)
		h.writeError(w, http.StatusInternalServerError, "storage_error", "Failed to load preferences", "")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(p)
}

// UpdateGlobal handles PATCH /v1/users/{userID}/preferences
func (h *Handler) UpdateGlobal(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := chi.URLParam(r, "userID")

	var upd prefs.GlobalUpdate
	if err := json.NewDecoder(r.Body).Decode(&upd); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body", err.Error())
		return
	}

	p, err := h.store.UpdateGlobal(ctx, userID, upd)
	if err != nil {
		h.logger.Error("failed to update global preferences",
			zap.Error(err),
			zap.String("user_id", userID),
		)
		h.writeError(w, http.StatusInternalServerError, "storage_error", "Failed to update preferences", "")
		return
	}

	metrics.RecordPreferenceUpdate("global")
	h.logger.Info("global preferences updated",
		zap.String("user_id", userID),
		zap.Bool("enabled", p.Enabled),
	)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(p)
}

// UpdateCategory handles PATCH /v1/users/{userID}/preferences/categories/{categoryID}
func (h *Handler) UpdateCategory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := chi.URLParam(r, "userID")
	categoryID := chi.URLParam(r, "categoryID")

	if !h.registry.Exists(categoryID) {
		h.writeError(w, http.StatusNotFound, "not_found", "Unknown category", categoryID)
		return
	}

	var upd prefs.CategoryUpdate
	if err := json.NewDecoder(r.Body).Decode(&upd); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body", err.Error())
		return
	}

	cp, err := h.store.UpdateCategory(ctx, userID, categoryID, upd)
	if err != nil {
		h.writeUpdateError(w, err, userID, "category")
		return
	}

	metrics.RecordPreferenceUpdate("category")
	h.logger.Info("category preference updated",
		zap.String("user_id", userID),
		zap.String("category_id", categoryID),
		zap.Bool("enabled", cp.Enabled),
	)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(cp)
}

// UpdateQuietHours handles PATCH /v1/users/{userID}/preferences/quiet-hours
func (h *Handler) UpdateQuietHours(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := chi.URLParam(r, "userID")

	var upd prefs.QuietHoursUpdate
	if err := json.NewDecoder(r.Body).Decode(&upd); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body", err.Error())
		return
	}

	qh, err := h.store.UpdateQuietHours(ctx, userID, upd)
	if err != nil {
		h.writeUpdateError(w, err, userID, "quiet_hours")
		return
	}

	metrics.RecordPreferenceUpdate("quiet_hours")
	h.logger.Info("quiet hours updated",
		zap.String("user_id", userID),
		zap.Bool("enabled", qh.Enabled),
		zap.String("timezone", qh.Timezone),
	)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(qh)
}

// UpdateDigest handles PATCH /v1/users/{userID}/preferences/digest
func (h *Handler) UpdateDigest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := chi.URLParam(r, "userID")

	var upd prefs.DigestUpdate
	if err := json.NewDecoder(r.Body).Decode(&upd); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body", err.Error())
		return
	}

	ds, err := h.store.UpdateDigest(ctx, userID, upd)
	if err != nil {
		h.writeUpdateError(w, err, userID, "digest")
		return
	}

	metrics.RecordPreferenceUpdate("digest")
	h.logger.Info("digest settings updated",
		zap.String("user_id", userID),
		zap.Bool("enabled", ds.Enabled),
		zap.String("frequency", string(ds.Frequency)),
	)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(ds)
}

// Decide handles POST /v1/decisions
func (h *Handler) Decide(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req DecisionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body", err.Error())
		return
	}

	if req.UserID == "" || req.CategoryID == "" || req.Channel == "" {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Missing required fields", "user_id, category_id, and channel are required")
		return
	}
	if !prefs.ValidChannel(prefs.Channel(req.Channel)) {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid channel", "channel must be email, push, sms, or in_app")
		return
	}
	if !h.registry.Exists(req.CategoryID) {
		h.writeError(w, http.StatusNotFound, "not_found", "Unknown category", req.CategoryID)
		return
	}

	res, err := h.engine.Evaluate(ctx, req.UserID, req.CategoryID, prefs.Channel(req.Channel), req.Urgent)
	if err != nil {
		h.logger.Error("decision evaluation failed",
			zap.Error(err),
			zap.String("user_id", req.UserID),
			zap.String("category_id", req.CategoryID),
		)
		h.writeError(w, http.StatusInternalServerError, "evaluation_error", "Failed to evaluate decision", "")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(res)
}

// DecideChannels handles POST /v1/decisions/channels
func (h *Handler) DecideChannels(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req ChannelDecisionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body", err.Error())
		return
	}

	if req.UserID == "" || req.CategoryID == "" {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Missing required fields", "user_id and category_id are required")
		return
	}
	if !h.registry.Exists(req.CategoryID) {
		h.writeError(w, http.StatusNotFound, "not_found", "Unknown category", req.CategoryID)
		return
	}

	results, err := h.engine.EvaluateChannels(ctx, req.UserID, req.CategoryID, req.Urgent)
	if err != nil {
		h.logger.Error("channel decision evaluation failed",
			zap.Error(err),
			zap.String("user_id", req.UserID),
			zap.String("category_id", req.CategoryID),
		)
		h.writeError(w, http.StatusInternalServerError, "evaluation_error", "Failed to evaluate decisions", "")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"channels": results,
	})
}

// EnqueueDigestItem handles POST /v1/digest/items.
// Supports deduplication via the Idempotency-Key header.
func (h *Handler) EnqueueDigestItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	idempotencyKey := r.Header.Get("Idempotency-Key")

	var req DigestItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body", err.Error())
		return
	}

	if req.UserID == "" || req.CategoryID == "" || req.Title == "" {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Missing required fields", "user_id, category_id, and title are required")
		return
	}
	if !h.registry.Exists(req.CategoryID) {
		h.writeError(w, http.StatusNotFound, "not_found", "Unknown category", req.CategoryID)
		return
	}
	if len(req.Data) > 0 && !json.Valid(req.Data) {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid data", "data must be valid JSON")
		return
	}

	if idempotencyKey != "" && h.idempotency != nil {
		cached, err := h.idempotency.CheckOrReserve(ctx, req.UserID, idempotencyKey)
		if err != nil {
			if errors.Is(err, redis.ErrDuplicateRequest) {
				h.writeError(w, http.StatusConflict, "duplicate_request",
					"Request is already being processed",
					"Another request with this idempotency key is in progress")
				return
			}
			h.logger.Warn("idempotency check failed, proceeding",
				zap.Error(err),
				zap.String("idempotency_key", idempotencyKey),
			)
		} else if cached != nil {
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("X-Idempotency-Replayed", "true")
			w.WriteHeader(cached.StatusCode)
			_ = json.NewEncoder(w).Encode(map[string]string{"id": cached.ItemID})
			return
		}
	}

	item, err := h.queue.Enqueue(ctx, req.UserID, req.CategoryID, req.Title, req.Body, req.Data)
	if err != nil {
		h.logger.Error("failed to enqueue digest item",
			zap.Error(err),
			zap.String("user_id", req.UserID),
			zap.String("category_id", req.CategoryID),
		)
		h.writeError(w, http.StatusInternalServerError, "queue_error", "Failed to enqueue digest item", "")
		return
	}

	metrics.RecordDigestEnqueued()
	h.logger.Info("digest item enqueued",
		zap.String("item_id", item.ID),
		zap.String("user_id", req.UserID),
		zap.String("category_id", req.CategoryID),
	)

	if idempotencyKey != "" && h.idempotency != nil {
		result := &redis.IdempotencyResult{
			ItemID:     item.ID,
			StatusCode: http.StatusCreated,
		}
		if err := h.idempotency.Store(ctx, req.UserID, idempotencyKey, result); err != nil {
			h.logger.Warn("failed to store idempotency result",
				zap.Error(err),
				zap.String("idempotency_key", idempotencyKey),
			)
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(map[string]string{"id": item.ID})
}

// GetDigest handles GET /v1/users/{userID}/digest
func (h *Handler) GetDigest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := chi.URLParam(r, "userID")

	grouped, err := h.queue.Drain(ctx, userID)
	if err != nil {
		h.logger.Error("failed to read digest queue",
			zap.Error(err),
			zap.String("user_id", userID),
		)
		h.writeError(w, http.StatusInternalServerError, "queue_error", "Failed to read digest queue", "")
		return
	}

	total := 0
	for _, items := range grouped {
		total += len(items)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"items": grouped,
		"total": total,
	})
}

// ClearDigest handles DELETE /v1/users/{userID}/digest
func (h *Handler) ClearDigest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := chi.URLParam(r, "userID")

	if err := h.queue.Clear(ctx, userID); err != nil {
		h.logger.Error("failed to clear digest queue",
			zap.Error(err),
			zap.String("user_id", userID),
		)
		h.writeError(w, http.StatusInternalServerError, "queue_error", "Failed to clear digest queue", "")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Unsubscribe handles POST /v1/unsubscribe. The endpoint is public: the
// token is the only credential.
func (h *Handler) Unsubscribe(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req UnsubscribeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body", err.Error())
		return
	}

	if req.Token == "" {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Missing token", "token is required")
		return
	}

	userID, err := h.resolver.Resolve(ctx, req.Token, req.CategoryID)
	if err != nil {
		switch {
		case errors.Is(err, prefs.ErrInvalidToken):
			metrics.RecordUnsubscribe("invalid_token")
			h.writeError(w, http.StatusNotFound, "not_found", "Unknown unsubscribe token", "")
		case errors.Is(err, prefs.ErrCategoryNotFound):
			metrics.RecordUnsubscribe("unknown_category")
			h.writeError(w, http.StatusNotFound, "not_found", "Unknown category", req.CategoryID)
		default:
			h.logger.Error("unsubscribe failed",
				zap.Error(err),
				zap.String("category_id", req.CategoryID),
			)
			metrics.RecordUnsubscribe("error")
			h.writeError(w, http.StatusInternalServerError, "storage_error", "Failed to process unsubscribe", "")
		}
		return
	}

	metrics.RecordUnsubscribe("ok")

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"status":  "unsubscribed",
		"user_id": userID,
	})
}

// writeUpdateError maps store mutation errors onto problem+json responses.
func (h *Handler) writeUpdateError(w http.ResponseWriter, err error, userID, kind string) {
	switch {
	case errors.Is(err, prefs.ErrCategoryNotFound):
		h.writeError(w, http.StatusNotFound, "not_found", "Unknown category", err.Error())
	case errors.Is(err, prefs.ErrMandatoryCategory):
		h.writeError(w, http.StatusConflict, "mandatory_category", "Category cannot be disabled", err.Error())
	case prefs.IsValidation(err):
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid update", err.Error())
	default:
		h.logger.Error("failed to update preferences",
			zap.Error(err),
			zap.String("user_id", userID),
			zap.String("kind", kind),
		)
		h.writeError(w, http.StatusInternalServerError, "storage_error", "Failed to update preferences", "")
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, errType, title, detail string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)

	_ = json.NewEncoder(w).Encode(ErrorResponse{
		Type:   errType,
		Title:  title,
		Status: status,
		Detail: detail,
	})
}
