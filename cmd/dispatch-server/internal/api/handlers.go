// Package api provides HTTP handlers for the dispatch server REST API.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/coregx/dispatch"
	"github.com/coregx/dispatch/model"
)

// Subscriptions is the subscriber-facing service behind the alert routes.
type Subscriptions interface {
	Subscribe(ctx context.Context, req dispatch.SubscribeRequest) (*model.Alert, error)
	GetAlert(ctx context.Context, id int64) (*model.Alert, error)
	ListAlerts(ctx context.Context, userID int64) ([]model.Alert, error)
	DeleteAlert(ctx context.Context, id int64) error
	Unsubscribe(ctx context.Context, token string) error
}

// Events is the trigger side: catalog writes, deliveries and the sweeps.
type Events interface {
	ProductChanged(ctx context.Context, change model.ProductChange) (dispatch.BatchResult, error)
	OrderDelivered(ctx context.Context, req dispatch.ReviewRequest) error
	RunReviewSweep(ctx context.Context) (dispatch.BatchResult, error)
	RunAlertSweep(ctx context.Context) (dispatch.BatchResult, error)
}

// Pinger reports database health.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// Handler holds dependencies for API handlers.
type Handler struct {
	subscriptions Subscriptions
	events        Events
	db            Pinger
	logger        dispatch.Logger
}

// NewHandler creates a new API handler.
func NewHandler(subscriptions Subscriptions, events Events, db Pinger, logger dispatch.Logger) *Handler {
	return &Handler{
		subscriptions: subscriptions,
		events:        events,
		db:            db,
		logger:        logger,
	}
}

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

// SuccessResponse represents a success response.
type SuccessResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Message string      `json:"message,omitempty"`
}

// CreatedAlert is the body of a successful subscription. The token is only
// ever returned here.
type CreatedAlert struct {
	*model.Alert
	UnsubToken string `json:"unsubToken"`
}

// HandleCreateAlert handles POST /api/v1/alerts
func (h *Handler) HandleCreateAlert(w http.ResponseWriter, r *http.Request) {
	var req dispatch.SubscribeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "Invalid JSON", "INVALID_JSON")
		return
	}

	alert, err := h.subscriptions.Subscribe(r.Context(), req)
	if err != nil {
		h.respondFailure(w, "Failed to create alert", err)
		return
	}

	h.respondSuccess(w, http.StatusCreated, CreatedAlert{Alert: alert, UnsubToken: alert.UnsubToken}, "Alert created successfully")
}

// HandleGetAlert handles GET /api/v1/alerts/{id}
func (h *Handler) HandleGetAlert(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}

	alert, err := h.subscriptions.GetAlert(r.Context(), id)
	if err != nil {
		h.respondFailure(w, "Failed to load alert", err)
		return
	}

	h.respondSuccess(w, http.StatusOK, alert, "")
}

// HandleDeleteAlert handles DELETE /api/v1/alerts/{id}
func (h *Handler) HandleDeleteAlert(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}

	if err := h.subscriptions.DeleteAlert(r.Context(), id); err != nil {
		h.respondFailure(w, "Failed to delete alert", err)
		return
	}

	h.respondSuccess(w, http.StatusOK, nil, "Alert deleted successfully")
}

// HandleListUserAlerts handles GET /api/v1/users/{userID}/alerts
func (h *Handler) HandleListUserAlerts(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.pathID(w, r, "userID")
	if !ok {
		return
	}

	alerts, err := h.subscriptions.ListAlerts(r.Context(), userID)
	if err != nil {
		h.respondFailure(w, "Failed to list alerts", err)
		return
	}
	if alerts == nil {
		alerts = []model.Alert{}
	}

	h.respondSuccess(w, http.StatusOK, alerts, "")
}

// HandleUnsubscribe handles POST /api/v1/unsubscribe/{token}
func (h *Handler) HandleUnsubscribe(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")

	if err := h.subscriptions.Unsubscribe(r.Context(), token); err != nil {
		h.respondFailure(w, "Failed to unsubscribe", err)
		return
	}

	h.respondSuccess(w, http.StatusOK, nil, "Unsubscribed successfully")
}

// HandleProductChanged handles POST /api/v1/events/product-changed
func (h *Handler) HandleProductChanged(w http.ResponseWriter, r *http.Request) {
	var change model.ProductChange
	if err := json.NewDecoder(r.Body).Decode(&change); err != nil {
		h.respondError(w, http.StatusBadRequest, "Invalid JSON", "INVALID_JSON")
		return
	}

	result, err := h.events.ProductChanged(r.Context(), change)
	if err != nil {
		h.respondFailure(w, "Failed to process product change", err)
		return
	}

	h.respondSuccess(w, http.StatusOK, result, "")
}

// HandleOrderDelivered handles POST /api/v1/events/order-delivered
func (h *Handler) HandleOrderDelivered(w http.ResponseWriter, r *http.Request) {
	var req dispatch.ReviewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "Invalid JSON", "INVALID_JSON")
		return
	}

	if err := h.events.OrderDelivered(r.Context(), req); err != nil {
		h.respondFailure(w, "Failed to schedule review request", err)
		return
	}

	h.respondSuccess(w, http.StatusAccepted, nil, "Review request scheduled")
}

// HandleReviewSweep handles POST /api/v1/jobs/review-sweep
func (h *Handler) HandleReviewSweep(w http.ResponseWriter, r *http.Request) {
	result, err := h.events.RunReviewSweep(r.Context())
	if err != nil {
		h.respondFailure(w, "Review sweep failed", err)
		return
	}

	h.respondSuccess(w, http.StatusOK, result, "")
}

// HandleAlertSweep handles POST /api/v1/jobs/alert-sweep
func (h *Handler) HandleAlertSweep(w http.ResponseWriter, r *http.Request) {
	result, err := h.events.RunAlertSweep(r.Context())
	if err != nil {
		h.respondFailure(w, "Alert sweep failed", err)
		return
	}

	h.respondSuccess(w, http.StatusOK, result, "")
}

// HandleHealth handles GET /api/v1/health
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	code := http.StatusOK
	if h.db != nil {
		if err := h.db.PingContext(r.Context()); err != nil {
			h.logger.Errorf("Health check failed: %v", err)
			status = "unhealthy"
			code = http.StatusServiceUnavailable
		}
	}

	health := map[string]interface{}{
		"status":    status,
		"timestamp": time.Now().UTC(),
	}

	h.respondSuccess(w, code, health, "")
}

func (h *Handler) pathID(w http.ResponseWriter, r *http.Request, param string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, param), 10, 64)
	if err != nil || id <= 0 {
		h.respondError(w, http.StatusBadRequest, "Invalid "+param, "INVALID_ID")
		return 0, false
	}
	return id, true
}

// respondFailure maps a dispatch error to its HTTP status.
func (h *Handler) respondFailure(w http.ResponseWriter, message string, err error) {
	switch {
	case dispatch.IsNotFound(err):
		h.respondError(w, http.StatusNotFound, "Not found", dispatch.ErrCodeNotFound)
	case dispatch.IsValidation(err):
		h.respondError(w, http.StatusBadRequest, err.Error(), dispatch.ErrCodeValidation)
	default:
		h.logger.Errorf("%s: %v", message, err)
		h.respondError(w, http.StatusInternalServerError, message, "INTERNAL_ERROR")
	}
}

// respondError sends an error response.
func (h *Handler) respondError(w http.ResponseWriter, status int, message, code string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(ErrorResponse{
		Error:   message,
		Code:    code,
		Message: message,
	})
}

// respondSuccess sends a success response.
func (h *Handler) respondSuccess(w http.ResponseWriter, status int, data interface{}, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(SuccessResponse{
		Success: true,
		Data:    data,
		Message: message,
	})
}
