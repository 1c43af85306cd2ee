// Package api binds the notification service to its HTTP surface. The
// handlers only decode, validate shape, and translate errors; all
// domain rules live in the service.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/heraldhq/herald/internal/metrics"
	"github.com/heraldhq/herald/internal/redis"
	"github.com/heraldhq/herald/internal/service"
	"github.com/heraldhq/herald/internal/store"
)

// NotificationService is the facade the handlers call into.
type NotificationService interface {
	Create(ctx context.Context, recipientID int64, title, message string, channel store.Channel) (int64, error)
	ListAll(ctx context.Context) ([]*store.Notification, error)
	ListForUser(ctx context.Context, userID int64) ([]*store.Notification, error)
	MarkAllRead(ctx context.Context, userID int64) (int64, error)
	UnreadCount(ctx context.Context, userID int64) (int64, error)
	Delete(ctx context.Context, userID, id int64) error
	ListUsers(ctx context.Context) ([]*store.User, error)
}

// CreateNotificationRequest is the create request body.
type CreateNotificationRequest struct {
	UserID  int64  `json:"userId"`
	Title   string `json:"title"`
	Message string `json:"message"`
	Channel string `json:"channel"`
}

// CreateNotificationResponse is returned after a create.
type CreateNotificationResponse struct {
	ID int64 `json:"id"`
}

// DeleteNotificationRequest is the delete request body.
type DeleteNotificationRequest struct {
	ID int64 `json:"id"`
}

// ErrorResponse is the problem+json error body.
type ErrorResponse struct {
	Type   string `json:"type"`
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// Handler holds dependencies for the API handlers.
type Handler struct {
	logger      *zap.Logger
	svc         NotificationService
	idempotency *redis.IdempotencyService // nil if Redis not configured
}

// NewHandler creates an API handler without idempotency support.
func NewHandler(logger *zap.Logger, svc NotificationService) *Handler {
	return &Handler{
		logger: logger,
		svc:    svc,
	}
}

// NewHandlerWithIdempotency creates a handler that honors the
// Idempotency-Key header on create.
func NewHandlerWithIdempotency(logger *zap.Logger, svc NotificationService, idempotency *redis.IdempotencyService) *Handler {
	return &Handler{
		logger:      logger,
		svc:         svc,
		idempotency: idempotency,
	}
}

// CreateNotification handles POST /v1/notifications.
func (h *Handler) CreateNotification(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	callerID, err := UserID(ctx)
	if err != nil {
		h.writeError(w, http.StatusUnauthorized, "unauthorized", "Missing user identity", "")
		return
	}

	var req CreateNotificationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body", err.Error())
		return
	}

	if req.UserID <= 0 || req.Title == "" || req.Message == "" || req.Channel == "" {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Missing required fields",
			"userId, title, message, and channel are required")
		return
	}

	channel := store.Channel(req.Channel)
	if !channel.Valid() {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid channel",
			"channel must be push, email, or sms")
		return
	}

	// Replay protection, scoped per caller.
	idempotencyKey := r.Header.Get("Idempotency-Key")
	if idempotencyKey != "" && h.idempotency != nil {
		cached, err := h.idempotency.CheckOrReserve(ctx, callerID, idempotencyKey)
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
			metrics.RecordIdempotencyHit()
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("X-Idempotency-Replayed", "true")
			w.WriteHeader(cached.StatusCode)
			_ = json.NewEncoder(w).Encode(CreateNotificationResponse{ID: cached.NotificationID})
			return
		}
	}

	id, err := h.svc.Create(ctx, req.UserID, req.Title, req.Message, channel)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	if idempotencyKey != "" && h.idempotency != nil {
		result := &redis.IdempotencyResult{
			NotificationID: id,
			StatusCode:     http.StatusCreated,
		}
		if err := h.idempotency.Store(ctx, callerID, idempotencyKey, result); err != nil {
			h.logger.Warn("failed to store idempotency result",
				zap.Error(err),
				zap.String("idempotency_key", idempotencyKey),
			)
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(CreateNotificationResponse{ID: id})
}

// ListNotifications handles GET /v1/notifications (public).
func (h *Handler) ListNotifications(w http.ResponseWriter, r *http.Request) {
	notifications, err := h.svc.ListAll(r.Context())
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeList(w, notifications)
}

// ListUserNotifications handles GET /v1/notifications/user?userId=N.
func (h *Handler) ListUserNotifications(w http.ResponseWriter, r *http.Request) {
	userIDStr := r.URL.Query().Get("userId")
	if userIDStr == "" {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Missing userId",
			"userId query parameter is required")
		return
	}

	userID, err := strconv.ParseInt(userIDStr, 10, 64)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid userId",
			"userId must be an integer")
		return
	}

	notifications, err := h.svc.ListForUser(r.Context(), userID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeList(w, notifications)
}

// MarkAllRead handles PATCH /v1/notifications/mark-read for the caller.
func (h *Handler) MarkAllRead(w http.ResponseWriter, r *http.Request) {
	userID, err := UserID(r.Context())
	if err != nil {
		h.writeError(w, http.StatusUnauthorized, "unauthorized", "Missing user identity", "")
		return
	}

	updated, err := h.svc.MarkAllRead(r.Context(), userID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]int64{"updated": updated})
}

// UnreadCount handles GET /v1/notifications/unread-count for the caller.
func (h *Handler) UnreadCount(w http.ResponseWriter, r *http.Request) {
	userID, err := UserID(r.Context())
	if err != nil {
		h.writeError(w, http.StatusUnauthorized, "unauthorized", "Missing user identity", "")
		return
	}

	count, err := h.svc.UnreadCount(r.Context(), userID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]int64{"count": count})
}

// DeleteNotification handles DELETE /v1/notifications for the caller.
func (h *Handler) DeleteNotification(w http.ResponseWriter, r *http.Request) {
	userID, err := UserID(r.Context())
	if err != nil {
		h.writeError(w, http.StatusUnauthorized, "unauthorized", "Missing user identity", "")
		return
	}

	var req DeleteNotificationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body", err.Error())
		return
	}
	if req.ID <= 0 {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Missing id",
			"id is required and must be a positive integer")
		return
	}

	if err := h.svc.Delete(r.Context(), userID, req.ID); err != nil {
		h.writeServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// ListUsers handles GET /v1/users (public, user directory).
func (h *Handler) ListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.svc.ListUsers(r.Context())
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"data":  users,
		"count": len(users),
	})
}

func (h *Handler) writeList(w http.ResponseWriter, notifications []*store.Notification) {
	if notifications == nil {
		notifications = []*store.Notification{}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"data":  notifications,
		"count": len(notifications),
	})
}

func (h *Handler) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidInput):
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid input", err.Error())
	case errors.Is(err, service.ErrNotFound):
		h.writeError(w, http.StatusNotFound, "not_found", "Notification not found", "")
	default:
		h.logger.Error("request failed", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "internal_error", "Request failed", "")
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
