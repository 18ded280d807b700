package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/emlakpanel/pushgate/internal/db"
	"github.com/emlakpanel/pushgate/internal/dispatch"
	"github.com/emlakpanel/pushgate/internal/provider"
)

// DispatchService is the dispatcher contract the handlers depend on.
type DispatchService interface {
	Dispatch(ctx context.Context, sender provider.Sender, req dispatch.Request) (*provider.DeliveryResult, error)
	DispatchWebPush(ctx context.Context, wp *provider.WebPush, sub provider.Subscription, req dispatch.Request) (*provider.DeliveryResult, error)
}

// SubscriptionStore covers the subscription and log read/write operations
// exposed over HTTP.
type SubscriptionStore interface {
	UpsertPushSubscription(ctx context.Context, sub *db.PushSubscription) error
	GetPushSubscription(ctx context.Context, userID string) (*db.PushSubscription, error)
	DeletePushSubscription(ctx context.Context, userID string) error
	ListNotificationLogs(ctx context.Context, limit, offset int) ([]*db.NotificationLog, error)
}

// Handler holds dependencies for the dispatch API
type Handler struct {
	logger     *zap.Logger
	dispatcher DispatchService
	store      SubscriptionStore

	onesignal  *provider.OneSignal
	webpush    *provider.WebPush
	wonderpush *provider.WonderPush
}

// NewHandler creates a new API handler
func NewHandler(
	logger *zap.Logger,
	dispatcher DispatchService,
	store SubscriptionStore,
	onesignal *provider.OneSignal,
	webpush *provider.WebPush,
	wonderpush *provider.WonderPush,
) *Handler {
	return &Handler{
		logger:     logger,
		dispatcher: dispatcher,
		store:      store,
		onesignal:  onesignal,
		webpush:    webpush,
		wonderpush: wonderpush,
	}
}

// directedRequest is the shared body shape of the OneSignal and WonderPush
// dispatch endpoints.
type directedRequest struct {
	Title       string                 `json:"title"`
	Message     string                 `json:"message"`
	TargetType  string                 `json:"targetType"`
	TargetValue string                 `json:"targetValue,omitempty"`
	URL         string                 `json:"url,omitempty"`
	ImageURL    string                 `json:"imageUrl,omitempty"`
	DeepLink    string                 `json:"deepLink,omitempty"`
	Data        map[string]interface{} `json:"data,omitempty"`
}

// SendOneSignalNotification handles POST /v1/send-onesignal-notification
func (h *Handler) SendOneSignalNotification(w http.ResponseWriter, r *http.Request) {
	var req directedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeFailure(w, http.StatusBadRequest, "Malformed JSON body", err.Error())
		return
	}

	result, err := h.dispatcher.Dispatch(r.Context(), h.onesignal, dispatch.Request{
		Title:       req.Title,
		Message:     req.Message,
		TargetType:  req.TargetType,
		TargetValue: req.TargetValue,
		URL:         req.URL,
		ImageURL:    req.ImageURL,
		Data:        req.Data,
	})
	if err != nil {
		h.writeDispatchError(w, err)
		return
	}

	if !result.Success {
		h.writeFailure(w, http.StatusInternalServerError, "OneSignal delivery failed", result.ErrorDetail)
		return
	}

	recipients := 0
	if result.Recipients != nil {
		recipients = *result.Recipients
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":        true,
		"notificationId": result.ProviderMessageID,
		"recipients":     recipients,
	})
}

// webPushRequest is the body of POST /v1/send-notification. The subscription
// is given inline or, for stored handles, looked up by user_id.
type webPushRequest struct {
	Subscription provider.Subscription  `json:"subscription"`
	UserID       string                 `json:"user_id,omitempty"`
	Title        string                 `json:"title"`
	Body         string                 `json:"body"`
	URL          string                 `json:"url,omitempty"`
	Icon         string                 `json:"icon,omitempty"`
	Data         map[string]interface{} `json:"data,omitempty"`
}

// SendNotification handles POST /v1/send-notification (raw Web Push)
func (h *Handler) SendNotification(w http.ResponseWriter, r *http.Request) {
	var req webPushRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeFailure(w, http.StatusBadRequest, "Malformed JSON body", err.Error())
		return
	}

	if req.Subscription.Endpoint == "" && req.UserID != "" {
		stored, err := h.store.GetPushSubscription(r.Context(), req.UserID)
		if err != nil {
			if errors.Is(err, db.ErrSubscriptionNotFound) {
				h.writeFailure(w, http.StatusNotFound, "No stored subscription for user", "")
				return
			}
			h.logger.Error("failed to load subscription", zap.Error(err), zap.String("user_id", req.UserID))
			h.writeFailure(w, http.StatusInternalServerError, "Failed to load subscription", "")
			return
		}
		req.Subscription = provider.Subscription{
			Endpoint: stored.Endpoint,
			Keys:     provider.SubscriptionKeys{P256dh: stored.P256dh, Auth: stored.Auth},
		}
	}

	result, err := h.dispatcher.DispatchWebPush(r.Context(), h.webpush, req.Subscription, dispatch.Request{
		Title:    req.Title,
		Message:  req.Body,
		URL:      req.URL,
		ImageURL: req.Icon,
		Data:     req.Data,
	})
	if err != nil {
		h.writeDispatchError(w, err)
		return
	}

	if !result.Success {
		// A 404/410 from the push service means the handle is permanently
		// dead; drop it so later sends fail fast at lookup.
		if req.UserID != "" && provider.SubscriptionGone(result.StatusCode) {
			if err := h.store.DeletePushSubscription(r.Context(), req.UserID); err != nil {
				h.logger.Warn("failed to remove dead subscription",
					zap.Error(err), zap.String("user_id", req.UserID))
			} else {
				h.logger.Info("removed dead subscription", zap.String("user_id", req.UserID))
			}
		}
		h.writeFailure(w, http.StatusInternalServerError, "Web Push delivery failed", result.ErrorDetail)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "Notification sent",
		"result": map[string]interface{}{
			"statusCode": result.StatusCode,
		},
	})
}

// SendWonderPushNotification handles POST /v1/send-wonderpush-notification
func (h *Handler) SendWonderPushNotification(w http.ResponseWriter, r *http.Request) {
	var req directedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeFailure(w, http.StatusBadRequest, "Malformed JSON body", err.Error())
		return
	}

	result, err := h.dispatcher.Dispatch(r.Context(), h.wonderpush, dispatch.Request{
		Title:       req.Title,
		Message:     req.Message,
		TargetType:  req.TargetType,
		TargetValue: req.TargetValue,
		URL:         req.DeepLink,
		Data:        req.Data,
	})
	if err != nil {
		h.writeDispatchError(w, err)
		return
	}

	if !result.Success {
		h.writeFailure(w, http.StatusInternalServerError, "WonderPush delivery failed", result.ErrorDetail)
		return
	}

	resp := map[string]interface{}{
		"success": true,
		"message": "Notification sent",
	}
	if json.Valid(result.RawBody) {
		resp["wonderPushResponse"] = json.RawMessage(result.RawBody)
	}

	h.writeJSON(w, http.StatusOK, resp)
}

// createUserRequest is the body of POST /v1/create-onesignal-user.
type createUserRequest struct {
	UserID   string `json:"user_id"`
	FullName string `json:"full_name"`
	Phone    string `json:"phone,omitempty"`
}

// CreateOneSignalUser handles POST /v1/create-onesignal-user
func (h *Handler) CreateOneSignalUser(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeFailure(w, http.StatusBadRequest, "Malformed JSON body", err.Error())
		return
	}

	if req.UserID == "" || req.FullName == "" {
		h.writeFailure(w, http.StatusBadRequest, "Missing required fields", "user_id and full_name are required")
		return
	}

	user, err := h.onesignal.CreateUser(r.Context(), req.UserID, req.FullName, req.Phone)
	if err != nil {
		var apiErr *provider.APIError
		switch {
		case errors.Is(err, provider.ErrNotConfigured):
			h.writeFailure(w, http.StatusInternalServerError, "OneSignal credentials not configured", "")
		case errors.As(err, &apiErr):
			h.writeFailure(w, http.StatusInternalServerError, "OneSignal user creation failed", apiErr.Body)
		default:
			h.logger.Error("onesignal user creation failed", zap.Error(err), zap.String("user_id", req.UserID))
			h.writeFailure(w, http.StatusInternalServerError, "OneSignal user creation failed", err.Error())
		}
		return
	}

	resp := map[string]interface{}{
		"success": true,
		"message": "OneSignal user created",
	}
	if json.Valid(user) {
		resp["onesignal_user"] = json.RawMessage(user)
	}

	h.writeJSON(w, http.StatusOK, resp)
}

// subscriptionRequest is the body of POST /v1/subscriptions.
type subscriptionRequest struct {
	UserID       string                `json:"user_id"`
	Subscription provider.Subscription `json:"subscription"`
}

// UpsertSubscription handles POST /v1/subscriptions. Re-subscribing replaces
// the user's previous handle.
func (h *Handler) UpsertSubscription(w http.ResponseWriter, r *http.Request) {
	var req subscriptionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeFailure(w, http.StatusBadRequest, "Malformed JSON body", err.Error())
		return
	}

	if req.UserID == "" || req.Subscription.Endpoint == "" ||
		req.Subscription.Keys.P256dh == "" || req.Subscription.Keys.Auth == "" {
		h.writeFailure(w, http.StatusBadRequest, "Missing required fields",
			"user_id, subscription.endpoint and subscription.keys are required")
		return
	}

	sub := &db.PushSubscription{
		UserID:   req.UserID,
		Endpoint: req.Subscription.Endpoint,
		P256dh:   req.Subscription.Keys.P256dh,
		Auth:     req.Subscription.Keys.Auth,
	}

	if err := h.store.UpsertPushSubscription(r.Context(), sub); err != nil {
		h.logger.Error("failed to store subscription", zap.Error(err), zap.String("user_id", req.UserID))
		h.writeFailure(w, http.StatusInternalServerError, "Failed to store subscription", "")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"id":      sub.ID.String(),
	})
}

// DeleteSubscription handles DELETE /v1/subscriptions/{userID}
func (h *Handler) DeleteSubscription(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	if userID == "" {
		h.writeFailure(w, http.StatusBadRequest, "Missing user id", "")
		return
	}

	if err := h.store.DeletePushSubscription(r.Context(), userID); err != nil {
		h.logger.Error("failed to delete subscription", zap.Error(err), zap.String("user_id", userID))
		h.writeFailure(w, http.StatusInternalServerError, "Failed to delete subscription", "")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
	})
}

// ListNotificationLogs handles GET /v1/notification-logs?limit=20&offset=0
func (h *Handler) ListNotificationLogs(w http.ResponseWriter, r *http.Request) {
	limit := 20
	offset := 0

	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 && l <= 100 {
			limit = l
		}
	}

	if offsetStr := r.URL.Query().Get("offset"); offsetStr != "" {
		if o, err := strconv.Atoi(offsetStr); err == nil && o >= 0 {
			offset = o
		}
	}

	logs, err := h.store.ListNotificationLogs(r.Context(), limit, offset)
	if err != nil {
		h.logger.Error("failed to list notification logs", zap.Error(err))
		h.writeFailure(w, http.StatusInternalServerError, "Failed to list notification logs", "")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"data":   logs,
		"limit":  limit,
		"offset": offset,
		"count":  len(logs),
	})
}

// writeDispatchError maps dispatcher errors to the wire format. Validation
// failures are 400; missing credentials are 500 (fail fast, no provider call
// was made in either case).
func (h *Handler) writeDispatchError(w http.ResponseWriter, err error) {
	var vErr *dispatch.ValidationError
	switch {
	case errors.As(err, &vErr):
		h.writeFailure(w, http.StatusBadRequest, vErr.Detail, "")
	case errors.Is(err, provider.ErrNotConfigured):
		h.writeFailure(w, http.StatusInternalServerError, "Provider credentials not configured", err.Error())
	default:
		h.logger.Error("dispatch failed", zap.Error(err))
		h.writeFailure(w, http.StatusInternalServerError, "Dispatch failed", err.Error())
	}
}

func (h *Handler) writeFailure(w http.ResponseWriter, status int, errMsg, details string) {
	body := map[string]interface{}{
		"success": false,
		"error":   errMsg,
	}
	if details != "" {
		body["details"] = details
	}
	h.writeJSON(w, status, body)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
