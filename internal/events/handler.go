// Package events maps application events from the classifieds backend
// (listing and membership review outcomes) to user-targeted push
// notifications.
package events

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/emlakpanel/pushgate/internal/dispatch"
	"github.com/emlakpanel/pushgate/internal/metrics"
	"github.com/emlakpanel/pushgate/internal/provider"
)

// Event types emitted by the classifieds backend.
const (
	EventListingApproved    = "listing_approved"
	EventListingRejected    = "listing_rejected"
	EventMembershipApproved = "membership_approved"
	EventMembershipRejected = "membership_rejected"
)

// AppEvent is one review outcome published to the event queue.
type AppEvent struct {
	ID           string `json:"id"`
	Type         string `json:"type"`
	UserID       string `json:"user_id"`
	ListingTitle string `json:"listing_title,omitempty"`
	Reason       string `json:"reason,omitempty"`
}

// Dispatcher is the subset of the dispatch service the event path uses.
type Dispatcher interface {
	Dispatch(ctx context.Context, sender provider.Sender, req dispatch.Request) (*provider.DeliveryResult, error)
}

// Deduper suppresses redelivered events by id.
type Deduper interface {
	Seen(ctx context.Context, eventID string) (bool, error)
	Forget(ctx context.Context, eventID string) error
}

// Handler turns queue messages into dispatches.
type Handler struct {
	dispatcher Dispatcher
	sender     provider.Sender
	dedup      Deduper
	logger     *zap.Logger
}

// NewHandler creates an event handler. The sender is typically a
// circuit-breaker-protected OneSignal adapter.
func NewHandler(dispatcher Dispatcher, sender provider.Sender, dedup Deduper, logger *zap.Logger) *Handler {
	return &Handler{
		dispatcher: dispatcher,
		sender:     sender,
		dedup:      dedup,
		logger:     logger,
	}
}

// HandleMessage processes one raw queue message. A nil return deletes the
// message; an error leaves it for redelivery.
func (h *Handler) HandleMessage(ctx context.Context, body string) error {
	var evt AppEvent
	if err := json.Unmarshal([]byte(body), &evt); err != nil {
		// Malformed messages would fail forever; drop them.
		h.logger.Error("dropping malformed event", zap.Error(err))
		metrics.RecordEventConsumed("malformed", "dropped")
		return nil
	}

	if evt.ID == "" || evt.UserID == "" {
		h.logger.Error("dropping event without id or user",
			zap.String("type", evt.Type),
		)
		metrics.RecordEventConsumed(evt.Type, "dropped")
		return nil
	}

	req, ok := notificationFor(evt)
	if !ok {
		h.logger.Warn("dropping event of unknown type",
			zap.String("event_id", evt.ID),
			zap.String("type", evt.Type),
		)
		metrics.RecordEventConsumed(evt.Type, "dropped")
		return nil
	}

	if h.dedup != nil {
		seen, err := h.dedup.Seen(ctx, evt.ID)
		if err != nil {
			h.logger.Warn("dedup check failed, proceeding", zap.Error(err))
		} else if seen {
			metrics.RecordEventConsumed(evt.Type, "duplicate")
			return nil
		}
	}

	result, err := h.dispatcher.Dispatch(ctx, h.sender, req)
	if err != nil || !result.Success {
		// Undo the seen marker so the queue's redelivery gets another
		// shot at this event.
		if h.dedup != nil {
			if ferr := h.dedup.Forget(ctx, evt.ID); ferr != nil {
				h.logger.Warn("failed to clear dedup marker", zap.Error(ferr))
			}
		}
		metrics.RecordEventConsumed(evt.Type, "failed")
		if err != nil {
			return fmt.Errorf("dispatch event %s: %w", evt.ID, err)
		}
		return fmt.Errorf("dispatch event %s: provider rejected delivery", evt.ID)
	}

	h.logger.Info("event dispatched",
		zap.String("event_id", evt.ID),
		zap.String("type", evt.Type),
		zap.String("user_id", evt.UserID),
	)
	metrics.RecordEventConsumed(evt.Type, "dispatched")
	return nil
}

// notificationFor builds the user-facing notification for an event.
func notificationFor(evt AppEvent) (dispatch.Request, bool) {
	req := dispatch.Request{
		TargetType:  provider.TargetUser,
		TargetValue: evt.UserID,
		Data: map[string]interface{}{
			"event_id":   evt.ID,
			"event_type": evt.Type,
		},
	}

	switch evt.Type {
	case EventListingApproved:
		req.Title = "Listing approved"
		req.Message = fmt.Sprintf("Your listing %q has been approved and is now live.", evt.ListingTitle)
		req.URL = "/my-listings"
	case EventListingRejected:
		req.Title = "Listing not approved"
		req.Message = fmt.Sprintf("Your listing %q was not approved.", evt.ListingTitle)
		if evt.Reason != "" {
			req.Message += " Reason: " + evt.Reason
		}
		req.URL = "/my-listings"
	case EventMembershipApproved:
		req.Title = "Membership approved"
		req.Message = "Your membership has been approved. You can now publish listings."
		req.URL = "/profile"
	case EventMembershipRejected:
		req.Title = "Membership not approved"
		req.Message = "Your membership application was not approved."
		if evt.Reason != "" {
			req.Message += " Reason: " + evt.Reason
		}
		req.URL = "/profile"
	default:
		return dispatch.Request{}, false
	}

	return req, true
}
