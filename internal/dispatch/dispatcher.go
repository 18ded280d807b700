// Package dispatch implements the notification dispatcher: validate the
// request, check provider readiness, perform exactly one provider call, and
// append the outcome to the notification log. At-most-once per invocation;
// retry policy belongs to the caller.
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/emlakpanel/pushgate/internal/db"
	"github.com/emlakpanel/pushgate/internal/metrics"
	"github.com/emlakpanel/pushgate/internal/provider"
)

// Request is the provider-agnostic dispatch input.
type Request struct {
	Title       string
	Message     string
	TargetType  string
	TargetValue string
	URL         string
	ImageURL    string
	Data        map[string]interface{}
}

// ValidationError marks a request rejected before any provider contact.
type ValidationError struct {
	Detail string
}

func (e *ValidationError) Error() string {
	return "invalid dispatch request: " + e.Detail
}

// LogStore is the append-only notification log.
type LogStore interface {
	InsertNotificationLog(ctx context.Context, entry *db.NotificationLog) error
}

// Dispatcher coordinates one delivery attempt per call.
type Dispatcher struct {
	store  LogStore
	logger *zap.Logger
}

// New creates a Dispatcher.
func New(store LogStore, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		store:  store,
		logger: logger,
	}
}

// Dispatch validates req, sends through the given provider, and logs the
// outcome. Returned errors are either *ValidationError or a configuration
// error wrapping provider.ErrNotConfigured — both mean no provider call was
// made and no log row was written. Provider failures are not errors: they
// come back as a DeliveryResult with Success=false and the raw error body.
func (d *Dispatcher) Dispatch(ctx context.Context, sender provider.Sender, req Request) (*provider.DeliveryResult, error) {
	if err := validate(req); err != nil {
		return nil, err
	}

	if err := sender.Ready(); err != nil {
		d.logger.Error("provider not configured",
			zap.String("provider", sender.Name()),
			zap.Error(err),
		)
		return nil, err
	}

	directive, known := provider.Resolve(req.TargetType, req.TargetValue)
	if !known {
		// Preserved permissive behavior: unknown target types broadcast.
		d.logger.Warn("unknown target type, falling back to broadcast",
			zap.String("target_type", req.TargetType),
			zap.String("provider", sender.Name()),
		)
	}

	content := provider.Content{
		Title:    req.Title,
		Message:  req.Message,
		URL:      req.URL,
		ImageURL: req.ImageURL,
		Data:     req.Data,
	}

	start := time.Now()
	result, err := sender.Send(ctx, directive, content)
	if err != nil {
		// Transport failure: normalize so the outcome is still logged and
		// the caller sees a uniform failure shape.
		result = &provider.DeliveryResult{
			Success:     false,
			ErrorDetail: err.Error(),
		}
	}
	metrics.RecordDispatch(sender.Name(), result.Success, time.Since(start))

	d.persist(ctx, sender.Name(), req, result)

	return result, nil
}

// DispatchWebPush is the single-subscription path. Web Push has no targeting
// directive, so validation and logging differ slightly from Dispatch.
func (d *Dispatcher) DispatchWebPush(ctx context.Context, wp *provider.WebPush, sub provider.Subscription, req Request) (*provider.DeliveryResult, error) {
	if req.Title == "" || req.Message == "" {
		return nil, &ValidationError{Detail: "title and body are required"}
	}
	if sub.Endpoint == "" || sub.Keys.P256dh == "" || sub.Keys.Auth == "" {
		return nil, &ValidationError{Detail: "subscription endpoint and keys are required"}
	}

	if err := wp.Ready(); err != nil {
		d.logger.Error("webpush not configured", zap.Error(err))
		return nil, err
	}

	content := provider.Content{
		Title:    req.Title,
		Message:  req.Message,
		URL:      req.URL,
		ImageURL: req.ImageURL,
		Data:     req.Data,
	}

	start := time.Now()
	result, err := wp.SendTo(ctx, sub, content)
	if err != nil {
		result = &provider.DeliveryResult{
			Success:     false,
			ErrorDetail: err.Error(),
		}
	}
	metrics.RecordDispatch(wp.Name(), result.Success, time.Since(start))

	endpoint := sub.Endpoint
	logReq := req
	logReq.TargetType = "subscription"
	logReq.TargetValue = endpoint
	d.persist(ctx, wp.Name(), logReq, result)

	return result, nil
}

func validate(req Request) error {
	if req.Title == "" || req.Message == "" {
		return &ValidationError{Detail: "title and message are required"}
	}
	switch req.TargetType {
	case provider.TargetUser, provider.TargetSegment:
		if req.TargetValue == "" {
			return &ValidationError{Detail: fmt.Sprintf("targetValue is required when targetType is %q", req.TargetType)}
		}
	}
	return nil
}

// persist appends the outcome row. Best effort: a log write failure must
// never mask the real delivery outcome, so it is logged and swallowed.
func (d *Dispatcher) persist(ctx context.Context, providerName string, req Request, result *provider.DeliveryResult) {
	entry := &db.NotificationLog{
		Type:       providerName,
		Title:      req.Title,
		Message:    req.Message,
		TargetType: req.TargetType,
		Success:    result.Success,
	}
	if req.TargetValue != "" {
		v := req.TargetValue
		entry.TargetValue = &v
	}
	if result.ProviderMessageID != "" {
		id := result.ProviderMessageID
		entry.ProviderMessageID = &id
	}
	if result.Recipients != nil {
		n := *result.Recipients
		entry.RecipientCount = &n
	}
	if result.ErrorDetail != "" {
		msg := result.ErrorDetail
		entry.ErrorMessage = &msg
	}
	if len(req.Data) > 0 {
		if raw, err := json.Marshal(req.Data); err == nil {
			entry.Data = raw
		}
	}

	if err := d.store.InsertNotificationLog(ctx, entry); err != nil {
		metrics.RecordLogWriteFailure()
		d.logger.Error("failed to persist notification log",
			zap.Error(err),
			zap.String("provider", providerName),
			zap.Bool("delivery_success", result.Success),
		)
	}
}
