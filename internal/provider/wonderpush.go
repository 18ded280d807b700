package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

const defaultWonderPushBaseURL = "https://management-api.wonderpush.com/v1"

// WonderPushConfig holds WonderPush credentials.
type WonderPushConfig struct {
	AppID       string
	AccessToken string
	BaseURL     string // defaults to the management API; overridable in tests
}

// WonderPush sends notifications through the WonderPush management API.
type WonderPush struct {
	appID       string
	accessToken string
	baseURL     string
	client      *http.Client
	logger      *zap.Logger
}

// NewWonderPush creates a WonderPush adapter.
func NewWonderPush(cfg WonderPushConfig, client *http.Client, logger *zap.Logger) *WonderPush {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultWonderPushBaseURL
	}
	return &WonderPush{
		appID:       cfg.AppID,
		accessToken: cfg.AccessToken,
		baseURL:     baseURL,
		client:      client,
		logger:      logger,
	}
}

func (w *WonderPush) Name() string {
	return "wonderpush"
}

func (w *WonderPush) Ready() error {
	if w.appID == "" || w.accessToken == "" {
		return fmt.Errorf("%w: WONDERPUSH_APP_ID and WONDERPUSH_ACCESS_TOKEN are required", ErrNotConfigured)
	}
	return nil
}

// Send performs a single deliveries call. Broadcast omits targetAudience
// entirely; user and segment directives populate the matching field.
func (w *WonderPush) Send(ctx context.Context, directive Directive, content Content) (*DeliveryResult, error) {
	alert := map[string]interface{}{
		"title": content.Title,
		"text":  content.Message,
	}
	if content.URL != "" {
		alert["targetUrl"] = content.URL
	}

	notification := map[string]interface{}{
		"alert": alert,
	}
	if len(content.Data) > 0 {
		notification["data"] = content.Data
	}

	payload := map[string]interface{}{
		"applicationId": w.appID,
		"notification":  notification,
	}

	switch directive.Kind {
	case ExternalUser:
		payload["targetAudience"] = map[string]string{"userId": directive.Value}
	case Segment:
		payload["targetAudience"] = map[string]string{"segment": directive.Value}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal wonderpush payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.baseURL+"/deliveries", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build wonderpush request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+w.accessToken)

	resp, err := w.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("wonderpush request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read wonderpush response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		w.logger.Warn("wonderpush rejected delivery",
			zap.Int("status", resp.StatusCode),
			zap.String("target", directive.Kind.String()),
		)
		return &DeliveryResult{
			Success:     false,
			StatusCode:  resp.StatusCode,
			ErrorDetail: string(respBody),
		}, nil
	}

	var parsed struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		w.logger.Warn("unparseable wonderpush response body", zap.Error(err))
	}

	w.logger.Info("wonderpush delivery accepted",
		zap.String("delivery_id", parsed.ID),
		zap.String("target", directive.Kind.String()),
	)

	// WonderPush does not report a recipient count on the delivery call.
	return &DeliveryResult{
		Success:           true,
		StatusCode:        resp.StatusCode,
		ProviderMessageID: parsed.ID,
		RawBody:           respBody,
	}, nil
}
