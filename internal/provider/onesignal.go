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

const defaultOneSignalBaseURL = "https://onesignal.com/api/v1"

// Per-user delivery defaults. The broadcast/segment path omits these so the
// admin-broadcast payload stays minimal.
const (
	oneSignalWebIcon  = "/icons/icon-192x192.png"
	oneSignalPriority = 10
	oneSignalTTL      = 259200 // 3 days, seconds
)

// OneSignalConfig holds OneSignal credentials.
type OneSignalConfig struct {
	AppID      string
	RESTAPIKey string
	BaseURL    string // defaults to the public API; overridable in tests
}

// OneSignal sends notifications through the OneSignal REST API.
type OneSignal struct {
	appID   string
	apiKey  string
	baseURL string
	client  *http.Client
	logger  *zap.Logger
}

// NewOneSignal creates a OneSignal adapter.
func NewOneSignal(cfg OneSignalConfig, client *http.Client, logger *zap.Logger) *OneSignal {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultOneSignalBaseURL
	}
	return &OneSignal{
		appID:   cfg.AppID,
		apiKey:  cfg.RESTAPIKey,
		baseURL: baseURL,
		client:  client,
		logger:  logger,
	}
}

func (o *OneSignal) Name() string {
	return "onesignal"
}

func (o *OneSignal) Ready() error {
	if o.appID == "" || o.apiKey == "" {
		return fmt.Errorf("%w: ONESIGNAL_APP_ID and ONESIGNAL_REST_API_KEY are required", ErrNotConfigured)
	}
	return nil
}

// oneSignalResponse is the subset of the create-notification response we read.
type oneSignalResponse struct {
	ID         string `json:"id"`
	Recipients int    `json:"recipients"`
}

// Send translates the directive into OneSignal targeting fields and performs
// a single create-notification call.
func (o *OneSignal) Send(ctx context.Context, directive Directive, content Content) (*DeliveryResult, error) {
	payload := map[string]interface{}{
		"app_id":   o.appID,
		"headings": map[string]string{"en": content.Title},
		"contents": map[string]string{"en": content.Message},
	}

	if content.URL != "" {
		payload["url"] = content.URL
	}
	if content.ImageURL != "" {
		payload["big_picture"] = content.ImageURL
		payload["chrome_web_image"] = content.ImageURL
	}
	if len(content.Data) > 0 {
		payload["data"] = content.Data
	}

	switch directive.Kind {
	case ExternalUser:
		payload["include_external_user_ids"] = []string{directive.Value}
		payload["channel_for_external_user_ids"] = "push"
		// The single-user path carries presentation defaults; the
		// broadcast/segment path leaves them to the app's defaults.
		payload["chrome_web_icon"] = oneSignalWebIcon
		payload["android_sound"] = "default"
		payload["priority"] = oneSignalPriority
		payload["ttl"] = oneSignalTTL
	case Segment:
		payload["included_segments"] = []string{directive.Value}
	default:
		payload["included_segments"] = []string{"All"}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal onesignal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/notifications", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build onesignal request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Basic "+o.apiKey)

	resp, err := o.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("onesignal request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read onesignal response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		o.logger.Warn("onesignal rejected notification",
			zap.Int("status", resp.StatusCode),
			zap.String("target", directive.Kind.String()),
		)
		return &DeliveryResult{
			Success:     false,
			StatusCode:  resp.StatusCode,
			ErrorDetail: string(respBody),
		}, nil
	}

	var parsed oneSignalResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		o.logger.Warn("unparseable onesignal response body", zap.Error(err))
	}

	recipients := parsed.Recipients
	o.logger.Info("onesignal notification accepted",
		zap.String("notification_id", parsed.ID),
		zap.Int("recipients", recipients),
		zap.String("target", directive.Kind.String()),
	)

	return &DeliveryResult{
		Success:           true,
		StatusCode:        resp.StatusCode,
		ProviderMessageID: parsed.ID,
		Recipients:        &recipients,
		RawBody:           respBody,
	}, nil
}

// CreateUser provisions a OneSignal user keyed by our external user id so
// per-user dispatches can address them. Returns the provider's raw user
// object for the caller to relay.
func (o *OneSignal) CreateUser(ctx context.Context, userID, fullName, phone string) (json.RawMessage, error) {
	if err := o.Ready(); err != nil {
		return nil, err
	}

	tags := map[string]string{"full_name": fullName}
	if phone != "" {
		tags["phone"] = phone
	}

	payload := map[string]interface{}{
		"identity": map[string]string{
			"external_id": userID,
		},
		"properties": map[string]interface{}{
			"tags": tags,
		},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal onesignal user payload: %w", err)
	}

	url := fmt.Sprintf("%s/apps/%s/users", o.baseURL, o.appID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build onesignal user request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Basic "+o.apiKey)

	resp, err := o.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("onesignal user request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read onesignal user response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &APIError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	o.logger.Info("onesignal user created", zap.String("external_id", userID))

	return respBody, nil
}
