package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	webpush "github.com/SherClockHolmes/webpush-go"
	"go.uber.org/zap"
)

// VAPIDConfig is the key triple for the standards-based Web Push protocol.
type VAPIDConfig struct {
	PublicKey  string
	PrivateKey string
	Subscriber string // contact email, sent as the VAPID sub claim
}

// Subscription is a raw browser push subscription: the endpoint assigned by
// the platform push service plus the client's encryption keys.
type Subscription struct {
	Endpoint string           `json:"endpoint"`
	Keys     SubscriptionKeys `json:"keys"`
}

type SubscriptionKeys struct {
	P256dh string `json:"p256dh"`
	Auth   string `json:"auth"`
}

// WebPush signs and encrypts pushes per the Web Push protocol. Unlike the
// directive-targeted providers it addresses exactly one subscription per
// call; broadcast and segment targeting do not exist at this layer.
type WebPush struct {
	vapid  VAPIDConfig
	client *http.Client
	ttl    int
	logger *zap.Logger
}

// NewWebPush creates a Web Push adapter.
func NewWebPush(cfg VAPIDConfig, client *http.Client, logger *zap.Logger) *WebPush {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &WebPush{
		vapid:  cfg,
		client: client,
		ttl:    60,
		logger: logger,
	}
}

func (w *WebPush) Name() string {
	return "webpush"
}

func (w *WebPush) Ready() error {
	if w.vapid.PublicKey == "" || w.vapid.PrivateKey == "" || w.vapid.Subscriber == "" {
		return fmt.Errorf("%w: VAPID_PUBLIC_KEY, VAPID_PRIVATE_KEY and VAPID_EMAIL are required", ErrNotConfigured)
	}
	return nil
}

// SendTo pushes content to a single subscription. The payload layout matches
// what the in-browser receiver decodes: title/body/icon/url/tag plus an
// opaque data object, all optional on the receiving side.
func (w *WebPush) SendTo(ctx context.Context, sub Subscription, content Content) (*DeliveryResult, error) {
	payload := map[string]interface{}{
		"title": content.Title,
		"body":  content.Message,
	}
	if content.ImageURL != "" {
		payload["icon"] = content.ImageURL
	}
	if content.URL != "" {
		payload["url"] = content.URL
	}
	if len(content.Data) > 0 {
		payload["data"] = content.Data
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal webpush payload: %w", err)
	}

	s := &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			P256dh: sub.Keys.P256dh,
			Auth:   sub.Keys.Auth,
		},
	}

	resp, err := webpush.SendNotificationWithContext(ctx, body, s, &webpush.Options{
		Subscriber:      w.vapid.Subscriber,
		VAPIDPublicKey:  w.vapid.PublicKey,
		VAPIDPrivateKey: w.vapid.PrivateKey,
		TTL:             w.ttl,
		HTTPClient:      w.client,
	})
	if err != nil {
		return nil, fmt.Errorf("webpush send failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read webpush response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		w.logger.Warn("push service rejected notification",
			zap.Int("status", resp.StatusCode),
			zap.String("endpoint", sub.Endpoint),
		)
		return &DeliveryResult{
			Success:     false,
			StatusCode:  resp.StatusCode,
			ErrorDetail: string(respBody),
		}, nil
	}

	one := 1
	w.logger.Info("webpush notification accepted",
		zap.Int("status", resp.StatusCode),
		zap.String("endpoint", sub.Endpoint),
	)

	return &DeliveryResult{
		Success:    true,
		StatusCode: resp.StatusCode,
		Recipients: &one,
		RawBody:    respBody,
	}, nil
}

// SubscriptionGone reports whether the push service says the subscription is
// dead and should be removed from the store.
func SubscriptionGone(status int) bool {
	return status == http.StatusNotFound || status == http.StatusGone
}
