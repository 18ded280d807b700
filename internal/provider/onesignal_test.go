package provider

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"
)

func newTestOneSignal(t *testing.T, handler http.HandlerFunc) (*OneSignal, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	o := NewOneSignal(OneSignalConfig{
		AppID:      "app-1",
		RESTAPIKey: "key-1",
		BaseURL:    srv.URL,
	}, srv.Client(), zap.NewNop())

	return o, srv
}

func decodeBody(t *testing.T, r *http.Request) map[string]interface{} {
	t.Helper()
	var payload map[string]interface{}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		t.Fatalf("decode request body: %v", err)
	}
	return payload
}

func TestOneSignal_SendToUser(t *testing.T) {
	var gotPayload map[string]interface{}
	var gotAuth string

	o, _ := newTestOneSignal(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPayload = decodeBody(t, r)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"notif-1","recipients":1}`))
	})

	result, err := o.Send(context.Background(),
		Directive{Kind: ExternalUser, Value: "user-42"},
		Content{Title: "Hello", Message: "World", URL: "https://example.com/x"},
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !result.Success {
		t.Fatal("expected success")
	}
	if result.ProviderMessageID != "notif-1" {
		t.Errorf("expected id notif-1, got %q", result.ProviderMessageID)
	}
	if result.Recipients == nil || *result.Recipients != 1 {
		t.Errorf("expected 1 recipient, got %v", result.Recipients)
	}

	if gotAuth != "Basic key-1" {
		t.Errorf("expected basic auth header, got %q", gotAuth)
	}

	ids, ok := gotPayload["include_external_user_ids"].([]interface{})
	if !ok || len(ids) != 1 || ids[0] != "user-42" {
		t.Errorf("expected include_external_user_ids [user-42], got %v", gotPayload["include_external_user_ids"])
	}
	if gotPayload["channel_for_external_user_ids"] != "push" {
		t.Errorf("expected push channel, got %v", gotPayload["channel_for_external_user_ids"])
	}

	// The single-user path carries presentation defaults.
	if gotPayload["chrome_web_icon"] != "/icons/icon-192x192.png" {
		t.Errorf("expected default web icon, got %v", gotPayload["chrome_web_icon"])
	}
	if gotPayload["android_sound"] != "default" {
		t.Errorf("expected default android sound, got %v", gotPayload["android_sound"])
	}
	if gotPayload["priority"] != float64(10) {
		t.Errorf("expected priority 10, got %v", gotPayload["priority"])
	}
	if gotPayload["ttl"] != float64(259200) {
		t.Errorf("expected ttl 259200, got %v", gotPayload["ttl"])
	}

	if gotPayload["url"] != "https://example.com/x" {
		t.Errorf("expected url field, got %v", gotPayload["url"])
	}
}

func TestOneSignal_SendToSegment(t *testing.T) {
	var gotPayload map[string]interface{}

	o, _ := newTestOneSignal(t, func(w http.ResponseWriter, r *http.Request) {
		gotPayload = decodeBody(t, r)
		_, _ = w.Write([]byte(`{"id":"notif-2","recipients":120}`))
	})

	result, err := o.Send(context.Background(),
		Directive{Kind: Segment, Value: "premium"},
		Content{Title: "Sale", Message: "20% off"},
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Success {
		t.Fatal("expected success")
	}

	segs, ok := gotPayload["included_segments"].([]interface{})
	if !ok || len(segs) != 1 || segs[0] != "premium" {
		t.Errorf("expected included_segments [premium], got %v", gotPayload["included_segments"])
	}

	// Segment dispatches must not carry the per-user presentation defaults.
	for _, key := range []string{"chrome_web_icon", "android_sound", "priority", "ttl", "include_external_user_ids"} {
		if _, present := gotPayload[key]; present {
			t.Errorf("unexpected key %q in segment payload", key)
		}
	}
}

func TestOneSignal_SendBroadcast(t *testing.T) {
	var gotPayload map[string]interface{}

	o, _ := newTestOneSignal(t, func(w http.ResponseWriter, r *http.Request) {
		gotPayload = decodeBody(t, r)
		_, _ = w.Write([]byte(`{"id":"notif-3","recipients":5000}`))
	})

	result, err := o.Send(context.Background(),
		Directive{Kind: Broadcast},
		Content{Title: "News", Message: "Big news"},
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Recipients == nil || *result.Recipients != 5000 {
		t.Errorf("expected 5000 recipients, got %v", result.Recipients)
	}

	segs, ok := gotPayload["included_segments"].([]interface{})
	if !ok || len(segs) != 1 || segs[0] != "All" {
		t.Errorf("expected included_segments [All], got %v", gotPayload["included_segments"])
	}
}

func TestOneSignal_RejectionKeepsRawBody(t *testing.T) {
	rawError := `{"errors":["Invalid app_id format"]}`

	o, _ := newTestOneSignal(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(rawError))
	})

	result, err := o.Send(context.Background(),
		Directive{Kind: Broadcast},
		Content{Title: "T", Message: "M"},
	)
	if err != nil {
		t.Fatalf("rejections must not be errors: %v", err)
	}

	if result.Success {
		t.Fatal("expected failure")
	}
	if result.StatusCode != http.StatusBadRequest {
		t.Errorf("expected status 400, got %d", result.StatusCode)
	}
	if result.ErrorDetail != rawError {
		t.Errorf("error body must pass through verbatim, got %q", result.ErrorDetail)
	}
}

func TestOneSignal_ReadyRequiresCredentials(t *testing.T) {
	o := NewOneSignal(OneSignalConfig{}, nil, zap.NewNop())
	if err := o.Ready(); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}

	configured := NewOneSignal(OneSignalConfig{AppID: "a", RESTAPIKey: "k"}, nil, zap.NewNop())
	if err := configured.Ready(); err != nil {
		t.Fatalf("expected ready, got %v", err)
	}
}

func TestOneSignal_CreateUser(t *testing.T) {
	var gotPath string
	var gotPayload map[string]interface{}
	userBody := `{"identity":{"external_id":"user-9","onesignal_id":"os-1"}}`

	o, _ := newTestOneSignal(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotPayload = decodeBody(t, r)
		_, _ = w.Write([]byte(userBody))
	})

	raw, err := o.CreateUser(context.Background(), "user-9", "Ali Veli", "+905551112233")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(raw) != userBody {
		t.Errorf("expected raw user body relay, got %s", raw)
	}
	if gotPath != "/apps/app-1/users" {
		t.Errorf("expected /apps/app-1/users, got %s", gotPath)
	}

	identity, _ := gotPayload["identity"].(map[string]interface{})
	if identity["external_id"] != "user-9" {
		t.Errorf("expected external_id user-9, got %v", identity)
	}

	props, _ := gotPayload["properties"].(map[string]interface{})
	tags, _ := props["tags"].(map[string]interface{})
	if tags["full_name"] != "Ali Veli" || tags["phone"] != "+905551112233" {
		t.Errorf("unexpected tags: %v", tags)
	}
}

func TestOneSignal_CreateUserRejection(t *testing.T) {
	rawError := `{"errors":[{"title":"external_id taken"}]}`

	o, _ := newTestOneSignal(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(rawError))
	})

	_, err := o.CreateUser(context.Background(), "user-9", "Ali Veli", "")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.StatusCode != http.StatusConflict || apiErr.Body != rawError {
		t.Errorf("expected raw error preserved, got %+v", apiErr)
	}
}
