package events

import (
	"context"
	"errors"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/emlakpanel/pushgate/internal/dispatch"
	"github.com/emlakpanel/pushgate/internal/provider"
)

type fakeDispatcher struct {
	result *provider.DeliveryResult
	err    error

	calls   int
	lastReq dispatch.Request
}

func (f *fakeDispatcher) Dispatch(ctx context.Context, sender provider.Sender, req dispatch.Request) (*provider.DeliveryResult, error) {
	f.calls++
	f.lastReq = req
	return f.result, f.err
}

type fakeSender struct{}

func (fakeSender) Name() string  { return "fake" }
func (fakeSender) Ready() error  { return nil }
func (fakeSender) Send(ctx context.Context, d provider.Directive, c provider.Content) (*provider.DeliveryResult, error) {
	return &provider.DeliveryResult{Success: true}, nil
}

type fakeDedup struct {
	seen      bool
	seenErr   error
	forgotten []string
}

func (f *fakeDedup) Seen(ctx context.Context, eventID string) (bool, error) {
	return f.seen, f.seenErr
}

func (f *fakeDedup) Forget(ctx context.Context, eventID string) error {
	f.forgotten = append(f.forgotten, eventID)
	return nil
}

func newTestHandler(d *fakeDispatcher, dedup Deduper) *Handler {
	return NewHandler(d, fakeSender{}, dedup, zap.NewNop())
}

func TestHandleMessage_ListingApproved(t *testing.T) {
	d := &fakeDispatcher{result: &provider.DeliveryResult{Success: true}}
	h := newTestHandler(d, nil)

	body := `{"id":"evt-1","type":"listing_approved","user_id":"user-5","listing_title":"3+1 in Kadikoy"}`
	if err := h.HandleMessage(context.Background(), body); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if d.calls != 1 {
		t.Fatalf("expected one dispatch, got %d", d.calls)
	}

	req := d.lastReq
	if req.TargetType != provider.TargetUser || req.TargetValue != "user-5" {
		t.Errorf("expected user targeting, got %q/%q", req.TargetType, req.TargetValue)
	}
	if req.Title != "Listing approved" {
		t.Errorf("unexpected title %q", req.Title)
	}
	if !strings.Contains(req.Message, "3+1 in Kadikoy") {
		t.Errorf("message should name the listing, got %q", req.Message)
	}
	if req.URL != "/my-listings" {
		t.Errorf("unexpected url %q", req.URL)
	}
	if req.Data["event_id"] != "evt-1" {
		t.Errorf("expected event id in data, got %v", req.Data)
	}
}

func TestHandleMessage_RejectionIncludesReason(t *testing.T) {
	d := &fakeDispatcher{result: &provider.DeliveryResult{Success: true}}
	h := newTestHandler(d, nil)

	body := `{"id":"evt-2","type":"membership_rejected","user_id":"user-6","reason":"missing tax documents"}`
	if err := h.HandleMessage(context.Background(), body); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !strings.Contains(d.lastReq.Message, "missing tax documents") {
		t.Errorf("message should carry the rejection reason, got %q", d.lastReq.Message)
	}
}

func TestHandleMessage_DropsMalformedAndUnknown(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{"malformed json", `{"id":`},
		{"missing id", `{"type":"listing_approved","user_id":"u"}`},
		{"missing user", `{"id":"evt-3","type":"listing_approved"}`},
		{"unknown type", `{"id":"evt-4","type":"weather_report","user_id":"u"}`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d := &fakeDispatcher{result: &provider.DeliveryResult{Success: true}}
			h := newTestHandler(d, nil)

			// nil means the message is deleted rather than redelivered; these
			// would fail forever.
			if err := h.HandleMessage(context.Background(), tc.body); err != nil {
				t.Fatalf("expected drop, got error: %v", err)
			}
			if d.calls != 0 {
				t.Error("dropped message must not dispatch")
			}
		})
	}
}

func TestHandleMessage_SuppressesDuplicates(t *testing.T) {
	d := &fakeDispatcher{result: &provider.DeliveryResult{Success: true}}
	dedup := &fakeDedup{seen: true}
	h := newTestHandler(d, dedup)

	body := `{"id":"evt-5","type":"listing_approved","user_id":"u","listing_title":"x"}`
	if err := h.HandleMessage(context.Background(), body); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.calls != 0 {
		t.Error("duplicate event must not dispatch")
	}
}

func TestHandleMessage_FailureClearsMarkerAndRequeues(t *testing.T) {
	d := &fakeDispatcher{err: errors.New("provider down")}
	dedup := &fakeDedup{}
	h := newTestHandler(d, dedup)

	body := `{"id":"evt-6","type":"listing_approved","user_id":"u","listing_title":"x"}`
	err := h.HandleMessage(context.Background(), body)
	if err == nil {
		t.Fatal("failed dispatch must return an error for redelivery")
	}

	if len(dedup.forgotten) != 1 || dedup.forgotten[0] != "evt-6" {
		t.Errorf("expected dedup marker cleared for evt-6, got %v", dedup.forgotten)
	}
}

func TestHandleMessage_RejectedDeliveryRequeues(t *testing.T) {
	d := &fakeDispatcher{result: &provider.DeliveryResult{Success: false, ErrorDetail: "rate limited"}}
	dedup := &fakeDedup{}
	h := newTestHandler(d, dedup)

	body := `{"id":"evt-7","type":"membership_approved","user_id":"u"}`
	if err := h.HandleMessage(context.Background(), body); err == nil {
		t.Fatal("rejected delivery must return an error for redelivery")
	}
	if len(dedup.forgotten) != 1 {
		t.Errorf("expected dedup marker cleared, got %v", dedup.forgotten)
	}
}
