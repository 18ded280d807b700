package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/emlakpanel/pushgate/internal/provider"
)

type stubSender struct {
	result *provider.DeliveryResult
	err    error
	calls  int
}

func (s *stubSender) Name() string { return "stub" }
func (s *stubSender) Ready() error { return nil }

func (s *stubSender) Send(ctx context.Context, d provider.Directive, c provider.Content) (*provider.DeliveryResult, error) {
	s.calls++
	return s.result, s.err
}

func TestProtectedProvider_PassesThroughWhenClosed(t *testing.T) {
	sender := &stubSender{result: &provider.DeliveryResult{Success: true}}
	cb := newTestBreaker(3, time.Minute)
	p := NewProtectedProvider(sender, cb, zap.NewNop())

	result, err := p.Send(context.Background(), provider.Directive{Kind: provider.Broadcast}, provider.Content{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Success || sender.calls != 1 {
		t.Errorf("expected one successful pass-through, calls=%d", sender.calls)
	}
}

func TestProtectedProvider_FailsFastWhenOpen(t *testing.T) {
	sender := &stubSender{err: errors.New("timeout")}
	cb := newTestBreaker(2, time.Minute)
	p := NewProtectedProvider(sender, cb, zap.NewNop())

	ctx := context.Background()
	directive := provider.Directive{Kind: provider.Broadcast}

	for i := 0; i < 2; i++ {
		_, _ = p.Send(ctx, directive, provider.Content{})
	}
	if cb.GetState() != StateOpen {
		t.Fatalf("expected open circuit, got %v", cb.GetState())
	}

	_, err := p.Send(ctx, directive, provider.Content{})
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}
	if sender.calls != 2 {
		t.Errorf("open circuit must not call the provider, calls=%d", sender.calls)
	}
}

func TestProtectedProvider_RejectedDeliveryCountsAsFailure(t *testing.T) {
	// The adapter returns rejections as results, not errors; the breaker
	// still has to see them as provider failures.
	sender := &stubSender{result: &provider.DeliveryResult{Success: false, StatusCode: 500}}
	cb := newTestBreaker(1, time.Minute)
	p := NewProtectedProvider(sender, cb, zap.NewNop())

	_, err := p.Send(context.Background(), provider.Directive{Kind: provider.Broadcast}, provider.Content{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cb.GetState() != StateOpen {
		t.Fatalf("rejected delivery should trip the breaker, got %v", cb.GetState())
	}
}
