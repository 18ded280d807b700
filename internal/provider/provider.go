// Package provider contains the push provider adapters. Each adapter is a
// translation layer: it maps a targeting directive plus content into the
// provider's wire format and normalizes the HTTP response into a
// DeliveryResult. Adapters never retry and never parse provider error bodies.
package provider

import (
	"context"
	"errors"
	"fmt"
)

// Target type values accepted on the wire.
const (
	TargetAll     = "all"
	TargetUser    = "user"
	TargetSegment = "segment"
)

// DirectiveKind is the resolved targeting mode.
type DirectiveKind int

const (
	Broadcast DirectiveKind = iota // provider's "everyone" segment
	ExternalUser                   // a single external user id
	Segment                        // a provider-defined named segment
)

func (k DirectiveKind) String() string {
	switch k {
	case Broadcast:
		return "broadcast"
	case ExternalUser:
		return "user"
	case Segment:
		return "segment"
	default:
		return "unknown"
	}
}

// Directive is the targeting instruction handed to an adapter.
type Directive struct {
	Kind  DirectiveKind
	Value string // user id or segment name; empty for broadcast
}

// Resolve maps a wire-level targetType/targetValue pair to a Directive.
// Unrecognized target types resolve to Broadcast; the second return value
// is false in that case so the caller can log the fallback.
func Resolve(targetType, targetValue string) (Directive, bool) {
	switch targetType {
	case TargetUser:
		return Directive{Kind: ExternalUser, Value: targetValue}, true
	case TargetSegment:
		return Directive{Kind: Segment, Value: targetValue}, true
	case TargetAll:
		return Directive{Kind: Broadcast}, true
	default:
		return Directive{Kind: Broadcast}, false
	}
}

// Content is the provider-agnostic notification body.
type Content struct {
	Title    string
	Message  string
	URL      string
	ImageURL string
	Data     map[string]interface{}
}

// DeliveryResult is the normalized outcome of one provider call.
// ErrorDetail carries the provider's raw response body unmodified; it is
// diagnostic output only and must never drive control flow.
type DeliveryResult struct {
	Success           bool
	StatusCode        int
	ProviderMessageID string
	Recipients        *int
	ErrorDetail       string
	// RawBody is the provider's response body on success, relayed to
	// callers that echo the provider response.
	RawBody []byte
}

// ErrNotConfigured indicates the credentials a provider needs are absent
// from the environment. Detected before any network call.
var ErrNotConfigured = errors.New("provider credentials not configured")

// APIError is a non-2xx provider response, raw body preserved.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("provider returned status %d: %s", e.StatusCode, e.Body)
}

// Sender is the common adapter contract for directive-targeted providers.
// Web Push is deliberately not a Sender: it addresses a raw subscription,
// not a directive, and has no broadcast or segment concept.
type Sender interface {
	Name() string
	// Ready reports whether required credentials are present. Wraps
	// ErrNotConfigured when they are not. Checked before dispatch so a
	// misconfigured deployment fails fast without a provider call.
	Ready() error
	// Send performs exactly one provider HTTP call. A non-2xx response is
	// returned as a DeliveryResult with Success=false, not as an error;
	// errors are reserved for transport failures.
	Send(ctx context.Context, directive Directive, content Content) (*DeliveryResult, error)
}
