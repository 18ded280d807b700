package circuitbreaker

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/emlakpanel/pushgate/internal/provider"
)

// ProtectedProvider wraps a provider.Sender with a CircuitBreaker.
// When the provider starts failing, the circuit opens and event-driven
// dispatches fail fast instead of piling up behind a dead API.
//
// A rejected DeliveryResult (Success=false) counts as a failure even though
// the adapter returns it without an error: the breaker tracks provider
// health, not transport health.
type ProtectedProvider struct {
	sender  provider.Sender
	breaker *CircuitBreaker
	logger  *zap.Logger
}

// NewProtectedProvider wraps a provider with circuit breaker protection.
func NewProtectedProvider(sender provider.Sender, breaker *CircuitBreaker, logger *zap.Logger) *ProtectedProvider {
	return &ProtectedProvider{
		sender:  sender,
		breaker: breaker,
		logger:  logger,
	}
}

func (p *ProtectedProvider) Name() string {
	return p.sender.Name()
}

func (p *ProtectedProvider) Ready() error {
	return p.sender.Ready()
}

// Send attempts a delivery through the circuit breaker.
// If the circuit is open, returns ErrCircuitOpen immediately (fail fast).
func (p *ProtectedProvider) Send(ctx context.Context, directive provider.Directive, content provider.Content) (*provider.DeliveryResult, error) {
	if !p.breaker.Allow() {
		p.logger.Warn("circuit breaker rejected dispatch",
			zap.String("breaker", p.breaker.config.Name),
			zap.String("provider", p.sender.Name()),
			zap.String("state", p.breaker.GetState().String()),
		)
		return nil, fmt.Errorf("%w: %s unavailable", ErrCircuitOpen, p.sender.Name())
	}

	result, err := p.sender.Send(ctx, directive, content)
	if err != nil || !result.Success {
		p.breaker.RecordFailure()
		return result, err
	}

	p.breaker.RecordSuccess()
	return result, nil
}
