package circuitbreaker

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/coinpulse/herald/internal/db"
)

// Transport mirrors the dispatch.Transport interface to avoid circular imports.
type Transport interface {
	Deliver(ctx context.Context, entry *db.DeliveryLogEntry, notif *db.Notification) error
	SupportsChannel(channel db.Channel) bool
}

// ProtectedTransport wraps a Transport with a CircuitBreaker. When the
// downstream provider (SES, SNS, the push relay) starts failing, the circuit
// opens and hand-offs fail fast; the delivery rows stay pending for the
// external provider path, so nothing is lost.
type ProtectedTransport struct {
	transport Transport
	breaker   *CircuitBreaker
	logger    *zap.Logger
}

// NewProtectedTransport wraps a transport with circuit breaker protection.
func NewProtectedTransport(transport Transport, breaker *CircuitBreaker, logger *zap.Logger) *ProtectedTransport {
	return &ProtectedTransport{
		transport: transport,
		breaker:   breaker,
		logger:    logger,
	}
}

// Deliver attempts the hand-off through the circuit breaker.
// If the circuit is open, returns ErrCircuitOpen immediately.
func (p *ProtectedTransport) Deliver(ctx context.Context, entry *db.DeliveryLogEntry, notif *db.Notification) error {
	if !p.breaker.Allow() {
		p.logger.Warn("circuit breaker rejected hand-off",
			zap.String("breaker", p.breaker.config.Name),
			zap.String("delivery_id", entry.ID.String()),
			zap.String("channel", string(entry.Channel)),
			zap.String("state", p.breaker.GetState().String()),
		)
		return fmt.Errorf("%w: %s transport unavailable", ErrCircuitOpen, p.breaker.config.Name)
	}

	err := p.transport.Deliver(ctx, entry, notif)
	if err != nil {
		p.breaker.RecordFailure()
		p.logger.Debug("circuit breaker recorded failure",
			zap.String("breaker", p.breaker.config.Name),
			zap.Error(err),
		)
		return err
	}

	p.breaker.RecordSuccess()
	return nil
}

// SupportsChannel delegates to the underlying transport.
func (p *ProtectedTransport) SupportsChannel(channel db.Channel) bool {
	return p.transport.SupportsChannel(channel)
}

// Breaker returns the underlying circuit breaker for metrics/monitoring.
func (p *ProtectedTransport) Breaker() *CircuitBreaker {
	return p.breaker
}
