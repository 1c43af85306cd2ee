package circuitbreaker

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/heraldhq/herald/internal/adapter"
	"github.com/heraldhq/herald/internal/store"
)

// ProtectedAdapter wraps a channel adapter with a circuit breaker.
// While the circuit is open, Send fails fast with ErrCircuitOpen, which
// the dispatch engine treats as a transient failure: the job is
// requeued with backoff instead of holding a worker on a dead provider.
type ProtectedAdapter struct {
	adapter adapter.Adapter
	breaker *CircuitBreaker
	logger  *zap.Logger
}

// Protect wraps an adapter with circuit breaker protection.
func Protect(a adapter.Adapter, breaker *CircuitBreaker, logger *zap.Logger) *ProtectedAdapter {
	return &ProtectedAdapter{
		adapter: a,
		breaker: breaker,
		logger:  logger,
	}
}

// Send attempts delivery through the circuit breaker. Permanent
// failures concern the recipient, not provider health, so they do not
// count toward opening the circuit.
func (p *ProtectedAdapter) Send(ctx context.Context, n *store.Notification) error {
	if !p.breaker.Allow() {
		p.logger.Warn("circuit breaker rejected delivery attempt",
			zap.String("breaker", p.breaker.config.Name),
			zap.Int64("notification_id", n.ID),
			zap.String("state", p.breaker.GetState().String()),
		)
		return fmt.Errorf("%w: %s provider unavailable", ErrCircuitOpen, p.breaker.config.Name)
	}

	err := p.adapter.Send(ctx, n)
	switch {
	case err == nil:
		p.breaker.RecordSuccess()
	case adapter.IsPermanent(err):
		p.breaker.RecordSuccess()
	default:
		p.breaker.RecordFailure()
		p.logger.Debug("circuit breaker recorded failure",
			zap.String("breaker", p.breaker.config.Name),
			zap.Error(err),
		)
	}

	return err
}

// Channel delegates to the underlying adapter.
func (p *ProtectedAdapter) Channel() store.Channel {
	return p.adapter.Channel()
}

// Breaker returns the underlying circuit breaker for monitoring.
func (p *ProtectedAdapter) Breaker() *CircuitBreaker {
	return p.breaker
}
