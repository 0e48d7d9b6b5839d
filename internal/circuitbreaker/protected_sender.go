package circuitbreaker

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/lalithlochan/cirrus/internal/digest"
)

// Sender mirrors worker.DigestSender to avoid a circular import.
type Sender interface {
	Send(ctx context.Context, batch *digest.Batch) error
}

// ProtectedSender wraps a digest sender with a breaker so a dead downstream
// fails fast and the batch stays queued for the next flush.
type ProtectedSender struct {
	sender  Sender
	breaker *CircuitBreaker
	logger  *zap.Logger
}

// NewProtectedSender wraps sender with breaker.
func NewProtectedSender(sender Sender, breaker *CircuitBreaker, logger *zap.Logger) *ProtectedSender {
	return &ProtectedSender{
		sender:  sender,
		breaker: breaker,
		logger:  logger,
	}
}

// Send forwards the batch unless the circuit is open.
func (p *ProtectedSender) Send(ctx context.Context, batch *digest.Batch) error {
	if !p.breaker.Allow() {
		p.logger.Warn("circuit breaker rejected digest send",
			zap.String("breaker", p.breaker.config.Name),
			zap.String("user_id", batch.UserID),
			zap.String("state", p.breaker.GetState().String()),
		)
		return fmt.Errorf("%w: %s sender unavailable", ErrCircuitOpen, p.breaker.config.Name)
	}

	if err := p.sender.Send(ctx, batch); err != nil {
		p.breaker.RecordFailure()
		return err
	}

	p.breaker.RecordSuccess()
	return nil
}
