package circuitbreaker

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/lalithlochan/canteen/internal/metrics"
	"github.com/lalithlochan/canteen/internal/push"
	"github.com/lalithlochan/canteen/internal/subscription"
)

// ProtectedSender decorates a push.Sender with a per-host breaker.
type ProtectedSender struct {
	sender push.Sender
	group  *Group
	logger *zap.Logger
}

// NewProtectedSender wraps sender.
func NewProtectedSender(sender push.Sender, group *Group, logger *zap.Logger) *ProtectedSender {
	return &ProtectedSender{sender: sender, group: group, logger: logger}
}

// Send fails fast with ErrCircuitOpen while the endpoint's host is open.
// A gone endpoint or a client error says nothing about the host's health,
// so only transport errors and 429/5xx count against the breaker.
func (p *ProtectedSender) Send(ctx context.Context, sub subscription.Subscription, payload push.Payload) error {
	host := push.Host(sub.Endpoint)
	b := p.group.For(host)

	if !b.Allow() {
		metrics.RecordBreakerRejection(host)
		p.logger.Debug("push host circuit open, skipping send",
			zap.String("host", host),
			zap.String("subscription_id", sub.ID),
		)
		return fmt.Errorf("%w: %s", ErrCircuitOpen, host)
	}

	err := p.sender.Send(ctx, sub, payload)
	if countsAsFailure(err) {
		b.Failure()
	} else {
		b.Success()
	}
	metrics.SetBreakerState(host, int(b.State()))
	return err
}

// Group returns the breaker group for the admin dashboard.
func (p *ProtectedSender) Group() *Group {
	return p.group
}

func countsAsFailure(err error) bool {
	if err == nil || errors.Is(err, push.ErrGone) {
		return false
	}
	var se *push.StatusError
	if errors.As(err, &se) {
		return se.Transient()
	}
	// A caller cancelling is not the host's fault.
	return !errors.Is(err, context.Canceled)
}
