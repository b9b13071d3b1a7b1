package redis

import (
	"context"
	"time"

	"policy-core/internal/client"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const policyChannel = "policy_core:policy:invalidate"

// Invalidator drops a locally cached policy copy.
type Invalidator interface {
	Invalidate()
}

// PolicyBroadcast tells other instances that the stored policy changed.
type PolicyBroadcast struct {
	client  *client.RedisClient
	origin  string
	timeout time.Duration
	logger  *zap.Logger
}

func NewPolicyBroadcast(client *client.RedisClient, logger *zap.Logger) *PolicyBroadcast {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PolicyBroadcast{
		client:  client,
		origin:  uuid.NewString(),
		timeout: 2 * time.Second,
		logger:  logger,
	}
}

// Invalidate publishes a change notice. Failures are logged; peers fall back
// to their cache TTL.
func (b *PolicyBroadcast) Invalidate() {
	ctx, cancel := context.WithTimeout(context.Background(), b.timeout)
	defer cancel()
	if err := b.client.Publish(ctx, policyChannel, b.origin); err != nil {
		b.logger.Warn("Failed to publish policy invalidation", zap.Error(err))
	}
}

// Listen calls target.Invalidate for every notice published by another
// instance until ctx is done. ready is closed once the subscription is live.
func (b *PolicyBroadcast) Listen(ctx context.Context, target Invalidator, ready chan<- struct{}) error {
	sub := b.client.Subscribe(ctx, policyChannel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return err
	}
	if ready != nil {
		close(ready)
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			if msg.Payload == b.origin {
				continue
			}
			target.Invalidate()
			b.logger.Debug("Policy cache invalidated by peer")
		}
	}
}
