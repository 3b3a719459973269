package sink

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"civic-issue-tracker/pkg/events"
	"civic-issue-tracker/pkg/queue"
	"civic-issue-tracker/services/report-service/lifecycle"
)

// Publisher publishes each event on the reports exchange. An amqp channel is
// not safe for concurrent use, so publishes are serialized.
type Publisher struct {
	mu       sync.Mutex
	ch       queue.Channel
	exchange string
	logger   *zap.Logger
}

func NewPublisher(ch queue.Channel, logger *zap.Logger) *Publisher {
	return &Publisher{ch: ch, exchange: events.Exchange, logger: logger}
}

func (p *Publisher) Emit(ctx context.Context, evs []lifecycle.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, ev := range evs {
		wire := ToWire(ev)
		if err := queue.PublishMessage(ctx, p.ch, p.exchange, wire.RoutingKey(), wire.ID, wire); err != nil {
			p.logger.Error("failed to publish lifecycle event",
				zap.String("action", wire.Action),
				zap.Int64("resource_id", wire.ResourceID),
				zap.Error(err))
		}
	}
}
