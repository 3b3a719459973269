package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

const connectMaxElapsed = 60 * time.Second

func newConnectBackoff() backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = connectMaxElapsed
	return bo
}

// ConnectRabbitMQ dials uri, retrying with exponential backoff while the
// broker is still starting.
func ConnectRabbitMQ(ctx context.Context, uri string, logger *zap.Logger) (*amqp.Connection, *amqp.Channel, error) {
	var conn *amqp.Connection
	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		c, err := amqp.Dial(uri)
		if err != nil {
			logger.Warn("rabbitmq not reachable yet", zap.Int("attempt", attempt), zap.Error(err))
			return err
		}
		conn = c
		return nil
	}, backoff.WithContext(newConnectBackoff(), ctx))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to rabbitmq: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("failed to open channel: %w", err)
	}

	logger.Info("connected to rabbitmq", zap.Int("attempts", attempt))
	return conn, ch, nil
}

// DeclareExchange declares a durable topic exchange.
func DeclareExchange(ch *amqp.Channel, exchange string) error {
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare exchange %s: %w", exchange, err)
	}
	return nil
}

// ConsumeMessages declares a durable queue bound to exchange under every
// key and starts a manual-ack consumer on it.
func ConsumeMessages(ch *amqp.Channel, queueName, exchange string, keys ...string) (<-chan amqp.Delivery, error) {
	if err := DeclareExchange(ch, exchange); err != nil {
		return nil, err
	}

	q, err := ch.QueueDeclare(queueName, true, false, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to declare queue: %w", err)
	}
	for _, key := range keys {
		if err := ch.QueueBind(q.Name, key, exchange, false, nil); err != nil {
			return nil, fmt.Errorf("failed to bind queue to %s: %w", key, err)
		}
	}

	if err := ch.Qos(10, 0, false); err != nil {
		return nil, fmt.Errorf("failed to set qos: %w", err)
	}

	msgs, err := ch.Consume(q.Name, "", false, false, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to register consumer: %w", err)
	}
	return msgs, nil
}
