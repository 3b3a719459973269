package queue

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeChannel struct {
	exchange, key string
	msg           amqp.Publishing
	err           error
}

func (f *fakeChannel) PublishWithContext(_ context.Context, exchange, key string, _, _ bool, msg amqp.Publishing) error {
	f.exchange, f.key, f.msg = exchange, key, msg
	return f.err
}

func TestPublishMessage(t *testing.T) {
	ch := &fakeChannel{}
	err := PublishMessage(context.Background(), ch, "reports", "report.created", "evt-1", map[string]any{"id": 42})
	require.NoError(t, err)

	assert.Equal(t, "reports", ch.exchange)
	assert.Equal(t, "report.created", ch.key)
	assert.Equal(t, "evt-1", ch.msg.MessageId)
	assert.Equal(t, uint8(amqp.Persistent), ch.msg.DeliveryMode)

	var body map[string]any
	require.NoError(t, json.Unmarshal(ch.msg.Body, &body))
	assert.Equal(t, float64(42), body["id"])
}

func TestPublishMessageErrors(t *testing.T) {
	ch := &fakeChannel{err: errors.New("channel closed")}
	err := PublishMessage(context.Background(), ch, "reports", "k", "", struct{}{})
	assert.ErrorContains(t, err, "channel closed")

	err = PublishMessage(context.Background(), &fakeChannel{}, "reports", "k", "", make(chan int))
	assert.ErrorContains(t, err, "marshal")
}
