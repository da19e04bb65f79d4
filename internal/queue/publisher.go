package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

type RabbitMQPublisher struct {
	client *RabbitMQ
}

func NewRabbitMQPublisher(client *RabbitMQ) *RabbitMQPublisher {
	return &RabbitMQPublisher{client: client}
}

func (p *RabbitMQPublisher) Publish(ctx context.Context, msg ItemMessage) error {
	_, err := p.PublishAll(ctx, []ItemMessage{msg})
	return err
}

func (p *RabbitMQPublisher) PublishAll(ctx context.Context, msgs []ItemMessage) (int, error) {
	if p == nil || p.client == nil {
		return 0, fmt.Errorf("publisher is not initialized")
	}
	if len(msgs) == 0 {
		return 0, nil
	}

	ch, err := p.client.channel(ctx)
	if err != nil {
		return 0, err
	}
	defer ch.Close()

	for i, msg := range msgs {
		if err := publishOne(ctx, ch, msg); err != nil {
			return i, err
		}
	}

	return len(msgs), nil
}

func publishOne(ctx context.Context, ch *amqp.Channel, msg ItemMessage) error {
	if err := msg.Validate(); err != nil {
		return fmt.Errorf("invalid item message: %w", err)
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal item message: %w", err)
	}

	publishing := amqp.Publishing{
		ContentType:   "application/json",
		DeliveryMode:  amqp.Persistent,
		Timestamp:     time.Now().UTC(),
		MessageId:     msg.messageID(),
		CorrelationId: msg.CorrelationID,
		Body:          payload,
	}

	if err := ch.PublishWithContext(ctx, "", ItemQueueName, false, false, publishing); err != nil {
		return fmt.Errorf("failed to publish message to queue %q: %w", ItemQueueName, err)
	}

	return nil
}

func (p *RabbitMQPublisher) Close() error {
	if p == nil || p.client == nil {
		return nil
	}
	return p.client.Close()
}
