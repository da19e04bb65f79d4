package queue

import "context"

// Publisher publishes item messages to the work queue.
type Publisher interface {
	Publish(ctx context.Context, msg ItemMessage) error
	// PublishAll publishes msgs in order over one channel and reports how many
	// were accepted before the first failure.
	PublishAll(ctx context.Context, msgs []ItemMessage) (int, error)
	Close() error
}

// MessageHandler handles a consumed queue message.
type MessageHandler func(ctx context.Context, msg ItemMessage) error

// Consumer consumes item messages from the work queue.
type Consumer interface {
	Consume(ctx context.Context, handler MessageHandler) error
	Close() error
}

const (
	// ItemQueueName is the durable work queue holding one message per item.
	ItemQueueName = "batch.items"
	// ItemDLQName receives messages that failed twice or could not be decoded.
	ItemDLQName = "dlq." + ItemQueueName

	dlxExchangeName = "batch-engine.dlx"
	itemRoutingKey  = ItemQueueName
)
