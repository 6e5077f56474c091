package messaging

import (
	"context"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// DeliveryHandler processes one delivery. Returning (requeue=false, err) sends
// the message to the DLQ; returning (requeue=true, err) puts it back on the
// queue for another attempt.
type DeliveryHandler func(ctx context.Context, body []byte) (requeue bool, err error)

// Consumer drains the image task queue and dispatches deliveries to a handler.
type Consumer struct {
	channel *amqp.Channel
	logger  *zap.Logger
}

// NewConsumer opens a channel, declares the queue topology and sets a
// per-worker prefetch of 1 so slow image renders don't starve other workers.
func NewConsumer(conn *amqp.Connection, logger *zap.Logger) (*Consumer, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to open rabbitmq channel: %w", err)
	}

	if err := DeclareImageTaskTopology(ch); err != nil {
		ch.Close()
		return nil, err
	}

	if err := ch.Qos(1, 0, false); err != nil {
		ch.Close()
		return nil, fmt.Errorf("failed to set channel QoS: %w", err)
	}

	return &Consumer{channel: ch, logger: logger.Named("Consumer")}, nil
}

// Run consumes until ctx is canceled or the channel closes.
func (c *Consumer) Run(ctx context.Context, handler DeliveryHandler) error {
	deliveries, err := c.channel.Consume(
		ImageTaskQueue,
		"",    // consumer tag
		false, // auto-ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to start consuming '%s': %w", ImageTaskQueue, err)
	}

	c.logger.Info("Consuming image tasks", zap.String("queue", ImageTaskQueue))

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("delivery channel for '%s' closed", ImageTaskQueue)
			}
			c.dispatch(ctx, d, handler)
		}
	}
}

func (c *Consumer) dispatch(ctx context.Context, d amqp.Delivery, handler DeliveryHandler) {
	requeue, err := handler(ctx, d.Body)
	if err != nil {
		c.logger.Error("Image task handling failed",
			zap.String("messageID", d.MessageId),
			zap.Bool("requeue", requeue),
			zap.Error(err))
		if nackErr := d.Nack(false, requeue); nackErr != nil {
			c.logger.Error("Failed to nack delivery", zap.Error(nackErr))
		}
		return
	}
	if ackErr := d.Ack(false); ackErr != nil {
		c.logger.Error("Failed to ack delivery", zap.Error(ackErr))
	}
}

// Close shuts the channel down.
func (c *Consumer) Close() error {
	if c.channel != nil {
		return c.channel.Close()
	}
	return nil
}
