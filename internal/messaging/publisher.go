package messaging

import (
	"context"
	"encoding/json"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// ImageTaskPublisher enqueues illustration jobs for the image worker.
type ImageTaskPublisher interface {
	Publish(ctx context.Context, payload ImageTaskPayload) error
	Close() error
}

type rabbitMQPublisher struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	logger  *zap.Logger
}

// NewRabbitMQPublisher opens a channel on the given connection and declares
// the image task queue together with its dead-letter topology.
func NewRabbitMQPublisher(conn *amqp.Connection, logger *zap.Logger) (ImageTaskPublisher, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to open rabbitmq channel: %w", err)
	}

	if err := DeclareImageTaskTopology(ch); err != nil {
		ch.Close()
		return nil, err
	}

	return &rabbitMQPublisher{
		conn:    conn,
		channel: ch,
		logger:  logger.Named("RabbitMQPublisher"),
	}, nil
}

// DeclareImageTaskTopology declares the task queue, its dead-letter exchange
// and the DLQ. Both publisher and worker call this so either side can start
// first.
func DeclareImageTaskTopology(ch *amqp.Channel) error {
	if err := ch.ExchangeDeclare(ImageTaskDLX, "direct", true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare DLX '%s': %w", ImageTaskDLX, err)
	}

	dlq, err := ch.QueueDeclare(ImageTaskDLQ, true, false, false, false, amqp.Table{
		"x-queue-mode": "lazy",
	})
	if err != nil {
		return fmt.Errorf("failed to declare DLQ '%s': %w", ImageTaskDLQ, err)
	}
	if err := ch.QueueBind(dlq.Name, ImageTaskDLQRouting, ImageTaskDLX, false, nil); err != nil {
		return fmt.Errorf("failed to bind DLQ '%s': %w", ImageTaskDLQ, err)
	}

	_, err = ch.QueueDeclare(ImageTaskQueue, true, false, false, false, amqp.Table{
		"x-dead-letter-exchange":    ImageTaskDLX,
		"x-dead-letter-routing-key": ImageTaskDLQRouting,
	})
	if err != nil {
		return fmt.Errorf("failed to declare queue '%s': %w", ImageTaskQueue, err)
	}
	return nil
}

func (p *rabbitMQPublisher) Publish(ctx context.Context, payload ImageTaskPayload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal image task payload: %w", err)
	}

	err = p.channel.PublishWithContext(ctx,
		"",             // default exchange
		ImageTaskQueue, // routing key
		false,          // mandatory
		false,          // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    payload.TaskID,
			Body:         body,
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish image task '%s': %w", payload.TaskID, err)
	}

	p.logger.Debug("Image task published",
		zap.String("taskID", payload.TaskID),
		zap.Stringer("segmentID", payload.SegmentID))
	return nil
}

func (p *rabbitMQPublisher) Close() error {
	if p.channel != nil {
		return p.channel.Close()
	}
	return nil
}
