package mq

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// AMQPPublisher публикует готовые tasks в topic exchange RabbitMQ.
type AMQPPublisher struct {
	conn     *Connection
	exchange string
	logger   *slog.Logger
}

// NewPublisher создаёт новый AMQPPublisher.
func NewPublisher(conn *Connection, exchange string, logger *slog.Logger) *AMQPPublisher {
	if exchange == "" {
		exchange = DefaultExchange
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &AMQPPublisher{
		conn:     conn,
		exchange: exchange,
		logger:   logger.With("module", "publisher"),
	}
}

// PublishTask публикует сообщение с routing key "task.<type>".
// Сообщение persistent: переживает рестарт брокера.
func (p *AMQPPublisher) PublishTask(ctx context.Context, msg TaskMessage) error {
	body, err := msg.Encode()
	if err != nil {
		return err
	}
	return p.publish(ctx, RoutingKey(msg.Type), body, nil)
}

// publish отправляет тело как есть; используется и для повторной публикации.
func (p *AMQPPublisher) publish(ctx context.Context, routingKey string, body []byte, headers amqp.Table) error {
	messageID := uuid.NewString()

	return p.conn.WithChannel(func(ch *amqp.Channel) error {
		err := ch.PublishWithContext(
			ctx,
			p.exchange, // exchange
			routingKey, // routing key
			false,      // mandatory
			false,      // immediate
			amqp.Publishing{
				ContentType:  "application/json",
				DeliveryMode: amqp.Persistent,
				MessageId:    messageID,
				Timestamp:    time.Now(),
				Headers:      headers,
				Body:         body,
			},
		)
		if err != nil {
			return fmt.Errorf("publish to %s/%s: %w", p.exchange, routingKey, err)
		}

		p.logger.Debug("published message",
			"exchange", p.exchange,
			"routing_key", routingKey,
			"message_id", messageID,
		)
		return nil
	})
}
