package mq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	amqp "github.com/rabbitmq/amqp091-go"
	"golang.org/x/sync/errgroup"

	"github.com/shaiso/Taskflow/internal/telemetry"
)

// ConsumerConfig — конфигурация Consumer.
type ConsumerConfig struct {
	// Queue — имя очереди.
	Queue string

	// Prefetch — сколько неподтверждённых сообщений держит воркер;
	// столько же обрабатывается параллельно.
	Prefetch int

	// MaxRedeliveries — лимит повторных доставок после OutcomeRequeue.
	MaxRedeliveries int
}

// Consumer потребляет сообщения из очереди RabbitMQ.
//
// Ack только после того, как обработчик вернул OutcomeAck.
// OutcomeRequeue переиздаёт сообщение с увеличенным счётчиком в заголовке;
// после MaxRedeliveries, как и при OutcomeReject, сообщение уходит в DLX.
type Consumer struct {
	conn      *Connection
	publisher *AMQPPublisher
	logger    *slog.Logger
	cfg       ConsumerConfig
}

// NewConsumer создаёт новый Consumer.
// publisher нужен для повторной публикации в тот же exchange.
func NewConsumer(conn *Connection, publisher *AMQPPublisher, logger *slog.Logger, cfg ConsumerConfig) *Consumer {
	if cfg.Queue == "" {
		cfg.Queue = DefaultQueue
	}
	if cfg.Prefetch <= 0 {
		cfg.Prefetch = DefaultPrefetch
	}
	if cfg.MaxRedeliveries <= 0 {
		cfg.MaxRedeliveries = DefaultMaxRedeliveries
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Consumer{
		conn:      conn,
		publisher: publisher,
		logger:    logger.With("module", "consumer", "queue", cfg.Queue),
		cfg:       cfg,
	}
}

// Consume доставляет сообщения handler до отмены ctx.
// При разрыве соединения ждёт переподключения и продолжает.
func (c *Consumer) Consume(ctx context.Context, handler Handler) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		deliveries, err := c.setupConsume()
		if err != nil {
			c.logger.Error("failed to setup consume", "error", err)
			if err := c.waitReconnect(ctx); err != nil {
				return err
			}
			continue
		}

		c.logger.Info("consumer started", "prefetch", c.cfg.Prefetch)

		if err := c.processDeliveries(ctx, deliveries, handler); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.logger.Warn("deliveries channel closed, waiting for reconnect")
			if err := c.waitReconnect(ctx); err != nil {
				return err
			}
		}
	}
}

func (c *Consumer) waitReconnect(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-c.conn.ReconnectNotify():
		return nil
	}
}

func (c *Consumer) setupConsume() (<-chan amqp.Delivery, error) {
	ch := c.conn.Channel()
	if ch == nil {
		return nil, ErrNoChannel
	}

	if err := ch.Qos(c.cfg.Prefetch, 0, false); err != nil {
		return nil, fmt.Errorf("set qos: %w", err)
	}

	deliveries, err := ch.Consume(
		c.cfg.Queue, // queue
		"",          // consumer tag (auto-generated)
		false,       // auto-ack (ack вручную)
		false,       // exclusive
		false,       // no-local
		false,       // no-wait
		nil,         // args
	)
	if err != nil {
		return nil, fmt.Errorf("consume: %w", err)
	}
	return deliveries, nil
}

// processDeliveries обрабатывает до Prefetch сообщений параллельно.
func (c *Consumer) processDeliveries(ctx context.Context, deliveries <-chan amqp.Delivery, handler Handler) error {
	var g errgroup.Group
	g.SetLimit(c.cfg.Prefetch)
	defer g.Wait() //nolint:errcheck

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case raw, ok := <-deliveries:
			if !ok {
				return errors.New("deliveries channel closed")
			}
			g.Go(func() error {
				c.handleDelivery(ctx, raw, handler)
				return nil
			})
		}
	}
}

// handleDelivery применяет Outcome обработчика к одному сообщению.
func (c *Consumer) handleDelivery(ctx context.Context, raw amqp.Delivery, handler Handler) {
	msg, err := DecodeTaskMessage(raw.Body)
	if err != nil {
		c.logger.Error("dropping malformed message", "error", err, "body", string(raw.Body))
		c.deadLetter(raw, "malformed")
		return
	}

	outcome := handler(ctx, msg)
	switch outcome {
	case OutcomeAck:
		if err := raw.Ack(false); err != nil {
			c.logger.Warn("ack failed", "task_id", msg.TaskID, "error", err)
		}
	case OutcomeReject:
		c.deadLetter(raw, "rejected")
	case OutcomeRequeue:
		c.requeue(ctx, raw, msg)
	default:
		c.logger.Error("unknown outcome, requeueing", "outcome", outcome)
		c.requeue(ctx, raw, msg)
	}
}

// requeue переиздаёт сообщение с увеличенным счётчиком доставок.
func (c *Consumer) requeue(ctx context.Context, raw amqp.Delivery, msg TaskMessage) {
	count := redeliveryCount(raw.Headers) + 1
	if count > c.cfg.MaxRedeliveries {
		c.logger.Warn("redelivery limit reached", "task_id", msg.TaskID, "redeliveries", count-1)
		c.deadLetter(raw, "redelivery_limit")
		return
	}

	headers := amqp.Table{HeaderRedeliveryCount: int32(count)}
	if err := c.publisher.publish(ctx, raw.RoutingKey, raw.Body, headers); err != nil {
		// Переиздать не удалось — возвращаем оригинал брокеру.
		c.logger.Warn("republish failed, nacking with requeue", "task_id", msg.TaskID, "error", err)
		if err := raw.Nack(false, true); err != nil {
			c.logger.Warn("nack failed", "task_id", msg.TaskID, "error", err)
		}
		return
	}

	if err := raw.Ack(false); err != nil {
		c.logger.Warn("ack after republish failed", "task_id", msg.TaskID, "error", err)
	}
}

func (c *Consumer) deadLetter(raw amqp.Delivery, reason string) {
	telemetry.DeadLettered.WithLabelValues(reason).Inc()
	if err := raw.Nack(false, false); err != nil {
		c.logger.Warn("nack to dead-letter failed", "error", err)
	}
}

// redeliveryCount читает счётчик из заголовков (тип зависит от клиента-публикатора).
func redeliveryCount(headers amqp.Table) int {
	switch v := headers[HeaderRedeliveryCount].(type) {
	case int32:
		return int(v)
	case int64:
		return int(v)
	case int:
		return v
	case int16:
		return int(v)
	case int8:
		return int(v)
	default:
		return 0
	}
}
