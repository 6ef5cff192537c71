package mq

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	"github.com/shaiso/Taskflow/internal/telemetry"
)

// Ключи metadata в сообщениях MemoryBus.
const (
	metaRoutingKey = "routing_key"
	metaRedelivery = HeaderRedeliveryCount
)

// ErrBusClosed — шина уже закрыта.
var ErrBusClosed = errors.New("memory bus closed")

// MemoryBusConfig — конфигурация MemoryBus.
type MemoryBusConfig struct {
	// Topic — имя топика gochannel, аналог очереди.
	Topic string

	// Binding — шаблон routing key; несовпадающие сообщения отбрасываются.
	Binding string

	// MaxRedeliveries — лимит повторных доставок.
	MaxRedeliveries int
}

// MemoryBus — шина задач в памяти процесса поверх watermill gochannel.
// Используется только в тестах; бинарники работают с RabbitMQ.
//
// С RabbitMQ совпадают routing по binding, повторная публикация на
// OutcomeRequeue и dead-letter после лимита. Остальное отличается:
//   - каждый Consume получает все сообщения топика (fan-out), а не делит
//     очередь с другими потребителями, поэтому несколько воркеров видят
//     дубликаты и полагаются на условный захват task;
//   - Persistent хранит всю историю топика, и новый подписчик получает её
//     целиком, включая уже обработанные сообщения;
//   - ограничения prefetch нет.
type MemoryBus struct {
	pubSub *gochannel.GoChannel
	cfg    MemoryBusConfig
	logger *slog.Logger

	mu          sync.Mutex
	deadLetters []TaskMessage
	closed      bool
}

// NewMemoryBus создаёт новый MemoryBus.
func NewMemoryBus(cfg MemoryBusConfig, logger *slog.Logger) *MemoryBus {
	if cfg.Topic == "" {
		cfg.Topic = DefaultQueue
	}
	if cfg.Binding == "" {
		cfg.Binding = DefaultBinding
	}
	if cfg.MaxRedeliveries <= 0 {
		cfg.MaxRedeliveries = DefaultMaxRedeliveries
	}
	if logger == nil {
		logger = slog.Default()
	}

	pubSub := gochannel.NewGoChannel(
		gochannel.Config{
			OutputChannelBuffer:            256,
			Persistent:                     true,
			BlockPublishUntilSubscriberAck: false,
		},
		watermill.NewSlogLogger(logger),
	)

	return &MemoryBus{
		pubSub: pubSub,
		cfg:    cfg,
		logger: logger.With("module", "memory_bus"),
	}
}

// PublishTask публикует сообщение, если его routing key подходит под binding.
func (b *MemoryBus) PublishTask(_ context.Context, msg TaskMessage) error {
	body, err := msg.Encode()
	if err != nil {
		return err
	}
	return b.publish(RoutingKey(msg.Type), body, 0)
}

func (b *MemoryBus) publish(routingKey string, body []byte, redeliveries int) error {
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return ErrBusClosed
	}

	if !MatchRoutingKey(b.cfg.Binding, routingKey) {
		// Как и exchange без подходящего binding: сообщение теряется.
		b.logger.Warn("unroutable message dropped", "routing_key", routingKey)
		return nil
	}

	m := message.NewMessage(watermill.NewUUID(), body)
	m.Metadata.Set(metaRoutingKey, routingKey)
	m.Metadata.Set(metaRedelivery, strconv.Itoa(redeliveries))

	return b.pubSub.Publish(b.cfg.Topic, m)
}

// Consume доставляет сообщения handler до отмены ctx.
// Сообщения одной подписки обрабатываются по одному.
func (b *MemoryBus) Consume(ctx context.Context, handler Handler) error {
	messages, err := b.pubSub.Subscribe(ctx, b.cfg.Topic)
	if err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case m, ok := <-messages:
			if !ok {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return ErrBusClosed
			}
			b.handle(ctx, m, handler)
		}
	}
}

func (b *MemoryBus) handle(ctx context.Context, m *message.Message, handler Handler) {
	// gochannel не отдаёт следующее сообщение, пока текущее не подтверждено.
	defer m.Ack()

	msg, err := DecodeTaskMessage(m.Payload)
	if err != nil {
		b.logger.Error("dropping malformed message", "error", err)
		b.deadLetter(TaskMessage{}, "malformed")
		return
	}

	switch outcome := handler(ctx, msg); outcome {
	case OutcomeAck:
	case OutcomeReject:
		b.deadLetter(msg, "rejected")
	default:
		count, _ := strconv.Atoi(m.Metadata.Get(metaRedelivery))
		count++
		if count > b.cfg.MaxRedeliveries {
			b.logger.Warn("redelivery limit reached", "task_id", msg.TaskID, "redeliveries", count-1)
			b.deadLetter(msg, "redelivery_limit")
			return
		}
		if err := b.publish(m.Metadata.Get(metaRoutingKey), m.Payload, count); err != nil {
			b.logger.Warn("republish failed", "task_id", msg.TaskID, "error", err)
		}
	}
}

func (b *MemoryBus) deadLetter(msg TaskMessage, reason string) {
	telemetry.DeadLettered.WithLabelValues(reason).Inc()

	b.mu.Lock()
	b.deadLetters = append(b.deadLetters, msg)
	b.mu.Unlock()
}

// DeadLetters возвращает копию сообщений, ушедших в dead-letter.
func (b *MemoryBus) DeadLetters() []TaskMessage {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]TaskMessage, len(b.deadLetters))
	copy(out, b.deadLetters)
	return out
}

// Close закрывает шину; активные Consume завершаются.
func (b *MemoryBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	return b.pubSub.Close()
}

var (
	_ Publisher  = (*MemoryBus)(nil)
	_ Subscriber = (*MemoryBus)(nil)
	_ Publisher  = (*AMQPPublisher)(nil)
	_ Subscriber = (*Consumer)(nil)
)
