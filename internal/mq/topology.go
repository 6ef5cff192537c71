package mq

import (
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Topology — имена exchange, очередей и шаблон привязки.
type Topology struct {
	// Exchange — durable topic exchange для готовых tasks.
	Exchange string

	// Queue — рабочая очередь воркеров.
	Queue string

	// Binding — topic-шаблон привязки Queue к Exchange.
	Binding string

	// DeadLetterExchange — fanout exchange для отброшенных сообщений.
	DeadLetterExchange string

	// DeadLetterQueue — очередь для ручного разбора.
	DeadLetterQueue string
}

// DefaultTopology возвращает топологию по умолчанию.
func DefaultTopology() Topology {
	return Topology{}.withDefaults()
}

func (t Topology) withDefaults() Topology {
	if t.Exchange == "" {
		t.Exchange = DefaultExchange
	}
	if t.Queue == "" {
		t.Queue = DefaultQueue
	}
	if t.Binding == "" {
		t.Binding = DefaultBinding
	}
	if t.DeadLetterExchange == "" {
		t.DeadLetterExchange = t.Exchange + ".dlx"
	}
	if t.DeadLetterQueue == "" {
		t.DeadLetterQueue = "tasks.dlq"
	}
	return t
}

// SetupTopology объявляет exchanges, очереди и привязки. Идемпотентна.
//
//	<exchange> (topic) ──<binding>──▶ <queue> ──nack/reject──▶ <dlx> (fanout) ──▶ <dlq>
func SetupTopology(conn *Connection, topo Topology) error {
	topo = topo.withDefaults()

	return conn.WithChannel(func(ch *amqp.Channel) error {
		exchanges := []struct {
			name string
			kind string
		}{
			{topo.Exchange, amqp.ExchangeTopic},
			{topo.DeadLetterExchange, amqp.ExchangeFanout},
		}
		for _, ex := range exchanges {
			err := ch.ExchangeDeclare(
				ex.name, // name
				ex.kind, // type
				true,    // durable
				false,   // auto-deleted
				false,   // internal
				false,   // no-wait
				nil,     // arguments
			)
			if err != nil {
				return fmt.Errorf("declare exchange %s: %w", ex.name, err)
			}
		}

		queues := []struct {
			name string
			args amqp.Table
		}{
			{topo.Queue, amqp.Table{"x-dead-letter-exchange": topo.DeadLetterExchange}},
			{topo.DeadLetterQueue, nil},
		}
		for _, q := range queues {
			if _, err := ch.QueueDeclare(q.name, true, false, false, false, q.args); err != nil {
				return fmt.Errorf("declare queue %s: %w", q.name, err)
			}
		}

		if err := ch.QueueBind(topo.Queue, topo.Binding, topo.Exchange, false, nil); err != nil {
			return fmt.Errorf("bind queue %s to %s: %w", topo.Queue, topo.Exchange, err)
		}
		if err := ch.QueueBind(topo.DeadLetterQueue, "", topo.DeadLetterExchange, false, nil); err != nil {
			return fmt.Errorf("bind queue %s to %s: %w", topo.DeadLetterQueue, topo.DeadLetterExchange, err)
		}
		return nil
	})
}
