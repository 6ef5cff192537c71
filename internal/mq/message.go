package mq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// ErrMalformedMessage — тело сообщения не разбирается в TaskMessage.
var ErrMalformedMessage = errors.New("malformed task message")

// HeaderRedeliveryCount — заголовок со счётчиком повторных публикаций.
const HeaderRedeliveryCount = "x-redelivery-count"

// TaskMessage — сообщение о готовом task.
type TaskMessage struct {
	TaskID uuid.UUID `json:"taskId"`
	RunID  uuid.UUID `json:"runId"`
	Name   string    `json:"name"`
	Type   string    `json:"type"`
}

// Encode сериализует сообщение в JSON.
func (m TaskMessage) Encode() ([]byte, error) {
	body, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshal task message: %w", err)
	}
	return body, nil
}

// DecodeTaskMessage разбирает тело сообщения.
// Возвращает ErrMalformedMessage, если JSON битый или нет идентификаторов.
func DecodeTaskMessage(body []byte) (TaskMessage, error) {
	var m TaskMessage
	if err := json.Unmarshal(body, &m); err != nil {
		return TaskMessage{}, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	if m.TaskID == uuid.Nil || m.RunID == uuid.Nil {
		return TaskMessage{}, fmt.Errorf("%w: missing taskId or runId", ErrMalformedMessage)
	}
	return m, nil
}

// Outcome — решение обработчика о судьбе сообщения.
type Outcome int

const (
	// OutcomeAck — сообщение обработано (или дубликат), удалить из очереди.
	OutcomeAck Outcome = iota

	// OutcomeRequeue — временная ошибка инфраструктуры, доставить ещё раз.
	// После MaxRedeliveries сообщение уходит в dead-letter очередь.
	OutcomeRequeue

	// OutcomeReject — сообщение обработать невозможно, сразу в dead-letter.
	OutcomeReject
)

// String возвращает строковое представление Outcome.
func (o Outcome) String() string {
	switch o {
	case OutcomeAck:
		return "ack"
	case OutcomeRequeue:
		return "requeue"
	case OutcomeReject:
		return "reject"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Handler обрабатывает одно сообщение и сообщает, что с ним делать.
type Handler func(ctx context.Context, msg TaskMessage) Outcome

// Publisher — то, что умеет опубликовать готовый task.
type Publisher interface {
	PublishTask(ctx context.Context, msg TaskMessage) error
}

// Subscriber — то, что доставляет сообщения обработчику до отмены ctx.
type Subscriber interface {
	Consume(ctx context.Context, handler Handler) error
}
