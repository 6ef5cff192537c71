// Package mq — шина задач: публикация готовых tasks и их доставка воркерам.
//
// Структура:
//   - message.go    — формат сообщения {taskId, runId, name, type} и Outcome обработки
//   - routing.go    — routing key "task.<type>" и сопоставление с topic-шаблоном
//   - connection.go — соединение с RabbitMQ (reconnect, graceful shutdown)
//   - topology.go   — topic exchange, рабочая очередь и dead-letter очередь
//   - publisher.go  — публикация сообщений в RabbitMQ
//   - consumer.go   — потребление с prefetch, ручным ack и лимитом повторных доставок
//   - memory.go     — шина в памяти поверх watermill gochannel
//
// Доставка at-least-once, порядок не гарантируется. Повторная доставка
// безопасна: воркер захватывает task условным обновлением в БД.
package mq
