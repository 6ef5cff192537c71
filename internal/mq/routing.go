package mq

import "strings"

// Значения по умолчанию для топологии шины.
const (
	DefaultExchange = "scheduler.tasks"
	DefaultQueue    = "tasks.all"
	DefaultBinding  = "task.*"
	DefaultPrefetch = 20

	// DefaultMaxRedeliveries — сколько раз сообщение возвращается в очередь
	// после временных ошибок, прежде чем уйти в dead-letter.
	DefaultMaxRedeliveries = 5
)

// RoutingKey возвращает ключ маршрутизации для типа task.
func RoutingKey(taskType string) string {
	return "task." + taskType
}

// MatchRoutingKey проверяет ключ на соответствие topic-шаблону AMQP.
// "*" — ровно одно слово, "#" — ноль или больше слов.
func MatchRoutingKey(pattern, key string) bool {
	return matchWords(strings.Split(pattern, "."), strings.Split(key, "."))
}

func matchWords(pattern, key []string) bool {
	for len(pattern) > 0 {
		switch pattern[0] {
		case "#":
			rest := pattern[1:]
			for i := 0; i <= len(key); i++ {
				if matchWords(rest, key[i:]) {
					return true
				}
			}
			return false
		case "*":
			if len(key) == 0 {
				return false
			}
		default:
			if len(key) == 0 || key[0] != pattern[0] {
				return false
			}
		}
		pattern, key = pattern[1:], key[1:]
	}
	return len(key) == 0
}
