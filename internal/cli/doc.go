// Package cli реализует инструмент командной строки Taskflow.
//
// CLI — клиент для admin API. Работает через HTTP и не импортирует
// внутренние пакеты системы: типы ответов продублированы в client.go.
//
// Команды организованы по ресурсам:
//   - workflow: apply, list, show
//   - run: trigger, list, show
//
// Каждая группа создаётся фабрикой (NewWorkflowCmd, NewRunCmd), которая
// принимает clientFn и outputFn. Замыкания создают Client и Output лениво,
// после разбора PersistentFlags (--api-url, --json).
//
// Данные выводятся в stdout (таблица или JSON), сообщения в stderr:
//
//	taskflow run list --json | jq '.[].status'
package cli
