// Package telemetry собирает логи, метрики и трейсы сервисов Taskflow.
//
// Логгер настраивается из LOG_LEVEL и LOG_FORMAT и помечает записи
// идентификаторами run, task и workflow. Метрики регистрируются через
// promauto с префиксом taskflow_ и отдаются на /metrics каждого сервиса.
// Трейсинг выключен, пока сервис не запущен с OTEL_ENABLED=true.
package telemetry
