// Package api — HTTP API администрирования Taskflow.
//
// Через API загружают workflows (YAML или JSON), запускают runs вручную
// и смотрят их состояние вместе с tasks. Ответы имеют вид {"data": ...}
// или {"error": {"code", "message"}}. Сами tasks API не выполняет:
// этим заняты dispatcher и worker.
package api
