// Package engine отвечает за приём workflow.
//
// Включает:
//   - parser.go — парсинг WorkflowSpec из YAML/JSON и применение значений по умолчанию
//   - dag.go    — построение DAG и проверка отсутствия циклов
//
// Engine не хранит состояние: он превращает текст спецификации
// в провалидированный граф, который затем материализуется в run.
package engine
