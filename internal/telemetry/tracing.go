package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// Ключи атрибутов спанов.
const (
	AttrWorkflowID = "taskflow.workflow.id"
	AttrRunID      = "taskflow.run.id"
	AttrTaskID     = "taskflow.task.id"
	AttrTaskName   = "taskflow.task.name"
	AttrTaskType   = "taskflow.task.type"
	AttrAttempt    = "taskflow.task.attempt"
)

const tracerName = "github.com/shaiso/Taskflow"

// SetupTracing устанавливает глобальный tracer provider.
//
// При enabled=false ничего не делает: otel отдаёт noop tracer.
// Экспортёр OTLP/HTTP настраивается стандартными OTEL_EXPORTER_OTLP_* переменными.
// Возвращает функцию остановки, сбрасывающую буфер спанов.
func SetupTracing(ctx context.Context, serviceName string, enabled bool) (func(context.Context) error, error) {
	if !enabled {
		return func(context.Context) error { return nil }, nil
	}

	r, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(serviceName),
		),
	)
	if err != nil {
		return nil, err
	}

	exporter, err := otlptracehttp.New(ctx)
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(r),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}))

	return tp.Shutdown, nil
}

// Tracer возвращает tracer из глобального provider.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartSpan начинает спан с атрибутами.
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name, trace.WithAttributes(attrs...))
}

// SetError помечает спан ошибкой.
func SetError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
