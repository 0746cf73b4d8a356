// Package middleware 提供消息总线的发布侧中间件。
package middleware

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"gorevision/messaging"
)

// 在 Metadata 与 Context 中传播的字段名
const (
	KeyCorrelationID = "correlation_id"
	KeyCausationID   = "causation_id"
	KeyTraceID       = "trace_id"
	KeySpanID        = "span_id"
)

type ctxKey string

// WithCorrelationID 将关联 ID 写入 context，后续发布的消息沿用
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKey(KeyCorrelationID), id)
}

// WithCausationID 将因果 ID 写入 context
func WithCausationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKey(KeyCausationID), id)
}

// TracingMiddleware 为发布的消息开启 producer span，并补齐链路字段
//
// 规则：
//   - trace_id/span_id 取自当前 span；
//   - correlation_id 优先沿用 context，其次按 aggregate_type/aggregate_id 归并同一文档的通知，最后回落到消息 ID；
//   - causation_id 优先沿用 context，否则为消息 ID。
//
// 已存在的非空字段不会被覆盖。
type TracingMiddleware struct {
	tracer trace.Tracer
}

// NewTracingMiddleware 创建中间件，使用全局 TracerProvider
func NewTracingMiddleware() *TracingMiddleware {
	return &TracingMiddleware{tracer: otel.Tracer("gorevision/messaging")}
}

func (m *TracingMiddleware) Name() string { return "Tracing" }

func (m *TracingMiddleware) Handle(ctx context.Context, message messaging.IMessage, next messaging.HandlerFunc) error {
	if message == nil {
		return next(ctx, message)
	}
	ctx, span := m.tracer.Start(ctx, "messaging.publish",
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			attribute.String("messaging.message.id", message.GetID()),
			attribute.String("messaging.message.type", message.GetType()),
		))
	defer span.End()

	md := message.GetMetadata()
	if sc := span.SpanContext(); sc.IsValid() {
		setIfEmpty(md, KeyTraceID, sc.TraceID().String())
		setIfEmpty(md, KeySpanID, sc.SpanID().String())
	}

	corr, _ := ctx.Value(ctxKey(KeyCorrelationID)).(string)
	if corr == "" {
		corr = aggregateKey(md)
	}
	if corr == "" {
		corr = message.GetID()
	}
	setIfEmpty(md, KeyCorrelationID, corr)

	caus, _ := ctx.Value(ctxKey(KeyCausationID)).(string)
	if caus == "" {
		caus = message.GetID()
	}
	setIfEmpty(md, KeyCausationID, caus)

	err := next(ctx, message)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func aggregateKey(md map[string]any) string {
	typ, _ := md["aggregate_type"].(string)
	id, _ := md["aggregate_id"].(string)
	if typ == "" || id == "" {
		return ""
	}
	return fmt.Sprintf("%s:%s", typ, id)
}

func setIfEmpty(md map[string]any, key, value string) {
	if v, ok := md[key]; ok && v != "" && v != nil {
		return
	}
	md[key] = value
}
