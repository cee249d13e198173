package diag

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// 跨组件共享的 span 属性键。
const (
	AttrObject  = attribute.Key("psf.object")
	AttrImage   = attribute.Key("psf.image")
	AttrFilter  = attribute.Key("psf.filter")
	AttrMethod  = attribute.Key("psf.method")
	AttrInstCam = attribute.Key("psf.instcam")
	AttrChip    = attribute.Key("psf.chip")
	AttrCount   = attribute.Key("result.count")
)

const tracerName = "spikepsf"

// Tracer 返回全局 TracerProvider 下的 tracer；未配置导出器时为 no-op。
func Tracer() trace.Tracer { return otel.Tracer(tracerName) }

// StartSpan 在 tracer 非 nil 时开启 span，否则返回上下文中已有的（可能为 no-op）span。
func StartSpan(
	ctx context.Context,
	tracer trace.Tracer,
	name string,
	opts ...trace.SpanStartOption,
) (context.Context, trace.Span) {
	if tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return tracer.Start(ctx, name, opts...)
}

// RecordError 记录错误并将 span 状态置为 error；nil 安全。
func RecordError(span trace.Span, err error) {
	if err != nil && span != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "operation failed")
	}
}
