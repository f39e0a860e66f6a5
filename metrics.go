package eventbus

import (
	"context"
	"fmt"
	"reflect"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const (
	meterName  = "eventbus"
	tracerName = "eventbus"

	attrEventType  = "event.type"
	attrThreadMode = "event.thread_mode"
	attrBusID      = "event.bus"
)

// instruments bundles the bus's OTel counters and tracer. All methods
// are no-ops when the corresponding feature is disabled.
type instruments struct {
	metricsEnabled bool
	tracingEnabled bool

	posted       metric.Int64Counter
	delivered    metric.Int64Counter
	failed       metric.Int64Counter
	unmatched    metric.Int64Counter
	stickyStored metric.Int64Counter

	tracer trace.Tracer
	busID  string
}

func newInstruments(busID string, metricsEnabled, tracingEnabled bool) *instruments {
	ins := &instruments{
		metricsEnabled: metricsEnabled,
		tracingEnabled: tracingEnabled,
		busID:          busID,
	}
	if metricsEnabled {
		meter := otel.Meter(meterName)
		ins.posted, _ = meter.Int64Counter("eventbus.posted",
			metric.WithDescription("Total events posted"))
		ins.delivered, _ = meter.Int64Counter("eventbus.delivered",
			metric.WithDescription("Total handler invocations"))
		ins.failed, _ = meter.Int64Counter("eventbus.handler_failures",
			metric.WithDescription("Total handler invocations that returned an error or panicked"))
		ins.unmatched, _ = meter.Int64Counter("eventbus.no_subscriber",
			metric.WithDescription("Total events that matched no subscription"))
		ins.stickyStored, _ = meter.Int64Counter("eventbus.sticky_stored",
			metric.WithDescription("Total sticky events stored"))
	}
	if tracingEnabled {
		ins.tracer = otel.Tracer(tracerName)
	}
	return ins
}

func (ins *instruments) eventPosted(t reflect.Type) {
	if ins.metricsEnabled {
		ins.posted.Add(context.Background(), 1,
			metric.WithAttributes(attribute.String(attrEventType, t.String())))
	}
}

func (ins *instruments) eventDelivered(d *HandlerDescriptor) {
	if ins.metricsEnabled {
		ins.delivered.Add(context.Background(), 1,
			metric.WithAttributes(
				attribute.String(attrEventType, d.EventType.String()),
				attribute.String(attrThreadMode, d.Mode.String())))
	}
}

func (ins *instruments) handlerFailed(d *HandlerDescriptor) {
	if ins.metricsEnabled {
		ins.failed.Add(context.Background(), 1,
			metric.WithAttributes(
				attribute.String(attrEventType, d.EventType.String()),
				attribute.String(attrThreadMode, d.Mode.String())))
	}
}

func (ins *instruments) noSubscriber(t reflect.Type) {
	if ins.metricsEnabled {
		ins.unmatched.Add(context.Background(), 1,
			metric.WithAttributes(attribute.String(attrEventType, t.String())))
	}
}

func (ins *instruments) stickyPosted(t reflect.Type) {
	if ins.metricsEnabled {
		ins.stickyStored.Add(context.Background(), 1,
			metric.WithAttributes(attribute.String(attrEventType, t.String())))
	}
}

// postSpan opens a producer span around a post fan-out. Returns a
// no-op end func when tracing is disabled.
func (ins *instruments) postSpan(t reflect.Type) (trace.SpanContext, func()) {
	if !ins.tracingEnabled {
		return trace.SpanContext{}, func() {}
	}
	_, span := ins.tracer.Start(context.Background(),
		fmt.Sprintf("%s.post", t.String()),
		trace.WithAttributes(
			attribute.String(attrEventType, t.String()),
			attribute.String(attrBusID, ins.busID)),
		trace.WithSpanKind(trace.SpanKindProducer))
	return span.SpanContext(), func() { span.End() }
}

// dispatchSpan opens a consumer span around a queued handler
// invocation, linked to the producing post's span.
func (ins *instruments) dispatchSpan(d *HandlerDescriptor, link trace.SpanContext) func() {
	if !ins.tracingEnabled {
		return func() {}
	}
	opts := []trace.SpanStartOption{
		trace.WithAttributes(
			attribute.String(attrEventType, d.EventType.String()),
			attribute.String(attrThreadMode, d.Mode.String()),
			attribute.String(attrBusID, ins.busID)),
		trace.WithSpanKind(trace.SpanKindConsumer),
	}
	if link.IsValid() {
		opts = append(opts, trace.WithLinks(trace.Link{SpanContext: link}))
	}
	_, span := ins.tracer.Start(context.Background(),
		fmt.Sprintf("%s.dispatch", d.EventType.String()), opts...)
	return func() { span.End() }
}
