package tracing

import (
	"context"
	"os"
	"strings"

	"github.com/glimte/mmate-outbound/contracts"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.20.0"
	oteltrace "go.opentelemetry.io/otel/trace"
)

// TracerName is the instrumentation name used for outbound spans
const TracerName = "github.com/glimte/mmate-outbound"

// Span attribute keys
const (
	AttrMessagingSystem  = attribute.Key("messaging.system")
	AttrDestination      = attribute.Key("messaging.destination.name")
	AttrMessageID        = attribute.Key("messaging.message.id")
	AttrConversationID   = attribute.Key("messaging.message.conversation_id")
	AttrMessageType      = attribute.Key("mmate.message_type")
	AttrEnvelopeOwner    = attribute.Key("mmate.owner_id")
	AttrPayloadSizeBytes = attribute.Key("messaging.message.body.size")
)

// Init installs a batching OTLP/HTTP tracer provider and W3C propagators as the globals.
// endpoint is host:port; an http:// or https:// prefix is stripped. The returned function
// flushes and shuts the provider down.
func Init(ctx context.Context, serviceName, endpoint string) (func(context.Context) error, error) {
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String(serviceName),
			semconv.ServiceVersionKey.String(getVersion()),
		),
		resource.WithHost(),
	)
	if err != nil {
		return nil, err
	}

	exporter, err := otlptracehttp.New(ctx,
		otlptracehttp.WithEndpoint(normalizeEndpoint(endpoint)),
		otlptracehttp.WithInsecure(),
	)
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return tp.Shutdown, nil
}

// Tracer returns the outbound tracer from the global provider
func Tracer() oteltrace.Tracer {
	return otel.Tracer(TracerName)
}

// StartSending opens a producer span for one send attempt of the envelope.
// The caller must end the span.
func StartSending(ctx context.Context, env *contracts.Envelope) (context.Context, oteltrace.Span) {
	destination := ""
	system := ""
	if env.Destination != nil {
		destination = env.Destination.String()
		system = env.Destination.Scheme
	}

	attrs := []attribute.KeyValue{
		AttrMessagingSystem.String(system),
		AttrDestination.String(destination),
		AttrMessageID.String(env.ID),
		AttrMessageType.String(env.MessageType),
		AttrPayloadSizeBytes.Int(len(env.Data)),
	}
	if env.CorrelationID != "" {
		attrs = append(attrs, AttrConversationID.String(env.CorrelationID))
	}
	if env.OwnerID != "" {
		attrs = append(attrs, AttrEnvelopeOwner.String(env.OwnerID))
	}

	return Tracer().Start(ctx, "send "+spanTarget(env),
		oteltrace.WithSpanKind(oteltrace.SpanKindProducer),
		oteltrace.WithAttributes(attrs...),
	)
}

// Inject writes the trace context of ctx into the envelope headers
func Inject(ctx context.Context, env *contracts.Envelope) {
	if env.Headers == nil {
		env.Headers = make(map[string]string)
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.MapCarrier(env.Headers))
}

// Extract returns a context carrying the trace context found in the envelope headers
func Extract(ctx context.Context, env *contracts.Envelope) context.Context {
	return otel.GetTextMapPropagator().Extract(ctx, propagation.MapCarrier(env.Headers))
}

// RecordError marks the span as failed
func RecordError(span oteltrace.Span, err error) {
	if span == nil || err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// TraceID returns the trace id of the span in ctx, or the empty string
func TraceID(ctx context.Context) string {
	span := oteltrace.SpanFromContext(ctx)
	if span.SpanContext().IsValid() {
		return span.SpanContext().TraceID().String()
	}
	return ""
}

func spanTarget(env *contracts.Envelope) string {
	if env.Destination == nil {
		return "unknown"
	}
	return env.Destination.Host + env.Destination.Path
}

func getVersion() string {
	if v := os.Getenv("SERVICE_VERSION"); v != "" {
		return v
	}
	return "dev"
}

func normalizeEndpoint(endpoint string) string {
	if endpoint == "" {
		endpoint = os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	}
	if endpoint == "" {
		return "localhost:4318"
	}
	// otlptracehttp.WithEndpoint expects host:port
	endpoint = strings.TrimPrefix(endpoint, "http://")
	return strings.TrimPrefix(endpoint, "https://")
}
