package tracing

import (
	"context"
	"errors"
	"testing"

	"github.com/glimte/mmate-outbound/contracts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func setupRecorder(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()

	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))

	prevProvider := otel.GetTracerProvider()
	prevPropagator := otel.GetTextMapPropagator()
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})

	t.Cleanup(func() {
		_ = tp.Shutdown(context.Background())
		otel.SetTracerProvider(prevProvider)
		otel.SetTextMapPropagator(prevPropagator)
	})
	return recorder
}

func TestStartSending(t *testing.T) {
	recorder := setupRecorder(t)

	env := contracts.NewEnvelope("OrderPlaced", []byte(`{"id":1}`))
	env.Destination = contracts.MustParseURI("nsq://orders")
	env.CorrelationID = "corr-1"
	env.OwnerID = "node-a"

	_, span := StartSending(context.Background(), env)
	span.End()

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "send orders", spans[0].Name())

	attrs := map[string]string{}
	for _, kv := range spans[0].Attributes() {
		attrs[string(kv.Key)] = kv.Value.Emit()
	}
	assert.Equal(t, "nsq", attrs[string(AttrMessagingSystem)])
	assert.Equal(t, "nsq://orders", attrs[string(AttrDestination)])
	assert.Equal(t, env.ID, attrs[string(AttrMessageID)])
	assert.Equal(t, "OrderPlaced", attrs[string(AttrMessageType)])
	assert.Equal(t, "corr-1", attrs[string(AttrConversationID)])
	assert.Equal(t, "node-a", attrs[string(AttrEnvelopeOwner)])
}

func TestInjectExtract(t *testing.T) {
	setupRecorder(t)

	env := &contracts.Envelope{ID: "1", Destination: contracts.MustParseURI("memory://a")}
	ctx, span := StartSending(context.Background(), env)
	defer span.End()

	Inject(ctx, env)
	require.NotEmpty(t, env.Header("traceparent"))

	extracted := Extract(context.Background(), &contracts.Envelope{Headers: env.Headers})
	assert.NotEmpty(t, TraceID(ctx))
	assert.Equal(t, TraceID(ctx), TraceID(extracted))
}

func TestRecordError(t *testing.T) {
	recorder := setupRecorder(t)

	_, span := Tracer().Start(context.Background(), "op")
	RecordError(span, errors.New("broker down"))
	RecordError(span, nil)
	span.End()

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, codes.Error, spans[0].Status().Code)
	assert.Equal(t, "broker down", spans[0].Status().Description)
}

func TestNormalizeEndpoint(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "")

	assert.Equal(t, "collector:4318", normalizeEndpoint("http://collector:4318"))
	assert.Equal(t, "collector:4318", normalizeEndpoint("https://collector:4318"))
	assert.Equal(t, "collector:4318", normalizeEndpoint("collector:4318"))
	assert.Equal(t, "localhost:4318", normalizeEndpoint(""))
}
