package redpanda

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twmb/franz-go/pkg/kgo"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/carebridge/portal-timeline/internal/domain/record"
)

func TestDecodeRecordChange(t *testing.T) {
	ev, err := DecodeRecordChange([]byte(`{
		"event_id": "e1",
		"patient_id": "p1",
		"category": "medications",
		"records": [{"id": 3, "title": "Metformin", "startDate": "2023-01-01"}]
	}`))

	require.NoError(t, err)
	assert.Equal(t, record.CategoryMedication, ev.Category)
	require.Len(t, ev.Records, 1)
	assert.Equal(t, record.ID("3"), ev.Records[0].ID)
}

func TestDecodeRecordChange_Rejects(t *testing.T) {
	_, err := DecodeRecordChange([]byte(`{"category":"imaging"}`))
	assert.Error(t, err)

	_, err = DecodeRecordChange([]byte(`{"patient_id":"p1","category":"billing"}`))
	assert.ErrorIs(t, err, record.ErrUnknownCategory)

	_, err = DecodeRecordChange([]byte(`not json`))
	assert.Error(t, err)
}

func TestRecordChangeHandler(t *testing.T) {
	var got RecordChange
	h := RecordChangeHandler(func(ctx context.Context, ev RecordChange) error {
		got = ev
		return nil
	})

	b, err := json.Marshal(NewRecordChange("p9", record.CategoryImaging, nil))
	require.NoError(t, err)
	require.NoError(t, h(context.Background(), &ConsumedMessage{Value: b}))
	assert.Equal(t, "p9", got.PatientID)
	assert.NotEmpty(t, got.EventID)

	assert.Error(t, h(context.Background(), &ConsumedMessage{Value: []byte("{}")}))
}

func TestViewUpdatedEncodeFillsDefaults(t *testing.T) {
	b, err := ViewUpdated{SessionID: "s", PatientID: "p", Version: 4}.Encode()
	require.NoError(t, err)

	var back ViewUpdated
	require.NoError(t, json.Unmarshal(b, &back))
	assert.NotEmpty(t, back.EventID)
	assert.False(t, back.UpdatedAt.IsZero())
	assert.Equal(t, 4, back.Version)
}

func TestTraceHeadersRoundTrip(t *testing.T) {
	prev := otel.GetTextMapPropagator()
	otel.SetTextMapPropagator(propagation.TraceContext{})
	t.Cleanup(func() { otel.SetTextMapPropagator(prev) })

	traceID, _ := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	spanID, _ := trace.SpanIDFromHex("00f067aa0ba902b7")
	sc := trace.NewSpanContext(trace.SpanContextConfig{TraceID: traceID, SpanID: spanID, TraceFlags: trace.FlagsSampled})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)

	rec := &kgo.Record{Headers: []kgo.RecordHeader{{Key: "other", Value: []byte("x")}}}
	injectTraceHeaders(ctx, rec)

	assert.Contains(t, headerCarrier{rec: rec}.Keys(), "traceparent")
	got := trace.SpanContextFromContext(extractTraceContext(context.Background(), rec))
	assert.Equal(t, traceID, got.TraceID())
	assert.True(t, got.IsRemote())
}

func TestDefaultTopicConfigs(t *testing.T) {
	names := map[string]bool{}
	for _, c := range DefaultTopicConfigs() {
		names[c.Name] = true
		assert.Positive(t, c.Partitions)
	}
	assert.True(t, names[TopicRecordChanges])
	assert.True(t, names[TopicViewUpdates])
	assert.True(t, names[TopicDeadLetter])
}
