package redpanda

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twmb/franz-go/pkg/kgo"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

func TestRecordCarrier(t *testing.T) {
	record := &kgo.Record{Headers: []kgo.RecordHeader{{Key: "query-id", Value: []byte("q1")}}}
	c := recordCarrier{record: record}

	assert.Equal(t, "q1", c.Get("query-id"))
	assert.Empty(t, c.Get("missing"))

	c.Set("traceparent", "a")
	c.Set("traceparent", "b")
	assert.Equal(t, "b", c.Get("traceparent"))
	assert.ElementsMatch(t, []string{"query-id", "traceparent"}, c.Keys())
}

func TestTraceContextRoundTrip(t *testing.T) {
	prev := otel.GetTextMapPropagator()
	otel.SetTextMapPropagator(propagation.TraceContext{})
	t.Cleanup(func() { otel.SetTextMapPropagator(prev) })

	traceID, err := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	require.NoError(t, err)
	spanID, err := trace.SpanIDFromHex("00f067aa0ba902b7")
	require.NoError(t, err)
	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: trace.FlagsSampled,
	})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)

	record := &kgo.Record{Topic: TopicQueries}
	injectTraceHeaders(ctx, record)
	assert.Equal(t, "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01", recordCarrier{record}.Get("traceparent"))

	extracted := trace.SpanContextFromContext(extractTraceContext(context.Background(), record))
	assert.Equal(t, traceID, extracted.TraceID())
	assert.Equal(t, spanID, extracted.SpanID())
	assert.True(t, extracted.IsRemote())
}

func TestDefaultTopicConfigs(t *testing.T) {
	configs := DefaultTopicConfigs()
	names := make([]string, 0, len(configs))
	for _, c := range configs {
		names = append(names, c.Name)
		assert.Positive(t, c.Partitions)
		assert.Equal(t, "delete", *c.Configs["cleanup.policy"])
	}
	assert.Equal(t, []string{TopicQueries, TopicResults, TopicDeadLetter}, names)
}

func TestNewProducer_Offline(t *testing.T) {
	cfg := DefaultProducerConfig()
	cfg.Brokers = []string{"127.0.0.1:1"}
	p, err := NewProducer(cfg, nil)
	require.NoError(t, err)
	assert.Equal(t, ProducerStats{}, p.Stats())
	require.NoError(t, p.Close())
}

func TestDefaultConsumerConfig(t *testing.T) {
	cfg := DefaultConsumerConfig()
	assert.Equal(t, []string{TopicQueries}, cfg.Topics)
	assert.Equal(t, "tdm-query-worker", cfg.GroupID)
	assert.Positive(t, cfg.RetryBackoff)
}

func TestNewConsumer_RequiresHandler(t *testing.T) {
	_, err := NewConsumer(DefaultConsumerConfig(), nil, nil)
	assert.Error(t, err)
}
