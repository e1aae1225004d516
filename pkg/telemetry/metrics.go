// SPDX-License-Identifier: Apache-2.0

package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// PipelineMetrics tracks the embedding and vector-store pipeline for
// production monitoring: how well batching amortizes engine calls, how deep
// the queue runs, and how long searches and flushes take.
type PipelineMetrics struct {
	// embedBatchSize records the number of requests served per engine call.
	embedBatchSize metric.Int64Histogram

	// embedRequests counts embedding requests by outcome code.
	embedRequests metric.Int64Counter

	// queueDepth tracks the scheduler queue depth at sample time.
	queueDepth metric.Int64Gauge

	// flushTotal counts vector-store flushes by collection and outcome.
	flushTotal metric.Int64Counter

	// searchLatency records vector search round-trip time.
	searchLatency metric.Float64Histogram

	// insertTotal counts record inserts by collection.
	insertTotal metric.Int64Counter
}

// NewPipelineMetrics creates the pipeline instrument set on the global meter.
func NewPipelineMetrics() (*PipelineMetrics, error) {
	meter := otel.Meter("kirox/memory")

	embedBatchSize, err := meter.Int64Histogram(
		"kirox.embed.batch_size",
		metric.WithDescription("Embedding requests served per engine invocation"),
	)
	if err != nil {
		return nil, err
	}

	embedRequests, err := meter.Int64Counter(
		"kirox.embed.requests",
		metric.WithDescription("Embedding requests by outcome code"),
	)
	if err != nil {
		return nil, err
	}

	queueDepth, err := meter.Int64Gauge(
		"kirox.embed.queue_depth",
		metric.WithDescription("Scheduler queue depth at sample time"),
	)
	if err != nil {
		return nil, err
	}

	flushTotal, err := meter.Int64Counter(
		"kirox.vector.flush_total",
		metric.WithDescription("Vector store flushes by collection and outcome"),
	)
	if err != nil {
		return nil, err
	}

	searchLatency, err := meter.Float64Histogram(
		"kirox.vector.search_seconds",
		metric.WithDescription("Vector search round-trip latency in seconds"),
	)
	if err != nil {
		return nil, err
	}

	insertTotal, err := meter.Int64Counter(
		"kirox.vector.insert_total",
		metric.WithDescription("Record inserts by collection"),
	)
	if err != nil {
		return nil, err
	}

	return &PipelineMetrics{
		embedBatchSize: embedBatchSize,
		embedRequests:  embedRequests,
		queueDepth:     queueDepth,
		flushTotal:     flushTotal,
		searchLatency:  searchLatency,
		insertTotal:    insertTotal,
	}, nil
}

// RecordBatch records one engine invocation serving n requests.
func (m *PipelineMetrics) RecordBatch(ctx context.Context, n int) {
	if m == nil {
		return
	}
	m.embedBatchSize.Record(ctx, int64(n))
}

// RecordEmbedRequest counts a completed embedding request by outcome code.
// Pass an empty code for success.
func (m *PipelineMetrics) RecordEmbedRequest(ctx context.Context, code string) {
	if m == nil {
		return
	}
	outcome := "ok"
	if code != "" {
		outcome = code
	}
	m.embedRequests.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// RecordQueueDepth samples the scheduler queue depth.
func (m *PipelineMetrics) RecordQueueDepth(ctx context.Context, depth int) {
	if m == nil {
		return
	}
	m.queueDepth.Record(ctx, int64(depth))
}

// RecordFlush counts a flush attempt for a collection.
func (m *PipelineMetrics) RecordFlush(ctx context.Context, collection string, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.flushTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("collection", collection),
		attribute.String("outcome", outcome),
	))
}

// RecordSearch records a search round trip against a collection.
func (m *PipelineMetrics) RecordSearch(ctx context.Context, collection string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.searchLatency.Record(ctx, elapsed.Seconds(), metric.WithAttributes(
		attribute.String("collection", collection),
	))
}

// RecordInsert counts a record insert into a collection.
func (m *PipelineMetrics) RecordInsert(ctx context.Context, collection string) {
	if m == nil {
		return
	}
	m.insertTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("collection", collection)))
}
