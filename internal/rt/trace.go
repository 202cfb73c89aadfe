// Copyright (c) The Spider Authors
// SPDX-License-Identifier: MPL-2.0

package rt

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// tracerName matches SPEC_FULL.md §14: a no-op-safe tracer obtained
// from the global TracerProvider, so Spider never depends on a
// concrete OTel exporter.
const tracerName = "spider-rt/rt"

// Tracer emits a TraceMessage as an OTel span when tracing is enabled,
// mirroring the teacher's internal/tracing instrumentation of its own
// graph-walk steps: an API-only otel/trace import, exporter wiring left
// entirely to the embedding application.
type Tracer struct {
	tr      trace.Tracer
	enabled bool
}

// NewTracer constructs a Tracer. When enabled is false, Record is a
// no-op; when true it still uses whatever global TracerProvider is
// registered, which is a working no-op if the embedder never called
// otel.SetTracerProvider.
func NewTracer(enabled bool) Tracer {
	return Tracer{tr: otel.Tracer(tracerName), enabled: enabled}
}

// Record emits msg as a span named after the task, with startNs/endNs
// converted to the span's start/end time.
func (t Tracer) Record(ctx context.Context, msg TraceMessage) {
	if !t.enabled {
		return
	}
	name := msg.Name
	if name == "" {
		name = "task"
	}
	start := time.Unix(0, int64(msg.StartNs))
	end := time.Unix(0, int64(msg.EndNs))
	_, span := t.tr.Start(ctx, name, trace.WithTimestamp(start), trace.WithAttributes(
		attribute.Int64("spider.task_ix", int64(msg.TaskIx)),
		attribute.Int64("spider.pe_ix", int64(msg.PEIx)),
	))
	span.End(trace.WithTimestamp(end))
}
