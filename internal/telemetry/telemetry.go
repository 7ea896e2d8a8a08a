// Package telemetry records operational counters through OpenTelemetry.
//
// Nothing leaves the device unless the host process installs a real
// MeterProvider; with the global default provider every instrument is a
// no-op. A nil *Recorder is valid and records nothing.
package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/kimhsiao/shule/backend"

// Recorder holds the instruments used by the cache, sync and timetable
// components.
type Recorder struct {
	syncRuns       metric.Int64Counter
	syncDuration   metric.Float64Histogram
	recordsPulled  metric.Int64Counter
	queueReplays   metric.Int64Counter
	queueEnqueued  metric.Int64Counter
	conflicts      metric.Int64Counter
	cacheWriteErrs metric.Int64Counter
}

// New creates a Recorder on the given provider.
func New(mp metric.MeterProvider) (*Recorder, error) {
	meter := mp.Meter(meterName)
	r := &Recorder{}
	var err error

	if r.syncRuns, err = meter.Int64Counter("shule.sync.runs",
		metric.WithDescription("Full sync runs by outcome")); err != nil {
		return nil, err
	}
	if r.syncDuration, err = meter.Float64Histogram("shule.sync.duration",
		metric.WithDescription("Full sync duration"), metric.WithUnit("s")); err != nil {
		return nil, err
	}
	if r.recordsPulled, err = meter.Int64Counter("shule.sync.records_pulled",
		metric.WithDescription("Records written to the cache by sync")); err != nil {
		return nil, err
	}
	if r.queueReplays, err = meter.Int64Counter("shule.queue.replays",
		metric.WithDescription("Queue item replays by outcome")); err != nil {
		return nil, err
	}
	if r.queueEnqueued, err = meter.Int64Counter("shule.queue.enqueued",
		metric.WithDescription("Mutations queued for later replay")); err != nil {
		return nil, err
	}
	if r.conflicts, err = meter.Int64Counter("shule.timetable.conflicts",
		metric.WithDescription("Rejected timetable writes by resource")); err != nil {
		return nil, err
	}
	if r.cacheWriteErrs, err = meter.Int64Counter("shule.cache.write_errors",
		metric.WithDescription("Failed cache writes by error code")); err != nil {
		return nil, err
	}
	return r, nil
}

// Default creates a Recorder on the global provider, falling back to nil
// (no-op) if instrument creation fails.
func Default() *Recorder {
	r, err := New(otel.GetMeterProvider())
	if err != nil {
		return nil
	}
	return r
}

// SyncRun records one full sync and its outcome ("success", "partial",
// "failed").
func (r *Recorder) SyncRun(ctx context.Context, outcome string, d time.Duration) {
	if r == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("outcome", outcome))
	r.syncRuns.Add(ctx, 1, attrs)
	r.syncDuration.Record(ctx, d.Seconds(), attrs)
}

// RecordsPulled records n records written for a collection.
func (r *Recorder) RecordsPulled(ctx context.Context, collection string, n int) {
	if r == nil {
		return
	}
	r.recordsPulled.Add(ctx, int64(n), metric.WithAttributes(attribute.String("collection", collection)))
}

// QueueReplay records one replay attempt.
func (r *Recorder) QueueReplay(ctx context.Context, collection string, ok bool) {
	if r == nil {
		return
	}
	outcome := "success"
	if !ok {
		outcome = "failed"
	}
	r.queueReplays.Add(ctx, 1, metric.WithAttributes(
		attribute.String("collection", collection),
		attribute.String("outcome", outcome),
	))
}

// QueueEnqueued records a mutation deferred to the queue.
func (r *Recorder) QueueEnqueued(ctx context.Context, collection, op string) {
	if r == nil {
		return
	}
	r.queueEnqueued.Add(ctx, 1, metric.WithAttributes(
		attribute.String("collection", collection),
		attribute.String("op", op),
	))
}

// Conflict records a rejected timetable write.
func (r *Recorder) Conflict(ctx context.Context, resource string) {
	if r == nil {
		return
	}
	r.conflicts.Add(ctx, 1, metric.WithAttributes(attribute.String("resource", resource)))
}

// CacheWriteError records a failed cache write.
func (r *Recorder) CacheWriteError(ctx context.Context, collection, code string) {
	if r == nil {
		return
	}
	r.cacheWriteErrs.Add(ctx, 1, metric.WithAttributes(
		attribute.String("collection", collection),
		attribute.String("code", code),
	))
}
