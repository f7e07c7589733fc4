// Package observe provides the OpenTelemetry metric instruments used by the
// audio core and the provider setup that exposes them on /metrics.
//
// Components accept a *Metrics through an option; when none is given they use
// [Default], which records against the global meter provider (a no-op until
// [InitProvider] runs). Tests should build their own instance with
// [NewMetrics] and a ManualReader.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/yok-tottii/ezvoice"

// Metrics holds every instrument of the audio core.
type Metrics struct {
	// Capture
	CaptureFrames   metric.Int64Counter
	CaptureBytes    metric.Int64Counter
	CaptureErrors   metric.Int64Counter
	CaptureSessions metric.Int64UpDownCounter
	PausesDetected  metric.Int64Counter

	// Playback. PlaybackItems carries attribute "result": done, error, cancelled.
	PlaybackItems metric.Int64Counter
	PlaybackBytes metric.Int64Counter
	PlaybackQueue metric.Int64UpDownCounter

	// Speech cache. CacheLookups carries attribute "result": hit, miss, corrupt.
	CacheLookups  metric.Int64Counter
	CacheDeletes  metric.Int64Counter
	CodecDuration metric.Float64Histogram
}

// codecBuckets are histogram boundaries (seconds) for gzip work on
// utterance-sized payloads.
var codecBuckets = []float64{
	0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25,
}

// NewMetrics creates every instrument from mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.CaptureFrames, err = m.Int64Counter("ezvoice.capture.frames",
		metric.WithDescription("Capture buffers delivered to the frame listener."),
	); err != nil {
		return nil, err
	}
	if met.CaptureBytes, err = m.Int64Counter("ezvoice.capture.bytes",
		metric.WithDescription("PCM bytes captured."),
		metric.WithUnit("By"),
	); err != nil {
		return nil, err
	}
	if met.CaptureErrors, err = m.Int64Counter("ezvoice.capture.errors",
		metric.WithDescription("Capture sessions ended by a hardware error."),
	); err != nil {
		return nil, err
	}
	if met.CaptureSessions, err = m.Int64UpDownCounter("ezvoice.capture.active_sessions",
		metric.WithDescription("Capture sessions currently running."),
	); err != nil {
		return nil, err
	}
	if met.PausesDetected, err = m.Int64Counter("ezvoice.capture.pauses",
		metric.WithDescription("Capture sessions ended by pause detection."),
	); err != nil {
		return nil, err
	}

	if met.PlaybackItems, err = m.Int64Counter("ezvoice.playback.items",
		metric.WithDescription("Playback items finished, by result."),
	); err != nil {
		return nil, err
	}
	if met.PlaybackBytes, err = m.Int64Counter("ezvoice.playback.bytes",
		metric.WithDescription("PCM bytes written to the output stream."),
		metric.WithUnit("By"),
	); err != nil {
		return nil, err
	}
	if met.PlaybackQueue, err = m.Int64UpDownCounter("ezvoice.playback.queue_depth",
		metric.WithDescription("Items waiting in or being drained from the playback queue."),
	); err != nil {
		return nil, err
	}

	if met.CacheLookups, err = m.Int64Counter("ezvoice.cache.lookups",
		metric.WithDescription("Speech cache lookups, by result."),
	); err != nil {
		return nil, err
	}
	if met.CacheDeletes, err = m.Int64Counter("ezvoice.cache.deletes",
		metric.WithDescription("Corrupted speech cache rows scheduled for deletion."),
	); err != nil {
		return nil, err
	}
	if met.CodecDuration, err = m.Float64Histogram("ezvoice.cache.codec.duration",
		metric.WithDescription("Latency of speech cache compression and decompression."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(codecBuckets...),
	); err != nil {
		return nil, err
	}

	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// Default returns the package-level Metrics bound to otel.GetMeterProvider.
// Panics if instrument creation fails (should not happen with the global
// provider).
func Default() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// RecordPlayback counts one finished playback item.
func (m *Metrics) RecordPlayback(ctx context.Context, result string) {
	m.PlaybackItems.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

// RecordCacheLookup counts one speech cache lookup.
func (m *Metrics) RecordCacheLookup(ctx context.Context, result string) {
	m.CacheLookups.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

// RecordCodec records the duration of one codec operation ("compress" or
// "decompress").
func (m *Metrics) RecordCodec(ctx context.Context, op string, seconds float64) {
	m.CodecDuration.Record(ctx, seconds, metric.WithAttributes(attribute.String("op", op)))
}
