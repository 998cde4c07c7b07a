package observability

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/runtime"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/zatekoja/careflow"

// Metrics holds all application metrics
type Metrics struct {
	AllocationCount      metric.Int64Counter
	ContentionRetryCount metric.Int64Counter
	ForecastFailureCount metric.Int64Counter
	QueueOptimizedCount  metric.Int64Counter
	TxDuration           metric.Float64Histogram
	DBQueryDuration      metric.Float64Histogram
	CacheHitCount        metric.Int64Counter
	CacheMissCount       metric.Int64Counter
}

// Setup initializes OpenTelemetry tracing, metrics, log export and runtime
// instrumentation
func Setup(ctx context.Context, serviceName, serviceVersion, endpoint string) (func(context.Context) error, error) {
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
			semconv.ServiceVersion(serviceVersion),
		),
	)
	if err != nil {
		return nil, err
	}

	// Set up trace exporter
	traceExporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(endpoint),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return nil, err
	}

	tracerProvider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(traceExporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tracerProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	// Set up metric exporter
	metricExporter, err := otlpmetricgrpc.New(ctx,
		otlpmetricgrpc.WithEndpoint(endpoint),
		otlpmetricgrpc.WithInsecure(),
	)
	if err != nil {
		_ = tracerProvider.Shutdown(ctx)
		return nil, err
	}

	meterProvider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExporter)),
		sdkmetric.WithResource(res),
	)
	otel.SetMeterProvider(meterProvider)

	if err := runtime.Start(runtime.WithMinimumReadMemStatsInterval(15 * time.Second)); err != nil {
		_ = tracerProvider.Shutdown(ctx)
		_ = meterProvider.Shutdown(ctx)
		return nil, err
	}

	loggerProvider, err := setupLogExport(ctx, res, endpoint)
	if err != nil {
		_ = tracerProvider.Shutdown(ctx)
		_ = meterProvider.Shutdown(ctx)
		return nil, err
	}

	shutdown := func(ctx context.Context) error {
		return errors.Join(
			tracerProvider.Shutdown(ctx),
			meterProvider.Shutdown(ctx),
			loggerProvider.Shutdown(ctx),
		)
	}

	return shutdown, nil
}

// InitMetrics initializes application metrics against the global meter provider
func InitMetrics() (*Metrics, error) {
	meter := otel.Meter(instrumentationName)

	allocationCount, err := meter.Int64Counter(
		"careflow.bed.allocation.count",
		metric.WithDescription("Number of bed allocation attempts by outcome"),
	)
	if err != nil {
		return nil, err
	}

	contentionRetryCount, err := meter.Int64Counter(
		"careflow.tx.contention.retry.count",
		metric.WithDescription("Number of transactions retried after a write conflict"),
	)
	if err != nil {
		return nil, err
	}

	forecastFailureCount, err := meter.Int64Counter(
		"careflow.forecast.failure.count",
		metric.WithDescription("Number of failed demand predictor calls"),
	)
	if err != nil {
		return nil, err
	}

	queueOptimizedCount, err := meter.Int64Counter(
		"careflow.queue.optimized.count",
		metric.WithDescription("Number of appointments re-queued by optimisation"),
	)
	if err != nil {
		return nil, err
	}

	txDuration, err := meter.Float64Histogram(
		"careflow.tx.duration",
		metric.WithDescription("Directory transaction duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	dbQueryDuration, err := meter.Float64Histogram(
		"db.query.duration",
		metric.WithDescription("Database query duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	cacheHitCount, err := meter.Int64Counter(
		"cache.hit.count",
		metric.WithDescription("Number of cache hits"),
	)
	if err != nil {
		return nil, err
	}

	cacheMissCount, err := meter.Int64Counter(
		"cache.miss.count",
		metric.WithDescription("Number of cache misses"),
	)
	if err != nil {
		return nil, err
	}

	return &Metrics{
		AllocationCount:      allocationCount,
		ContentionRetryCount: contentionRetryCount,
		ForecastFailureCount: forecastFailureCount,
		QueueOptimizedCount:  queueOptimizedCount,
		TxDuration:           txDuration,
		DBQueryDuration:      dbQueryDuration,
		CacheHitCount:        cacheHitCount,
		CacheMissCount:       cacheMissCount,
	}, nil
}

// StartSpan starts a new trace span
func StartSpan(ctx context.Context, spanName string) (context.Context, trace.Span) {
	tracer := otel.Tracer(instrumentationName)
	return tracer.Start(ctx, spanName)
}

// RecordError records an error in the current span
func RecordError(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
	}
}

// SetSpanAttributes sets attributes on a span
func SetSpanAttributes(span trace.Span, attrs ...attribute.KeyValue) {
	span.SetAttributes(attrs...)
}

// The Record* helpers accept a nil *Metrics so engines run without a meter.

// RecordAllocation records a bed allocation outcome
func RecordAllocation(ctx context.Context, metrics *Metrics, wardType, outcome string, usedFallback bool) {
	if metrics == nil {
		return
	}
	attrs := []attribute.KeyValue{
		attribute.String("ward_type", wardType),
		attribute.String("outcome", outcome),
		attribute.Bool("fallback", usedFallback),
	}
	metrics.AllocationCount.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordContentionRetry records a retried transaction
func RecordContentionRetry(ctx context.Context, metrics *Metrics, operation string) {
	if metrics == nil {
		return
	}
	metrics.ContentionRetryCount.Add(ctx, 1, metric.WithAttributes(attribute.String("operation", operation)))
}

// RecordForecastFailure records a failed predictor call
func RecordForecastFailure(ctx context.Context, metrics *Metrics, degraded bool) {
	if metrics == nil {
		return
	}
	metrics.ForecastFailureCount.Add(ctx, 1, metric.WithAttributes(attribute.Bool("degraded", degraded)))
}

// RecordQueueOptimized records how many appointments were re-queued
func RecordQueueOptimized(ctx context.Context, metrics *Metrics, departmentID int64, count int) {
	if metrics == nil {
		return
	}
	metrics.QueueOptimizedCount.Add(ctx, int64(count), metric.WithAttributes(attribute.Int64("department_id", departmentID)))
}

// RecordTxDuration records a directory transaction duration
func RecordTxDuration(ctx context.Context, metrics *Metrics, operation string, attempts int, duration time.Duration) {
	if metrics == nil {
		return
	}
	attrs := []attribute.KeyValue{
		attribute.String("operation", operation),
		attribute.Int("attempts", attempts),
	}
	metrics.TxDuration.Record(ctx, float64(duration.Milliseconds()), metric.WithAttributes(attrs...))
}

// RecordDBMetric records a database operation metric
func RecordDBMetric(ctx context.Context, metrics *Metrics, operation string, duration time.Duration) {
	if metrics == nil {
		return
	}
	attrs := []attribute.KeyValue{
		attribute.String("db.operation", operation),
	}
	metrics.DBQueryDuration.Record(ctx, float64(duration.Milliseconds()), metric.WithAttributes(attrs...))
}

// RecordCacheHit records a cache hit
func RecordCacheHit(ctx context.Context, metrics *Metrics, key string) {
	if metrics == nil {
		return
	}
	metrics.CacheHitCount.Add(ctx, 1, metric.WithAttributes(attribute.String("cache.key", key)))
}

// RecordCacheMiss records a cache miss
func RecordCacheMiss(ctx context.Context, metrics *Metrics, key string) {
	if metrics == nil {
		return
	}
	metrics.CacheMissCount.Add(ctx, 1, metric.WithAttributes(attribute.String("cache.key", key)))
}
