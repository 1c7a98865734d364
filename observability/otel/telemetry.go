package otel

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
)

const (
	envEndpoint = "OTEL_EXPORTER_OTLP_ENDPOINT"
	envHeaders  = "OTEL_EXPORTER_OTLP_HEADERS"
	envSampler  = "OTEL_TRACES_SAMPLER_ARG"

	defaultMetricInterval = 15 * time.Second
)

// Settings selects where spans and router metrics are exported. An empty
// Endpoint leaves the global no-op providers in place.
type Settings struct {
	Service     string
	Environment string
	Endpoint    string
	Insecure    bool
	Headers     map[string]string
	// SampleRatio is the fraction of root spans kept; child spans follow their
	// parent. Values outside (0, 1] keep every span.
	SampleRatio    float64
	MetricInterval time.Duration
	// Attributes are attached to the resource, e.g. the chain id.
	Attributes map[string]string
}

// Enabled reports whether an exporter endpoint is configured.
func (s Settings) Enabled() bool {
	return strings.TrimSpace(s.Endpoint) != ""
}

// ApplyEnv overlays the standard OTLP variables on top of file settings.
func (s Settings) ApplyEnv() Settings {
	if raw := strings.TrimSpace(os.Getenv(envEndpoint)); raw != "" {
		s.Endpoint = raw
	}
	if raw := os.Getenv(envHeaders); strings.TrimSpace(raw) != "" {
		if s.Headers == nil {
			s.Headers = map[string]string{}
		}
		for k, v := range SplitHeaders(raw) {
			s.Headers[k] = v
		}
	}
	if raw := strings.TrimSpace(os.Getenv(envSampler)); raw != "" {
		if ratio, err := strconv.ParseFloat(raw, 64); err == nil {
			s.SampleRatio = ratio
		}
	}
	return s
}

// normalize strips the scheme from Endpoint, since the OTLP HTTP exporters take
// host:port, and marks plain-http collectors insecure.
func (s Settings) normalize() Settings {
	endpoint := strings.TrimSpace(s.Endpoint)
	switch {
	case strings.HasPrefix(endpoint, "http://"):
		s.Insecure = true
		endpoint = strings.TrimPrefix(endpoint, "http://")
	case strings.HasPrefix(endpoint, "https://"):
		endpoint = strings.TrimPrefix(endpoint, "https://")
	}
	s.Endpoint = strings.TrimSuffix(endpoint, "/")
	if s.SampleRatio <= 0 || s.SampleRatio > 1 {
		s.SampleRatio = 1
	}
	if s.MetricInterval <= 0 {
		s.MetricInterval = defaultMetricInterval
	}
	return s
}

func (s Settings) resource() (*resource.Resource, error) {
	attrs := []attribute.KeyValue{semconv.ServiceNameKey.String(s.Service)}
	if s.Environment != "" {
		attrs = append(attrs, semconv.DeploymentEnvironmentKey.String(s.Environment))
	}
	keys := make([]string, 0, len(s.Attributes))
	for k := range s.Attributes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		attrs = append(attrs, attribute.String(k, s.Attributes[k]))
	}
	return resource.Merge(resource.Default(), resource.NewSchemaless(attrs...))
}

// Shutdown flushes and stops the exporters started by Start.
type Shutdown func(context.Context) error

// Start installs OTLP trace and metric providers as the process globals. With
// no endpoint configured it only installs the propagator and returns a no-op
// Shutdown.
func Start(ctx context.Context, s Settings) (Shutdown, error) {
	if strings.TrimSpace(s.Service) == "" {
		return nil, fmt.Errorf("telemetry: service name required")
	}
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	if !s.Enabled() {
		return func(context.Context) error { return nil }, nil
	}
	s = s.normalize()
	res, err := s.resource()
	if err != nil {
		return nil, fmt.Errorf("telemetry: build resource: %w", err)
	}

	traceOpts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(s.Endpoint)}
	metricOpts := []otlpmetrichttp.Option{otlpmetrichttp.WithEndpoint(s.Endpoint)}
	if s.Insecure {
		traceOpts = append(traceOpts, otlptracehttp.WithInsecure())
		metricOpts = append(metricOpts, otlpmetrichttp.WithInsecure())
	}
	if len(s.Headers) > 0 {
		traceOpts = append(traceOpts, otlptracehttp.WithHeaders(s.Headers))
		metricOpts = append(metricOpts, otlpmetrichttp.WithHeaders(s.Headers))
	}

	spans, err := otlptracehttp.New(ctx, traceOpts...)
	if err != nil {
		return nil, fmt.Errorf("telemetry: trace exporter: %w", err)
	}
	tracerProvider := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(s.SampleRatio))),
		sdktrace.WithBatcher(spans, sdktrace.WithBatchTimeout(2*time.Second)),
	)

	metrics, err := otlpmetrichttp.New(ctx, metricOpts...)
	if err != nil {
		_ = tracerProvider.Shutdown(ctx)
		return nil, fmt.Errorf("telemetry: metric exporter: %w", err)
	}
	meterProvider := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metrics, sdkmetric.WithInterval(s.MetricInterval))),
	)

	otel.SetTracerProvider(tracerProvider)
	otel.SetMeterProvider(meterProvider)

	return func(ctx context.Context) error {
		return errors.Join(meterProvider.Shutdown(ctx), tracerProvider.Shutdown(ctx))
	}, nil
}

// SplitHeaders parses the "key=value,key2=value2" form used by
// OTEL_EXPORTER_OTLP_HEADERS. Malformed pairs are skipped.
func SplitHeaders(raw string) map[string]string {
	headers := map[string]string{}
	for _, pair := range strings.Split(raw, ",") {
		key, value, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			continue
		}
		headers[key] = strings.TrimSpace(value)
	}
	return headers
}
