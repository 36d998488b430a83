package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// Tracer wraps the OpenTelemetry tracer with OpenConform-specific functionality.
type Tracer struct {
	provider *sdktrace.TracerProvider
	tracer   trace.Tracer
	config   TracingConfig
}

// NewTracer creates a new tracer with the given configuration.
func NewTracer(cfg TracingConfig, serviceName, serviceVersion, environment string) (*Tracer, error) {
	if !cfg.Enabled {
		// Return a tracer with no-op provider
		return &Tracer{
			provider: sdktrace.NewTracerProvider(),
			tracer:   otel.Tracer(serviceName),
			config:   cfg,
		}, nil
	}

	// Create resource with service information
	res, err := resource.New(
		context.Background(),
		resource.WithAttributes(
			semconv.ServiceNameKey.String(serviceName),
			semconv.ServiceVersionKey.String(serviceVersion),
			attribute.String("environment", environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create trace resource: %w", err)
	}

	// Create exporter based on configuration
	var exporter sdktrace.SpanExporter
	switch cfg.Exporter {
	case "otlp":
		exporter, err = createOTLPExporter(cfg)
	case "stdout":
		exporter, err = createStdoutExporter(cfg)
	case "none":
		// No exporter - traces are generated but not exported
		exporter = nil
	default:
		return nil, fmt.Errorf("unsupported trace exporter: %s", cfg.Exporter)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}

	// Configure sampler
	sampler := sdktrace.ParentBased(
		sdktrace.TraceIDRatioBased(cfg.SamplingRate),
	)

	// Create trace provider
	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler),
	}

	if exporter != nil {
		opts = append(opts, sdktrace.WithBatcher(
			exporter,
			sdktrace.WithMaxExportBatchSize(cfg.MaxExportBatchSize),
			sdktrace.WithExportTimeout(cfg.ExportTimeout),
		))
	}

	provider := sdktrace.NewTracerProvider(opts...)

	// Set global trace provider
	otel.SetTracerProvider(provider)

	// Set global propagator for context propagation
	otel.SetTextMapPropagator(
		propagation.NewCompositeTextMapPropagator(
			propagation.TraceContext{},
			propagation.Baggage{},
		),
	)

	return &Tracer{
		provider: provider,
		tracer:   provider.Tracer(serviceName),
		config:   cfg,
	}, nil
}

// createOTLPExporter creates an OTLP gRPC exporter.
func createOTLPExporter(cfg TracingConfig) (sdktrace.SpanExporter, error) {
	opts := []otlptracegrpc.Option{
		otlptracegrpc.WithEndpoint(cfg.Endpoint),
	}

	if cfg.Insecure {
		opts = append(opts, otlptracegrpc.WithTLSCredentials(insecure.NewCredentials()))
	}

	// Add custom headers if provided
	if len(cfg.Headers) > 0 {
		opts = append(opts, otlptracegrpc.WithHeaders(cfg.Headers))
	}

	// Add dial options for connection timeout
	opts = append(opts, otlptracegrpc.WithDialOption(
		grpc.WithBlock(),
	))

	return otlptracegrpc.New(context.Background(), opts...)
}

// createStdoutExporter creates a stdout exporter for debugging.
func createStdoutExporter(cfg TracingConfig) (sdktrace.SpanExporter, error) {
	return stdouttrace.New(
		stdouttrace.WithPrettyPrint(),
	)
}

// Start begins a new span with the given name.
func (t *Tracer) Start(ctx context.Context, spanName string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, spanName, opts...)
}

// StartSpan is a convenience method that starts a span with common attributes.
func (t *Tracer) StartSpan(ctx context.Context, operation string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, operation, trace.WithAttributes(attrs...))
}

// StartDiffSpan starts a span for a compliance diff run.
func (t *Tracer) StartDiffSpan(ctx context.Context, deviceID, feature, strategy string) (context.Context, trace.Span) {
	return t.StartSpan(ctx, "compliance.diff",
		attribute.String("device.id", deviceID),
		attribute.String("feature", feature),
		attribute.String("strategy", strategy),
		attribute.String("span.kind", "compliance"),
	)
}

// StartPlanBuildSpan starts a span for a config plan build.
func (t *Tracer) StartPlanBuildSpan(ctx context.Context, planType string) (context.Context, trace.Span) {
	return t.StartSpan(ctx, "plan.build",
		attribute.String("plan.type", planType),
		attribute.String("span.kind", "plan"),
	)
}

// StartDeploySpan starts a span for a plan deployment.
func (t *Tracer) StartDeploySpan(ctx context.Context, planID string) (context.Context, trace.Span) {
	return t.StartSpan(ctx, "deploy.execute",
		attribute.String("plan.id", planID),
		attribute.String("span.kind", "deploy"),
	)
}

// StartJobSpan starts a span for a per-device deployment job.
func (t *Tracer) StartJobSpan(ctx context.Context, planID, jobID, deviceID string) (context.Context, trace.Span) {
	return t.StartSpan(ctx, "deploy.job",
		attribute.String("plan.id", planID),
		attribute.String("job.id", jobID),
		attribute.String("device.id", deviceID),
		attribute.String("span.kind", "job"),
	)
}

// StartDriverSpan starts a span for a device driver operation.
func (t *Tracer) StartDriverSpan(ctx context.Context, platform, operation string) (context.Context, trace.Span) {
	return t.StartSpan(ctx, fmt.Sprintf("driver.%s", operation),
		attribute.String("driver.platform", platform),
		attribute.String("driver.operation", operation),
		attribute.String("span.kind", "driver"),
	)
}

// RecordError records an error on the current span.
func RecordError(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// RecordSuccess marks the span as successful.
func RecordSuccess(span trace.Span) {
	span.SetStatus(codes.Ok, "")
}

// SetAttributes sets multiple attributes on a span.
func SetAttributes(span trace.Span, attrs ...attribute.KeyValue) {
	span.SetAttributes(attrs...)
}

// AddEvent adds an event to the span.
func AddEvent(span trace.Span, name string, attrs ...attribute.KeyValue) {
	span.AddEvent(name, trace.WithAttributes(attrs...))
}

// AddDeployEvent adds a deployment-related event to the span.
func AddDeployEvent(span trace.Span, eventType, message string) {
	span.AddEvent(eventType, trace.WithAttributes(
		attribute.String("event.message", message),
		attribute.String("event.category", "deploy"),
	))
}

// AddDeviceEvent adds a device-related event to the span.
func AddDeviceEvent(span trace.Span, deviceID, eventType, message string) {
	span.AddEvent(eventType, trace.WithAttributes(
		attribute.String("device.id", deviceID),
		attribute.String("event.message", message),
		attribute.String("event.category", "device"),
	))
}

// Shutdown gracefully shuts down the tracer, flushing any pending spans.
func (t *Tracer) Shutdown(ctx context.Context) error {
	if t.provider == nil {
		return nil
	}
	return t.provider.Shutdown(ctx)
}

// ForceFlush forces all pending spans to be exported immediately.
func (t *Tracer) ForceFlush(ctx context.Context) error {
	if t.provider == nil {
		return nil
	}
	return t.provider.ForceFlush(ctx)
}

// SpanFromContext returns the current span from the context.
func SpanFromContext(ctx context.Context) trace.Span {
	return trace.SpanFromContext(ctx)
}

// TraceID returns the trace ID of the current span in the context.
func TraceID(ctx context.Context) string {
	span := trace.SpanFromContext(ctx)
	if !span.SpanContext().IsValid() {
		return ""
	}
	return span.SpanContext().TraceID().String()
}

// SpanID returns the span ID of the current span in the context.
func SpanID(ctx context.Context) string {
	span := trace.SpanFromContext(ctx)
	if !span.SpanContext().IsValid() {
		return ""
	}
	return span.SpanContext().SpanID().String()
}

// Common attribute keys for OpenConform tracing.
var (
	// Plan attributes
	AttrPlanID      = attribute.Key("plan.id")
	AttrPlanType    = attribute.Key("plan.type")
	AttrPlanStatus  = attribute.Key("plan.status")
	AttrPlanOutcome = attribute.Key("plan.outcome")

	// Job and device attributes
	AttrJobID      = attribute.Key("job.id")
	AttrJobStatus  = attribute.Key("job.status")
	AttrDeviceID   = attribute.Key("device.id")
	AttrDeviceName = attribute.Key("device.name")
	AttrPlatform   = attribute.Key("device.platform")

	// Compliance attributes
	AttrFeature  = attribute.Key("feature")
	AttrStrategy = attribute.Key("strategy")
	AttrState    = attribute.Key("compliance.state")
	AttrRevision = attribute.Key("compliance.revision")

	// Driver attributes
	AttrDriverPlatform = attribute.Key("driver.platform")
	AttrDriverOp       = attribute.Key("driver.operation")

	// Error attributes
	AttrErrorClass   = attribute.Key("error.class")
	AttrErrorCode    = attribute.Key("error.code")
	AttrErrorMessage = attribute.Key("error.message")

	// Metadata attributes
	AttrTargetHost = attribute.Key("target.host")
	AttrTargetID   = attribute.Key("target.id")
)
