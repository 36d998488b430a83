package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Telemetry provides a unified telemetry interface combining logging, tracing, metrics, and events.
type Telemetry struct {
	Logger  *Logger
	Tracer  *Tracer
	Metrics *Metrics
	Events  *EventPublisher
	Config  *Config
}

// telemetryContextKey is the context key for telemetry instances.
type telemetryContextKey struct{}

// NewTelemetry creates a new telemetry instance from configuration.
func NewTelemetry(cfg *Config) (*Telemetry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	// Initialize logger
	logger, err := NewLogger(cfg.Logging)
	if err != nil {
		return nil, err
	}

	// Initialize tracer
	tracer, err := NewTracer(cfg.Tracing, cfg.ServiceName, cfg.ServiceVersion, cfg.Environment)
	if err != nil {
		return nil, err
	}

	// Initialize metrics
	metrics, err := NewMetrics(cfg.Metrics)
	if err != nil {
		return nil, err
	}

	// Initialize event publisher
	events, err := NewEventPublisher(cfg.Events)
	if err != nil {
		return nil, err
	}

	return &Telemetry{
		Logger:  logger,
		Tracer:  tracer,
		Metrics: metrics,
		Events:  events,
		Config:  cfg,
	}, nil
}

// WithContext adds the telemetry instance to the context.
func (t *Telemetry) WithContext(ctx context.Context) context.Context {
	ctx = context.WithValue(ctx, telemetryContextKey{}, t)
	ctx = t.Logger.WithContext(ctx)
	return ctx
}

// FromTelemetryContext retrieves the telemetry instance from the context.
// If no telemetry is found, it returns nil.
func FromTelemetryContext(ctx context.Context) *Telemetry {
	if t, ok := ctx.Value(telemetryContextKey{}).(*Telemetry); ok {
		return t
	}
	return nil
}

// Shutdown gracefully shuts down all telemetry components.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	// Shutdown in reverse order of initialization
	if err := t.Events.Shutdown(ctx); err != nil {
		return err
	}

	if err := t.Tracer.Shutdown(ctx); err != nil {
		return err
	}

	// Metrics server is not explicitly shut down here as it may need to continue
	// serving metrics until the very end of the application lifecycle

	return nil
}

// Flush forces all pending telemetry data to be exported.
func (t *Telemetry) Flush(ctx context.Context) error {
	return t.Tracer.ForceFlush(ctx)
}

// StartMetricsServer starts the metrics HTTP server if metrics are enabled.
func (t *Telemetry) StartMetricsServer() error {
	return t.Metrics.StartMetricsServer()
}

// Context Helpers for common instrumentation patterns

// InstrumentedContext creates a context with telemetry, logger fields, and a trace span.
type InstrumentedContext struct {
	Ctx    context.Context
	Span   trace.Span
	Logger *Logger
	Timer  *Timer
}

// StartOperation begins an instrumented operation with logging, tracing, and timing.
func StartOperation(ctx context.Context, operation string, attrs ...attribute.KeyValue) *InstrumentedContext {
	tel := FromTelemetryContext(ctx)
	if tel == nil {
		return &InstrumentedContext{
			Ctx:    ctx,
			Logger: FromContext(ctx),
			Timer:  NewTimer(),
		}
	}

	// Start trace span
	spanCtx, span := tel.Tracer.StartSpan(ctx, operation, attrs...)

	// Create logger with operation field
	logger := tel.Logger.WithField("operation", operation)

	// Add trace context to logger if available
	if span.SpanContext().IsValid() {
		logger = logger.WithFields(map[string]interface{}{
			"trace_id": span.SpanContext().TraceID().String(),
			"span_id":  span.SpanContext().SpanID().String(),
		})
	}

	return &InstrumentedContext{
		Ctx:    spanCtx,
		Span:   span,
		Logger: logger,
		Timer:  NewTimer(),
	}
}

// End finishes the instrumented operation, recording success or failure.
func (ic *InstrumentedContext) End(err error) {
	if ic.Span != nil {
		if err != nil {
			RecordError(ic.Span, err)
		} else {
			RecordSuccess(ic.Span)
		}
		ic.Span.End()
	}
}

// WithDeployContext creates a context enriched with deployment-specific telemetry.
func WithDeployContext(ctx context.Context, planID, user string) context.Context {
	tel := FromTelemetryContext(ctx)
	if tel == nil {
		return ctx
	}

	// Start deployment span
	spanCtx, span := tel.Tracer.StartDeploySpan(ctx, planID)

	// Create deployment-specific logger
	logger := tel.Logger.WithPlan(planID).WithField("user", user)
	spanCtx = logger.WithContext(spanCtx)

	// Record deployment started metric
	tel.Metrics.RecordDeployStarted(user)

	// Publish deployment started event
	_ = tel.Events.PublishDeployStarted(planID, user)

	// Store the span in context for later retrieval
	spanCtx = context.WithValue(spanCtx, deploySpanKey{}, span)
	spanCtx = context.WithValue(spanCtx, deployTimerKey{}, NewTimer())

	return spanCtx
}

// deploySpanKey is the context key for deployment spans.
type deploySpanKey struct{}

// deployTimerKey is the context key for deployment timers.
type deployTimerKey struct{}

// EndDeployContext completes the deployment context, recording metrics and events.
func EndDeployContext(ctx context.Context, planID, outcome string, err error) {
	tel := FromTelemetryContext(ctx)
	if tel == nil {
		return
	}

	// Get the deployment span from context
	if span, ok := ctx.Value(deploySpanKey{}).(trace.Span); ok {
		span.SetAttributes(AttrPlanOutcome.String(outcome))
		if err != nil {
			RecordError(span, err)
		} else {
			RecordSuccess(span)
		}
		span.End()
	}

	// Get the timer from context
	var duration time.Duration
	if timer, ok := ctx.Value(deployTimerKey{}).(*Timer); ok {
		duration = timer.Duration()
	}

	// Record metrics
	tel.Metrics.RecordDeployCompleted(outcome, duration)

	// Publish events
	_ = tel.Events.PublishDeployCompleted(planID, outcome, duration)
}

// WithJobContext creates a context enriched with per-device job telemetry.
func WithJobContext(ctx context.Context, planID, jobID, deviceID string) context.Context {
	tel := FromTelemetryContext(ctx)
	if tel == nil {
		return ctx
	}

	// Start job span
	spanCtx, span := tel.Tracer.StartJobSpan(ctx, planID, jobID, deviceID)

	// Create job-specific logger
	logger := tel.Logger.
		WithPlan(planID).
		WithJob(jobID).
		WithField("device_id", deviceID)
	spanCtx = logger.WithContext(spanCtx)

	// Store the span and timer in context
	spanCtx = context.WithValue(spanCtx, jobSpanKey{}, span)
	spanCtx = context.WithValue(spanCtx, jobTimerKey{}, NewTimer())

	return spanCtx
}

// jobSpanKey is the context key for job spans.
type jobSpanKey struct{}

// jobTimerKey is the context key for job timers.
type jobTimerKey struct{}

// EndJobContext completes the job context, recording metrics and events.
func EndJobContext(ctx context.Context, planID, jobID, deviceID, platform, status string, err error) {
	tel := FromTelemetryContext(ctx)
	if tel == nil {
		return
	}

	// Get the span from context
	if span, ok := ctx.Value(jobSpanKey{}).(trace.Span); ok {
		span.SetAttributes(AttrJobStatus.String(status))
		if err != nil {
			RecordError(span, err)
		} else {
			RecordSuccess(span)
		}
		span.End()
	}

	// Get the timer from context
	var duration time.Duration
	if timer, ok := ctx.Value(jobTimerKey{}).(*Timer); ok {
		duration = timer.Duration()
	}

	// Record metrics
	tel.Metrics.RecordJobCompleted(status, platform, duration)

	// Publish events
	_ = tel.Events.PublishJobFinished(planID, jobID, deviceID, status, duration)
}

// WithDriverContext creates a context enriched with driver-specific telemetry.
func WithDriverContext(ctx context.Context, platform, address string) context.Context {
	tel := FromTelemetryContext(ctx)
	if tel == nil {
		return ctx
	}

	// Create driver-specific logger
	logger := tel.Logger.WithPlatform(platform).WithField("address", address)
	return logger.WithContext(ctx)
}

// RecordDriverOperation records a device driver operation with metrics and tracing.
func RecordDriverOperation(ctx context.Context, platform, operation string, fn func() error) error {
	tel := FromTelemetryContext(ctx)

	// Start span
	var span trace.Span
	if tel != nil {
		ctx, span = tel.Tracer.StartDriverSpan(ctx, platform, operation)
		defer span.End()
	}

	// Start timer
	timer := NewTimer()

	// Execute operation
	err := fn()

	// Record metrics
	if tel != nil {
		duration := timer.Duration()
		tel.Metrics.RecordDriverCall(platform, operation, duration)
		if err != nil {
			tel.Metrics.RecordDriverError(platform, operation)
			RecordError(span, err)
		} else {
			RecordSuccess(span)
		}
	}

	return err
}
