package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Telemetry bundles logging, tracing, metrics, and events into a single
// handle carried through a run's context.
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

	logger, err := NewLogger(cfg.Logging)
	if err != nil {
		return nil, err
	}

	tracer, err := NewTracer(cfg.Tracing, cfg.ServiceName, cfg.ServiceVersion, cfg.Environment)
	if err != nil {
		return nil, err
	}

	metrics, err := NewMetrics(cfg.Metrics)
	if err != nil {
		return nil, err
	}

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
	if err := t.Events.Shutdown(ctx); err != nil {
		return err
	}
	if err := t.Tracer.Shutdown(ctx); err != nil {
		return err
	}
	return nil
}

// Flush forces all pending telemetry data to be exported.
func (t *Telemetry) Flush(ctx context.Context) error {
	return t.Tracer.ForceFlush(ctx)
}

// StartMetricsServer starts the metrics HTTP server if --metrics-addr was set.
func (t *Telemetry) StartMetricsServer() error {
	return t.Metrics.StartMetricsServer()
}

// InstrumentedContext carries a logger, span, and timer for one
// instrumented operation.
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

	spanCtx, span := tel.Tracer.StartSpan(ctx, operation, attrs...)
	logger := tel.Logger.WithField("operation", operation)
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

// runSpanKey is the context key for the active run span.
type runSpanKey struct{}

// runTimerKey is the context key for the active run timer.
type runTimerKey struct{}

// WithRunContext creates a context enriched with run-specific telemetry,
// covering the driver's LOCKED through EXIT states.
func WithRunContext(ctx context.Context, runID, host, mode string) context.Context {
	tel := FromTelemetryContext(ctx)
	if tel == nil {
		return ctx
	}

	spanCtx, span := tel.Tracer.StartRunSpan(ctx, runID, host, mode)
	logger := tel.Logger.WithRunID(runID).WithField("host", host).WithField("mode", mode)
	spanCtx = logger.WithContext(spanCtx)

	tel.Metrics.RecordRunStarted()
	_ = tel.Events.PublishRunStarted(runID, host, mode)

	spanCtx = context.WithValue(spanCtx, runSpanKey{}, span)
	spanCtx = context.WithValue(spanCtx, runTimerKey{}, NewTimer())

	return spanCtx
}

// EndRunContext completes the run context, recording metrics and events.
func EndRunContext(ctx context.Context, runID, mode, status string, err error) {
	tel := FromTelemetryContext(ctx)
	if tel == nil {
		return
	}

	if span, ok := ctx.Value(runSpanKey{}).(trace.Span); ok {
		if err != nil {
			RecordError(span, err)
		} else {
			RecordSuccess(span)
		}
		span.End()
	}

	var duration time.Duration
	if timer, ok := ctx.Value(runTimerKey{}).(*Timer); ok {
		duration = timer.Duration()
	}

	tel.Metrics.RecordRunCompleted(mode, status, duration)

	if err != nil {
		_ = tel.Events.PublishRunFailed(runID, err.Error())
	} else {
		_ = tel.Events.PublishRunCompleted(runID, status, duration)
	}
}

// stepSpanKey is the context key for the active step span.
type stepSpanKey struct{}

// stepTimerKey is the context key for the active step timer.
type stepTimerKey struct{}

// WithStepContext creates a context enriched with step-specific telemetry
// for the duration of one popped-and-evaluated step.
func WithStepContext(ctx context.Context, runID, step string, priority int) context.Context {
	tel := FromTelemetryContext(ctx)
	if tel == nil {
		return ctx
	}

	spanCtx, span := tel.Tracer.StartStepSpan(ctx, step, priority)
	logger := tel.Logger.WithRunID(runID).WithField("step", step).WithField("priority", priority)
	spanCtx = logger.WithContext(spanCtx)

	_ = tel.Events.PublishStepStarted(runID, step)

	spanCtx = context.WithValue(spanCtx, stepSpanKey{}, span)
	spanCtx = context.WithValue(spanCtx, stepTimerKey{}, NewTimer())

	return spanCtx
}

// EndStepContext completes the step context, recording metrics and events.
func EndStepContext(ctx context.Context, runID, step string, err error) {
	tel := FromTelemetryContext(ctx)
	if tel == nil {
		return
	}

	if span, ok := ctx.Value(stepSpanKey{}).(trace.Span); ok {
		if err != nil {
			RecordError(span, err)
		} else {
			RecordSuccess(span)
		}
		span.End()
	}

	var duration time.Duration
	if timer, ok := ctx.Value(stepTimerKey{}).(*Timer); ok {
		duration = timer.Duration()
	}

	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	tel.Metrics.RecordStep(outcome)

	if err != nil {
		_ = tel.Events.PublishStepFailed(runID, step, err.Error())
	} else {
		_ = tel.Events.PublishStepCompleted(runID, step, duration)
	}
}

// RecordHTTPOperation records an operation against the step repository
// with metrics and tracing, mirroring the shape of a provider call in a
// config-management engine but scoped to the HTTP fetch/listing surface
// rolloutd actually has.
func RecordHTTPOperation(ctx context.Context, op string, fn func() error) error {
	tel := FromTelemetryContext(ctx)

	err := fn()

	if tel != nil {
		outcome := "ok"
		if err != nil {
			outcome = "error"
		}
		tel.Metrics.RecordHTTPRequest(op, outcome)
	}

	return err
}
