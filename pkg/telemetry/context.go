package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/trace"
)

// Telemetry bundles the logger, tracer and metrics for one process.
type Telemetry struct {
	Logger  *Logger
	Tracer  *Tracer
	Metrics *Metrics
	Config  *Config
}

// NewTelemetry creates a new telemetry instance from configuration.
func NewTelemetry(cfg *Config) (*Telemetry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger, err := NewLogger(cfg.Logging)
	if err != nil {
		return nil, err
	}

	tracer, err := NewTracer(cfg.Tracing, cfg.ServiceName, cfg.ServiceVersion)
	if err != nil {
		return nil, err
	}

	metrics, err := NewMetrics(cfg.Metrics)
	if err != nil {
		return nil, err
	}

	return &Telemetry{
		Logger:  logger,
		Tracer:  tracer,
		Metrics: metrics,
		Config:  cfg,
	}, nil
}

// NewNopTelemetry returns telemetry that records nothing.
func NewNopTelemetry() *Telemetry {
	cfg := DefaultConfig()
	tracer, _ := NewTracer(cfg.Tracing, cfg.ServiceName, cfg.ServiceVersion)
	metrics, _ := NewMetrics(cfg.Metrics)
	return &Telemetry{
		Logger:  NewNopLogger(),
		Tracer:  tracer,
		Metrics: metrics,
		Config:  cfg,
	}
}

// Shutdown flushes the metrics textfile and pending spans.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	if err := t.Metrics.WriteTextfile(); err != nil {
		t.Logger.Warn("metrics textfile not written", Fields{"error": err.Error()})
	}
	return t.Tracer.Shutdown(ctx)
}

// InstrumentedStep times and traces one workflow step.
type InstrumentedStep struct {
	Ctx    context.Context
	Span   trace.Span
	Logger *Logger

	workflow string
	step     string
	timer    *Timer
	metrics  *Metrics
}

// StartStep begins an instrumented step with logging, tracing, and timing.
func (t *Telemetry) StartStep(ctx context.Context, workflow, step string) *InstrumentedStep {
	spanCtx, span := t.Tracer.StartStepSpan(ctx, workflow, step)

	logger := t.Logger.WithField("step", step)
	if span.SpanContext().IsValid() {
		logger = logger.WithField("trace_id", span.SpanContext().TraceID().String())
	}

	return &InstrumentedStep{
		Ctx:      spanCtx,
		Span:     span,
		Logger:   logger,
		workflow: workflow,
		step:     step,
		timer:    NewTimer(),
		metrics:  t.Metrics,
	}
}

// End finishes the step, recording its result on the span and in metrics.
func (s *InstrumentedStep) End(result string, err error) {
	s.Span.SetAttributes(AttrResult.String(result))
	if err != nil {
		RecordError(s.Span, err)
	} else {
		RecordSuccess(s.Span)
	}
	s.Span.End()
	s.metrics.RecordStep(s.workflow, s.step, result, s.timer.Duration())
}
