package telemetry

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"

	"github.com/lumaops/provisioner/pkg/engine"
)

// Observer feeds orchestrator lifecycle events into metrics and traces. It
// implements engine.Observer.
type Observer struct {
	metrics *Metrics
	tracer  *Tracer
	logger  zerolog.Logger
}

// NewObserver creates an observer. Either metrics or tracer may be nil.
func NewObserver(metrics *Metrics, tracer *Tracer, logger zerolog.Logger) *Observer {
	return &Observer{
		metrics: metrics,
		tracer:  tracer,
		logger:  logger.With().Str("component", "observer").Logger(),
	}
}

// RunStarted opens the run span.
func (o *Observer) RunStarted(ctx context.Context, clientID string) context.Context {
	if o.tracer == nil {
		return ctx
	}
	ctx, _ = o.tracer.StartRunSpan(ctx, clientID)
	return ctx
}

// RunFinished closes the run span and records run metrics.
func (o *Observer) RunFinished(ctx context.Context, clientID string, outcome string, err error, elapsed time.Duration) {
	o.metrics.RecordRun(clientID, outcome, elapsed)
	if o.tracer == nil {
		return
	}
	span := trace.SpanFromContext(ctx)
	span.SetAttributes(AttrOutcome.String(outcome))
	endSpan(span, err)
}

// StepStarted opens a step span under the run span.
func (o *Observer) StepStarted(ctx context.Context, clientID string, step engine.Step) context.Context {
	o.metrics.RecordStepStart(step)
	if o.tracer == nil {
		return ctx
	}
	ctx, _ = o.tracer.StartStepSpan(ctx, clientID, step)
	return ctx
}

// StepFinished closes the step span and records step metrics.
func (o *Observer) StepFinished(ctx context.Context, clientID string, step engine.Step, err error, elapsed time.Duration) {
	o.metrics.RecordStep(step, err, elapsed)
	if o.tracer == nil {
		return
	}
	endSpan(trace.SpanFromContext(ctx), err)
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		RecordError(span, err)
	} else {
		RecordSuccess(span)
	}
	span.End()
}

// StuckClient raises the stuck gauge for the client.
func (o *Observer) StuckClient(clientID string, attempts int) {
	o.metrics.MarkStuck(clientID)
	o.logger.Error().Str("client_id", clientID).Int("attempts", attempts).
		Msg("client is stuck and needs operator attention")
}

var _ engine.Observer = (*Observer)(nil)
