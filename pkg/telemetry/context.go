package telemetry

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
)

// Telemetry bundles the logger, tracer and metrics built from one Config.
type Telemetry struct {
	Logger  zerolog.Logger
	Tracer  *Tracer
	Metrics *Metrics
	Config  Config
}

// NewTelemetry creates a new telemetry instance from configuration.
func NewTelemetry(cfg Config) (*Telemetry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger, err := NewLogger(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}
	logger = logger.With().Str("service", cfg.ServiceName).Logger()

	tracer, err := NewTracer(cfg.Tracing, cfg.ServiceName, cfg.ServiceVersion, cfg.Environment)
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

// Observer returns an engine observer reporting to this instance.
func (t *Telemetry) Observer() *Observer {
	return NewObserver(t.Metrics, t.Tracer, t.Logger)
}

// WithContext adds the logger to the context.
func (t *Telemetry) WithContext(ctx context.Context) context.Context {
	return t.Logger.WithContext(ctx)
}

// LoggerFrom returns the logger stored in ctx, or a disabled logger.
func LoggerFrom(ctx context.Context) *zerolog.Logger {
	return zerolog.Ctx(ctx)
}

// Shutdown flushes the tracer.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	return t.Tracer.Shutdown(ctx)
}
