// Package telemetry provides observability instrumentation for the
// provisioner.
//
// The package integrates structured logging (zerolog), distributed tracing
// (OpenTelemetry) and metrics (Prometheus).
//
// # Usage
//
// Initialize telemetry at application startup:
//
//	cfg := telemetry.DefaultConfig()
//	cfg.ServiceVersion = version
//
//	tel, err := telemetry.NewTelemetry(cfg)
//	if err != nil {
//	    log.Fatal().Err(err).Msg("telemetry")
//	}
//	defer tel.Shutdown(context.Background())
//
// Pass tel.Observer() to the orchestrator so every run and step is traced and
// counted, and mount tel.Metrics.Handler() at /metrics.
//
// # Structured Logging
//
// NewLogger returns a plain zerolog.Logger. Components derive a child logger
// tagged with their name:
//
//	logger := tel.Logger.With().Str("component", "trigger").Logger()
//
// Log levels: trace, debug, info, warn, error, fatal
//
// # Distributed Tracing
//
// Each provisioning run is one "provision.run" span with a child span per
// step. Classified errors are recorded on the span together with their class
// and code. Exporters: otlp (gRPC), stdout, none.
//
// # Metrics
//
// Metrics live on a private registry under the configured namespace:
//
//   - runs_total{outcome}, run_duration_seconds{outcome}
//   - duplicate_deliveries_total, claim_conflicts_total
//   - manifest_conflicts_total
//   - provider_calls_total{step}, provider_errors_total{step,class}
//   - step_duration_seconds{step}
//   - stuck_clients
package telemetry
