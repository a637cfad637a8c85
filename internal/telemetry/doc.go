// Package telemetry wires OpenTelemetry export for wavekeeper.
//
// The retry coordinator, workflow machine and task graph validator take their
// tracer and meter from the otel globals. New installs OTLP-backed providers
// as those globals when telemetry is enabled and leaves the no-op defaults in
// place otherwise, so short-lived hook invocations pay nothing by default.
//
// # Usage
//
//	cfg, err := telemetry.FromSettings(appCfg.Telemetry, version)
//	tel, err := telemetry.New(ctx, cfg, logger)
//	defer tel.Shutdown(ctx)
//
// # Configuration
//
//	telemetry:
//	  enabled: true
//	  endpoint: "localhost:4317"
//	  protocol: grpc          # or http/protobuf
//	  sample_rate: 1.0
//	  metrics: true
//	  export_interval: "15s"
//
// # Testing
//
// NewTestTelemetry records spans and metrics in memory; Install makes it the
// global provider for code that calls otel.Tracer at construction time.
package telemetry
