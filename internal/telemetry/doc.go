// Package telemetry provides OpenTelemetry instrumentation for formulad.
//
// # Overview
//
// This package implements distributed tracing, metrics, and log export
// using the OpenTelemetry Go SDK. Telemetry data is exported over OTLP
// to a collector (gRPC by default, http/protobuf for HTTPS endpoints).
//
// # Usage
//
// Create telemetry instance:
//
//	cfg := telemetry.NewDefaultConfig()
//	tel, err := telemetry.New(ctx, cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer tel.Shutdown(ctx)
//
// Use tracer and meter:
//
//	tracer := tel.Tracer("formulad.agent")
//	ctx, span := tracer.Start(ctx, "Agent.Solve")
//	defer span.End()
//
//	meter := tel.Meter("formulad.server")
//	counter, _ := meter.Int64Counter("solve.requests")
//	counter.Add(ctx, 1)
//
// The LoggerProvider feeds the zap-to-OTEL bridge in the logging
// package, so structured logs ship to the same collector.
//
// # Configuration
//
//	observability:
//	  enable_telemetry: true
//	  otlp_endpoint: "localhost:4317"
//	  service_name: "formulad"
//	  sample_ratio: 1.0  # 100% in dev, lower in prod
//
// # Error Handling
//
// Telemetry failures do not crash the application. If a provider cannot
// be initialized, the instance degrades gracefully, falls back to no-op
// providers, and reports the cause through Health.
//
// # Testing
//
// Use TestTelemetry for tests:
//
//	tt := telemetry.NewTestTelemetry()
//	tracer := tt.Tracer("test")
//	_, span := tracer.Start(ctx, "test-span")
//	span.End()
//	tt.AssertSpanExists(t, "test-span")
package telemetry
