// Package telemetry provides OpenTelemetry instrumentation for sdlcd.
//
// It owns the TracerProvider and MeterProvider lifecycles, exporting over
// OTLP (gRPC or HTTP/protobuf) to a collector. Telemetry failures never
// crash the daemon; the instance degrades to no-op providers and keeps
// serving. Instrumented packages obtain tracers and meters through the
// global otel registry, so a disabled Telemetry simply leaves the no-op
// globals in place.
package telemetry
