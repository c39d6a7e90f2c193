// Package instrumentation provides OpenTelemetry metrics and tracing for
// the OAuth core: counters for flow events (codes issued and redeemed,
// tokens issued and refreshed, replay rejections), storage operation
// counters and latency histograms, and observable gauges for storage sizes.
//
// Instrumentation is optional. When disabled, no-op providers are used and
// the overhead is negligible. Exporter wiring (Prometheus, OTLP) belongs to
// the embedding application, which can install its own providers through
// the Config.
package instrumentation
