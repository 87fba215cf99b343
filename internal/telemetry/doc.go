// Package telemetry wraps OpenTelemetry SDK initialization and provides a
// centralized TracerProvider for the roundtable service. When telemetry is
// disabled a noop implementation is used and no external service is
// contacted.
package telemetry
