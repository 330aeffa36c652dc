package otel

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

// GetMeterProvider returns the globally registered meter provider. Call it
// after InitTelemetry so instruments attach to the OTLP pipeline it
// configured.
func GetMeterProvider() metric.MeterProvider {
	return otel.GetMeterProvider()
}
