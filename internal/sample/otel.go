package sample

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/databike/replay/internal/sample"

func meter() metric.Meter {
	return otel.Meter(instrumentationName)
}
