package dispatcher

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

func meter() metric.Meter {
	return otel.Meter("github.com/vanetsim/pseudosim/internal/dispatcher")
}
