package observe

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsHandler serves the process-wide Prometheus registry, which [Init]
// exports into unless given its own registry.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
