// Package exporters exposes the process metrics registry over HTTP.
package exporters

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HTTPHandler serves every promauto-registered metric in the Prometheus text format.
func HTTPHandler() http.Handler {
	return promhttp.Handler()
}
