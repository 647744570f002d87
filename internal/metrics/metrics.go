// Package metrics holds the Prometheus collectors of the service.
package metrics

import (
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	OriginRandom   = "random"
	OriginVanity   = "vanity"
	OriginExisting = "existing"

	OutcomeRedirected = "redirected"
	OutcomeNotFound   = "not_found"
	OutcomeGone       = "gone"
	OutcomeInactive   = "inactive"
	OutcomeError      = "error"
)

var (
	BindingsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shortly_bindings_total",
			Help: "Shorten requests partitioned by how the short code was obtained",
		},
		[]string{"origin"},
	)

	CodeCollisions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "shortly_code_collisions_total",
			Help: "Generated short codes that were already taken",
		},
	)

	Resolutions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shortly_resolutions_total",
			Help: "Short code lookups partitioned by outcome",
		},
		[]string{"outcome"},
	)

	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests processed",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)

	httpInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "http_inflight_requests",
			Help: "Number of HTTP requests currently being served",
		},
	)
)

// Middleware records request counts and latencies. The route template is
// used as label to keep cardinality low.
func Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			httpInFlight.Inc()
			defer httpInFlight.Dec()

			// render the error here so the recorded status is the one sent
			if err := next(c); err != nil {
				c.Error(err)
			}

			status := c.Response().Status
			route := c.Path()
			if route == "" {
				route = "unmatched"
			}

			labels := prometheus.Labels{
				"method": c.Request().Method,
				"route":  route,
				"status": strconv.Itoa(status),
			}
			httpRequestsTotal.With(labels).Inc()
			httpRequestDuration.With(labels).Observe(time.Since(start).Seconds())

			return nil
		}
	}
}
