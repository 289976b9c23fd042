package main

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "fitness_api"

var (
	httpRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "http_requests_total",
		Help:      "The total number of handled requests",
	}, []string{"method", "route", "status"})

	httpRequestDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: metricsNamespace,
		Name:      "http_request_duration_seconds",
		Help:      "Request latency",
		Buckets:   prometheus.DefBuckets,
	})

	dashboardsRecomputed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: "dashboard",
		Name:      "recomputed_total",
		Help:      "Dashboards recomputed by the coordinator",
	})

	dashboardNotificationsCoalesced = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: "dashboard",
		Name:      "notifications_coalesced_total",
		Help:      "Change notifications merged into an already pending recompute",
	})

	dashboardFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: "dashboard",
		Name:      "failures_total",
		Help:      "Dashboard recomputes or broadcasts that failed",
	}, []string{"stage"})

	realtimeClients = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Subsystem: "realtime",
		Name:      "clients",
		Help:      "Connected dashboard websocket clients",
	})

	aiRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: "ai",
		Name:      "requests_total",
		Help:      "Upstream AI calls by kind and outcome",
	}, []string{"kind", "outcome"})

	aiRateLimited = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: "ai",
		Name:      "rate_limited_total",
		Help:      "AI requests rejected by the per-user limiter",
	})
)

// requestMetrics counts requests by method, route template and status and
// records their latency.
func requestMetrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func(begin time.Time) {
			httpRequestDuration.Observe(time.Since(begin).Seconds())
		}(time.Now())

		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		httpRequests.With(prometheus.Labels{
			"method": c.Request.Method,
			"route":  route,
			"status": strconv.Itoa(c.Writer.Status()),
		}).Inc()
	}
}
