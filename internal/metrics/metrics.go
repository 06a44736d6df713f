// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pairchat_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pairchat_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	// LiveClients is the number of clients registered with the hub.
	LiveClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pairchat_live_clients",
		Help: "Number of connected live clients",
	})

	// LiveTopics is the number of topics with at least one subscriber.
	LiveTopics = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pairchat_live_topics",
		Help: "Number of live topics with subscribers",
	})

	// EventsDropped counts events skipped because a subscriber's buffer was full.
	EventsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pairchat_events_dropped_total",
		Help: "Total live events dropped for slow subscribers",
	})

	// MessagesSent counts chat messages persisted.
	MessagesSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pairchat_messages_sent_total",
		Help: "Total chat messages sent",
	})

	// ProfileCacheHits and ProfileCacheMisses track profile cache lookups.
	ProfileCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pairchat_profile_cache_hits_total",
		Help: "Total profile cache hits",
	})
	ProfileCacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pairchat_profile_cache_misses_total",
		Help: "Total profile cache misses",
	})

	// BrokerErrors counts failures publishing to or receiving from the broker.
	BrokerErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pairchat_broker_errors_total",
		Help: "Total broker publish/receive errors",
	}, []string{"op"})
)

// Middleware records HTTP request metrics.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		httpRequestsTotal.WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).Inc()
		httpRequestDuration.WithLabelValues(c.Request.Method, route).Observe(time.Since(start).Seconds())
	}
}
