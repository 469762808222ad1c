package observ

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "talksphere_http_requests_total",
			Help: "Total number of HTTP requests processed.",
		},
		[]string{"method", "route", "status"},
	)
	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "talksphere_http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)
	wsActiveConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "talksphere_ws_active_connections",
			Help: "Number of live websocket connections on this process.",
		},
	)
	wsEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "talksphere_ws_events_total",
			Help: "Inbound websocket events by name.",
		},
		[]string{"event"},
	)
	deliveriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "talksphere_deliveries_total",
			Help: "Outbound frames handed to local connections by the delivery engine.",
		},
		[]string{"event"},
	)
	droppedEventsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "talksphere_dropped_events_total",
			Help: "Malformed broker events dropped by the delivery engine.",
		},
	)
	brokerPublishErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "talksphere_broker_publish_errors_total",
			Help: "Broker publish failures after the retry.",
		},
		[]string{"driver"},
	)
	amqpPublishErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "talksphere_amqp_publish_errors_total",
			Help: "Domain event publish failures.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		httpRequestsTotal,
		httpRequestDuration,
		wsActiveConnections,
		wsEventsTotal,
		deliveriesTotal,
		droppedEventsTotal,
		brokerPublishErrorsTotal,
		amqpPublishErrorsTotal,
	)
}

func HTTPMetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := c.Writer.Status()

		httpRequestsTotal.WithLabelValues(c.Request.Method, route, strconv.Itoa(status)).Inc()
		httpRequestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	}
}

// MetricsHandler serves the default registry.
func MetricsHandler() gin.HandlerFunc {
	return gin.WrapH(promhttp.Handler())
}

// SetWSActive records the number of live websocket connections.
func SetWSActive(n int) { wsActiveConnections.Set(float64(n)) }

func IncWSEvent(event string) { wsEventsTotal.WithLabelValues(event).Inc() }

func IncDelivery(event string) { deliveriesTotal.WithLabelValues(event).Inc() }

func IncDroppedEvent() { droppedEventsTotal.Inc() }

func IncBrokerPublishError(driver string) { brokerPublishErrorsTotal.WithLabelValues(driver).Inc() }

func IncAMQPPublishError() { amqpPublishErrorsTotal.Inc() }
