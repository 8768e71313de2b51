package observability

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_http_requests_total",
			Help: "Total number of HTTP requests processed by the chat coordinator.",
		},
		[]string{"method", "route", "status"},
	)
	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chat_http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)
	wsActiveConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "chat_ws_active_connections",
			Help: "Number of active websocket connections.",
		},
	)
	wsEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_ws_events_total",
			Help: "Total number of websocket events by name and outcome.",
		},
		[]string{"event", "outcome"},
	)
	wsDroppedFramesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_ws_dropped_frames_total",
			Help: "Inbound frames discarded before dispatch.",
		},
		[]string{"reason"},
	)
	dispatchDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "chat_dispatch_duration_seconds",
			Help:    "Time spent processing one dispatcher job, broadcasts included.",
			Buckets: []float64{.0001, .0005, .001, .005, .01, .05, .1},
		},
	)
	lobbyUsers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "chat_lobby_users",
			Help: "Number of users that joined the lobby.",
		},
	)
	roomsTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "chat_rooms",
			Help: "Number of existing rooms.",
		},
	)
	amqpPublishErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_amqp_publish_errors_total",
			Help: "Total number of AMQP publish errors.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		httpRequestsTotal,
		httpRequestDuration,
		wsActiveConnections,
		wsEventsTotal,
		wsDroppedFramesTotal,
		dispatchDuration,
		lobbyUsers,
		roomsTotal,
		amqpPublishErrorsTotal,
	)
}

func HTTPMetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}
		status := c.Writer.Status()

		httpRequestsTotal.WithLabelValues(c.Request.Method, route, strconv.Itoa(status)).Inc()
		httpRequestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	}
}

func IncWSActive() {
	wsActiveConnections.Inc()
}

func DecWSActive() {
	wsActiveConnections.Dec()
}

// IncWSEvent counts an inbound event. Outcome is "ok", "rejected" or "ignored".
func IncWSEvent(event, outcome string) {
	wsEventsTotal.WithLabelValues(event, outcome).Inc()
}

func IncDroppedFrame(reason string) {
	wsDroppedFramesTotal.WithLabelValues(reason).Inc()
}

func ObserveDispatch(d time.Duration) {
	dispatchDuration.Observe(d.Seconds())
}

// SetPopulation records the current lobby and room counts.
func SetPopulation(users, rooms int) {
	lobbyUsers.Set(float64(users))
	roomsTotal.Set(float64(rooms))
}

func IncAMQPPublishError() {
	amqpPublishErrorsTotal.Inc()
}
