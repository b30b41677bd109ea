package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flatfit_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "flatfit_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	// Business metrics
	UsersRegistered = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "flatfit_users_registered_total",
			Help: "Total users registered",
		},
	)

	RoomsResolved = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flatfit_chat_rooms_resolved_total",
			Help: "Total chat room resolutions",
		},
		[]string{"outcome"}, // "created" or "existing"
	)

	MessagesSent = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "flatfit_chat_messages_sent_total",
			Help: "Total chat messages published",
		},
	)

	MessagesRead = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "flatfit_chat_messages_read_total",
			Help: "Total messages transitioned to READ",
		},
	)

	// Realtime metrics
	WSConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "flatfit_ws_connections",
			Help: "Active websocket connections",
		},
	)

	WSSubscriptions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flatfit_ws_subscriptions_total",
			Help: "Total feed subscriptions",
		},
		[]string{"feed"}, // "room", "read-receipts", "personal"
	)

	// Rate limit metrics
	RateLimitHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "flatfit_rate_limit_hits_total",
			Help: "Total message rate limit hits",
		},
	)

	// Infrastructure metrics
	RedisLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "flatfit_redis_latency_seconds",
			Help:    "Redis operation latency",
			Buckets: []float64{.0001, .0005, .001, .005, .01, .05},
		},
	)

	PostgresLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "flatfit_postgres_latency_seconds",
			Help:    "PostgreSQL query latency",
			Buckets: []float64{.001, .005, .01, .025, .05, .1},
		},
	)
)
