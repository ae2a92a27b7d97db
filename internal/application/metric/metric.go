package metric

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP метрики - количество запросов
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Общее количество HTTP запросов",
		},
		[]string{"method", "endpoint", "status"},
	)

	// HTTP метрики - время обработки запросов
	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Время обработки HTTP запросов в секундах",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint", "status"},
	)

	// HTTP метрики - количество ошибок
	httpErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_errors_total",
			Help: "Общее количество HTTP ошибок",
		},
		[]string{"method", "endpoint", "status"},
	)

	// WS метрики - количество активных соединений
	wsActiveConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ws_active_connections",
			Help: "Количество активных WebSocket соединений",
		},
	)

	wsDroppedMessages = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ws_dropped_messages_total",
			Help: "Messages dropped because the connection send buffer was full or closed",
		},
	)

	wsRateLimited = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ws_rate_limited_messages_total",
			Help: "Inbound messages rejected by the per-connection rate limiter",
		},
	)

	syncMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_messages_total",
			Help: "Inbound sync protocol messages by type",
		},
		[]string{"type"},
	)

	activeRooms = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sync_active_rooms",
			Help: "Rooms with at least one connected member",
		},
	)

	presenceExpired = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sync_presence_expired_total",
			Help: "Presence entries removed by the TTL sweep",
		},
	)
)

// RecordHTTPMetrics записывает метрики HTTP запроса
func RecordHTTPMetrics(method, endpoint string, status int, duration time.Duration) {
	strStatus := strconv.Itoa(status)

	httpRequestsTotal.WithLabelValues(method, endpoint, strStatus).Inc()
	httpRequestDuration.WithLabelValues(method, endpoint, strStatus).Observe(duration.Seconds())

	// Записываем ошибки (статус >= 400)
	if status >= 400 {
		httpErrorsTotal.WithLabelValues(method, endpoint, strStatus).Inc()
	}
}

func IncrementWSActiveConnections() {
	wsActiveConnections.Inc()
}

func DecrementWSActiveConnections() {
	wsActiveConnections.Dec()
}

func IncrementWSDroppedMessages() {
	wsDroppedMessages.Inc()
}

func IncrementWSRateLimited() {
	wsRateLimited.Inc()
}

func RecordSyncMessage(msgType string) {
	syncMessagesTotal.WithLabelValues(msgType).Inc()
}

func SetActiveRooms(count int) {
	activeRooms.Set(float64(count))
}

func AddPresenceExpired(count int) {
	presenceExpired.Add(float64(count))
}
