package observability

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "unread_http_requests_total",
			Help: "Total number of HTTP requests processed by the unread service.",
		},
		[]string{"method", "route", "status"},
	)
	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "unread_http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)
	grpcServerHandledTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "grpc_server_handled_total",
			Help: "Total number of gRPC requests handled by the server.",
		},
		[]string{"grpc_service", "grpc_method", "grpc_code"},
	)
	streamActiveConnections = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "unread_stream_active_connections",
			Help: "Number of open delivery channel connections.",
		},
		[]string{"transport"},
	)
	streamEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "unread_stream_events_total",
			Help: "Total number of delivery channel lifecycle events.",
		},
		[]string{"transport", "event"},
	)
	broadcastTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "unread_broadcast_deliveries_total",
			Help: "Fan-out attempts per connection by outcome.",
		},
		[]string{"result"},
	)
	cacheOpsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "unread_cache_operations_total",
			Help: "Message cache lookups and evictions.",
		},
		[]string{"cache", "result"},
	)
	markReadTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "unread_marked_read_total",
			Help: "Messages transitioned from unread to read.",
		},
		[]string{"kind"},
	)
	amqpPublishErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "unread_amqp_publish_errors_total",
			Help: "Total number of AMQP publish errors.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		httpRequestsTotal,
		httpRequestDuration,
		grpcServerHandledTotal,
		streamActiveConnections,
		streamEventsTotal,
		broadcastTotal,
		cacheOpsTotal,
		markReadTotal,
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

func GRPCServerMetricsUnaryInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		resp, err := handler(ctx, req)
		statusInfo := status.Convert(err)
		service, method := splitFullMethod(info.FullMethod)
		grpcServerHandledTotal.WithLabelValues(service, method, statusInfo.Code().String()).Inc()
		return resp, err
	}
}

func splitFullMethod(fullMethod string) (string, string) {
	parts := strings.Split(fullMethod, "/")
	if len(parts) < 3 {
		return "unknown", "unknown"
	}
	return parts[1], parts[2]
}

func IncStreamActive(transport string) {
	streamActiveConnections.WithLabelValues(transport).Inc()
}

func DecStreamActive(transport string) {
	streamActiveConnections.WithLabelValues(transport).Dec()
}

func IncStreamEvent(transport, event string) {
	streamEventsTotal.WithLabelValues(transport, event).Inc()
}

func IncBroadcast(result string) {
	broadcastTotal.WithLabelValues(result).Inc()
}

func AddMarkedRead(kind string, n int) {
	markReadTotal.WithLabelValues(kind).Add(float64(n))
}

func IncAMQPPublishError() {
	amqpPublishErrorsTotal.Inc()
}

// CacheObserver exports message cache activity under a cache label.
type CacheObserver string

func (o CacheObserver) CacheHit()      { cacheOpsTotal.WithLabelValues(string(o), "hit").Inc() }
func (o CacheObserver) CacheMiss()     { cacheOpsTotal.WithLabelValues(string(o), "miss").Inc() }
func (o CacheObserver) CacheEviction() { cacheOpsTotal.WithLabelValues(string(o), "eviction").Inc() }
