package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

var (
	registry       *prometheus.Registry
	registryOnce   sync.Once
	metricsEnabled = true

	// Ingestion metrics
	MessagesIngested   *prometheus.CounterVec
	IngestLatency      *prometheus.HistogramVec
	OutOfOrderRejects  *prometheus.CounterVec
	ClosedRejects      prometheus.Counter
	WordsScored        prometheus.Counter
	UnknownWordLookups prometheus.Counter

	// Conversation metrics
	ActiveConversations  prometheus.Gauge
	ConversationsTotal   prometheus.Counter
	ConversationDuration *prometheus.HistogramVec
	ConversationsEvicted *prometheus.CounterVec

	// Snapshot metrics
	SnapshotsProduced prometheus.Counter
	SnapshotLatency   prometheus.Histogram

	// Lexicon metrics
	LexiconSize prometheus.Gauge

	// AMQP metrics
	AMQPPublishedMessages *prometheus.CounterVec
	AMQPConnectionStatus  prometheus.Gauge

	// Snapshot store metrics
	StoreOperations *prometheus.CounterVec
)

// Init initializes all metrics and registers them with Prometheus
func Init(logger *logrus.Logger) {
	registryOnce.Do(func() {
		registry = prometheus.NewRegistry()

		MessagesIngested = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "convometrics_messages_ingested_total",
				Help: "Total number of messages ingested",
			},
			[]string{"sentiment_label"},
		)

		IngestLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "convometrics_ingest_latency_seconds",
				Help:    "Latency of message ingestion",
				Buckets: prometheus.ExponentialBuckets(0.00001, 2, 12), // 10us to ~40ms
			},
			[]string{"outcome"},
		)

		OutOfOrderRejects = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "convometrics_out_of_order_rejects_total",
				Help: "Total number of messages rejected for ordering violations",
			},
			[]string{"reason"},
		)

		ClosedRejects = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "convometrics_closed_rejects_total",
				Help: "Total number of messages rejected because the conversation was closed",
			},
		)

		WordsScored = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "convometrics_words_scored_total",
				Help: "Total number of words scored against the lexicon",
			},
		)

		UnknownWordLookups = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "convometrics_unknown_word_lookups_total",
				Help: "Total number of lexicon lookups that returned no score",
			},
		)

		ActiveConversations = prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "convometrics_active_conversations",
				Help: "Number of active conversations",
			},
		)

		ConversationsTotal = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "convometrics_conversations_total",
				Help: "Total number of conversations created",
			},
		)

		ConversationDuration = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "convometrics_conversation_duration_seconds",
				Help:    "Duration of conversations from first message to close",
				Buckets: prometheus.ExponentialBuckets(1, 2, 15), // 1s to ~9 hours
			},
			[]string{"end_reason"},
		)

		ConversationsEvicted = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "convometrics_conversations_evicted_total",
				Help: "Total number of conversations evicted",
			},
			[]string{"reason"},
		)

		SnapshotsProduced = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "convometrics_snapshots_produced_total",
				Help: "Total number of metrics snapshots produced",
			},
		)

		SnapshotLatency = prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "convometrics_snapshot_latency_seconds",
				Help:    "Latency of snapshot computation",
				Buckets: prometheus.ExponentialBuckets(0.00001, 2, 12),
			},
		)

		LexiconSize = prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "convometrics_lexicon_size",
				Help: "Number of scored words in the loaded lexicon",
			},
		)

		AMQPPublishedMessages = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "convometrics_amqp_published_messages_total",
				Help: "Total number of AMQP messages published",
			},
			[]string{"queue", "status"},
		)

		AMQPConnectionStatus = prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "convometrics_amqp_connection_status",
				Help: "AMQP connection status (1 = connected, 0 = disconnected)",
			},
		)

		StoreOperations = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "convometrics_store_operations_total",
				Help: "Total number of snapshot store operations",
			},
			[]string{"backend", "operation", "status"},
		)

		registry.MustRegister(
			MessagesIngested,
			IngestLatency,
			OutOfOrderRejects,
			ClosedRejects,
			WordsScored,
			UnknownWordLookups,
			ActiveConversations,
			ConversationsTotal,
			ConversationDuration,
			ConversationsEvicted,
			SnapshotsProduced,
			SnapshotLatency,
			LexiconSize,
			AMQPPublishedMessages,
			AMQPConnectionStatus,
			StoreOperations,
		)

		logger.Info("Prometheus metrics initialized")
	})
}

// GetRegistry returns the prometheus registry
func GetRegistry() *prometheus.Registry {
	return registry
}

// EnableMetrics enables or disables metrics collection
func EnableMetrics(enabled bool) {
	metricsEnabled = enabled
}

// IsMetricsEnabled returns whether metrics collection is enabled
func IsMetricsEnabled() bool {
	return metricsEnabled
}

// RegisterHandler registers the Prometheus handler on the given mux
func RegisterHandler(mux *http.ServeMux) {
	if registry == nil {
		return
	}
	mux.Handle("/metrics", promhttp.HandlerFor(
		registry,
		promhttp.HandlerOpts{
			EnableOpenMetrics: true,
			Registry:          registry,
		},
	))
}

// RecordMessageIngested records an ingested message by sentiment label
func RecordMessageIngested(label string) {
	if metricsEnabled && MessagesIngested != nil {
		MessagesIngested.WithLabelValues(label).Inc()
	}
}

// ObserveIngest returns a timer function that records ingest latency when called
func ObserveIngest() func(outcome string) {
	if !metricsEnabled || IngestLatency == nil {
		return func(string) {}
	}

	start := time.Now()
	return func(outcome string) {
		IngestLatency.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
	}
}

// RecordOutOfOrderReject records an ordering rejection
func RecordOutOfOrderReject(reason string) {
	if metricsEnabled && OutOfOrderRejects != nil {
		OutOfOrderRejects.WithLabelValues(reason).Inc()
	}
}

// RecordSnapshot records a produced snapshot and its computation time
func RecordSnapshot(duration time.Duration) {
	if !metricsEnabled {
		return
	}
	if SnapshotsProduced != nil {
		SnapshotsProduced.Inc()
	}
	if SnapshotLatency != nil {
		SnapshotLatency.Observe(duration.Seconds())
	}
}

// RecordAMQPPublish records metrics for an AMQP publish
func RecordAMQPPublish(queue, status string) {
	if metricsEnabled && AMQPPublishedMessages != nil {
		AMQPPublishedMessages.WithLabelValues(queue, status).Inc()
	}
}

// SetAMQPConnectionStatus sets the AMQP connection status
func SetAMQPConnectionStatus(connected bool) {
	if !metricsEnabled || AMQPConnectionStatus == nil {
		return
	}
	if connected {
		AMQPConnectionStatus.Set(1)
	} else {
		AMQPConnectionStatus.Set(0)
	}
}

// RecordStoreOperation records a snapshot store operation
func RecordStoreOperation(backend, operation, status string) {
	if metricsEnabled && StoreOperations != nil {
		StoreOperations.WithLabelValues(backend, operation, status).Inc()
	}
}
