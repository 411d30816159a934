package kafka

import (
	"github.com/prometheus/client_golang/prometheus"

	"AutoTrader/pkg/metrics"
)

type producerMetrics struct {
	messages *prometheus.CounterVec
	bytes    *prometheus.CounterVec
	latency  *prometheus.HistogramVec
}

func newProducerMetrics(reg prometheus.Registerer) *producerMetrics {
	return &producerMetrics{
		messages: metrics.Register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "autotrader_kafka_producer_messages_total",
			Help: "Messages written to Kafka by topic and result.",
		}, []string{"topic", "result"})),
		bytes: metrics.Register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "autotrader_kafka_producer_bytes_total",
			Help: "Payload bytes written to Kafka.",
		}, []string{"topic"})),
		latency: metrics.Register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "autotrader_kafka_producer_publish_seconds",
			Help:    "Time spent in a single write call.",
			Buckets: prometheus.DefBuckets,
		}, []string{"topic"})),
	}
}

type consumerMetrics struct {
	inbox   *prometheus.GaugeVec
	handled *prometheus.CounterVec
	latency *prometheus.HistogramVec
}

func newConsumerMetrics(reg prometheus.Registerer) *consumerMetrics {
	return &consumerMetrics{
		inbox: metrics.Register(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "autotrader_kafka_consumer_inbox_depth",
			Help: "Messages fetched but not yet handled, per worker.",
		}, []string{"worker"})),
		handled: metrics.Register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "autotrader_kafka_consumer_messages_total",
			Help: "Messages handled by topic and outcome.",
		}, []string{"topic", "outcome"})),
		latency: metrics.Register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "autotrader_kafka_consumer_handle_seconds",
			Help:    "Handling time per message, retries included.",
			Buckets: prometheus.DefBuckets,
		}, []string{"topic"})),
	}
}
