package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

// messageWriter is the part of *kafka.Writer the package uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer writes JSON-encoded values to Kafka.
type Producer struct {
	w       messageWriter
	metrics *producerMetrics
	now     func() time.Time
}

func NewProducer(opts ...ProducerOption) (*Producer, error) {
	cfg, err := newProducerConfig(opts)
	if err != nil {
		return nil, err
	}
	codec, err := parseCompression(cfg.Compression)
	if err != nil {
		return nil, err
	}

	var balancer kafka.Balancer = &kafka.LeastBytes{}
	if cfg.HashByKey {
		balancer = &kafka.Hash{}
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Balancer:     balancer,
		RequiredAcks: kafka.RequiredAcks(cfg.RequiredAcks),
		Compression:  codec,
		MaxAttempts:  cfg.MaxAttempts,
		WriteTimeout: cfg.WriteTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		BatchSize:    cfg.BatchSize,
		BatchBytes:   int64(cfg.BatchBytes),
		BatchTimeout: cfg.BatchTimeout,
		Async:        cfg.Async,
	}
	return newProducer(w, newProducerMetrics(cfg.Registerer)), nil
}

func newProducer(w messageWriter, m *producerMetrics) *Producer {
	return &Producer{w: w, metrics: m, now: time.Now}
}

// Publish writes value under key. Byte slices and strings are sent as is,
// anything else as JSON. A trace id on ctx travels as the trace_id header.
func (p *Producer) Publish(ctx context.Context, topic string, key []byte, value interface{}) error {
	payload, err := encode(value)
	if err != nil {
		return fmt.Errorf("encode %s message: %w", topic, err)
	}
	msg := kafka.Message{Topic: topic, Key: key, Value: payload, Time: p.now()}
	if id := TraceID(ctx); id != "" {
		msg.Headers = append(msg.Headers, kafka.Header{Key: traceHeader, Value: []byte(id)})
	}

	start := p.now()
	err = p.w.WriteMessages(ctx, msg)
	p.observe(topic, len(payload), p.now().Sub(start), err)
	if err != nil {
		return fmt.Errorf("write %s: %w", topic, err)
	}
	return nil
}

// PublishMessage writes an unkeyed message. It makes the producer a log
// collector publisher.
func (p *Producer) PublishMessage(ctx context.Context, topic string, payload interface{}) error {
	return p.Publish(ctx, topic, nil, payload)
}

// Close flushes pending batches.
func (p *Producer) Close() error {
	return p.w.Close()
}

func (p *Producer) observe(topic string, size int, elapsed time.Duration, err error) {
	if p.metrics == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	p.metrics.messages.WithLabelValues(topic, result).Inc()
	if err == nil {
		p.metrics.bytes.WithLabelValues(topic).Add(float64(size))
	}
	p.metrics.latency.WithLabelValues(topic).Observe(elapsed.Seconds())
}

func encode(value interface{}) ([]byte, error) {
	switch v := value.(type) {
	case nil:
		return nil, nil
	case []byte:
		return v, nil
	case string:
		return []byte(v), nil
	case json.RawMessage:
		return v, nil
	default:
		return json.Marshal(v)
	}
}

func parseCompression(codec string) (kafka.Compression, error) {
	switch codec {
	case "", "gzip":
		return kafka.Gzip, nil
	case "snappy":
		return kafka.Snappy, nil
	case "lz4":
		return kafka.Lz4, nil
	case "zstd":
		return kafka.Zstd, nil
	default:
		return 0, fmt.Errorf("kafka: unknown compression %q", codec)
	}
}
