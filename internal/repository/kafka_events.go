package repository

import (
	"context"
	"fmt"
	"time"

	"AutoTrader/internal/domain/models"
	pkgkafka "AutoTrader/pkg/kafka"
)

const (
	EventTradeOpened    = "trade_opened"
	EventTradeClosed    = "trade_closed"
	EventRecommendation = "recommendation"
)

// Publisher is the producer side of pkg/kafka.
type Publisher interface {
	Publish(ctx context.Context, topic string, key []byte, value interface{}) error
}

// TradeEvent is the envelope written to the trades topic.
type TradeEvent struct {
	Event string       `json:"event"`
	At    time.Time    `json:"at"`
	Trade models.Trade `json:"trade"`
}

// KafkaEventPublisher publishes trade lifecycle events and recommendations keyed by
// symbol, so a partition sees one symbol's events in order.
type KafkaEventPublisher struct {
	pub          Publisher
	tradesTopic  string
	signalsTopic string
	now          func() time.Time
}

func NewKafkaEventPublisher(pub Publisher, tradesTopic, signalsTopic string) *KafkaEventPublisher {
	return &KafkaEventPublisher{pub: pub, tradesTopic: tradesTopic, signalsTopic: signalsTopic, now: time.Now}
}

// NewKafkaEventPublisherFromProducer wires the sink to a pkg/kafka producer.
func NewKafkaEventPublisherFromProducer(p *pkgkafka.Producer, tradesTopic, signalsTopic string) *KafkaEventPublisher {
	return NewKafkaEventPublisher(p, tradesTopic, signalsTopic)
}

func (s *KafkaEventPublisher) Name() string { return "kafka" }

func (s *KafkaEventPublisher) TradeOpened(ctx context.Context, t models.Trade) error {
	return s.trade(ctx, EventTradeOpened, t)
}

func (s *KafkaEventPublisher) TradeClosed(ctx context.Context, t models.Trade) error {
	return s.trade(ctx, EventTradeClosed, t)
}

func (s *KafkaEventPublisher) Recommendation(ctx context.Context, r models.Recommendation) error {
	if err := s.pub.Publish(ctx, s.signalsTopic, []byte(r.Symbol), r); err != nil {
		return fmt.Errorf("publish %s %s: %w", EventRecommendation, r.Symbol, err)
	}
	return nil
}

func (s *KafkaEventPublisher) trade(ctx context.Context, event string, t models.Trade) error {
	ev := TradeEvent{Event: event, At: s.now().UTC(), Trade: t}
	if err := s.pub.Publish(ctx, s.tradesTopic, []byte(t.Symbol), ev); err != nil {
		return fmt.Errorf("publish %s %s: %w", event, t.Symbol, err)
	}
	return nil
}
