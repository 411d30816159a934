package repository

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"AutoTrader/internal/domain/models"
	domrepo "AutoTrader/internal/domain/repository"
	pkgkafka "AutoTrader/pkg/kafka"
)

// SentimentBuffer keeps the most recent social posts per symbol. It is fed by
// the Kafka consumer and read by the sentiment specialist.
type SentimentBuffer struct {
	topic   string
	perSym  int
	maxAge  time.Duration
	metrics domrepo.Metrics
	now     func() time.Time

	mu    sync.RWMutex
	posts map[string][]models.SocialPost // oldest first
}

func NewSentimentBuffer(topic string, perSymbol int, maxAge time.Duration, metrics domrepo.Metrics) *SentimentBuffer {
	if perSymbol <= 0 {
		perSymbol = 200
	}
	if metrics == nil {
		metrics = domrepo.NopMetrics{}
	}
	return &SentimentBuffer{
		topic:   topic,
		perSym:  perSymbol,
		maxAge:  maxAge,
		metrics: metrics,
		now:     time.Now,
		posts:   make(map[string][]models.SocialPost),
	}
}

func (b *SentimentBuffer) Topic() string { return b.topic }

// Handle accepts one post or a JSON array of posts.
func (b *SentimentBuffer) Handle(_ context.Context, data []byte) error {
	var posts []models.SocialPost
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &posts); err != nil {
			b.metrics.RecordError("sentiment_unmarshal")
			return fmt.Errorf("decode posts: %w", err)
		}
	} else {
		var p models.SocialPost
		if err := json.Unmarshal(trimmed, &p); err != nil {
			b.metrics.RecordError("sentiment_unmarshal")
			return fmt.Errorf("decode post: %w", err)
		}
		posts = append(posts, p)
	}

	for _, p := range posts {
		b.Add(p)
	}
	return nil
}

// Add stores p under its upper-cased symbol. Posts without a symbol or text
// are dropped.
func (b *SentimentBuffer) Add(p models.SocialPost) {
	p.Symbol = strings.ToUpper(strings.TrimSpace(p.Symbol))
	if p.Symbol == "" || strings.TrimSpace(p.Text) == "" {
		return
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = b.now()
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	list := append(b.posts[p.Symbol], p)
	if over := len(list) - b.perSym; over > 0 {
		list = append(list[:0:0], list[over:]...)
	}
	b.posts[p.Symbol] = list
}

// Posts returns up to limit posts for symbol, newest first. Posts older than
// the buffer's max age are skipped.
func (b *SentimentBuffer) Posts(symbol string, limit int) []models.SocialPost {
	symbol = strings.ToUpper(symbol)

	b.mu.RLock()
	defer b.mu.RUnlock()
	list := b.posts[symbol]

	var cutoff time.Time
	if b.maxAge > 0 {
		cutoff = b.now().Add(-b.maxAge)
	}
	n := len(list)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]models.SocialPost, 0, n)
	for i := len(list) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		if !cutoff.IsZero() && list[i].CreatedAt.Before(cutoff) {
			break
		}
		out = append(out, list[i])
	}
	return out
}

var _ pkgkafka.MessageHandler = (*SentimentBuffer)(nil)
