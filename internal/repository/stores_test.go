package repository

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"AutoTrader/internal/domain/models"
)

func TestFileSignalStoreRoundTrip(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	store := NewFileSignalStore(dir)

	got, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, got)

	at := time.Date(2024, 1, 9, 15, 0, 0, 0, time.UTC)
	in := []models.Signal{
		{Symbol: "AAPL", Price: 101.5, Confidence: 0.8, Timestamp: at},
		{Symbol: "MSFT", Price: 402, Confidence: 0.7, Timestamp: at.Add(time.Minute)},
	}
	require.NoError(t, store.Save(ctx, in))

	got, err = NewFileSignalStore(dir).Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, in, got)

	raw, err := os.ReadFile(filepath.Join(dir, "signals.json"))
	require.NoError(t, err)
	var doc map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(raw, &doc))
	assert.Contains(t, doc, "signals")
	assert.Contains(t, doc, "saved_at")
}

func TestFileSignalStoreCorruptFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "signals.json"), []byte("{not json"), 0o644))
	_, err := NewFileSignalStore(dir).Load(context.Background())
	assert.Error(t, err)
}

type published struct {
	topic string
	key   string
	value interface{}
}

type fakePublisher struct {
	msgs []published
	err  error
}

func (p *fakePublisher) Publish(_ context.Context, topic string, key []byte, value interface{}) error {
	if p.err != nil {
		return p.err
	}
	p.msgs = append(p.msgs, published{topic: topic, key: string(key), value: value})
	return nil
}

func TestKafkaEventPublisher(t *testing.T) {
	pub := &fakePublisher{}
	sink := NewKafkaEventPublisher(pub, "trades", "recs")
	ctx := context.Background()
	tr := openTrade("a", "AAPL", time.Now(), 100)

	require.NoError(t, sink.TradeOpened(ctx, tr))
	require.NoError(t, sink.TradeClosed(ctx, tr))
	require.NoError(t, sink.Recommendation(ctx, models.Recommendation{Symbol: "MSFT", Action: models.ActionBuy}))

	require.Len(t, pub.msgs, 3)
	assert.Equal(t, "trades", pub.msgs[0].topic)
	assert.Equal(t, "AAPL", pub.msgs[0].key)
	assert.Equal(t, EventTradeOpened, pub.msgs[0].value.(TradeEvent).Event)
	assert.Equal(t, EventTradeClosed, pub.msgs[1].value.(TradeEvent).Event)
	assert.Equal(t, "recs", pub.msgs[2].topic)
	assert.Equal(t, "MSFT", pub.msgs[2].key)
	assert.Equal(t, "kafka", sink.Name())

	pub.err = errors.New("broker down")
	err := sink.TradeOpened(ctx, tr)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "trade_opened")
}

func TestSentimentBuffer(t *testing.T) {
	now := time.Date(2024, 1, 9, 15, 0, 0, 0, time.UTC)
	buf := NewSentimentBuffer("posts", 3, time.Hour, nil)
	buf.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, buf.Handle(ctx, []byte(`{"symbol":"aapl","text":"to the moon","created_at":"2024-01-09T14:50:00Z"}`)))
	require.NoError(t, buf.Handle(ctx, []byte(`[
		{"symbol":"AAPL","text":"old news","created_at":"2024-01-09T12:00:00Z"},
		{"symbol":"AAPL","text":"strong beat","created_at":"2024-01-09T14:55:00Z"},
		{"symbol":"AAPL","text":""},
		{"symbol":"","text":"no symbol"}
	]`)))
	assert.Error(t, buf.Handle(ctx, []byte(`{broken`)))

	posts := buf.Posts("AAPL", 10)
	require.Len(t, posts, 1, "posts older than the max age stop the scan")
	assert.Equal(t, "strong beat", posts[0].Text)

	buf.maxAge = 0
	posts = buf.Posts("aapl", 10)
	require.Len(t, posts, 3)
	assert.Equal(t, "strong beat", posts[0].Text)
	assert.Equal(t, "to the moon", posts[2].Text)

	for i := 0; i < 5; i++ {
		buf.Add(models.SocialPost{Symbol: "AAPL", Text: strings.Repeat("x", i+1), CreatedAt: now})
	}
	posts = buf.Posts("AAPL", 0)
	require.Len(t, posts, 3)
	assert.Equal(t, "xxxxx", posts[0].Text)
	assert.Len(t, buf.Posts("AAPL", 2), 2)
	assert.Empty(t, buf.Posts("MSFT", 5))
}

func TestTradeRowMatchesColumns(t *testing.T) {
	tr := openTrade("a", "AAPL", time.Now(), 100)
	row := tradeRow(tr, 7)
	require.Len(t, row, len(tradeColumns))
	assert.Nil(t, row[12], "open trade has no exit price")
	assert.Equal(t, uint64(7), row[len(row)-1])

	closeWith(40)(&tr)
	row = tradeRow(tr, 8)
	assert.InDelta(t, 104.0, row[12].(float64), 1e-9)
	assert.Equal(t, "CLOSED", row[11])

	assert.Equal(t, "?, ?, ?", placeholders(3))
	schema := TradeSchema("autotrader")
	require.Len(t, schema, 3)
	assert.Contains(t, schema[1], "autotrader.trades")
	assert.Contains(t, schema[1], "ReplacingMergeTree(version)")
}
