package logger

import (
	"context"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"
)

const (
	publishTimeout = 10 * time.Second
	pendingBatches = 4
)

// Publisher ships log batches somewhere; the Kafka producer in production.
type Publisher interface {
	PublishMessage(ctx context.Context, topic string, payload interface{}) error
}

type CollectionConfig struct {
	TimeInterval   time.Duration // flush period
	CountThreshold int           // distinct entries that force an early flush
	Topic          string
	Source         string // instance name stamped on every batch
	Publisher      Publisher
}

// AggregatedLogEntry counts the lines logged from one call site with one
// message. Fields holds the first occurrence's fields.
type AggregatedLogEntry struct {
	Level     string                 `json:"level"`
	Component string                 `json:"component,omitempty"`
	Message   string                 `json:"message"`
	Caller    string                 `json:"caller"`
	Count     int                    `json:"count"`
	FirstSeen time.Time              `json:"first_seen"`
	LastSeen  time.Time              `json:"last_seen"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
}

// LogBatch is one published message. Dropped counts earlier batches lost
// because the publisher fell behind.
type LogBatch struct {
	Source    string               `json:"source,omitempty"`
	FlushedAt time.Time            `json:"flushed_at"`
	Dropped   int                  `json:"dropped,omitempty"`
	Entries   []AggregatedLogEntry `json:"entries"`
}

// LogCollector aggregates error lines and publishes them in batches from a
// single goroutine, oldest batch first.
type LogCollector struct {
	cfg CollectionConfig
	now func() time.Time

	mu      sync.Mutex
	entries map[string]*AggregatedLogEntry
	dropped int
	done    bool

	out    chan LogBatch
	stop   chan struct{}
	wg     sync.WaitGroup
	closed sync.Once
}

func NewLogCollector(cfg *CollectionConfig) *LogCollector {
	c := &LogCollector{
		cfg:     *cfg,
		now:     time.Now,
		entries: make(map[string]*AggregatedLogEntry),
		out:     make(chan LogBatch, pendingBatches),
		stop:    make(chan struct{}),
	}
	if c.cfg.TimeInterval <= 0 {
		c.cfg.TimeInterval = 30 * time.Second
	}
	if c.cfg.CountThreshold <= 0 {
		c.cfg.CountThreshold = 100
	}
	if c.cfg.Source == "" {
		c.cfg.Source, _ = os.Hostname()
	}

	c.wg.Add(2)
	go c.tick()
	go c.publish()
	return c
}

func (c *LogCollector) AddLog(level, component, message, caller string, fields map[string]interface{}) {
	key := level + "\x00" + component + "\x00" + caller + "\x00" + message
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.done {
		return
	}
	if e, ok := c.entries[key]; ok {
		e.Count++
		e.LastSeen = now
		return
	}
	c.entries[key] = &AggregatedLogEntry{
		Level:     level,
		Component: component,
		Message:   message,
		Caller:    caller,
		Count:     1,
		FirstSeen: now,
		LastSeen:  now,
		Fields:    fields,
	}
	if len(c.entries) >= c.cfg.CountThreshold {
		c.flushLocked()
	}
}

func (c *LogCollector) tick() {
	defer c.wg.Done()
	t := time.NewTicker(c.cfg.TimeInterval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			c.flush()
		case <-c.stop:
			c.mu.Lock()
			c.done = true
			batch, ok := c.takeLocked()
			c.mu.Unlock()
			if ok {
				c.out <- batch
			}
			close(c.out)
			return
		}
	}
}

func (c *LogCollector) flush() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.flushLocked()
}

// flushLocked hands the current entries to the publisher without blocking;
// a full queue drops the batch.
func (c *LogCollector) flushLocked() {
	batch, ok := c.takeLocked()
	if !ok {
		return
	}
	select {
	case c.out <- batch:
		c.dropped = 0
	default:
		c.dropped++
	}
}

// takeLocked drains the entries into a batch, most frequent first.
func (c *LogCollector) takeLocked() (LogBatch, bool) {
	if len(c.entries) == 0 {
		return LogBatch{}, false
	}
	batch := LogBatch{Source: c.cfg.Source, FlushedAt: c.now(), Dropped: c.dropped}
	batch.Entries = make([]AggregatedLogEntry, 0, len(c.entries))
	for _, e := range c.entries {
		batch.Entries = append(batch.Entries, *e)
	}
	sort.Slice(batch.Entries, func(i, j int) bool {
		return batch.Entries[i].Count > batch.Entries[j].Count
	})
	c.entries = make(map[string]*AggregatedLogEntry)
	return batch, true
}

func (c *LogCollector) publish() {
	defer c.wg.Done()
	for batch := range c.out {
		if c.cfg.Publisher == nil {
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		err := c.cfg.Publisher.PublishMessage(ctx, c.cfg.Topic, batch)
		cancel()
		if err != nil {
			// the logger is what failed, so report on stderr
			fmt.Fprintf(os.Stderr, "log collector: publish %d entries to %s: %v\n", len(batch.Entries), c.cfg.Topic, err)
		}
	}
}

// Close publishes whatever is pending and waits for the publisher.
func (c *LogCollector) Close() {
	c.closed.Do(func() {
		close(c.stop)
		c.wg.Wait()
	})
}
