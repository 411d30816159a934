package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrAlreadyQueued is returned by Enqueue when deduplication is on and a
// message of the same type is still waiting.
var ErrAlreadyQueued = errors.New("queue: message of this type already pending")

type QueueService interface {
	PublishMessage(ctx context.Context, msgType string, payload interface{}) error
}

type QueueConfig struct {
	Workers    int
	RetryLimit int           // 0 sends a failed message straight to the dead-letter list
	RetryDelay time.Duration // first retry delay, doubled per attempt
	// DedupeTTL, when set, allows one pending message per type. The marker
	// expires after this long in case a worker dies before popping it.
	DedupeTTL time.Duration
}

// Message is the stored envelope. Payload stays raw until a job parses it.
type Message struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	Payload    json.RawMessage `json:"payload"`
	Attempts   int             `json:"attempts"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
	LastError  string          `json:"last_error,omitempty"`
}

// Depth is the number of messages in each list.
type Depth struct {
	Pending int64 `json:"pending"`
	Retry   int64 `json:"retry"`
	Dead    int64 `json:"dead"`
}

// ParsePayload decodes a job payload into T. Raw JSON comes from Redis;
// typed values and maps come from in-process callers.
func ParsePayload[T any](payload interface{}) (*T, error) {
	switch p := payload.(type) {
	case *T:
		return p, nil
	case T:
		return &p, nil
	case json.RawMessage:
		return decode[T](p)
	case []byte:
		return decode[T](p)
	case map[string]interface{}, []interface{}:
		b, err := json.Marshal(p)
		if err != nil {
			return nil, fmt.Errorf("re-encode payload: %w", err)
		}
		return decode[T](b)
	default:
		return nil, fmt.Errorf("invalid payload type: %T", payload)
	}
}

func decode[T any](b []byte) (*T, error) {
	var out T
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	return &out, nil
}
