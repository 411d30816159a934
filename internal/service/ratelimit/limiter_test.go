package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAllowPerKey(t *testing.T) {
	l := New(0.001, 2)

	assert.True(t, l.Allow("train"))
	assert.True(t, l.Allow("train"))
	assert.False(t, l.Allow("train"))
	assert.True(t, l.Allow("trade"), "keys have separate buckets")
}

func TestWaitHonorsContext(t *testing.T) {
	l := New(0.001, 1)
	assert.NoError(t, l.Wait(context.Background(), "k"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.Error(t, l.Wait(ctx, "k"))
}
