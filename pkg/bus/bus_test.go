package bus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishConsume(t *testing.T) {
	b := NewEventBus()
	defer b.Close()
	ctx := context.Background()

	in := Event{
		Kind:      EventNewMessage,
		Channel:   "telegram",
		ChatID:    "chat",
		MessageID: "1",
		Content:   "hello",
	}
	require.NoError(t, b.Publish(ctx, in))

	out, ok := b.Consume(ctx)
	require.True(t, ok)
	assert.Equal(t, in, out)
}

func TestPublishAfterClose(t *testing.T) {
	b := NewEventBus()
	b.Close()

	err := b.Publish(context.Background(), Event{Kind: EventNewMessage})
	assert.ErrorIs(t, err, ErrBusClosed)

	// Close is idempotent.
	b.Close()
}

func TestConsumeUnblocksOnClose(t *testing.T) {
	b := NewEventBus()

	done := make(chan bool, 1)
	go func() {
		_, ok := b.Consume(context.Background())
		done <- ok
	}()

	time.Sleep(20 * time.Millisecond)
	b.Close()

	select {
	case ok := <-done:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("Consume did not unblock on Close")
	}
}

func TestConsumeUnblocksOnCancel(t *testing.T) {
	b := NewEventBus()
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan bool, 1)
	go func() {
		_, ok := b.Consume(ctx)
		done <- ok
	}()

	cancel()

	select {
	case ok := <-done:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("Consume did not unblock on context cancel")
	}
}

func TestPublishPreservesOrder(t *testing.T) {
	b := NewEventBus()
	defer b.Close()
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		require.NoError(t, b.Publish(ctx, Event{MessageID: string(rune('a' + i))}))
	}
	for i := 0; i < 10; i++ {
		ev, ok := b.Consume(ctx)
		require.True(t, ok)
		assert.Equal(t, string(rune('a'+i)), ev.MessageID)
	}
}
