package channels

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/tinyland-inc/relayclaw/pkg/bus"
)

// ErrRateLimited is returned by Send/Edit when the platform throttles the
// call. Edit flushes treat it as retryable on the next debounce cycle.
var ErrRateLimited = errors.New("rate limited by transport")

// Channel is the transport capability the relay core consumes: publish
// inbound message/edit events to the bus, and perform sends and edits
// keyed by opaque (chatID, messageID) pairs.
type Channel interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	IsRunning() bool

	// SendMessage posts content to a conversation and returns the platform
	// message ID of the new message.
	SendMessage(ctx context.Context, chatID, content string) (string, error)

	// EditMessage replaces the content of an existing message.
	EditMessage(ctx context.Context, chatID, messageID, content string) error

	// ResolveBotChat maps a configured target bot handle to the
	// conversation ID used to talk to it and the bot's sender ID in that
	// conversation. botID is empty when the platform cannot expose it
	// (shared-channel targets); response attribution then falls back to
	// bot-author checks.
	ResolveBotChat(ctx context.Context, handle string) (chatID, botID string, err error)
}

type BaseChannel struct {
	bus     *bus.EventBus
	running atomic.Bool
	name    string
}

func NewBaseChannel(name string, eventBus *bus.EventBus) *BaseChannel {
	return &BaseChannel{
		bus:  eventBus,
		name: name,
	}
}

func (c *BaseChannel) Name() string {
	return c.name
}

func (c *BaseChannel) IsRunning() bool {
	return c.running.Load()
}

func (c *BaseChannel) SetRunning(running bool) {
	c.running.Store(running)
}

// PublishEvent forwards one inbound occurrence to the relay core, stamping
// the channel name.
func (c *BaseChannel) PublishEvent(ctx context.Context, ev bus.Event) {
	ev.Channel = c.name
	_ = c.bus.Publish(ctx, ev)
}
