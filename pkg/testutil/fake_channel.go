// Package testutil provides shared fakes for relay tests.
package testutil

import (
	"context"
	"fmt"
	"sync"

	"github.com/tinyland-inc/relayclaw/pkg/bus"
)

type SentMessage struct {
	ID      string
	ChatID  string
	Content string
}

type EditCall struct {
	ChatID    string
	MessageID string
	Content   string
}

// FakeChannel is an in-memory transport implementing channels.Channel.
// It records sends and edits, assigns increasing numeric message IDs, and
// can inject failures and emit inbound events onto the bus.
type FakeChannel struct {
	mu sync.Mutex

	name    string
	bus     *bus.EventBus
	nextID  int
	running bool

	Sent  []SentMessage
	Edits []EditCall

	// FailSends makes the next N SendMessage calls fail.
	FailSends int
	// FailEdits makes the next N EditMessage calls fail.
	FailEdits int
	// BotChats maps a handle to its conversation ID; unmapped handles
	// resolve to "bot-chat".
	BotChats map[string]string
	// BotID is the sender identity ResolveBotChat reports for the target
	// bot; messages from other senders are not treated as its responses.
	BotID string
}

func NewFakeChannel(name string, eventBus *bus.EventBus) *FakeChannel {
	return &FakeChannel{
		name:     name,
		bus:      eventBus,
		nextID:   100,
		BotChats: map[string]string{},
		BotID:    "bot",
	}
}

func (c *FakeChannel) Name() string { return c.name }

func (c *FakeChannel) Start(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.running = true
	return nil
}

func (c *FakeChannel) Stop(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.running = false
	return nil
}

func (c *FakeChannel) IsRunning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

func (c *FakeChannel) SendMessage(_ context.Context, chatID, content string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.FailSends > 0 {
		c.FailSends--
		return "", fmt.Errorf("fake send failure")
	}
	c.nextID++
	id := fmt.Sprintf("%d", c.nextID)
	c.Sent = append(c.Sent, SentMessage{ID: id, ChatID: chatID, Content: content})
	return id, nil
}

func (c *FakeChannel) EditMessage(_ context.Context, chatID, messageID, content string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.FailEdits > 0 {
		c.FailEdits--
		return fmt.Errorf("fake edit failure")
	}
	c.Edits = append(c.Edits, EditCall{ChatID: chatID, MessageID: messageID, Content: content})
	return nil
}

func (c *FakeChannel) ResolveBotChat(_ context.Context, handle string) (string, string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if chat, ok := c.BotChats[handle]; ok {
		return chat, c.BotID, nil
	}
	return "bot-chat", c.BotID, nil
}

// SentTo returns all messages sent to one conversation.
func (c *FakeChannel) SentTo(chatID string) []SentMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []SentMessage
	for _, m := range c.Sent {
		if m.ChatID == chatID {
			out = append(out, m)
		}
	}
	return out
}

// AllEdits returns a snapshot of recorded edit calls.
func (c *FakeChannel) AllEdits() []EditCall {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]EditCall(nil), c.Edits...)
}

// NextMessageID mints an inbound message ID newer than anything sent.
func (c *FakeChannel) NextMessageID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextID++
	return fmt.Sprintf("%d", c.nextID)
}

// EmitMessage publishes an inbound message event, as if received from the
// platform.
func (c *FakeChannel) EmitMessage(ctx context.Context, chatID, messageID, senderID, content string) {
	_ = c.bus.Publish(ctx, bus.Event{
		Kind:        bus.EventNewMessage,
		Channel:     c.name,
		ChatID:      chatID,
		MessageID:   messageID,
		SenderID:    senderID,
		Content:     content,
		ContentKind: bus.ContentText,
	})
}

// EmitEdit publishes an inbound edit event.
func (c *FakeChannel) EmitEdit(ctx context.Context, chatID, messageID, content string) {
	_ = c.bus.Publish(ctx, bus.Event{
		Kind:        bus.EventMessageEdited,
		Channel:     c.name,
		ChatID:      chatID,
		MessageID:   messageID,
		Content:     content,
		ContentKind: bus.ContentText,
	})
}
