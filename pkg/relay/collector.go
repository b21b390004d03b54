// Package relay implements the relay/mirror/edit-sync core: dispatching
// outbound relay requests, collecting reply bursts on an idle window,
// mirroring them back, and reconciling upstream edits under debounce.
package relay

import (
	"strconv"
	"sync"
	"time"

	"github.com/tinyland-inc/relayclaw/pkg/bus"
	"github.com/tinyland-inc/relayclaw/pkg/store"
	"github.com/tinyland-inc/relayclaw/pkg/telemetry"
)

// FinalizeFunc receives the collected batch exactly once per request.
// An empty batch means the ceiling elapsed with no correlated responses.
type FinalizeFunc func(req store.RelayRequest, triggerMessageID string, responses []bus.Event)

// Collector gathers the burst of responses to one outbound relay message.
//
// Target bots often reply in several fragments ("thinking..." then the
// answer, or a reply split across length limits); mirroring fragment by
// fragment interleaves with later fragments. The collector waits for an
// idle gap instead: each correlated response rearms the idle timer, and
// the batch finalizes when the timer elapses untouched or when the
// absolute ceiling is hit, whichever comes first.
type Collector struct {
	mu sync.Mutex

	req              store.RelayRequest
	triggerMessageID string
	botSenderID      string
	idle             time.Duration

	outboundMessageID string
	responses         []bus.Event
	idleTimer         *time.Timer
	deadline          *time.Timer
	finalized         bool
	finalize          FinalizeFunc
}

// NewCollector starts the absolute deadline immediately; the idle timer is
// armed by the first response. The collector ignores responses until
// SetOutbound is called, since anything observed before our own send
// cannot be a reply to it.
func NewCollector(req store.RelayRequest, triggerMessageID, botSenderID string, idle, ceiling time.Duration, finalize FinalizeFunc) *Collector {
	c := &Collector{
		req:              req,
		triggerMessageID: triggerMessageID,
		botSenderID:      botSenderID,
		idle:             idle,
		finalize:         finalize,
	}
	c.deadline = time.AfterFunc(ceiling, c.fire)
	return c
}

// SetOutbound records where the relayed message landed and opens the
// collector for correlated responses.
func (c *Collector) SetOutbound(messageID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.outboundMessageID = messageID
}

// Offer hands the collector an inbound event from the outbound
// conversation. It reports whether the event was accepted as a correlated
// response; accepting rearms the idle window.
func (c *Collector) Offer(ev bus.Event) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.finalized || c.outboundMessageID == "" {
		return false
	}
	if !c.correlates(ev) {
		return false
	}

	c.responses = append(c.responses, ev)
	telemetry.CountResponseCollected()

	if c.idleTimer == nil {
		c.idleTimer = time.AfterFunc(c.idle, c.fire)
	} else {
		c.idleTimer.Reset(c.idle)
	}
	return true
}

// correlates applies the strict rule when reply-threading is available and
// the fallback rule otherwise. Either way the response must come from the
// target bot; the fallback additionally relies on at most one request
// collecting per conversation, which the tracker key enforces.
func (c *Collector) correlates(ev bus.Event) bool {
	if !c.fromTargetBot(ev) {
		return false
	}
	if ev.ReplyToMessageID != "" {
		return ev.ReplyToMessageID == c.outboundMessageID
	}
	return messageAfter(ev.MessageID, c.outboundMessageID)
}

// fromTargetBot requires the author to be the resolved target bot. When
// the platform could not expose the bot's sender ID (Discord shared
// channel targets) any bot author passes, but plain users never do.
func (c *Collector) fromTargetBot(ev bus.Event) bool {
	if c.botSenderID != "" {
		return ev.SenderID == c.botSenderID
	}
	return ev.SenderIsBot
}

// messageAfter orders platform message IDs when both are numeric
// (Telegram sequence numbers, Discord snowflakes). Non-numeric IDs are
// accepted: the conversation scoping already did the real filtering.
func messageAfter(id, reference string) bool {
	a, errA := strconv.ParseUint(id, 10, 64)
	b, errB := strconv.ParseUint(reference, 10, 64)
	if errA != nil || errB != nil {
		return true
	}
	return a > b
}

func (c *Collector) fire() {
	c.mu.Lock()
	if c.finalized {
		c.mu.Unlock()
		return
	}
	c.finalized = true
	c.deadline.Stop()
	if c.idleTimer != nil {
		c.idleTimer.Stop()
	}
	req := c.req
	trigger := c.triggerMessageID
	responses := c.responses
	c.mu.Unlock()

	c.finalize(req, trigger, responses)
}

// Cancel stops the timers without finalizing, for shutdown paths. A
// request left collecting is recovered as stale at next startup.
func (c *Collector) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.finalized {
		return
	}
	c.finalized = true
	c.deadline.Stop()
	if c.idleTimer != nil {
		c.idleTimer.Stop()
	}
}
