package relay

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/tinyland-inc/relayclaw/pkg/bus"
	"github.com/tinyland-inc/relayclaw/pkg/channels"
	"github.com/tinyland-inc/relayclaw/pkg/config"
	"github.com/tinyland-inc/relayclaw/pkg/logger"
	"github.com/tinyland-inc/relayclaw/pkg/store"
	"github.com/tinyland-inc/relayclaw/pkg/telemetry"
)

const (
	sendRetryBackoff = 500 * time.Millisecond
	transportTimeout = 30 * time.Second
)

// Service is the relay core. It consumes the inbound event stream and
// routes each event to exactly one of: command handling, an active reply
// collector, or the edit synchronizer.
type Service struct {
	cfg      config.RelayConfig
	bus      *bus.EventBus
	channels *channels.Manager
	tracker  *store.RequestTracker
	mappings *store.MappingRegistry
	botcfg   *store.ConfigStore
	editsync *EditSync
	cooldown *cooldownGuard

	mu         sync.Mutex
	collectors map[string]*Collector // keyed by channel|outboundChatID
	wg         sync.WaitGroup
}

func NewService(
	cfg config.RelayConfig,
	eventBus *bus.EventBus,
	manager *channels.Manager,
	tracker *store.RequestTracker,
	mappings *store.MappingRegistry,
	botcfg *store.ConfigStore,
) *Service {
	s := &Service{
		cfg:        cfg,
		bus:        eventBus,
		channels:   manager,
		tracker:    tracker,
		mappings:   mappings,
		botcfg:     botcfg,
		cooldown:   newCooldownGuard(cfg.Cooldown()),
		collectors: make(map[string]*Collector),
	}
	s.editsync = NewEditSync(cfg.EditDebounce(), s.flushEdit)
	return s
}

// Run consumes the event stream until the context is cancelled or the bus
// is closed.
func (s *Service) Run(ctx context.Context) {
	for {
		ev, ok := s.bus.Consume(ctx)
		if !ok {
			return
		}
		s.handleEvent(ctx, ev)
	}
}

// Shutdown abandons in-flight collectors and pending edit flushes. Their
// requests are recovered as stale at next startup; the store itself needs
// no shutdown thanks to atomic replacement.
func (s *Service) Shutdown() {
	s.mu.Lock()
	for key, col := range s.collectors {
		col.Cancel()
		delete(s.collectors, key)
	}
	s.mu.Unlock()
	s.editsync.Stop()
	s.wg.Wait()
}

func (s *Service) handleEvent(ctx context.Context, ev bus.Event) {
	if ev.Kind == bus.EventMessageEdited {
		s.handleEdit(ev)
		return
	}

	// Responses to an active relay win over command parsing: the outbound
	// conversation is dedicated to the target bot.
	if col := s.collectorFor(ev.Channel, ev.ChatID); col != nil && col.Offer(ev) {
		return
	}

	if strings.HasPrefix(strings.TrimSpace(ev.Content), s.cfg.CommandPrefix) ||
		isControlCommand(ev.Content) {
		// Command handling blocks on transport calls; run it off the
		// consumer loop so reply events keep flowing.
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleCommand(ctx, ev)
		}()
	}
}

func (s *Service) collectorFor(channel, chatID string) *Collector {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.collectors[channel+"|"+chatID]
}

func (s *Service) registerCollector(channel, chatID string, col *Collector) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.collectors[channel+"|"+chatID] = col
}

func (s *Service) dropCollector(channel, chatID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.collectors, channel+"|"+chatID)
}

// processRelay runs the full relay workflow for one trigger message.
func (s *Service) processRelay(ctx context.Context, ev bus.Event, text string) {
	allowed, err := s.botcfg.IsAllowed(ev.SenderID)
	if err != nil {
		logger.ErrorCF("relay", "Allow-list check failed", map[string]any{"error": err.Error()})
		return
	}
	if !allowed {
		logger.DebugCF("relay", "Relay from unauthorized sender ignored", map[string]any{
			"sender": ev.SenderID,
		})
		return
	}

	if !s.cooldown.Allow(ev.SenderID + "|" + ev.ChatID) {
		logger.DebugC("relay", "Cooldown active, trigger dropped")
		telemetry.CountRelayRejected()
		return
	}

	if strings.TrimSpace(text) == "" {
		s.notify(ctx, ev.Channel, ev.ChatID, "Usage: "+s.cfg.CommandPrefix+" <message>")
		return
	}

	ch, ok := s.channels.Get(ev.Channel)
	if !ok {
		logger.ErrorC("relay", "No channel adapter for "+ev.Channel)
		return
	}

	handle, err := s.botcfg.ResolveBot(ev.ChatID)
	if errors.Is(err, store.ErrNoTargetBot) {
		s.notify(ctx, ev.Channel, ev.ChatID,
			"No target bot configured. Use /setbot @BotHandle or /setbotglobal @BotHandle")
		return
	}
	if err != nil {
		logger.ErrorCF("relay", "Target bot lookup failed", map[string]any{"error": err.Error()})
		return
	}

	botChatID, botID, err := ch.ResolveBotChat(ctx, handle)
	if err != nil {
		logger.WarnCF("relay", "Could not resolve target bot", map[string]any{
			"handle": handle,
			"error":  err.Error(),
		})
		s.notify(ctx, ev.Channel, ev.ChatID, "Could not reach target bot "+handle)
		return
	}

	req, err := s.tracker.Begin(ev.Channel, ev.SenderID, ev.ChatID)
	if errors.Is(err, store.ErrAlreadyActive) {
		telemetry.CountRelayRejected()
		s.notify(ctx, ev.Channel, ev.ChatID, "A relay is already in progress for you here; wait for it to finish.")
		return
	}
	if err != nil {
		logger.ErrorCF("relay", "Could not begin relay request", map[string]any{"error": err.Error()})
		return
	}

	// The fallback correlation rule needs the outbound conversation to
	// itself: with two requests collecting in one bot chat, replies could
	// not be attributed.
	busy, err := s.tracker.CollectingInChat(ev.Channel, botChatID)
	if err == nil && busy {
		telemetry.CountRelayRejected()
		_ = s.tracker.Fail(ev.SenderID, ev.ChatID)
		s.notify(ctx, ev.Channel, ev.ChatID, "Another relay is already collecting from "+handle+"; try again shortly.")
		return
	}

	telemetry.CountRelayStarted()
	logger.InfoCF("relay", "Relay started", map[string]any{
		"request":  req.ID,
		"sender":   ev.SenderID,
		"chat":     ev.ChatID,
		"bot":      handle,
		"bot_chat": botChatID,
	})

	// The persisted copy learns the outbound conversation in MarkSent; the
	// in-memory copy needs it now so finalizeBatch can deregister the
	// collector under the right key.
	req.OutboundChatID = botChatID

	// Register the collector before sending so replies that race the send
	// bookkeeping are not lost. It stays closed until SetOutbound.
	col := NewCollector(req, ev.MessageID, botID, s.cfg.ReplyIdle(), s.cfg.Timeout(), s.finalizeBatch)
	s.registerCollector(ev.Channel, botChatID, col)

	outboundID, err := s.sendWithRetry(ctx, ch, botChatID, text)
	if err != nil {
		col.Cancel()
		s.dropCollector(ev.Channel, botChatID)
		if failErr := s.tracker.Fail(ev.SenderID, ev.ChatID); failErr != nil {
			logger.WarnCF("relay", "Could not mark request failed", map[string]any{"error": failErr.Error()})
		}
		telemetry.CountRelayFailed()
		logger.ErrorCF("relay", "Relay send failed", map[string]any{
			"request": req.ID,
			"error":   err.Error(),
		})
		s.notify(ctx, ev.Channel, ev.ChatID, "Failed to relay message to "+handle)
		return
	}

	if err := s.tracker.MarkSent(ev.SenderID, ev.ChatID, botChatID, outboundID); err != nil {
		// The in-memory collector still runs; only crash recovery loses
		// precision. Retry at the next natural write point (resolution).
		logger.WarnCF("relay", "Could not persist collecting state", map[string]any{
			"request": req.ID,
			"error":   err.Error(),
		})
	}
	col.SetOutbound(outboundID)
}

// sendWithRetry sends once and retries a single time after a short
// backoff. A duplicate send is visible noise, not corruption, so
// at-most-one-extra is acceptable.
func (s *Service) sendWithRetry(ctx context.Context, ch channels.Channel, chatID, content string) (string, error) {
	sendCtx, cancel := context.WithTimeout(ctx, transportTimeout)
	defer cancel()

	id, err := ch.SendMessage(sendCtx, chatID, content)
	if err == nil {
		return id, nil
	}
	logger.WarnCF("relay", "Send failed, retrying once", map[string]any{"error": err.Error()})

	select {
	case <-time.After(sendRetryBackoff):
	case <-ctx.Done():
		return "", ctx.Err()
	}

	retryCtx, cancelRetry := context.WithTimeout(ctx, transportTimeout)
	defer cancelRetry()
	return ch.SendMessage(retryCtx, chatID, content)
}

// finalizeBatch mirrors a finished batch back to the originating
// conversation and resolves the request. Runs on the collector's timer
// goroutine.
func (s *Service) finalizeBatch(req store.RelayRequest, triggerMessageID string, responses []bus.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), transportTimeout)
	defer cancel()

	s.dropCollector(req.Channel, req.OutboundChatID)

	if len(responses) == 0 {
		telemetry.CountRelayTimedOut()
		logger.InfoCF("relay", "Relay timed out with no responses", map[string]any{"request": req.ID})
		if err := s.tracker.Timeout(req.RequesterID, req.ChatID); err != nil {
			logger.WarnCF("relay", "Could not resolve timed-out request", map[string]any{"error": err.Error()})
		}
		s.notify(ctx, req.Channel, req.ChatID, "No response from bot (timed out).")
		return
	}

	ch, ok := s.channels.Get(req.Channel)
	if !ok {
		// Resolve anyway: leaving the entry live would block the requester
		// until stale recovery.
		logger.ErrorC("relay", "No channel adapter for "+req.Channel)
		telemetry.CountRelayFailed()
		if err := s.tracker.Fail(req.RequesterID, req.ChatID); err != nil {
			logger.WarnCF("relay", "Could not resolve failed request", map[string]any{"error": err.Error()})
		}
		return
	}

	mirrored := 0
	for _, resp := range responses {
		mirrorID, err := ch.SendMessage(ctx, req.ChatID, resp.Content)
		if err != nil {
			logger.ErrorCF("relay", "Mirroring response failed", map[string]any{
				"request": req.ID,
				"remote":  resp.MessageID,
				"error":   err.Error(),
			})
			continue
		}
		mirrored++
		telemetry.CountResponseMirrored()

		mapping := store.MessageMapping{
			Channel:         req.Channel,
			SourceChatID:    req.ChatID,
			SourceMessageID: triggerMessageID,
			OriginChatID:    req.ChatID,
			OriginMessageID: mirrorID,
			RemoteChatID:    resp.ChatID,
			RemoteMessageID: resp.MessageID,
			Kind:            resp.ContentKind,
			ContentHash:     ContentHash(resp.Content),
			CreatedAt:       time.Now().UTC(),
		}
		if err := s.mappings.Record(mapping); err != nil {
			logger.WarnCF("relay", "Could not record mapping", map[string]any{
				"remote": resp.MessageID,
				"error":  err.Error(),
			})
		}
	}

	telemetry.CountRelayCompleted()
	logger.InfoCF("relay", "Relay completed", map[string]any{
		"request":   req.ID,
		"collected": len(responses),
		"mirrored":  mirrored,
	})
	if err := s.tracker.Complete(req.RequesterID, req.ChatID); err != nil {
		logger.WarnCF("relay", "Could not resolve completed request", map[string]any{"error": err.Error()})
	}
}

// handleEdit routes an upstream edit into the debounced synchronizer.
// Edits to messages we never mirrored are not relay-originated; skip them
// without creating debounce state.
func (s *Service) handleEdit(ev bus.Event) {
	_, found, err := s.mappings.FindByRemote(ev.ChatID, ev.MessageID)
	if err != nil {
		logger.ErrorCF("editsync", "Mapping lookup failed", map[string]any{"error": err.Error()})
		return
	}
	if !found {
		return
	}
	s.editsync.Schedule(ev.ChatID, ev.MessageID, ev.Content)
}

// flushEdit pushes the coalesced content for one remote message onto its
// mirrored copy. Runs on the debounce timer goroutine.
func (s *Service) flushEdit(remoteChatID, remoteMessageID, content string) {
	ctx, cancel := context.WithTimeout(context.Background(), transportTimeout)
	defer cancel()

	mapping, found, err := s.mappings.FindByRemote(remoteChatID, remoteMessageID)
	if err != nil || !found {
		// Evicted between scheduling and firing; nothing to update.
		return
	}

	hash := ContentHash(content)
	if hash == mapping.ContentHash {
		telemetry.CountEditSuppressed()
		return
	}

	ch, ok := s.channels.Get(mapping.Channel)
	if !ok {
		logger.ErrorC("editsync", "No channel adapter for "+mapping.Channel)
		return
	}

	if err := ch.EditMessage(ctx, mapping.OriginChatID, mapping.OriginMessageID, content); err != nil {
		// Left pending-free: the next edit burst re-debounces and carries
		// newer content anyway.
		telemetry.CountEditFlushError()
		logger.WarnCF("editsync", "Edit flush failed", map[string]any{
			"remote": remoteMessageID,
			"mirror": mapping.OriginMessageID,
			"error":  err.Error(),
		})
		return
	}

	telemetry.CountEditFlush()
	if err := s.mappings.UpdateHash(remoteChatID, remoteMessageID, hash); err != nil {
		logger.WarnCF("editsync", "Could not persist content hash", map[string]any{"error": err.Error()})
	}
}

func (s *Service) notify(ctx context.Context, channel, chatID, text string) {
	ch, ok := s.channels.Get(channel)
	if !ok {
		return
	}
	if _, err := ch.SendMessage(ctx, chatID, text); err != nil {
		logger.WarnCF("relay", "Notification failed", map[string]any{
			"chat":  chatID,
			"error": err.Error(),
		})
	}
}
