// Package e2e exercises the relay pipeline end to end: bus, channel
// manager, persistent stores, and the relay service wired together the
// same way the gateway command wires them, with a fake transport standing
// in for Telegram/Discord.
package e2e

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinyland-inc/relayclaw/pkg/bus"
	"github.com/tinyland-inc/relayclaw/pkg/channels"
	"github.com/tinyland-inc/relayclaw/pkg/config"
	"github.com/tinyland-inc/relayclaw/pkg/relay"
	"github.com/tinyland-inc/relayclaw/pkg/store"
	"github.com/tinyland-inc/relayclaw/pkg/testutil"
)

type gateway struct {
	bus      *bus.EventBus
	fake     *testutil.FakeChannel
	tracker  *store.RequestTracker
	mappings *store.MappingRegistry
	botcfg   *store.ConfigStore
	svc      *relay.Service
	cfg      config.RelayConfig
	dataDir  string
	ctx      context.Context
	cancel   context.CancelFunc
}

// startGateway assembles the full pipeline against dataDir, mirroring the
// gateway command's wiring order: cleanup, bus, channels, service.
func startGateway(t *testing.T, dataDir string) *gateway {
	t.Helper()

	relayCfg := config.RelayConfig{
		CommandPrefix:       "/relay",
		TimeoutSeconds:      0.5,
		ReplyIdleSeconds:    0.08,
		EditDebounceSeconds: 0.04,
		CooldownSeconds:     0,
		CleanupHours:        24,
	}

	tracker, err := store.OpenRequestTracker(dataDir)
	require.NoError(t, err)
	mappings, err := store.OpenMappingRegistry(dataDir)
	require.NoError(t, err)
	botcfg, err := store.OpenConfigStore(dataDir, "owner")
	require.NoError(t, err)

	relay.Cleanup(relayCfg, mappings, tracker)

	eventBus := bus.NewEventBus()
	manager, err := channels.NewManager(&config.Config{}, eventBus)
	require.NoError(t, err)
	fake := testutil.NewFakeChannel("fake", eventBus)
	manager.Register(fake)

	svc := relay.NewService(relayCfg, eventBus, manager, tracker, mappings, botcfg)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, manager.StartAll(ctx))
	go svc.Run(ctx)

	g := &gateway{
		bus:      eventBus,
		fake:     fake,
		tracker:  tracker,
		mappings: mappings,
		botcfg:   botcfg,
		svc:      svc,
		cfg:      relayCfg,
		dataDir:  dataDir,
		ctx:      ctx,
		cancel:   cancel,
	}
	t.Cleanup(g.stop)
	return g
}

func (g *gateway) stop() {
	g.cancel()
	g.bus.Close()
	g.svc.Shutdown()
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	require.Eventually(t, cond, 3*time.Second, 5*time.Millisecond, msg)
}

func TestRelayRoundTrip(t *testing.T) {
	g := startGateway(t, t.TempDir())

	// The owner assigns a target bot, relays a prompt, and gets the bot's
	// burst mirrored back in order.
	g.fake.EmitMessage(g.ctx, "origin", g.fake.NextMessageID(), "owner", "/setbot @target")
	waitFor(t, func() bool {
		h, err := g.botcfg.ResolveBot("origin")
		return err == nil && h == "@target"
	}, "bot assignment not persisted")

	g.fake.EmitMessage(g.ctx, "origin", g.fake.NextMessageID(), "owner", "/relay what is 2+2")
	waitFor(t, func() bool {
		return len(g.fake.SentTo("bot-chat")) == 1
	}, "prompt never reached the target bot")
	assert.Equal(t, "what is 2+2", g.fake.SentTo("bot-chat")[0].Content)

	waitFor(t, func() bool {
		req, ok, err := g.tracker.Get("owner", "origin")
		return err == nil && ok && req.State == store.StateCollecting
	}, "request never started collecting")
	time.Sleep(15 * time.Millisecond)

	respID := g.fake.NextMessageID()
	g.fake.EmitMessage(g.ctx, "bot-chat", respID, "bot", "4")

	waitFor(t, func() bool {
		sent := g.fake.SentTo("origin")
		// Skip the /setbot confirmation at index 0.
		return len(sent) == 2 && sent[1].Content == "4"
	}, "response never mirrored")

	// The mapping survives for edit reconciliation.
	m, ok, err := g.mappings.FindByRemote("bot-chat", respID)
	require.NoError(t, err)
	require.True(t, ok)

	// The bot refines its answer; the mirror follows after the debounce.
	g.fake.EmitEdit(g.ctx, "bot-chat", respID, "4 (arithmetic)")
	waitFor(t, func() bool {
		edits := g.fake.AllEdits()
		return len(edits) == 1 && edits[0].Content == "4 (arithmetic)"
	}, "edit never propagated")
	assert.Equal(t, m.OriginMessageID, g.fake.AllEdits()[0].MessageID)
}

func TestStateSurvivesRestart(t *testing.T) {
	dataDir := t.TempDir()

	g := startGateway(t, dataDir)
	g.fake.EmitMessage(g.ctx, "origin", g.fake.NextMessageID(), "owner", "/setbot @target")
	g.fake.EmitMessage(g.ctx, "origin", g.fake.NextMessageID(), "owner", "/allow friend")
	// Commands run concurrently; wait for both writes before "crashing".
	waitFor(t, func() bool {
		allowed, err := g.botcfg.IsAllowed("friend")
		return err == nil && allowed
	}, "allow list not persisted")
	waitFor(t, func() bool {
		h, err := g.botcfg.ResolveBot("origin")
		return err == nil && h == "@target"
	}, "bot assignment not persisted")
	g.stop()

	// A fresh process over the same data directory sees the assignment and
	// the allow list.
	g2 := startGateway(t, dataDir)
	handle, err := g2.botcfg.ResolveBot("origin")
	require.NoError(t, err)
	assert.Equal(t, "@target", handle)

	g2.fake.EmitMessage(g2.ctx, "origin", g2.fake.NextMessageID(), "friend", "/relay still here")
	waitFor(t, func() bool {
		return len(g2.fake.SentTo("bot-chat")) == 1
	}, "allowed user could not relay after restart")
}

func TestStartupRecoversAbandonedRequest(t *testing.T) {
	dataDir := t.TempDir()

	// Simulate a crash: a request begun and never resolved.
	tracker, err := store.OpenRequestTracker(dataDir)
	require.NoError(t, err)
	_, err = tracker.Begin("fake", "owner", "origin")
	require.NoError(t, err)

	// Beyond twice the ceiling (1s at the test's 0.5s timeout), startup
	// cleanup releases the slot.
	time.Sleep(1100 * time.Millisecond)
	g := startGateway(t, dataDir)
	require.NoError(t, g.botcfg.SetGlobalBot("@target"))

	g.fake.EmitMessage(g.ctx, "origin", g.fake.NextMessageID(), "owner", "/relay try again")
	waitFor(t, func() bool {
		return len(g.fake.SentTo("bot-chat")) == 1
	}, "recovered slot still blocked")
}
