package channels

import (
	"context"
	"fmt"

	"github.com/tinyland-inc/relayclaw/pkg/bus"
	"github.com/tinyland-inc/relayclaw/pkg/config"
	"github.com/tinyland-inc/relayclaw/pkg/logger"
)

// Manager owns the enabled channel adapters and their lifecycle.
type Manager struct {
	channels map[string]Channel
}

func NewManager(cfg *config.Config, eventBus *bus.EventBus) (*Manager, error) {
	m := &Manager{channels: make(map[string]Channel)}

	if cfg.Channels.Telegram.Enabled {
		ch, err := NewTelegramChannel(cfg.Channels.Telegram, eventBus)
		if err != nil {
			return nil, fmt.Errorf("telegram channel: %w", err)
		}
		m.channels[ch.Name()] = ch
	}

	if cfg.Channels.Discord.Enabled {
		ch, err := NewDiscordChannel(cfg.Channels.Discord, eventBus)
		if err != nil {
			return nil, fmt.Errorf("discord channel: %w", err)
		}
		m.channels[ch.Name()] = ch
	}

	return m, nil
}

func (m *Manager) Get(name string) (Channel, bool) {
	ch, ok := m.channels[name]
	return ch, ok
}

// Register adds a channel adapter directly; used by tests to plug in fakes.
func (m *Manager) Register(ch Channel) {
	m.channels[ch.Name()] = ch
}

func (m *Manager) EnabledChannels() []string {
	names := make([]string, 0, len(m.channels))
	for name := range m.channels {
		names = append(names, name)
	}
	return names
}

func (m *Manager) StartAll(ctx context.Context) error {
	for name, ch := range m.channels {
		if err := ch.Start(ctx); err != nil {
			return fmt.Errorf("starting %s: %w", name, err)
		}
		logger.InfoC("channels", "Channel started: "+name)
	}
	return nil
}

func (m *Manager) StopAll(ctx context.Context) {
	for name, ch := range m.channels {
		if err := ch.Stop(ctx); err != nil {
			logger.WarnCF("channels", "Channel stop failed", map[string]any{
				"channel": name,
				"error":   err.Error(),
			})
		}
	}
}
