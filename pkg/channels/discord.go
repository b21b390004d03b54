package channels

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/bwmarrin/discordgo"

	"github.com/tinyland-inc/relayclaw/pkg/bus"
	"github.com/tinyland-inc/relayclaw/pkg/config"
	"github.com/tinyland-inc/relayclaw/pkg/logger"
)

// DiscordChannel adapts discordgo to the relay transport contract.
// MessageCreate and MessageUpdate gateway events become bus events.
type DiscordChannel struct {
	*BaseChannel
	session *discordgo.Session
}

func NewDiscordChannel(cfg config.DiscordConfig, eventBus *bus.EventBus) (*DiscordChannel, error) {
	session, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("creating discord session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentMessageContent

	return &DiscordChannel{
		BaseChannel: NewBaseChannel("discord", eventBus),
		session:     session,
	}, nil
}

func (c *DiscordChannel) Start(ctx context.Context) error {
	c.session.AddHandler(func(_ *discordgo.Session, m *discordgo.MessageCreate) {
		if m.Author == nil || m.Author.ID == c.session.State.User.ID {
			return
		}
		c.PublishEvent(ctx, c.eventFromMessage(bus.EventNewMessage, m.Message))
	})
	c.session.AddHandler(func(_ *discordgo.Session, m *discordgo.MessageUpdate) {
		// Embed-only updates carry no author; skip them.
		if m.Author == nil || m.Author.ID == c.session.State.User.ID {
			return
		}
		c.PublishEvent(ctx, c.eventFromMessage(bus.EventMessageEdited, m.Message))
	})

	if err := c.session.Open(); err != nil {
		return fmt.Errorf("opening discord gateway: %w", err)
	}
	c.SetRunning(true)
	logger.InfoCF("discord", "Logged in", map[string]any{
		"username": c.session.State.User.Username,
		"id":       c.session.State.User.ID,
	})
	return nil
}

func (c *DiscordChannel) Stop(ctx context.Context) error {
	c.SetRunning(false)
	return c.session.Close()
}

func (c *DiscordChannel) eventFromMessage(kind bus.EventKind, msg *discordgo.Message) bus.Event {
	ev := bus.Event{
		Kind:        kind,
		ChatID:      msg.ChannelID,
		MessageID:   msg.ID,
		Content:     msg.Content,
		ContentKind: bus.ContentText,
	}
	if msg.Author != nil {
		ev.SenderID = msg.Author.ID
		ev.SenderHandle = msg.Author.Username
		ev.SenderIsBot = msg.Author.Bot
	}
	if msg.ReferencedMessage != nil {
		ev.ReplyToMessageID = msg.ReferencedMessage.ID
	}
	if len(msg.Attachments) > 0 {
		ev.ContentKind = bus.ContentDocument
		if ev.Content == "" {
			ev.Content = "[attachment]"
		}
	}
	return ev
}

func (c *DiscordChannel) SendMessage(ctx context.Context, chatID, content string) (string, error) {
	msg, err := c.session.ChannelMessageSend(chatID, content, discordgo.WithContext(ctx))
	if err != nil {
		return "", wrapDiscordError(err)
	}
	return msg.ID, nil
}

func (c *DiscordChannel) EditMessage(ctx context.Context, chatID, messageID, content string) error {
	_, err := c.session.ChannelMessageEdit(chatID, messageID, content, discordgo.WithContext(ctx))
	if err != nil {
		return wrapDiscordError(err)
	}
	return nil
}

// ResolveBotChat maps a target handle to a conversation. "@<userID>" opens
// a DM channel with that user; anything else is taken as a channel ID the
// target bot is listening in. In channel mode the bot's user ID is not
// derivable from the handle, so it is left empty.
func (c *DiscordChannel) ResolveBotChat(ctx context.Context, handle string) (string, string, error) {
	if userID, ok := strings.CutPrefix(handle, "@"); ok {
		ch, err := c.session.UserChannelCreate(userID, discordgo.WithContext(ctx))
		if err != nil {
			return "", "", fmt.Errorf("resolving %s: %w", handle, err)
		}
		return ch.ID, userID, nil
	}
	return handle, "", nil
}

func wrapDiscordError(err error) error {
	var restErr *discordgo.RESTError
	if errors.As(err, &restErr) && restErr.Response != nil &&
		restErr.Response.StatusCode == http.StatusTooManyRequests {
		return fmt.Errorf("%w: discord 429", ErrRateLimited)
	}
	return err
}
