package channels

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/mymmrac/telego"
	"github.com/mymmrac/telego/telegoapi"
	tu "github.com/mymmrac/telego/telegoutil"

	"github.com/tinyland-inc/relayclaw/pkg/bus"
	"github.com/tinyland-inc/relayclaw/pkg/config"
	"github.com/tinyland-inc/relayclaw/pkg/logger"
)

// TelegramChannel adapts the Telegram Bot API (via telego long polling) to
// the relay transport contract. New messages and message edits both arrive
// on the update stream and are republished as bus events.
type TelegramChannel struct {
	*BaseChannel
	bot    *telego.Bot
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewTelegramChannel(cfg config.TelegramConfig, eventBus *bus.EventBus) (*TelegramChannel, error) {
	bot, err := telego.NewBot(cfg.Token, telego.WithDefaultLogger(false, true))
	if err != nil {
		return nil, fmt.Errorf("creating telegram bot: %w", err)
	}
	return &TelegramChannel{
		BaseChannel: NewBaseChannel("telegram", eventBus),
		bot:         bot,
	}, nil
}

func (c *TelegramChannel) Start(ctx context.Context) error {
	me, err := c.bot.GetMe(ctx)
	if err != nil {
		return fmt.Errorf("telegram getMe: %w", err)
	}
	logger.InfoCF("telegram", "Logged in", map[string]any{
		"username": me.Username,
		"id":       me.ID,
	})

	pollCtx, cancel := context.WithCancel(ctx)
	updates, err := c.bot.UpdatesViaLongPolling(pollCtx, nil)
	if err != nil {
		cancel()
		return fmt.Errorf("telegram long polling: %w", err)
	}
	c.cancel = cancel
	c.SetRunning(true)

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for update := range updates {
			c.handleUpdate(pollCtx, update)
		}
	}()
	return nil
}

func (c *TelegramChannel) Stop(ctx context.Context) error {
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()
	c.SetRunning(false)
	return nil
}

func (c *TelegramChannel) handleUpdate(ctx context.Context, update telego.Update) {
	switch {
	case update.Message != nil:
		c.PublishEvent(ctx, c.eventFromMessage(bus.EventNewMessage, update.Message))
	case update.EditedMessage != nil:
		c.PublishEvent(ctx, c.eventFromMessage(bus.EventMessageEdited, update.EditedMessage))
	}
}

func (c *TelegramChannel) eventFromMessage(kind bus.EventKind, msg *telego.Message) bus.Event {
	ev := bus.Event{
		Kind:      kind,
		ChatID:    strconv.FormatInt(msg.Chat.ID, 10),
		MessageID: strconv.Itoa(msg.MessageID),
		Content:   msg.Text,
	}
	if msg.From != nil {
		ev.SenderID = strconv.FormatInt(msg.From.ID, 10)
		ev.SenderHandle = msg.From.Username
		ev.SenderIsBot = msg.From.IsBot
	}
	if msg.ReplyToMessage != nil {
		ev.ReplyToMessageID = strconv.Itoa(msg.ReplyToMessage.MessageID)
	}
	ev.ContentKind, ev.Content = classifyContent(msg)
	return ev
}

// classifyContent reduces media messages to annotated text; the relay core
// mirrors content strings only.
func classifyContent(msg *telego.Message) (bus.ContentKind, string) {
	switch {
	case len(msg.Photo) > 0:
		return bus.ContentPhoto, captionOr(msg, "[photo]")
	case msg.Video != nil:
		return bus.ContentVideo, captionOr(msg, "[video]")
	case msg.Voice != nil:
		return bus.ContentVoice, captionOr(msg, "[voice message]")
	case msg.Audio != nil:
		return bus.ContentAudio, captionOr(msg, "[audio]")
	case msg.Document != nil:
		return bus.ContentDocument, captionOr(msg, "[document]")
	default:
		return bus.ContentText, msg.Text
	}
}

func captionOr(msg *telego.Message, placeholder string) string {
	if msg.Caption != "" {
		return placeholder + " " + msg.Caption
	}
	return placeholder
}

func (c *TelegramChannel) SendMessage(ctx context.Context, chatID, content string) (string, error) {
	id, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return "", fmt.Errorf("bad telegram chat id %q: %w", chatID, err)
	}
	msg, err := c.bot.SendMessage(ctx, tu.Message(tu.ID(id), content))
	if err != nil {
		return "", wrapTelegramError(err)
	}
	return strconv.Itoa(msg.MessageID), nil
}

func (c *TelegramChannel) EditMessage(ctx context.Context, chatID, messageID, content string) error {
	id, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return fmt.Errorf("bad telegram chat id %q: %w", chatID, err)
	}
	mid, err := strconv.Atoi(messageID)
	if err != nil {
		return fmt.Errorf("bad telegram message id %q: %w", messageID, err)
	}
	_, err = c.bot.EditMessageText(ctx, &telego.EditMessageTextParams{
		ChatID:    tu.ID(id),
		MessageID: mid,
		Text:      content,
	})
	if err != nil {
		return wrapTelegramError(err)
	}
	return nil
}

// ResolveBotChat resolves "@handle" to the private chat ID used to talk to
// that bot. For a private bot chat the chat ID is the bot's user ID, so it
// doubles as the sender identity.
func (c *TelegramChannel) ResolveBotChat(ctx context.Context, handle string) (string, string, error) {
	chat, err := c.bot.GetChat(ctx, &telego.GetChatParams{ChatID: tu.Username(handle)})
	if err != nil {
		return "", "", fmt.Errorf("resolving %s: %w", handle, err)
	}
	id := strconv.FormatInt(chat.ID, 10)
	return id, id, nil
}

func wrapTelegramError(err error) error {
	var apiErr *telegoapi.Error
	if errors.As(err, &apiErr) && apiErr.ErrorCode == 429 {
		return fmt.Errorf("%w: %s", ErrRateLimited, apiErr.Description)
	}
	return err
}
