package relay

import (
	"context"
	"strings"

	"github.com/tinyland-inc/relayclaw/pkg/bus"
	"github.com/tinyland-inc/relayclaw/pkg/logger"
)

// Control commands are fixed; only the relay trigger and help carry the
// configurable prefix.
const (
	cmdSetBot       = "/setbot"
	cmdSetBotGlobal = "/setbotglobal"
	cmdShowBot      = "/bot"
	cmdAllow        = "/allow"
	cmdDisallow     = "/disallow"
	cmdAllowed      = "/allowed"
)

func isControlCommand(text string) bool {
	cmd, _ := parseCommand(text)
	switch cmd {
	case cmdSetBot, cmdSetBotGlobal, cmdShowBot, cmdAllow, cmdDisallow, cmdAllowed:
		return true
	}
	return false
}

// parseCommand splits a message into its leading command token and the
// remaining argument string.
func parseCommand(text string) (string, string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", ""
	}
	cmd, args, _ := strings.Cut(text, " ")
	return strings.ToLower(cmd), strings.TrimSpace(args)
}

func (s *Service) handleCommand(ctx context.Context, ev bus.Event) {
	cmd, args := parseCommand(ev.Content)

	switch cmd {
	case s.cfg.CommandPrefix + "help":
		s.cmdHelp(ctx, ev)
	case s.cfg.CommandPrefix:
		s.processRelay(ctx, ev, args)
	case cmdSetBot:
		s.cmdSetBot(ctx, ev, args, false)
	case cmdSetBotGlobal:
		s.cmdSetBot(ctx, ev, args, true)
	case cmdShowBot:
		s.cmdShowBot(ctx, ev)
	case cmdAllow:
		s.cmdAllow(ctx, ev, args)
	case cmdDisallow:
		s.cmdDisallow(ctx, ev, args)
	case cmdAllowed:
		s.cmdAllowed(ctx, ev)
	}
}

func (s *Service) isOwner(ev bus.Event) bool {
	owner, err := s.botcfg.IsOwner(ev.SenderID)
	if err != nil {
		logger.ErrorCF("relay", "Owner check failed", map[string]any{"error": err.Error()})
		return false
	}
	return owner
}

// cmdSetBot assigns the target bot, per-conversation or globally.
// Owner-only; unauthorized attempts are ignored without a reply.
func (s *Service) cmdSetBot(ctx context.Context, ev bus.Event, args string, global bool) {
	if !s.isOwner(ev) {
		return
	}

	handle := strings.TrimSpace(args)
	if handle == "" || !strings.HasPrefix(handle, "@") {
		usage := "Usage: " + cmdSetBot + " @BotHandle"
		if global {
			usage = "Usage: " + cmdSetBotGlobal + " @BotHandle"
		}
		s.notify(ctx, ev.Channel, ev.ChatID, usage)
		return
	}

	var err error
	if global {
		err = s.botcfg.SetGlobalBot(handle)
	} else {
		err = s.botcfg.SetChatBot(ev.ChatID, handle)
	}
	if err != nil {
		logger.ErrorCF("relay", "Could not save bot assignment", map[string]any{"error": err.Error()})
		s.notify(ctx, ev.Channel, ev.ChatID, "Could not save bot assignment, try again.")
		return
	}

	if global {
		s.notify(ctx, ev.Channel, ev.ChatID, "Global target bot set to: "+handle)
	} else {
		s.notify(ctx, ev.Channel, ev.ChatID, "Target bot for this chat set to: "+handle)
	}
}

func (s *Service) cmdShowBot(ctx context.Context, ev bus.Event) {
	handle, err := s.botcfg.ResolveBot(ev.ChatID)
	if err != nil {
		s.notify(ctx, ev.Channel, ev.ChatID,
			"No target bot configured. Use "+cmdSetBot+" or "+cmdSetBotGlobal)
		return
	}
	s.notify(ctx, ev.Channel, ev.ChatID, "Current target bot: "+handle)
}

func (s *Service) cmdAllow(ctx context.Context, ev bus.Event, args string) {
	if !s.isOwner(ev) {
		s.notify(ctx, ev.Channel, ev.ChatID, "Not allowed.")
		return
	}
	userID := strings.TrimSpace(args)
	if userID == "" {
		s.notify(ctx, ev.Channel, ev.ChatID, "Usage: "+cmdAllow+" <user_id>")
		return
	}
	if err := s.botcfg.AllowUser(userID); err != nil {
		logger.ErrorCF("relay", "Could not update allow list", map[string]any{"error": err.Error()})
		s.notify(ctx, ev.Channel, ev.ChatID, "Could not update allow list, try again.")
		return
	}
	s.notify(ctx, ev.Channel, ev.ChatID, "User "+userID+" is now allowed to use "+s.cfg.CommandPrefix)
}

func (s *Service) cmdDisallow(ctx context.Context, ev bus.Event, args string) {
	if !s.isOwner(ev) {
		s.notify(ctx, ev.Channel, ev.ChatID, "Not allowed.")
		return
	}
	userID := strings.TrimSpace(args)
	if userID == "" {
		s.notify(ctx, ev.Channel, ev.ChatID, "Usage: "+cmdDisallow+" <user_id>")
		return
	}
	removed, err := s.botcfg.DisallowUser(userID)
	if err != nil {
		logger.ErrorCF("relay", "Could not update allow list", map[string]any{"error": err.Error()})
		s.notify(ctx, ev.Channel, ev.ChatID, "Could not update allow list, try again.")
		return
	}
	if !removed {
		s.notify(ctx, ev.Channel, ev.ChatID, "Cannot remove owner or user not in list")
		return
	}
	s.notify(ctx, ev.Channel, ev.ChatID, "User "+userID+" access revoked")
}

func (s *Service) cmdAllowed(ctx context.Context, ev bus.Event) {
	if !s.isOwner(ev) {
		s.notify(ctx, ev.Channel, ev.ChatID, "Not allowed.")
		return
	}
	users, err := s.botcfg.AllowedUsers()
	if err != nil {
		logger.ErrorCF("relay", "Could not read allow list", map[string]any{"error": err.Error()})
		return
	}
	if len(users) == 0 {
		s.notify(ctx, ev.Channel, ev.ChatID, "No users allowed")
		return
	}

	owner, _ := s.botcfg.OwnerID()
	var b strings.Builder
	b.WriteString("Allowed users:\n")
	for _, u := range users {
		b.WriteString("- " + u)
		if u == owner {
			b.WriteString(" (owner)")
		}
		b.WriteString("\n")
	}
	s.notify(ctx, ev.Channel, ev.ChatID, strings.TrimRight(b.String(), "\n"))
}

func (s *Service) cmdHelp(ctx context.Context, ev bus.Event) {
	p := s.cfg.CommandPrefix
	help := strings.Join([]string{
		"Relay commands:",
		p + " <message> - relay a message to the target bot",
		cmdSetBot + " @BotHandle - set target bot for this chat (owner)",
		cmdSetBotGlobal + " @BotHandle - set global default bot (owner)",
		cmdShowBot + " - show the current target bot",
		cmdAllow + " <user_id> - allow a user to relay (owner)",
		cmdDisallow + " <user_id> - revoke relay access (owner)",
		cmdAllowed + " - list allowed users (owner)",
		p + "help - show this help",
	}, "\n")
	s.notify(ctx, ev.Channel, ev.ChatID, help)
}
