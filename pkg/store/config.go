package store

import (
	"errors"
	"slices"
)

// ErrNoTargetBot is returned when neither a per-chat nor a global target
// bot is configured for a conversation.
var ErrNoTargetBot = errors.New("no target bot configured")

type configDoc struct {
	GlobalBot    string            `json:"global_bot,omitempty"`
	ChatBots     map[string]string `json:"chat_bots"`
	OwnerID      string            `json:"owner_id,omitempty"`
	AllowedUsers []string          `json:"allowed_users"`
}

// ConfigStore holds the target-bot assignments and the relay allow list.
// The owner is always allowed and cannot be removed.
type ConfigStore struct {
	table *Table[configDoc]
}

// OpenConfigStore opens the config table. A non-empty ownerID seeds the
// owner and its allow-list entry on first use.
func OpenConfigStore(dir, ownerID string) (*ConfigStore, error) {
	table, err := OpenTable(dir, "config", func() configDoc {
		return configDoc{ChatBots: map[string]string{}}
	})
	if err != nil {
		return nil, err
	}
	s := &ConfigStore{table: table}

	if ownerID != "" {
		err := table.Update(func(doc *configDoc) error {
			if doc.ChatBots == nil {
				doc.ChatBots = map[string]string{}
			}
			if doc.OwnerID == "" {
				doc.OwnerID = ownerID
			}
			if !slices.Contains(doc.AllowedUsers, doc.OwnerID) {
				doc.AllowedUsers = append(doc.AllowedUsers, doc.OwnerID)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return s, nil
}

// ResolveBot returns the target bot handle for a conversation. A per-chat
// assignment overrides the global one; neither yields ErrNoTargetBot.
func (s *ConfigStore) ResolveBot(chatID string) (string, error) {
	doc, err := s.table.Load()
	if err != nil {
		return "", err
	}
	if bot, ok := doc.ChatBots[chatID]; ok && bot != "" {
		return bot, nil
	}
	if doc.GlobalBot != "" {
		return doc.GlobalBot, nil
	}
	return "", ErrNoTargetBot
}

func (s *ConfigStore) SetChatBot(chatID, handle string) error {
	return s.table.Update(func(doc *configDoc) error {
		if doc.ChatBots == nil {
			doc.ChatBots = map[string]string{}
		}
		doc.ChatBots[chatID] = handle
		return nil
	})
}

func (s *ConfigStore) SetGlobalBot(handle string) error {
	return s.table.Update(func(doc *configDoc) error {
		doc.GlobalBot = handle
		return nil
	})
}

func (s *ConfigStore) OwnerID() (string, error) {
	doc, err := s.table.Load()
	if err != nil {
		return "", err
	}
	return doc.OwnerID, nil
}

func (s *ConfigStore) IsOwner(userID string) (bool, error) {
	owner, err := s.OwnerID()
	if err != nil {
		return false, err
	}
	return owner != "" && userID == owner, nil
}

func (s *ConfigStore) IsAllowed(userID string) (bool, error) {
	doc, err := s.table.Load()
	if err != nil {
		return false, err
	}
	if doc.OwnerID != "" && userID == doc.OwnerID {
		return true, nil
	}
	return slices.Contains(doc.AllowedUsers, userID), nil
}

func (s *ConfigStore) AllowUser(userID string) error {
	return s.table.Update(func(doc *configDoc) error {
		if !slices.Contains(doc.AllowedUsers, userID) {
			doc.AllowedUsers = append(doc.AllowedUsers, userID)
		}
		return nil
	})
}

// DisallowUser removes a user from the allow list. It reports whether the
// user was actually removed; the owner is never removable.
func (s *ConfigStore) DisallowUser(userID string) (bool, error) {
	removed := false
	err := s.table.Update(func(doc *configDoc) error {
		if doc.OwnerID != "" && userID == doc.OwnerID {
			return nil
		}
		before := len(doc.AllowedUsers)
		doc.AllowedUsers = slices.DeleteFunc(doc.AllowedUsers, func(u string) bool {
			return u == userID
		})
		removed = len(doc.AllowedUsers) != before
		return nil
	})
	return removed, err
}

func (s *ConfigStore) AllowedUsers() ([]string, error) {
	doc, err := s.table.Load()
	if err != nil {
		return nil, err
	}
	return doc.AllowedUsers, nil
}
