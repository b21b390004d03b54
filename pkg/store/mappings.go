package store

import (
	"errors"
	"time"

	"github.com/tinyland-inc/relayclaw/pkg/bus"
)

// ErrDuplicateMapping is returned when a remote message is already mapped;
// callers that want to change an existing mapping should update it instead.
var ErrDuplicateMapping = errors.New("remote message already mapped")

// MessageMapping links one upstream (remote) message to its mirrored copy.
// Source identifies the trigger message, origin identifies where the mirror
// lives, remote identifies the bot's message being mirrored. (remoteChatID,
// remoteMessageID) is unique across the registry.
type MessageMapping struct {
	Channel         string          `json:"channel"`
	SourceChatID    string          `json:"source_chat_id"`
	SourceMessageID string          `json:"source_message_id"`
	OriginChatID    string          `json:"origin_chat_id"`
	OriginMessageID string          `json:"origin_message_id"`
	RemoteChatID    string          `json:"remote_chat_id"`
	RemoteMessageID string          `json:"remote_message_id"`
	Kind            bus.ContentKind `json:"kind,omitempty"`
	ContentHash     string          `json:"content_hash,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
}

type mappingsDoc struct {
	Mappings []MessageMapping `json:"mappings"`
}

// MappingRegistry is the durable source-to-mirror message index, consulted
// on every inbound edit event.
type MappingRegistry struct {
	table *Table[mappingsDoc]
}

func OpenMappingRegistry(dir string) (*MappingRegistry, error) {
	table, err := OpenTable(dir, "mappings", func() mappingsDoc {
		return mappingsDoc{}
	})
	if err != nil {
		return nil, err
	}
	return &MappingRegistry{table: table}, nil
}

func (r *MappingRegistry) Record(m MessageMapping) error {
	return r.table.Update(func(doc *mappingsDoc) error {
		for i := range doc.Mappings {
			if doc.Mappings[i].RemoteChatID == m.RemoteChatID &&
				doc.Mappings[i].RemoteMessageID == m.RemoteMessageID {
				return ErrDuplicateMapping
			}
		}
		doc.Mappings = append(doc.Mappings, m)
		return nil
	})
}

// FindByRemote looks up the mapping for an upstream message. A miss is not
// an error: edits to unmapped messages were not relay-originated and are
// ignored by the caller.
func (r *MappingRegistry) FindByRemote(remoteChatID, remoteMessageID string) (MessageMapping, bool, error) {
	doc, err := r.table.Load()
	if err != nil {
		return MessageMapping{}, false, err
	}
	for i := range doc.Mappings {
		if doc.Mappings[i].RemoteChatID == remoteChatID &&
			doc.Mappings[i].RemoteMessageID == remoteMessageID {
			return doc.Mappings[i], true, nil
		}
	}
	return MessageMapping{}, false, nil
}

// UpdateHash records the content hash last pushed to the mirrored copy, so
// later no-op edits can be suppressed.
func (r *MappingRegistry) UpdateHash(remoteChatID, remoteMessageID, hash string) error {
	return r.table.Update(func(doc *mappingsDoc) error {
		for i := range doc.Mappings {
			if doc.Mappings[i].RemoteChatID == remoteChatID &&
				doc.Mappings[i].RemoteMessageID == remoteMessageID {
				doc.Mappings[i].ContentHash = hash
				return nil
			}
		}
		return nil
	})
}

// EvictOlderThan removes mappings created before cutoff and returns how
// many were removed. Every mirrored reply creates one mapping, so this is
// what bounds the registry's growth.
func (r *MappingRegistry) EvictOlderThan(cutoff time.Time) (int, error) {
	removed := 0
	err := r.table.Update(func(doc *mappingsDoc) error {
		kept := doc.Mappings[:0]
		for _, m := range doc.Mappings {
			if m.CreatedAt.Before(cutoff) {
				removed++
				continue
			}
			kept = append(kept, m)
		}
		doc.Mappings = kept
		return nil
	})
	if err != nil {
		return 0, err
	}
	return removed, nil
}

// Count returns the number of live mappings, used by tests and the
// cleanup log line.
func (r *MappingRegistry) Count() (int, error) {
	doc, err := r.table.Load()
	if err != nil {
		return 0, err
	}
	return len(doc.Mappings), nil
}
