package bus

// EventKind distinguishes new messages from edits on the inbound stream.
type EventKind string

const (
	EventNewMessage    EventKind = "message"
	EventMessageEdited EventKind = "edited"
)

// ContentKind classifies what an inbound message carries. Non-text kinds
// are mirrored as annotated text; the relay core never moves raw media.
type ContentKind string

const (
	ContentText     ContentKind = "text"
	ContentPhoto    ContentKind = "photo"
	ContentVideo    ContentKind = "video"
	ContentVoice    ContentKind = "voice"
	ContentAudio    ContentKind = "audio"
	ContentDocument ContentKind = "document"
)

// Event is one inbound occurrence on a channel: a new message or an edit
// to an existing one. ChatID and MessageID are opaque platform identifiers,
// scoped to Channel.
type Event struct {
	Kind             EventKind   `json:"kind"`
	Channel          string      `json:"channel"`
	ChatID           string      `json:"chat_id"`
	MessageID        string      `json:"message_id"`
	SenderID         string      `json:"sender_id"`
	SenderHandle     string      `json:"sender_handle,omitempty"`
	SenderIsBot      bool        `json:"sender_is_bot,omitempty"`
	Content          string      `json:"content"`
	ContentKind      ContentKind `json:"content_kind,omitempty"`
	ReplyToMessageID string      `json:"reply_to_message_id,omitempty"`
	Outgoing         bool        `json:"outgoing,omitempty"`
}
