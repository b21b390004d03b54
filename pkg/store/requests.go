package store

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrAlreadyActive is returned by Begin when the requester already has
	// a live relay in that conversation. New attempts are rejected, not
	// queued.
	ErrAlreadyActive = errors.New("relay already active for this requester and conversation")

	// ErrRequestNotFound is returned for transitions on a request that is
	// absent or already resolved.
	ErrRequestNotFound = errors.New("relay request not found")

	// ErrBadTransition guards the request state machine: Pending may only
	// move to Collecting, and terminal states are final.
	ErrBadTransition = errors.New("invalid relay request transition")
)

// RequestState is the lifecycle position of a relay request.
type RequestState string

const (
	StatePending    RequestState = "pending"
	StateCollecting RequestState = "collecting"
)

// Terminal outcomes are not stored: resolving a request removes it from
// the active table. They exist as values for signalling and logs.
const (
	StateCompleted RequestState = "completed"
	StateTimedOut  RequestState = "timed_out"
	StateFailed    RequestState = "failed"
)

// RelayRequest is one in-flight relay invocation awaiting responses.
type RelayRequest struct {
	ID                string       `json:"id"`
	Channel           string       `json:"channel"`
	RequesterID       string       `json:"requester_id"`
	ChatID            string       `json:"chat_id"`
	OutboundChatID    string       `json:"outbound_chat_id,omitempty"`
	OutboundMessageID string       `json:"outbound_message_id,omitempty"`
	StartedAt         time.Time    `json:"started_at"`
	State             RequestState `json:"state"`
}

func requestKey(requesterID, chatID string) string {
	return requesterID + "|" + chatID
}

type requestsDoc struct {
	Active map[string]RelayRequest `json:"active_requests"`
}

// RequestTracker persists in-flight relay requests so duplicates are
// rejected and crashes can be recovered by scanning for stale entries.
type RequestTracker struct {
	table *Table[requestsDoc]
}

func OpenRequestTracker(dir string) (*RequestTracker, error) {
	table, err := OpenTable(dir, "requests", func() requestsDoc {
		return requestsDoc{Active: map[string]RelayRequest{}}
	})
	if err != nil {
		return nil, err
	}
	return &RequestTracker{table: table}, nil
}

// Begin atomically checks for an existing live request under the
// (requester, conversation) key and creates a Pending one if there is
// none. The table lock makes the check-and-create atomic against
// concurrent relay attempts.
func (t *RequestTracker) Begin(channel, requesterID, chatID string) (RelayRequest, error) {
	req := RelayRequest{
		ID:          uuid.NewString()[:8],
		Channel:     channel,
		RequesterID: requesterID,
		ChatID:      chatID,
		StartedAt:   time.Now().UTC(),
		State:       StatePending,
	}
	err := t.table.Update(func(doc *requestsDoc) error {
		if doc.Active == nil {
			doc.Active = map[string]RelayRequest{}
		}
		key := requestKey(requesterID, chatID)
		if _, exists := doc.Active[key]; exists {
			return ErrAlreadyActive
		}
		doc.Active[key] = req
		return nil
	})
	if err != nil {
		return RelayRequest{}, err
	}
	return req, nil
}

// MarkSent transitions Pending -> Collecting, recording where the outbound
// message landed.
func (t *RequestTracker) MarkSent(requesterID, chatID, outboundChatID, outboundMessageID string) error {
	return t.table.Update(func(doc *requestsDoc) error {
		key := requestKey(requesterID, chatID)
		req, ok := doc.Active[key]
		if !ok {
			return ErrRequestNotFound
		}
		if req.State != StatePending {
			return ErrBadTransition
		}
		req.State = StateCollecting
		req.OutboundChatID = outboundChatID
		req.OutboundMessageID = outboundMessageID
		doc.Active[key] = req
		return nil
	})
}

// Get returns the live request for a key, if any.
func (t *RequestTracker) Get(requesterID, chatID string) (RelayRequest, bool, error) {
	doc, err := t.table.Load()
	if err != nil {
		return RelayRequest{}, false, err
	}
	req, ok := doc.Active[requestKey(requesterID, chatID)]
	return req, ok, nil
}

// Resolve closes a request with a terminal outcome, removing it from the
// active table.
func (t *RequestTracker) Resolve(requesterID, chatID string, outcome RequestState) error {
	switch outcome {
	case StateCompleted, StateTimedOut, StateFailed:
	default:
		return ErrBadTransition
	}
	return t.table.Update(func(doc *requestsDoc) error {
		key := requestKey(requesterID, chatID)
		if _, ok := doc.Active[key]; !ok {
			return ErrRequestNotFound
		}
		delete(doc.Active, key)
		return nil
	})
}

func (t *RequestTracker) Complete(requesterID, chatID string) error {
	return t.Resolve(requesterID, chatID, StateCompleted)
}

func (t *RequestTracker) Timeout(requesterID, chatID string) error {
	return t.Resolve(requesterID, chatID, StateTimedOut)
}

func (t *RequestTracker) Fail(requesterID, chatID string) error {
	return t.Resolve(requesterID, chatID, StateFailed)
}

// CollectingInChat reports whether any live request is collecting replies
// in the given outbound conversation. The fallback correlation rule needs
// this to stay unambiguous.
func (t *RequestTracker) CollectingInChat(channel, outboundChatID string) (bool, error) {
	doc, err := t.table.Load()
	if err != nil {
		return false, err
	}
	for _, req := range doc.Active {
		if req.Channel == channel && req.State == StateCollecting && req.OutboundChatID == outboundChatID {
			return true, nil
		}
	}
	return false, nil
}

// RecoverStale removes requests older than maxAge, returning how many were
// dropped. The gateway runs this at startup (requests orphaned by a crash)
// and from the periodic cleanup sweep.
func (t *RequestTracker) RecoverStale(maxAge time.Duration) (int, error) {
	removed := 0
	cutoff := time.Now().UTC().Add(-maxAge)
	err := t.table.Update(func(doc *requestsDoc) error {
		for key, req := range doc.Active {
			if req.StartedAt.Before(cutoff) {
				delete(doc.Active, key)
				removed++
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return removed, nil
}
