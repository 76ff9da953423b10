// Package session tracks per-conversation state for the show-more and
// replay interactions. Messaging platforms deliver each message with no
// memory of the last one, so everything the gateway needs to continue an
// interaction lives here, keyed by conversation ID.
package session

import (
	"context"
	"encoding/json"
)

// Stage is the pagination position of a conversation's last result.
type Stage string

const (
	// StageInitial means the first page was shown; "show more" expands it.
	StageInitial Stage = "initial"
	// StageExpanded means the expanded page was shown; "show more" dumps
	// the full result.
	StageExpanded Stage = "expanded"
	// StageDone means everything was shown; "show more" is a no-op.
	StageDone Stage = "done"
)

// LastResult is the most recent successful backend answer for a
// conversation, kept verbatim so expansion never re-queries the backend.
type LastResult struct {
	Query   string          `json:"query"`
	Dataset string          `json:"dataset"`
	Raw     json.RawMessage `json:"raw"`
	Stage   Stage           `json:"stage"`
}

// HistoryEntry identifies a past query so it can be replayed.
type HistoryEntry struct {
	Query   string `json:"query"`
	Dataset string `json:"dataset"`
}

// Session is the full per-conversation state.
type Session struct {
	LastResult *LastResult    `json:"last_result,omitempty"`
	History    []HistoryEntry `json:"history,omitempty"`
}

// PushHistory inserts an entry at the front of the history, removing any
// existing entry with the same query and dataset first, and drops entries
// beyond limit. A limit <= 0 keeps the history empty.
func (s *Session) PushHistory(e HistoryEntry, limit int) {
	if limit <= 0 {
		s.History = nil
		return
	}
	kept := make([]HistoryEntry, 0, len(s.History)+1)
	kept = append(kept, e)
	for _, h := range s.History {
		if h == e {
			continue
		}
		kept = append(kept, h)
	}
	if len(kept) > limit {
		kept = kept[:limit]
	}
	s.History = kept
}

// Store persists sessions keyed by conversation ID. Get returns a zero
// Session for an unknown ID.
type Store interface {
	Get(ctx context.Context, conversationID string) (Session, error)
	Put(ctx context.Context, conversationID string, s Session) error

	// SessionCount reports how many conversations have state, for the
	// status endpoint.
	SessionCount(ctx context.Context) (int, error)
}
