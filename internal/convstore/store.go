// Package convstore persists in-flight multi-step dialog state keyed by
// (userId, flowKind). State survives process restarts so flows that wait on
// a later user action, like an attachment upload after a form, reconnect
// after a reload. Entries expire after a TTL and are swept lazily.
package convstore

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// State is one in-flight dialog. Selections hold the small per-step choices
// (subtype, order number) a flow accumulates before persisting.
type State struct {
	UserID     string            `json:"user_id"`
	FlowKind   string            `json:"flow_kind"`
	Step       int               `json:"step"`
	Selections map[string]string `json:"selections,omitempty"`
	RequestID  string            `json:"request_id,omitempty"`
	UpdatedAt  time.Time         `json:"updated_at"`
}

// Value reads a selection, returning "" when absent.
func (s State) Value(key string) string {
	if s.Selections == nil {
		return ""
	}
	return s.Selections[key]
}

// Store is the conversation-state capability. Implementations serialize
// writes to the same (userId, flowKind); a missing state is reported with
// ok=false, never an error.
type Store interface {
	Put(ctx context.Context, st State) error
	Get(ctx context.Context, userID, flowKind string) (State, bool, error)
	Delete(ctx context.Context, userID, flowKind string) error

	// Take atomically reads and deletes a state. At most one caller gets
	// ok=true for the same entry; the attachment flow relies on this to
	// avoid double-processing.
	Take(ctx context.Context, userID, flowKind string) (State, bool, error)

	// SweepExpired drops entries older than ttl, returning how many were
	// removed.
	SweepExpired(ctx context.Context, ttl time.Duration) (int, error)
}

// NewRequestID generates the id carried across dialog→attachment handoffs:
// {userId}_{random8hex}_{epochSeconds}.
func NewRequestID(userID string) string {
	return fmt.Sprintf("%s_%s_%d", userID, uuid.NewString()[:8], time.Now().Unix())
}

func stateKey(userID, flowKind string) string {
	return userID + "|" + flowKind
}
