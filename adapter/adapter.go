// Package adapter defines the turn notification boundary.
//
// Adapters publish committed-turn notifications to downstream systems.
// The chat session owns adapter lifecycle; users provide configuration only.
package adapter

import (
	"context"
	"fmt"
	"time"

	"github.com/pithecene-io/chatrelay/types"
)

// EventTypeTurnCommitted is the only event type adapters publish.
const EventTypeTurnCommitted = "turn_committed"

// DefaultBackoff is the base delay before the first retry.
const DefaultBackoff = 500 * time.Millisecond

// TurnCommittedEvent is the payload published after a turn is committed.
type TurnCommittedEvent struct {
	Version        string `json:"version"`
	EventType      string `json:"event_type"` // always "turn_committed"
	SessionID      string `json:"session_id"`
	ChatSessionID  string `json:"chat_session_id,omitempty"`
	TurnID         string `json:"turn_id"`
	Outcome        string `json:"outcome"` // completed or stopped
	UserMessageID  string `json:"user_message_id,omitempty"`
	BotMessageID   string `json:"bot_message_id,omitempty"`
	StopReason     string `json:"stop_reason,omitempty"`
	ContentLength  int    `json:"content_length"`
	DocumentCount  int    `json:"document_count"`
	PacketCount    int    `json:"packet_count"`
	TranscriptPath string `json:"transcript_path,omitempty"`
	Timestamp      string `json:"timestamp"` // RFC 3339
	DurationMs     int64  `json:"duration_ms"`
}

// TurnInfo identifies the turn an event describes.
type TurnInfo struct {
	SessionID      string
	ChatSessionID  string
	TurnID         string
	Outcome        string
	TranscriptPath string
	StartedAt      time.Time
}

// NewTurnCommittedEvent builds the event for a committed user/bot pair.
func NewTurnCommittedEvent(info TurnInfo, state types.TurnState, committedAt time.Time) *TurnCommittedEvent {
	ev := &TurnCommittedEvent{
		Version:        types.ContractVersion,
		EventType:      EventTypeTurnCommitted,
		SessionID:      info.SessionID,
		ChatSessionID:  info.ChatSessionID,
		TurnID:         info.TurnID,
		Outcome:        info.Outcome,
		UserMessageID:  types.Deref(state.UserMessageID),
		BotMessageID:   types.Deref(state.MessageID),
		ContentLength:  len(state.Content),
		DocumentCount:  len(state.ContextDocs),
		PacketCount:    state.PacketCount,
		TranscriptPath: info.TranscriptPath,
		Timestamp:      committedAt.UTC().Format(time.RFC3339),
	}
	if state.StopReason != nil {
		ev.StopReason = string(*state.StopReason)
	}
	if !info.StartedAt.IsZero() {
		ev.DurationMs = committedAt.Sub(info.StartedAt).Milliseconds()
	}
	return ev
}

// Adapter publishes turn events to a downstream system.
type Adapter interface {
	// Publish sends a turn event to the downstream system.
	// Must respect context cancellation and deadlines.
	Publish(ctx context.Context, event *TurnCommittedEvent) error

	// Close releases adapter resources.
	Close() error
}

// Retry calls fn up to 1+retries times with exponential backoff starting at
// base. It stops early when ctx is done or permanent reports true for the
// returned error. name prefixes returned errors.
func Retry(ctx context.Context, name string, retries int, base time.Duration, permanent func(error) bool, fn func(context.Context) error) error {
	if base <= 0 {
		base = DefaultBackoff
	}
	attempts := 1 + retries

	var lastErr error
	for i := range attempts {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%s: context canceled: %w", name, err)
		}
		if i > 0 {
			select {
			case <-ctx.Done():
				return fmt.Errorf("%s: context canceled during backoff: %w", name, ctx.Err())
			case <-time.After(base << uint(i-1)):
			}
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if permanent != nil && permanent(lastErr) {
			return fmt.Errorf("%s: non-retriable error: %w", name, lastErr)
		}
	}
	return fmt.Errorf("%s: failed after %d attempts: %w", name, attempts, lastErr)
}
