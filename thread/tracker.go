// Package thread tracks the committed message chain of a conversation and the
// parent message id the next turn must send.
//
// State machine:
//
//	Idle ──Begin──▶ AwaitingTurn ──Commit──▶ Committed ──Begin──▶ AwaitingTurn
//	                     │
//	                     └──Discard──▶ (prior state)
//
// Exactly one turn may be pending at a time. Committed messages are never
// modified or removed.
package thread

import (
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pithecene-io/chatrelay/types"
)

// Tracker errors.
var (
	// ErrTurnInProgress is returned by Begin while a turn is pending.
	ErrTurnInProgress = errors.New("thread: turn already in progress")
	// ErrNoPendingTurn is returned by Commit and Discard without a matching
	// pending turn.
	ErrNoPendingTurn = errors.New("thread: no pending turn")
	// ErrUnknownParent is returned when a parent id does not reference an
	// earlier committed message.
	ErrUnknownParent = errors.New("thread: parent message id not found in thread")
)

// State is the tracker state.
type State int

const (
	// StateIdle means no turn has been committed yet.
	StateIdle State = iota
	// StateAwaitingTurn means a turn is pending.
	StateAwaitingTurn
	// StateCommitted means the last turn was committed.
	StateCommitted
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingTurn:
		return "awaiting_turn"
	case StateCommitted:
		return "committed"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// Pending is a turn that has been sent but not yet committed.
type Pending struct {
	// ID is a local identifier for the turn.
	ID string
	// Input is the user's message text.
	Input string
	// ParentMessageID is the parent id the send-message payload must carry.
	ParentMessageID *string
	// StartedAt is when Begin was called.
	StartedAt time.Time
}

// Tracker is the conversation thread for one chat session.
// Safe for concurrent use; in practice owned by the turn goroutine.
type Tracker struct {
	mu         sync.Mutex
	sessionID  string
	state      State
	prior      State
	messages   []types.Message
	nextParent *string
	pending    *Pending
	now        func() time.Time
}

// NewTracker creates an empty thread for sessionID.
func NewTracker(sessionID string) *Tracker {
	return &Tracker{sessionID: sessionID, state: StateIdle, now: time.Now}
}

// SessionID returns the chat session id the thread belongs to.
func (t *Tracker) SessionID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sessionID
}

// Begin starts a turn for input.
func (t *Tracker) Begin(input string) (*Pending, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state == StateAwaitingTurn {
		return nil, ErrTurnInProgress
	}

	p := &Pending{
		ID:              uuid.NewString(),
		Input:           input,
		ParentMessageID: clonePtr(t.nextParent),
		StartedAt:       t.now(),
	}
	t.prior = t.state
	t.state = StateAwaitingTurn
	t.pending = p
	return p, nil
}

// Commit appends the user and bot messages of a finished turn and returns
// them. The bot message id becomes the next parent id (nil when the backend
// sent none).
func (t *Tracker) Commit(p *Pending, state types.TurnState) ([]types.Message, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.pending == nil || p == nil || t.pending.ID != p.ID {
		return nil, ErrNoPendingTurn
	}
	if err := t.checkParent(p.ParentMessageID); err != nil {
		return nil, err
	}

	at := t.now()
	user := types.Message{
		Sender:          types.SenderUser,
		Content:         p.Input,
		MessageID:       clonePtr(state.UserMessageID),
		ParentMessageID: clonePtr(p.ParentMessageID),
		ContextDocs:     []types.ResolvedDocument{},
		CommittedAt:     at,
	}
	bot := types.Message{
		Sender:          types.SenderBot,
		Content:         state.Content,
		MessageID:       clonePtr(state.MessageID),
		ParentMessageID: clonePtr(p.ParentMessageID),
		ContextDocs:     slices.Clone(state.ContextDocs),
		StopReason:      state.StopReason,
		ToolCalls:       slices.Clone(state.ToolCalls),
		ImageFileIDs:    slices.Clone(state.ImageFileIDs),
		CommittedAt:     at,
	}
	if bot.ContextDocs == nil {
		bot.ContextDocs = []types.ResolvedDocument{}
	}

	t.messages = append(t.messages, user, bot)
	t.nextParent = clonePtr(state.MessageID)
	t.pending = nil
	t.state = StateCommitted
	return []types.Message{user, bot}, nil
}

// Discard abandons the pending turn without appending anything.
func (t *Tracker) Discard(p *Pending) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.pending == nil || p == nil || t.pending.ID != p.ID {
		return ErrNoPendingTurn
	}
	t.pending = nil
	t.state = t.prior
	return nil
}

// NextParentID returns the parent id for the next turn, nil at the root.
func (t *Tracker) NextParentID() *string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return clonePtr(t.nextParent)
}

// Messages returns a copy of the committed messages in order.
func (t *Tracker) Messages() []types.Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	return slices.Clone(t.messages)
}

// State returns the current state.
func (t *Tracker) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// checkParent requires parent to be nil or the id of a committed message.
// Caller must hold t.mu.
func (t *Tracker) checkParent(parent *string) error {
	if parent == nil {
		return nil
	}
	for _, m := range t.messages {
		if m.MessageID != nil && *m.MessageID == *parent {
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrUnknownParent, *parent)
}

func clonePtr(p *string) *string {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
