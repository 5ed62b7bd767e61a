package thread

import (
	"bytes"
	"errors"
	"path/filepath"
	"testing"

	"github.com/pithecene-io/chatrelay/types"
)

func botState(userID, botID, content string) types.TurnState {
	s := types.TurnState{Content: content}
	if userID != "" {
		s.UserMessageID = types.StringPtr(userID)
	}
	if botID != "" {
		s.MessageID = types.StringPtr(botID)
	}
	return s
}

func runTurn(t *testing.T, tr *Tracker, input string, state types.TurnState) *Pending {
	t.Helper()
	p, err := tr.Begin(input)
	if err != nil {
		t.Fatalf("Begin(%q) failed: %v", input, err)
	}
	if _, err := tr.Commit(p, state); err != nil {
		t.Fatalf("Commit(%q) failed: %v", input, err)
	}
	return p
}

func TestTracker_ThreeTurnParentLinkage(t *testing.T) {
	tr := NewTracker("session-1")

	p1 := runTurn(t, tr, "one", botState("u1", "b1", "first"))
	p2 := runTurn(t, tr, "two", botState("u2", "b2", "second"))
	p3 := runTurn(t, tr, "three", botState("u3", "b3", "third"))

	if p1.ParentMessageID != nil {
		t.Errorf("turn 1 parent = %q, want nil", *p1.ParentMessageID)
	}
	if types.Deref(p2.ParentMessageID) != "b1" {
		t.Errorf("turn 2 parent = %q, want b1", types.Deref(p2.ParentMessageID))
	}
	if types.Deref(p3.ParentMessageID) != "b2" {
		t.Errorf("turn 3 parent = %q, want b2", types.Deref(p3.ParentMessageID))
	}
	if types.Deref(tr.NextParentID()) != "b3" {
		t.Errorf("NextParentID = %q, want b3", types.Deref(tr.NextParentID()))
	}

	msgs := tr.Messages()
	if len(msgs) != 6 {
		t.Fatalf("got %d messages, want 6", len(msgs))
	}
	wantSenders := []types.Sender{types.SenderUser, types.SenderBot, types.SenderUser, types.SenderBot, types.SenderUser, types.SenderBot}
	for i, m := range msgs {
		if m.Sender != wantSenders[i] {
			t.Errorf("messages[%d].Sender = %q, want %q", i, m.Sender, wantSenders[i])
		}
	}
	if msgs[4].Content != "three" || msgs[5].Content != "third" {
		t.Errorf("turn 3 contents = %q/%q", msgs[4].Content, msgs[5].Content)
	}
	// Both messages of a turn point at the previous turn's bot message.
	wantParents := []string{"", "", "b1", "b1", "b2", "b2"}
	for i, m := range msgs {
		if got := types.Deref(m.ParentMessageID); got != wantParents[i] {
			t.Errorf("messages[%d].ParentMessageID = %q, want %q", i, got, wantParents[i])
		}
	}
	if msgs[0].ParentMessageID != nil || msgs[1].ParentMessageID != nil {
		t.Errorf("turn 1 parents = %v/%v, want nil", msgs[0].ParentMessageID, msgs[1].ParentMessageID)
	}
}

func TestTracker_StateMachine(t *testing.T) {
	tr := NewTracker("s")
	if tr.State() != StateIdle {
		t.Fatalf("initial state = %v, want idle", tr.State())
	}

	p, err := tr.Begin("hi")
	if err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	if tr.State() != StateAwaitingTurn {
		t.Errorf("state = %v, want awaiting_turn", tr.State())
	}

	if _, err := tr.Begin("again"); !errors.Is(err, ErrTurnInProgress) {
		t.Errorf("second Begin error = %v, want ErrTurnInProgress", err)
	}

	if err := tr.Discard(p); err != nil {
		t.Fatalf("Discard failed: %v", err)
	}
	if tr.State() != StateIdle {
		t.Errorf("state after discard = %v, want idle", tr.State())
	}
	if len(tr.Messages()) != 0 {
		t.Error("discard must not append messages")
	}

	if _, err := tr.Commit(p, botState("u", "b", "x")); !errors.Is(err, ErrNoPendingTurn) {
		t.Errorf("Commit after discard error = %v, want ErrNoPendingTurn", err)
	}
	if err := tr.Discard(p); !errors.Is(err, ErrNoPendingTurn) {
		t.Errorf("second Discard error = %v, want ErrNoPendingTurn", err)
	}

	runTurn(t, tr, "hi", botState("u1", "b1", "hello"))
	if tr.State() != StateCommitted {
		t.Errorf("state = %v, want committed", tr.State())
	}

	p2, _ := tr.Begin("next")
	_ = tr.Discard(p2)
	if tr.State() != StateCommitted {
		t.Errorf("state after discard = %v, want committed (prior state)", tr.State())
	}
}

func TestTracker_CommitRejectsStalePending(t *testing.T) {
	tr := NewTracker("s")
	p, _ := tr.Begin("a")
	_ = tr.Discard(p)
	_, _ = tr.Begin("b")

	if _, err := tr.Commit(p, botState("u", "b", "x")); !errors.Is(err, ErrNoPendingTurn) {
		t.Errorf("Commit with stale pending error = %v, want ErrNoPendingTurn", err)
	}
}

func TestTracker_MissingBotIDResetsParent(t *testing.T) {
	tr := NewTracker("s")
	runTurn(t, tr, "a", botState("u1", "b1", "x"))
	runTurn(t, tr, "b", botState("u2", "", "y"))

	if tr.NextParentID() != nil {
		t.Errorf("NextParentID = %q, want nil", *tr.NextParentID())
	}
}

func TestTracker_CommitRejectsUnknownParent(t *testing.T) {
	tr := NewTracker("s")
	p, _ := tr.Begin("a")
	p.ParentMessageID = types.StringPtr("ghost")

	if _, err := tr.Commit(p, botState("u", "b", "x")); !errors.Is(err, ErrUnknownParent) {
		t.Errorf("error = %v, want ErrUnknownParent", err)
	}
	if len(tr.Messages()) != 0 {
		t.Error("rejected commit must not append")
	}
}

func TestTracker_CommittedMessagesAreCopies(t *testing.T) {
	tr := NewTracker("s")
	cite := 1
	state := botState("u1", "b1", "x")
	state.ContextDocs = []types.ResolvedDocument{{Link: "l", Citation: &cite}}
	runTurn(t, tr, "a", state)

	state.ContextDocs[0].Link = "mutated"
	msgs := tr.Messages()
	msgs[1].Content = "mutated"

	again := tr.Messages()
	if again[1].ContextDocs[0].Link != "l" {
		t.Error("committed documents must not alias the turn state")
	}
	if again[1].Content != "x" {
		t.Error("Messages must return a copy")
	}
}

func TestSnapshot_SaveLoad(t *testing.T) {
	tr := NewTracker("session-9")
	runTurn(t, tr, "one", botState("u1", "b1", "first"))
	reason := types.StopReasonContextLength
	state := botState("u2", "b2", "second")
	state.StopReason = &reason
	state.ToolCalls = []types.ToolInvocation{{ToolName: "search", ToolArgs: map[string]any{"q": "x"}}}
	runTurn(t, tr, "two", state)

	var buf bytes.Buffer
	if err := tr.Save(&buf); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	restored, err := Load(&buf)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if restored.SessionID() != "session-9" {
		t.Errorf("SessionID = %q", restored.SessionID())
	}
	if restored.State() != StateCommitted {
		t.Errorf("State = %v, want committed", restored.State())
	}
	if types.Deref(restored.NextParentID()) != "b2" {
		t.Errorf("NextParentID = %q, want b2", types.Deref(restored.NextParentID()))
	}

	msgs := restored.Messages()
	if len(msgs) != 4 {
		t.Fatalf("got %d messages, want 4", len(msgs))
	}
	if msgs[3].StopReason == nil || *msgs[3].StopReason != types.StopReasonContextLength {
		t.Errorf("StopReason = %v", msgs[3].StopReason)
	}
	if len(msgs[3].ToolCalls) != 1 || msgs[3].ToolCalls[0].ToolName != "search" {
		t.Errorf("ToolCalls = %+v", msgs[3].ToolCalls)
	}
	if !msgs[0].CommittedAt.Equal(tr.Messages()[0].CommittedAt) {
		t.Errorf("CommittedAt = %v, want %v", msgs[0].CommittedAt, tr.Messages()[0].CommittedAt)
	}

	// A resumed thread continues the chain.
	p, _ := restored.Begin("three")
	if types.Deref(p.ParentMessageID) != "b2" {
		t.Errorf("resumed parent = %q, want b2", types.Deref(p.ParentMessageID))
	}
}

func TestSnapshot_RestoreRejectsBrokenChain(t *testing.T) {
	snap := Snapshot{
		Version:      SnapshotVersion,
		SessionID:    "s",
		NextParentID: types.StringPtr("missing"),
	}
	if _, err := Restore(snap); !errors.Is(err, ErrUnknownParent) {
		t.Errorf("error = %v, want ErrUnknownParent", err)
	}

	snap.Version = 99
	if _, err := Restore(snap); err == nil {
		t.Error("expected error for unsupported version")
	}
}

func TestSnapshot_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "threads", "s.msgpack")
	tr := NewTracker("s")
	runTurn(t, tr, "a", botState("u1", "b1", "x"))

	if err := tr.SaveFile(path); err != nil {
		t.Fatalf("SaveFile failed: %v", err)
	}
	restored, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}
	if len(restored.Messages()) != 2 {
		t.Errorf("got %d messages, want 2", len(restored.Messages()))
	}
}
