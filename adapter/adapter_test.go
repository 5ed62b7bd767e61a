package adapter

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/pithecene-io/chatrelay/types"
)

func TestNewTurnCommittedEvent(t *testing.T) {
	stop := types.StopReasonCancelled
	state := types.TurnState{
		Content:       "Hello",
		MessageID:     types.StringPtr("42"),
		UserMessageID: types.StringPtr("41"),
		ContextDocs:   []types.ResolvedDocument{{DocumentID: "d1"}},
		StopReason:    &stop,
		PacketCount:   3,
	}
	started := time.Date(2026, 2, 7, 12, 0, 0, 0, time.UTC)
	committed := started.Add(1500 * time.Millisecond)

	ev := NewTurnCommittedEvent(TurnInfo{
		SessionID: "sess",
		TurnID:    "turn-1",
		Outcome:   "stopped",
		StartedAt: started,
	}, state, committed)

	if ev.EventType != EventTypeTurnCommitted {
		t.Errorf("EventType = %q", ev.EventType)
	}
	if ev.Version != types.Version {
		t.Errorf("Version = %q, want %q", ev.Version, types.Version)
	}
	if ev.BotMessageID != "42" || ev.UserMessageID != "41" {
		t.Errorf("ids = %q/%q, want 42/41", ev.BotMessageID, ev.UserMessageID)
	}
	if ev.StopReason != "CANCELLED" {
		t.Errorf("StopReason = %q", ev.StopReason)
	}
	if ev.ContentLength != 5 || ev.DocumentCount != 1 || ev.PacketCount != 3 {
		t.Errorf("counts = %d/%d/%d", ev.ContentLength, ev.DocumentCount, ev.PacketCount)
	}
	if ev.DurationMs != 1500 {
		t.Errorf("DurationMs = %d, want 1500", ev.DurationMs)
	}
	if ev.Timestamp != "2026-02-07T12:00:01Z" {
		t.Errorf("Timestamp = %q", ev.Timestamp)
	}
}

func TestRetry(t *testing.T) {
	errTransient := errors.New("transient")
	errFatal := errors.New("fatal")

	tests := []struct {
		name         string
		retries      int
		failures     int
		failWith     error
		wantAttempts int
		wantErr      string
	}{
		{"first attempt succeeds", 3, 0, nil, 1, ""},
		{"succeeds after retries", 3, 2, errTransient, 3, ""},
		{"exhausts retries", 2, 10, errTransient, 3, "failed after 3 attempts"},
		{"permanent error stops", 3, 10, errFatal, 1, "non-retriable"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			attempts := 0
			err := Retry(t.Context(), "test", tt.retries, time.Millisecond,
				func(err error) bool { return errors.Is(err, errFatal) },
				func(context.Context) error {
					attempts++
					if attempts <= tt.failures {
						return tt.failWith
					}
					return nil
				})

			if attempts != tt.wantAttempts {
				t.Errorf("attempts = %d, want %d", attempts, tt.wantAttempts)
			}
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %v, want it to contain %q", err, tt.wantErr)
			}
			if !strings.HasPrefix(err.Error(), "test: ") {
				t.Errorf("error %q is not prefixed with the adapter name", err)
			}
		})
	}
}

func TestRetry_CanceledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(t.Context())
	attempts := 0
	err := Retry(ctx, "test", 5, time.Hour, nil, func(context.Context) error {
		attempts++
		cancel()
		return errors.New("down")
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1", attempts)
	}
}
