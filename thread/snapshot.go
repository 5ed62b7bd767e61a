package thread

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/pithecene-io/chatrelay/types"
)

// SnapshotVersion is the current snapshot format version.
const SnapshotVersion = 1

// Snapshot is the persisted form of a thread.
type Snapshot struct {
	Version      int             `msgpack:"version"`
	SessionID    string          `msgpack:"session_id"`
	Messages     []types.Message `msgpack:"messages"`
	NextParentID *string         `msgpack:"next_parent_id"`
	SavedAt      time.Time       `msgpack:"saved_at"`
}

// Snapshot captures the committed thread. A pending turn is not captured.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return Snapshot{
		Version:      SnapshotVersion,
		SessionID:    t.sessionID,
		Messages:     slices.Clone(t.messages),
		NextParentID: clonePtr(t.nextParent),
		SavedAt:      t.now(),
	}
}

// Save writes the thread snapshot to w as msgpack.
func (t *Tracker) Save(w io.Writer) error {
	snap := t.Snapshot()
	if err := msgpack.NewEncoder(w).Encode(&snap); err != nil {
		return fmt.Errorf("failed to encode thread snapshot: %w", err)
	}
	return nil
}

// Load restores a thread from a msgpack snapshot.
// The parent chain is validated: every message parent and the next parent
// must reference an earlier committed message.
func Load(r io.Reader) (*Tracker, error) {
	var snap Snapshot
	if err := msgpack.NewDecoder(r).Decode(&snap); err != nil {
		return nil, fmt.Errorf("failed to decode thread snapshot: %w", err)
	}
	return Restore(snap)
}

// Restore rebuilds a tracker from a snapshot.
func Restore(snap Snapshot) (*Tracker, error) {
	if snap.Version != SnapshotVersion {
		return nil, fmt.Errorf("unsupported thread snapshot version %d", snap.Version)
	}

	t := NewTracker(snap.SessionID)
	for i, m := range snap.Messages {
		if err := t.checkParent(m.ParentMessageID); err != nil {
			return nil, fmt.Errorf("message %d: %w", i, err)
		}
		t.messages = append(t.messages, m)
	}
	if err := t.checkParent(snap.NextParentID); err != nil {
		return nil, fmt.Errorf("next parent: %w", err)
	}
	t.nextParent = clonePtr(snap.NextParentID)
	if len(t.messages) > 0 {
		t.state = StateCommitted
	}
	return t, nil
}

// SaveFile writes the snapshot to path, replacing it atomically.
func (t *Tracker) SaveFile(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create snapshot directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".thread-*")
	if err != nil {
		return fmt.Errorf("failed to create snapshot file: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if err := t.Save(tmp); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close snapshot file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to replace snapshot file: %w", err)
	}
	return nil
}

// LoadFile restores a thread from the snapshot at path.
func LoadFile(path string) (*Tracker, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()
	return Load(f)
}
