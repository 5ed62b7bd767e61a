package transcript

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/justapithecus/lode/lode"

	"github.com/pithecene-io/chatrelay/types"
)

// ErrNoMetricsFound is returned when no metrics record exists for a session.
var ErrNoMetricsFound = errors.New("no metrics records found")

// ReadSession returns the committed messages of sessionID in seq order.
func ReadSession(ctx context.Context, ds lode.Dataset, sessionID string) ([]types.Message, error) {
	records, err := ReadRecords(ctx, ds, sessionID)
	if err != nil {
		return nil, err
	}
	msgs := make([]types.Message, 0, len(records))
	for i := range records {
		m, err := records[i].Message()
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", records[i].Seq, err)
		}
		msgs = append(msgs, m)
	}
	return msgs, nil
}

// ReadRecords returns the message records of sessionID in seq order.
func ReadRecords(ctx context.Context, ds lode.Dataset, sessionID string) ([]MessageRecord, error) {
	snapshots, err := ds.Snapshots(ctx)
	if err != nil {
		return nil, WrapReadError(err, string(ds.ID())+"/snapshots")
	}

	var out []MessageRecord
	for _, snap := range snapshots {
		if !snapshotMatches(snap, "session_id", sessionID) || !snapshotMatches(snap, "record_kind", RecordKindMessage) {
			continue
		}
		data, err := ds.Read(ctx, snap.ID)
		if err != nil {
			return nil, WrapReadError(err, fmt.Sprintf("%s/snapshot/%s", ds.ID(), snap.ID))
		}
		for _, item := range data {
			record, ok := item.(map[string]any)
			if !ok || record["record_kind"] != RecordKindMessage || toString(record["session_id"]) != sessionID {
				continue
			}
			var mr MessageRecord
			if err := decodeRecord(record, &mr); err != nil {
				return nil, fmt.Errorf("decode message record: %w", err)
			}
			out = append(out, mr)
		}
	}

	slices.SortStableFunc(out, func(a, b MessageRecord) int { return cmp.Compare(a.Seq, b.Seq) })
	return out, nil
}

// ListSessions returns the ids of every session with stored messages, sorted.
func ListSessions(ctx context.Context, ds lode.Dataset) ([]string, error) {
	snapshots, err := ds.Snapshots(ctx)
	if err != nil {
		return nil, WrapReadError(err, string(ds.ID())+"/snapshots")
	}
	seen := make(map[string]struct{})
	for _, snap := range snapshots {
		for _, f := range snap.Manifest.Files {
			if !matchesPartitionValue(f.Path, "record_kind", RecordKindMessage) {
				continue
			}
			if id := partitionValue(f.Path, "session_id"); id != "" {
				seen[id] = struct{}{}
			}
		}
	}
	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids, nil
}

// QueryLatestMetrics returns the newest metrics record of sessionID, or of
// any session when sessionID is empty.
func QueryLatestMetrics(ctx context.Context, ds lode.Dataset, sessionID string) (map[string]any, error) {
	snapshots, err := ds.Snapshots(ctx)
	if err != nil {
		return nil, WrapReadError(err, string(ds.ID())+"/snapshots")
	}

	// Snapshots are ordered by creation time.
	for i := len(snapshots) - 1; i >= 0; i-- {
		snap := snapshots[i]
		if !snapshotMatches(snap, "record_kind", RecordKindMetrics) || !snapshotMatches(snap, "session_id", sessionID) {
			continue
		}
		data, err := ds.Read(ctx, snap.ID)
		if err != nil {
			return nil, WrapReadError(err, fmt.Sprintf("%s/snapshot/%s", ds.ID(), snap.ID))
		}
		for _, item := range data {
			record, ok := item.(map[string]any)
			if !ok || record["record_kind"] != RecordKindMetrics {
				continue
			}
			if sessionID != "" && toString(record["session_id"]) != sessionID {
				continue
			}
			return record, nil
		}
	}
	return nil, ErrNoMetricsFound
}

// snapshotMatches reports whether any file of snap lies in key=value.
// An empty value matches every snapshot.
func snapshotMatches(snap *lode.DatasetSnapshot, key, value string) bool {
	if value == "" {
		return true
	}
	for _, f := range snap.Manifest.Files {
		if matchesPartitionValue(f.Path, key, value) {
			return true
		}
	}
	return false
}

// matchesPartitionValue reports whether path has an exact key=value segment,
// so session_id=s-1 never matches session_id=s-10.
func matchesPartitionValue(path, key, value string) bool {
	return slices.Contains(strings.Split(path, "/"), key+"="+value)
}

func partitionValue(path, key string) string {
	for _, part := range strings.Split(path, "/") {
		if v, ok := strings.CutPrefix(part, key+"="); ok {
			return v
		}
	}
	return ""
}
