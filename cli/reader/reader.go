package reader

import (
	"context"
	"errors"
	"fmt"

	"github.com/justapithecus/lode/lode"

	"github.com/pithecene-io/chatrelay/transcript"
	"github.com/pithecene-io/chatrelay/types"
)

// ErrSessionNotFound is returned when a session has no stored messages.
var ErrSessionNotFound = errors.New("session not found")

// Reader serves read-only CLI queries from one transcript dataset.
type Reader struct {
	ds lode.Dataset
}

// New creates a reader over ds.
func New(ds lode.Dataset) *Reader {
	return &Reader{ds: ds}
}

// ListSessions returns every stored session with its message counts.
func (r *Reader) ListSessions(ctx context.Context) ([]SessionListItem, error) {
	ids, err := transcript.ListSessions(ctx, r.ds)
	if err != nil {
		return nil, err
	}
	items := make([]SessionListItem, 0, len(ids))
	for _, id := range ids {
		records, err := transcript.ReadRecords(ctx, r.ds, id)
		if err != nil {
			return nil, err
		}
		item := SessionListItem{SessionID: id, Messages: len(records)}
		turns := make(map[string]struct{})
		for _, rec := range records {
			turns[rec.TurnID] = struct{}{}
			item.LastAt = max(item.LastAt, rec.CommittedAt)
		}
		item.Turns = len(turns)
		items = append(items, item)
	}
	return items, nil
}

// Replay returns the committed messages of sessionID in order.
func (r *Reader) Replay(ctx context.Context, sessionID string) (*ReplayResponse, error) {
	records, err := transcript.ReadRecords(ctx, r.ds, sessionID)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	resp := &ReplayResponse{SessionID: sessionID, Messages: make([]MessageView, 0, len(records))}
	for _, rec := range records {
		resp.Messages = append(resp.Messages, messageView(rec))
	}
	return resp, nil
}

// Metrics returns the newest metrics snapshot of sessionID, or of any
// session when sessionID is empty.
func (r *Reader) Metrics(ctx context.Context, sessionID string) (*MetricsSnapshot, error) {
	record, err := transcript.QueryLatestMetrics(ctx, r.ds, sessionID)
	if err != nil {
		return nil, err
	}
	return ParseMetricsRecord(record)
}

func messageView(rec transcript.MessageRecord) MessageView {
	v := MessageView{
		Seq:             rec.Seq,
		TurnID:          rec.TurnID,
		Sender:          string(rec.Sender),
		MessageID:       rec.MessageID,
		ParentMessageID: rec.ParentMessageID,
		Content:         rec.Content,
		CommittedAt:     rec.CommittedAt,
		Documents:       documentViews(rec.ContextDocs),
	}
	if rec.StopReason != nil {
		reason := string(*rec.StopReason)
		v.StopReason = &reason
	}
	return v
}

func documentViews(docs []types.ResolvedDocument) []DocumentView {
	out := make([]DocumentView, 0, len(docs))
	for _, d := range docs {
		out = append(out, DocumentView{
			Citation: d.Citation,
			Title:    d.Title,
			Link:     d.Link,
			Score:    d.Score,
			Preview:  HighlightPreview(d.Highlights),
		})
	}
	return out
}
