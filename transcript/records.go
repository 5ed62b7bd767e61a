package transcript

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/pithecene-io/chatrelay/metrics"
	"github.com/pithecene-io/chatrelay/types"
)

// Record kinds. record_kind is also the last partition key.
const (
	RecordKindMessage = "message"
	RecordKindMetrics = "metrics"
)

// Partition keys, outermost first.
var partitionKeys = []string{"session_id", "day", "record_kind"}

// MessageRecord is the storage format of one committed message.
type MessageRecord struct {
	RecordKind      string                   `json:"record_kind"`
	Version         string                   `json:"version"`
	SessionID       string                   `json:"session_id"`
	Day             string                   `json:"day"`
	TurnID          string                   `json:"turn_id"`
	Seq             int64                    `json:"seq"`
	Sender          types.Sender             `json:"sender"`
	Content         string                   `json:"content"`
	MessageID       *string                  `json:"message_id"`
	ParentMessageID *string                  `json:"parent_message_id"`
	ContextDocs     []types.ResolvedDocument `json:"context_docs"`
	StopReason      *types.StopReason        `json:"stop_reason,omitempty"`
	ToolCalls       []types.ToolInvocation   `json:"tool_calls,omitempty"`
	ImageFileIDs    []string                 `json:"image_file_ids,omitempty"`
	CommittedAt     string                   `json:"committed_at"`
}

// Message converts the record back to a committed message.
func (r *MessageRecord) Message() (types.Message, error) {
	at, err := time.Parse(time.RFC3339Nano, r.CommittedAt)
	if err != nil {
		return types.Message{}, fmt.Errorf("invalid committed_at %q: %w", r.CommittedAt, err)
	}
	return types.Message{
		Sender:          r.Sender,
		Content:         r.Content,
		MessageID:       r.MessageID,
		ParentMessageID: r.ParentMessageID,
		ContextDocs:     r.ContextDocs,
		StopReason:      r.StopReason,
		ToolCalls:       r.ToolCalls,
		ImageFileIDs:    r.ImageFileIDs,
		CommittedAt:     at,
	}, nil
}

// toMessageRecordMap converts a message to a map for Lode storage.
// Lode HiveLayout requires records as map[string]any.
func toMessageRecordMap(m types.Message, cfg Config, turnID string, seq int64) map[string]any {
	record := map[string]any{
		"record_kind":       RecordKindMessage,
		"version":           types.ContractVersion,
		"session_id":        cfg.SessionID,
		"day":               cfg.Day,
		"turn_id":           turnID,
		"seq":               seq,
		"sender":            string(m.Sender),
		"content":           m.Content,
		"message_id":        optional(m.MessageID),
		"parent_message_id": optional(m.ParentMessageID),
		"context_docs":      documentMaps(m.ContextDocs),
		"committed_at":      m.CommittedAt.UTC().Format(time.RFC3339Nano),
	}
	if m.StopReason != nil {
		record["stop_reason"] = string(*m.StopReason)
	}
	if len(m.ToolCalls) > 0 {
		calls := make([]any, 0, len(m.ToolCalls))
		for _, tc := range m.ToolCalls {
			calls = append(calls, map[string]any{
				"tool_name":   tc.ToolName,
				"tool_args":   tc.ToolArgs,
				"tool_result": tc.ToolResult,
			})
		}
		record["tool_calls"] = calls
	}
	if len(m.ImageFileIDs) > 0 {
		ids := make([]any, 0, len(m.ImageFileIDs))
		for _, id := range m.ImageFileIDs {
			ids = append(ids, id)
		}
		record["image_file_ids"] = ids
	}
	return record
}

func documentMaps(docs []types.ResolvedDocument) []any {
	out := make([]any, 0, len(docs))
	for _, d := range docs {
		highlights := make([]any, 0, len(d.Highlights))
		for _, h := range d.Highlights {
			highlights = append(highlights, h)
		}
		doc := map[string]any{
			"document_id": d.DocumentID,
			"link":        d.Link,
			"title":       d.Title,
			"score":       d.Score,
			"highlights":  highlights,
		}
		if d.DBDocID != nil {
			doc["db_doc_id"] = *d.DBDocID
		}
		if d.Citation != nil {
			doc["citation"] = *d.Citation
		}
		out = append(out, doc)
	}
	return out
}

// toMetricsRecordMap converts a collector snapshot to a metrics record.
func toMetricsRecordMap(snap metrics.Snapshot, cfg Config, at time.Time) map[string]any {
	record := snap.Fields()
	record["record_kind"] = RecordKindMetrics
	record["version"] = types.ContractVersion
	record["session_id"] = cfg.SessionID
	record["day"] = cfg.Day
	record["ts"] = at.UTC().Format(time.RFC3339Nano)
	return record
}

// decodeRecord converts a record read back from Lode into v.
func decodeRecord(item any, v any) error {
	data, err := json.Marshal(item)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

func optional(p *string) any {
	if p == nil {
		return nil
	}
	return *p
}

func toString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}
