package types

import "time"

// ResolvedDocument is the read-only view of a context document, built once
// from a DocumentSet and the CitationMap that accompanied it.
type ResolvedDocument struct {
	// DocumentID is the backend's document identifier.
	DocumentID string `json:"document_id" msgpack:"document_id"`
	// DBDocID is the internal database id citations are keyed by.
	DBDocID *int64 `json:"db_doc_id,omitempty" msgpack:"db_doc_id,omitempty"`
	// Link is the source URL.
	Link string `json:"link" msgpack:"link"`
	// Title is the document's semantic identifier.
	Title string `json:"title" msgpack:"title"`
	// Score is the retrieval score.
	Score float64 `json:"score" msgpack:"score"`
	// Highlights are the trimmed, non-empty match highlights in order.
	Highlights []string `json:"highlights" msgpack:"highlights"`
	// Citation is the citation ordinal, nil when the document was not cited.
	Citation *int `json:"citation,omitempty" msgpack:"citation,omitempty"`
}

// TurnState is the mutable accumulator for one turn.
// It is owned by the reducer for the lifetime of the turn.
type TurnState struct {
	Content        string
	Responding     bool
	MessageID      *string
	UserMessageID  *string
	ContextDocs    []ResolvedDocument
	StopReason     *StopReason
	RephrasedQuery *string
	ToolCalls      []ToolInvocation
	ImageFileIDs   []string
	PacketCount    int
}

// Sender identifies who authored a committed message.
type Sender string

// Message senders.
const (
	SenderUser Sender = "user"
	SenderBot  Sender = "bot"
)

// Message is a committed, immutable turn record.
type Message struct {
	Sender          Sender             `json:"sender" msgpack:"sender"`
	Content         string             `json:"content" msgpack:"content"`
	MessageID       *string            `json:"message_id" msgpack:"message_id"`
	ParentMessageID *string            `json:"parent_message_id" msgpack:"parent_message_id"`
	ContextDocs     []ResolvedDocument `json:"context_docs" msgpack:"context_docs"`
	StopReason      *StopReason        `json:"stop_reason,omitempty" msgpack:"stop_reason,omitempty"`
	ToolCalls       []ToolInvocation   `json:"tool_calls,omitempty" msgpack:"tool_calls,omitempty"`
	ImageFileIDs    []string           `json:"image_file_ids,omitempty" msgpack:"image_file_ids,omitempty"`
	CommittedAt     time.Time          `json:"committed_at" msgpack:"committed_at"`
}

// StringPtr returns a pointer to a copy of s.
func StringPtr(s string) *string {
	return &s
}

// Deref returns the value of p, or "" when p is nil.
func Deref(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}
