// Package types defines core domain types for the chat relay pipeline.
//
// Packets arrive on the wire without a discriminant field. The framer
// classifies each record into a Packet whose Kind names the primary variant;
// the variant parts that were present on the record are exposed as typed,
// nil-able fields so that records carrying several shapes at once (for
// example a DocumentSet together with its CitationMap) are applied in a
// fixed order by the reducer.
//
//nolint:revive // types is a common Go package naming convention
package types

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// PacketKind is the classified variant of a decoded packet.
type PacketKind string

// Packet kinds, listed in classification precedence order.
// Terminal kinds take the primary Kind slot when present.
const (
	PacketStreamFault     PacketKind = "stream_fault"
	PacketStopSignal      PacketKind = "stop_signal"
	PacketMessageIdentity PacketKind = "message_identity"
	PacketDocumentSet     PacketKind = "document_set"
	PacketCitationMap     PacketKind = "citation_map"
	PacketFullMessage     PacketKind = "full_message"
	PacketAnswerFragment  PacketKind = "answer_fragment"
	PacketToolInvocation  PacketKind = "tool_invocation"
	PacketImageArtifact   PacketKind = "image_artifact"
	PacketRelevanceFilter PacketKind = "relevance_filter"
)

// IsTerminal returns true if this packet kind ends the turn.
func (k PacketKind) IsTerminal() bool {
	return k == PacketStreamFault || k == PacketStopSignal
}

// StopReason is the reason carried by a StopSignal packet.
type StopReason string

// Stop reasons sent by the backend.
const (
	StopReasonContextLength StopReason = "CONTEXT_LENGTH"
	StopReasonCancelled     StopReason = "CANCELLED"
)

// ID is a backend message identifier. The backend sends ids as JSON numbers
// or strings depending on the endpoint; both normalise to their decimal or
// literal string form.
type ID string

// UnmarshalJSON accepts a JSON string or number.
func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return fmt.Errorf("empty message id")
	}
	if string(data) == "null" {
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("message id must be a string or number: %w", err)
	}
	if i, err := strconv.ParseInt(n.String(), 10, 64); err == nil {
		*id = ID(strconv.FormatInt(i, 10))
		return nil
	}
	*id = ID(n.String())
	return nil
}

// MessageIdentity assigns the user-message and/or assistant-message id.
type MessageIdentity struct {
	// UserMessageID is the id of the user message for this turn.
	UserMessageID *ID
	// MessageID is the id of the assistant message for this turn.
	// Also populated from reserved_assistant_message_id.
	MessageID *ID
}

// RawDocument is a retrieved context document as sent by the backend.
type RawDocument struct {
	DocumentID         string         `json:"document_id"`
	ChunkInd           int            `json:"chunk_ind"`
	SemanticIdentifier *string        `json:"semantic_identifier"`
	Link               string         `json:"link"`
	Blurb              string         `json:"blurb"`
	SourceType         string         `json:"source_type"`
	Boost              float64        `json:"boost"`
	Hidden             bool           `json:"hidden"`
	Metadata           map[string]any `json:"metadata,omitempty"`
	Score              float64        `json:"score"`
	MatchHighlights    []string       `json:"match_highlights"`
	UpdatedAt          *string        `json:"updated_at"`
	IsInternet         bool           `json:"is_internet"`
	DBDocID            *int64         `json:"db_doc_id,omitempty"`
}

// DocumentSet is the ranked list of retrieved documents for a turn.
type DocumentSet struct {
	TopDocuments   []RawDocument
	RephrasedQuery *string
}

// CitationMap maps an internal document identifier to a citation ordinal.
type CitationMap map[string]int

// ToolInvocation is metadata about an internal tool call.
type ToolInvocation struct {
	ToolName   string         `json:"tool_name" msgpack:"tool_name"`
	ToolArgs   map[string]any `json:"tool_args,omitempty" msgpack:"tool_args,omitempty"`
	ToolResult any            `json:"tool_result,omitempty" msgpack:"tool_result,omitempty"`
}

// ImageArtifact carries the file ids of generated images.
type ImageArtifact struct {
	FileIDs []string
}

// StreamFault is a terminal error payload sent by the backend.
type StreamFault struct {
	Message    string
	StackTrace string
}

// StopSignal is the terminal marker carrying a stop reason.
type StopSignal struct {
	Reason StopReason
}

// Packet is one classified record from the backend stream.
// Kind is the primary variant; every part present on the record is set.
type Packet struct {
	Kind PacketKind

	Identity    *MessageIdentity
	Documents   *DocumentSet
	Citations   CitationMap
	FullMessage *string
	Answer      *string
	Tool        *ToolInvocation
	Image       *ImageArtifact
	Relevance   []int
	Fault       *StreamFault
	Stop        *StopSignal

	// Raw is the undecoded record bytes (without the delimiter).
	Raw []byte
}

// Kinds returns every variant present on the packet in precedence order.
func (p *Packet) Kinds() []PacketKind {
	var kinds []PacketKind
	if p.Fault != nil {
		kinds = append(kinds, PacketStreamFault)
	}
	if p.Stop != nil {
		kinds = append(kinds, PacketStopSignal)
	}
	if p.Identity != nil {
		kinds = append(kinds, PacketMessageIdentity)
	}
	if p.Documents != nil {
		kinds = append(kinds, PacketDocumentSet)
	}
	if p.Citations != nil {
		kinds = append(kinds, PacketCitationMap)
	}
	if p.FullMessage != nil {
		kinds = append(kinds, PacketFullMessage)
	}
	if p.Answer != nil {
		kinds = append(kinds, PacketAnswerFragment)
	}
	if p.Tool != nil {
		kinds = append(kinds, PacketToolInvocation)
	}
	if p.Image != nil {
		kinds = append(kinds, PacketImageArtifact)
	}
	if p.Relevance != nil {
		kinds = append(kinds, PacketRelevanceFilter)
	}
	return kinds
}

// IsTerminal returns true if the packet ends the turn.
func (p *Packet) IsTerminal() bool {
	return p.Fault != nil || p.Stop != nil
}
