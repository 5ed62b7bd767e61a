package framer

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/pithecene-io/chatrelay/types"
)

// wireRecord is the union of every field the backend may put on a record.
// Fields are kept raw so that JSON null is indistinguishable from absent.
type wireRecord struct {
	UserMessageID        json.RawMessage `json:"user_message_id"`
	MessageID            json.RawMessage `json:"message_id"`
	ReservedMessageID    json.RawMessage `json:"reserved_assistant_message_id"`
	ContextDocs          json.RawMessage `json:"context_docs"`
	TopDocuments         json.RawMessage `json:"top_documents"`
	RephrasedQuery       json.RawMessage `json:"rephrased_query"`
	Citations            json.RawMessage `json:"citations"`
	Message              json.RawMessage `json:"message"`
	AnswerPiece          json.RawMessage `json:"answer_piece"`
	ToolName             json.RawMessage `json:"tool_name"`
	ToolArgs             json.RawMessage `json:"tool_args"`
	ToolResult           json.RawMessage `json:"tool_result"`
	FileIDs              json.RawMessage `json:"file_ids"`
	RelevantChunkIndices json.RawMessage `json:"relevant_chunk_indices"`
	Error                json.RawMessage `json:"error"`
	StackTrace           json.RawMessage `json:"stack_trace"`
	StopReason           json.RawMessage `json:"stop_reason"`
}

type wireContextDocs struct {
	TopDocuments []types.RawDocument `json:"top_documents"`
}

// DecodePacket classifies one record into a packet.
//
// Classification is structural: every variant whose fields are present and
// non-null is decoded onto the packet, and Kind is the first of them in
// precedence order (see types.Packet.Kinds).
//
// Errors:
//   - *FrameError with Kind=FrameErrorUnclassified: not an object, or no
//     recognised field present
//   - *FrameError with Kind=FrameErrorDecode: a recognised field has the
//     wrong shape
func DecodePacket(record []byte) (*types.Packet, error) {
	record = bytes.TrimSpace(record)
	if len(record) == 0 || record[0] != '{' {
		return nil, &FrameError{
			Kind: FrameErrorUnclassified,
			Msg:  "record is not a JSON object",
		}
	}

	var w wireRecord
	if err := json.Unmarshal(record, &w); err != nil {
		return nil, &FrameError{Kind: FrameErrorDecode, Msg: "failed to decode record", Err: err}
	}

	pkt := &types.Packet{Raw: record}
	if err := w.apply(pkt); err != nil {
		return nil, err
	}

	kinds := pkt.Kinds()
	if len(kinds) == 0 {
		return nil, &FrameError{
			Kind: FrameErrorUnclassified,
			Msg:  "record matches no packet variant",
		}
	}
	pkt.Kind = kinds[0]
	return pkt, nil
}

func (w *wireRecord) apply(pkt *types.Packet) error {
	if present(w.Error) {
		fault := &types.StreamFault{}
		if err := decodeField("error", w.Error, &fault.Message); err != nil {
			return err
		}
		if present(w.StackTrace) {
			if err := decodeField("stack_trace", w.StackTrace, &fault.StackTrace); err != nil {
				return err
			}
		}
		pkt.Fault = fault
	}

	if present(w.StopReason) {
		var reason string
		if err := decodeField("stop_reason", w.StopReason, &reason); err != nil {
			return err
		}
		pkt.Stop = &types.StopSignal{Reason: types.StopReason(reason)}
	}

	if present(w.UserMessageID) || present(w.MessageID) || present(w.ReservedMessageID) {
		ident := &types.MessageIdentity{}
		if present(w.UserMessageID) {
			var id types.ID
			if err := decodeField("user_message_id", w.UserMessageID, &id); err != nil {
				return err
			}
			ident.UserMessageID = &id
		}
		// message_id wins over the reserved id when both are sent.
		for _, f := range []struct {
			name string
			raw  json.RawMessage
		}{
			{"message_id", w.MessageID},
			{"reserved_assistant_message_id", w.ReservedMessageID},
		} {
			if ident.MessageID != nil || !present(f.raw) {
				continue
			}
			var id types.ID
			if err := decodeField(f.name, f.raw, &id); err != nil {
				return err
			}
			ident.MessageID = &id
		}
		pkt.Identity = ident
	}

	if present(w.ContextDocs) || present(w.TopDocuments) {
		set := &types.DocumentSet{}
		if present(w.ContextDocs) {
			var cd wireContextDocs
			if err := decodeField("context_docs", w.ContextDocs, &cd); err != nil {
				return err
			}
			set.TopDocuments = cd.TopDocuments
		} else {
			if err := decodeField("top_documents", w.TopDocuments, &set.TopDocuments); err != nil {
				return err
			}
		}
		if present(w.RephrasedQuery) {
			var q string
			if err := decodeField("rephrased_query", w.RephrasedQuery, &q); err != nil {
				return err
			}
			set.RephrasedQuery = &q
		}
		if set.TopDocuments == nil {
			set.TopDocuments = []types.RawDocument{}
		}
		pkt.Documents = set
	}

	if present(w.Citations) {
		citations := types.CitationMap{}
		if err := decodeField("citations", w.Citations, &citations); err != nil {
			return err
		}
		pkt.Citations = citations
	}

	if present(w.Message) {
		var msg string
		if err := decodeField("message", w.Message, &msg); err != nil {
			return err
		}
		pkt.FullMessage = &msg
	}

	if present(w.AnswerPiece) {
		var piece string
		if err := decodeField("answer_piece", w.AnswerPiece, &piece); err != nil {
			return err
		}
		pkt.Answer = &piece
	}

	if present(w.ToolName) {
		tool := &types.ToolInvocation{}
		if err := decodeField("tool_name", w.ToolName, &tool.ToolName); err != nil {
			return err
		}
		if present(w.ToolArgs) {
			if err := decodeField("tool_args", w.ToolArgs, &tool.ToolArgs); err != nil {
				return err
			}
		}
		if present(w.ToolResult) {
			if err := decodeField("tool_result", w.ToolResult, &tool.ToolResult); err != nil {
				return err
			}
		}
		pkt.Tool = tool
	}

	if present(w.FileIDs) {
		img := &types.ImageArtifact{}
		if err := decodeField("file_ids", w.FileIDs, &img.FileIDs); err != nil {
			return err
		}
		pkt.Image = img
	}

	if present(w.RelevantChunkIndices) {
		indices := []int{}
		if err := decodeField("relevant_chunk_indices", w.RelevantChunkIndices, &indices); err != nil {
			return err
		}
		pkt.Relevance = indices
	}

	return nil
}

func present(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) > 0 && !bytes.Equal(raw, []byte("null"))
}

func decodeField(name string, raw json.RawMessage, v any) error {
	if err := json.Unmarshal(raw, v); err != nil {
		return &FrameError{
			Kind: FrameErrorDecode,
			Msg:  fmt.Sprintf("invalid %s field", name),
			Err:  err,
		}
	}
	return nil
}
