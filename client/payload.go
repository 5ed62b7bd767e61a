package client

import (
	"encoding/json"
	"strconv"
)

// Defaults used by the original web client.
const (
	DefaultPromptID             = 5
	DefaultTemperature          = 0.5
	DefaultPersonaID            = 1
	DefaultAlternateAssistantID = 1
	DefaultModelProvider        = "Personal Key"
	DefaultModelVersion         = "gpt-4o"
	DefaultRunSearch            = "auto"
)

// SendMessageParams are the per-turn inputs of a backend payload.
type SendMessageParams struct {
	ChatSessionID   string
	Message         string
	PromptID        int
	Temperature     float64
	ParentMessageID *string
}

// PayloadOptions are the session-wide payload settings.
type PayloadOptions struct {
	AlternateAssistantID int
	ModelProvider        string
	ModelVersion         string
	RunSearch            string
	RealTime             bool
}

// DefaultPayloadOptions returns the options the original web client sends.
func DefaultPayloadOptions() PayloadOptions {
	return PayloadOptions{
		AlternateAssistantID: DefaultAlternateAssistantID,
		ModelProvider:        DefaultModelProvider,
		ModelVersion:         DefaultModelVersion,
		RunSearch:            DefaultRunSearch,
		RealTime:             true,
	}
}

// Payload is the backend send-message body.
type Payload struct {
	AlternateAssistantID int              `json:"alternate_assistant_id"`
	ChatSessionID        string           `json:"chat_session_id"`
	Message              string           `json:"message"`
	ParentMessageID      MessageRef       `json:"parent_message_id"`
	PromptID             int              `json:"prompt_id"`
	SearchDocIDs         []int64          `json:"search_doc_ids"`
	FileDescriptors      []any            `json:"file_descriptors"`
	Regenerate           bool             `json:"regenerate"`
	RetrievalOptions     RetrievalOptions `json:"retrieval_options"`
	PromptOverride       any              `json:"prompt_override"`
	LLMOverride          LLMOverride      `json:"llm_override"`
	Temperature          float64          `json:"temperature"`
}

// RetrievalOptions controls backend document search.
type RetrievalOptions struct {
	RunSearch string           `json:"run_search"`
	RealTime  bool             `json:"real_time"`
	Filters   RetrievalFilters `json:"filters"`
}

// RetrievalFilters narrows the searched documents. Nil fields mean no filter.
type RetrievalFilters struct {
	SourceType  []string `json:"source_type"`
	DocumentSet []string `json:"document_set"`
	TimeCutoff  *string  `json:"time_cutoff"`
	Tags        []string `json:"tags"`
}

// LLMOverride selects the model.
type LLMOverride struct {
	ModelProvider string `json:"model_provider"`
	ModelVersion  string `json:"model_version"`
}

// MessageRef is a message id that encodes as a JSON number when numeric and
// as null when unset.
type MessageRef struct {
	ID *string
}

// MarshalJSON implements json.Marshaler.
func (r MessageRef) MarshalJSON() ([]byte, error) {
	if r.ID == nil {
		return []byte("null"), nil
	}
	if n, err := strconv.ParseInt(*r.ID, 10, 64); err == nil {
		return strconv.AppendInt(nil, n, 10), nil
	}
	return json.Marshal(*r.ID)
}

// BuildPayload assembles the backend payload for one turn.
func BuildPayload(p SendMessageParams, opts PayloadOptions) Payload {
	return Payload{
		AlternateAssistantID: opts.AlternateAssistantID,
		ChatSessionID:        p.ChatSessionID,
		Message:              p.Message,
		ParentMessageID:      MessageRef{ID: p.ParentMessageID},
		PromptID:             p.PromptID,
		FileDescriptors:      []any{},
		RetrievalOptions: RetrievalOptions{
			RunSearch: opts.RunSearch,
			RealTime:  opts.RealTime,
			Filters:   RetrievalFilters{Tags: []string{}},
		},
		LLMOverride: LLMOverride{
			ModelProvider: opts.ModelProvider,
			ModelVersion:  opts.ModelVersion,
		},
		Temperature: p.Temperature,
	}
}
