// Package reader provides the read-side data access layer for the chatrelay
// CLI. It turns transcript datasets into the payloads rendered by replay.
package reader

// SessionListItem is one row of `chatrelay replay --list`.
type SessionListItem struct {
	SessionID string `json:"session_id"`
	Messages  int    `json:"messages"`
	Turns     int    `json:"turns"`
	LastAt    string `json:"last_at"`
}

// DocumentView is a context document as shown in a replay.
type DocumentView struct {
	Citation *int    `json:"citation"`
	Title    string  `json:"title"`
	Link     string  `json:"link"`
	Score    float64 `json:"score"`
	Preview  string  `json:"preview"`
}

// MessageView is one committed message of a replay.
type MessageView struct {
	Seq             int64          `json:"seq"`
	TurnID          string         `json:"turn_id"`
	Sender          string         `json:"sender"`
	MessageID       *string        `json:"message_id"`
	ParentMessageID *string        `json:"parent_message_id"`
	Content         string         `json:"content"`
	StopReason      *string        `json:"stop_reason"`
	Documents       []DocumentView `json:"documents"`
	CommittedAt     string         `json:"committed_at"`
}

// MessageRow is the flat table form of a MessageView.
type MessageRow struct {
	Seq       int64  `json:"seq"`
	Sender    string `json:"sender"`
	MessageID string `json:"message_id"`
	Parent    string `json:"parent"`
	Docs      int    `json:"docs"`
	Content   string `json:"content"`
}

// ReplayResponse is the payload of `chatrelay replay <session>`.
type ReplayResponse struct {
	SessionID string        `json:"session_id"`
	Messages  []MessageView `json:"messages"`
}

// Rows flattens the replay for table output. Content is cut to width runes.
func (r *ReplayResponse) Rows(width int) []MessageRow {
	rows := make([]MessageRow, 0, len(r.Messages))
	for _, m := range r.Messages {
		rows = append(rows, MessageRow{
			Seq:       m.Seq,
			Sender:    m.Sender,
			MessageID: deref(m.MessageID),
			Parent:    deref(m.ParentMessageID),
			Docs:      len(m.Documents),
			Content:   Truncate(OneLine(m.Content), width),
		})
	}
	return rows
}

// MetricsSnapshot is the decoded form of a transcript metrics record.
type MetricsSnapshot struct {
	Ts        string `json:"ts"`
	SessionID string `json:"session_id"`

	RequestsReceived   int64 `json:"requests_received"`
	RequestsCompleted  int64 `json:"requests_completed"`
	RequestsAborted    int64 `json:"requests_aborted"`
	BackendUnreachable int64 `json:"backend_unreachable"`
	ConnectionResets   int64 `json:"connection_resets"`

	TurnsStarted      int64            `json:"turns_started"`
	TurnsCompleted    int64            `json:"turns_completed"`
	TurnsStopped      int64            `json:"turns_stopped"`
	TurnsRemoteFault  int64            `json:"turns_remote_fault"`
	TurnsFramingFault int64            `json:"turns_framing_fault"`
	TurnsCanceled     int64            `json:"turns_canceled"`
	PacketsDecoded    int64            `json:"packets_decoded"`
	PacketsByKind     map[string]int64 `json:"packets_by_kind,omitempty"`

	TranscriptWriteSuccess int64 `json:"transcript_write_success"`
	TranscriptWriteFailure int64 `json:"transcript_write_failure"`
	PublishSuccess         int64 `json:"publish_success"`
	PublishFailure         int64 `json:"publish_failure"`

	Component      string `json:"component"`
	StorageBackend string `json:"storage_backend"`
	Adapter        string `json:"adapter"`
}

func deref(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}
