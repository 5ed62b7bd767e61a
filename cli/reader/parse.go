package reader

import "errors"

// ParseMetricsRecord converts a transcript record (map[string]any) to a
// MetricsSnapshot. Numeric fields may be int64 (direct writes) or float64
// (JSON round-trips).
func ParseMetricsRecord(record map[string]any) (*MetricsSnapshot, error) {
	if record == nil {
		return nil, errors.New("nil record")
	}

	snap := &MetricsSnapshot{
		Ts:        toString(record["ts"]),
		SessionID: toString(record["session_id"]),

		RequestsReceived:   toInt64(record["requests_received"]),
		RequestsCompleted:  toInt64(record["requests_completed"]),
		RequestsAborted:    toInt64(record["requests_aborted"]),
		BackendUnreachable: toInt64(record["backend_unreachable"]),
		ConnectionResets:   toInt64(record["connection_resets"]),

		TurnsStarted:      toInt64(record["turns_started"]),
		TurnsCompleted:    toInt64(record["turns_completed"]),
		TurnsStopped:      toInt64(record["turns_stopped"]),
		TurnsRemoteFault:  toInt64(record["turns_remote_fault"]),
		TurnsFramingFault: toInt64(record["turns_framing_fault"]),
		TurnsCanceled:     toInt64(record["turns_canceled"]),
		PacketsDecoded:    toInt64(record["packets_decoded"]),

		TranscriptWriteSuccess: toInt64(record["transcript_write_success"]),
		TranscriptWriteFailure: toInt64(record["transcript_write_failure"]),
		PublishSuccess:         toInt64(record["publish_success"]),
		PublishFailure:         toInt64(record["publish_failure"]),

		Component:      toString(record["component"]),
		StorageBackend: toString(record["storage_backend"]),
		Adapter:        toString(record["adapter"]),
	}

	if pbk, ok := record["packets_by_kind"]; ok && pbk != nil {
		snap.PacketsByKind = parseCounts(pbk)
	}

	// The write path always populates these.
	if snap.Ts == "" {
		return nil, errors.New("metrics record missing required field: ts")
	}
	if snap.SessionID == "" {
		return nil, errors.New("metrics record missing required field: session_id")
	}
	if snap.Component == "" {
		return nil, errors.New("metrics record missing required field: component")
	}
	return snap, nil
}

// toInt64 converts a value to int64, handling float64 from JSON and int64 from direct writes.
func toInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case float64:
		return int64(n)
	case int:
		return int64(n)
	default:
		return 0
	}
}

// toString converts a value to string, returning empty string for nil/non-string.
func toString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

// parseCounts handles both map[string]int64 (direct) and map[string]any
// (JSON round-trip).
func parseCounts(v any) map[string]int64 {
	switch m := v.(type) {
	case map[string]int64:
		return m
	case map[string]any:
		result := make(map[string]int64, len(m))
		for k, val := range m {
			result[k] = toInt64(val)
		}
		return result
	default:
		return nil
	}
}
