// Package metrics provides in-process counters for the relay and turn pipeline.
//
// The Collector accumulates counters for the lifetime of a process (serve) or
// a session (chat). It is a leaf package with no internal dependencies.
package metrics

import "sync"

// Snapshot is an immutable point-in-time view of all counters.
// Returned by Collector.Snapshot(). Safe to read concurrently after creation.
type Snapshot struct {
	// Relay
	RequestsReceived   int64
	RequestsCompleted  int64
	RequestsAborted    int64
	ConfigMissing      int64
	BadRequests        int64
	BackendUnreachable int64
	ConnectionResets   int64
	BytesRelayed       int64
	SessionsCreated    int64

	// Turns
	TurnsStarted      int64
	TurnsCompleted    int64
	TurnsStopped      int64
	TurnsRemoteFault  int64
	TurnsFramingFault int64
	TurnsCanceled     int64
	PacketsDecoded    int64
	PacketsByKind     map[string]int64

	// Transcript storage
	TranscriptWriteSuccess int64
	TranscriptWriteFailure int64

	// Adapter
	PublishSuccess int64
	PublishFailure int64

	// Dimensions (informational, set at construction)
	Component      string
	StorageBackend string
	Adapter        string
}

// Collector accumulates counters.
// Thread-safe via sync.Mutex. All increment methods are nil-receiver safe.
type Collector struct {
	mu sync.Mutex

	requestsReceived   int64
	requestsCompleted  int64
	requestsAborted    int64
	configMissing      int64
	badRequests        int64
	backendUnreachable int64
	connectionResets   int64
	bytesRelayed       int64
	sessionsCreated    int64

	turnsStarted      int64
	turnsCompleted    int64
	turnsStopped      int64
	turnsRemoteFault  int64
	turnsFramingFault int64
	turnsCanceled     int64
	packetsDecoded    int64
	packetsByKind     map[string]int64

	transcriptWriteSuccess int64
	transcriptWriteFailure int64

	publishSuccess int64
	publishFailure int64

	component      string
	storageBackend string
	adapter        string
}

// NewCollector creates a Collector with dimension labels.
// storageBackend and adapter may be empty when not configured.
func NewCollector(component, storageBackend, adapter string) *Collector {
	return &Collector{
		packetsByKind:  make(map[string]int64),
		component:      component,
		storageBackend: storageBackend,
		adapter:        adapter,
	}
}

func (c *Collector) add(field *int64, n int64) {
	c.mu.Lock()
	*field += n
	c.mu.Unlock()
}

// --- Relay ---

// IncRequestReceived records an inbound relay request.
func (c *Collector) IncRequestReceived() {
	if c == nil {
		return
	}
	c.add(&c.requestsReceived, 1)
}

// IncRequestCompleted records a relay request whose stream closed cleanly.
func (c *Collector) IncRequestCompleted() {
	if c == nil {
		return
	}
	c.add(&c.requestsCompleted, 1)
}

// IncRequestAborted records a client stream terminated after headers.
func (c *Collector) IncRequestAborted() {
	if c == nil {
		return
	}
	c.add(&c.requestsAborted, 1)
}

// IncConfigMissing records a request rejected for missing configuration.
func (c *Collector) IncConfigMissing() {
	if c == nil {
		return
	}
	c.add(&c.configMissing, 1)
}

// IncBadRequest records a malformed inbound request.
func (c *Collector) IncBadRequest() {
	if c == nil {
		return
	}
	c.add(&c.badRequests, 1)
}

// IncBackendUnreachable records a dial or transport failure.
func (c *Collector) IncBackendUnreachable() {
	if c == nil {
		return
	}
	c.add(&c.backendUnreachable, 1)
}

// IncConnectionReset records a reset or timed-out backend connection.
func (c *Collector) IncConnectionReset() {
	if c == nil {
		return
	}
	c.add(&c.connectionResets, 1)
}

// AddBytesRelayed records bytes written to the client.
func (c *Collector) AddBytesRelayed(n int64) {
	if c == nil || n <= 0 {
		return
	}
	c.add(&c.bytesRelayed, n)
}

// IncSessionCreated records a successful create-chat-session call.
func (c *Collector) IncSessionCreated() {
	if c == nil {
		return
	}
	c.add(&c.sessionsCreated, 1)
}

// --- Turns ---

// IncTurnStarted records the start of a turn fold.
func (c *Collector) IncTurnStarted() {
	if c == nil {
		return
	}
	c.add(&c.turnsStarted, 1)
}

// IncTurnCompleted records a turn ending at clean end of stream.
func (c *Collector) IncTurnCompleted() {
	if c == nil {
		return
	}
	c.add(&c.turnsCompleted, 1)
}

// IncTurnStopped records a turn ending with a stop signal.
func (c *Collector) IncTurnStopped() {
	if c == nil {
		return
	}
	c.add(&c.turnsStopped, 1)
}

// IncTurnRemoteFault records a turn ending with a backend stream fault.
func (c *Collector) IncTurnRemoteFault() {
	if c == nil {
		return
	}
	c.add(&c.turnsRemoteFault, 1)
}

// IncTurnFramingFault records a turn ending with wire corruption.
func (c *Collector) IncTurnFramingFault() {
	if c == nil {
		return
	}
	c.add(&c.turnsFramingFault, 1)
}

// IncTurnCanceled records a turn canceled by the consumer.
func (c *Collector) IncTurnCanceled() {
	if c == nil {
		return
	}
	c.add(&c.turnsCanceled, 1)
}

// IncPacket records a decoded packet of the given kind.
// The kind is a plain string to keep this package free of the types package.
func (c *Collector) IncPacket(kind string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.packetsDecoded++
	c.packetsByKind[kind]++
	c.mu.Unlock()
}

// --- Transcript storage ---

// IncTranscriptWriteSuccess records a successful transcript write (per-call).
func (c *Collector) IncTranscriptWriteSuccess() {
	if c == nil {
		return
	}
	c.add(&c.transcriptWriteSuccess, 1)
}

// IncTranscriptWriteFailure records a failed transcript write (per-call).
func (c *Collector) IncTranscriptWriteFailure() {
	if c == nil {
		return
	}
	c.add(&c.transcriptWriteFailure, 1)
}

// --- Adapter ---

// IncPublishSuccess records a successful adapter publish.
func (c *Collector) IncPublishSuccess() {
	if c == nil {
		return
	}
	c.add(&c.publishSuccess, 1)
}

// IncPublishFailure records a failed adapter publish.
func (c *Collector) IncPublishFailure() {
	if c == nil {
		return
	}
	c.add(&c.publishFailure, 1)
}

// --- Snapshot ---

// Snapshot returns an immutable point-in-time view of all counters.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	byKind := make(map[string]int64, len(c.packetsByKind))
	for k, v := range c.packetsByKind {
		byKind[k] = v
	}

	return Snapshot{
		RequestsReceived:   c.requestsReceived,
		RequestsCompleted:  c.requestsCompleted,
		RequestsAborted:    c.requestsAborted,
		ConfigMissing:      c.configMissing,
		BadRequests:        c.badRequests,
		BackendUnreachable: c.backendUnreachable,
		ConnectionResets:   c.connectionResets,
		BytesRelayed:       c.bytesRelayed,
		SessionsCreated:    c.sessionsCreated,

		TurnsStarted:      c.turnsStarted,
		TurnsCompleted:    c.turnsCompleted,
		TurnsStopped:      c.turnsStopped,
		TurnsRemoteFault:  c.turnsRemoteFault,
		TurnsFramingFault: c.turnsFramingFault,
		TurnsCanceled:     c.turnsCanceled,
		PacketsDecoded:    c.packetsDecoded,
		PacketsByKind:     byKind,

		TranscriptWriteSuccess: c.transcriptWriteSuccess,
		TranscriptWriteFailure: c.transcriptWriteFailure,

		PublishSuccess: c.publishSuccess,
		PublishFailure: c.publishFailure,

		Component:      c.component,
		StorageBackend: c.storageBackend,
		Adapter:        c.adapter,
	}
}

// Fields returns the snapshot as log fields.
func (s Snapshot) Fields() map[string]any {
	return map[string]any{
		"requests_received":        s.RequestsReceived,
		"requests_completed":       s.RequestsCompleted,
		"requests_aborted":         s.RequestsAborted,
		"config_missing":           s.ConfigMissing,
		"bad_requests":             s.BadRequests,
		"backend_unreachable":      s.BackendUnreachable,
		"connection_resets":        s.ConnectionResets,
		"bytes_relayed":            s.BytesRelayed,
		"sessions_created":         s.SessionsCreated,
		"turns_started":            s.TurnsStarted,
		"turns_completed":          s.TurnsCompleted,
		"turns_stopped":            s.TurnsStopped,
		"turns_remote_fault":       s.TurnsRemoteFault,
		"turns_framing_fault":      s.TurnsFramingFault,
		"turns_canceled":           s.TurnsCanceled,
		"packets_decoded":          s.PacketsDecoded,
		"packets_by_kind":          s.PacketsByKind,
		"transcript_write_success": s.TranscriptWriteSuccess,
		"transcript_write_failure": s.TranscriptWriteFailure,
		"publish_success":          s.PublishSuccess,
		"publish_failure":          s.PublishFailure,
		"component":                s.Component,
		"storage_backend":          s.StorageBackend,
		"adapter":                  s.Adapter,
	}
}
