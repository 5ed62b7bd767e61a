package transcript

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/justapithecus/lode/lode"

	"github.com/pithecene-io/chatrelay/metrics"
	"github.com/pithecene-io/chatrelay/types"
)

// DefaultDataset is the dataset id used when none is configured.
const DefaultDataset = "chatrelay"

// Config identifies where a session's transcript is written.
type Config struct {
	// Dataset is the Lode dataset id (default "chatrelay").
	Dataset string
	// SessionID is the thread session id (required).
	SessionID string
	// Day is the YYYY-MM-DD partition (default: today, UTC).
	Day string
	// PriorMessages is the number of messages already stored for a
	// resumed session. Seq continues after it.
	PriorMessages int64
}

// Validate checks required fields and applies defaults.
func (c *Config) Validate() error {
	if c.SessionID == "" {
		return errors.New("transcript requires a session id")
	}
	if c.Dataset == "" {
		c.Dataset = DefaultDataset
	}
	if c.PriorMessages < 0 {
		return fmt.Errorf("prior messages must be >= 0, got %d", c.PriorMessages)
	}
	if c.Day == "" {
		c.Day = time.Now().UTC().Format(time.DateOnly)
	}
	if _, err := time.Parse(time.DateOnly, c.Day); err != nil {
		return fmt.Errorf("invalid day %q: %w", c.Day, err)
	}
	return nil
}

// Writer persists committed turns.
type Writer interface {
	// WriteTurn writes the messages of one committed turn in order.
	WriteTurn(ctx context.Context, turnID string, msgs []types.Message) error
	// Close releases writer resources.
	Close() error
}

// Store is a Lode-backed transcript writer for one session.
// Messages carry a session-wide, strictly increasing seq.
type Store struct {
	dataset lode.Dataset
	config  Config
	backend string

	mu  sync.Mutex // guards seq
	seq int64
}

// NewStore creates a store with filesystem storage rooted at root.
func NewStore(cfg Config, root string) (*Store, error) {
	return newStore(cfg, lode.NewFSFactory(root), "fs")
}

// NewStoreWithFactory creates a store with a custom store factory.
// Use lode.NewMemoryFactory() for testing.
func NewStoreWithFactory(cfg Config, factory lode.StoreFactory) (*Store, error) {
	return newStore(cfg, factory, "custom")
}

func newStore(cfg Config, factory lode.StoreFactory, backend string) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	ds, err := NewDataset(cfg.Dataset, factory)
	if err != nil {
		return nil, WrapInitError(err, cfg.Dataset)
	}
	return &Store{dataset: ds, config: cfg, backend: backend, seq: cfg.PriorMessages}, nil
}

// NewDataset opens a dataset with the transcript layout and codec.
// Readers and writers must share both.
func NewDataset(dataset string, factory lode.StoreFactory) (lode.Dataset, error) {
	return lode.NewDataset(
		lode.DatasetID(dataset),
		factory,
		lode.WithHiveLayout(partitionKeys...),
		lode.WithCodec(lode.NewJSONLCodec()),
	)
}

// Config returns the store's resolved configuration.
func (s *Store) Config() Config {
	return s.config
}

// Backend names the storage backend ("fs", "s3", "custom").
func (s *Store) Backend() string {
	return s.backend
}

// Path returns the partition directory holding this session's messages.
func (s *Store) Path() string {
	return fmt.Sprintf("datasets/%s/partitions/session_id=%s/day=%s/record_kind=%s",
		s.config.Dataset, s.config.SessionID, s.config.Day, RecordKindMessage)
}

// WriteTurn writes msgs as one snapshot. seq advances only on success.
func (s *Store) WriteTurn(ctx context.Context, turnID string, msgs []types.Message) error {
	if len(msgs) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	records := make([]any, 0, len(msgs))
	for i, m := range msgs {
		records = append(records, toMessageRecordMap(m, s.config, turnID, s.seq+int64(i)+1))
	}
	if _, err := s.dataset.Write(ctx, records, lode.Metadata{}); err != nil {
		return WrapWriteError(err, s.Path())
	}
	s.seq += int64(len(msgs))
	return nil
}

// WriteMetrics writes a collector snapshot as a metrics record.
func (s *Store) WriteMetrics(ctx context.Context, snap metrics.Snapshot, at time.Time) error {
	record := toMetricsRecordMap(snap, s.config, at)
	if _, err := s.dataset.Write(ctx, []any{record}, lode.Metadata{}); err != nil {
		return WrapWriteError(err, s.config.Dataset+"/metrics")
	}
	return nil
}

// Close releases store resources.
func (s *Store) Close() error {
	return nil
}

var _ Writer = (*Store)(nil)

// InstrumentedWriter wraps a Writer and counts write outcomes.
type InstrumentedWriter struct {
	inner     Writer
	collector *metrics.Collector
}

// NewInstrumentedWriter wraps inner with collector instrumentation.
func NewInstrumentedWriter(inner Writer, collector *metrics.Collector) *InstrumentedWriter {
	return &InstrumentedWriter{inner: inner, collector: collector}
}

// WriteTurn delegates to the inner writer and records success or failure.
func (w *InstrumentedWriter) WriteTurn(ctx context.Context, turnID string, msgs []types.Message) error {
	err := w.inner.WriteTurn(ctx, turnID, msgs)
	if err != nil {
		w.collector.IncTranscriptWriteFailure()
	} else {
		w.collector.IncTranscriptWriteSuccess()
	}
	return err
}

// WriteMetrics delegates to the inner writer when it stores metrics, and
// is a no-op otherwise.
func (w *InstrumentedWriter) WriteMetrics(ctx context.Context, snap metrics.Snapshot, at time.Time) error {
	mw, ok := w.inner.(interface {
		WriteMetrics(context.Context, metrics.Snapshot, time.Time) error
	})
	if !ok {
		return nil
	}
	return mw.WriteMetrics(ctx, snap, at)
}

// Close delegates to the inner writer.
func (w *InstrumentedWriter) Close() error {
	return w.inner.Close()
}

var _ Writer = (*InstrumentedWriter)(nil)
