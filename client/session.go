package client

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/pithecene-io/chatrelay/adapter"
	"github.com/pithecene-io/chatrelay/iox"
	"github.com/pithecene-io/chatrelay/log"
	"github.com/pithecene-io/chatrelay/metrics"
	"github.com/pithecene-io/chatrelay/thread"
	"github.com/pithecene-io/chatrelay/transcript"
	"github.com/pithecene-io/chatrelay/turn"
	"github.com/pithecene-io/chatrelay/types"
)

// MetricsWriter is implemented by transcript writers that persist metrics.
type MetricsWriter interface {
	WriteMetrics(ctx context.Context, snap metrics.Snapshot, at time.Time) error
}

// SessionConfig configures a Session.
type SessionConfig struct {
	// ChatSessionID is the backend session; empty creates one on Start.
	ChatSessionID string
	// PersonaID is used when creating the backend session.
	PersonaID int
	// Description is the optional backend session description.
	Description *string
	// PromptID and Temperature are sent with every turn.
	PromptID    int
	Temperature float64
	// Payload holds the remaining payload settings.
	Payload PayloadOptions

	// Transcript receives committed turns. Optional.
	Transcript transcript.Writer
	// TranscriptPath is reported in published events. Optional.
	TranscriptPath string
	// Adapter announces committed turns. Optional.
	Adapter adapter.Adapter

	Logger    *log.Logger
	Collector *metrics.Collector
}

// Session is one conversation. Send must not be called concurrently.
type Session struct {
	client  *Client
	tracker *thread.Tracker
	cfg     SessionConfig
	logger  *log.Logger
	now     func() time.Time
}

// NewSession creates a session over tracker. A zero PromptID, Temperature
// or PersonaID falls back to the original web client's values.
func NewSession(c *Client, tracker *thread.Tracker, cfg SessionConfig) *Session {
	if cfg.PromptID == 0 {
		cfg.PromptID = DefaultPromptID
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = DefaultTemperature
	}
	if cfg.PersonaID == 0 {
		cfg.PersonaID = DefaultPersonaID
	}
	if cfg.Payload == (PayloadOptions{}) {
		cfg.Payload = DefaultPayloadOptions()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.NewNop()
	}
	return &Session{
		client:  c,
		tracker: tracker,
		cfg:     cfg,
		logger:  logger.With("session_id", tracker.SessionID()),
		now:     time.Now,
	}
}

// Tracker returns the session's thread tracker.
func (s *Session) Tracker() *thread.Tracker {
	return s.tracker
}

// ChatSessionID returns the backend chat session id, empty before Start.
func (s *Session) ChatSessionID() string {
	return s.cfg.ChatSessionID
}

// Start creates the backend chat session unless one is configured.
func (s *Session) Start(ctx context.Context) error {
	if s.cfg.ChatSessionID != "" {
		return nil
	}
	id, err := s.client.CreateChatSession(ctx, s.cfg.PersonaID, s.cfg.Description)
	if err != nil {
		return fmt.Errorf("create chat session: %w", err)
	}
	s.cfg.ChatSessionID = id
	s.logger.Info("chat session created", map[string]any{"chat_session_id": id})
	return nil
}

// Send runs one turn for input. observer, when non-nil, sees the state after
// each applied packet.
//
// Completed and stopped turns are committed to the tracker, then written to
// the transcript and published. Transcript and publish failures are logged
// and counted but do not fail the turn. Every other outcome discards the
// pending turn and is returned with its *turn.Error.
func (s *Session) Send(ctx context.Context, input string, observer func(types.TurnState)) (*turn.Outcome, error) {
	if s.cfg.ChatSessionID == "" {
		if err := s.Start(ctx); err != nil {
			return nil, err
		}
	}

	pending, err := s.tracker.Begin(input)
	if err != nil {
		return nil, err
	}
	logger := s.logger.With("turn_id", pending.ID)

	payload := BuildPayload(SendMessageParams{
		ChatSessionID:   s.cfg.ChatSessionID,
		Message:         input,
		PromptID:        s.cfg.PromptID,
		Temperature:     s.cfg.Temperature,
		ParentMessageID: pending.ParentMessageID,
	}, s.cfg.Payload)

	body, err := s.client.SendMessage(ctx, payload)
	if err != nil {
		s.discard(pending, logger)
		return nil, err
	}
	stop := iox.CloseOnDone(ctx, body)
	defer func() {
		stop()
		iox.DiscardClose(body)
	}()

	opts := []turn.Option{turn.WithLogger(logger), turn.WithCollector(s.cfg.Collector)}
	if observer != nil {
		opts = append(opts, turn.WithObserver(observer))
	}
	outcome, runErr := turn.Stream(ctx, body, opts...)
	if !outcome.Committable() {
		s.discard(pending, logger)
		logger.Warn("turn not committed", map[string]any{"status": string(outcome.Status), "error": errString(runErr)})
		return outcome, runErr
	}

	msgs, err := s.tracker.Commit(pending, outcome.State)
	if err != nil {
		s.discard(pending, logger)
		return outcome, fmt.Errorf("commit turn: %w", err)
	}
	logger.Info("turn committed", map[string]any{
		"status":     string(outcome.Status),
		"message_id": types.Deref(outcome.State.MessageID),
		"packets":    outcome.State.PacketCount,
	})

	s.persist(ctx, logger, pending, outcome, msgs)
	return outcome, nil
}

func (s *Session) persist(ctx context.Context, logger *log.Logger, pending *thread.Pending, outcome *turn.Outcome, msgs []types.Message) {
	if s.cfg.Transcript != nil {
		if err := s.cfg.Transcript.WriteTurn(ctx, pending.ID, msgs); err != nil {
			logger.Error("transcript write failed", map[string]any{"error": err.Error()})
		}
	}

	if s.cfg.Adapter != nil {
		event := adapter.NewTurnCommittedEvent(adapter.TurnInfo{
			SessionID:      s.tracker.SessionID(),
			ChatSessionID:  s.cfg.ChatSessionID,
			TurnID:         pending.ID,
			Outcome:        string(outcome.Status),
			TranscriptPath: s.cfg.TranscriptPath,
			StartedAt:      pending.StartedAt,
		}, outcome.State, s.now())
		if err := s.cfg.Adapter.Publish(ctx, event); err != nil {
			s.cfg.Collector.IncPublishFailure()
			logger.Error("turn event publish failed", map[string]any{"error": err.Error()})
		} else {
			s.cfg.Collector.IncPublishSuccess()
		}
	}
}

func (s *Session) discard(p *thread.Pending, logger *log.Logger) {
	if err := s.tracker.Discard(p); err != nil && !errors.Is(err, thread.ErrNoPendingTurn) {
		logger.Warn("discard failed", map[string]any{"error": err.Error()})
	}
}

// Close writes the final metrics snapshot when the transcript supports it,
// then releases the transcript and adapter.
func (s *Session) Close(ctx context.Context) error {
	var errs []error
	if mw, ok := s.cfg.Transcript.(MetricsWriter); ok && s.cfg.Collector != nil {
		if err := mw.WriteMetrics(ctx, s.cfg.Collector.Snapshot(), s.now()); err != nil {
			errs = append(errs, fmt.Errorf("write metrics: %w", err))
		}
	}
	if s.cfg.Transcript != nil {
		errs = append(errs, s.cfg.Transcript.Close())
	}
	if s.cfg.Adapter != nil {
		errs = append(errs, s.cfg.Adapter.Close())
	}
	return errors.Join(errs...)
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
