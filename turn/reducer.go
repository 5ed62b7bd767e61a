// Package turn folds a backend packet sequence into the state of one turn.
//
// Reducer rules:
//   - Packets are applied strictly in arrival order
//   - Within a packet, parts are applied as identity, documents (resolved
//     against a same-packet citation map), full message, answer fragment,
//     tool invocation, image artifact; a stream fault or stop signal on the
//     same packet ends the fold after those parts are applied
//   - First terminal packet wins; later packets are never consumed
//   - Content never shrinks; a message id once assigned is immutable
//   - Last document set wins; a standalone citation map re-resolves the
//     current documents
package turn

import (
	"context"
	"io"
	"iter"
	"slices"
	"strings"

	"github.com/pithecene-io/chatrelay/framer"
	"github.com/pithecene-io/chatrelay/log"
	"github.com/pithecene-io/chatrelay/metrics"
	"github.com/pithecene-io/chatrelay/types"
)

// Option configures a Reducer.
type Option func(*Reducer)

// WithLogger sets the reducer logger.
func WithLogger(logger *log.Logger) Option {
	return func(r *Reducer) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithCollector sets the metrics collector. A nil collector is allowed.
func WithCollector(collector *metrics.Collector) Option {
	return func(r *Reducer) {
		r.collector = collector
	}
}

// WithObserver registers fn to receive a copy of the state after every
// non-terminal packet. It is called on the reducer goroutine.
func WithObserver(fn func(types.TurnState)) Option {
	return func(r *Reducer) {
		r.observer = fn
	}
}

// Reducer owns the TurnState of one turn.
// A Reducer is single-use and not safe for concurrent use.
type Reducer struct {
	state     types.TurnState
	citations types.CitationMap
	logger    *log.Logger
	collector *metrics.Collector
	observer  func(types.TurnState)
	outcome   *Outcome
}

// NewReducer creates a reducer for a new turn. The state starts responding.
func NewReducer(opts ...Option) *Reducer {
	r := &Reducer{
		state:  types.TurnState{Responding: true},
		logger: log.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Stream frames body and folds it into a new reducer.
func Stream(ctx context.Context, body io.Reader, opts ...Option) (*Outcome, error) {
	return NewReducer(opts...).Run(ctx, framer.New(body).All(ctx))
}

// Run folds packets until a terminal packet, an error, or end of sequence.
// Returns:
//   - nil: outcome is completed or stopped and may be committed
//   - *Error with Kind=ErrorRemoteFault: the backend sent a stream fault
//   - *Error with Kind=ErrorFraming: the wire was corrupt or the read failed
//   - *Error with Kind=ErrorCanceled: ctx was canceled
//
// The outcome is returned in every case.
func (r *Reducer) Run(ctx context.Context, packets iter.Seq2[*types.Packet, error]) (*Outcome, error) {
	if r.outcome != nil {
		return r.outcome, r.outcome.Err
	}
	r.collector.IncTurnStarted()

	for pkt, err := range packets {
		select {
		case <-ctx.Done():
			return r.cancel(ctx.Err())
		default:
		}

		if err != nil {
			if framer.IsCanceled(err) {
				return r.cancel(err)
			}
			return r.framingFault(err)
		}

		if r.Apply(pkt) {
			break
		}
	}

	if r.outcome == nil {
		if err := ctx.Err(); err != nil {
			return r.cancel(err)
		}
		r.finish(StatusCompleted, nil, nil)
	}
	return r.outcome, r.outcome.Err
}

// Apply folds one packet into the state and reports whether the turn has
// ended. Once ended, Apply ignores further packets.
func (r *Reducer) Apply(pkt *types.Packet) bool {
	if r.outcome != nil {
		return true
	}
	r.state.PacketCount++
	r.collector.IncPacket(string(pkt.Kind))

	if pkt.Identity != nil {
		r.applyIdentity(pkt.Identity)
	}

	if pkt.Documents != nil {
		if pkt.Citations != nil {
			r.citations = pkt.Citations
		}
		r.state.ContextDocs = ResolveDocuments(pkt.Documents.TopDocuments, r.citations)
		if pkt.Documents.RephrasedQuery != nil {
			r.state.RephrasedQuery = types.StringPtr(*pkt.Documents.RephrasedQuery)
		}
	} else if pkt.Citations != nil {
		r.citations = pkt.Citations
		r.state.ContextDocs = ApplyCitations(r.state.ContextDocs, r.citations)
	}

	if pkt.FullMessage != nil {
		r.applyFullMessage(*pkt.FullMessage)
	}

	if pkt.Answer != nil {
		r.state.Content += *pkt.Answer
	}

	if pkt.Tool != nil {
		r.state.ToolCalls = append(r.state.ToolCalls, *pkt.Tool)
	}

	if pkt.Image != nil {
		r.state.ImageFileIDs = append(r.state.ImageFileIDs, pkt.Image.FileIDs...)
	}

	if pkt.Fault != nil {
		fault := *pkt.Fault
		r.finish(StatusRemoteFault, &fault, &Error{
			Kind:       ErrorRemoteFault,
			Msg:        fault.Message,
			StackTrace: fault.StackTrace,
		})
		return true
	}

	if pkt.Stop != nil {
		reason := pkt.Stop.Reason
		r.state.StopReason = &reason
		r.finish(StatusStopped, nil, nil)
		return true
	}

	if r.observer != nil {
		r.observer(r.State())
	}
	return false
}

func (r *Reducer) applyIdentity(ident *types.MessageIdentity) {
	if ident.UserMessageID != nil {
		r.state.UserMessageID = r.assignID("user_message_id", r.state.UserMessageID, string(*ident.UserMessageID))
	}
	if ident.MessageID != nil {
		r.state.MessageID = r.assignID("message_id", r.state.MessageID, string(*ident.MessageID))
	}
}

func (r *Reducer) assignID(field string, current *string, id string) *string {
	if current == nil {
		return types.StringPtr(id)
	}
	if *current != id {
		r.logger.Warn("ignoring reassigned message id", map[string]any{
			"field":    field,
			"current":  *current,
			"received": id,
		})
	}
	return current
}

func (r *Reducer) applyFullMessage(msg string) {
	if !strings.HasPrefix(msg, r.state.Content) {
		r.logger.Debug("ignoring full message that does not extend content", map[string]any{
			"content_len": len(r.state.Content),
			"message_len": len(msg),
		})
		return
	}
	r.state.Content += msg[len(r.state.Content):]
}

func (r *Reducer) cancel(err error) (*Outcome, error) {
	r.finish(StatusCanceled, nil, &Error{Kind: ErrorCanceled, Err: err})
	return r.outcome, r.outcome.Err
}

func (r *Reducer) framingFault(err error) (*Outcome, error) {
	r.finish(StatusFramingFault, nil, &Error{Kind: ErrorFraming, Err: err})
	return r.outcome, r.outcome.Err
}

func (r *Reducer) finish(status Status, fault *types.StreamFault, err *Error) {
	r.state.Responding = false
	r.outcome = &Outcome{Status: status, State: r.State(), Fault: fault}
	if err != nil {
		r.outcome.Err = err
	}

	fields := map[string]any{
		"status":       string(status),
		"packets":      r.state.PacketCount,
		"content_len":  len(r.state.Content),
		"context_docs": len(r.state.ContextDocs),
	}
	if r.state.MessageID != nil {
		fields["message_id"] = *r.state.MessageID
	}

	switch status {
	case StatusCompleted:
		r.collector.IncTurnCompleted()
		r.logger.Info("turn completed", fields)
	case StatusStopped:
		r.collector.IncTurnStopped()
		fields["stop_reason"] = string(*r.state.StopReason)
		r.logger.Info("turn stopped", fields)
	case StatusRemoteFault:
		r.collector.IncTurnRemoteFault()
		fields["error"] = fault.Message
		r.logger.Error("backend stream fault", fields)
	case StatusFramingFault:
		r.collector.IncTurnFramingFault()
		fields["error"] = err.Error()
		r.logger.Error("framing fault", fields)
	case StatusCanceled:
		r.collector.IncTurnCanceled()
		r.logger.Info("turn canceled", fields)
	}
}

// State returns a copy of the current turn state.
func (r *Reducer) State() types.TurnState {
	s := r.state
	s.ContextDocs = slices.Clone(r.state.ContextDocs)
	s.ToolCalls = slices.Clone(r.state.ToolCalls)
	s.ImageFileIDs = slices.Clone(r.state.ImageFileIDs)
	return s
}

// Outcome returns the turn outcome, or nil while the turn is in progress.
func (r *Reducer) Outcome() *Outcome {
	return r.outcome
}
