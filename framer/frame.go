// Package framer reassembles the backend's newline-delimited JSON stream into
// ordered, classified packets.
//
// Framing rules:
//   - Records are delimited by '\n'; JSON forbids raw newlines inside strings,
//     so every newline byte is a candidate delimiter
//   - A candidate that is not valid JSON is treated as partial and extended to
//     the next delimiter; it is never emitted and never dropped
//   - Blank records are skipped
//   - A trailing unterminated record is emitted at end of stream if valid;
//     otherwise the stream ends with a partial-frame error
package framer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"

	"github.com/pithecene-io/chatrelay/iox"
	"github.com/pithecene-io/chatrelay/types"
)

// Framing constants.
const (
	// MaxRecordSize is the maximum size of a pending record (16 MiB).
	MaxRecordSize = 16 * 1024 * 1024
	// DefaultReadSize is the size of each transport read.
	DefaultReadSize = 32 * 1024
	// Delimiter separates records on the wire.
	Delimiter = '\n'
)

// FrameErrorKind classifies framing errors.
type FrameErrorKind int

const (
	// FrameErrorPartial indicates undecodable or truncated trailing bytes.
	FrameErrorPartial FrameErrorKind = iota
	// FrameErrorTooLarge indicates a pending record exceeding the size limit.
	FrameErrorTooLarge
	// FrameErrorDecode indicates a record whose fields have the wrong shape.
	FrameErrorDecode
	// FrameErrorUnclassified indicates a record matching no packet variant.
	FrameErrorUnclassified
	// FrameErrorTransport indicates the underlying stream failed mid-read.
	FrameErrorTransport
	// FrameErrorCanceled indicates the consumer canceled the stream.
	FrameErrorCanceled
)

// String returns the kind name used in logs and outcomes.
func (k FrameErrorKind) String() string {
	switch k {
	case FrameErrorPartial:
		return "partial"
	case FrameErrorTooLarge:
		return "too_large"
	case FrameErrorDecode:
		return "decode"
	case FrameErrorUnclassified:
		return "unclassified"
	case FrameErrorTransport:
		return "transport"
	case FrameErrorCanceled:
		return "canceled"
	default:
		return fmt.Sprintf("unknown(%d)", int(k))
	}
}

// FrameError represents a framing or decoding error.
type FrameError struct {
	Kind FrameErrorKind
	Msg  string
	Err  error
}

func (e *FrameError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *FrameError) Unwrap() error {
	return e.Err
}

// IsFatal returns true if the error is a framing fault (wire corruption).
// Cancellation is terminal but not a fault.
func (e *FrameError) IsFatal() bool {
	return e.Kind != FrameErrorCanceled
}

// IsFatalFrameError returns true if the error is a fatal frame error.
func IsFatalFrameError(err error) bool {
	var frameErr *FrameError
	if errors.As(err, &frameErr) {
		return frameErr.IsFatal()
	}
	return false
}

// IsCanceled returns true if the error is a framer cancellation.
func IsCanceled(err error) bool {
	var frameErr *FrameError
	if errors.As(err, &frameErr) {
		return frameErr.Kind == FrameErrorCanceled
	}
	return false
}

// Option configures a Framer.
type Option func(*Framer)

// WithReadSize sets the transport read size.
func WithReadSize(n int) Option {
	return func(f *Framer) {
		if n > 0 {
			f.readSize = n
		}
	}
}

// WithMaxRecordSize overrides MaxRecordSize.
func WithMaxRecordSize(n int) Option {
	return func(f *Framer) {
		if n > 0 {
			f.maxRecord = n
		}
	}
}

// WithChunkObserver registers fn to observe every raw chunk as it is read.
// fn must not retain the slice.
func WithChunkObserver(fn func(chunk []byte)) Option {
	return func(f *Framer) {
		f.observe = fn
	}
}

// Framer turns a byte stream into a lazy, finite sequence of packets.
// A Framer is not restartable and not safe for concurrent use.
type Framer struct {
	reader    io.Reader
	buf       []byte
	chunk     []byte
	start     int // first unconsumed byte of buf
	scan      int // where the next delimiter search resumes
	readSize  int
	maxRecord int
	observe   func([]byte)
	eof       bool
	err       error
	records   int
}

// New creates a Framer reading from r.
// If r is an io.Closer it is closed when a Next context is canceled, which
// unblocks a pending read on a network body.
func New(r io.Reader, opts ...Option) *Framer {
	f := &Framer{
		reader:    r,
		readSize:  DefaultReadSize,
		maxRecord: MaxRecordSize,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Records returns the number of records extracted so far.
func (f *Framer) Records() int {
	return f.records
}

// ReadRecord returns the next complete record, without its delimiter.
//
// Errors:
//   - io.EOF: stream ended cleanly (no more records)
//   - *FrameError with Kind=FrameErrorCanceled: ctx was done
//   - *FrameError with Kind=FrameErrorPartial: undecodable trailing bytes
//   - *FrameError with Kind=FrameErrorTooLarge: pending record over limit
//   - *FrameError with Kind=FrameErrorTransport: the stream failed
//
// Errors are sticky: once returned, every later call returns the same error.
func (f *Framer) ReadRecord(ctx context.Context) ([]byte, error) {
	if f.err != nil {
		return nil, f.err
	}
	for {
		if err := ctx.Err(); err != nil {
			return nil, f.fail(&FrameError{Kind: FrameErrorCanceled, Msg: "stream canceled", Err: err})
		}

		rec, ok, err := f.extract()
		if err != nil {
			return nil, f.fail(err)
		}
		if ok {
			f.records++
			return rec, nil
		}

		if f.eof {
			return f.finish()
		}

		if err := f.fill(ctx); err != nil {
			return nil, f.fail(err)
		}
	}
}

// Next returns the next classified packet.
// Returns io.EOF at clean end of stream; see ReadRecord for error kinds.
// Decode failures surface as *FrameError with Kind=FrameErrorDecode or
// FrameErrorUnclassified.
func (f *Framer) Next(ctx context.Context) (*types.Packet, error) {
	rec, err := f.ReadRecord(ctx)
	if err != nil {
		return nil, err
	}
	pkt, err := DecodePacket(rec)
	if err != nil {
		return nil, f.fail(err)
	}
	return pkt, nil
}

// All returns the packet sequence as an iterator.
// The sequence ends silently at clean end of stream; any other terminal
// condition is yielded once as a non-nil error.
func (f *Framer) All(ctx context.Context) iter.Seq2[*types.Packet, error] {
	return func(yield func(*types.Packet, error) bool) {
		for {
			pkt, err := f.Next(ctx)
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				yield(nil, err)
				return
			}
			if !yield(pkt, nil) {
				return
			}
		}
	}
}

// extract attempts to take one complete record from the front of the buffer.
func (f *Framer) extract() ([]byte, bool, error) {
	for {
		idx := bytes.IndexByte(f.buf[f.scan:], Delimiter)
		if idx < 0 {
			f.scan = len(f.buf)
			if pending := len(f.buf) - f.start; pending > f.maxRecord {
				return nil, false, &FrameError{
					Kind: FrameErrorTooLarge,
					Msg:  fmt.Sprintf("pending record size %d exceeds maximum %d", pending, f.maxRecord),
				}
			}
			return nil, false, nil
		}

		end := f.scan + idx
		candidate := bytes.TrimSpace(f.buf[f.start:end])
		if len(candidate) == 0 {
			f.consume(end + 1)
			continue
		}
		if !json.Valid(candidate) {
			// Partial record: keep it and extend to the next delimiter.
			f.scan = end + 1
			continue
		}

		rec := make([]byte, len(candidate))
		copy(rec, candidate)
		f.consume(end + 1)
		return rec, true, nil
	}
}

// consume marks buf[:n] as read. The live bytes are moved to the front
// only once the read offset passes half the buffer, so extracting many
// records from one read stays linear.
func (f *Framer) consume(n int) {
	f.start, f.scan = n, n
	switch {
	case f.start == len(f.buf):
		f.buf = f.buf[:0]
		f.start, f.scan = 0, 0
	case f.start > len(f.buf)/2:
		m := copy(f.buf, f.buf[f.start:])
		f.buf = f.buf[:m]
		f.start, f.scan = 0, 0
	}
}

// unread returns the unconsumed bytes of the buffer.
func (f *Framer) unread() []byte {
	return f.buf[f.start:]
}

// fill reads one chunk from the transport.
func (f *Framer) fill(ctx context.Context) error {
	if f.chunk == nil {
		f.chunk = make([]byte, f.readSize)
	}

	if c, ok := f.reader.(io.Closer); ok {
		stop := iox.CloseOnDone(ctx, c)
		defer stop()
	}

	n, err := f.reader.Read(f.chunk)
	if n > 0 {
		if f.observe != nil {
			f.observe(f.chunk[:n])
		}
		f.buf = append(f.buf, f.chunk[:n]...)
	}
	if err != nil {
		if errors.Is(err, io.EOF) {
			f.eof = true
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return &FrameError{Kind: FrameErrorCanceled, Msg: "stream canceled", Err: ctxErr}
		}
		return &FrameError{Kind: FrameErrorTransport, Msg: "stream read failed", Err: err}
	}
	return nil
}

// finish handles end of stream once no delimited record remains.
func (f *Framer) finish() ([]byte, error) {
	rest := bytes.TrimSpace(f.unread())
	if len(rest) == 0 {
		f.buf = nil
		f.start, f.scan = 0, 0
		f.err = io.EOF
		return nil, io.EOF
	}
	if json.Valid(rest) {
		rec := make([]byte, len(rest))
		copy(rec, rest)
		f.buf = nil
		f.start, f.scan = 0, 0
		f.records++
		return rec, nil
	}
	return nil, f.fail(&FrameError{
		Kind: FrameErrorPartial,
		Msg:  fmt.Sprintf("stream ended with %d undecodable trailing bytes", len(rest)),
	})
}

func (f *Framer) fail(err error) error {
	f.err = err
	return err
}
