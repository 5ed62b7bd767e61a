// Package iox provides I/O helpers for resource cleanup and streaming.
package iox

import (
	"context"
	"io"
)

// DiscardClose closes c and discards the error.
// Use in defer statements where close errors are unactionable:
//
//	defer iox.DiscardClose(resp.Body)
func DiscardClose(c io.Closer) { _ = c.Close() }

// CloseFunc returns a cleanup function that closes c.
// Designed for t.Cleanup registration:
//
//	t.Cleanup(iox.CloseFunc(adapter))
func CloseFunc(c io.Closer) func() {
	return func() { _ = c.Close() }
}

// DiscardErr calls fn and discards the returned error.
// Use for non-Close cleanup calls (e.g. Sync) where errors are unactionable.
func DiscardErr(fn func() error) { _ = fn() }

// CloseOnDone closes c once ctx is done, unblocking any pending Read.
// The returned stop function detaches the watcher; it reports true if the
// close had not yet been triggered.
func CloseOnDone(ctx context.Context, c io.Closer) (stop func() bool) {
	return context.AfterFunc(ctx, func() { _ = c.Close() })
}

// Flusher is implemented by writers that can push buffered bytes to the peer.
type Flusher interface {
	Flush()
}

// FlushWriter flushes after every write so that each chunk reaches the
// peer as soon as it is written.
type FlushWriter struct {
	w io.Writer
	f Flusher
	n int64
}

// NewFlushWriter wraps w. If f is nil, writes are passed through unflushed.
func NewFlushWriter(w io.Writer, f Flusher) *FlushWriter {
	return &FlushWriter{w: w, f: f}
}

// Write writes p and flushes.
func (fw *FlushWriter) Write(p []byte) (int, error) {
	n, err := fw.w.Write(p)
	fw.n += int64(n)
	if err != nil {
		return n, err
	}
	if fw.f != nil {
		fw.f.Flush()
	}
	return n, nil
}

// Written returns the total number of bytes written.
func (fw *FlushWriter) Written() int64 {
	return fw.n
}
