package iox

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"
)

type spyCloser struct{ closed bool }

func (s *spyCloser) Close() error { s.closed = true; return errors.New("ignored") }

func TestDiscardClose(t *testing.T) {
	s := &spyCloser{}
	DiscardClose(s)
	if !s.closed {
		t.Fatal("Close was not called")
	}
}

func TestCloseFunc(t *testing.T) {
	s := &spyCloser{}
	fn := CloseFunc(s)
	if s.closed {
		t.Fatal("Close called before invoking returned func")
	}
	fn()
	if !s.closed {
		t.Fatal("Close was not called")
	}
}

func TestDiscardErr(t *testing.T) {
	called := false
	DiscardErr(func() error {
		called = true
		return errors.New("ignored")
	})
	if !called {
		t.Fatal("fn was not called")
	}
}

func TestCloseOnDone_ClosesOnCancel(t *testing.T) {
	s := &chanCloser{closed: make(chan struct{})}
	ctx, cancel := context.WithCancel(t.Context())
	stop := CloseOnDone(ctx, s)
	defer stop()

	cancel()

	select {
	case <-s.closed:
	case <-time.After(time.Second):
		t.Fatal("Close was not called after cancel")
	}
}

func TestCloseOnDone_StopPreventsClose(t *testing.T) {
	s := &spyCloser{}
	ctx, cancel := context.WithCancel(t.Context())
	stop := CloseOnDone(ctx, s)
	if !stop() {
		t.Fatal("stop should report true before cancel")
	}
	cancel()
	time.Sleep(10 * time.Millisecond)
	if s.closed {
		t.Fatal("Close should not be called after stop")
	}
}

type countingFlusher struct{ n int }

func (f *countingFlusher) Flush() { f.n++ }

func TestFlushWriter_FlushesEachWrite(t *testing.T) {
	var buf bytes.Buffer
	f := &countingFlusher{}
	fw := NewFlushWriter(&buf, f)

	for _, chunk := range []string{"ab", "c", "def"} {
		if _, err := fw.Write([]byte(chunk)); err != nil {
			t.Fatalf("Write: %v", err)
		}
	}

	if f.n != 3 {
		t.Errorf("flush count = %d, want 3", f.n)
	}
	if buf.String() != "abcdef" {
		t.Errorf("written = %q, want %q", buf.String(), "abcdef")
	}
	if fw.Written() != 6 {
		t.Errorf("Written() = %d, want 6", fw.Written())
	}
}

func TestFlushWriter_NilFlusher(t *testing.T) {
	var buf bytes.Buffer
	fw := NewFlushWriter(&buf, nil)
	if _, err := fw.Write([]byte("x")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if buf.String() != "x" {
		t.Errorf("written = %q, want x", buf.String())
	}
}

type chanCloser struct{ closed chan struct{} }

func (c *chanCloser) Close() error { close(c.closed); return nil }
