package relay

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/pithecene-io/chatrelay/log"
)

// DefaultShutdownTimeout bounds graceful shutdown of in-flight streams.
const DefaultShutdownTimeout = 30 * time.Second

// Server runs the relay HTTP server.
type Server struct {
	httpSrv         *http.Server
	logger          *log.Logger
	shutdownTimeout time.Duration
}

// NewServer creates a server for handler on addr.
func NewServer(addr string, handler http.Handler, logger *log.Logger, shutdownTimeout time.Duration) *Server {
	if logger == nil {
		logger = log.NewNop()
	}
	if shutdownTimeout <= 0 {
		shutdownTimeout = DefaultShutdownTimeout
	}
	return &Server{
		httpSrv: &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		},
		logger:          logger,
		shutdownTimeout: shutdownTimeout,
	}
}

// Serve serves on ln until ctx is done, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	eg, egCtx := errgroup.WithContext(ctx)

	eg.Go(func() error {
		s.logger.Info("relay listening", map[string]any{"addr": ln.Addr().String()})
		if err := s.httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	eg.Go(func() error {
		<-egCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.shutdownTimeout)
		defer cancel()
		if err := s.httpSrv.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("relay shutdown error", map[string]any{"error": err.Error()})
			return err
		}
		s.logger.Info("relay shutdown complete", nil)
		return nil
	})

	return eg.Wait()
}
