package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/projecteru2/core/log"
)

const shutdownGrace = 10 * time.Second

// Server is a graceful HTTP server shared by the factory and registry
// commands.
type Server struct {
	name string
	srv  *http.Server
}

// NewServer wraps handler in a server listening on addr. name labels log
// lines only.
func NewServer(name, addr string, handler http.Handler) *Server {
	return &Server{
		name: name,
		srv: &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

// Run serves until ctx is cancelled, then drains in-flight requests.
func (s *Server) Run(ctx context.Context) error {
	logger := log.WithFunc("httpapi.Run")
	errCh := make(chan error, 1)
	go func() {
		logger.Infof(ctx, "%s listening on %s", s.name, s.srv.Addr)
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Infof(ctx, "%s shutting down", s.name)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		logger.Warnf(ctx, "%s shutdown: %v", s.name, err)
		return err
	}
	return <-errCh
}
