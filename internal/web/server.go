// Package web serves the property and exposure API with a live status stream.
package web

import (
	"context"
	"io/fs"
	"net/http"
	"time"

	"github.com/cjeanneret/gphotoccd/internal/debug"
)

var log = debug.Module("web")

// Server wraps the HTTP server and handlers.
type Server struct {
	addr     string
	handlers *Handlers
}

// NewServer creates a server configured for the given address and dependencies.
func NewServer(addr string, broadcaster *StatusBroadcaster, props Properties, dev Device, seq Sequencer) *Server {
	subFS, err := fs.Sub(staticFiles, "static")
	if err != nil {
		panic("web: failed to sub static fs: " + err.Error())
	}
	return &Server{
		addr:     addr,
		handlers: NewHandlers(broadcaster, props, dev, seq, subFS),
	}
}

// Mux returns an http.Handler with all routes registered.
func (s *Server) Mux() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /properties", s.handlers.HandleProperties)
	mux.HandleFunc("POST /properties/{name}", s.handlers.HandleSetProperty)
	mux.HandleFunc("GET /exposure", s.handlers.HandleExposureStatus)
	mux.HandleFunc("POST /exposure", s.handlers.HandleExposure)
	mux.HandleFunc("DELETE /exposure", s.handlers.HandleAbort)
	mux.HandleFunc("GET /status/stream", s.handlers.HandleStatusStream)
	mux.Handle("/static/", http.StripPrefix("/static/", http.FileServer(http.FS(s.handlers.staticFS))))
	mux.HandleFunc("GET /{$}", s.handlers.ServeIndex) // exact match for root only

	return mux
}

// Run starts the server and blocks until ctx is cancelled, then shuts down
// gracefully. Sequences started over HTTP are cancelled with ctx.
func (s *Server) Run(ctx context.Context) error {
	s.handlers.baseCtx = ctx
	srv := &http.Server{Addr: s.addr, Handler: s.Mux(), ReadHeaderTimeout: 10 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		log.Info("listening on %s", s.addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
