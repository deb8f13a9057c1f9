// Package server is the HTTP surface of the vault: browser pages, the JSON
// API, file streaming, and a websocket feed of vault changes. Handlers are
// thin; the work happens in the vault, session, and auth packages.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/tonimelisma/filevault/internal/audit"
	"github.com/tonimelisma/filevault/internal/auth"
	"github.com/tonimelisma/filevault/internal/events"
	"github.com/tonimelisma/filevault/internal/session"
	"github.com/tonimelisma/filevault/internal/vault"
)

const (
	readHeaderTimeout = 10 * time.Second
	shutdownTimeout   = 30 * time.Second
)

// Options wires a Server to its collaborators. Audit and Hub are optional.
type Options struct {
	Vault       *vault.Vault
	Sessions    *session.Store
	Credentials *auth.Credentials
	Cookies     *auth.CookieCodec
	Audit       audit.Recorder
	Hub         *events.Hub
	Logger      *slog.Logger

	// StaticDir serves assets from disk instead of the embedded copy.
	StaticDir string
	// MaxUploadSize caps request bodies on upload; 0 is unlimited.
	MaxUploadSize int64
}

// Server handles vault HTTP traffic.
type Server struct {
	vault       *vault.Vault
	sessions    *session.Store
	credentials *auth.Credentials
	cookies     *auth.CookieCodec
	gate        *auth.Gate
	audit       audit.Recorder
	hub         *events.Hub
	logger      *slog.Logger
	pages       *pageRenderer
	staticDir   string
	maxUpload   int64

	// streamsDone is closed on shutdown so long-lived websocket handlers,
	// whose hijacked connections http.Server.Shutdown does not track, exit.
	streamsDone chan struct{}
	stopStreams sync.Once

	handler http.Handler
}

// New builds a Server from opts.
func New(opts Options) (*Server, error) {
	if opts.Vault == nil || opts.Sessions == nil || opts.Credentials == nil || opts.Cookies == nil {
		return nil, errors.New("server: vault, sessions, credentials, and cookies are required")
	}

	pages, err := newPageRenderer()
	if err != nil {
		return nil, err
	}

	recorder := opts.Audit
	if recorder == nil {
		recorder = audit.Nop{}
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		vault:       opts.Vault,
		sessions:    opts.Sessions,
		credentials: opts.Credentials,
		cookies:     opts.Cookies,
		gate:        auth.NewGate(opts.Sessions),
		audit:       recorder,
		hub:         opts.Hub,
		logger:      logger,
		pages:       pages,
		staticDir:   opts.StaticDir,
		maxUpload:   opts.MaxUploadSize,
		streamsDone: make(chan struct{}),
	}

	s.handler = s.routes()

	return s, nil
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Serve accepts connections on ln until ctx is done, then shuts down
// gracefully: in-flight transfers get shutdownTimeout to finish.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: readHeaderTimeout,
		ErrorLog:          slog.NewLogLogger(s.logger.Handler(), slog.LevelWarn),
	}

	srv.RegisterOnShutdown(s.closeStreams)

	errCh := make(chan error, 1)

	go func() {
		errCh <- srv.Serve(ln)
	}()

	s.logger.Info("listening", slog.String("addr", ln.Addr().String()))

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}

		return fmt.Errorf("server: serving: %w", err)

	case <-ctx.Done():
		s.logger.Info("shutting down HTTP server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server: shutdown: %w", err)
		}

		return nil
	}
}

func (s *Server) closeStreams() {
	s.stopStreams.Do(func() { close(s.streamsDone) })
}
