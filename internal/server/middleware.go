package server

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"runtime/debug"
	"time"

	"github.com/tonimelisma/filevault/internal/auth"
	"github.com/tonimelisma/filevault/internal/session"
)

type ctxKey int

const (
	requestInfoKey ctxKey = iota
	identityKey
)

// requestInfo is shared between logRequests and requireAuth so the access
// log line can name the user.
type requestInfo struct {
	user string
}

// identity is the authenticated caller of a request.
type identity struct {
	sessionID session.ID
	username  string
}

func withIdentity(ctx context.Context, id identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

func identityFrom(ctx context.Context) identity {
	id, _ := ctx.Value(identityKey).(identity)

	return id
}

// statusRecorder captures the status and size of a response. It forwards
// Flush, Hijack, and Unwrap so streaming and websockets keep working.
type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int64
}

func (rec *statusRecorder) WriteHeader(status int) {
	if rec.status == 0 {
		rec.status = status
	}

	rec.ResponseWriter.WriteHeader(status)
}

func (rec *statusRecorder) Write(p []byte) (int, error) {
	if rec.status == 0 {
		rec.status = http.StatusOK
	}

	n, err := rec.ResponseWriter.Write(p)
	rec.bytes += int64(n)

	return n, err
}

func (rec *statusRecorder) Flush() {
	_ = http.NewResponseController(rec.ResponseWriter).Flush()
}

func (rec *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	conn, rw, err := http.NewResponseController(rec.ResponseWriter).Hijack()
	if err == nil && rec.status == 0 {
		rec.status = http.StatusSwitchingProtocols
	}

	return conn, rw, err
}

func (rec *statusRecorder) Unwrap() http.ResponseWriter {
	return rec.ResponseWriter
}

func (rec *statusRecorder) wroteHeader() bool {
	return rec.status != 0
}

// logRequests writes one access log line per request with the client
// address and, once authenticated, the user.
func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		info := &requestInfo{user: "-"}
		rec := &statusRecorder{ResponseWriter: w}

		next.ServeHTTP(rec, r.WithContext(context.WithValue(r.Context(), requestInfoKey, info)))

		status := rec.status
		if status == 0 {
			status = http.StatusOK
		}

		s.logger.Info("request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", status),
			slog.Int64("bytes", rec.bytes),
			slog.Duration("duration", time.Since(start)),
			slog.String("client", clientAddr(r)),
			slog.String("user", info.user),
		)
	})
}

// recoverPanics turns a handler panic into a 500 for that request only.
func (s *Server) recoverPanics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			v := recover()
			if v == nil {
				return
			}

			if v == http.ErrAbortHandler { //nolint:errorlint // sentinel panic value, compared by identity
				panic(v)
			}

			s.logger.Error("panic in handler",
				slog.String("path", r.URL.Path),
				slog.String("panic", fmt.Sprint(v)),
				slog.String("stack", string(debug.Stack())),
			)

			if rec, ok := w.(*statusRecorder); ok && rec.wroteHeader() {
				return
			}

			s.writeError(w, r, fmt.Errorf("panic: %v", v))
		}()

		next.ServeHTTP(w, r)
	})
}

// requireAuth admits requests carrying a live session and refreshes its
// activity. Others are redirected to the login page or refused with 403,
// depending on class.
func (s *Server) requireAuth(class endpointClass, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, present := s.cookies.FromRequest(r)

		decision := s.gate.Authorize(id, present)
		if !decision.Allowed {
			if present {
				s.cookies.Clear(w)
			}

			if class == pageEndpoint {
				http.Redirect(w, r, "/login?next="+url.QueryEscape(r.URL.RequestURI()), http.StatusFound)

				return
			}

			s.writeError(w, r, auth.ErrAuthRequired)

			return
		}

		s.sessions.Touch(id)

		if info, ok := r.Context().Value(requestInfoKey).(*requestInfo); ok {
			info.user = decision.Username
		}

		next(w, r.WithContext(withIdentity(r.Context(), identity{sessionID: id, username: decision.Username})))
	}
}

// clientAddr returns the peer's IP. Forwarding headers are not trusted.
func clientAddr(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}

	return host
}
