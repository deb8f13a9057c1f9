package server

import (
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/tonimelisma/filevault/internal/audit"
)

// maxFormBytes caps login form bodies.
const maxFormBytes = 64 << 10

type loginPage struct {
	Failed bool
	Next   string
}

func (s *Server) handleLoginPage(w http.ResponseWriter, r *http.Request) {
	next := safeNext(r.URL.Query().Get("next"))

	if id, ok := s.cookies.FromRequest(r); ok && s.gate.Authorize(id, true).Allowed {
		http.Redirect(w, r, next, http.StatusFound)

		return
	}

	s.renderPage(w, r, "login.html", loginPage{
		Failed: r.URL.Query().Get("error") != "",
		Next:   next,
	})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxFormBytes)

	if err := r.ParseForm(); err != nil {
		http.Redirect(w, r, "/login?error=1", http.StatusFound)

		return
	}

	username := strings.TrimSpace(r.PostForm.Get("username"))
	password := r.PostForm.Get("password")
	next := safeNext(r.PostForm.Get("next"))

	if !s.credentials.Verify(username, password) {
		s.logger.Warn("login failed",
			slog.String("user", username),
			slog.String("client", clientAddr(r)),
		)
		s.record(r, audit.Entry{Username: username, Action: audit.ActionLoginFailed})

		http.Redirect(w, r, "/login?error=1&next="+url.QueryEscape(next), http.StatusFound)

		return
	}

	id := s.sessions.Create(username)

	if err := s.cookies.Set(w, id, username); err != nil {
		s.sessions.Destroy(id)
		s.writeError(w, r, err)

		return
	}

	if info, ok := r.Context().Value(requestInfoKey).(*requestInfo); ok {
		info.user = username
	}

	s.record(r, audit.Entry{Username: username, Action: audit.ActionLogin})
	http.Redirect(w, r, next, http.StatusFound)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	caller := identityFrom(r.Context())
	username := s.sessions.Destroy(caller.sessionID)

	s.cookies.Clear(w)
	s.record(r, audit.Entry{Username: username, Action: audit.ActionLogout})

	http.Redirect(w, r, "/login", http.StatusFound)
}

// safeNext accepts only same-site absolute paths as a post-login target.
func safeNext(next string) string {
	if next == "" || !strings.HasPrefix(next, "/") ||
		strings.HasPrefix(next, "//") || strings.HasPrefix(next, `/\`) {
		return "/"
	}

	return next
}
