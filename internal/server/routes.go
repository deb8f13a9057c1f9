package server

import (
	"net/http"

	"github.com/gorilla/mux"
)

// endpointClass selects how an unauthenticated request is refused.
type endpointClass int

const (
	// pageEndpoint redirects browsers to the login form.
	pageEndpoint endpointClass = iota
	// apiEndpoint answers 403 with a JSON error.
	apiEndpoint
)

func (s *Server) routes() http.Handler {
	r := mux.NewRouter()
	r.NotFoundHandler = http.HandlerFunc(s.handleNotFound)
	r.MethodNotAllowedHandler = http.HandlerFunc(s.handleMethodNotAllowed)

	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/login", s.handleLoginPage).Methods(http.MethodGet)
	r.HandleFunc("/login", s.handleLogin).Methods(http.MethodPost)
	r.HandleFunc("/logout", s.requireAuth(pageEndpoint, s.handleLogout)).Methods(http.MethodPost)

	r.HandleFunc("/", s.requireAuth(pageEndpoint, s.handleIndex)).Methods(http.MethodGet)
	r.HandleFunc("/upload", s.requireAuth(pageEndpoint, s.handleUploadPage)).Methods(http.MethodGet)
	r.HandleFunc("/upload", s.requireAuth(apiEndpoint, s.handleUpload)).Methods(http.MethodPost)

	r.HandleFunc("/api/files", s.requireAuth(apiEndpoint, s.handleList)).Methods(http.MethodGet)
	r.HandleFunc("/api/events", s.requireAuth(apiEndpoint, s.handleEvents)).Methods(http.MethodGet)
	r.HandleFunc("/files/{name}", s.requireAuth(apiEndpoint, s.handleDownload)).Methods(http.MethodGet)
	r.HandleFunc("/delete/{name}", s.requireAuth(apiEndpoint, s.handleDelete)).Methods(http.MethodPost)
	r.HandleFunc("/rename/{name}", s.requireAuth(apiEndpoint, s.handleRename)).Methods(http.MethodPost)

	r.PathPrefix("/static/").Handler(http.StripPrefix("/static/", s.staticHandler())).Methods(http.MethodGet)

	// Wrapping the router rather than r.Use also covers 404 and 405 replies.
	return s.logRequests(s.recoverPanics(r))
}
