package server

import (
	"embed"
	"fmt"
	"html/template"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/tonimelisma/filevault/internal/vault"
)

//go:embed web/templates/*.html
var templateFS embed.FS

//go:embed web/static
var staticFS embed.FS

type pageRenderer struct {
	tmpl *template.Template
}

func newPageRenderer() (*pageRenderer, error) {
	tmpl, err := template.New("pages").Funcs(template.FuncMap{
		"size": humanSize,
		"when": func(f vault.FileInfo) string { return f.Modified.Format(listTimeFormat) },
	}).ParseFS(templateFS, "web/templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("server: parsing templates: %w", err)
	}

	return &pageRenderer{tmpl: tmpl}, nil
}

type indexPage struct {
	Username string
	Files    []vault.FileInfo
	Events   bool
}

type uploadPage struct {
	Username string
}

func (s *Server) renderPage(w http.ResponseWriter, r *http.Request, name string, data any) {
	var buf strings.Builder

	if err := s.pages.tmpl.ExecuteTemplate(&buf, name, data); err != nil {
		s.writeError(w, r, fmt.Errorf("rendering %s: %w", name, err))

		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")

	if _, err := w.Write([]byte(buf.String())); err != nil {
		s.logger.Debug("writing page", slog.String("error", err.Error()))
	}
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	files, err := s.vault.List()
	if err != nil {
		s.writeError(w, r, err)

		return
	}

	s.renderPage(w, r, "index.html", indexPage{
		Username: identityFrom(r.Context()).username,
		Files:    files,
		Events:   s.hub != nil,
	})
}

func (s *Server) handleUploadPage(w http.ResponseWriter, r *http.Request) {
	s.renderPage(w, r, "upload.html", uploadPage{Username: identityFrom(r.Context()).username})
}

// staticHandler serves assets from StaticDir when it exists, otherwise from
// the embedded copy. Directory listings are never served.
func (s *Server) staticHandler() http.Handler {
	var root http.FileSystem

	if info, err := os.Stat(s.staticDir); s.staticDir != "" && err == nil && info.IsDir() {
		s.logger.Info("serving static assets from disk", slog.String("dir", s.staticDir))
		root = http.Dir(s.staticDir)
	} else {
		sub, subErr := fs.Sub(staticFS, "web/static")
		if subErr != nil {
			panic(subErr) // embedded path is fixed at build time
		}

		root = http.FS(sub)
	}

	files := http.FileServer(root)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "" || strings.HasSuffix(r.URL.Path, "/") {
			http.NotFound(w, r)

			return
		}

		files.ServeHTTP(w, r)
	})
}

// humanSize formats a byte count with binary units.
func humanSize(n int64) string {
	const unit = 1024

	if n < unit {
		return fmt.Sprintf("%d B", n)
	}

	div, exp := int64(unit), 0
	for m := n / unit; m >= unit && exp < 3; m /= unit {
		div *= unit
		exp++
	}

	return fmt.Sprintf("%.1f %cB", float64(n)/float64(div), "KMGT"[exp])
}
