package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/tonimelisma/filevault/internal/audit"
	"github.com/tonimelisma/filevault/internal/transfer"
	"github.com/tonimelisma/filevault/internal/vault"
)

const (
	// uploadField is the multipart field carrying the file.
	uploadField = "file"
	// maxRenameBodyBytes caps the JSON body of a rename request.
	maxRenameBodyBytes = 16 << 10
	// listTimeFormat is the "modified" format in file listings.
	listTimeFormat = "2006-01-02 15:04:05"
)

type fileEntry struct {
	Name     string `json:"name"`
	Size     int64  `json:"size"`
	Modified string `json:"modified"`
}

type listResponse struct {
	Files []fileEntry `json:"files"`
}

type renameRequest struct {
	NewFilename string `json:"new_filename"`
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	files, err := s.vault.List()
	if err != nil {
		s.writeError(w, r, err)

		return
	}

	resp := listResponse{Files: make([]fileEntry, 0, len(files))}
	for _, f := range files {
		resp.Files = append(resp.Files, fileEntry{
			Name:     f.Name,
			Size:     f.Size,
			Modified: f.Modified.Format(listTimeFormat),
		})
	}

	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	caller := identityFrom(r.Context())

	d, err := s.vault.Open(mux.Vars(r)["name"])
	if err != nil {
		s.writeError(w, r, err)

		return
	}
	defer d.Close()

	h := w.Header()
	h.Set("Content-Type", d.MIMEType)
	h.Set("Content-Length", strconv.FormatInt(d.Size, 10))
	h.Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": d.Name}))
	h.Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(http.StatusOK)

	n, err := s.vault.Stream(r.Context(), w, d, transfer.Options{
		SessionID: caller.sessionID,
		Total:     d.Size,
		Progress:  transfer.LogProgress(s.logger, "download", d.Name),
	})
	if err != nil {
		// Headers are gone; the client sees a short body.
		s.logger.Warn("download aborted",
			slog.String("name", d.Name),
			slog.Int64("bytes", n),
			slog.Int64("size", d.Size),
			slog.String("error", err.Error()),
		)

		return
	}

	s.record(r, audit.Entry{Action: audit.ActionDownload, Name: d.Name})
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	caller := identityFrom(r.Context())

	if s.maxUpload > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload)
	}

	part, err := firstFilePart(r)
	if err != nil {
		s.writeError(w, r, err)

		return
	}
	defer part.Close()

	res, err := s.vault.Save(r.Context(), part.FileName(), part, transfer.Options{
		SessionID: caller.sessionID,
		Total:     -1,
		Progress:  transfer.LogProgress(s.logger, "upload", part.FileName()),
	})
	if err != nil {
		s.discardOversized(err)
		s.writeError(w, r, err)

		return
	}

	s.record(r, audit.Entry{
		Action: audit.ActionUpload,
		Name:   res.Name,
		Detail: strconv.FormatInt(res.Size, 10) + " bytes",
	})

	s.writeJSON(w, http.StatusCreated, successResponse{
		Success:  true,
		Message:  fmt.Sprintf("File %s uploaded successfully", res.Name),
		Filename: res.Name,
		Size:     &res.Size,
	})
}

// firstFilePart streams the multipart body up to the "file" part without
// buffering the upload in memory or on disk.
func firstFilePart(r *http.Request) (*multipart.Part, error) {
	mr, err := r.MultipartReader()
	if err != nil {
		return nil, fmt.Errorf("%w: expected a multipart/form-data body", errBadRequest)
	}

	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: no %q field in upload", errBadRequest, uploadField)
		}

		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				return nil, err
			}

			return nil, fmt.Errorf("%w: malformed multipart body: %w", errBadRequest, err)
		}

		if part.FormName() != uploadField {
			part.Close()

			continue
		}

		if part.FileName() == "" {
			part.Close()

			return nil, fmt.Errorf("%w: no file selected", errBadRequest)
		}

		return part, nil
	}
}

// discardOversized removes the partial file left by an upload that hit the
// size cap. Other aborted uploads keep their partial file.
func (s *Server) discardOversized(err error) {
	var (
		tooLarge *http.MaxBytesError
		opErr    *vault.OpError
	)

	if !errors.As(err, &tooLarge) || !errors.As(err, &opErr) {
		return
	}

	if rmErr := s.vault.Remove(opErr.Name); rmErr != nil {
		s.logger.Warn("removing oversized upload",
			slog.String("name", opErr.Name),
			slog.String("error", rmErr.Error()),
		)
	}
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	if err := s.vault.Remove(name); err != nil {
		s.writeError(w, r, err)

		return
	}

	s.record(r, audit.Entry{Action: audit.ActionDelete, Name: name})
	s.writeJSON(w, http.StatusOK, successResponse{
		Success: true,
		Message: fmt.Sprintf("File %s deleted successfully", name),
	})
}

func (s *Server) handleRename(w http.ResponseWriter, r *http.Request) {
	oldName := mux.Vars(r)["name"]

	var req renameRequest

	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRenameBodyBytes))
	if err := dec.Decode(&req); err != nil {
		s.writeError(w, r, fmt.Errorf("%w: body must be JSON with new_filename", errBadRequest))

		return
	}

	newName, err := s.vault.Rename(oldName, req.NewFilename)
	if err != nil {
		s.writeError(w, r, err)

		return
	}

	s.record(r, audit.Entry{Action: audit.ActionRename, Name: newName, Detail: "from " + oldName})
	s.writeJSON(w, http.StatusOK, successResponse{
		Success:  true,
		Message:  fmt.Sprintf("File renamed to %s", newName),
		Filename: newName,
	})
}

// record writes an audit entry for the request's caller. Failures are
// logged and never fail the request.
func (s *Server) record(r *http.Request, e audit.Entry) {
	if e.Username == "" {
		e.Username = identityFrom(r.Context()).username
	}

	e.RemoteAddr = clientAddr(r)

	if err := s.audit.Record(r.Context(), e); err != nil {
		s.logger.Warn("audit record failed",
			slog.String("action", e.Action),
			slog.String("error", err.Error()),
		)
	}
}
