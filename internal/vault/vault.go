// Package vault stores uploaded files as regular files directly under one
// root directory. Every name that arrives from a client passes through
// SanitizeName, so no operation can reach outside the root.
//
// A single coarse lock serialises the check-then-act windows of Save,
// Remove, and Rename. It is never held while file bytes move.
package vault

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"mime"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/tonimelisma/filevault/internal/transfer"
)

const (
	rootPermissions = 0o750
	filePermissions = 0o640

	// maxCollisionAttempts bounds the numeric suffix search in Save.
	maxCollisionAttempts = 10000

	defaultMIMEType = "application/octet-stream"
)

// FileInfo describes one stored file.
type FileInfo struct {
	Name     string
	Size     int64
	Modified time.Time
}

// SaveResult reports where an upload landed.
type SaveResult struct {
	Name string
	Size int64
}

// Download is an open stored file ready to stream. The caller must Close it.
type Download struct {
	File     *os.File
	Name     string
	Size     int64
	Modified time.Time
	MIMEType string
}

// Close releases the underlying file.
func (d *Download) Close() error {
	return d.File.Close()
}

// Vault is the file store. It is safe for concurrent use.
type Vault struct {
	root   string
	engine *transfer.Engine
	logger *slog.Logger

	mu sync.Mutex
}

// New creates the root directory if needed and returns a Vault over it.
func New(root string, engine *transfer.Engine, logger *slog.Logger) (*Vault, error) {
	if err := os.MkdirAll(root, rootPermissions); err != nil {
		return nil, fmt.Errorf("vault: creating root %s: %w", root, err)
	}

	return &Vault{root: root, engine: engine, logger: logger}, nil
}

// Root returns the vault directory.
func (v *Vault) Root() string {
	return v.root
}

// List returns the regular files directly under the root, sorted by name
// case-insensitively. A missing root is recreated and reported empty.
func (v *Vault) List() ([]FileInfo, error) {
	entries, err := os.ReadDir(v.root)
	if errors.Is(err, fs.ErrNotExist) {
		v.logger.Warn("vault root missing, recreating", slog.String("root", v.root))

		if mkErr := os.MkdirAll(v.root, rootPermissions); mkErr != nil {
			return nil, opErr("list", "", ErrIO, mkErr)
		}

		return []FileInfo{}, nil
	}

	if err != nil {
		return nil, opErr("list", "", ErrIO, err)
	}

	files := make([]FileInfo, 0, len(entries))

	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			// Removed between ReadDir and Info.
			continue
		}

		files = append(files, FileInfo{
			Name:     entry.Name(),
			Size:     info.Size(),
			Modified: info.ModTime(),
		})
	}

	sort.Slice(files, func(i, j int) bool {
		a, b := strings.ToLower(files[i].Name), strings.ToLower(files[j].Name)
		if a != b {
			return a < b
		}

		return files[i].Name < files[j].Name
	})

	return files, nil
}

// Save stores src under a sanitized form of desiredName. If that name is
// taken, the first free "<stem>_<n><ext>" (n = 1, 2, ...) is used. The name
// is reserved by exclusive creation under the lock; the bytes are then
// streamed with the lock released. A transfer that fails part way leaves
// the partial file in place under its final name.
func (v *Vault) Save(ctx context.Context, desiredName string, src io.Reader, opts transfer.Options) (*SaveResult, error) {
	name, err := SanitizeName(desiredName)
	if err != nil {
		return nil, err
	}

	f, finalName, err := v.reserve(name)
	if err != nil {
		return nil, err
	}

	n, copyErr := v.engine.Upload(ctx, f, src, opts)
	closeErr := f.Close()

	if copyErr != nil {
		v.logger.Warn("upload aborted, partial file left in vault",
			slog.String("name", finalName),
			slog.Int64("bytes", n),
			slog.String("error", copyErr.Error()),
		)

		return nil, opErr("save", finalName, ErrIO, copyErr)
	}

	if closeErr != nil {
		return nil, opErr("save", finalName, ErrIO, closeErr)
	}

	v.logger.Info("file saved",
		slog.String("name", finalName),
		slog.Int64("bytes", n),
	)

	return &SaveResult{Name: finalName, Size: n}, nil
}

// reserve creates an empty file for name or its first free numbered variant.
func (v *Vault) reserve(name string) (*os.File, string, error) {
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)

	v.mu.Lock()
	defer v.mu.Unlock()

	candidate := name

	for attempt := 1; attempt <= maxCollisionAttempts; attempt++ {
		f, err := os.OpenFile(v.path(candidate), os.O_WRONLY|os.O_CREATE|os.O_EXCL, filePermissions)
		if err == nil {
			return f, candidate, nil
		}

		if !errors.Is(err, fs.ErrExist) {
			return nil, "", opErr("save", candidate, ErrIO, err)
		}

		candidate = numbered(stem, ext, attempt)
	}

	return nil, "", opErr("save", name, ErrConflict, nil)
}

// numbered builds the collision variant stem_N.ext, cutting the stem so the
// result still fits in maxNameBytes.
func numbered(stem, ext string, attempt int) string {
	suffix := "_" + strconv.Itoa(attempt)
	if over := len(stem) + len(suffix) + len(ext) - maxNameBytes; over > 0 {
		stem = stem[:max(len(stem)-over, 0)]
	}

	return stem + suffix + ext
}

// Remove deletes a stored file.
func (v *Vault) Remove(rawName string) error {
	name, err := SanitizeName(rawName)
	if err != nil {
		return err
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	if err := v.requireRegular("remove", name); err != nil {
		return err
	}

	if err := os.Remove(v.path(name)); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return opErr("remove", name, ErrNotFound, nil)
		}

		return opErr("remove", name, ErrIO, err)
	}

	v.logger.Info("file removed", slog.String("name", name))

	return nil
}

// Rename moves oldRaw to newRaw within the root. It never overwrites: if
// the target exists the result is a conflict. The rename itself is atomic.
func (v *Vault) Rename(oldRaw, newRaw string) (string, error) {
	oldName, err := SanitizeName(oldRaw)
	if err != nil {
		return "", err
	}

	newName, err := SanitizeName(newRaw)
	if err != nil {
		return "", err
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	if err := v.requireRegular("rename", oldName); err != nil {
		return "", err
	}

	if _, err := os.Lstat(v.path(newName)); err == nil {
		return "", opErr("rename", newName, ErrConflict, nil)
	} else if !errors.Is(err, fs.ErrNotExist) {
		return "", opErr("rename", newName, ErrIO, err)
	}

	if err := os.Rename(v.path(oldName), v.path(newName)); err != nil {
		return "", opErr("rename", oldName, ErrIO, err)
	}

	v.logger.Info("file renamed",
		slog.String("from", oldName),
		slog.String("to", newName),
	)

	return newName, nil
}

// Open returns a stored file, its size, and its MIME type for streaming.
func (v *Vault) Open(rawName string) (*Download, error) {
	name, err := SanitizeName(rawName)
	if err != nil {
		return nil, err
	}

	// Lstat first so a symlink planted in the root is never followed.
	if err := v.requireRegular("open", name); err != nil {
		return nil, err
	}

	f, err := os.Open(v.path(name))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, opErr("open", name, ErrNotFound, nil)
	}

	if err != nil {
		return nil, opErr("open", name, ErrIO, err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()

		return nil, opErr("open", name, ErrIO, err)
	}

	if !info.Mode().IsRegular() {
		f.Close()

		return nil, opErr("open", name, ErrNotFound, nil)
	}

	return &Download{
		File:     f,
		Name:     name,
		Size:     info.Size(),
		Modified: info.ModTime(),
		MIMEType: mimeType(name),
	}, nil
}

// Stream copies an open download to dst through the transfer engine.
func (v *Vault) Stream(ctx context.Context, dst io.Writer, d *Download, opts transfer.Options) (int64, error) {
	if opts.Total == 0 {
		opts.Total = d.Size
	}

	n, err := v.engine.Download(ctx, dst, d.File, opts)
	if err != nil {
		return n, opErr("download", d.Name, ErrIO, err)
	}

	return n, nil
}

// requireRegular reports NotFound unless name is a regular file. Caller
// holds v.mu.
func (v *Vault) requireRegular(op, name string) error {
	info, err := os.Lstat(v.path(name))
	if errors.Is(err, fs.ErrNotExist) {
		return opErr(op, name, ErrNotFound, nil)
	}

	if err != nil {
		return opErr(op, name, ErrIO, err)
	}

	if !info.Mode().IsRegular() {
		return opErr(op, name, ErrNotFound, nil)
	}

	return nil
}

// path joins a sanitized name onto the root.
func (v *Vault) path(name string) string {
	return filepath.Join(v.root, name)
}

func mimeType(name string) string {
	if t := mime.TypeByExtension(filepath.Ext(name)); t != "" {
		return t
	}

	return defaultMIMEType
}
