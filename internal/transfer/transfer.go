// Package transfer moves file bytes between the network and disk in fixed
// 64 KiB chunks. After every chunk the owning session's activity is
// refreshed, so a long transfer keeps its session alive, and an optional
// progress hook is invoked.
package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/tonimelisma/filevault/internal/session"
)

// ChunkSize is the unit of buffering in both directions.
const ChunkSize = 64 * 1024

// Toucher refreshes session activity. *session.Store satisfies it.
type Toucher interface {
	Touch(id session.ID)
}

// ProgressFunc observes transfer progress. total is -1 when unknown. It is
// called from the transferring goroutine after each chunk.
type ProgressFunc func(transferred, total int64)

// SyncWriter is an upload destination that can commit written bytes to
// stable storage. *os.File satisfies it.
type SyncWriter interface {
	io.Writer
	Sync() error
}

// Options describes one transfer.
type Options struct {
	// SessionID is touched after every chunk. Empty disables touching.
	SessionID session.ID
	// Total is the expected size in bytes, or -1 if unknown.
	Total int64
	// Progress is optional.
	Progress ProgressFunc
}

// Engine runs chunked transfers. It is safe for concurrent use.
type Engine struct {
	sessions  Toucher
	limiter   *BandwidthLimiter
	logger    *slog.Logger
	chunkSize int
}

// NewEngine creates an Engine. sessions may be nil (no activity refresh),
// and limiter may be nil (unlimited).
func NewEngine(sessions Toucher, limiter *BandwidthLimiter, logger *slog.Logger) *Engine {
	return &Engine{
		sessions:  sessions,
		limiter:   limiter,
		logger:    logger,
		chunkSize: ChunkSize,
	}
}

// Upload copies src into dst, syncing each chunk to stable storage before
// reading the next. It returns the number of bytes committed.
func (e *Engine) Upload(ctx context.Context, dst SyncWriter, src io.Reader, opts Options) (int64, error) {
	n, err := e.run(ctx, dst, src, dst.Sync, opts)
	if err != nil {
		return n, fmt.Errorf("upload: %w", err)
	}

	return n, nil
}

// Download copies src to dst, flushing each chunk to the client before
// reading the next. dst is typically an http.ResponseWriter.
func (e *Engine) Download(ctx context.Context, dst io.Writer, src io.Reader, opts Options) (int64, error) {
	n, err := e.run(ctx, dst, src, flusherFor(dst), opts)
	if err != nil {
		return n, fmt.Errorf("download: %w", err)
	}

	return n, nil
}

func (e *Engine) run(
	ctx context.Context, dst io.Writer, src io.Reader, commit func() error, opts Options,
) (int64, error) {
	buf := make([]byte, e.chunkSize)

	var done int64

	for {
		if err := ctx.Err(); err != nil {
			return done, err
		}

		n, readErr := readChunk(src, buf)
		if n > 0 {
			if err := e.limiter.WaitN(ctx, n); err != nil {
				return done, err
			}

			if _, err := dst.Write(buf[:n]); err != nil {
				return done, fmt.Errorf("writing chunk: %w", err)
			}

			if err := commit(); err != nil {
				return done, fmt.Errorf("committing chunk: %w", err)
			}

			done += int64(n)
			e.afterChunk(done, opts)
		}

		switch {
		case readErr == nil:
			continue
		case errors.Is(readErr, io.EOF):
			e.logger.Debug("transfer complete", slog.Int64("bytes", done))

			return done, nil
		default:
			return done, fmt.Errorf("reading chunk: %w", readErr)
		}
	}
}

// readChunk fills buf from src and passes src's error through unchanged.
// Unlike io.ReadFull it never turns a short read into io.ErrUnexpectedEOF,
// so a truncated request body stays distinguishable from a clean io.EOF.
func readChunk(src io.Reader, buf []byte) (int, error) {
	n := 0

	for n < len(buf) {
		m, err := src.Read(buf[n:])
		n += m

		if err != nil {
			return n, err
		}
	}

	return n, nil
}

func (e *Engine) afterChunk(done int64, opts Options) {
	if e.sessions != nil && opts.SessionID != "" {
		e.sessions.Touch(opts.SessionID)
	}

	if opts.Progress != nil {
		opts.Progress(done, opts.Total)
	}
}

// flusherFor returns the per-chunk commit step for a download destination.
// Response writers are flushed through http.ResponseController so wrapped
// writers work as long as they implement Unwrap.
func flusherFor(w io.Writer) func() error {
	switch dst := w.(type) {
	case http.ResponseWriter:
		rc := http.NewResponseController(dst)

		return func() error {
			if err := rc.Flush(); err != nil && !errors.Is(err, http.ErrNotSupported) {
				return err
			}

			return nil
		}
	case interface{ Flush() error }:
		return dst.Flush
	default:
		return func() error { return nil }
	}
}
