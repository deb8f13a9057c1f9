package events

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Backoff bounds for sustained watcher errors (e.g. kernel queue overflow).
const (
	watchErrInitBackoff = 100 * time.Millisecond
	watchErrMaxBackoff  = 10 * time.Second
	watchErrBackoffMult = 2
)

// renamePairWindow is how long a name that was moved away waits for the
// matching create before it is reported as removed.
const renamePairWindow = 100 * time.Millisecond

// FsWatcher abstracts fsnotify.Watcher so tests can inject events.
type FsWatcher interface {
	Add(name string) error
	Close() error
	Events() <-chan fsnotify.Event
	Errors() <-chan error
}

type fsnotifyWatcher struct {
	w *fsnotify.Watcher
}

func (f fsnotifyWatcher) Add(name string) error         { return f.w.Add(name) }
func (f fsnotifyWatcher) Close() error                  { return f.w.Close() }
func (f fsnotifyWatcher) Events() <-chan fsnotify.Event { return f.w.Events }
func (f fsnotifyWatcher) Errors() <-chan error          { return f.w.Errors }

func newFsnotifyWatcher() (FsWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	return fsnotifyWatcher{w: w}, nil
}

// Publisher receives change events. *Hub satisfies it.
type Publisher interface {
	Publish(ev Event)
}

// Watcher reports files appearing in, leaving, or renamed within the vault
// root. It does not recurse: the vault is flat. Writes and permission
// changes are ignored, so an upload is reported once when its file is
// created. A rename arrives from fsnotify as Rename(old) followed by
// Create(new); the two are paired into one renamed event.
type Watcher struct {
	root       string
	pub        Publisher
	logger     *slog.Logger
	now        func() time.Time
	newWatcher func() (FsWatcher, error)

	// pending is a name moved away and not yet paired. Only the Run
	// goroutine touches it.
	pending      string
	pendingTimer *time.Timer
}

// NewWatcher creates a Watcher for root publishing to pub.
func NewWatcher(root string, pub Publisher, logger *slog.Logger) *Watcher {
	return &Watcher{
		root:       filepath.Clean(root),
		pub:        pub,
		logger:     logger,
		now:        time.Now,
		newWatcher: newFsnotifyWatcher,
	}
}

// Run watches until ctx is done. It returns an error only if the watch
// cannot be established.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := w.newWatcher()
	if err != nil {
		return fmt.Errorf("events: creating watcher: %w", err)
	}
	defer fw.Close()

	if err := fw.Add(w.root); err != nil {
		return fmt.Errorf("events: watching %s: %w", w.root, err)
	}

	w.logger.Info("watching vault for changes", slog.String("root", w.root))

	defer w.clearPending()

	backoff := watchErrInitBackoff

	for {
		select {
		case <-ctx.Done():
			return nil

		case <-w.pendingExpired():
			w.flushPending()

		case ev, ok := <-fw.Events():
			if !ok {
				return nil
			}

			w.handle(ev)

			backoff = watchErrInitBackoff

		case watchErr, ok := <-fw.Errors():
			if !ok {
				return nil
			}

			w.logger.Warn("filesystem watcher error",
				slog.String("error", watchErr.Error()),
				slog.Duration("backoff", backoff),
			)

			select {
			case <-ctx.Done():
				return nil
			case <-time.After(backoff):
			}

			backoff = min(backoff*watchErrBackoffMult, watchErrMaxBackoff)
		}
	}
}

// handle maps one fsnotify event onto a vault change.
func (w *Watcher) handle(ev fsnotify.Event) {
	if filepath.Dir(filepath.Clean(ev.Name)) != w.root {
		return
	}

	name := filepath.Base(ev.Name)

	switch {
	case ev.Has(fsnotify.Create):
		info, err := os.Lstat(ev.Name)
		if err != nil || !info.Mode().IsRegular() {
			// Gone already, or a directory/symlink the vault never lists.
			return
		}

		if w.pending != "" {
			from := w.pending
			w.clearPending()
			w.publish(Event{Kind: KindRenamed, Name: name, From: from})

			return
		}

		w.publish(Event{Kind: KindCreated, Name: name})

	case ev.Has(fsnotify.Rename):
		w.flushPending()
		w.pending = name
		w.pendingTimer = time.NewTimer(renamePairWindow)

	case ev.Has(fsnotify.Remove):
		w.flushPending()
		w.publish(Event{Kind: KindRemoved, Name: name})
	}
}

// pendingExpired fires when an unpaired rename has waited long enough. It
// is nil, and so never ready, when nothing is pending.
func (w *Watcher) pendingExpired() <-chan time.Time {
	if w.pendingTimer == nil {
		return nil
	}

	return w.pendingTimer.C
}

// flushPending reports an unpaired rename as a removal: the file left the
// vault root.
func (w *Watcher) flushPending() {
	if w.pending == "" {
		return
	}

	name := w.pending
	w.clearPending()
	w.publish(Event{Kind: KindRemoved, Name: name})
}

func (w *Watcher) clearPending() {
	if w.pendingTimer != nil {
		w.pendingTimer.Stop()
	}

	w.pending = ""
	w.pendingTimer = nil
}

func (w *Watcher) publish(ev Event) {
	ev.At = w.now()

	w.logger.Debug("vault change",
		slog.String("kind", string(ev.Kind)),
		slog.String("name", ev.Name),
		slog.String("from", ev.From),
	)

	w.pub.Publish(ev)
}
