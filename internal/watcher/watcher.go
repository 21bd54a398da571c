// Package watcher observes the vault directory tree and emits debounced,
// per-path coalesced change notifications. It never reads file contents;
// interpretation is the normalizer's job.
package watcher

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Kind classifies a coalesced change.
type Kind int

const (
	Create Kind = iota
	Modify
	Remove
)

func (k Kind) String() string {
	switch k {
	case Create:
		return "create"
	case Modify:
		return "modify"
	default:
		return "remove"
	}
}

// Change is one coalesced notification for a note path (relative to root).
type Change struct {
	Path string
	Kind Kind
}

// DefaultDebounce is the per-path coalescing window.
const DefaultDebounce = 400 * time.Millisecond

// Watcher wraps fsnotify with per-path debouncing. Multiple raw
// notifications for the same path within the window collapse into one Change
// carrying the latest kind observed.
type Watcher struct {
	root     string
	debounce time.Duration
	logger   *slog.Logger

	fsw     *fsnotify.Watcher
	changes chan Change
}

type pending struct {
	kind Kind
	due  time.Time
}

// New establishes the recursive watch. Failure to establish it (missing
// directory, permissions) is returned to the caller, which owns any
// retry-with-backoff policy.
func New(root string, debounce time.Duration, logger *slog.Logger) (*Watcher, error) {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("watcher: init: %w", err)
	}
	if err := addDirsRecursive(fsw, root); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("watcher: watch %s: %w", root, err)
	}
	return &Watcher{
		root:     root,
		debounce: debounce,
		logger:   logger,
		fsw:      fsw,
		changes:  make(chan Change, 256),
	}, nil
}

// Changes returns the coalesced notification channel. It is closed when Run
// returns.
func (w *Watcher) Changes() <-chan Change { return w.changes }

// Run processes raw filesystem events until ctx is cancelled. New
// directories created at runtime are added to the watch list automatically.
func (w *Watcher) Run(ctx context.Context) error {
	defer close(w.changes)
	defer w.fsw.Close()

	w.logger.Info("watcher: started", slog.String("root", w.root))

	queue := make(map[string]*pending)
	timer := time.NewTimer(w.debounce)
	timer.Stop()

	arm := func() {
		next := time.Time{}
		for _, p := range queue {
			if next.IsZero() || p.due.Before(next) {
				next = p.due
			}
		}
		if !next.IsZero() {
			timer.Reset(time.Until(next))
		}
	}

	for {
		select {
		case <-ctx.Done():
			timer.Stop()
			w.logger.Info("watcher: stopped")
			return nil

		case <-timer.C:
			now := time.Now()
			for path, p := range queue {
				if p.due.After(now) {
					continue
				}
				delete(queue, path)
				select {
				case w.changes <- Change{Path: path, Kind: p.kind}:
				case <-ctx.Done():
					return nil
				}
			}
			arm()

		case ev, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			if kind, path, relevant := w.classify(ev); relevant {
				queue[path] = &pending{kind: kind, due: time.Now().Add(w.debounce)}
				arm()
			}

		case watchErr, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Error("watcher: error", slog.String("error", watchErr.Error()))
		}
	}
}

// classify maps a raw fsnotify event onto a (kind, relative path) pair and
// reports whether the event concerns a watchable note.
func (w *Watcher) classify(ev fsnotify.Event) (Kind, string, bool) {
	absPath := ev.Name

	// New directories are added to the watch list, never emitted.
	if ev.Op&fsnotify.Create != 0 {
		if info, statErr := os.Stat(absPath); statErr == nil && info.IsDir() {
			if addErr := addDirsRecursive(w.fsw, absPath); addErr != nil {
				w.logger.Warn("watcher: add new dir failed",
					slog.String("path", absPath),
					slog.String("error", addErr.Error()))
			} else {
				w.logger.Debug("watcher: watching new dir", slog.String("path", absPath))
			}
			return 0, "", false
		}
	}

	base := filepath.Base(absPath)
	if !strings.HasSuffix(base, ".md") || strings.HasPrefix(base, "_") || strings.HasPrefix(base, ".") {
		return 0, "", false
	}
	rel, relErr := filepath.Rel(w.root, absPath)
	if relErr != nil {
		return 0, "", false
	}

	switch {
	case ev.Op&fsnotify.Create != 0:
		return Create, rel, true
	case ev.Op&fsnotify.Write != 0:
		return Modify, rel, true
	case ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
		// fsnotify fires Rename on the old path only; the new path
		// arrives as a separate Create.
		return Remove, rel, true
	}
	return 0, "", false
}

// addDirsRecursive adds root and all its subdirectories to the watcher.
func addDirsRecursive(fsw *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return fsw.Add(path)
		}
		return nil
	})
}
