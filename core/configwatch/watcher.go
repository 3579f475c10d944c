// Package configwatch polls files and directories and reports changes.
package configwatch

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// Watcher polls its sources at a fixed interval and invokes a callback when
// a source's fingerprint changes.
type Watcher struct {
	interval time.Duration
	logger   *slog.Logger

	mu      sync.Mutex
	entries []watchEntry
}

type watchEntry struct {
	path        string
	fingerprint func() string
	last        string
	cb          func(path string)
}

// New creates a Watcher that polls at the given interval.
func New(interval time.Duration, logger *slog.Logger) *Watcher {
	return &Watcher{
		interval: interval,
		logger:   logger,
	}
}

// Watch reports changes to one file's modification time or size. The file
// does not need to exist at watch time. A missing file is not a change.
func (w *Watcher) Watch(path string, cb func(path string)) {
	w.add(path, func() string { return fileFingerprint(path) }, cb)
}

// WatchDir reports changes to the set of files in dir matching pattern:
// a file added, removed or modified.
func (w *Watcher) WatchDir(dir, pattern string, cb func(dir string)) {
	w.add(dir, func() string { return dirFingerprint(dir, pattern) }, cb)
}

func (w *Watcher) add(path string, fp func() string, cb func(string)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.entries = append(w.entries, watchEntry{path: path, fingerprint: fp, last: fp(), cb: cb})
}

// Run polls until the context is cancelled. It blocks, so call it in a goroutine.
func (w *Watcher) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.poll()
		}
	}
}

func (w *Watcher) poll() {
	w.mu.Lock()
	defer w.mu.Unlock()

	for i := range w.entries {
		e := &w.entries[i]
		current := e.fingerprint()

		// Skip if missing (may be mid-save) or unchanged.
		if current == "" || current == e.last {
			continue
		}

		e.last = current
		w.logger.Info("watched path changed", "path", e.path)
		e.cb(e.path)
	}
}

// fileFingerprint returns the file's modification time and size, or "" if
// it can't be read.
func fileFingerprint(path string) string {
	info, err := os.Stat(path)
	if err != nil {
		return ""
	}
	return fmt.Sprintf("%d:%d", info.ModTime().UnixNano(), info.Size())
}

// dirFingerprint combines the fingerprints of every matching file, or ""
// if the directory can't be read.
func dirFingerprint(dir, pattern string) string {
	if _, err := os.Stat(dir); err != nil {
		return ""
	}
	paths, err := filepath.Glob(filepath.Join(dir, pattern))
	if err != nil {
		return ""
	}
	sort.Strings(paths)

	var b strings.Builder
	b.WriteString("dir;")
	for _, p := range paths {
		b.WriteString(filepath.Base(p))
		b.WriteByte('=')
		b.WriteString(fileFingerprint(p))
		b.WriteByte(';')
	}
	return b.String()
}
