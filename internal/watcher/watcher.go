// Package watcher ingests files dropped into an inbox directory laid out as
// <inbox>/<tenant>/<dataset>/<file>, using fsnotify with per-file debouncing.
package watcher

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/hyperjump/raglite/internal/indexer"
	"github.com/hyperjump/raglite/pkg/utils"
)

const defaultDebounce = 400 * time.Millisecond

// Acceptor takes a file into a tenant's dataset.
type Acceptor interface {
	AcceptFile(ctx context.Context, tenantID, datasetID, path, embedder string) (*indexer.Accepted, error)
}

// Watcher watches the inbox and hands settled files to an Acceptor. Accepted and
// duplicate files are removed from the inbox; files that fail stay for inspection.
type Watcher struct {
	inbox       string
	extensions  []string
	acceptor    Acceptor
	debounce    time.Duration
	keep        bool
	watcher     *fsnotify.Watcher
	mu          sync.Mutex
	debounceMap map[string]*time.Timer
	done        chan struct{}
	started     bool
	stopOnce    sync.Once
	logger      *zap.Logger
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(w *Watcher) { w.logger = utils.OrNop(l) }
}

// WithDebounce sets how long a file must stay unchanged before it is accepted.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) { w.debounce = d }
}

// KeepFiles leaves accepted files in the inbox.
func KeepFiles() Option {
	return func(w *Watcher) { w.keep = true }
}

// New creates a watcher for inbox. extensions filter which files are accepted (empty = all).
func New(inbox string, extensions []string, acceptor Acceptor, opts ...Option) *Watcher {
	w := &Watcher{
		inbox:       filepath.Clean(inbox),
		extensions:  extensions,
		acceptor:    acceptor,
		debounce:    defaultDebounce,
		debounceMap: make(map[string]*time.Timer),
		done:        make(chan struct{}),
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Start creates the inbox if needed, watches it recursively and accepts files already
// present. It returns once watching has begun; events are handled until ctx is
// cancelled or Stop is called.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.started {
		w.mu.Unlock()
		return nil
	}
	if err := os.MkdirAll(w.inbox, 0o755); err != nil {
		w.mu.Unlock()
		return err
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		w.mu.Unlock()
		return err
	}
	if err := addTree(fw, w.inbox); err != nil {
		_ = fw.Close()
		w.mu.Unlock()
		return err
	}
	w.watcher = fw
	w.started = true
	w.mu.Unlock()

	w.logger.Info("inbox watcher started", zap.String("inbox", w.inbox), zap.Strings("extensions", w.extensions))
	go w.run(ctx, fw)
	w.syncDirectory(ctx, w.inbox)
	return nil
}

func addTree(fw *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return fw.Add(path)
		}
		return nil
	})
}

func (w *Watcher) run(ctx context.Context, fw *fsnotify.Watcher) {
	for {
		select {
		case <-ctx.Done():
			w.Stop()
			return
		case <-w.done:
			return
		case ev, ok := <-fw.Events:
			if !ok {
				return
			}
			w.handleEvent(ctx, ev)
		case err, ok := <-fw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watcher error", zap.Error(err))
		}
	}
}

func (w *Watcher) handleEvent(ctx context.Context, ev fsnotify.Event) {
	path := ev.Name
	if !inDir(w.inbox, path) {
		return
	}
	w.logger.Debug("watcher event", zap.String("op", ev.Op.String()), zap.String("path", path))
	switch {
	case ev.Has(fsnotify.Create), ev.Has(fsnotify.Write):
		info, err := os.Stat(path)
		if err != nil {
			return
		}
		if info.IsDir() {
			w.handleNewDirectory(ctx, path)
			return
		}
		if w.matchExtension(path) {
			w.debounceAccept(ctx, path)
		}
	case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
		w.cancelDebounce(path)
	}
}

// handleNewDirectory watches a directory created or moved into the inbox and accepts
// the files it already holds.
func (w *Watcher) handleNewDirectory(ctx context.Context, dirPath string) {
	w.mu.Lock()
	fw := w.watcher
	w.mu.Unlock()
	if fw == nil {
		return
	}
	if err := addTree(fw, dirPath); err != nil {
		w.logger.Warn("watcher failed to add directory", zap.String("path", dirPath), zap.Error(err))
	}
	w.syncDirectory(ctx, dirPath)
}

// Route splits a file path under inbox into its tenant and dataset. ok is false for
// files that are not exactly two directories below the inbox.
func Route(inbox, path string) (tenantID, datasetID string, ok bool) {
	rel, err := filepath.Rel(filepath.Clean(inbox), filepath.Clean(path))
	if err != nil {
		return "", "", false
	}
	parts := strings.Split(filepath.ToSlash(rel), "/")
	if len(parts) != 3 || parts[0] == ".." || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}

func inDir(dir, path string) bool {
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

func (w *Watcher) matchExtension(path string) bool {
	return matchExtension(path, w.extensions)
}

func matchExtension(path string, extensions []string) bool {
	if strings.HasPrefix(filepath.Base(path), ".") {
		return false
	}
	if len(extensions) == 0 {
		return true
	}
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	for _, e := range extensions {
		if strings.TrimPrefix(strings.ToLower(e), ".") == ext {
			return true
		}
	}
	return false
}

func (w *Watcher) debounceAccept(ctx context.Context, path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.debounceMap[path]; ok {
		t.Stop()
	}
	w.debounceMap[path] = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		delete(w.debounceMap, path)
		w.mu.Unlock()
		w.accept(ctx, path)
	})
}

func (w *Watcher) cancelDebounce(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.debounceMap[path]; ok {
		t.Stop()
		delete(w.debounceMap, path)
	}
}

// accept hands one settled file to the acceptor.
func (w *Watcher) accept(ctx context.Context, path string) {
	if ctx.Err() != nil {
		return
	}
	tenantID, datasetID, ok := Route(w.inbox, path)
	if !ok {
		w.logger.Debug("ignoring file outside <tenant>/<dataset>", zap.String("path", path))
		return
	}
	if _, err := os.Stat(path); err != nil {
		return
	}
	fields := []zap.Field{zap.String("path", path), zap.String("tenant_id", tenantID), zap.String("dataset_id", datasetID)}
	acc, err := w.acceptor.AcceptFile(ctx, tenantID, datasetID, path, "")
	switch {
	case errors.Is(err, indexer.ErrDuplicate):
		w.logger.Info("inbox file is a duplicate", fields...)
	case acc == nil:
		w.logger.Warn("inbox file rejected", append(fields, zap.Error(err))...)
		return
	case err != nil:
		w.logger.Warn("inbox file accepted but ingest failed", append(fields, zap.String("job_id", acc.Job.ID), zap.Error(err))...)
	default:
		w.logger.Info("inbox file accepted", append(fields, zap.String("document_id", acc.Document.ID), zap.String("job_id", acc.Job.ID))...)
	}
	if w.keep {
		return
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		w.logger.Warn("failed to remove inbox file", zap.String("path", path), zap.Error(err))
	}
}

func (w *Watcher) syncDirectory(ctx context.Context, root string) {
	w.logger.Debug("watcher syncing directory", zap.String("root", root))
	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() && w.matchExtension(path) {
			w.accept(ctx, path)
		}
		return nil
	})
}

// Stop stops the watcher and releases resources. Pending debounced files are dropped.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		w.mu.Lock()
		defer w.mu.Unlock()
		for p, t := range w.debounceMap {
			t.Stop()
			delete(w.debounceMap, p)
		}
		close(w.done)
		if w.watcher != nil {
			_ = w.watcher.Close()
		}
	})
}
