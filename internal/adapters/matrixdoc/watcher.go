package matrixdoc

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/ghalamif/AegisFleet/internal/ports"
)

const defaultDebounce = 100 * time.Millisecond

// Watcher recompiles a scheme document whenever it changes on disk and hands
// the new matrix to a processor. Invalid documents are logged and the
// previous matrix stays active.
type Watcher struct {
	path     string
	target   ports.ActiveConditionProcessor
	obs      ports.Observability
	debounce time.Duration

	watcher *fsnotify.Watcher
	cancel  context.CancelFunc
	done    chan struct{}

	mu      sync.Mutex
	timer   *time.Timer
	current *Document
}

func NewWatcher(path string, target ports.ActiveConditionProcessor, obs ports.Observability) *Watcher {
	return &Watcher{path: path, target: target, obs: obs, debounce: defaultDebounce}
}

// Current returns the last document that compiled successfully.
func (w *Watcher) Current() *Document {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Reload loads the document once and applies it.
func (w *Watcher) Reload() error {
	m, doc, err := LoadFile(w.path)
	if err != nil {
		w.obs.IncCounter("aegis_matrix_reload_errors_total", 1)
		w.obs.LogError("matrix reload failed", err, ports.Field{Key: "path", Value: w.path})
		return err
	}
	w.mu.Lock()
	w.current = doc
	w.mu.Unlock()

	w.target.OnChangeInspectionMatrix(m)
	w.obs.IncCounter("aegis_matrix_reloads_total", 1)
	w.obs.LogInfo("matrix loaded",
		ports.Field{Key: "path", Value: w.path},
		ports.Field{Key: "conditions", Value: len(m.Conditions)},
	)
	return nil
}

// Start applies the current document and watches its directory until ctx is
// done or Close is called. A missing or invalid document at start is an
// error.
func (w *Watcher) Start(ctx context.Context) error {
	if err := w.Reload(); err != nil {
		return err
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	// Editors replace files by rename, so the directory is watched.
	if err := fw.Add(filepath.Dir(w.path)); err != nil {
		fw.Close()
		return fmt.Errorf("watch directory: %w", err)
	}
	ctx, cancel := context.WithCancel(ctx)
	w.watcher = fw
	w.cancel = cancel
	w.done = make(chan struct{})
	go w.loop(ctx)
	return nil
}

func (w *Watcher) loop(ctx context.Context) {
	defer close(w.done)
	defer w.watcher.Close()
	name := filepath.Base(w.path)
	for {
		select {
		case <-ctx.Done():
			w.mu.Lock()
			if w.timer != nil {
				w.timer.Stop()
			}
			w.mu.Unlock()
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(ev.Name) != name {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.mu.Lock()
			if w.timer != nil {
				w.timer.Stop()
			}
			w.timer = time.AfterFunc(w.debounce, func() {
				if ctx.Err() == nil {
					_ = w.Reload()
				}
			})
			w.mu.Unlock()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.obs.LogError("matrix watcher", err, ports.Field{Key: "path", Value: w.path})
		}
	}
}

// Close stops watching. It is safe to call without Start.
func (w *Watcher) Close() error {
	if w.cancel == nil {
		return nil
	}
	w.cancel()
	<-w.done
	return nil
}
