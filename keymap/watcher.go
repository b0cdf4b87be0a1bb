package keymap

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const reloadDebounce = 100 * time.Millisecond

// Watcher reloads a keymap file when it changes on disk.
type Watcher struct {
	path   string
	logger *slog.Logger

	mu       sync.Mutex
	current  *Keymap
	onChange []func(*Keymap)
	timer    *time.Timer

	fsw     *fsnotify.Watcher
	errChan chan error
	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
}

// Watch loads path and starts watching its directory. Editors that replace
// the file instead of writing it in place are handled too.
func Watch(path string, logger *slog.Logger) (*Watcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	km, err := Load(path)
	if err != nil {
		return nil, err
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if err := fsw.Add(filepath.Dir(path)); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("watch directory: %w", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	w := &Watcher{
		path:    path,
		logger:  logger,
		current: km,
		fsw:     fsw,
		errChan: make(chan error, 1),
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	go w.loop()
	return w, nil
}

// Keymap returns the last successfully loaded keymap.
func (w *Watcher) Keymap() *Keymap {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// OnChange registers a callback run after each successful reload.
func (w *Watcher) OnChange(fn func(*Keymap)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onChange = append(w.onChange, fn)
}

// Errors reports watch and reload errors. Errors are dropped while the
// channel is full.
func (w *Watcher) Errors() <-chan error { return w.errChan }

// Close stops watching.
func (w *Watcher) Close() error {
	w.cancel()
	err := w.fsw.Close()
	<-w.done
	w.mu.Lock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.mu.Unlock()
	return err
}

func (w *Watcher) loop() {
	defer close(w.done)
	name := filepath.Base(w.path)
	for {
		select {
		case <-w.ctx.Done():
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if filepath.Base(ev.Name) != name {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			w.mu.Lock()
			if w.timer != nil {
				w.timer.Stop()
			}
			w.timer = time.AfterFunc(reloadDebounce, w.reload)
			w.mu.Unlock()
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.report(err)
		}
	}
}

func (w *Watcher) reload() {
	if w.ctx.Err() != nil {
		return
	}
	km, err := Load(w.path)
	if err != nil {
		w.logger.Warn("Keymap reload failed, keeping previous", "path", w.path, "error", err)
		w.report(err)
		return
	}
	w.mu.Lock()
	w.current = km
	cbs := append([]func(*Keymap){}, w.onChange...)
	w.mu.Unlock()

	w.logger.Info("Keymap reloaded", "path", w.path, "layers", len(km.Layers))
	for _, cb := range cbs {
		cb(km)
	}
}

func (w *Watcher) report(err error) {
	select {
	case w.errChan <- err:
	default:
	}
}
