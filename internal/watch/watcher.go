// Package watch reports debounced file changes in a directory.
package watch

import (
	"fmt"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

const DefaultDelay = 500 * time.Millisecond

// Filter selects the paths a watcher reports.
type Filter func(path string) bool

// ChangeHandler receives the last changed path of a burst.
type ChangeHandler func(path string)

type Option func(*Watcher)

// WithDelay sets the quiet period that ends a burst of events.
func WithDelay(d time.Duration) Option {
	return func(w *Watcher) {
		w.delay = d
	}
}

type Watcher struct {
	watcher *fsnotify.Watcher
	dir     string
	filter  Filter
	handler ChangeHandler
	delay   time.Duration
	done    chan struct{}

	mu      sync.Mutex
	pending *time.Timer
	closed  bool
}

// New starts watching dir. A nil filter reports every path.
func New(dir string, filter Filter, handler ChangeHandler, opts ...Option) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}

	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("watch directory: %w", err)
	}

	w := &Watcher{
		watcher: fsw,
		dir:     dir,
		filter:  filter,
		handler: handler,
		delay:   DefaultDelay,
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}

	go w.watch()

	return w, nil
}

func (w *Watcher) Dir() string {
	return w.dir
}

func (w *Watcher) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	if w.pending != nil {
		w.pending.Stop()
	}
	w.mu.Unlock()

	close(w.done)
	return w.watcher.Close()
}

func (w *Watcher) watch() {
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if w.shouldHandle(event) {
				w.schedule(event.Name)
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Error().Err(err).Str("dir", w.dir).Msg("watcher error")

		case <-w.done:
			return
		}
	}
}

func (w *Watcher) shouldHandle(event fsnotify.Event) bool {
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
		return false
	}
	return w.filter == nil || w.filter(event.Name)
}

// schedule restarts the quiet period; only the last path of a burst is
// delivered.
func (w *Watcher) schedule(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return
	}
	if w.pending != nil {
		w.pending.Stop()
	}
	w.pending = time.AfterFunc(w.delay, func() {
		w.handler(path)
	})
}
