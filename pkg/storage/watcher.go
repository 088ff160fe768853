package storage

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const defaultDebounce = 150 * time.Millisecond

// Watcher reports keys of a File backend whose stored value changed on disk,
// typically because another process wrote them.
type Watcher struct {
	file     *File
	debounce time.Duration

	fsw *fsnotify.Watcher

	stop      chan struct{}
	done      chan struct{}
	started   bool
	closeOnce sync.Once

	mu      sync.Mutex
	timer   *time.Timer
	pending map[string]struct{}
	hashes  map[string]string

	onChange func(key string)
	onError  func(error)
}

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithDebounce overrides the default debounce window.
func WithDebounce(d time.Duration) WatcherOption {
	return func(w *Watcher) { w.debounce = d }
}

// OnChange registers a callback fired once per changed key after the
// debounce window settles.
func OnChange(fn func(key string)) WatcherOption {
	return func(w *Watcher) { w.onChange = fn }
}

// OnError registers a callback for watch and read failures.
func OnError(fn func(error)) WatcherOption {
	return func(w *Watcher) { w.onError = fn }
}

// NewWatcher wires a file watcher around the backend directory.
func NewWatcher(file *File, opts ...WatcherOption) (*Watcher, error) {
	if file == nil {
		return nil, errors.New("storage: file backend is nil")
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("storage: create watcher: %w", err)
	}
	w := &Watcher{
		file:     file,
		debounce: defaultDebounce,
		fsw:      fsw,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
		pending:  map[string]struct{}{},
		hashes:   map[string]string{},
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.debounce <= 0 {
		w.debounce = defaultDebounce
	}
	return w, nil
}

// Start records the current content hashes and begins watching. Values that
// are already on disk do not fire OnChange.
func (w *Watcher) Start(keys ...string) error {
	for _, key := range keys {
		if err := ValidateKey(key); err != nil {
			return err
		}
		w.hashes[key] = w.hash(key)
	}
	if err := w.fsw.Add(w.file.Dir()); err != nil {
		return fmt.Errorf("storage: watch %s: %w", w.file.Dir(), err)
	}
	w.started = true
	go w.loop()
	return nil
}

// Close stops file watching. It is safe to call more than once.
func (w *Watcher) Close() error {
	var err error
	w.closeOnce.Do(func() {
		close(w.stop)
		err = w.fsw.Close()
		if w.started {
			<-w.done
		}
		w.mu.Lock()
		if w.timer != nil {
			w.timer.Stop()
		}
		w.mu.Unlock()
	})
	return err
}

func (w *Watcher) loop() {
	defer close(w.done)
	for {
		select {
		case <-w.stop:
			return
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			if err != nil && w.onError != nil {
				w.onError(err)
			}
		case evt, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if evt.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if key, ok := w.file.keyFor(evt.Name); ok {
				w.schedule(key)
			}
		}
	}
}

func (w *Watcher) schedule(key string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.pending[key] = struct{}{}
	if w.timer == nil {
		w.timer = time.AfterFunc(w.debounce, w.flush)
		return
	}
	w.timer.Reset(w.debounce)
}

func (w *Watcher) flush() {
	select {
	case <-w.stop:
		return
	default:
	}
	w.mu.Lock()
	keys := make([]string, 0, len(w.pending))
	for key := range w.pending {
		keys = append(keys, key)
	}
	w.pending = map[string]struct{}{}
	w.mu.Unlock()

	for _, key := range keys {
		sum := w.hash(key)
		w.mu.Lock()
		unchanged := w.hashes[key] == sum
		w.hashes[key] = sum
		w.mu.Unlock()
		if unchanged {
			continue
		}
		if w.onChange != nil {
			w.onChange(key)
		}
	}
}

// hash fingerprints the stored value; missing keys hash to "".
func (w *Watcher) hash(key string) string {
	value, ok, err := w.file.Read(key)
	if err != nil {
		if w.onError != nil {
			w.onError(err)
		}
		return ""
	}
	if !ok {
		return ""
	}
	sum := sha256.Sum256([]byte(value))
	return hex.EncodeToString(sum[:])
}
