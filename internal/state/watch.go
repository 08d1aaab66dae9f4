package state

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounceDelay coalesces the burst of events an atomic rename makes.
const DefaultDebounceDelay = 100 * time.Millisecond

// Watcher signals when the snapshot file changes on disk.
type Watcher struct {
	watcher *fsnotify.Watcher
	target  string
	changes chan struct{}
	errors  chan error
	done    chan struct{}

	mu            sync.Mutex
	debounceDelay time.Duration
	timer         *time.Timer
	closed        bool
}

// Watch starts watching the manager's snapshot. The state directory is
// watched rather than the file, since atomic writes replace the inode.
func Watch(m *Manager) (*Watcher, error) {
	if err := os.MkdirAll(m.dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := w.Add(m.dir); err != nil {
		w.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", m.dir, err)
	}

	fw := &Watcher{
		watcher:       w,
		target:        filepath.Clean(m.path),
		changes:       make(chan struct{}, 1),
		errors:        make(chan error, 1),
		done:          make(chan struct{}),
		debounceDelay: DefaultDebounceDelay,
	}
	go fw.processEvents()
	return fw, nil
}

func (fw *Watcher) processEvents() {
	for {
		select {
		case <-fw.done:
			return
		case event, ok := <-fw.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != fw.target {
				continue
			}
			if event.Has(fsnotify.Create) || event.Has(fsnotify.Write) || event.Has(fsnotify.Rename) {
				fw.debounce()
			}
		case err, ok := <-fw.watcher.Errors:
			if !ok {
				return
			}
			select {
			case fw.errors <- err:
			default:
			}
		}
	}
}

func (fw *Watcher) debounce() {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	if fw.closed {
		return
	}
	if fw.timer != nil {
		fw.timer.Stop()
	}
	fw.timer = time.AfterFunc(fw.debounceDelay, fw.signal)
}

func (fw *Watcher) signal() {
	select {
	case fw.changes <- struct{}{}:
	default:
	}
}

// Changes delivers one coalesced signal per burst of snapshot writes.
func (fw *Watcher) Changes() <-chan struct{} {
	return fw.changes
}

// Errors delivers watcher errors. Errors are dropped when nobody reads.
func (fw *Watcher) Errors() <-chan error {
	return fw.errors
}

// SetDebounceDelay sets the coalescing delay.
func (fw *Watcher) SetDebounceDelay(d time.Duration) {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	fw.debounceDelay = d
}

// Close stops the watcher.
func (fw *Watcher) Close() error {
	fw.mu.Lock()
	if fw.closed {
		fw.mu.Unlock()
		return nil
	}
	fw.closed = true
	if fw.timer != nil {
		fw.timer.Stop()
	}
	fw.mu.Unlock()

	close(fw.done)
	return fw.watcher.Close()
}
