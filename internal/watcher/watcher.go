// Package watcher turns fsnotify notifications for a source tree into an
// ordered stream of changed paths, relative to the watched root.
//
// Notifications are not debounced or classified: raw fsnotify operations do
// not reliably tell create, write and remove apart, so consumers re-check
// the path on disk. Every notification is delivered in arrival order.
package watcher

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/conneroisu/larrix/internal/logging"
	"github.com/fsnotify/fsnotify"
)

// DefaultBufferSize is the capacity of the notification channel.
const DefaultBufferSize = 256

// Notification is one raw change under the watched root.
type Notification struct {
	// Path is relative to the root, with forward slashes.
	Path string
	Op   fsnotify.Op
	Time time.Time
}

// FileWatcher watches a directory tree recursively.
type FileWatcher struct {
	watcher *fsnotify.Watcher
	root    string
	events  chan Notification
	logger  logging.Logger

	mutex   sync.Mutex
	started bool
	done    chan struct{}
	stop    sync.Once
}

// NewFileWatcher creates a watcher for root. Nothing is watched until Start.
func NewFileWatcher(root string, logger logging.Logger) (*FileWatcher, error) {
	if logger == nil {
		logger = logging.Discard()
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving watch root: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("watch root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("watch root %s is not a directory", root)
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	return &FileWatcher{
		watcher: w,
		root:    abs,
		events:  make(chan Notification, DefaultBufferSize),
		logger:  logger.WithComponent("watcher"),
		done:    make(chan struct{}),
	}, nil
}

// Root returns the absolute watched root.
func (fw *FileWatcher) Root() string { return fw.root }

// Events returns the notification stream. It is closed once the watch loop
// exits.
func (fw *FileWatcher) Events() <-chan Notification { return fw.events }

// Start subscribes to root and every directory below it, then runs the
// watch loop until ctx is cancelled or Stop is called.
func (fw *FileWatcher) Start(ctx context.Context) error {
	fw.mutex.Lock()
	defer fw.mutex.Unlock()
	if fw.started {
		return fmt.Errorf("watcher already started")
	}

	if err := fw.addRecursive(fw.root); err != nil {
		return err
	}
	fw.started = true

	go fw.watchLoop(ctx)
	return nil
}

// Stop cancels the subscription. It is safe to call more than once.
func (fw *FileWatcher) Stop() error {
	var err error
	fw.stop.Do(func() {
		close(fw.done)
		err = fw.watcher.Close()
	})
	return err
}

// addRecursive watches dir and all directories beneath it.
func (fw *FileWatcher) addRecursive(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			// Removed between listing and visiting.
			if os.IsNotExist(err) && path != dir {
				return nil
			}
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if err := fw.watcher.Add(path); err != nil {
			return fmt.Errorf("watching %s: %w", path, err)
		}
		return nil
	})
}

func (fw *FileWatcher) watchLoop(ctx context.Context) {
	defer close(fw.events)
	for {
		select {
		case <-ctx.Done():
			return
		case <-fw.done:
			return
		case event, ok := <-fw.watcher.Events:
			if !ok {
				return
			}
			fw.handleEvent(ctx, event)
		case err, ok := <-fw.watcher.Errors:
			if !ok {
				return
			}
			fw.logger.Warn(ctx, err, "File watcher error")
		}
	}
}

func (fw *FileWatcher) handleEvent(ctx context.Context, event fsnotify.Event) {
	rel, ok := fw.relative(event.Name)
	if !ok {
		return
	}

	// New directories need their own subscription; files created inside
	// them before the Add are picked up by the directory copy downstream.
	if event.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := fw.addRecursive(event.Name); err != nil {
				fw.logger.Warn(ctx, err, "Failed to watch new directory", "path", rel)
			}
		}
	}

	n := Notification{Path: rel, Op: event.Op, Time: time.Now()}
	fw.logger.Debug(ctx, "Change detected", "path", rel, "op", event.Op.String())

	select {
	case fw.events <- n:
	case <-ctx.Done():
	case <-fw.done:
	}
}

// relative converts an absolute event path into a slash-separated path
// under the root. The root itself and paths outside it are rejected.
func (fw *FileWatcher) relative(name string) (string, bool) {
	rel, err := filepath.Rel(fw.root, name)
	if err != nil {
		return "", false
	}
	rel = filepath.ToSlash(rel)
	if rel == "." || rel == ".." || strings.HasPrefix(rel, "../") {
		return "", false
	}
	return rel, true
}
