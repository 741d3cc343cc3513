// Package inbox submits test descriptions dropped into a watched directory.
//
// Handled files are moved to the "processed" subdirectory, or to "failed"
// together with a ".error" file holding the reason.
package inbox

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"testfleet/pkg/logging"
)

const (
	ProcessedDir = "processed"
	FailedDir    = "failed"
)

// Submitter queues the test described by a file.
type Submitter interface {
	SubmitFile(ctx context.Context, path string) (int, error)
}

// Watcher feeds files created in a directory to a Submitter.
type Watcher struct {
	mu sync.Mutex

	dir       string
	debounce  time.Duration
	submitter Submitter

	watcher  *fsnotify.Watcher
	pending  map[string]*time.Timer
	handling sync.WaitGroup
	stopCh   chan struct{}
	loopDone chan struct{}
	running  bool
}

// New returns a watcher for dir. A zero debounce means 500ms.
func New(dir string, debounce time.Duration, submitter Submitter) *Watcher {
	if debounce == 0 {
		debounce = 500 * time.Millisecond
	}
	return &Watcher{
		dir:       dir,
		debounce:  debounce,
		submitter: submitter,
		pending:   make(map[string]*time.Timer),
	}
}

// Start creates the inbox directories, submits files already waiting and
// begins watching for new ones.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return nil
	}

	for _, d := range []string{w.dir, filepath.Join(w.dir, ProcessedDir), filepath.Join(w.dir, FailedDir)} {
		if err := os.MkdirAll(d, 0755); err != nil {
			return fmt.Errorf("failed to create inbox directory: %w", err)
		}
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(w.dir); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", w.dir, err)
	}

	w.watcher = watcher
	w.stopCh = make(chan struct{})
	w.loopDone = make(chan struct{})
	w.running = true

	entries, err := os.ReadDir(w.dir)
	if err != nil {
		logging.Warn("Inbox", "Failed to scan %s: %v", w.dir, err)
	}
	for _, e := range entries {
		if !e.IsDir() {
			w.scheduleLocked(ctx, filepath.Join(w.dir, e.Name()))
		}
	}

	go w.processEvents(ctx, watcher, w.stopCh, w.loopDone)
	logging.Info("Inbox", "Watching %s for test descriptions", w.dir)
	return nil
}

func (w *Watcher) processEvents(ctx context.Context, watcher *fsnotify.Watcher, stopCh <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			w.mu.Lock()
			if w.running {
				w.scheduleLocked(ctx, event.Name)
			}
			w.mu.Unlock()
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			logging.Error("Inbox", err, "Filesystem watcher error")
		}
	}
}

// scheduleLocked (re)arms the debounce timer of path. Each pending entry
// holds one count of w.handling, released by whoever removes the entry.
func (w *Watcher) scheduleLocked(ctx context.Context, path string) {
	if !isYAMLFile(path) || filepath.Dir(path) != filepath.Clean(w.dir) {
		return
	}
	if t, ok := w.pending[path]; ok {
		t.Stop()
	} else {
		w.handling.Add(1)
	}
	w.pending[path] = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		_, ok := w.pending[path]
		delete(w.pending, path)
		w.mu.Unlock()
		if ok {
			defer w.handling.Done()
			w.handle(ctx, path)
		}
	})
}

func (w *Watcher) handle(ctx context.Context, path string) {
	if _, err := os.Stat(path); err != nil {
		return
	}

	id, err := w.submitter.SubmitFile(ctx, path)
	if err != nil {
		logging.Error("Inbox", err, "Rejected %s", filepath.Base(path))
		dest := w.move(path, FailedDir)
		if dest != "" {
			if werr := os.WriteFile(dest+".error", []byte(err.Error()+"\n"), 0644); werr != nil {
				logging.Warn("Inbox", "Failed to record rejection reason of %s: %v", filepath.Base(path), werr)
			}
		}
		return
	}
	logging.Info("Inbox", "Submitted %s as test %d", filepath.Base(path), id)
	w.move(path, ProcessedDir)
}

// move renames path into sub and returns the new location. Existing files
// are not overwritten.
func (w *Watcher) move(path, sub string) string {
	base := filepath.Base(path)
	dest := filepath.Join(w.dir, sub, base)
	if _, err := os.Stat(dest); err == nil {
		ext := filepath.Ext(base)
		dest = filepath.Join(w.dir, sub, fmt.Sprintf("%s-%d%s", strings.TrimSuffix(base, ext), time.Now().UnixNano(), ext))
	}
	if err := os.Rename(path, dest); err != nil {
		logging.Error("Inbox", err, "Failed to move %s to %s", base, sub)
		return ""
	}
	return dest
}

// Stop ends watching. Files whose debounce has not elapsed are left in the
// inbox for the next start; submissions already running are awaited.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = false
	close(w.stopCh)
	for path, t := range w.pending {
		t.Stop()
		delete(w.pending, path)
		w.handling.Done()
	}
	watcher := w.watcher
	w.watcher = nil
	done := w.loopDone
	w.mu.Unlock()

	<-done
	err := watcher.Close()
	w.handling.Wait()
	logging.Info("Inbox", "Stopped watching %s", w.dir)
	return err
}

func isYAMLFile(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}
