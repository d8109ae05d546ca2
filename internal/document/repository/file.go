package repository

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/docedit/docedit/internal/document"
	"github.com/docedit/docedit/pkg/logger"
	"github.com/fsnotify/fsnotify"
)

// fileLayout is the on-disk shape: a single JSON object holding every document.
type fileLayout struct {
	Documents []*document.Document `json:"documents"`
}

// FileRepo keeps all documents in one JSON file, cached in memory. Every write
// rewrites the file atomically (temp file + rename). With StartWatching, edits
// made to the file by other processes are picked up.
type FileRepo struct {
	path string
	now  func() time.Time

	mu   sync.RWMutex
	docs []*document.Document
	// written is the content of the last persist, so the watcher can tell
	// the store's own writes from external edits.
	written []byte

	watcher *fsnotify.Watcher
	done    chan struct{}
}

// NewFileRepo loads path, creating it with an empty collection when missing.
func NewFileRepo(path string) (*FileRepo, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	f := &FileRepo{path: filepath.Clean(path), now: document.Now}
	if _, err := os.Stat(f.path); errors.Is(err, os.ErrNotExist) {
		if err := f.persist(); err != nil {
			return nil, err
		}
		logger.Infof("created new documents database file at %s", f.path)
	}
	if err := f.reload(); err != nil {
		return nil, err
	}
	return f, nil
}

// reload replaces the rows with the file content unless the file still holds
// what this store last wrote. The read and the swap happen under f.mu so no
// write can commit in between.
func (f *FileRepo) reload() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, err := os.ReadFile(f.path)
	if err != nil {
		return fmt.Errorf("read %s: %w", f.path, err)
	}
	if f.written != nil && bytes.Equal(b, f.written) {
		return nil
	}
	var layout fileLayout
	if err := json.Unmarshal(b, &layout); err != nil {
		return fmt.Errorf("parse %s: %w", f.path, err)
	}
	if layout.Documents == nil {
		layout.Documents = []*document.Document{}
	}
	f.docs = layout.Documents
	f.written = b
	return nil
}

// persist writes the current rows. Callers hold f.mu (or own f exclusively).
func (f *FileRepo) persist() error {
	docs := f.docs
	if docs == nil {
		docs = []*document.Document{}
	}
	b, err := json.MarshalIndent(fileLayout{Documents: docs}, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal documents: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(f.path), ".documents-*.json")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()
	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), f.path); err != nil {
		return fmt.Errorf("replace %s: %w", f.path, err)
	}
	f.written = b
	return nil
}

func (f *FileRepo) indexOf(id string) int {
	for i, d := range f.docs {
		if d.ID == id {
			return i
		}
	}
	return -1
}

func (f *FileRepo) Create(_ context.Context, d *document.Document) (*document.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc := clone(d)
	document.Stamp(doc, f.now())
	prev := f.docs
	f.docs = append(append([]*document.Document{}, f.docs...), doc)
	if err := f.persist(); err != nil {
		f.docs = prev
		return nil, err
	}
	return clone(doc), nil
}

func (f *FileRepo) Get(_ context.Context, id string) (*document.Document, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if i := f.indexOf(id); i >= 0 {
		return clone(f.docs[i]), nil
	}
	return nil, ErrNotFound
}

func (f *FileRepo) List(_ context.Context) ([]*document.Document, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]*document.Document, 0, len(f.docs))
	for _, d := range f.docs {
		out = append(out, clone(d))
	}
	sortByUpdatedDesc(out)
	return out, nil
}

func (f *FileRepo) Update(_ context.Context, id string, p document.Patch) (*document.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.indexOf(id)
	if i < 0 {
		return nil, ErrNotFound
	}
	prev := f.docs[i]
	next := clone(prev)
	p.Apply(next, f.now())
	f.docs[i] = next
	if err := f.persist(); err != nil {
		f.docs[i] = prev
		return nil, err
	}
	return clone(next), nil
}

func (f *FileRepo) Delete(_ context.Context, id string) (*document.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.indexOf(id)
	if i < 0 {
		return nil, ErrNotFound
	}
	prev := f.docs
	removed := f.docs[i]
	f.docs = append(append([]*document.Document{}, f.docs[:i]...), f.docs[i+1:]...)
	if err := f.persist(); err != nil {
		f.docs = prev
		return nil, err
	}
	return clone(removed), nil
}

// StartWatching reloads the file whenever it changes on disk. The parent
// directory is watched because atomic replacement swaps the inode.
func (f *FileRepo) StartWatching() error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := w.Add(filepath.Dir(f.path)); err != nil {
		_ = w.Close()
		return fmt.Errorf("watch %s: %w", filepath.Dir(f.path), err)
	}
	f.watcher = w
	f.done = make(chan struct{})
	go f.watchLoop(w, f.done)
	return nil
}

func (f *FileRepo) watchLoop(w *fsnotify.Watcher, done chan struct{}) {
	defer close(done)
	for {
		select {
		case event, ok := <-w.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != f.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			// a half-written file fails to parse; the next event retries
			if err := f.reload(); err != nil {
				logger.Warnf("file store: reload after external change failed: %v", err)
			}
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			logger.Warnf("file store: watcher error: %v", err)
		}
	}
}

// Close stops the watcher, if any.
func (f *FileRepo) Close() error {
	if f.watcher == nil {
		return nil
	}
	err := f.watcher.Close()
	<-f.done
	f.watcher = nil
	return err
}
