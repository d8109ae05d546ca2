// Package editor holds the working copy of the document being edited and
// hands every change to the autosave scheduler.
package editor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/docedit/docedit/internal/autosave"
	"github.com/docedit/docedit/internal/document"
)

// DefaultStatusClear is how long saved/error stays visible before reverting to idle.
const DefaultStatusClear = 2 * time.Second

var (
	ErrNotLoaded    = errors.New("editor: no document loaded")
	ErrUnknownField = errors.New("editor: unknown field")
)

// Field names accepted by Edit.
const (
	FieldTitle   = "title"
	FieldContent = "content"
)

// Status is the save indicator shown to the user.
type Status int

const (
	StatusIdle Status = iota
	StatusSaving
	StatusSaved
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusSaving:
		return "saving"
	case StatusSaved:
		return "saved"
	case StatusError:
		return "error"
	}
	return "unknown"
}

// Loader fetches a document by id.
type Loader interface {
	Get(ctx context.Context, id string) (*document.Document, error)
}

type Options struct {
	Clock       clock.Clock
	StatusClear time.Duration
	// OnStatus is called on every status change with the error of a failed
	// save, if any. It runs on the goroutine that caused the change.
	OnStatus func(Status, error)
}

// Session is one open document. Edits update the in-memory buffer
// synchronously; persistence happens in the background through the scheduler.
type Session struct {
	loader      Loader
	sched       *autosave.Scheduler
	clk         clock.Clock
	statusClear time.Duration
	onStatus    func(Status, error)

	mu          sync.Mutex
	doc         *document.Document
	status      Status
	lastErr     error
	clearTimer  *clock.Timer
	clearGen    uint64
	lastSeq     uint64
	unsubscribe func()
}

func New(loader Loader, sched *autosave.Scheduler, opts Options) *Session {
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.StatusClear <= 0 {
		opts.StatusClear = DefaultStatusClear
	}
	return &Session{
		loader:      loader,
		sched:       sched,
		clk:         opts.Clock,
		statusClear: opts.StatusClear,
		onStatus:    opts.OnStatus,
	}
}

// Load opens id, replacing any document already open in this session.
func (s *Session) Load(ctx context.Context, id string) error {
	d, err := s.loader.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("load %s: %w", id, err)
	}
	s.Close()

	s.mu.Lock()
	s.doc = d
	s.status = StatusIdle
	s.lastErr = nil
	s.mu.Unlock()
	s.unsubscribe = s.sched.Subscribe(s.handleEvent)
	return nil
}

// Edit sets field to value in the buffer and schedules a save.
func (s *Session) Edit(field, value string) error {
	s.mu.Lock()
	if s.doc == nil {
		s.mu.Unlock()
		return ErrNotLoaded
	}
	switch field {
	case FieldTitle:
		s.doc.Title = value
	case FieldContent:
		s.doc.Content = value
	default:
		s.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrUnknownField, field)
	}
	id, snap := s.doc.ID, s.doc.Snapshot()
	s.mu.Unlock()
	return s.sched.RequestSave(id, snap)
}

// ForceSave writes the current buffer without waiting for the debounce.
func (s *Session) ForceSave() error {
	s.mu.Lock()
	if s.doc == nil {
		s.mu.Unlock()
		return ErrNotLoaded
	}
	id, snap := s.doc.ID, s.doc.Snapshot()
	s.mu.Unlock()
	if err := s.sched.RequestSave(id, snap); err != nil {
		return err
	}
	return s.sched.Flush(id)
}

// Wait blocks until the open document has nothing scheduled or in flight.
func (s *Session) Wait(ctx context.Context) error {
	s.mu.Lock()
	if s.doc == nil {
		s.mu.Unlock()
		return nil
	}
	id := s.doc.ID
	s.mu.Unlock()
	return s.sched.Wait(ctx, id)
}

// Close navigates away: the pending save is dropped and the buffer discarded.
// A write already in flight completes on its own.
func (s *Session) Close() {
	if s.unsubscribe != nil {
		s.unsubscribe()
		s.unsubscribe = nil
	}
	s.mu.Lock()
	doc := s.doc
	s.doc = nil
	s.status = StatusIdle
	s.stopClear()
	s.mu.Unlock()
	if doc != nil {
		s.sched.Cancel(doc.ID)
	}
}

// Status returns the current save indicator.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// LastError returns the error of the most recent failed save.
func (s *Session) LastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// Snapshot returns the editable fields of the buffer.
func (s *Session) Snapshot() (document.Snapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.doc == nil {
		return document.Snapshot{}, false
	}
	return s.doc.Snapshot(), true
}

// Document returns a copy of the buffer including server metadata.
func (s *Session) Document() (document.Document, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.doc == nil {
		return document.Document{}, false
	}
	return *s.doc, true
}

func (s *Session) handleEvent(ev autosave.Event) {
	s.mu.Lock()
	if s.doc == nil || ev.DocumentID != s.doc.ID {
		s.mu.Unlock()
		return
	}
	// a write that completed before a newer one started reports late
	if ev.Seq != 0 && ev.Seq <= s.lastSeq {
		s.mu.Unlock()
		return
	}
	s.lastSeq = ev.Seq
	var status Status
	switch ev.Kind {
	case autosave.EventSaving:
		status = StatusSaving
		s.stopClear()
	case autosave.EventSaved:
		status = StatusSaved
		s.lastErr = nil
		if ev.Document != nil {
			// content stays local: the user may have typed since the write was issued
			s.doc.CreatedAt = ev.Document.CreatedAt
			s.doc.UpdatedAt = ev.Document.UpdatedAt
		}
		s.armClear()
	case autosave.EventError:
		status = StatusError
		s.lastErr = ev.Err
		s.armClear()
	}
	s.status = status
	err := s.lastErr
	s.mu.Unlock()
	s.notify(status, err)
}

// armClear schedules the revert to idle. Callers hold s.mu.
func (s *Session) armClear() {
	s.stopClear()
	gen := s.clearGen
	s.clearTimer = s.clk.AfterFunc(s.statusClear, func() {
		s.mu.Lock()
		if gen != s.clearGen || (s.status != StatusSaved && s.status != StatusError) {
			s.mu.Unlock()
			return
		}
		s.status = StatusIdle
		s.mu.Unlock()
		s.notify(StatusIdle, nil)
	})
}

// stopClear cancels a pending revert. Callers hold s.mu.
func (s *Session) stopClear() {
	s.clearGen++
	if s.clearTimer != nil {
		s.clearTimer.Stop()
		s.clearTimer = nil
	}
}

func (s *Session) notify(st Status, err error) {
	if s.onStatus != nil {
		s.onStatus(st, err)
	}
}
