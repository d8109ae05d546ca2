// Package autosave coalesces rapid document edits into debounced writes.
//
// Each document moves through the phases of Transition. At most one write per
// document is in flight; edits made meanwhile are coalesced into a single
// pending snapshot which is written as soon as the in-flight write succeeds.
// A failed write keeps the snapshot pending and waits for the next edit or an
// explicit Flush.
package autosave

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/docedit/docedit/internal/document"
	"github.com/docedit/docedit/pkg/logger"
	"github.com/docedit/docedit/pkg/metrics"
)

// DefaultDelay is the debounce interval used when Options.Delay is zero.
const DefaultDelay = time.Second

// ErrClosed is returned by operations on a closed Scheduler.
var ErrClosed = errors.New("autosave: scheduler closed")

// Saver persists a snapshot of one document.
type Saver interface {
	Save(ctx context.Context, id string, snap document.Snapshot) (*document.Document, error)
}

// SaverFunc adapts a function to Saver.
type SaverFunc func(ctx context.Context, id string, snap document.Snapshot) (*document.Document, error)

func (f SaverFunc) Save(ctx context.Context, id string, snap document.Snapshot) (*document.Document, error) {
	return f(ctx, id, snap)
}

// EventKind is the status reported to observers.
type EventKind int

const (
	EventSaving EventKind = iota
	EventSaved
	EventError
)

func (k EventKind) String() string {
	switch k {
	case EventSaving:
		return "saving"
	case EventSaved:
		return "saved"
	case EventError:
		return "error"
	}
	return "unknown"
}

// Event is delivered to observers around every write. Document is set on
// EventSaved, Err on EventError.
//
// Events of concurrent writes may reach observers out of order. Seq is taken
// under the scheduler lock when the transition happens, so an observer that
// has seen a higher Seq can drop the older event.
type Event struct {
	DocumentID string
	Kind       EventKind
	Seq        uint64
	Err        error
	Document   *document.Document
}

// Options configures a Scheduler.
type Options struct {
	// Delay is the debounce interval. Defaults to DefaultDelay.
	Delay time.Duration
	// Clock drives the debounce timers. Defaults to the wall clock.
	Clock clock.Clock
	// SaveTimeout bounds each write. Zero means no limit.
	SaveTimeout time.Duration
}

type entry struct {
	phase        Phase
	pending      *document.Snapshot
	timer        *clock.Timer
	timerGen     uint64
	lastIssuedAt time.Time
	waiters      []chan struct{}
	// cancelled is set when the document is closed with a write in flight; a
	// failure of that write then discards its snapshot.
	cancelled bool
}

type saveJob struct {
	id   string
	snap document.Snapshot
	seq  uint64
}

// effects are applied after the scheduler lock is released.
type effects struct {
	job  *saveJob
	wake []chan struct{}
}

// Scheduler debounces and serializes saves per document. It is safe for
// concurrent use; every transition runs under one mutex and only the timers
// and the writes are asynchronous.
type Scheduler struct {
	saver       Saver
	delay       time.Duration
	clk         clock.Clock
	saveTimeout time.Duration

	mu     sync.Mutex
	docs   map[string]*entry
	gen    uint64
	evSeq  uint64
	closed bool
	wg     sync.WaitGroup

	obsMu     sync.RWMutex
	observers map[uint64]func(Event)
	obsSeq    uint64
}

// New returns a Scheduler that writes through saver.
func New(saver Saver, opts Options) *Scheduler {
	if opts.Delay <= 0 {
		opts.Delay = DefaultDelay
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	return &Scheduler{
		saver:       saver,
		delay:       opts.Delay,
		clk:         opts.Clock,
		saveTimeout: opts.SaveTimeout,
		docs:        make(map[string]*entry),
		observers:   make(map[uint64]func(Event)),
	}
}

// Delay returns the debounce interval.
func (s *Scheduler) Delay() time.Duration { return s.delay }

// Subscribe registers fn for every event and returns a function removing it.
// fn is called from the goroutine performing the write and must not block.
func (s *Scheduler) Subscribe(fn func(Event)) (unsubscribe func()) {
	s.obsMu.Lock()
	s.obsSeq++
	key := s.obsSeq
	s.observers[key] = fn
	s.obsMu.Unlock()
	return func() {
		s.obsMu.Lock()
		delete(s.observers, key)
		s.obsMu.Unlock()
	}
}

func (s *Scheduler) emit(ev Event) {
	s.obsMu.RLock()
	fns := make([]func(Event), 0, len(s.observers))
	for _, fn := range s.observers {
		fns = append(fns, fn)
	}
	s.obsMu.RUnlock()
	for _, fn := range fns {
		fn(ev)
	}
}

// RequestSave replaces the pending snapshot of id and restarts its debounce
// timer. Only the newest snapshot is ever written.
func (s *Scheduler) RequestSave(id string, snap document.Snapshot) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	e := s.docs[id]
	if e == nil {
		e = &entry{}
		s.docs[id] = e
	}
	e.pending = &snap
	eff := s.apply(id, e, TriggerRequest, nil)
	s.mu.Unlock()
	s.finish(eff)
	return nil
}

// Flush writes the pending snapshot of id now, skipping the debounce. When a
// write is already in flight the snapshot goes out right after it completes.
func (s *Scheduler) Flush(id string) error {
	return s.trigger(id, TriggerFlush)
}

// Cancel stops the timer of id and discards its pending snapshot. A write
// already in flight is allowed to complete; if it fails, its snapshot is
// discarded too unless a new edit arrived after the cancel.
func (s *Scheduler) Cancel(id string) {
	_ = s.trigger(id, TriggerCancel)
}

func (s *Scheduler) trigger(id string, t Trigger) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	e := s.docs[id]
	if e == nil {
		s.mu.Unlock()
		return nil
	}
	eff := s.apply(id, e, t, nil)
	s.mu.Unlock()
	s.finish(eff)
	return nil
}

// Phase returns the current phase of id.
func (s *Scheduler) Phase(id string) Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e := s.docs[id]; e != nil {
		return e.phase
	}
	return Idle
}

// Pending returns the snapshot waiting to be written for id, if any.
func (s *Scheduler) Pending(id string) (document.Snapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e := s.docs[id]; e != nil && e.pending != nil {
		return *e.pending, true
	}
	return document.Snapshot{}, false
}

// LastIssuedAt returns when the latest write for id was issued.
func (s *Scheduler) LastIssuedAt(id string) time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e := s.docs[id]; e != nil {
		return e.lastIssuedAt
	}
	return time.Time{}
}

// Wait blocks until id has no timer armed and no write in flight.
func (s *Scheduler) Wait(ctx context.Context, id string) error {
	s.mu.Lock()
	e := s.docs[id]
	if e == nil || e.phase.Settled() {
		s.mu.Unlock()
		return nil
	}
	ch := make(chan struct{})
	e.waiters = append(e.waiters, ch)
	s.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close cancels every timer, discards pending snapshots and waits for the
// writes in flight to finish.
func (s *Scheduler) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		s.wg.Wait()
		return
	}
	s.closed = true
	var all []effects
	for id, e := range s.docs {
		all = append(all, s.apply(id, e, TriggerCancel, nil))
	}
	s.mu.Unlock()
	for _, eff := range all {
		s.finish(eff)
	}
	s.wg.Wait()
}

// apply runs one transition for e and performs its action. Callers hold s.mu
// and pass the result to finish after unlocking.
func (s *Scheduler) apply(id string, e *entry, t Trigger, failed *document.Snapshot) effects {
	next, act := Transition(e.phase, t)
	logger.Debugf("autosave %s: %s --%s--> %s (%s)", id, e.phase, t, next, act)
	switch {
	case t == TriggerCancel && e.phase.InFlight():
		e.cancelled = true
	case t == TriggerRequest:
		e.cancelled = false
	}
	e.phase = next

	var eff effects
	switch act {
	case ActArm:
		s.arm(id, e)
	case ActStop:
		s.stopTimer(e)
	case ActDrop:
		s.stopTimer(e)
		e.pending = nil
	case ActRetain:
		if e.cancelled {
			e.pending = nil
			e.phase = Idle
			break
		}
		if e.pending == nil && failed != nil {
			snap := *failed
			e.pending = &snap
		}
	case ActSave:
		s.stopTimer(e)
		if e.pending == nil || s.closed {
			// nothing to write
			e.pending = nil
			e.phase = Idle
			break
		}
		s.evSeq++
		eff.job = &saveJob{id: id, snap: *e.pending, seq: s.evSeq}
		e.pending = nil
		e.lastIssuedAt = s.clk.Now()
		s.wg.Add(1)
	}

	if e.phase.Settled() {
		eff.wake = e.waiters
		e.waiters = nil
		if e.phase == Idle && e.pending == nil {
			delete(s.docs, id)
		}
	}
	return eff
}

func (s *Scheduler) arm(id string, e *entry) {
	s.stopTimer(e)
	s.gen++
	gen := s.gen
	e.timerGen = gen
	e.timer = s.clk.AfterFunc(s.delay, func() { s.onTimer(id, gen) })
}

func (s *Scheduler) stopTimer(e *entry) {
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
	// invalidate a callback that already fired but has not taken the lock yet
	s.gen++
	e.timerGen = s.gen
}

func (s *Scheduler) onTimer(id string, gen uint64) {
	s.mu.Lock()
	e := s.docs[id]
	if s.closed || e == nil || e.timerGen != gen {
		s.mu.Unlock()
		return
	}
	e.timer = nil
	eff := s.apply(id, e, TriggerTimer, nil)
	s.mu.Unlock()
	s.finish(eff)
}

func (s *Scheduler) finish(eff effects) {
	for _, ch := range eff.wake {
		close(ch)
	}
	if eff.job != nil {
		go s.run(eff.job)
	}
}

func (s *Scheduler) run(job *saveJob) {
	defer s.wg.Done()
	s.emit(Event{DocumentID: job.id, Kind: EventSaving, Seq: job.seq})

	ctx := context.Background()
	cancel := func() {}
	if s.saveTimeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, s.saveTimeout)
	}
	doc, err := s.saver.Save(ctx, job.id, job.snap)
	cancel()
	metrics.AutosaveAttempts.WithLabelValues(metrics.Result(err)).Inc()

	s.mu.Lock()
	s.evSeq++
	seq := s.evSeq
	var eff effects
	if e := s.docs[job.id]; e != nil {
		if err != nil {
			eff = s.apply(job.id, e, TriggerFailed, &job.snap)
		} else {
			eff = s.apply(job.id, e, TriggerSucceeded, nil)
		}
	}
	s.mu.Unlock()

	if err != nil {
		logger.With("doc", job.id).Warn("autosave failed", "err", err)
		s.emit(Event{DocumentID: job.id, Kind: EventError, Seq: seq, Err: err})
	} else {
		s.emit(Event{DocumentID: job.id, Kind: EventSaved, Seq: seq, Document: doc})
	}
	s.finish(eff)
}
