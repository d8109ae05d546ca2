package autosave

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/docedit/docedit/internal/document"
	"github.com/docedit/docedit/internal/document/repository"
	"github.com/stretchr/testify/require"
)

const docID = "doc-1"

func snap(content string) document.Snapshot {
	return document.Snapshot{Title: "T", Content: content}
}

type call struct {
	snap document.Snapshot
	done chan error
}

// gatedSaver hands every write to the test and blocks it until released.
type gatedSaver struct {
	calls chan call

	mu        sync.Mutex
	active    int
	maxActive int
}

func newGatedSaver() *gatedSaver {
	return &gatedSaver{calls: make(chan call)}
}

func (g *gatedSaver) Save(_ context.Context, id string, s document.Snapshot) (*document.Document, error) {
	g.mu.Lock()
	g.active++
	if g.active > g.maxActive {
		g.maxActive = g.active
	}
	g.mu.Unlock()

	c := call{snap: s, done: make(chan error)}
	g.calls <- c
	err := <-c.done

	g.mu.Lock()
	g.active--
	g.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return &document.Document{ID: id, Title: s.Title, Content: s.Content}, nil
}

func (g *gatedSaver) next(t *testing.T) call {
	t.Helper()
	select {
	case c := <-g.calls:
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("expected a write")
		return call{}
	}
}

func (g *gatedSaver) expectNone(t *testing.T) {
	t.Helper()
	select {
	case c := <-g.calls:
		t.Fatalf("unexpected write of %q", c.snap.Content)
	case <-time.After(50 * time.Millisecond):
	}
}

func newScheduler(t *testing.T, saver Saver) (*Scheduler, *clock.Mock) {
	t.Helper()
	clk := clock.NewMock()
	s := New(saver, Options{Delay: time.Second, Clock: clk})
	return s, clk
}

func waitSettled(t *testing.T, s *Scheduler) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, s.Wait(ctx, docID))
}

func TestCoalescesRapidEdits(t *testing.T) {
	g := newGatedSaver()
	s, clk := newScheduler(t, g)

	require.NoError(t, s.RequestSave(docID, snap("H")))
	clk.Add(200 * time.Millisecond)
	require.NoError(t, s.RequestSave(docID, snap("He")))
	clk.Add(200 * time.Millisecond)
	require.NoError(t, s.RequestSave(docID, snap("Hel")))

	clk.Add(999 * time.Millisecond)
	g.expectNone(t)
	require.Equal(t, Scheduled, s.Phase(docID))

	clk.Add(time.Millisecond)
	c := g.next(t)
	require.Equal(t, "Hel", c.snap.Content)
	c.done <- nil
	waitSettled(t, s)

	clk.Add(5 * time.Second)
	g.expectNone(t)
	require.Equal(t, Idle, s.Phase(docID))
}

func TestSpacedEditsWriteEach(t *testing.T) {
	repo := repository.NewMemoryRepo()
	d, err := repo.Create(context.Background(), &document.Document{ID: docID, Title: "T"})
	require.NoError(t, err)

	var (
		mu    sync.Mutex
		saved []*document.Document
	)
	saver := SaverFunc(func(ctx context.Context, id string, s document.Snapshot) (*document.Document, error) {
		out, err := repo.Update(ctx, id, document.PatchFrom(s))
		if err == nil {
			mu.Lock()
			saved = append(saved, out)
			mu.Unlock()
		}
		return out, err
	})
	s, clk := newScheduler(t, saver)

	require.NoError(t, s.RequestSave(docID, snap("first")))
	clk.Add(time.Second)
	require.Eventually(t, func() bool { return s.Phase(docID) == Idle }, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, s.RequestSave(docID, snap("second")))
	clk.Add(time.Second)
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(saved) == 2
	}, 2*time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, "first", saved[0].Content)
	require.Equal(t, "second", saved[1].Content)
	require.True(t, saved[0].UpdatedAt.After(d.CreatedAt))
	require.True(t, saved[1].UpdatedAt.After(saved[0].UpdatedAt))
}

func TestEditDuringInFlightWriteIsQueued(t *testing.T) {
	g := newGatedSaver()
	s, clk := newScheduler(t, g)

	require.NoError(t, s.RequestSave(docID, snap("v1")))
	clk.Add(time.Second)
	first := g.next(t)
	require.Equal(t, "v1", first.snap.Content)
	require.Equal(t, Saving, s.Phase(docID))

	require.NoError(t, s.RequestSave(docID, snap("v2")))
	clk.Add(time.Second)
	g.expectNone(t)
	require.NoError(t, s.RequestSave(docID, snap("v3")))
	require.Equal(t, SavingDirty, s.Phase(docID))

	// completion flushes the newest snapshot without another debounce
	first.done <- nil
	second := g.next(t)
	require.Equal(t, "v3", second.snap.Content)
	second.done <- nil
	waitSettled(t, s)

	g.mu.Lock()
	defer g.mu.Unlock()
	require.Equal(t, 1, g.maxActive)
}

func TestFailureRetainsSnapshotWithoutRetry(t *testing.T) {
	g := newGatedSaver()
	s, clk := newScheduler(t, g)

	var (
		mu     sync.Mutex
		events []Event
	)
	s.Subscribe(func(ev Event) {
		mu.Lock()
		events = append(events, ev)
		mu.Unlock()
	})

	require.NoError(t, s.RequestSave(docID, snap("v1")))
	clk.Add(time.Second)
	g.next(t).done <- errors.New("network down")
	waitSettled(t, s)

	require.Equal(t, Dirty, s.Phase(docID))
	pending, ok := s.Pending(docID)
	require.True(t, ok)
	require.Equal(t, "v1", pending.Content)

	clk.Add(10 * time.Second)
	g.expectNone(t)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(events) == 2
	}, time.Second, 5*time.Millisecond)
	mu.Lock()
	require.Equal(t, EventSaving, events[0].Kind)
	require.Equal(t, EventError, events[1].Kind)
	require.EqualError(t, events[1].Err, "network down")
	mu.Unlock()

	// an explicit flush resubmits the retained snapshot
	require.NoError(t, s.Flush(docID))
	c := g.next(t)
	require.Equal(t, "v1", c.snap.Content)
	c.done <- nil
	waitSettled(t, s)
	require.Equal(t, Idle, s.Phase(docID))
}

func TestNextEditAfterFailureIsSaved(t *testing.T) {
	g := newGatedSaver()
	s, clk := newScheduler(t, g)

	require.NoError(t, s.RequestSave(docID, snap("v1")))
	clk.Add(time.Second)
	g.next(t).done <- errors.New("boom")
	waitSettled(t, s)

	require.NoError(t, s.RequestSave(docID, snap("v1+")))
	require.Equal(t, Scheduled, s.Phase(docID))
	clk.Add(time.Second)
	c := g.next(t)
	require.Equal(t, "v1+", c.snap.Content)
	c.done <- nil
	waitSettled(t, s)
}

func TestFailureKeepsNewerPendingSnapshot(t *testing.T) {
	g := newGatedSaver()
	s, clk := newScheduler(t, g)

	require.NoError(t, s.RequestSave(docID, snap("v1")))
	clk.Add(time.Second)
	first := g.next(t)
	require.NoError(t, s.RequestSave(docID, snap("v2")))
	first.done <- errors.New("boom")
	waitSettled(t, s)

	require.Equal(t, Dirty, s.Phase(docID))
	pending, ok := s.Pending(docID)
	require.True(t, ok)
	require.Equal(t, "v2", pending.Content)

	// the timer armed by v2 was stopped with the failure
	clk.Add(5 * time.Second)
	g.expectNone(t)
}

func TestCancelDropsPendingAndStopsTimer(t *testing.T) {
	g := newGatedSaver()
	s, clk := newScheduler(t, g)

	require.NoError(t, s.RequestSave(docID, snap("draft")))
	s.Cancel(docID)
	clk.Add(5 * time.Second)
	g.expectNone(t)
	require.Equal(t, Idle, s.Phase(docID))
	_, ok := s.Pending(docID)
	require.False(t, ok)
}

func TestCancelLetsInFlightWriteComplete(t *testing.T) {
	g := newGatedSaver()
	s, clk := newScheduler(t, g)

	require.NoError(t, s.RequestSave(docID, snap("v1")))
	clk.Add(time.Second)
	c := g.next(t)
	require.NoError(t, s.RequestSave(docID, snap("v2")))
	s.Cancel(docID)
	require.Equal(t, Saving, s.Phase(docID))

	c.done <- nil
	waitSettled(t, s)
	g.expectNone(t)
	require.Equal(t, Idle, s.Phase(docID))
}

func TestFlushSkipsDebounce(t *testing.T) {
	g := newGatedSaver()
	s, _ := newScheduler(t, g)

	require.NoError(t, s.RequestSave(docID, snap("now")))
	require.NoError(t, s.Flush(docID))
	c := g.next(t)
	require.Equal(t, "now", c.snap.Content)
	c.done <- nil
	waitSettled(t, s)

	// nothing pending: flush is a no-op
	require.NoError(t, s.Flush(docID))
	g.expectNone(t)
}

func TestFlushDuringInFlightQueuesSnapshot(t *testing.T) {
	g := newGatedSaver()
	s, clk := newScheduler(t, g)

	require.NoError(t, s.RequestSave(docID, snap("v1")))
	clk.Add(time.Second)
	first := g.next(t)
	require.NoError(t, s.RequestSave(docID, snap("v2")))
	require.NoError(t, s.Flush(docID))
	g.expectNone(t)

	first.done <- nil
	second := g.next(t)
	require.Equal(t, "v2", second.snap.Content)
	second.done <- nil
	waitSettled(t, s)
}

func TestStaleTimerCallbackIsIgnored(t *testing.T) {
	g := newGatedSaver()
	s, _ := newScheduler(t, g)

	require.NoError(t, s.RequestSave(docID, snap("a")))
	s.mu.Lock()
	stale := s.docs[docID].timerGen
	s.mu.Unlock()
	require.NoError(t, s.RequestSave(docID, snap("b")))

	s.onTimer(docID, stale)
	g.expectNone(t)
	require.Equal(t, Scheduled, s.Phase(docID))
}

func TestEventsReportSavedDocument(t *testing.T) {
	g := newGatedSaver()
	s, clk := newScheduler(t, g)

	kinds := make(chan Event, 4)
	unsubscribe := s.Subscribe(func(ev Event) { kinds <- ev })

	require.NoError(t, s.RequestSave(docID, snap("x")))
	clk.Add(time.Second)
	c := g.next(t)
	require.True(t, s.LastIssuedAt(docID).Equal(clk.Now()))
	c.done <- nil
	waitSettled(t, s)

	saving := <-kinds
	require.Equal(t, EventSaving, saving.Kind)
	require.Equal(t, docID, saving.DocumentID)
	saved := <-kinds
	require.Equal(t, EventSaved, saved.Kind)
	require.Equal(t, "x", saved.Document.Content)

	unsubscribe()
	require.NoError(t, s.RequestSave(docID, snap("y")))
	require.NoError(t, s.Flush(docID))
	g.next(t).done <- nil
	waitSettled(t, s)
	require.Len(t, kinds, 0)
}

func TestDocumentsAreIndependent(t *testing.T) {
	g := newGatedSaver()
	s, clk := newScheduler(t, g)

	require.NoError(t, s.RequestSave("a", snap("a1")))
	require.NoError(t, s.RequestSave("b", snap("b1")))
	clk.Add(time.Second)

	got := map[string]bool{}
	c1 := g.next(t)
	c2 := g.next(t)
	got[c1.snap.Content] = true
	got[c2.snap.Content] = true
	require.Equal(t, map[string]bool{"a1": true, "b1": true}, got)
	c1.done <- nil
	c2.done <- nil
	s.Close()
}

func TestCloseWaitsForInFlightWrite(t *testing.T) {
	g := newGatedSaver()
	s, clk := newScheduler(t, g)

	require.NoError(t, s.RequestSave(docID, snap("v1")))
	clk.Add(time.Second)
	c := g.next(t)
	require.NoError(t, s.RequestSave(docID, snap("v2")))

	closed := make(chan struct{})
	go func() {
		s.Close()
		close(closed)
	}()
	select {
	case <-closed:
		t.Fatal("Close returned while a write was in flight")
	case <-time.After(50 * time.Millisecond):
	}

	c.done <- nil
	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("Close did not return")
	}
	g.expectNone(t)
	require.ErrorIs(t, s.RequestSave(docID, snap("late")), ErrClosed)
	require.ErrorIs(t, s.Flush(docID), ErrClosed)
}

func TestWaitHonoursContext(t *testing.T) {
	g := newGatedSaver()
	s, _ := newScheduler(t, g)
	require.NoError(t, s.RequestSave(docID, snap("x")))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, s.Wait(ctx, docID), context.DeadlineExceeded)
	s.Cancel(docID)
	require.NoError(t, s.Wait(context.Background(), docID))
}

func TestCancelDiscardsSnapshotOfFailedInFlightWrite(t *testing.T) {
	g := newGatedSaver()
	s, clk := newScheduler(t, g)

	require.NoError(t, s.RequestSave(docID, snap("v1")))
	clk.Add(time.Second)
	c := g.next(t)
	s.Cancel(docID)
	c.done <- errors.New("boom")
	waitSettled(t, s)

	require.Equal(t, Idle, s.Phase(docID))
	_, ok := s.Pending(docID)
	require.False(t, ok)
	require.NoError(t, s.Flush(docID))
	g.expectNone(t)
}

func TestEditAfterCancelSurvivesFailedWrite(t *testing.T) {
	g := newGatedSaver()
	s, clk := newScheduler(t, g)

	require.NoError(t, s.RequestSave(docID, snap("v1")))
	clk.Add(time.Second)
	c := g.next(t)
	s.Cancel(docID)
	require.NoError(t, s.RequestSave(docID, snap("v2")))
	c.done <- errors.New("boom")
	waitSettled(t, s)

	require.Equal(t, Dirty, s.Phase(docID))
	pending, ok := s.Pending(docID)
	require.True(t, ok)
	require.Equal(t, "v2", pending.Content)
}

func TestEventSeqFollowsTransitionOrder(t *testing.T) {
	g := newGatedSaver()
	s, clk := newScheduler(t, g)

	hold := make(chan struct{})
	events := make(chan Event, 8)
	s.Subscribe(func(ev Event) {
		if ev.Kind == EventError {
			<-hold
		}
		events <- ev
	})

	require.NoError(t, s.RequestSave(docID, snap("v1")))
	clk.Add(time.Second)
	g.next(t).done <- errors.New("boom")
	require.Eventually(t, func() bool { return s.Phase(docID) == Dirty }, time.Second, 5*time.Millisecond)

	// the retry starts while the failure is still being reported
	require.NoError(t, s.Flush(docID))
	retry := g.next(t)
	close(hold)

	first := <-events
	require.Equal(t, EventSaving, first.Kind)
	retrying := <-events
	require.Equal(t, EventSaving, retrying.Kind)
	late := <-events
	require.Equal(t, EventError, late.Kind)

	require.Less(t, first.Seq, late.Seq)
	require.Less(t, late.Seq, retrying.Seq)

	retry.done <- nil
	waitSettled(t, s)
	saved := <-events
	require.Equal(t, EventSaved, saved.Kind)
	require.Less(t, retrying.Seq, saved.Seq)
}
