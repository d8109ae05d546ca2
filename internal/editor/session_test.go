package editor

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/docedit/docedit/internal/autosave"
	"github.com/docedit/docedit/internal/document"
	"github.com/docedit/docedit/internal/document/repository"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	repo     *repository.MemoryRepo
	clk      *clock.Mock
	sched    *autosave.Scheduler
	sess     *Session
	writes   atomic.Int32
	failNext atomic.Bool

	mu       sync.Mutex
	statuses []Status
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{repo: repository.NewMemoryRepo(), clk: clock.NewMock()}
	saver := autosave.SaverFunc(func(ctx context.Context, id string, s document.Snapshot) (*document.Document, error) {
		f.writes.Add(1)
		if f.failNext.CompareAndSwap(true, false) {
			return nil, errors.New("offline")
		}
		return f.repo.Update(ctx, id, document.PatchFrom(s))
	})
	f.sched = autosave.New(saver, autosave.Options{Delay: time.Second, Clock: f.clk})
	f.sess = New(f.repo, f.sched, Options{
		Clock:       f.clk,
		StatusClear: 2 * time.Second,
		OnStatus: func(st Status, _ error) {
			f.mu.Lock()
			f.statuses = append(f.statuses, st)
			f.mu.Unlock()
		},
	})
	t.Cleanup(f.sched.Close)
	return f
}

func (f *fixture) create(t *testing.T, title, content string) *document.Document {
	t.Helper()
	d, err := f.repo.Create(context.Background(), &document.Document{Title: title, Content: content})
	require.NoError(t, err)
	return d
}

func (f *fixture) settle(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, f.sess.Wait(ctx))
}

func (f *fixture) eventuallyStatus(t *testing.T, want Status) {
	t.Helper()
	require.Eventually(t, func() bool { return f.sess.Status() == want }, 2*time.Second, 5*time.Millisecond)
}

func TestLoadUnknownDocument(t *testing.T) {
	f := newFixture(t)
	err := f.sess.Load(context.Background(), "missing")
	require.ErrorIs(t, err, document.ErrNotFound)
	_, ok := f.sess.Snapshot()
	require.False(t, ok)
}

func TestEditRequiresLoadedDocument(t *testing.T) {
	f := newFixture(t)
	require.ErrorIs(t, f.sess.Edit(FieldContent, "x"), ErrNotLoaded)
	require.ErrorIs(t, f.sess.ForceSave(), ErrNotLoaded)
}

func TestEditUnknownField(t *testing.T) {
	f := newFixture(t)
	d := f.create(t, "T", "")
	require.NoError(t, f.sess.Load(context.Background(), d.ID))
	require.ErrorIs(t, f.sess.Edit("author", "me"), ErrUnknownField)
}

func TestRapidEditsProduceOneSave(t *testing.T) {
	f := newFixture(t)
	d := f.create(t, "T", "")
	ctx := context.Background()
	require.NoError(t, f.sess.Load(ctx, d.ID))

	for _, v := range []string{"H", "He", "Hel"} {
		require.NoError(t, f.sess.Edit(FieldContent, v))
		snap, ok := f.sess.Snapshot()
		require.True(t, ok)
		require.Equal(t, v, snap.Content)
		f.clk.Add(200 * time.Millisecond)
	}
	require.Equal(t, StatusIdle, f.sess.Status())

	f.clk.Add(time.Second)
	f.eventuallyStatus(t, StatusSaved)
	f.settle(t)
	require.Equal(t, int32(1), f.writes.Load())

	got, err := f.repo.Get(ctx, d.ID)
	require.NoError(t, err)
	require.Equal(t, "Hel", got.Content)

	doc, ok := f.sess.Document()
	require.True(t, ok)
	require.True(t, doc.UpdatedAt.Equal(got.UpdatedAt))

	// saved reverts to idle after the clear interval
	f.clk.Add(2 * time.Second)
	f.eventuallyStatus(t, StatusIdle)

	require.Eventually(t, func() bool {
		f.mu.Lock()
		defer f.mu.Unlock()
		return len(f.statuses) == 3
	}, time.Second, 5*time.Millisecond)
	f.mu.Lock()
	defer f.mu.Unlock()
	require.Equal(t, []Status{StatusSaving, StatusSaved, StatusIdle}, f.statuses)
}

func TestTitleEditIsSaved(t *testing.T) {
	f := newFixture(t)
	d := f.create(t, "Old", "body")
	ctx := context.Background()
	require.NoError(t, f.sess.Load(ctx, d.ID))

	require.NoError(t, f.sess.Edit(FieldTitle, "New"))
	f.clk.Add(time.Second)
	f.eventuallyStatus(t, StatusSaved)

	got, err := f.repo.Get(ctx, d.ID)
	require.NoError(t, err)
	require.Equal(t, "New", got.Title)
	require.Equal(t, "body", got.Content)
}

func TestForceSaveSkipsDebounce(t *testing.T) {
	f := newFixture(t)
	d := f.create(t, "T", "")
	ctx := context.Background()
	require.NoError(t, f.sess.Load(ctx, d.ID))

	require.NoError(t, f.sess.Edit(FieldContent, "now"))
	require.NoError(t, f.sess.ForceSave())
	f.eventuallyStatus(t, StatusSaved)

	got, err := f.repo.Get(ctx, d.ID)
	require.NoError(t, err)
	require.Equal(t, "now", got.Content)
}

func TestFailedSaveShowsErrorThenClears(t *testing.T) {
	f := newFixture(t)
	d := f.create(t, "T", "")
	require.NoError(t, f.sess.Load(context.Background(), d.ID))
	f.failNext.Store(true)

	require.NoError(t, f.sess.Edit(FieldContent, "lost?"))
	f.clk.Add(time.Second)
	f.eventuallyStatus(t, StatusError)
	require.EqualError(t, f.sess.LastError(), "offline")
	require.Equal(t, autosave.Dirty, f.sched.Phase(d.ID))

	f.clk.Add(2 * time.Second)
	f.eventuallyStatus(t, StatusIdle)

	// the retained snapshot goes out with the next save
	require.NoError(t, f.sess.ForceSave())
	f.eventuallyStatus(t, StatusSaved)
	got, err := f.repo.Get(context.Background(), d.ID)
	require.NoError(t, err)
	require.Equal(t, "lost?", got.Content)
	require.NoError(t, f.sess.LastError())
}

func TestCloseDropsPendingSave(t *testing.T) {
	f := newFixture(t)
	d := f.create(t, "T", "original")
	ctx := context.Background()
	require.NoError(t, f.sess.Load(ctx, d.ID))

	require.NoError(t, f.sess.Edit(FieldContent, "unsaved"))
	f.sess.Close()
	f.clk.Add(5 * time.Second)
	time.Sleep(20 * time.Millisecond)

	require.Equal(t, int32(0), f.writes.Load())
	got, err := f.repo.Get(ctx, d.ID)
	require.NoError(t, err)
	require.Equal(t, "original", got.Content)
	_, ok := f.sess.Document()
	require.False(t, ok)
	require.ErrorIs(t, f.sess.Edit(FieldContent, "x"), ErrNotLoaded)
}

func TestSessionIgnoresOtherDocuments(t *testing.T) {
	f := newFixture(t)
	mine := f.create(t, "mine", "")
	other := f.create(t, "other", "")
	require.NoError(t, f.sess.Load(context.Background(), mine.ID))

	require.NoError(t, f.sched.RequestSave(other.ID, document.Snapshot{Title: "other", Content: "x"}))
	require.NoError(t, f.sched.Flush(other.ID))
	require.Eventually(t, func() bool { return f.writes.Load() == 1 }, 2*time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	require.Equal(t, StatusIdle, f.sess.Status())
}

func TestLateCompletionDoesNotOverrideNewerSave(t *testing.T) {
	f := newFixture(t)
	d := f.create(t, "T", "")
	require.NoError(t, f.sess.Load(context.Background(), d.ID))

	f.sess.handleEvent(autosave.Event{DocumentID: d.ID, Kind: autosave.EventSaving, Seq: 3})
	f.sess.handleEvent(autosave.Event{DocumentID: d.ID, Kind: autosave.EventError, Seq: 2, Err: errors.New("offline")})
	require.Equal(t, StatusSaving, f.sess.Status())
	require.NoError(t, f.sess.LastError())

	f.sess.handleEvent(autosave.Event{DocumentID: d.ID, Kind: autosave.EventSaved, Seq: 4})
	require.Equal(t, StatusSaved, f.sess.Status())
}
