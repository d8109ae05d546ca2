package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/docedit/docedit/internal/document"
	"github.com/docedit/docedit/internal/document/repository"
	"github.com/docedit/docedit/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

type recordingIndexer struct {
	mu      sync.Mutex
	indexed []string
	removed []string
	err     error
}

func (r *recordingIndexer) Index(_ context.Context, d *document.Document) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.indexed = append(r.indexed, d.ID+":"+d.Content)
	return r.err
}

func (r *recordingIndexer) Remove(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removed = append(r.removed, id)
	return r.err
}

type recordingArchiver struct {
	mu   sync.Mutex
	docs []document.Document
}

func (r *recordingArchiver) Archive(_ context.Context, d *document.Document) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.docs = append(r.docs, *d)
	return nil
}

func TestServiceCreateRejectsEmptyTitle(t *testing.T) {
	repo := repository.NewMemoryRepo()
	svc := New(repo)
	before := testutil.ToFloat64(metrics.DocumentOps.WithLabelValues("create", "invalid"))

	_, err := svc.Create(context.Background(), &document.Document{Title: "", Content: "x"})
	var ve *document.ValidationError
	require.ErrorAs(t, err, &ve)
	require.Equal(t, []string{document.MsgTitleRequired}, ve.Errors)

	list, err := svc.List(context.Background())
	require.NoError(t, err)
	require.Empty(t, list)
	require.Equal(t, before+1, testutil.ToFloat64(metrics.DocumentOps.WithLabelValues("create", "invalid")))
}

func TestServiceUpdateRejectsEmptyTitle(t *testing.T) {
	svc := New(repository.NewMemoryRepo())
	ctx := context.Background()
	d, err := svc.Create(ctx, &document.Document{Title: "T", Content: "C"})
	require.NoError(t, err)

	empty := ""
	_, err = svc.Update(ctx, d.ID, document.Patch{Title: &empty})
	require.True(t, document.IsValidation(err))

	got, err := svc.Get(ctx, d.ID)
	require.NoError(t, err)
	require.Equal(t, "T", got.Title)
}

func TestServiceNotFound(t *testing.T) {
	svc := New(repository.NewMemoryRepo())
	ctx := context.Background()
	before := testutil.ToFloat64(metrics.DocumentOps.WithLabelValues("get", "not_found"))

	_, err := svc.Get(ctx, "nope")
	require.ErrorIs(t, err, document.ErrNotFound)
	c := "x"
	_, err = svc.Update(ctx, "nope", document.Patch{Content: &c})
	require.ErrorIs(t, err, document.ErrNotFound)
	_, err = svc.Delete(ctx, "nope")
	require.ErrorIs(t, err, document.ErrNotFound)
	require.Equal(t, before+1, testutil.ToFloat64(metrics.DocumentOps.WithLabelValues("get", "not_found")))
}

func TestServiceRunsHooksAfterWrites(t *testing.T) {
	idx := &recordingIndexer{}
	arc := &recordingArchiver{}
	svc := New(repository.NewMemoryRepo(), WithIndexer(idx), WithArchiver(arc))
	ctx := context.Background()

	d, err := svc.Create(ctx, &document.Document{Title: "T", Content: "v1"})
	require.NoError(t, err)
	v2 := "v2"
	_, err = svc.Update(ctx, d.ID, document.Patch{Content: &v2})
	require.NoError(t, err)
	_, err = svc.Delete(ctx, d.ID)
	require.NoError(t, err)
	svc.Wait()

	require.ElementsMatch(t, []string{d.ID + ":v1", d.ID + ":v2"}, idx.indexed)
	require.Equal(t, []string{d.ID}, idx.removed)
	require.Len(t, arc.docs, 2)
}

func TestServiceHookFailureDoesNotFailWrite(t *testing.T) {
	idx := &recordingIndexer{err: errors.New("index down")}
	svc := New(repository.NewMemoryRepo(), WithIndexer(idx))

	d, err := svc.Create(context.Background(), &document.Document{Title: "T"})
	require.NoError(t, err)
	svc.Wait()

	got, err := svc.Get(context.Background(), d.ID)
	require.NoError(t, err)
	require.Equal(t, "T", got.Title)
}
