package repository

import (
	"context"
	"testing"
	"time"

	"github.com/docedit/docedit/internal/document"
	"github.com/stretchr/testify/require"
)

// exerciseRepository runs the persistence contract against any backend.
func exerciseRepository(t *testing.T, r Repository) {
	t.Helper()
	ctx := context.Background()

	created, err := r.Create(ctx, &document.Document{Title: "T", Content: "C"})
	require.NoError(t, err)
	require.NotEmpty(t, created.ID)
	require.Equal(t, created.CreatedAt, created.UpdatedAt)

	got, err := r.Get(ctx, created.ID)
	require.NoError(t, err)
	require.Equal(t, "T", got.Title)
	require.Equal(t, "C", got.Content)
	require.True(t, got.CreatedAt.Equal(got.UpdatedAt))

	second, err := r.Create(ctx, &document.Document{Title: "second", Content: ""})
	require.NoError(t, err)

	// keep the update in a later millisecond than the second create
	time.Sleep(2 * time.Millisecond)
	c2 := "C2"
	updated, err := r.Update(ctx, created.ID, document.Patch{Content: &c2})
	require.NoError(t, err)
	require.Equal(t, "T", updated.Title)
	require.Equal(t, "C2", updated.Content)
	require.True(t, updated.UpdatedAt.After(updated.CreatedAt))

	got, err = r.Get(ctx, created.ID)
	require.NoError(t, err)
	require.Equal(t, "C2", got.Content)
	require.True(t, got.UpdatedAt.Equal(updated.UpdatedAt))

	list, err := r.List(ctx)
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(list), 2)
	for i := 1; i < len(list); i++ {
		require.False(t, list[i].UpdatedAt.After(list[i-1].UpdatedAt), "list must be ordered by updatedAt desc")
	}
	require.Equal(t, created.ID, list[0].ID)

	_, err = r.Update(ctx, "missing", document.Patch{Content: &c2})
	require.ErrorIs(t, err, ErrNotFound)

	deleted, err := r.Delete(ctx, created.ID)
	require.NoError(t, err)
	require.Equal(t, created.ID, deleted.ID)
	_, err = r.Get(ctx, created.ID)
	require.ErrorIs(t, err, ErrNotFound)
	_, err = r.Delete(ctx, created.ID)
	require.ErrorIs(t, err, ErrNotFound)

	_, err = r.Delete(ctx, second.ID)
	require.NoError(t, err)
}

func TestMemoryRepoCRUD(t *testing.T) {
	exerciseRepository(t, NewMemoryRepo())
}

func TestMemoryRepoReturnsCopies(t *testing.T) {
	r := NewMemoryRepo()
	ctx := context.Background()
	d, err := r.Create(ctx, &document.Document{Title: "t", Content: "hello"})
	require.NoError(t, err)

	d.Content = "mutated"
	got, err := r.Get(ctx, d.ID)
	require.NoError(t, err)
	require.Equal(t, "hello", got.Content)
}

func TestMemoryRepoUpdatedAtAdvancesWithFrozenClock(t *testing.T) {
	r := NewMemoryRepo()
	frozen := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return frozen }
	ctx := context.Background()

	d, err := r.Create(ctx, &document.Document{Title: "t"})
	require.NoError(t, err)
	c := "a"
	first, err := r.Update(ctx, d.ID, document.Patch{Content: &c})
	require.NoError(t, err)
	second, err := r.Update(ctx, d.ID, document.Patch{Content: &c})
	require.NoError(t, err)
	require.True(t, first.UpdatedAt.After(d.CreatedAt))
	require.True(t, second.UpdatedAt.After(first.UpdatedAt))
}
