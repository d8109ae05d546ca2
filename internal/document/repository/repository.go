package repository

import (
	"context"
	"sort"

	"github.com/docedit/docedit/internal/document"
)

// ErrNotFound is the sentinel every backend returns for an unknown id.
var ErrNotFound = document.ErrNotFound

// Repository is the persistence contract shared by all document stores.
// Operations are atomic per document; there is no cross-document transaction
// and no concurrency token, so concurrent writers to one id race and the last
// write wins.
type Repository interface {
	Create(ctx context.Context, d *document.Document) (*document.Document, error)
	Get(ctx context.Context, id string) (*document.Document, error)
	// List returns every document ordered by UpdatedAt, newest first.
	List(ctx context.Context) ([]*document.Document, error)
	Update(ctx context.Context, id string, p document.Patch) (*document.Document, error)
	// Delete removes the document and returns its last state.
	Delete(ctx context.Context, id string) (*document.Document, error)
}

func sortByUpdatedDesc(docs []*document.Document) {
	sort.SliceStable(docs, func(i, j int) bool {
		return docs[i].UpdatedAt.After(docs[j].UpdatedAt)
	})
}

func clone(d *document.Document) *document.Document {
	cp := *d
	return &cp
}
