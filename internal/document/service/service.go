package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/docedit/docedit/internal/document"
	"github.com/docedit/docedit/internal/document/repository"
	"github.com/docedit/docedit/pkg/logger"
	"github.com/docedit/docedit/pkg/metrics"
)

// Indexer mirrors documents into a search index.
type Indexer interface {
	Index(ctx context.Context, d *document.Document) error
	Remove(ctx context.Context, id string) error
}

// Archiver stores a copy of each persisted document state.
type Archiver interface {
	Archive(ctx context.Context, d *document.Document) error
}

// Service implements the document operations used by the handler layer on
// top of any repository. Search indexing and revision archiving run in the
// background after a successful write and never fail the request.
type Service struct {
	repo        repository.Repository
	indexer     Indexer
	archiver    Archiver
	hookTimeout time.Duration
	wg          sync.WaitGroup
}

type Option func(*Service)

func WithIndexer(i Indexer) Option   { return func(s *Service) { s.indexer = i } }
func WithArchiver(a Archiver) Option { return func(s *Service) { s.archiver = a } }

// New returns a Service over repo.
func New(repo repository.Repository, opts ...Option) *Service {
	s := &Service{repo: repo, hookTimeout: 10 * time.Second}
	for _, o := range opts {
		o(s)
	}
	return s
}

func observe(op string, err error) {
	res := metrics.Result(err)
	switch {
	case err == nil:
	case document.IsValidation(err):
		res = "invalid"
	case errors.Is(err, document.ErrNotFound):
		res = "not_found"
	}
	metrics.DocumentOps.WithLabelValues(op, res).Inc()
}

func (s *Service) Create(ctx context.Context, d *document.Document) (out *document.Document, err error) {
	defer func() { observe("create", err) }()
	if err := document.ValidateSnapshot(d.Snapshot()); err != nil {
		return nil, err
	}
	out, err = s.repo.Create(ctx, d)
	if err != nil {
		return nil, err
	}
	s.afterWrite(out)
	return out, nil
}

func (s *Service) Get(ctx context.Context, id string) (out *document.Document, err error) {
	defer func() { observe("get", err) }()
	return s.repo.Get(ctx, id)
}

func (s *Service) List(ctx context.Context) (out []*document.Document, err error) {
	defer func() { observe("list", err) }()
	return s.repo.List(ctx)
}

func (s *Service) Update(ctx context.Context, id string, p document.Patch) (out *document.Document, err error) {
	defer func() { observe("update", err) }()
	if err := p.Validate(); err != nil {
		return nil, err
	}
	out, err = s.repo.Update(ctx, id, p)
	if err != nil {
		return nil, err
	}
	s.afterWrite(out)
	return out, nil
}

func (s *Service) Delete(ctx context.Context, id string) (out *document.Document, err error) {
	defer func() { observe("delete", err) }()
	out, err = s.repo.Delete(ctx, id)
	if err != nil {
		return nil, err
	}
	if s.indexer != nil {
		s.background(func(ctx context.Context) {
			err := s.indexer.Remove(ctx, id)
			metrics.SearchIndexOps.WithLabelValues("remove", metrics.Result(err)).Inc()
			if err != nil {
				logger.Warnf("search: remove %s: %v", id, err)
			}
		})
	}
	return out, nil
}

func (s *Service) afterWrite(d *document.Document) {
	doc := *d
	if s.indexer != nil {
		s.background(func(ctx context.Context) {
			err := s.indexer.Index(ctx, &doc)
			metrics.SearchIndexOps.WithLabelValues("index", metrics.Result(err)).Inc()
			if err != nil {
				logger.Warnf("search: index %s: %v", doc.ID, err)
			}
		})
	}
	if s.archiver != nil {
		s.background(func(ctx context.Context) {
			if err := s.archiver.Archive(ctx, &doc); err != nil {
				logger.Warnf("archive: %s: %v", doc.ID, err)
			}
		})
	}
}

// background runs fn detached from the request context.
func (s *Service) background(fn func(ctx context.Context)) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), s.hookTimeout)
		defer cancel()
		fn(ctx)
	}()
}

// Wait blocks until every background hook has finished.
func (s *Service) Wait() {
	s.wg.Wait()
}
