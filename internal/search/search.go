// Package search finds documents by title and content.
package search

import (
	"context"
	"strings"
	"unicode/utf8"

	"github.com/docedit/docedit/internal/document"
	"github.com/docedit/docedit/pkg/logger"
)

const (
	DefaultLimit = 20
	MaxLimit     = 100
	snippetRunes = 120
)

type Query struct {
	Text  string
	Limit int
}

type Result struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	Snippet string `json:"snippet"`
}

type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Lister returns every document; it backs the scan fallback and reindexing.
type Lister interface {
	List(ctx context.Context) ([]*document.Document, error)
}

// Service queries Meilisearch when it is healthy and falls back to scanning
// the document store otherwise.
type Service struct {
	meili  *Meili
	lister Lister
}

// NewService creates a search service. meili may be nil.
func NewService(meili *Meili, lister Lister) *Service {
	s := &Service{meili: meili, lister: lister}
	if meili != nil {
		meili.OnRecover(func() { s.Reindex(context.Background()) })
	}
	return s
}

func normalize(q Query) Query {
	q.Text = strings.TrimSpace(q.Text)
	if q.Limit <= 0 {
		q.Limit = DefaultLimit
	}
	if q.Limit > MaxLimit {
		q.Limit = MaxLimit
	}
	return q
}

func (s *Service) Search(ctx context.Context, q Query) Response {
	q = normalize(q)
	if q.Text == "" {
		return Response{Results: []Result{}, Query: q.Text}
	}
	if s.meili != nil && s.meili.Healthy() {
		results, total, err := s.meili.Search(q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		logger.Warnf("search: meilisearch error, falling back to scan: %v", err)
	}
	results, total, err := Scan(ctx, s.lister, q)
	if err != nil {
		logger.Warnf("search: scan failed: %v", err)
		return Response{Results: []Result{}, Query: q.Text}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text}
}

// Reindex pushes every stored document to Meilisearch.
func (s *Service) Reindex(ctx context.Context) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	docs, err := s.lister.List(ctx)
	if err != nil {
		logger.Warnf("search: reindex load failed: %v", err)
		return
	}
	if err := s.meili.IndexAll(docs); err != nil {
		logger.Warnf("search: reindex: %v", err)
		return
	}
	logger.Infof("search: reindexed %d documents", len(docs))
}

// Scan matches q case-insensitively against every document, newest first.
func Scan(ctx context.Context, lister Lister, q Query) ([]Result, int, error) {
	q = normalize(q)
	docs, err := lister.List(ctx)
	if err != nil {
		return nil, 0, err
	}
	needle := strings.ToLower(q.Text)
	var results []Result
	total := 0
	for _, d := range docs {
		inTitle := strings.Contains(strings.ToLower(d.Title), needle)
		pos := indexFold(d.Content, needle)
		if !inTitle && pos < 0 {
			continue
		}
		total++
		if len(results) < q.Limit {
			results = append(results, Result{ID: d.ID, Title: d.Title, Snippet: snippet(d.Content, pos)})
		}
	}
	return results, total, nil
}

// snippet cuts a window of about snippetRunes runes from content, centred on
// byte offset pos.
func snippet(content string, pos int) string {
	if pos < 0 || pos > len(content) {
		pos = 0
	}
	start := pos
	for n := 0; start > 0 && n < snippetRunes/2; n++ {
		_, size := utf8.DecodeLastRuneInString(content[:start])
		start -= size
	}
	end := start
	for n := 0; end < len(content) && n < snippetRunes; n++ {
		_, size := utf8.DecodeRuneInString(content[end:])
		end += size
	}
	s := strings.TrimSpace(content[start:end])
	if start > 0 {
		s = "…" + s
	}
	if end < len(content) {
		s += "…"
	}
	return s
}

// indexFold returns the byte offset in s of the first case-insensitive match
// of the lower-cased needle, or -1.
func indexFold(s, needle string) int {
	lower := strings.ToLower(s)
	i := strings.Index(lower, needle)
	if i < 0 || len(lower) == len(s) {
		return i
	}
	// lower-casing changed byte widths; map the offset back rune by rune
	target := utf8.RuneCountInString(lower[:i])
	off := 0
	for n := 0; n < target && off < len(s); n++ {
		_, size := utf8.DecodeRuneInString(s[off:])
		off += size
	}
	return off
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
