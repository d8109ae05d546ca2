package search

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/docedit/docedit/internal/document"
	"github.com/docedit/docedit/pkg/logger"
	meili "github.com/meilisearch/meilisearch-go"
)

var ErrUnavailable = errors.New("search: meilisearch unavailable")

// Record is the shape stored in the Meilisearch index.
type Record struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Content   string `json:"content"`
	UpdatedAt int64  `json:"updatedAt"`
}

func recordOf(d *document.Document) Record {
	return Record{ID: d.ID, Title: d.Title, Content: d.Content, UpdatedAt: d.UpdatedAt.UnixMilli()}
}

// Meili indexes documents in Meilisearch and queries them.
type Meili struct {
	client  meili.ServiceManager
	index   string
	healthy atomic.Bool
	done    chan struct{}

	mu        sync.Mutex
	onRecover func()
}

// NewMeili creates a Meilisearch client and configures the index. An
// unreachable server is tolerated; a background loop keeps probing it.
func NewMeili(url, apiKey, index string) *Meili {
	m := &Meili{
		client: meili.New(url, meili.WithAPIKey(apiKey)),
		index:  index,
		done:   make(chan struct{}),
	}
	if _, err := m.client.Health(); err != nil {
		logger.Warnf("search: meilisearch unavailable at %s: %v", url, err)
	} else {
		m.healthy.Store(true)
		m.configureIndex()
	}
	go m.healthLoop()
	return m
}

func (m *Meili) configureIndex() {
	if _, err := m.client.CreateIndex(&meili.IndexConfig{Uid: m.index, PrimaryKey: "id"}); err != nil {
		logger.Debugf("search: create index %s (may already exist): %v", m.index, err)
	}
	searchable := []string{"title", "content"}
	if _, err := m.client.Index(m.index).UpdateSearchableAttributes(&searchable); err != nil {
		logger.Warnf("search: update searchable attrs for %s: %v", m.index, err)
	}
}

// OnRecover registers fn to run when the server comes back after an outage.
func (m *Meili) OnRecover(fn func()) {
	m.mu.Lock()
	m.onRecover = fn
	m.mu.Unlock()
}

func (m *Meili) healthLoop() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			_, err := m.client.Health()
			wasHealthy := m.healthy.Swap(err == nil)
			if err == nil && !wasHealthy {
				logger.Infof("search: meilisearch recovered, reconfiguring index")
				m.configureIndex()
				m.mu.Lock()
				fn := m.onRecover
				m.mu.Unlock()
				if fn != nil {
					fn()
				}
			}
		}
	}
}

// Close stops the background health monitor.
func (m *Meili) Close() {
	close(m.done)
}

// Healthy reports whether Meilisearch is reachable.
func (m *Meili) Healthy() bool {
	return m.healthy.Load()
}

// Index adds or replaces d in the index.
func (m *Meili) Index(_ context.Context, d *document.Document) error {
	if !m.Healthy() {
		return ErrUnavailable
	}
	_, err := m.client.Index(m.index).AddDocuments([]Record{recordOf(d)}, nil)
	return err
}

// Remove deletes a document from the index.
func (m *Meili) Remove(_ context.Context, id string) error {
	if !m.Healthy() {
		return ErrUnavailable
	}
	_, err := m.client.Index(m.index).DeleteDocument(id, nil)
	return err
}

// IndexAll bulk-indexes docs.
func (m *Meili) IndexAll(docs []*document.Document) error {
	if len(docs) == 0 {
		return nil
	}
	records := make([]Record, 0, len(docs))
	for _, d := range docs {
		records = append(records, recordOf(d))
	}
	_, err := m.client.Index(m.index).AddDocuments(records, nil)
	return err
}

func (m *Meili) Search(q Query) ([]Result, int, error) {
	if !m.Healthy() {
		return nil, 0, ErrUnavailable
	}
	resp, err := m.client.MultiSearch(&meili.MultiSearchRequest{
		Queries: []*meili.SearchRequest{{
			IndexUID:              m.index,
			Query:                 q.Text,
			Limit:                 int64(q.Limit),
			AttributesToHighlight: []string{"*"},
			HighlightPreTag:       "<mark>",
			HighlightPostTag:      "</mark>",
		}},
	})
	if err != nil {
		m.healthy.Store(false)
		return nil, 0, fmt.Errorf("meilisearch search: %w", err)
	}
	var (
		results []Result
		total   int
	)
	for _, sr := range resp.Results {
		total += int(sr.EstimatedTotalHits)
		for _, hit := range sr.Hits {
			results = append(results, hitToResult(hit))
		}
	}
	return results, total, nil
}

func hitToResult(hit meili.Hit) Result {
	return Result{
		ID:      decodeString(hit, "id"),
		Title:   firstNonBlank(decodeFormattedString(hit, "title"), decodeString(hit, "title")),
		Snippet: markedSnippet(firstNonBlank(decodeFormattedString(hit, "content"), decodeString(hit, "content"))),
	}
}

func decodeString(hit meili.Hit, key string) string {
	raw, ok := hit[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return ""
}

func decodeFormattedString(hit meili.Hit, key string) string {
	raw, ok := hit["_formatted"]
	if !ok {
		return ""
	}
	var formatted map[string]any
	if err := json.Unmarshal(raw, &formatted); err != nil {
		return ""
	}
	s, _ := formatted[key].(string)
	return strings.TrimSpace(s)
}

func firstNonBlank(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

// markedSnippet cuts the highlighted content down to a window around the
// first match.
func markedSnippet(content string) string {
	return snippet(content, strings.Index(content, "<mark>"))
}
