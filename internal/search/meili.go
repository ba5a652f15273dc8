package search

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	meili "github.com/meilisearch/meilisearch-go"
	"github.com/sirupsen/logrus"
)

const idxEntities = "bookshelf_entities"

// searchOrder is the order result groups are returned in when no type
// filter is given.
var searchOrder = []ResultType{ResultBookshelf, ResultBook, ResultChapter, ResultPage}

// Meili searches and indexes entities in Meilisearch.
type Meili struct {
	client  meili.ServiceManager
	healthy atomic.Bool
	done    chan struct{}
	logger  *logrus.Entry
}

// NewMeili creates a Meilisearch client and configures the index. The
// returned value is usable even when the server is down; it reports itself
// unhealthy until a health check succeeds.
func NewMeili(url, apiKey string, logger *logrus.Entry) *Meili {
	if logger == nil {
		logger = logrus.WithField("component", "search")
	}
	m := &Meili{
		client: meili.New(url, meili.WithAPIKey(apiKey)),
		done:   make(chan struct{}),
		logger: logger,
	}

	if _, err := m.client.Health(); err != nil {
		logger.WithError(err).WithField("url", url).Warn("meilisearch unavailable")
		m.healthy.Store(false)
	} else {
		m.healthy.Store(true)
		m.configureIndex()
	}

	go m.healthLoop()
	return m
}

func (m *Meili) configureIndex() {
	if _, err := m.client.CreateIndex(&meili.IndexConfig{
		Uid:        idxEntities,
		PrimaryKey: "key",
	}); err != nil {
		m.logger.WithError(err).Debug("create index (may already exist)")
	}

	index := m.client.Index(idxEntities)
	filterable := []interface{}{"type", "bookId"}
	if _, err := index.UpdateFilterableAttributes(&filterable); err != nil {
		m.logger.WithError(err).Warn("update filterable attributes")
	}
	searchable := []string{"name", "body"}
	if _, err := index.UpdateSearchableAttributes(&searchable); err != nil {
		m.logger.WithError(err).Warn("update searchable attributes")
	}
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
			wasHealthy := m.healthy.Load()
			m.healthy.Store(err == nil)
			if err == nil && !wasHealthy {
				m.logger.Info("meilisearch recovered, reconfiguring index")
				m.configureIndex()
			}
		}
	}
}

// Close stops the background health monitor.
func (m *Meili) Close() {
	close(m.done)
}

func (m *Meili) Healthy() bool {
	return m.healthy.Load()
}

// Search runs one query per entity type and concatenates the groups.
func (m *Meili) Search(q Query) ([]Result, int, error) {
	if !m.healthy.Load() {
		return nil, 0, fmt.Errorf("meilisearch unhealthy")
	}

	limit := int64(q.Limit)
	if limit == 0 {
		limit = 20
	}

	var queries []*meili.SearchRequest
	for _, rtyp := range searchOrder {
		if q.FilterType != "" && q.FilterType != rtyp {
			continue
		}
		if q.FilterBookID != 0 && rtyp == ResultBookshelf {
			continue
		}
		filters := []string{fmt.Sprintf("type = %q", rtyp)}
		if q.FilterBookID != 0 {
			filters = append(filters, fmt.Sprintf("bookId = %d", q.FilterBookID))
		}
		queries = append(queries, &meili.SearchRequest{
			IndexUID:              idxEntities,
			Query:                 q.Text,
			Limit:                 limit,
			Offset:                int64(q.Offset),
			Filter:                filters,
			AttributesToHighlight: []string{"name", "body"},
			AttributesToCrop:      []string{"body"},
			CropLength:            30,
			HighlightPreTag:       "<mark>",
			HighlightPostTag:      "</mark>",
		})
	}
	if len(queries) == 0 {
		return nil, 0, nil
	}

	resp, err := m.client.MultiSearch(&meili.MultiSearchRequest{Queries: queries})
	if err != nil {
		m.healthy.Store(false)
		return nil, 0, fmt.Errorf("meilisearch multi-search: %w", err)
	}

	var results []Result
	total := 0
	for _, sr := range resp.Results {
		total += int(sr.EstimatedTotalHits)
		for _, hit := range sr.Hits {
			results = append(results, hitToResult(hit))
		}
	}
	return results, total, nil
}

func hitToResult(hit meili.Hit) Result {
	r := Result{
		Type:     ResultType(decodeString(hit, "type")),
		ID:       decodeInt(hit, "id"),
		Slug:     decodeString(hit, "slug"),
		BookID:   decodeInt(hit, "bookId"),
		BookSlug: decodeString(hit, "bookSlug"),
	}
	r.Name = firstNonBlank(decodeFormattedString(hit, "name"), decodeString(hit, "name"))
	r.Snippet = firstNonBlank(decodeFormattedString(hit, "body"), decodeString(hit, "body"))
	return r
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

func decodeInt(hit meili.Hit, key string) int64 {
	raw, ok := hit[key]
	if !ok {
		return 0
	}
	var n int64
	if err := json.Unmarshal(raw, &n); err == nil {
		return n
	}
	return 0
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
	value, _ := formatted[key].(string)
	return strings.TrimSpace(value)
}

func firstNonBlank(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}

// Index adds or replaces records.
func (m *Meili) Index(records []Record) error {
	if len(records) == 0 {
		return nil
	}
	_, err := m.client.Index(idxEntities).AddDocuments(records, nil)
	return err
}

func (m *Meili) Delete(key string) error {
	_, err := m.client.Index(idxEntities).DeleteDocument(key, nil)
	return err
}
