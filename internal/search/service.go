package search

import (
	"context"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sirupsen/logrus"
)

var searchQueries = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "bookshelf",
	Subsystem: "search",
	Name:      "queries_total",
	Help:      "Total number of search queries by backend that answered them.",
}, []string{"backend"})

// Visible reports whether the caller may see a result.
type Visible func(ctx context.Context, r Result) bool

// Service is the facade that tries Meilisearch first and falls back to PG FTS.
type Service struct {
	meili  *Meili
	pgfts  *PgFTS
	logger *logrus.Entry
	wg     sync.WaitGroup
}

// NewService creates a search service. meili may be nil if Meilisearch is not configured.
func NewService(meili *Meili, pgfts *PgFTS, logger *logrus.Entry) *Service {
	if logger == nil {
		logger = logrus.WithField("component", "search")
	}
	return &Service{meili: meili, pgfts: pgfts, logger: logger}
}

// Search tries Meilisearch if healthy, otherwise falls back to PG FTS.
// Results rejected by visible are dropped from the page and the total.
func (s *Service) Search(ctx context.Context, q Query, visible Visible) Response {
	if s.meili != nil && s.meili.Healthy() {
		results, total, err := s.meili.Search(q)
		if err == nil {
			searchQueries.WithLabelValues("meilisearch").Inc()
			return s.respond(ctx, q, results, total, visible)
		}
		s.logger.WithError(err).Warn("meilisearch error, falling back to pgfts")
	}

	results, total, err := s.pgfts.Search(ctx, q)
	if err != nil {
		searchQueries.WithLabelValues("error").Inc()
		s.logger.WithError(err).Error("pgfts search")
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	searchQueries.WithLabelValues("pgfts").Inc()
	return s.respond(ctx, q, results, total, visible)
}

func (s *Service) respond(ctx context.Context, q Query, results []Result, total int, visible Visible) Response {
	filtered := make([]Result, 0, len(results))
	for _, r := range results {
		if visible != nil && !visible(ctx, r) {
			total--
			continue
		}
		filtered = append(filtered, r)
	}
	if total < len(filtered) {
		total = len(filtered)
	}
	return Response{Results: filtered, Total: total, Query: q.Text}
}

func (s *Service) indexing() bool {
	return s.meili != nil && s.meili.Healthy()
}

// IndexRecord pushes one record to Meilisearch in the background.
func (s *Service) IndexRecord(r Record) {
	if !s.indexing() {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.meili.Index([]Record{r}); err != nil {
			s.logger.WithError(err).WithField("key", r.Key).Warn("index record")
		}
	}()
}

// Delete removes an entity from the index in the background.
func (s *Service) Delete(t ResultType, id int64) {
	if !s.indexing() {
		return
	}
	key := RecordKey(t, id)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.meili.Delete(key); err != nil {
			s.logger.WithError(err).WithField("key", key).Warn("delete record")
		}
	}()
}

// Reindex reloads the given entities from PG and pushes them to
// Meilisearch. Used after a sort moved chapters and pages between books.
func (s *Service) Reindex(ctx context.Context, refs []Ref) {
	if !s.indexing() || len(refs) == 0 {
		return
	}
	records, err := s.pgfts.LoadRecords(ctx, refs)
	if err != nil {
		s.logger.WithError(err).Warn("reindex load failed")
		return
	}
	if err := s.meili.Index(records); err != nil {
		s.logger.WithError(err).WithField("records", len(records)).Warn("reindex push failed")
	}
}

// ReindexAll reindexes all searchable entities from PostgreSQL into Meilisearch.
// It returns the number of records pushed.
func (s *Service) ReindexAll(ctx context.Context) (int, error) {
	if !s.indexing() {
		return 0, nil
	}
	records, err := s.pgfts.LoadAllRecords(ctx)
	if err != nil {
		return 0, err
	}
	if err := s.meili.Index(records); err != nil {
		return 0, err
	}
	return len(records), nil
}

// Wait blocks until background index writes have finished.
func (s *Service) Wait() {
	s.wg.Wait()
}
