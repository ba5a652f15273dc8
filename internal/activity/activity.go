package activity

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sirupsen/logrus"

	"bookshelf/api/internal/reorder"
	"bookshelf/api/internal/store"
)

const (
	BookshelfCreate   = "bookshelf_create"
	BookshelfDelete   = "bookshelf_delete"
	BookCreate        = "book_create"
	BookUpdate        = "book_update"
	BookDelete        = "book_delete"
	BookSort          = reorder.ActivityBookSort
	ChapterCreate     = "chapter_create"
	PageCreate        = "page_create"
	PermissionsUpdate = "permissions_update"
)

var recorded = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "bookshelf",
	Subsystem: "activity",
	Name:      "recorded_total",
	Help:      "Total number of activity entries by type and outcome.",
}, []string{"type", "result"})

type Store interface {
	InsertActivity(ctx context.Context, activity store.Activity) error
}

// Recorder writes the activity log. A failed insert is logged and never
// reaches the caller.
type Recorder struct {
	store  Store
	logger *logrus.Entry
}

func NewRecorder(s Store, logger *logrus.Entry) *Recorder {
	if logger == nil {
		logger = logrus.WithField("component", "activity")
	}
	return &Recorder{store: s, logger: logger}
}

func (r *Recorder) Log(ctx context.Context, kind, entityType string, entityID int64, userID, detail string) {
	err := r.store.InsertActivity(ctx, store.Activity{
		Type:       kind,
		EntityType: entityType,
		EntityID:   entityID,
		UserID:     userID,
		Detail:     detail,
	})
	if err != nil {
		recorded.WithLabelValues(kind, "error").Inc()
		r.logger.WithError(err).WithFields(logrus.Fields{
			"type":      kind,
			"entity":    entityType,
			"entity_id": entityID,
		}).Error("record activity")
		return
	}
	recorded.WithLabelValues(kind, "ok").Inc()
}

// Record logs a book-level event on behalf of a reorder actor.
func (r *Recorder) Record(ctx context.Context, kind string, bookID int64, actor reorder.Actor) {
	r.Log(ctx, kind, store.EntityBook, bookID, actor.UserID, "")
}
