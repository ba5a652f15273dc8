package reorder

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	reorderBatches = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "bookshelf",
		Subsystem: "reorder",
		Name:      "batches_total",
		Help:      "Total number of reorder batches broken down by outcome.",
	}, []string{"result"})

	reorderWrites = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "bookshelf",
		Subsystem: "reorder",
		Name:      "entity_writes_total",
		Help:      "Total number of chapter and page rows rewritten by reorder batches.",
	}, []string{"kind"})

	reorderSideEffectFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "bookshelf",
		Subsystem: "reorder",
		Name:      "side_effect_failures_total",
		Help:      "Total number of post-commit side effects that failed.",
	}, []string{"effect"})

	reorderDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "bookshelf",
		Subsystem: "reorder",
		Name:      "duration_seconds",
		Help:      "Time spent validating and applying a reorder batch.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"result"})
)

func observeBatch(elapsed time.Duration, result Result, err error) {
	label := resultLabel(result, err)
	reorderBatches.WithLabelValues(label).Inc()
	reorderDuration.WithLabelValues(label).Observe(elapsed.Seconds())
}

func recordWrites(writes []Write) {
	for _, write := range writes {
		reorderWrites.WithLabelValues(string(write.Kind)).Inc()
	}
}

func recordSideEffectFailure(effect string) {
	reorderSideEffectFailures.WithLabelValues(effect).Inc()
}

func resultLabel(result Result, err error) string {
	var (
		kindErr       *UnknownKindError
		entityErr     *UnknownEntityError
		targetErr     *InconsistentTargetError
		permissionErr *PermissionDeniedError
	)
	switch {
	case err == nil && len(result.Writes) == 0:
		return "noop"
	case err == nil:
		return "applied"
	case errors.Is(err, ErrEmptyBatch):
		return "empty"
	case errors.As(err, &kindErr):
		return "unknown_kind"
	case errors.As(err, &entityErr):
		return "unknown_entity"
	case errors.As(err, &targetErr):
		return "inconsistent"
	case errors.As(err, &permissionErr):
		return "denied"
	default:
		return "failed"
	}
}
