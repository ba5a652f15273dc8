package reorder

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/sirupsen/logrus"
)

// ActivityBookSort is the audit event emitted once per changed book.
const ActivityBookSort = "book_sort"

// Store opens the transaction a plan is applied in.
type Store interface {
	Resolver
	// InTx runs fn inside one transaction. The transaction commits only when
	// fn returns nil and rolls back otherwise.
	InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// Tx is the write side of the store, valid for a single transaction.
type Tx interface {
	Resolver
	// LockBooks takes a row lock on every book for the rest of the
	// transaction. It returns ErrNotFound if a book disappeared.
	LockBooks(ctx context.Context, bookIDs []int64) error
	Siblings(ctx context.Context, scope Scope) ([]Entity, error)
	Apply(ctx context.Context, write Write) error
	// CarryPages moves the pages of a chapter to the chapter's new book,
	// skipping the ids in except.
	CarryPages(ctx context.Context, chapterID, bookID int64, except []int64) error
}

// PermissionRebuilder refreshes the derived permission rows of a book.
type PermissionRebuilder interface {
	RebuildForBook(ctx context.Context, bookID int64) error
}

// AuditSink records one activity. Failures are the sink's concern.
type AuditSink interface {
	Record(ctx context.Context, kind string, bookID int64, actor Actor)
}

// Result describes a committed batch. Affected is empty for a batch that
// changed nothing.
type Result struct {
	Affected []int64
	Writes   []Write
}

type Engine struct {
	store      Store
	authorizer Authorizer
	rebuilder  PermissionRebuilder
	audit      AuditSink
	logger     *logrus.Entry
}

type Option func(*Engine)

func WithRebuilder(rebuilder PermissionRebuilder) Option {
	return func(e *Engine) { e.rebuilder = rebuilder }
}

func WithAuditSink(sink AuditSink) Option {
	return func(e *Engine) { e.audit = sink }
}

func WithLogger(logger *logrus.Entry) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

func NewEngine(store Store, authorizer Authorizer, opts ...Option) *Engine {
	e := &Engine{
		store:      store,
		authorizer: authorizer,
		logger:     logrus.WithField("component", "reorder"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ApplyReorder validates and applies batch on behalf of actor. Validation
// errors leave the store untouched. Any other failure is an
// *ApplyFailedError and the transaction has been rolled back.
func (e *Engine) ApplyReorder(ctx context.Context, batch Batch, actor Actor) (Result, error) {
	started := time.Now()
	result, err := e.applyReorder(ctx, batch, actor)
	observeBatch(time.Since(started), result, err)
	return result, err
}

func (e *Engine) applyReorder(ctx context.Context, batch Batch, actor Actor) (Result, error) {
	logger := e.logger.WithFields(logrus.Fields{
		"user_id":      actor.UserID,
		"instructions": len(batch.Moves),
	})

	plan, err := BuildPlan(ctx, batch, actor, e.store, e.authorizer)
	if err != nil {
		if IsValidation(err) {
			logger.WithError(err).Info("reorder rejected")
		} else {
			logger.WithError(err).Error("reorder validation failed")
		}
		return Result{}, err
	}

	var writes []Write
	err = e.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		applied, err := e.apply(ctx, tx, plan)
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		writes = applied
		return nil
	})
	if err != nil {
		if IsValidation(err) {
			logger.WithError(err).Info("reorder rejected under lock")
			return Result{}, err
		}
		logger.WithError(err).Error("reorder apply failed")
		return Result{}, failed("apply", err)
	}

	result := Result{Affected: affectedBooks(writes), Writes: writes}
	recordWrites(writes)

	// The batch is committed; side effects must not be cut short by the caller.
	sideCtx := context.WithoutCancel(ctx)
	for _, bookID := range result.Affected {
		if e.rebuilder != nil {
			if err := e.rebuilder.RebuildForBook(sideCtx, bookID); err != nil {
				recordSideEffectFailure("rebuild")
				logger.WithError(err).WithField("book_id", bookID).Error("rebuild joint permissions")
			}
		}
		if e.audit != nil {
			e.audit.Record(sideCtx, ActivityBookSort, bookID, actor)
		}
	}

	logger.WithFields(logrus.Fields{
		"books":  result.Affected,
		"writes": len(writes),
	}).Info("reorder applied")
	return result, nil
}

func (e *Engine) apply(ctx context.Context, tx Tx, plan *Plan) ([]Write, error) {
	if err := tx.LockBooks(ctx, plan.touched); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("lock books: %w", ErrStalePlan)
		}
		return nil, fmt.Errorf("lock books: %w", err)
	}

	for _, pm := range plan.moves {
		current, err := tx.Resolve(ctx, pm.move.Ref)
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("%s: %w", pm.move.Ref, ErrStalePlan)
		}
		if err != nil {
			return nil, fmt.Errorf("reload %s: %w", pm.move.Ref, err)
		}
		if current.BookID != pm.current.BookID ||
			current.ChapterID != pm.current.ChapterID ||
			current.Position != pm.current.Position {
			return nil, fmt.Errorf("%s: %w", pm.move.Ref, ErrStalePlan)
		}
	}

	// Target chapters that the batch does not move were only checked before
	// their book was locked.
	for _, check := range plan.checks {
		if _, moved := plan.chapters[check.move.ChapterID]; moved {
			continue
		}
		chapter, err := tx.Resolve(ctx, Ref{Kind: KindChapter, ID: check.move.ChapterID})
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("chapter %d: %w", check.move.ChapterID, ErrStalePlan)
		}
		if err != nil {
			return nil, fmt.Errorf("reload chapter %d: %w", check.move.ChapterID, err)
		}
		if chapter.BookID != check.move.BookID {
			return nil, &InconsistentTargetError{
				Index:  check.index,
				Move:   check.move,
				Reason: fmt.Sprintf("chapter %d belongs to book %d, not book %d", chapter.ID, chapter.BookID, check.move.BookID),
			}
		}
	}

	siblings := make(map[Scope][]Entity)
	for _, scope := range plan.TargetScopes() {
		members, err := tx.Siblings(ctx, scope)
		if err != nil {
			return nil, fmt.Errorf("load siblings: %w", err)
		}
		siblings[scope] = members
	}

	writes := plan.Layout(siblings)
	// Chapters first. Pages with their own instruction are not carried,
	// their write already names the book they end up in.
	sort.SliceStable(writes, func(i, j int) bool {
		return writes[i].Kind == KindChapter && writes[j].Kind != KindChapter
	})
	for _, write := range writes {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := tx.Apply(ctx, write); err != nil {
			return nil, fmt.Errorf("write %s: %w", write.Ref, err)
		}
		if write.Kind == KindChapter && write.BookChanged {
			if err := tx.CarryPages(ctx, write.ID, write.BookID, plan.plannedPagesIn(write.ID)); err != nil {
				return nil, fmt.Errorf("carry pages of chapter %d: %w", write.ID, err)
			}
		}
	}
	return writes, nil
}
