package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"bookshelf/api/internal/reorder"
)

// ReorderStore gives the reorder engine access to chapter and page
// placement. Chapter priority and page priority map to Position.
type ReorderStore struct {
	db *sql.DB
}

func NewReorderStore(db *sql.DB) *ReorderStore {
	return &ReorderStore{db: db}
}

func (s *ReorderStore) Resolve(ctx context.Context, ref reorder.Ref) (reorder.Entity, error) {
	return resolveEntity(ctx, s.db, ref)
}

func (s *ReorderStore) BookExists(ctx context.Context, bookID int64) (bool, error) {
	return bookExists(ctx, s.db, bookID)
}

func (s *ReorderStore) InTx(ctx context.Context, fn func(ctx context.Context, tx reorder.Tx) error) error {
	return inTx(ctx, s.db, func(tx *sql.Tx) error {
		return fn(ctx, &reorderTx{tx: tx})
	})
}

type reorderTx struct {
	tx *sql.Tx
}

func (t *reorderTx) Resolve(ctx context.Context, ref reorder.Ref) (reorder.Entity, error) {
	return resolveEntity(ctx, t.tx, ref)
}

func (t *reorderTx) BookExists(ctx context.Context, bookID int64) (bool, error) {
	return bookExists(ctx, t.tx, bookID)
}

func (t *reorderTx) LockBooks(ctx context.Context, bookIDs []int64) error {
	if len(bookIDs) == 0 {
		return nil
	}
	query, args, err := psql.Select("id").From("books").
		Where(sq.Eq{"id": bookIDs}).
		OrderBy("id").
		Suffix("FOR UPDATE").
		ToSql()
	if err != nil {
		return fmt.Errorf("build lock query: %w", err)
	}
	rows, err := t.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("lock books: %w", err)
	}
	defer rows.Close()

	locked := 0
	for rows.Next() {
		locked++
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("lock books: %w", err)
	}
	if locked != len(bookIDs) {
		return reorder.ErrNotFound
	}
	return nil
}

func (t *reorderTx) Siblings(ctx context.Context, scope reorder.Scope) ([]reorder.Entity, error) {
	var builder sq.SelectBuilder
	switch {
	case scope.Kind == reorder.KindChapter:
		builder = psql.Select("id", "book_id", "0", "priority", "name").From("chapters").
			Where(sq.Eq{"book_id": scope.BookID})
	case scope.Kind == reorder.KindPage && scope.ChapterID != 0:
		builder = psql.Select("id", "book_id", "COALESCE(chapter_id, 0)", "priority", "name").From("pages").
			Where(sq.Eq{"chapter_id": scope.ChapterID})
	case scope.Kind == reorder.KindPage:
		builder = psql.Select("id", "book_id", "0", "priority", "name").From("pages").
			Where(sq.Eq{"book_id": scope.BookID, "chapter_id": nil})
	default:
		return nil, fmt.Errorf("siblings of %s", scope.Kind)
	}
	query, args, err := builder.OrderBy("priority", "id").ToSql()
	if err != nil {
		return nil, fmt.Errorf("build siblings query: %w", err)
	}
	rows, err := t.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query siblings: %w", err)
	}
	defer rows.Close()

	members := make([]reorder.Entity, 0)
	for rows.Next() {
		entity := reorder.Entity{Ref: reorder.Ref{Kind: scope.Kind}}
		if err := rows.Scan(&entity.ID, &entity.BookID, &entity.ChapterID, &entity.Position, &entity.Name); err != nil {
			return nil, fmt.Errorf("scan sibling: %w", err)
		}
		members = append(members, entity)
	}
	return members, rows.Err()
}

func (t *reorderTx) Apply(ctx context.Context, write reorder.Write) error {
	table := "chapters"
	if write.Kind == reorder.KindPage {
		table = "pages"
	}
	update := psql.Update(table)
	changed := false
	if write.BookChanged {
		update = update.Set("book_id", write.BookID)
		changed = true
	}
	if write.ChapterChanged && write.Kind == reorder.KindPage {
		update = update.Set("chapter_id", nullableID(write.ChapterID))
		changed = true
	}
	if write.PositionChanged {
		update = update.Set("priority", write.Position)
		changed = true
	}
	if !changed {
		return nil
	}
	query, args, err := update.Where(sq.Eq{"id": write.ID}).ToSql()
	if err != nil {
		return fmt.Errorf("build update: %w", err)
	}
	res, err := t.tx.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update %s: %w", write.Ref, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return reorder.ErrNotFound
	}
	return nil
}

func (t *reorderTx) CarryPages(ctx context.Context, chapterID, bookID int64, except []int64) error {
	update := psql.Update("pages").Set("book_id", bookID).Where(sq.Eq{"chapter_id": chapterID})
	if len(except) > 0 {
		update = update.Where(sq.NotEq{"id": except})
	}
	query, args, err := update.ToSql()
	if err != nil {
		return fmt.Errorf("build carry: %w", err)
	}
	if _, err := t.tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("carry pages: %w", err)
	}
	return nil
}

func resolveEntity(ctx context.Context, q queryer, ref reorder.Ref) (reorder.Entity, error) {
	var query string
	switch ref.Kind {
	case reorder.KindChapter:
		query = `SELECT id, book_id, 0, priority, name FROM chapters WHERE id=$1`
	case reorder.KindPage:
		query = `SELECT id, book_id, COALESCE(chapter_id, 0), priority, name FROM pages WHERE id=$1`
	default:
		return reorder.Entity{}, reorder.ErrNotFound
	}
	entity := reorder.Entity{Ref: ref}
	err := q.QueryRowContext(ctx, query, ref.ID).Scan(&entity.ID, &entity.BookID, &entity.ChapterID, &entity.Position, &entity.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return reorder.Entity{}, reorder.ErrNotFound
	}
	if err != nil {
		return reorder.Entity{}, fmt.Errorf("resolve %s: %w", ref, err)
	}
	return entity, nil
}

func bookExists(ctx context.Context, q queryer, bookID int64) (bool, error) {
	var exists bool
	if err := q.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM books WHERE id=$1)`, bookID).Scan(&exists); err != nil {
		return false, fmt.Errorf("check book %d: %w", bookID, err)
	}
	return exists, nil
}
