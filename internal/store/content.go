package store

import (
	"context"
	"database/sql"
	"fmt"

	sq "github.com/Masterminds/squirrel"
)

const chapterColumns = `c.id, c.book_id, c.name, c.slug, c.description, c.priority, COALESCE(c.created_by::text, ''), COALESCE(c.updated_by::text, ''), c.created_at, c.updated_at`

const pageColumns = `p.id, p.book_id, COALESCE(p.chapter_id, 0), p.name, p.slug, p.html, p.text, p.priority, p.draft, COALESCE(p.created_by::text, ''), COALESCE(p.updated_by::text, ''), p.created_at, p.updated_at`

func scanChapter(row interface{ Scan(...any) error }) (Chapter, error) {
	var c Chapter
	err := row.Scan(&c.ID, &c.BookID, &c.Name, &c.Slug, &c.Description, &c.Priority, &c.CreatedBy, &c.UpdatedBy, &c.CreatedAt, &c.UpdatedAt)
	return c, err
}

func scanPage(row interface{ Scan(...any) error }) (Page, error) {
	var p Page
	err := row.Scan(&p.ID, &p.BookID, &p.ChapterID, &p.Name, &p.Slug, &p.HTML, &p.Text, &p.Priority, &p.Draft, &p.CreatedBy, &p.UpdatedBy, &p.CreatedAt, &p.UpdatedAt)
	return p, err
}

func (s *PostgresStore) chaptersInBook(ctx context.Context, bookID int64) ([]Chapter, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+chapterColumns+` FROM chapters c WHERE c.book_id=$1 ORDER BY c.priority, c.id`, bookID)
	if err != nil {
		return nil, fmt.Errorf("query chapters: %w", err)
	}
	defer rows.Close()

	chapters := make([]Chapter, 0)
	for rows.Next() {
		chapter, err := scanChapter(rows)
		if err != nil {
			return nil, fmt.Errorf("scan chapter: %w", err)
		}
		chapters = append(chapters, chapter)
	}
	return chapters, rows.Err()
}

func (s *PostgresStore) pagesInBook(ctx context.Context, bookID int64) ([]Page, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+pageColumns+` FROM pages p WHERE p.book_id=$1 AND p.draft = FALSE ORDER BY p.priority, p.id`, bookID)
	if err != nil {
		return nil, fmt.Errorf("query pages: %w", err)
	}
	defer rows.Close()

	pages := make([]Page, 0)
	for rows.Next() {
		page, err := scanPage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan page: %w", err)
		}
		pages = append(pages, page)
	}
	return pages, rows.Err()
}

func (s *PostgresStore) GetChapter(ctx context.Context, bookID int64, slug string) (Chapter, error) {
	return scanChapter(s.db.QueryRowContext(ctx, `SELECT `+chapterColumns+` FROM chapters c WHERE c.book_id=$1 AND c.slug=$2 ORDER BY c.id LIMIT 1`, bookID, slug))
}

func (s *PostgresStore) GetChapterByID(ctx context.Context, chapterID int64) (Chapter, error) {
	return scanChapter(s.db.QueryRowContext(ctx, `SELECT `+chapterColumns+` FROM chapters c WHERE c.id=$1`, chapterID))
}

func (s *PostgresStore) GetPage(ctx context.Context, bookID int64, slug string) (Page, error) {
	return scanPage(s.db.QueryRowContext(ctx, `SELECT `+pageColumns+` FROM pages p WHERE p.book_id=$1 AND p.slug=$2 ORDER BY p.id LIMIT 1`, bookID, slug))
}

func (s *PostgresStore) GetPageByID(ctx context.Context, pageID int64) (Page, error) {
	return scanPage(s.db.QueryRowContext(ctx, `SELECT `+pageColumns+` FROM pages p WHERE p.id=$1`, pageID))
}

// CreateChapter appends chapter after the last chapter of its book.
func (s *PostgresStore) CreateChapter(ctx context.Context, chapter Chapter) (Chapter, error) {
	var created Chapter
	err := inTx(ctx, s.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `SELECT id FROM books WHERE id=$1 FOR UPDATE`, chapter.BookID); err != nil {
			return fmt.Errorf("lock book: %w", err)
		}
		row := tx.QueryRowContext(ctx, `
			INSERT INTO chapters AS c (book_id, name, slug, description, priority, created_by, updated_by)
			VALUES ($1, $2, $3, $4, (SELECT COALESCE(MAX(priority) + 1, 0) FROM chapters WHERE book_id=$1), $5, $5)
			RETURNING `+chapterColumns,
			chapter.BookID, chapter.Name, chapter.Slug, chapter.Description, nullableUser(chapter.CreatedBy),
		)
		var err error
		created, err = scanChapter(row)
		if err != nil {
			return fmt.Errorf("insert chapter: %w", err)
		}
		return nil
	})
	return created, err
}

// CreatePage appends page to the end of its chapter, or of the book's
// top level when ChapterID is zero.
func (s *PostgresStore) CreatePage(ctx context.Context, page Page) (Page, error) {
	var created Page
	err := inTx(ctx, s.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `SELECT id FROM books WHERE id=$1 FOR UPDATE`, page.BookID); err != nil {
			return fmt.Errorf("lock book: %w", err)
		}
		next := `(SELECT COALESCE(MAX(priority) + 1, 0) FROM pages WHERE book_id=$1 AND chapter_id IS NULL)`
		if page.ChapterID != 0 {
			next = `(SELECT COALESCE(MAX(priority) + 1, 0) FROM pages WHERE chapter_id=$2)`
		}
		row := tx.QueryRowContext(ctx, `
			INSERT INTO pages AS p (book_id, chapter_id, name, slug, html, text, draft, priority, created_by, updated_by)
			VALUES ($1, $2, $3, $4, $5, $6, $7, `+next+`, $8, $8)
			RETURNING `+pageColumns,
			page.BookID, nullableID(page.ChapterID), page.Name, page.Slug, page.HTML, page.Text, page.Draft, nullableUser(page.CreatedBy),
		)
		var err error
		created, err = scanPage(row)
		if err != nil {
			return fmt.Errorf("insert page: %w", err)
		}
		return nil
	})
	return created, err
}

func (s *PostgresStore) DraftPages(ctx context.Context, userID string, limit int) ([]EntitySummary, error) {
	return s.pageSummaries(ctx, psql.Select().
		Where(sq.Eq{"p.draft": true}).
		Where("p.created_by::text = ?", userID).
		OrderBy("p.updated_at DESC", "p.id DESC").
		Limit(uint64(limit)))
}

func (s *PostgresStore) RecentlyUpdatedPages(ctx context.Context, limit int) ([]EntitySummary, error) {
	return s.pageSummaries(ctx, psql.Select().
		Where(sq.Eq{"p.draft": false}).
		OrderBy("p.updated_at DESC", "p.id DESC").
		Limit(uint64(limit)))
}

func (s *PostgresStore) pageSummaries(ctx context.Context, builder sq.SelectBuilder) ([]EntitySummary, error) {
	builder = builder.Columns(
		"'page'", "p.id", "p.name", "p.slug", "p.book_id", "b.slug",
		"COALESCE(p.created_by::text, '')", "p.created_at", "p.updated_at",
	).From("pages p").Join("books b ON b.id = p.book_id")
	return s.querySummaries(ctx, builder)
}

func (s *PostgresStore) querySummaries(ctx context.Context, builder sq.Sqlizer) ([]EntitySummary, error) {
	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build summary query: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query summaries: %w", err)
	}
	defer rows.Close()

	items := make([]EntitySummary, 0)
	for rows.Next() {
		var item EntitySummary
		if err := rows.Scan(&item.Type, &item.ID, &item.Name, &item.Slug, &item.BookID, &item.BookSlug, &item.CreatedBy, &item.CreatedAt, &item.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan summary: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// RecentlyCreated lists what userID created most recently, newest first.
func (s *PostgresStore) RecentlyCreated(ctx context.Context, userID, entityType string, limit int) ([]EntitySummary, error) {
	var builder sq.SelectBuilder
	switch entityType {
	case EntityPage:
		builder = psql.Select("'page'", "p.id", "p.name", "p.slug", "p.book_id", "b.slug", "COALESCE(p.created_by::text, '')", "p.created_at", "p.updated_at").
			From("pages p").Join("books b ON b.id = p.book_id").
			Where("p.created_by::text = ?", userID).Where(sq.Eq{"p.draft": false}).
			OrderBy("p.created_at DESC", "p.id DESC")
	case EntityChapter:
		builder = psql.Select("'chapter'", "c.id", "c.name", "c.slug", "c.book_id", "b.slug", "COALESCE(c.created_by::text, '')", "c.created_at", "c.updated_at").
			From("chapters c").Join("books b ON b.id = c.book_id").
			Where("c.created_by::text = ?", userID).
			OrderBy("c.created_at DESC", "c.id DESC")
	case EntityBook:
		builder = psql.Select("'book'", "b.id", "b.name", "b.slug", "b.id", "b.slug", "COALESCE(b.created_by::text, '')", "b.created_at", "b.updated_at").
			From("books b").
			Where("b.created_by::text = ?", userID).
			OrderBy("b.created_at DESC", "b.id DESC")
	default:
		return nil, fmt.Errorf("unknown entity type %q", entityType)
	}
	return s.querySummaries(ctx, builder.Limit(uint64(limit)))
}

func (s *PostgresStore) CreatedCounts(ctx context.Context, userID string) (ContentCounts, error) {
	var counts ContentCounts
	err := s.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM pages WHERE created_by::text = $1 AND draft = FALSE),
			(SELECT COUNT(*) FROM chapters WHERE created_by::text = $1),
			(SELECT COUNT(*) FROM books WHERE created_by::text = $1)
	`, userID).Scan(&counts.Pages, &counts.Chapters, &counts.Books)
	if err != nil {
		return ContentCounts{}, fmt.Errorf("count created content: %w", err)
	}
	return counts, nil
}
