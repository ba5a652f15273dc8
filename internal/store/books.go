package store

import (
	"context"
	"database/sql"
	"fmt"

	sq "github.com/Masterminds/squirrel"
)

const bookColumns = `b.id, b.name, b.slug, b.description, COALESCE(b.created_by::text, ''), COALESCE(b.updated_by::text, ''), b.created_at, b.updated_at`

func scanBook(row interface{ Scan(...any) error }) (Book, error) {
	var book Book
	err := row.Scan(&book.ID, &book.Name, &book.Slug, &book.Description, &book.CreatedBy, &book.UpdatedBy, &book.CreatedAt, &book.UpdatedAt)
	return book, err
}

func (s *PostgresStore) queryBooks(ctx context.Context, builder sq.SelectBuilder) ([]Book, error) {
	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build books query: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query books: %w", err)
	}
	defer rows.Close()

	books := make([]Book, 0)
	for rows.Next() {
		book, err := scanBook(rows)
		if err != nil {
			return nil, fmt.Errorf("scan book: %w", err)
		}
		books = append(books, book)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate books: %w", err)
	}
	return books, nil
}

func (s *PostgresStore) ListBooks(ctx context.Context, opts ListOptions) ([]Book, error) {
	builder := psql.Select(bookColumns).From("books b").OrderBy(orderClause("b.", opts))
	if opts.Limit > 0 {
		builder = builder.Limit(uint64(opts.Limit))
	}
	if opts.Offset > 0 {
		builder = builder.Offset(uint64(opts.Offset))
	}
	return s.queryBooks(ctx, builder)
}

func (s *PostgresStore) BooksByIDs(ctx context.Context, ids []int64) ([]Book, error) {
	if len(ids) == 0 {
		return []Book{}, nil
	}
	return s.queryBooks(ctx, psql.Select(bookColumns).From("books b").Where(sq.Eq{"b.id": ids}).OrderBy("b.name", "b.id"))
}

func (s *PostgresStore) RecentBooks(ctx context.Context, limit int) ([]Book, error) {
	return s.queryBooks(ctx, psql.Select(bookColumns).From("books b").OrderBy("b.created_at DESC", "b.id DESC").Limit(uint64(limit)))
}

func (s *PostgresStore) GetBookBySlug(ctx context.Context, slug string) (Book, error) {
	return scanBook(s.db.QueryRowContext(ctx, `SELECT `+bookColumns+` FROM books b WHERE b.slug = $1`, slug))
}

func (s *PostgresStore) GetBookByID(ctx context.Context, bookID int64) (Book, error) {
	return scanBook(s.db.QueryRowContext(ctx, `SELECT `+bookColumns+` FROM books b WHERE b.id = $1`, bookID))
}

func (s *PostgresStore) CreateBook(ctx context.Context, book Book) (Book, error) {
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO books AS b (name, slug, description, created_by, updated_by)
		VALUES ($1, $2, $3, $4, $4)
		RETURNING `+bookColumns,
		book.Name, book.Slug, book.Description, nullableUser(book.CreatedBy),
	)
	created, err := scanBook(row)
	if err != nil {
		return Book{}, fmt.Errorf("insert book: %w", err)
	}
	return created, nil
}

func (s *PostgresStore) UpdateBook(ctx context.Context, book Book) (Book, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE books AS b
		SET name=$2, description=$3, updated_by=$4, updated_at=NOW()
		WHERE b.id=$1
		RETURNING `+bookColumns,
		book.ID, book.Name, book.Description, nullableUser(book.UpdatedBy),
	)
	updated, err := scanBook(row)
	if err != nil {
		return Book{}, err
	}
	return updated, nil
}

// DeleteBook removes a book with its chapters and pages, and drops the
// permission rows that pointed into it.
func (s *PostgresStore) DeleteBook(ctx context.Context, bookID int64) error {
	return inTx(ctx, s.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM entity_permissions
			WHERE (entity_type='book' AND entity_id=$1)
				OR (entity_type='chapter' AND entity_id IN (SELECT id FROM chapters WHERE book_id=$1))
				OR (entity_type='page' AND entity_id IN (SELECT id FROM pages WHERE book_id=$1))
		`, bookID); err != nil {
			return fmt.Errorf("delete restrictions: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM joint_permissions WHERE book_id=$1`, bookID); err != nil {
			return fmt.Errorf("delete joint permissions: %w", err)
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM books WHERE id=$1`, bookID)
		if err != nil {
			return fmt.Errorf("delete book: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return sql.ErrNoRows
		}
		return nil
	})
}

// BookTree loads a book with chapters and pages ordered by priority then id.
func (s *PostgresStore) BookTree(ctx context.Context, bookID int64) (BookTree, error) {
	book, err := s.GetBookByID(ctx, bookID)
	if err != nil {
		return BookTree{}, err
	}
	tree := BookTree{Book: book, Chapters: []Chapter{}, Pages: []Page{}}

	chapters, err := s.chaptersInBook(ctx, bookID)
	if err != nil {
		return BookTree{}, err
	}
	pages, err := s.pagesInBook(ctx, bookID)
	if err != nil {
		return BookTree{}, err
	}

	index := make(map[int64]int, len(chapters))
	for i, chapter := range chapters {
		chapter.Pages = []Page{}
		chapters[i] = chapter
		index[chapter.ID] = i
	}
	for _, page := range pages {
		if i, ok := index[page.ChapterID]; ok && page.ChapterID != 0 {
			chapters[i].Pages = append(chapters[i].Pages, page)
			continue
		}
		tree.Pages = append(tree.Pages, page)
	}
	tree.Chapters = chapters
	return tree, nil
}
