package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"
)

const shelfColumns = `s.id, s.name, s.slug, s.description, COALESCE(s.created_by::text, ''), COALESCE(s.updated_by::text, ''), s.created_at, s.updated_at`

var listSortColumns = map[string]string{
	"name":       "name",
	"created_at": "created_at",
	"updated_at": "updated_at",
}

func orderClause(prefix string, opts ListOptions) string {
	column, ok := listSortColumns[strings.ToLower(opts.Sort)]
	if !ok {
		column = "name"
	}
	direction := "ASC"
	if strings.EqualFold(opts.Order, "desc") {
		direction = "DESC"
	}
	return fmt.Sprintf("%s%s %s, %sid ASC", prefix, column, direction, prefix)
}

func scanShelf(row interface{ Scan(...any) error }) (Bookshelf, error) {
	var shelf Bookshelf
	err := row.Scan(&shelf.ID, &shelf.Name, &shelf.Slug, &shelf.Description, &shelf.CreatedBy, &shelf.UpdatedBy, &shelf.CreatedAt, &shelf.UpdatedAt)
	return shelf, err
}

// ListShelves returns one page of shelves and the total number of shelves.
func (s *PostgresStore) ListShelves(ctx context.Context, opts ListOptions) ([]Bookshelf, int, error) {
	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM bookshelves`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count shelves: %w", err)
	}

	builder := psql.Select(shelfColumns).From("bookshelves s").OrderBy(orderClause("s.", opts))
	if opts.Limit > 0 {
		builder = builder.Limit(uint64(opts.Limit))
	}
	if opts.Offset > 0 {
		builder = builder.Offset(uint64(opts.Offset))
	}
	query, args, err := builder.ToSql()
	if err != nil {
		return nil, 0, fmt.Errorf("build shelves query: %w", err)
	}
	shelves, err := s.queryShelves(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	if err := s.attachShelfBooks(ctx, shelves); err != nil {
		return nil, 0, err
	}
	return shelves, total, nil
}

func (s *PostgresStore) RecentShelves(ctx context.Context, limit int) ([]Bookshelf, error) {
	query, args, err := psql.Select(shelfColumns).From("bookshelves s").
		OrderBy("s.updated_at DESC", "s.id DESC").Limit(uint64(limit)).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build recent shelves query: %w", err)
	}
	return s.queryShelves(ctx, query, args...)
}

func (s *PostgresStore) queryShelves(ctx context.Context, query string, args ...any) ([]Bookshelf, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query shelves: %w", err)
	}
	defer rows.Close()

	shelves := make([]Bookshelf, 0)
	for rows.Next() {
		shelf, err := scanShelf(rows)
		if err != nil {
			return nil, fmt.Errorf("scan shelf: %w", err)
		}
		shelves = append(shelves, shelf)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate shelves: %w", err)
	}
	return shelves, nil
}

func (s *PostgresStore) attachShelfBooks(ctx context.Context, shelves []Bookshelf) error {
	if len(shelves) == 0 {
		return nil
	}
	ids := make([]int64, 0, len(shelves))
	index := make(map[int64]int, len(shelves))
	for i, shelf := range shelves {
		ids = append(ids, shelf.ID)
		index[shelf.ID] = i
	}
	query, args, err := psql.Select("sb.bookshelf_id", bookColumns).
		From("bookshelves_books sb").
		Join("books b ON b.id = sb.book_id").
		Where(sq.Eq{"sb.bookshelf_id": ids}).
		OrderBy("sb.bookshelf_id", "sb.sort_order", "b.id").
		ToSql()
	if err != nil {
		return fmt.Errorf("build shelf books query: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("query shelf books: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var shelfID int64
		var book Book
		if err := rows.Scan(&shelfID, &book.ID, &book.Name, &book.Slug, &book.Description, &book.CreatedBy, &book.UpdatedBy, &book.CreatedAt, &book.UpdatedAt); err != nil {
			return fmt.Errorf("scan shelf book: %w", err)
		}
		i := index[shelfID]
		shelves[i].Books = append(shelves[i].Books, book)
	}
	return rows.Err()
}

func (s *PostgresStore) GetShelfBySlug(ctx context.Context, slug string) (Bookshelf, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+shelfColumns+` FROM bookshelves s WHERE s.slug = $1`, slug)
	shelf, err := scanShelf(row)
	if err != nil {
		return Bookshelf{}, err
	}
	shelves := []Bookshelf{shelf}
	if err := s.attachShelfBooks(ctx, shelves); err != nil {
		return Bookshelf{}, err
	}
	return shelves[0], nil
}

// CreateShelf stores shelf and links bookIDs to it in the given order.
func (s *PostgresStore) CreateShelf(ctx context.Context, shelf Bookshelf, bookIDs []int64) (Bookshelf, error) {
	err := inTx(ctx, s.db, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, `
			INSERT INTO bookshelves AS s (name, slug, description, created_by, updated_by)
			VALUES ($1, $2, $3, $4, $4)
			RETURNING `+shelfColumns,
			shelf.Name, shelf.Slug, shelf.Description, nullableUser(shelf.CreatedBy),
		)
		created, err := scanShelf(row)
		if err != nil {
			return fmt.Errorf("insert shelf: %w", err)
		}
		for i, bookID := range bookIDs {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO bookshelves_books (bookshelf_id, book_id, sort_order)
				VALUES ($1, $2, $3)
				ON CONFLICT (bookshelf_id, book_id) DO NOTHING
			`, created.ID, bookID, i); err != nil {
				return fmt.Errorf("link book %d: %w", bookID, err)
			}
		}
		shelf = created
		return nil
	})
	if err != nil {
		return Bookshelf{}, err
	}
	shelves := []Bookshelf{shelf}
	if err := s.attachShelfBooks(ctx, shelves); err != nil {
		return Bookshelf{}, err
	}
	return shelves[0], nil
}

func (s *PostgresStore) DeleteShelf(ctx context.Context, shelfID int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM bookshelves WHERE id=$1`, shelfID)
	if err != nil {
		return fmt.Errorf("delete shelf: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sql.ErrNoRows
	}
	return nil
}
