package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"
)

// PgFTS searches with PostgreSQL full-text search when Meilisearch is not
// available, and loads index records for Meilisearch.
type PgFTS struct {
	db *sql.DB
}

func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true; if Postgres is down, the whole app is down.
func (p *PgFTS) Healthy() bool {
	return true
}

// Search executes a UNION ALL query across shelves, books, chapters and
// pages using plainto_tsquery and ts_rank, with ts_headline for snippets.
func (p *PgFTS) Search(ctx context.Context, q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	tsQuery := "plainto_tsquery('english', $1)"
	args := []any{q.Text}
	bookFilter := ""
	if q.FilterBookID != 0 {
		args = append(args, q.FilterBookID)
		bookFilter = " AND %s = $2"
	}
	wants := func(t ResultType) bool { return q.FilterType == "" || q.FilterType == t }

	var subQueries []string

	if wants(ResultBookshelf) && q.FilterBookID == 0 {
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'bookshelf'::text AS type, s.id, s.name,
				ts_headline('english', coalesce(s.description, ''), %s, 'MaxFragments=1,MaxWords=30') AS snippet,
				s.slug, 0::bigint AS book_id, ''::text AS book_slug,
				ts_rank(s.fts, %s) AS rank
			FROM bookshelves s
			WHERE s.fts @@ %s`, tsQuery, tsQuery, tsQuery))
	}

	if wants(ResultBook) {
		where := "b.fts @@ " + tsQuery
		if bookFilter != "" {
			where += fmt.Sprintf(bookFilter, "b.id")
		}
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'book'::text AS type, b.id, b.name,
				ts_headline('english', coalesce(b.description, ''), %s, 'MaxFragments=1,MaxWords=30') AS snippet,
				b.slug, b.id AS book_id, b.slug AS book_slug,
				ts_rank(b.fts, %s) AS rank
			FROM books b
			WHERE %s`, tsQuery, tsQuery, where))
	}

	if wants(ResultChapter) {
		where := "c.fts @@ " + tsQuery
		if bookFilter != "" {
			where += fmt.Sprintf(bookFilter, "c.book_id")
		}
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'chapter'::text AS type, c.id, c.name,
				ts_headline('english', coalesce(c.description, ''), %s, 'MaxFragments=1,MaxWords=30') AS snippet,
				c.slug, c.book_id, b.slug AS book_slug,
				ts_rank(c.fts, %s) AS rank
			FROM chapters c
			JOIN books b ON b.id = c.book_id
			WHERE %s`, tsQuery, tsQuery, where))
	}

	if wants(ResultPage) {
		where := "p.fts @@ " + tsQuery + " AND p.draft = FALSE"
		if bookFilter != "" {
			where += fmt.Sprintf(bookFilter, "p.book_id")
		}
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'page'::text AS type, p.id, p.name,
				ts_headline('english', coalesce(p.text, ''), %s, 'MaxFragments=1,MaxWords=30') AS snippet,
				p.slug, p.book_id, b.slug AS book_slug,
				ts_rank(p.fts, %s) AS rank
			FROM pages p
			JOIN books b ON b.id = p.book_id
			WHERE %s`, tsQuery, tsQuery, where))
	}

	if len(subQueries) == 0 {
		return nil, 0, nil
	}

	union := strings.Join(subQueries, " UNION ALL ")
	countSQL := fmt.Sprintf("SELECT count(*) FROM (%s) sub", union)
	dataSQL := fmt.Sprintf(`SELECT type, id, name, snippet, slug, book_id, book_slug
		FROM (%s) sub
		ORDER BY rank DESC, type, id
		LIMIT %d OFFSET %d`, union, limit, offset)

	var total int
	if err := p.db.QueryRowContext(ctx, countSQL, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, dataSQL, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		var typ string
		if err := rows.Scan(&typ, &r.ID, &r.Name, &r.Snippet, &r.Slug, &r.BookID, &r.BookSlug); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		r.Type = ResultType(typ)
		results = append(results, r)
	}
	return results, total, rows.Err()
}

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// LoadAllRecords returns every searchable entity for a full reindex.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]Record, error) {
	return p.loadRecords(ctx, nil)
}

// LoadRecords returns the records of the given entities. Entities that no
// longer exist are skipped.
func (p *PgFTS) LoadRecords(ctx context.Context, refs []Ref) ([]Record, error) {
	if len(refs) == 0 {
		return []Record{}, nil
	}
	ids := make(map[ResultType][]int64)
	for _, ref := range refs {
		ids[ref.Type] = append(ids[ref.Type], ref.ID)
	}
	return p.loadRecords(ctx, ids)
}

// loadRecords loads every entity when ids is nil, otherwise only the listed
// ids per type.
func (p *PgFTS) loadRecords(ctx context.Context, ids map[ResultType][]int64) ([]Record, error) {
	selects := []struct {
		rtyp    ResultType
		builder sq.SelectBuilder
		idCol   string
	}{
		{
			rtyp:    ResultBookshelf,
			builder: psql.Select("s.id", "s.name", "s.description", "s.slug", "0", "''").From("bookshelves s"),
			idCol:   "s.id",
		},
		{
			rtyp:    ResultBook,
			builder: psql.Select("b.id", "b.name", "b.description", "b.slug", "b.id", "b.slug").From("books b"),
			idCol:   "b.id",
		},
		{
			rtyp: ResultChapter,
			builder: psql.Select("c.id", "c.name", "c.description", "c.slug", "c.book_id", "b.slug").
				From("chapters c").Join("books b ON b.id = c.book_id"),
			idCol: "c.id",
		},
		{
			rtyp: ResultPage,
			builder: psql.Select("p.id", "p.name", "p.text", "p.slug", "p.book_id", "b.slug").
				From("pages p").Join("books b ON b.id = p.book_id").Where(sq.Eq{"p.draft": false}),
			idCol: "p.id",
		},
	}

	records := make([]Record, 0)
	for _, sel := range selects {
		builder := sel.builder
		if ids != nil {
			wanted := ids[sel.rtyp]
			if len(wanted) == 0 {
				continue
			}
			builder = builder.Where(sq.Eq{sel.idCol: wanted})
		}
		query, args, err := builder.ToSql()
		if err != nil {
			return nil, fmt.Errorf("build %s records query: %w", sel.rtyp, err)
		}
		loaded, err := p.scanRecords(ctx, sel.rtyp, query, args...)
		if err != nil {
			return nil, err
		}
		records = append(records, loaded...)
	}
	return records, nil
}

func (p *PgFTS) scanRecords(ctx context.Context, rtyp ResultType, query string, args ...any) ([]Record, error) {
	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("load %s records: %w", rtyp, err)
	}
	defer rows.Close()

	records := make([]Record, 0)
	for rows.Next() {
		r := Record{Type: rtyp}
		if err := rows.Scan(&r.ID, &r.Name, &r.Body, &r.Slug, &r.BookID, &r.BookSlug); err != nil {
			return nil, fmt.Errorf("scan %s record: %w", rtyp, err)
		}
		r.Key = RecordKey(rtyp, r.ID)
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s records: %w", rtyp, err)
	}
	return records, nil
}
