package store

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"testing"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

func TestMigrationsRoundTripPostgres(t *testing.T) {
	dsn := strings.TrimSpace(os.Getenv("BOOKSHELF_TEST_DATABASE_URL"))
	if dsn == "" {
		t.Skip("BOOKSHELF_TEST_DATABASE_URL is not set")
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		t.Fatalf("open postgres: %v", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		t.Fatalf("ping postgres: %v", err)
	}

	if err := resetPublicSchema(ctx, db); err != nil {
		t.Fatalf("reset schema: %v", err)
	}

	migrationsDir := filepath.Join("..", "..", "db", "migrations")

	applied, err := ApplyMigrations(ctx, db, migrationsDir, nil)
	if err != nil {
		t.Fatalf("apply up migrations (pass 1): %v", err)
	}
	if len(applied) == 0 {
		t.Fatal("expected migrations to be applied")
	}

	again, err := ApplyMigrations(ctx, db, migrationsDir, nil)
	if err != nil {
		t.Fatalf("reapply up migrations: %v", err)
	}
	if len(again) != 0 {
		t.Fatalf("expected no pending migrations, got %v", again)
	}

	if err := applyDownMigrations(ctx, db, migrationsDir); err != nil {
		t.Fatalf("apply down migrations: %v", err)
	}

	if _, err := db.ExecContext(ctx, `DELETE FROM schema_migrations`); err != nil {
		t.Fatalf("clear schema_migrations: %v", err)
	}

	if _, err := ApplyMigrations(ctx, db, migrationsDir, nil); err != nil {
		t.Fatalf("apply up migrations (pass 2): %v", err)
	}
}

func resetPublicSchema(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `DROP SCHEMA IF EXISTS public CASCADE; CREATE SCHEMA public;`)
	return err
}

func applyDownMigrations(ctx context.Context, db *sql.DB, migrationsDir string) error {
	entries, err := os.ReadDir(migrationsDir)
	if err != nil {
		return err
	}

	pattern := regexp.MustCompile(`^(\d+)_.*\.down\.sql$`)
	type migration struct {
		version string
		path    string
	}
	downs := make([]migration, 0)

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		match := pattern.FindStringSubmatch(name)
		if match == nil {
			continue
		}
		downs = append(downs, migration{
			version: match[1],
			path:    filepath.Join(migrationsDir, name),
		})
	}

	sort.Slice(downs, func(i, j int) bool {
		return downs[i].version > downs[j].version
	})

	for _, down := range downs {
		sqlBytes, err := os.ReadFile(down.path)
		if err != nil {
			return err
		}
		sqlText := strings.TrimSpace(string(sqlBytes))
		if sqlText == "" {
			continue
		}
		if _, err := db.ExecContext(ctx, sqlText); err != nil {
			return err
		}
	}

	return nil
}

func TestChapterPositionsCollideOnlyAtCommit(t *testing.T) {
	dsn := strings.TrimSpace(os.Getenv("BOOKSHELF_TEST_DATABASE_URL"))
	if dsn == "" {
		t.Skip("BOOKSHELF_TEST_DATABASE_URL is not set")
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		t.Fatalf("open postgres: %v", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	if err := resetPublicSchema(ctx, db); err != nil {
		t.Fatalf("reset schema: %v", err)
	}
	if _, err := ApplyMigrations(ctx, db, filepath.Join("..", "..", "db", "migrations"), nil); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}

	var bookID int64
	if err := db.QueryRowContext(ctx, `INSERT INTO books (name, slug) VALUES ('Handbook', 'handbook') RETURNING id`).Scan(&bookID); err != nil {
		t.Fatalf("insert book: %v", err)
	}
	if _, err := db.ExecContext(ctx, `INSERT INTO chapters (book_id, name, slug, priority) VALUES ($1, 'A', 'a', 0), ($1, 'B', 'b', 1)`, bookID); err != nil {
		t.Fatalf("insert chapters: %v", err)
	}

	swap, err := db.BeginTx(ctx, nil)
	if err != nil {
		t.Fatalf("begin swap: %v", err)
	}
	if _, err := swap.ExecContext(ctx, `UPDATE chapters SET priority=1 WHERE slug='a'`); err != nil {
		t.Fatalf("move a: %v", err)
	}
	if _, err := swap.ExecContext(ctx, `UPDATE chapters SET priority=0 WHERE slug='b'`); err != nil {
		t.Fatalf("move b: %v", err)
	}
	if err := swap.Commit(); err != nil {
		t.Fatalf("commit swap: %v", err)
	}

	clash, err := db.BeginTx(ctx, nil)
	if err != nil {
		t.Fatalf("begin clash: %v", err)
	}
	if _, err := clash.ExecContext(ctx, `UPDATE chapters SET priority=0 WHERE slug='a'`); err != nil {
		t.Fatalf("deferred check ran early: %v", err)
	}
	if err := clash.Commit(); err == nil {
		t.Fatal("expected duplicate chapter position to fail at commit")
	}
}
