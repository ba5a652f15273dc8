package store

import (
	"context"
	"fmt"
)

// RecordView counts one view of an entity by userID.
func (s *PostgresStore) RecordView(ctx context.Context, userID, entityType string, entityID int64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO views (user_id, entity_type, entity_id, views, updated_at)
		VALUES ($1, $2, $3, 1, NOW())
		ON CONFLICT (user_id, entity_type, entity_id)
		DO UPDATE SET views = views.views + 1, updated_at = NOW()
	`, userID, entityType, entityID)
	if err != nil {
		return fmt.Errorf("record view: %w", err)
	}
	return nil
}

// PopularBooks ranks books by total views across users.
func (s *PostgresStore) PopularBooks(ctx context.Context, limit int) ([]Book, error) {
	return s.queryBooks(ctx, psql.Select(bookColumns).
		From("books b").
		Join("views v ON v.entity_type = 'book' AND v.entity_id = b.id").
		GroupBy("b.id").
		OrderBy("SUM(v.views) DESC", "b.id").
		Limit(uint64(limit)))
}

// RecentlyViewedBooks lists books userID opened, most recent first.
func (s *PostgresStore) RecentlyViewedBooks(ctx context.Context, userID string, limit int) ([]Book, error) {
	return s.queryBooks(ctx, psql.Select(bookColumns).
		From("books b").
		Join("views v ON v.entity_type = 'book' AND v.entity_id = b.id").
		Where("v.user_id::text = ?", userID).
		OrderBy("v.updated_at DESC", "b.id").
		Limit(uint64(limit)))
}
