package store

import (
	"context"
	"fmt"
)

func (s *PostgresStore) InsertActivity(ctx context.Context, activity Activity) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO activities (type, entity_type, entity_id, user_id, detail)
		VALUES ($1, $2, $3, $4, $5)
	`, activity.Type, activity.EntityType, activity.EntityID, nullableUser(activity.UserID), activity.Detail)
	if err != nil {
		return fmt.Errorf("insert activity: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListActivitiesByUser(ctx context.Context, userID string, limit int) ([]Activity, error) {
	return s.listActivities(ctx, `a.user_id::text = $1`, userID, limit)
}

func (s *PostgresStore) ListActivitiesByEntity(ctx context.Context, entityType string, entityID int64, limit int) ([]Activity, error) {
	query := `
		SELECT a.id, a.type, a.entity_type, a.entity_id, COALESCE(a.user_id::text, ''), COALESCE(u.display_name, ''), a.detail, a.created_at
		FROM activities a
		LEFT JOIN users u ON u.id = a.user_id
		WHERE a.entity_type = $1 AND a.entity_id = $2
		ORDER BY a.created_at DESC, a.id DESC
		LIMIT $3
	`
	return s.scanActivities(ctx, query, entityType, entityID, limit)
}

func (s *PostgresStore) listActivities(ctx context.Context, where string, arg any, limit int) ([]Activity, error) {
	query := `
		SELECT a.id, a.type, a.entity_type, a.entity_id, COALESCE(a.user_id::text, ''), COALESCE(u.display_name, ''), a.detail, a.created_at
		FROM activities a
		LEFT JOIN users u ON u.id = a.user_id
		WHERE ` + where + `
		ORDER BY a.created_at DESC, a.id DESC
		LIMIT $2
	`
	return s.scanActivities(ctx, query, arg, limit)
}

func (s *PostgresStore) scanActivities(ctx context.Context, query string, args ...any) ([]Activity, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query activities: %w", err)
	}
	defer rows.Close()

	activities := make([]Activity, 0)
	for rows.Next() {
		var a Activity
		if err := rows.Scan(&a.ID, &a.Type, &a.EntityType, &a.EntityID, &a.UserID, &a.UserName, &a.Detail, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan activity: %w", err)
		}
		activities = append(activities, a)
	}
	return activities, rows.Err()
}
