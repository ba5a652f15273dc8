package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

func (s *PostgresStore) ListRestrictions(ctx context.Context, entityType string, entityID int64) ([]Restriction, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT entity_type, entity_id, role, action
		FROM entity_permissions
		WHERE entity_type=$1 AND entity_id=$2
		ORDER BY role, action
	`, entityType, entityID)
	if err != nil {
		return nil, fmt.Errorf("query restrictions: %w", err)
	}
	return scanRestrictions(rows)
}

// RestrictionsForBook returns the restrictions of the book and of every
// chapter and page inside it.
func (s *PostgresStore) RestrictionsForBook(ctx context.Context, bookID int64) ([]Restriction, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT ep.entity_type, ep.entity_id, ep.role, ep.action
		FROM entity_permissions ep
		WHERE (ep.entity_type='book' AND ep.entity_id=$1)
			OR (ep.entity_type='chapter' AND ep.entity_id IN (SELECT id FROM chapters WHERE book_id=$1))
			OR (ep.entity_type='page' AND ep.entity_id IN (SELECT id FROM pages WHERE book_id=$1))
		ORDER BY ep.entity_type, ep.entity_id, ep.role, ep.action
	`, bookID)
	if err != nil {
		return nil, fmt.Errorf("query book restrictions: %w", err)
	}
	return scanRestrictions(rows)
}

func scanRestrictions(rows *sql.Rows) ([]Restriction, error) {
	defer rows.Close()
	restrictions := make([]Restriction, 0)
	for rows.Next() {
		var r Restriction
		if err := rows.Scan(&r.EntityType, &r.EntityID, &r.Role, &r.Action); err != nil {
			return nil, fmt.Errorf("scan restriction: %w", err)
		}
		restrictions = append(restrictions, r)
	}
	return restrictions, rows.Err()
}

// SetRestrictions replaces every restriction on one entity. An empty list
// returns the entity to role defaults.
func (s *PostgresStore) SetRestrictions(ctx context.Context, entityType string, entityID int64, restrictions []Restriction) error {
	return inTx(ctx, s.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM entity_permissions WHERE entity_type=$1 AND entity_id=$2`, entityType, entityID); err != nil {
			return fmt.Errorf("clear restrictions: %w", err)
		}
		for _, r := range restrictions {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO entity_permissions (entity_type, entity_id, role, action)
				VALUES ($1, $2, $3, $4)
				ON CONFLICT DO NOTHING
			`, entityType, entityID, r.Role, r.Action); err != nil {
				return fmt.Errorf("insert restriction: %w", err)
			}
		}
		return nil
	})
}

// BookEntities lists the book and everything under it, parents before
// children.
func (s *PostgresStore) BookEntities(ctx context.Context, bookID int64) ([]EntityNode, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT 'book', id, '', 0, 0 FROM books WHERE id=$1
		UNION ALL
		SELECT 'chapter', id, 'book', book_id, 1 FROM chapters WHERE book_id=$1
		UNION ALL
		SELECT 'page', id,
			CASE WHEN chapter_id IS NULL THEN 'book' ELSE 'chapter' END,
			COALESCE(chapter_id, book_id), 2
		FROM pages WHERE book_id=$1
		ORDER BY 5, 2
	`, bookID)
	if err != nil {
		return nil, fmt.Errorf("query book entities: %w", err)
	}
	defer rows.Close()

	nodes := make([]EntityNode, 0)
	for rows.Next() {
		var node EntityNode
		var depth int
		if err := rows.Scan(&node.Type, &node.ID, &node.ParentType, &node.ParentID, &depth); err != nil {
			return nil, fmt.Errorf("scan book entity: %w", err)
		}
		nodes = append(nodes, node)
	}
	return nodes, rows.Err()
}

// ReplaceJointPermissions swaps the cached rows of one book in a single
// transaction.
func (s *PostgresStore) ReplaceJointPermissions(ctx context.Context, bookID int64, rows []JointPermission) error {
	return inTx(ctx, s.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM joint_permissions WHERE book_id=$1`, bookID); err != nil {
			return fmt.Errorf("clear joint permissions: %w", err)
		}
		if len(rows) == 0 {
			return nil
		}
		insert := psql.Insert("joint_permissions").
			Columns("role", "entity_type", "entity_id", "book_id", "action", "allowed").
			Suffix("ON CONFLICT (role, entity_type, entity_id, action) DO UPDATE SET book_id=EXCLUDED.book_id, allowed=EXCLUDED.allowed")
		for _, row := range rows {
			insert = insert.Values(row.Role, row.EntityType, row.EntityID, bookID, row.Action, row.Allowed)
		}
		query, args, err := insert.ToSql()
		if err != nil {
			return fmt.Errorf("build joint permissions insert: %w", err)
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("insert joint permissions: %w", err)
		}
		return nil
	})
}

// LookupJointPermission reads one cached decision. found is false when the
// entity has not been cached yet.
func (s *PostgresStore) LookupJointPermission(ctx context.Context, role, entityType string, entityID int64, action string) (allowed, found bool, err error) {
	err = s.db.QueryRowContext(ctx, `
		SELECT allowed FROM joint_permissions
		WHERE role=$1 AND entity_type=$2 AND entity_id=$3 AND action=$4
	`, role, entityType, entityID, action).Scan(&allowed)
	if errors.Is(err, sql.ErrNoRows) {
		return false, false, nil
	}
	if err != nil {
		return false, false, fmt.Errorf("lookup joint permission: %w", err)
	}
	return allowed, true, nil
}

// AllBookIDs lists every book, used when the whole cache is rebuilt.
func (s *PostgresStore) AllBookIDs(ctx context.Context) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM books ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query book ids: %w", err)
	}
	defer rows.Close()
	ids := make([]int64, 0)
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan book id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
