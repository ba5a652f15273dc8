// Package permissions answers whether a role may act on a content entity.
//
// Role defaults come from the rbac enforcer. Restrictions on an entity
// replace the defaults for that entity and, unless they set their own,
// for everything beneath it. The resolved decisions for a book and its
// contents are cached in joint_permissions and rebuilt per book.
package permissions

import (
	"context"
	"fmt"
	"sync"

	"github.com/casbin/casbin/v2"
	"github.com/sirupsen/logrus"

	"bookshelf/api/internal/rbac"
	"bookshelf/api/internal/reorder"
	"bookshelf/api/internal/store"
)

type Store interface {
	ListRestrictions(ctx context.Context, entityType string, entityID int64) ([]store.Restriction, error)
	RestrictionsForBook(ctx context.Context, bookID int64) ([]store.Restriction, error)
	BookEntities(ctx context.Context, bookID int64) ([]store.EntityNode, error)
	ReplaceJointPermissions(ctx context.Context, bookID int64, rows []store.JointPermission) error
	LookupJointPermission(ctx context.Context, role, entityType string, entityID int64, action string) (bool, bool, error)
	AllBookIDs(ctx context.Context) ([]int64, error)
}

type Service struct {
	store    Store
	enforcer *casbin.Enforcer
	logger   *logrus.Entry
	mu       sync.RWMutex
}

func NewService(s Store, logger *logrus.Entry) (*Service, error) {
	enforcer, err := rbac.NewEnforcer()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logrus.WithField("component", "permissions")
	}
	return &Service{store: s, enforcer: enforcer, logger: logger}, nil
}

// Allow reports the role default for action on objects of entityType.
func (s *Service) Allow(role rbac.Role, entityType string, action rbac.Action) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ok, err := s.enforcer.Enforce(string(role), entityType, string(action))
	if err != nil {
		s.logger.WithError(err).Warn("enforce failed")
		return false
	}
	return ok
}

// Can resolves action on one entity for role. Content inside a book is read
// from the joint cache; shelves and uncached entities fall back to their own
// restrictions and then to the role defaults.
func (s *Service) Can(ctx context.Context, role rbac.Role, entityType string, entityID int64, action rbac.Action) (bool, error) {
	if role == rbac.RoleAdmin {
		return true, nil
	}
	if entityType != store.EntityBookshelf {
		allowed, found, err := s.store.LookupJointPermission(ctx, string(role), entityType, entityID, string(action))
		if err != nil {
			return false, err
		}
		if found {
			return allowed, nil
		}
	}
	restrictions, err := s.store.ListRestrictions(ctx, entityType, entityID)
	if err != nil {
		return false, err
	}
	if len(restrictions) > 0 {
		return grantsOf(restrictions).has(role, action), nil
	}
	return s.Allow(role, entityType, action), nil
}

// CanModifyStructure is the reorder capability: updating the book.
func (s *Service) CanModifyStructure(ctx context.Context, actor reorder.Actor, bookID int64) (bool, error) {
	return s.Can(ctx, rbac.Normalize(actor.Role), store.EntityBook, bookID, rbac.ActionUpdate)
}

// RebuildForBook recomputes the joint permission rows of a book, its
// chapters and its pages.
func (s *Service) RebuildForBook(ctx context.Context, bookID int64) error {
	nodes, err := s.store.BookEntities(ctx, bookID)
	if err != nil {
		return fmt.Errorf("load book entities: %w", err)
	}
	restrictions, err := s.store.RestrictionsForBook(ctx, bookID)
	if err != nil {
		return fmt.Errorf("load restrictions: %w", err)
	}
	rows := s.resolve(nodes, restrictions)
	if err := s.store.ReplaceJointPermissions(ctx, bookID, rows); err != nil {
		return fmt.Errorf("replace joint permissions: %w", err)
	}
	s.logger.WithFields(logrus.Fields{
		"book_id": bookID,
		"rows":    len(rows),
	}).Debug("joint permissions rebuilt")
	return nil
}

func (s *Service) RebuildAll(ctx context.Context) error {
	ids, err := s.store.AllBookIDs(ctx)
	if err != nil {
		return err
	}
	for _, id := range ids {
		if err := s.RebuildForBook(ctx, id); err != nil {
			return fmt.Errorf("book %d: %w", id, err)
		}
	}
	return nil
}

type nodeKey struct {
	entityType string
	id         int64
}

type grantSet map[string]struct{}

func grantKey(role rbac.Role, action rbac.Action) string {
	return string(role) + "|" + string(action)
}

func grantsOf(restrictions []store.Restriction) grantSet {
	set := make(grantSet, len(restrictions))
	for _, r := range restrictions {
		set[grantKey(rbac.Role(r.Role), rbac.Action(r.Action))] = struct{}{}
	}
	return set
}

func (g grantSet) has(role rbac.Role, action rbac.Action) bool {
	_, ok := g[grantKey(role, action)]
	return ok
}

// resolve expects nodes ordered parents first.
func (s *Service) resolve(nodes []store.EntityNode, restrictions []store.Restriction) []store.JointPermission {
	byNode := make(map[nodeKey][]store.Restriction)
	for _, r := range restrictions {
		key := nodeKey{entityType: r.EntityType, id: r.EntityID}
		byNode[key] = append(byNode[key], r)
	}

	decided := make(map[nodeKey]map[string]bool, len(nodes))
	rows := make([]store.JointPermission, 0, len(nodes)*len(rbac.Roles())*len(rbac.EntityActions()))
	for _, node := range nodes {
		key := nodeKey{entityType: node.Type, id: node.ID}
		parent, hasParent := decided[nodeKey{entityType: node.ParentType, id: node.ParentID}]
		own, restricted := byNode[key]
		grants := grantsOf(own)

		decisions := make(map[string]bool)
		for _, role := range rbac.Roles() {
			for _, action := range rbac.EntityActions() {
				var allowed bool
				switch {
				case role == rbac.RoleAdmin:
					allowed = true
				case restricted:
					allowed = grants.has(role, action)
				case hasParent:
					allowed = parent[grantKey(role, action)]
				default:
					allowed = s.Allow(role, node.Type, action)
				}
				decisions[grantKey(role, action)] = allowed
				rows = append(rows, store.JointPermission{
					Role:       string(role),
					EntityType: node.Type,
					EntityID:   node.ID,
					Action:     string(action),
					Allowed:    allowed,
				})
			}
		}
		decided[key] = decisions
	}
	return rows
}
