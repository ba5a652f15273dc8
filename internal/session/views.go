package session

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"
)

const recentLimit = 50

// ViewRef names one viewed entity.
type ViewRef struct {
	Type string
	ID   int64
}

func (r ViewRef) member() string {
	return r.Type + ":" + strconv.FormatInt(r.ID, 10)
}

func parseViewRef(member string) (ViewRef, bool) {
	entityType, rawID, ok := strings.Cut(member, ":")
	if !ok {
		return ViewRef{}, false
	}
	id, err := strconv.ParseInt(rawID, 10, 64)
	if err != nil {
		return ViewRef{}, false
	}
	return ViewRef{Type: entityType, ID: id}, true
}

// ViewTracker keeps a popularity ranking per entity type and a short list
// of recently viewed entities per user.
type ViewTracker struct {
	client *redis.Client
}

func NewViewTracker(client *redis.Client) *ViewTracker {
	return &ViewTracker{client: client}
}

func popularKey(entityType string) string {
	return "views:popular:" + entityType
}

func recentKey(userID string) string {
	return "views:recent:" + userID
}

// Track counts a view and moves the entity to the front of the user's
// recents.
func (v *ViewTracker) Track(ctx context.Context, userID string, ref ViewRef) error {
	member := ref.member()
	_, err := v.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZIncrBy(ctx, popularKey(ref.Type), 1, strconv.FormatInt(ref.ID, 10))
		if userID != "" {
			pipe.LRem(ctx, recentKey(userID), 0, member)
			pipe.LPush(ctx, recentKey(userID), member)
			pipe.LTrim(ctx, recentKey(userID), 0, recentLimit-1)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("track view: %w", err)
	}
	return nil
}

// Popular returns entity ids of one type, most viewed first.
func (v *ViewTracker) Popular(ctx context.Context, entityType string, limit int) ([]int64, error) {
	members, err := v.client.ZRevRange(ctx, popularKey(entityType), 0, int64(limit)-1).Result()
	if err != nil {
		return nil, fmt.Errorf("read popular %s: %w", entityType, err)
	}
	ids := make([]int64, 0, len(members))
	for _, member := range members {
		id, err := strconv.ParseInt(member, 10, 64)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// Recent returns what userID viewed last, newest first.
func (v *ViewTracker) Recent(ctx context.Context, userID string, limit int) ([]ViewRef, error) {
	members, err := v.client.LRange(ctx, recentKey(userID), 0, int64(limit)-1).Result()
	if err != nil {
		return nil, fmt.Errorf("read recent views: %w", err)
	}
	refs := make([]ViewRef, 0, len(members))
	for _, member := range members {
		if ref, ok := parseViewRef(member); ok {
			refs = append(refs, ref)
		}
	}
	return refs, nil
}

// Forget removes an entity from the popularity ranking, used on delete.
func (v *ViewTracker) Forget(ctx context.Context, ref ViewRef) error {
	if err := v.client.ZRem(ctx, popularKey(ref.Type), strconv.FormatInt(ref.ID, 10)).Err(); err != nil {
		return fmt.Errorf("forget view: %w", err)
	}
	return nil
}
