package reorder

import (
	"context"
	"errors"
	"fmt"
	"sort"
)

// Resolver reads the stored placement of entities.
type Resolver interface {
	// Resolve returns ErrNotFound when ref does not exist.
	Resolve(ctx context.Context, ref Ref) (Entity, error)
	BookExists(ctx context.Context, bookID int64) (bool, error)
}

// Authorizer answers the single capability the engine needs.
type Authorizer interface {
	CanModifyStructure(ctx context.Context, actor Actor, bookID int64) (bool, error)
}

type plannedMove struct {
	index   int
	move    Move
	current Entity
}

type chapterCheck struct {
	index int
	move  Move
}

// Plan is a validated batch. It is never modified after BuildPlan returns.
type Plan struct {
	moves    []plannedMove
	touched  []int64
	checks   []chapterCheck
	chapters map[int64]struct{}
}

// Touched returns every book the batch reads from or writes to, ascending.
func (p *Plan) Touched() []int64 {
	return append([]int64(nil), p.touched...)
}

// plannedPagesIn returns the ids of pages that start in chapterID and have
// their own instruction in the batch.
func (p *Plan) plannedPagesIn(chapterID int64) []int64 {
	var ids []int64
	for _, pm := range p.moves {
		if pm.move.Kind == KindPage && pm.current.ChapterID == chapterID {
			ids = append(ids, pm.move.ID)
		}
	}
	return ids
}

// TargetScopes lists every sibling scope a move lands in, in a stable order.
func (p *Plan) TargetScopes() []Scope {
	seen := make(map[Scope]struct{}, len(p.moves))
	scopes := make([]Scope, 0, len(p.moves))
	for _, pm := range p.moves {
		scope := ScopeOf(pm.move.Kind, pm.move.BookID, pm.move.ChapterID)
		if _, ok := seen[scope]; ok {
			continue
		}
		seen[scope] = struct{}{}
		scopes = append(scopes, scope)
	}
	sort.Slice(scopes, func(i, j int) bool { return scopes[i].less(scopes[j]) })
	return scopes
}

// BuildPlan validates batch and returns the plan the engine applies. Checks run
// in a fixed order and the first failure wins:
//
//  1. the batch is not empty and every kind is chapter or page
//  2. every entity, target chapter and target book exists
//  3. no entity is sent to two places and every page lands in a chapter that
//     will belong to the page's target book
//  4. the actor may modify the structure of every touched book
//
// No writes happen here.
func BuildPlan(ctx context.Context, batch Batch, actor Actor, resolver Resolver, authorizer Authorizer) (*Plan, error) {
	if len(batch.Moves) == 0 {
		return nil, ErrEmptyBatch
	}
	for i, move := range batch.Moves {
		if !move.Kind.movable() {
			return nil, &UnknownKindError{Index: i, Value: string(move.Kind)}
		}
	}

	resolved := make(map[Ref]Entity, len(batch.Moves))
	resolve := func(ref Ref) error {
		if _, ok := resolved[ref]; ok {
			return nil
		}
		entity, err := resolver.Resolve(ctx, ref)
		if errors.Is(err, ErrNotFound) {
			return &UnknownEntityError{Ref: ref}
		}
		if err != nil {
			return failed("resolve", fmt.Errorf("resolve %s: %w", ref, err))
		}
		resolved[ref] = entity
		return nil
	}
	for _, move := range batch.Moves {
		if err := resolve(move.Ref); err != nil {
			return nil, err
		}
	}
	for _, move := range batch.Moves {
		if move.Kind == KindPage && move.ChapterID != 0 {
			if err := resolve(Ref{Kind: KindChapter, ID: move.ChapterID}); err != nil {
				return nil, err
			}
		}
	}
	books := make(map[int64]struct{})
	for _, move := range batch.Moves {
		if _, ok := books[move.BookID]; ok {
			continue
		}
		if move.BookID <= 0 {
			return nil, &UnknownEntityError{Ref: Ref{Kind: KindBook, ID: move.BookID}}
		}
		exists, err := resolver.BookExists(ctx, move.BookID)
		if err != nil {
			return nil, failed("resolve", fmt.Errorf("resolve book %d: %w", move.BookID, err))
		}
		if !exists {
			return nil, &UnknownEntityError{Ref: Ref{Kind: KindBook, ID: move.BookID}}
		}
		books[move.BookID] = struct{}{}
	}

	plan := &Plan{chapters: make(map[int64]struct{})}
	first := make(map[Ref]int, len(batch.Moves))
	for i, move := range batch.Moves {
		if j, ok := first[move.Ref]; ok {
			if plan.moves[j].move.sameTarget(move) {
				continue
			}
			return nil, &InconsistentTargetError{
				Index:  i,
				Move:   move,
				Reason: fmt.Sprintf("conflicts with instruction %d for the same entity", plan.moves[j].index),
			}
		}
		if move.Kind == KindChapter && move.ChapterID != 0 {
			return nil, &InconsistentTargetError{Index: i, Move: move, Reason: "a chapter can not be placed inside a chapter"}
		}
		first[move.Ref] = len(plan.moves)
		plan.moves = append(plan.moves, plannedMove{index: i, move: move, current: resolved[move.Ref]})
		if move.Kind == KindChapter {
			plan.chapters[move.ID] = struct{}{}
		}
	}

	// A chapter that is itself moved by the batch is judged by where it ends up.
	chapterBook := func(chapterID int64) int64 {
		if j, ok := first[Ref{Kind: KindChapter, ID: chapterID}]; ok {
			return plan.moves[j].move.BookID
		}
		return resolved[Ref{Kind: KindChapter, ID: chapterID}].BookID
	}

	touched := make(map[int64]struct{})
	for _, pm := range plan.moves {
		touched[pm.current.BookID] = struct{}{}
		touched[pm.move.BookID] = struct{}{}
		if pm.move.Kind != KindPage || pm.move.ChapterID == 0 {
			continue
		}
		owner := chapterBook(pm.move.ChapterID)
		touched[owner] = struct{}{}
		if owner != pm.move.BookID {
			return nil, &InconsistentTargetError{
				Index:  pm.index,
				Move:   pm.move,
				Reason: fmt.Sprintf("chapter %d belongs to book %d, not book %d", pm.move.ChapterID, owner, pm.move.BookID),
			}
		}
		plan.checks = append(plan.checks, chapterCheck{index: pm.index, move: pm.move})
	}
	plan.touched = make([]int64, 0, len(touched))
	for bookID := range touched {
		plan.touched = append(plan.touched, bookID)
	}
	sort.Slice(plan.touched, func(i, j int) bool { return plan.touched[i] < plan.touched[j] })

	for _, bookID := range plan.touched {
		allowed, err := authorizer.CanModifyStructure(ctx, actor, bookID)
		if err != nil {
			return nil, failed("authorize", fmt.Errorf("authorize book %d: %w", bookID, err))
		}
		if !allowed {
			return nil, &PermissionDeniedError{BookID: bookID}
		}
	}
	return plan, nil
}
