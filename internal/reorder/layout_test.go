package reorder

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLayoutPlacesMovedEntityBeforeSiblingAtSamePosition(t *testing.T) {
	store := newMemStore(1)
	store.put(chapter(1, 1, 0))
	store.put(chapter(2, 1, 1))
	store.put(chapter(3, 1, 2))

	plan, err := BuildPlan(context.Background(), Batch{Moves: []Move{chapterMove(3, 0, 1)}}, editor, store, &fakeAuthorizer{})
	require.NoError(t, err)

	scope := ScopeOf(KindChapter, 1, 0)
	require.Equal(t, []Scope{scope}, plan.TargetScopes())

	writes := plan.Layout(map[Scope][]Entity{
		scope: {chapter(1, 1, 0), chapter(2, 1, 1), chapter(3, 1, 2)},
	})

	positions := map[int64]int{}
	for _, write := range writes {
		positions[write.ID] = write.Position
	}
	// chapter 3 takes slot 0, chapter 1 shifts to 1 and pushes chapter 2 to 2.
	assert.Equal(t, map[int64]int{3: 0, 1: 1, 2: 2}, positions)
}

func TestLayoutKeepsSparsePositions(t *testing.T) {
	store := newMemStore(1)
	store.put(page(1, 1, 0, 10))
	store.put(page(2, 1, 0, 20))

	plan, err := BuildPlan(context.Background(), Batch{Moves: []Move{pageMove(2, 15, 1, 0)}}, editor, store, &fakeAuthorizer{})
	require.NoError(t, err)

	writes := plan.Layout(map[Scope][]Entity{
		ScopeOf(KindPage, 1, 0): {page(1, 1, 0, 10), page(2, 1, 0, 20)},
	})

	require.Len(t, writes, 1)
	assert.Equal(t, 15, writes[0].Position)
	assert.True(t, writes[0].PositionChanged)
	assert.False(t, writes[0].BookChanged)
}

func TestScopeOf(t *testing.T) {
	assert.Equal(t, Scope{Kind: KindChapter, BookID: 4}, ScopeOf(KindChapter, 4, 9))
	assert.Equal(t, Scope{Kind: KindPage, ChapterID: 9}, ScopeOf(KindPage, 4, 9))
	assert.Equal(t, Scope{Kind: KindPage, BookID: 4}, ScopeOf(KindPage, 4, 0))
}

func TestPlanTouchedIncludesSourceAndTarget(t *testing.T) {
	store := newMemStore(1, 2, 3)
	store.put(page(1, 3, 0, 0))
	store.put(chapter(5, 1, 0))

	plan, err := BuildPlan(context.Background(), Batch{Moves: []Move{
		pageMove(1, 0, 2, 0),
		chapterMove(5, 0, 1),
	}}, editor, store, &fakeAuthorizer{})
	require.NoError(t, err)

	assert.Equal(t, []int64{1, 2, 3}, plan.Touched())
	assert.Len(t, plan.moves, 2)
}
