package store

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bookshelf/api/internal/reorder"
)

func newMockReorderStore(t *testing.T) (*ReorderStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewReorderStore(db), mock
}

func TestReorderStoreResolvePage(t *testing.T) {
	s, mock := newMockReorderStore(t)
	mock.ExpectQuery(regexp.QuoteMeta(`FROM pages WHERE id=$1`)).
		WithArgs(int64(12)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "book_id", "chapter_id", "priority", "name"}).
			AddRow(int64(12), int64(3), int64(7), 4, "Install"))

	entity, err := s.Resolve(context.Background(), reorder.Ref{Kind: reorder.KindPage, ID: 12})
	require.NoError(t, err)
	assert.Equal(t, reorder.Entity{
		Ref:       reorder.Ref{Kind: reorder.KindPage, ID: 12},
		BookID:    3,
		ChapterID: 7,
		Position:  4,
		Name:      "Install",
	}, entity)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReorderStoreResolveMissingChapter(t *testing.T) {
	s, mock := newMockReorderStore(t)
	mock.ExpectQuery(regexp.QuoteMeta(`FROM chapters WHERE id=$1`)).
		WithArgs(int64(99)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "book_id", "chapter_id", "priority", "name"}))

	_, err := s.Resolve(context.Background(), reorder.Ref{Kind: reorder.KindChapter, ID: 99})
	assert.ErrorIs(t, err, reorder.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReorderStoreAppliesWritesInOneTransaction(t *testing.T) {
	s, mock := newMockReorderStore(t)
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT id FROM books WHERE id IN ($1,$2) ORDER BY id FOR UPDATE`)).
		WithArgs(int64(1), int64(2)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(1)).AddRow(int64(2)))
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE chapters SET book_id = $1, priority = $2 WHERE id = $3`)).
		WithArgs(int64(2), int64(0), int64(5)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE pages SET book_id = $1 WHERE chapter_id = $2 AND id NOT IN ($3)`)).
		WithArgs(int64(2), int64(5), int64(8)).
		WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE pages SET chapter_id = $1 WHERE id = $2`)).
		WithArgs(nil, int64(8)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := s.InTx(context.Background(), func(ctx context.Context, tx reorder.Tx) error {
		if err := tx.LockBooks(ctx, []int64{1, 2}); err != nil {
			return err
		}
		if err := tx.Apply(ctx, reorder.Write{
			Ref:             reorder.Ref{Kind: reorder.KindChapter, ID: 5},
			PrevBookID:      1,
			BookID:          2,
			Position:        0,
			BookChanged:     true,
			PositionChanged: true,
		}); err != nil {
			return err
		}
		if err := tx.CarryPages(ctx, 5, 2, []int64{8}); err != nil {
			return err
		}
		return tx.Apply(ctx, reorder.Write{
			Ref:            reorder.Ref{Kind: reorder.KindPage, ID: 8},
			PrevBookID:     2,
			BookID:         2,
			ChapterChanged: true,
		})
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReorderStoreCarriesEveryPageWithoutExceptions(t *testing.T) {
	s, mock := newMockReorderStore(t)
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE pages SET book_id = $1 WHERE chapter_id = $2`)).
		WithArgs(int64(3), int64(9)).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectCommit()

	err := s.InTx(context.Background(), func(ctx context.Context, tx reorder.Tx) error {
		return tx.CarryPages(ctx, 9, 3, nil)
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReorderStoreLockReportsMissingBook(t *testing.T) {
	s, mock := newMockReorderStore(t)
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`FOR UPDATE`)).
		WithArgs(int64(1), int64(4)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(1)))
	mock.ExpectRollback()

	err := s.InTx(context.Background(), func(ctx context.Context, tx reorder.Tx) error {
		return tx.LockBooks(ctx, []int64{1, 4})
	})
	assert.ErrorIs(t, err, reorder.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReorderStoreRollsBackOnWriteFailure(t *testing.T) {
	s, mock := newMockReorderStore(t)
	boom := errors.New("disk full")
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE pages SET priority = $1 WHERE id = $2`)).
		WithArgs(int64(2), int64(9)).
		WillReturnError(boom)
	mock.ExpectRollback()

	err := s.InTx(context.Background(), func(ctx context.Context, tx reorder.Tx) error {
		return tx.Apply(ctx, reorder.Write{
			Ref:             reorder.Ref{Kind: reorder.KindPage, ID: 9},
			Position:        2,
			PositionChanged: true,
		})
	})
	assert.ErrorIs(t, err, boom)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReorderStoreSiblingsOfBookLevelPages(t *testing.T) {
	s, mock := newMockReorderStore(t)
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`FROM pages WHERE book_id = $1 AND chapter_id IS NULL ORDER BY priority, id`)).
		WithArgs(int64(3)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "book_id", "chapter_id", "priority", "name"}).
			AddRow(int64(1), int64(3), int64(0), 0, "Intro").
			AddRow(int64(4), int64(3), int64(0), 1, "Setup"))
	mock.ExpectCommit()

	var members []reorder.Entity
	err := s.InTx(context.Background(), func(ctx context.Context, tx reorder.Tx) error {
		var err error
		members, err = tx.Siblings(ctx, reorder.ScopeOf(reorder.KindPage, 3, 0))
		return err
	})
	require.NoError(t, err)
	require.Len(t, members, 2)
	assert.Equal(t, int64(4), members[1].ID)
	assert.Equal(t, reorder.KindPage, members[1].Kind)
	require.NoError(t, mock.ExpectationsWereMet())
}
