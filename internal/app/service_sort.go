package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"bookshelf/api/internal/activity"
	"bookshelf/api/internal/outline"
	"bookshelf/api/internal/rbac"
	"bookshelf/api/internal/reorder"
	"bookshelf/api/internal/search"
	"bookshelf/api/internal/store"
)

const outlineHistoryLimit = 50

// SortOutcome is what a committed sort reports back. Affected is empty when
// the tree matched what was stored.
type SortOutcome struct {
	Book     store.Book
	Affected []int64
}

// SortView returns the tree of a book the caller may restructure.
func (s *Service) SortView(ctx context.Context, session Session, bookSlug string) (store.BookTree, error) {
	return s.bookTree(ctx, session, bookSlug, rbac.ActionUpdate)
}

// SortItem returns the tree of another book added to the sort view. Only
// view access is needed to show it; the sort itself checks every book.
func (s *Service) SortItem(ctx context.Context, session Session, bookSlug string) (store.BookTree, error) {
	return s.bookTree(ctx, session, bookSlug, rbac.ActionView)
}

// Sort applies a submitted sort tree. The tree may move chapters and pages
// across every book shown in the sort view; bookSlug only names the book the
// caller is returned to.
func (s *Service) Sort(ctx context.Context, session Session, bookSlug string, input SortInput) (SortOutcome, error) {
	if err := validate.Struct(input); err != nil {
		return SortOutcome{}, err
	}
	book, err := s.store.GetBookBySlug(ctx, bookSlug)
	if err != nil {
		return SortOutcome{}, err
	}
	if err := s.authorize(ctx, session, store.EntityBook, book.ID, rbac.ActionView); err != nil {
		return SortOutcome{}, err
	}
	batch, err := toBatch(input)
	if err != nil {
		return SortOutcome{}, err
	}

	result, err := s.sorter.ApplyReorder(ctx, batch, session.actor())
	if err != nil {
		return SortOutcome{}, err
	}

	if len(result.Affected) > 0 {
		s.afterSort(context.WithoutCancel(ctx), session, result)
	}
	return SortOutcome{Book: book, Affected: result.Affected}, nil
}

func toBatch(input SortInput) (reorder.Batch, error) {
	moves := make([]reorder.Move, 0, len(input.Tree))
	for i, entry := range input.Tree {
		kind, err := reorder.ParseKind(entry.Type)
		if err != nil {
			var kindErr *reorder.UnknownKindError
			if errors.As(err, &kindErr) {
				kindErr.Index = i
			}
			return reorder.Batch{}, err
		}
		moves = append(moves, reorder.Move{
			Ref:       reorder.Ref{Kind: kind, ID: entry.ID},
			Position:  entry.Sort,
			BookID:    entry.Book,
			ChapterID: entry.ParentChapter,
		})
	}
	return reorder.Batch{Moves: moves}, nil
}

// afterSort commits an outline snapshot per changed book and pushes the
// moved entities to the search index. Pages that followed their chapter to
// another book are reindexed too.
func (s *Service) afterSort(ctx context.Context, session Session, result reorder.Result) {
	trees := make(map[int64]store.BookTree, len(result.Affected))
	for _, bookID := range result.Affected {
		logger := s.logger.WithFields(logrus.Fields{"book_id": bookID, "user_id": session.UserID})
		tree, err := s.store.BookTree(ctx, bookID)
		if err != nil {
			logger.WithError(err).Warn("load book tree after sort")
			continue
		}
		trees[bookID] = tree
		commit, created, err := s.outlines.Record(outline.FromTree(tree), session.UserName, fmt.Sprintf("Sort %s", tree.Book.Name))
		if err != nil {
			logger.WithError(err).Warn("record outline")
			continue
		}
		if created {
			logger.WithField("commit", commit.Hash).Debug("outline recorded")
		}
	}

	refs := make([]search.Ref, 0, len(result.Writes))
	for _, write := range result.Writes {
		refs = append(refs, search.Ref{Type: search.ResultType(write.Kind), ID: write.ID})
		if write.Kind != reorder.KindChapter || !write.BookChanged {
			continue
		}
		for _, chapter := range trees[write.BookID].Chapters {
			if chapter.ID != write.ID {
				continue
			}
			for _, page := range chapter.Pages {
				refs = append(refs, search.Ref{Type: search.ResultPage, ID: page.ID})
			}
		}
	}
	s.search.Reindex(ctx, refs)
}

func (s *Service) OutlineHistory(ctx context.Context, session Session, bookSlug string) ([]outline.Commit, error) {
	book, err := s.store.GetBookBySlug(ctx, bookSlug)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(ctx, session, store.EntityBook, book.ID, rbac.ActionView); err != nil {
		return nil, err
	}
	return s.outlines.History(book.ID, outlineHistoryLimit)
}

func (s *Service) BookRestrictions(ctx context.Context, session Session, bookSlug string) ([]store.Restriction, error) {
	if !s.perms.Allow(session.role(), store.EntityBook, rbac.ActionManageRestrictions) {
		return nil, errForbidden
	}
	book, err := s.store.GetBookBySlug(ctx, bookSlug)
	if err != nil {
		return nil, err
	}
	restrictions, err := s.store.ListRestrictions(ctx, store.EntityBook, book.ID)
	if err != nil {
		return nil, err
	}
	if restrictions == nil {
		restrictions = []store.Restriction{}
	}
	return restrictions, nil
}

// SetBookRestrictions replaces the restrictions of a book. An empty list
// returns the book to the role defaults.
func (s *Service) SetBookRestrictions(ctx context.Context, session Session, bookSlug string, input RestrictionsInput) ([]store.Restriction, error) {
	if err := validate.Struct(input); err != nil {
		return nil, err
	}
	if !s.perms.Allow(session.role(), store.EntityBook, rbac.ActionManageRestrictions) {
		return nil, errForbidden
	}
	book, err := s.store.GetBookBySlug(ctx, bookSlug)
	if err != nil {
		return nil, err
	}

	seen := make(map[RestrictionInput]struct{}, len(input.Restrictions))
	restrictions := make([]store.Restriction, 0, len(input.Restrictions))
	for _, entry := range input.Restrictions {
		if _, dup := seen[entry]; dup {
			continue
		}
		seen[entry] = struct{}{}
		restrictions = append(restrictions, store.Restriction{
			EntityType: store.EntityBook,
			EntityID:   book.ID,
			Role:       entry.Role,
			Action:     entry.Action,
		})
	}

	if err := s.store.SetRestrictions(ctx, store.EntityBook, book.ID, restrictions); err != nil {
		return nil, err
	}
	if err := s.perms.RebuildForBook(ctx, book.ID); err != nil {
		return nil, fmt.Errorf("rebuild joint permissions: %w", err)
	}
	s.activity.Log(ctx, activity.PermissionsUpdate, store.EntityBook, book.ID, session.UserID, book.Name)
	return restrictions, nil
}
