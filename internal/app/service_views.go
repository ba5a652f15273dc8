package app

import (
	"context"
	"net/http"
	"strings"

	"golang.org/x/sync/errgroup"

	"bookshelf/api/internal/search"
	"bookshelf/api/internal/store"
)

const (
	sidebarLimit      = 10
	homeDraftLimit    = 6
	homeUpdatedLimit  = 12
	profileItemsLimit = 5
	defaultSearchSize = 20
	maxSearchSize     = 100
)

type ShelvesView struct {
	Shelves []store.Bookshelf
	Total   int
	Page    int
	PerPage int
	Recents []store.Book
	Popular []store.Book
	New     []store.Bookshelf
}

// ShelvesIndex loads one page of shelves with the sidebar lists. page
// starts at 1.
func (s *Service) ShelvesIndex(ctx context.Context, session Session, page int) (ShelvesView, error) {
	if page < 1 {
		page = 1
	}
	perPage := s.cfg.ShelvesPerPage
	view := ShelvesView{Page: page, PerPage: perPage}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		shelves, total, err := s.store.ListShelves(gctx, store.ListOptions{
			Limit:  perPage,
			Offset: (page - 1) * perPage,
			Sort:   "name",
			Order:  "asc",
		})
		if err != nil {
			return err
		}
		view.Shelves = s.visibleShelves(gctx, session, shelves)
		view.Total = total
		return nil
	})
	g.Go(func() error {
		books, err := s.recentlyViewedBooks(gctx, session, sidebarLimit)
		if err != nil {
			return err
		}
		view.Recents = books
		return nil
	})
	g.Go(func() error {
		books, err := s.popularBooks(gctx, session, sidebarLimit)
		if err != nil {
			return err
		}
		view.Popular = books
		return nil
	})
	g.Go(func() error {
		shelves, err := s.store.RecentShelves(gctx, sidebarLimit)
		if err != nil {
			return err
		}
		view.New = s.visibleShelves(gctx, session, shelves)
		return nil
	})
	if err := g.Wait(); err != nil {
		return ShelvesView{}, err
	}
	return view, nil
}

// popularBooks ranks by the redis counters when they are available and
// falls back to the durable view counts.
func (s *Service) popularBooks(ctx context.Context, session Session, limit int) ([]store.Book, error) {
	if s.views != nil {
		ids, err := s.views.Popular(ctx, store.EntityBook, limit)
		if err == nil && len(ids) > 0 {
			books, err := s.booksInOrder(ctx, ids)
			if err != nil {
				return nil, err
			}
			return s.visibleBooks(ctx, session, books), nil
		}
		if err != nil {
			s.logger.WithError(err).Warn("read popular books from redis")
		}
	}
	books, err := s.store.PopularBooks(ctx, limit)
	if err != nil {
		return nil, err
	}
	return s.visibleBooks(ctx, session, books), nil
}

func (s *Service) recentlyViewedBooks(ctx context.Context, session Session, limit int) ([]store.Book, error) {
	if session.UserID == "" {
		return []store.Book{}, nil
	}
	if s.views != nil {
		refs, err := s.views.Recent(ctx, session.UserID, limit*2)
		if err == nil && len(refs) > 0 {
			ids := make([]int64, 0, limit)
			for _, ref := range refs {
				if ref.Type == store.EntityBook && len(ids) < limit {
					ids = append(ids, ref.ID)
				}
			}
			books, err := s.booksInOrder(ctx, ids)
			if err != nil {
				return nil, err
			}
			return s.visibleBooks(ctx, session, books), nil
		}
		if err != nil {
			s.logger.WithError(err).Warn("read recent views from redis")
		}
	}
	books, err := s.store.RecentlyViewedBooks(ctx, session.UserID, limit)
	if err != nil {
		return nil, err
	}
	return s.visibleBooks(ctx, session, books), nil
}

// booksInOrder loads books by id and keeps the order of ids. Ids of deleted
// books are skipped.
func (s *Service) booksInOrder(ctx context.Context, ids []int64) ([]store.Book, error) {
	if len(ids) == 0 {
		return []store.Book{}, nil
	}
	books, err := s.store.BooksByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	byID := make(map[int64]store.Book, len(books))
	for _, book := range books {
		byID[book.ID] = book
	}
	ordered := make([]store.Book, 0, len(ids))
	for _, id := range ids {
		if book, ok := byID[id]; ok {
			ordered = append(ordered, book)
		}
	}
	return ordered, nil
}

func (s *Service) visibleSummaries(ctx context.Context, session Session, items []store.EntitySummary) []store.EntitySummary {
	visible := make([]store.EntitySummary, 0, len(items))
	for _, item := range items {
		if s.canView(ctx, session, item.Type, item.ID) {
			visible = append(visible, item)
		}
	}
	return visible
}

type HomeView struct {
	Drafts          []store.EntitySummary
	RecentlyViewed  []store.Book
	RecentlyUpdated []store.EntitySummary
}

func (s *Service) Home(ctx context.Context, session Session) (HomeView, error) {
	var view HomeView
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		drafts, err := s.store.DraftPages(gctx, session.UserID, homeDraftLimit)
		if err != nil {
			return err
		}
		view.Drafts = drafts
		return nil
	})
	g.Go(func() error {
		books, err := s.recentlyViewedBooks(gctx, session, sidebarLimit)
		if err != nil {
			return err
		}
		view.RecentlyViewed = books
		return nil
	})
	g.Go(func() error {
		pages, err := s.store.RecentlyUpdatedPages(gctx, homeUpdatedLimit)
		if err != nil {
			return err
		}
		view.RecentlyUpdated = s.visibleSummaries(gctx, session, pages)
		return nil
	})
	if err := g.Wait(); err != nil {
		return HomeView{}, err
	}
	return view, nil
}

type ProfileView struct {
	User       store.User
	Counts     store.ContentCounts
	Pages      []store.EntitySummary
	Chapters   []store.EntitySummary
	Books      []store.EntitySummary
	Activities []store.Activity
}

func (s *Service) Profile(ctx context.Context, session Session, userID string) (ProfileView, error) {
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return ProfileView{}, err
	}
	view := ProfileView{User: user}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		counts, err := s.store.CreatedCounts(gctx, user.ID)
		if err != nil {
			return err
		}
		view.Counts = counts
		return nil
	})
	created := []struct {
		entityType string
		target     *[]store.EntitySummary
	}{
		{store.EntityPage, &view.Pages},
		{store.EntityChapter, &view.Chapters},
		{store.EntityBook, &view.Books},
	}
	for _, item := range created {
		item := item
		g.Go(func() error {
			items, err := s.store.RecentlyCreated(gctx, user.ID, item.entityType, profileItemsLimit)
			if err != nil {
				return err
			}
			*item.target = s.visibleSummaries(gctx, session, items)
			return nil
		})
	}
	g.Go(func() error {
		activities, err := s.store.ListActivitiesByUser(gctx, user.ID, sidebarLimit)
		if err != nil {
			return err
		}
		view.Activities = activities
		return nil
	})
	if err := g.Wait(); err != nil {
		return ProfileView{}, err
	}
	return view, nil
}

type SearchInput struct {
	Text   string
	Type   string
	BookID int64
	Limit  int
	Offset int
}

func (s *Service) Search(ctx context.Context, session Session, input SearchInput) (search.Response, error) {
	resultType, err := search.ParseResultType(input.Type)
	if err != nil {
		return search.Response{}, domainError(http.StatusBadRequest, "INVALID_TYPE", err.Error(), nil)
	}
	limit := input.Limit
	if limit <= 0 {
		limit = defaultSearchSize
	}
	if limit > maxSearchSize {
		limit = maxSearchSize
	}
	offset := input.Offset
	if offset < 0 {
		offset = 0
	}

	query := search.Query{
		Text:         strings.TrimSpace(input.Text),
		FilterType:   resultType,
		FilterBookID: input.BookID,
		Limit:        limit,
		Offset:       offset,
	}
	visible := func(ctx context.Context, r search.Result) bool {
		return s.canView(ctx, session, string(r.Type), r.ID)
	}
	return s.search.Search(ctx, query, visible), nil
}
