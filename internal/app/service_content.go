package app

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"bookshelf/api/internal/activity"
	"bookshelf/api/internal/rbac"
	"bookshelf/api/internal/search"
	"bookshelf/api/internal/session"
	"bookshelf/api/internal/slug"
	"bookshelf/api/internal/store"
)

func (s *Service) uniqueSlug(ctx context.Context, entityType, name string) (string, error) {
	return slug.Unique(slug.Make(name), func(candidate string) (bool, error) {
		return s.store.SlugExists(ctx, entityType, candidate)
	})
}

// trackView records a view in Postgres and, when configured, in redis.
// Failures never reach the reader.
func (s *Service) trackView(ctx context.Context, caller Session, entityType string, entityID int64) {
	logger := s.logger.WithField("entity_type", entityType).WithField("entity_id", entityID)
	if err := s.store.RecordView(ctx, caller.UserID, entityType, entityID); err != nil {
		logger.WithError(err).Warn("record view")
	}
	if s.views == nil {
		return
	}
	if err := s.views.Track(ctx, caller.UserID, session.ViewRef{Type: entityType, ID: entityID}); err != nil {
		logger.WithError(err).Warn("track view")
	}
}

func (s *Service) forgetViews(ctx context.Context, entityType string, entityID int64) {
	if s.views == nil {
		return
	}
	if err := s.views.Forget(ctx, session.ViewRef{Type: entityType, ID: entityID}); err != nil {
		s.logger.WithError(err).Warn("forget views")
	}
}

func (s *Service) visibleBooks(ctx context.Context, session Session, books []store.Book) []store.Book {
	visible := make([]store.Book, 0, len(books))
	for _, book := range books {
		if s.canView(ctx, session, store.EntityBook, book.ID) {
			visible = append(visible, book)
		}
	}
	return visible
}

func (s *Service) visibleShelves(ctx context.Context, session Session, shelves []store.Bookshelf) []store.Bookshelf {
	visible := make([]store.Bookshelf, 0, len(shelves))
	for _, shelf := range shelves {
		if s.canView(ctx, session, store.EntityBookshelf, shelf.ID) {
			shelf.Books = s.visibleBooks(ctx, session, shelf.Books)
			visible = append(visible, shelf)
		}
	}
	return visible
}

func (s *Service) ShowShelf(ctx context.Context, session Session, shelfSlug string) (store.Bookshelf, error) {
	shelf, err := s.store.GetShelfBySlug(ctx, shelfSlug)
	if err != nil {
		return store.Bookshelf{}, err
	}
	if err := s.authorize(ctx, session, store.EntityBookshelf, shelf.ID, rbac.ActionView); err != nil {
		return store.Bookshelf{}, err
	}
	shelf.Books = s.visibleBooks(ctx, session, shelf.Books)
	s.trackView(ctx, session, store.EntityBookshelf, shelf.ID)
	return shelf, nil
}

func (s *Service) CreateShelf(ctx context.Context, session Session, input CreateShelfInput) (store.Bookshelf, error) {
	input.Name = strings.TrimSpace(input.Name)
	if err := validate.Struct(input); err != nil {
		return store.Bookshelf{}, err
	}
	if !s.perms.Allow(session.role(), store.EntityBookshelf, rbac.ActionCreate) {
		return store.Bookshelf{}, errForbidden
	}
	for _, bookID := range input.Books {
		if err := s.authorize(ctx, session, store.EntityBook, bookID, rbac.ActionView); err != nil {
			return store.Bookshelf{}, err
		}
	}

	shelfSlug, err := s.uniqueSlug(ctx, store.EntityBookshelf, input.Name)
	if err != nil {
		return store.Bookshelf{}, err
	}
	shelf, err := s.store.CreateShelf(ctx, store.Bookshelf{
		Name:        input.Name,
		Slug:        shelfSlug,
		Description: input.Description,
		CreatedBy:   session.UserID,
	}, input.Books)
	if err != nil {
		return store.Bookshelf{}, err
	}

	s.activity.Log(ctx, activity.BookshelfCreate, store.EntityBookshelf, shelf.ID, session.UserID, shelf.Name)
	s.search.IndexRecord(search.Record{
		Key:  search.RecordKey(search.ResultBookshelf, shelf.ID),
		Type: search.ResultBookshelf,
		ID:   shelf.ID,
		Name: shelf.Name,
		Body: shelf.Description,
		Slug: shelf.Slug,
	})
	return shelf, nil
}

func (s *Service) DeleteShelf(ctx context.Context, session Session, shelfSlug string) error {
	shelf, err := s.store.GetShelfBySlug(ctx, shelfSlug)
	if err != nil {
		return err
	}
	if err := s.authorize(ctx, session, store.EntityBookshelf, shelf.ID, rbac.ActionDelete); err != nil {
		return err
	}
	if err := s.store.DeleteShelf(ctx, shelf.ID); err != nil {
		return err
	}
	s.activity.Log(ctx, activity.BookshelfDelete, store.EntityBookshelf, shelf.ID, session.UserID, shelf.Name)
	s.search.Delete(search.ResultBookshelf, shelf.ID)
	s.forgetViews(ctx, store.EntityBookshelf, shelf.ID)
	return nil
}

func (s *Service) ListBooks(ctx context.Context, session Session, opts store.ListOptions) ([]store.Book, error) {
	books, err := s.store.ListBooks(ctx, opts)
	if err != nil {
		return nil, err
	}
	return s.visibleBooks(ctx, session, books), nil
}

// ShowBook returns the book with the chapters and pages the caller may see.
func (s *Service) ShowBook(ctx context.Context, session Session, bookSlug string) (store.BookTree, error) {
	tree, err := s.bookTree(ctx, session, bookSlug, rbac.ActionView)
	if err != nil {
		return store.BookTree{}, err
	}
	s.trackView(ctx, session, store.EntityBook, tree.Book.ID)
	return tree, nil
}

// bookTree loads a book after checking action on it and prunes children the
// caller can not view.
func (s *Service) bookTree(ctx context.Context, session Session, bookSlug string, action rbac.Action) (store.BookTree, error) {
	book, err := s.store.GetBookBySlug(ctx, bookSlug)
	if err != nil {
		return store.BookTree{}, err
	}
	if err := s.authorize(ctx, session, store.EntityBook, book.ID, action); err != nil {
		return store.BookTree{}, err
	}
	tree, err := s.store.BookTree(ctx, book.ID)
	if err != nil {
		return store.BookTree{}, err
	}

	chapters := make([]store.Chapter, 0, len(tree.Chapters))
	for _, chapter := range tree.Chapters {
		if !s.canView(ctx, session, store.EntityChapter, chapter.ID) {
			continue
		}
		chapter.Pages = s.visiblePages(ctx, session, chapter.Pages)
		chapters = append(chapters, chapter)
	}
	tree.Chapters = chapters
	tree.Pages = s.visiblePages(ctx, session, tree.Pages)
	return tree, nil
}

func (s *Service) visiblePages(ctx context.Context, session Session, pages []store.Page) []store.Page {
	visible := make([]store.Page, 0, len(pages))
	for _, page := range pages {
		if s.canView(ctx, session, store.EntityPage, page.ID) {
			visible = append(visible, page)
		}
	}
	return visible
}

func (s *Service) CreateBook(ctx context.Context, session Session, input BookInput) (store.Book, error) {
	input.Name = strings.TrimSpace(input.Name)
	if err := validate.Struct(input); err != nil {
		return store.Book{}, err
	}
	if !s.perms.Allow(session.role(), store.EntityBook, rbac.ActionCreate) {
		return store.Book{}, errForbidden
	}
	bookSlug, err := s.uniqueSlug(ctx, store.EntityBook, input.Name)
	if err != nil {
		return store.Book{}, err
	}
	book, err := s.store.CreateBook(ctx, store.Book{
		Name:        input.Name,
		Slug:        bookSlug,
		Description: input.Description,
		CreatedBy:   session.UserID,
	})
	if err != nil {
		return store.Book{}, err
	}

	if err := s.perms.RebuildForBook(ctx, book.ID); err != nil {
		s.logger.WithError(err).WithField("book_id", book.ID).Error("rebuild joint permissions")
	}
	s.activity.Log(ctx, activity.BookCreate, store.EntityBook, book.ID, session.UserID, book.Name)
	s.search.IndexRecord(bookRecord(book))
	return book, nil
}

func (s *Service) UpdateBook(ctx context.Context, session Session, bookSlug string, input BookInput) (store.Book, error) {
	input.Name = strings.TrimSpace(input.Name)
	if err := validate.Struct(input); err != nil {
		return store.Book{}, err
	}
	book, err := s.store.GetBookBySlug(ctx, bookSlug)
	if err != nil {
		return store.Book{}, err
	}
	if err := s.authorize(ctx, session, store.EntityBook, book.ID, rbac.ActionUpdate); err != nil {
		return store.Book{}, err
	}
	book.Name = input.Name
	book.Description = input.Description
	book.UpdatedBy = session.UserID
	updated, err := s.store.UpdateBook(ctx, book)
	if err != nil {
		return store.Book{}, err
	}
	s.activity.Log(ctx, activity.BookUpdate, store.EntityBook, updated.ID, session.UserID, updated.Name)
	s.search.IndexRecord(bookRecord(updated))
	return updated, nil
}

func (s *Service) DeleteBook(ctx context.Context, session Session, bookSlug string) error {
	book, err := s.store.GetBookBySlug(ctx, bookSlug)
	if err != nil {
		return err
	}
	if err := s.authorize(ctx, session, store.EntityBook, book.ID, rbac.ActionDelete); err != nil {
		return err
	}
	tree, err := s.store.BookTree(ctx, book.ID)
	if err != nil {
		return err
	}
	if err := s.store.DeleteBook(ctx, tree.Book.ID); err != nil {
		return err
	}
	s.activity.Log(ctx, activity.BookDelete, store.EntityBook, tree.Book.ID, session.UserID, tree.Book.Name)
	s.search.Delete(search.ResultBook, tree.Book.ID)
	for _, chapter := range tree.Chapters {
		s.search.Delete(search.ResultChapter, chapter.ID)
		for _, page := range chapter.Pages {
			s.search.Delete(search.ResultPage, page.ID)
		}
	}
	for _, page := range tree.Pages {
		s.search.Delete(search.ResultPage, page.ID)
	}
	s.forgetViews(ctx, store.EntityBook, tree.Book.ID)
	return nil
}

func (s *Service) ShowChapter(ctx context.Context, session Session, bookSlug, chapterSlug string) (store.Chapter, error) {
	book, err := s.store.GetBookBySlug(ctx, bookSlug)
	if err != nil {
		return store.Chapter{}, err
	}
	chapter, err := s.store.GetChapter(ctx, book.ID, chapterSlug)
	if err != nil {
		return store.Chapter{}, err
	}
	if err := s.authorize(ctx, session, store.EntityChapter, chapter.ID, rbac.ActionView); err != nil {
		return store.Chapter{}, err
	}
	s.trackView(ctx, session, store.EntityChapter, chapter.ID)
	return chapter, nil
}

// CreateChapter appends a chapter to the end of the book.
func (s *Service) CreateChapter(ctx context.Context, session Session, bookSlug string, input ChapterInput) (store.Chapter, error) {
	input.Name = strings.TrimSpace(input.Name)
	if err := validate.Struct(input); err != nil {
		return store.Chapter{}, err
	}
	book, err := s.store.GetBookBySlug(ctx, bookSlug)
	if err != nil {
		return store.Chapter{}, err
	}
	if err := s.authorize(ctx, session, store.EntityBook, book.ID, rbac.ActionCreate); err != nil {
		return store.Chapter{}, err
	}
	chapterSlug, err := s.uniqueSlug(ctx, store.EntityChapter, input.Name)
	if err != nil {
		return store.Chapter{}, err
	}
	chapter, err := s.store.CreateChapter(ctx, store.Chapter{
		BookID:      book.ID,
		Name:        input.Name,
		Slug:        chapterSlug,
		Description: input.Description,
		CreatedBy:   session.UserID,
	})
	if err != nil {
		return store.Chapter{}, err
	}

	if err := s.perms.RebuildForBook(ctx, book.ID); err != nil {
		s.logger.WithError(err).WithField("book_id", book.ID).Error("rebuild joint permissions")
	}
	s.activity.Log(ctx, activity.ChapterCreate, store.EntityChapter, chapter.ID, session.UserID, chapter.Name)
	s.search.IndexRecord(search.Record{
		Key:      search.RecordKey(search.ResultChapter, chapter.ID),
		Type:     search.ResultChapter,
		ID:       chapter.ID,
		Name:     chapter.Name,
		Body:     chapter.Description,
		Slug:     chapter.Slug,
		BookID:   book.ID,
		BookSlug: book.Slug,
	})
	return chapter, nil
}

func (s *Service) ShowPage(ctx context.Context, session Session, bookSlug, pageSlug string) (store.Page, error) {
	book, err := s.store.GetBookBySlug(ctx, bookSlug)
	if err != nil {
		return store.Page{}, err
	}
	page, err := s.store.GetPage(ctx, book.ID, pageSlug)
	if err != nil {
		return store.Page{}, err
	}
	if page.Draft && page.CreatedBy != session.UserID {
		return store.Page{}, domainError(http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
	if err := s.authorize(ctx, session, store.EntityPage, page.ID, rbac.ActionView); err != nil {
		return store.Page{}, err
	}
	if !page.Draft {
		s.trackView(ctx, session, store.EntityPage, page.ID)
	}
	return page, nil
}

// CreatePage appends a page to the end of a chapter, or of the book's top
// level when no chapter is given. Drafts are not indexed.
func (s *Service) CreatePage(ctx context.Context, session Session, bookSlug string, input PageInput) (store.Page, error) {
	input.Name = strings.TrimSpace(input.Name)
	if err := validate.Struct(input); err != nil {
		return store.Page{}, err
	}
	book, err := s.store.GetBookBySlug(ctx, bookSlug)
	if err != nil {
		return store.Page{}, err
	}
	if input.ChapterID != 0 {
		chapter, err := s.store.GetChapterByID(ctx, input.ChapterID)
		if err != nil {
			return store.Page{}, err
		}
		if chapter.BookID != book.ID {
			return store.Page{}, domainError(http.StatusUnprocessableEntity, "INVALID_CHAPTER",
				fmt.Sprintf("chapter %d does not belong to this book", chapter.ID), nil)
		}
		if err := s.authorize(ctx, session, store.EntityChapter, chapter.ID, rbac.ActionCreate); err != nil {
			return store.Page{}, err
		}
	} else if err := s.authorize(ctx, session, store.EntityBook, book.ID, rbac.ActionCreate); err != nil {
		return store.Page{}, err
	}

	pageSlug, err := s.uniqueSlug(ctx, store.EntityPage, input.Name)
	if err != nil {
		return store.Page{}, err
	}
	page, err := s.store.CreatePage(ctx, store.Page{
		BookID:    book.ID,
		ChapterID: input.ChapterID,
		Name:      input.Name,
		Slug:      pageSlug,
		HTML:      input.HTML,
		Text:      plainText(input.HTML),
		Draft:     input.Draft,
		CreatedBy: session.UserID,
	})
	if err != nil {
		return store.Page{}, err
	}

	if err := s.perms.RebuildForBook(ctx, book.ID); err != nil {
		s.logger.WithError(err).WithField("book_id", book.ID).Error("rebuild joint permissions")
	}
	s.activity.Log(ctx, activity.PageCreate, store.EntityPage, page.ID, session.UserID, page.Name)
	if !page.Draft {
		s.search.IndexRecord(search.Record{
			Key:      search.RecordKey(search.ResultPage, page.ID),
			Type:     search.ResultPage,
			ID:       page.ID,
			Name:     page.Name,
			Body:     page.Text,
			Slug:     page.Slug,
			BookID:   book.ID,
			BookSlug: book.Slug,
		})
	}
	return page, nil
}

func bookRecord(book store.Book) search.Record {
	return search.Record{
		Key:      search.RecordKey(search.ResultBook, book.ID),
		Type:     search.ResultBook,
		ID:       book.ID,
		Name:     book.Name,
		Body:     book.Description,
		Slug:     book.Slug,
		BookID:   book.ID,
		BookSlug: book.Slug,
	}
}
