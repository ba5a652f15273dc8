package app

import (
	"context"
	"database/sql"
	"sync"
	"testing"
	"time"

	"bookshelf/api/internal/auth"
	"bookshelf/api/internal/config"
	"bookshelf/api/internal/outline"
	"bookshelf/api/internal/rbac"
	"bookshelf/api/internal/reorder"
	"bookshelf/api/internal/search"
	"bookshelf/api/internal/session"
	"bookshelf/api/internal/store"
)

const testSecret = "test-secret"

type fakeStore struct {
	mu sync.Mutex

	pingFn                 func(context.Context) error
	getUserByIDFn          func(context.Context, string) (store.User, error)
	isAccessTokenRevokedFn func(context.Context, string) (bool, error)
	getBookBySlugFn        func(context.Context, string) (store.Book, error)
	bookTreeFn             func(context.Context, int64) (store.BookTree, error)
	getChapterByIDFn       func(context.Context, int64) (store.Chapter, error)
	createPageFn           func(context.Context, store.Page) (store.Page, error)
	createBookFn           func(context.Context, store.Book) (store.Book, error)
	slugExistsFn           func(context.Context, string, string) (bool, error)
	setRestrictionsFn      func(context.Context, string, int64, []store.Restriction) error
	createdCountsFn        func(context.Context, string) (store.ContentCounts, error)
	recentlyCreatedFn      func(context.Context, string, string, int) ([]store.EntitySummary, error)
	listActivitiesFn       func(context.Context, string, int) ([]store.Activity, error)
	lookupRefreshFn        func(context.Context, string) (store.User, error)

	savedRefresh   []string
	revokedRefresh []string
	revokedAccess  []string
	views          []string
}

func (f *fakeStore) Ping(ctx context.Context) error {
	if f.pingFn != nil {
		return f.pingFn(ctx)
	}
	return nil
}

func (f *fakeStore) GetUserByID(ctx context.Context, userID string) (store.User, error) {
	if f.getUserByIDFn != nil {
		return f.getUserByIDFn(ctx, userID)
	}
	return store.User{ID: userID, DisplayName: "Avery", Role: "editor"}, nil
}

func (f *fakeStore) RevokeAccessToken(_ context.Context, jti string, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.revokedAccess = append(f.revokedAccess, jti)
	return nil
}

func (f *fakeStore) IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error) {
	if f.isAccessTokenRevokedFn != nil {
		return f.isAccessTokenRevokedFn(ctx, jti)
	}
	return false, nil
}

func (f *fakeStore) SlugExists(ctx context.Context, entityType, slug string) (bool, error) {
	if f.slugExistsFn != nil {
		return f.slugExistsFn(ctx, entityType, slug)
	}
	return false, nil
}

func (f *fakeStore) ListShelves(context.Context, store.ListOptions) ([]store.Bookshelf, int, error) {
	return nil, 0, nil
}
func (f *fakeStore) RecentShelves(context.Context, int) ([]store.Bookshelf, error) { return nil, nil }
func (f *fakeStore) GetShelfBySlug(context.Context, string) (store.Bookshelf, error) {
	return store.Bookshelf{}, sql.ErrNoRows
}
func (f *fakeStore) CreateShelf(_ context.Context, shelf store.Bookshelf, _ []int64) (store.Bookshelf, error) {
	shelf.ID = 1
	return shelf, nil
}
func (f *fakeStore) DeleteShelf(context.Context, int64) error { return nil }

func (f *fakeStore) ListBooks(context.Context, store.ListOptions) ([]store.Book, error) {
	return nil, nil
}
func (f *fakeStore) BooksByIDs(context.Context, []int64) ([]store.Book, error) { return nil, nil }
func (f *fakeStore) RecentBooks(context.Context, int) ([]store.Book, error)    { return nil, nil }

func (f *fakeStore) GetBookBySlug(ctx context.Context, slug string) (store.Book, error) {
	if f.getBookBySlugFn != nil {
		return f.getBookBySlugFn(ctx, slug)
	}
	return store.Book{}, sql.ErrNoRows
}

func (f *fakeStore) CreateBook(ctx context.Context, book store.Book) (store.Book, error) {
	if f.createBookFn != nil {
		return f.createBookFn(ctx, book)
	}
	book.ID = 1
	return book, nil
}
func (f *fakeStore) UpdateBook(_ context.Context, book store.Book) (store.Book, error) {
	return book, nil
}
func (f *fakeStore) DeleteBook(context.Context, int64) error { return nil }

func (f *fakeStore) BookTree(ctx context.Context, bookID int64) (store.BookTree, error) {
	if f.bookTreeFn != nil {
		return f.bookTreeFn(ctx, bookID)
	}
	return store.BookTree{Book: store.Book{ID: bookID}}, nil
}

func (f *fakeStore) GetChapter(context.Context, int64, string) (store.Chapter, error) {
	return store.Chapter{}, sql.ErrNoRows
}

func (f *fakeStore) GetChapterByID(ctx context.Context, chapterID int64) (store.Chapter, error) {
	if f.getChapterByIDFn != nil {
		return f.getChapterByIDFn(ctx, chapterID)
	}
	return store.Chapter{}, sql.ErrNoRows
}

func (f *fakeStore) GetPage(context.Context, int64, string) (store.Page, error) {
	return store.Page{}, sql.ErrNoRows
}
func (f *fakeStore) CreateChapter(_ context.Context, chapter store.Chapter) (store.Chapter, error) {
	chapter.ID = 1
	return chapter, nil
}

func (f *fakeStore) CreatePage(ctx context.Context, page store.Page) (store.Page, error) {
	if f.createPageFn != nil {
		return f.createPageFn(ctx, page)
	}
	page.ID = 1
	return page, nil
}

func (f *fakeStore) DraftPages(context.Context, string, int) ([]store.EntitySummary, error) {
	return nil, nil
}
func (f *fakeStore) RecentlyUpdatedPages(context.Context, int) ([]store.EntitySummary, error) {
	return nil, nil
}

func (f *fakeStore) RecentlyCreated(ctx context.Context, userID, entityType string, limit int) ([]store.EntitySummary, error) {
	if f.recentlyCreatedFn != nil {
		return f.recentlyCreatedFn(ctx, userID, entityType, limit)
	}
	return nil, nil
}

func (f *fakeStore) CreatedCounts(ctx context.Context, userID string) (store.ContentCounts, error) {
	if f.createdCountsFn != nil {
		return f.createdCountsFn(ctx, userID)
	}
	return store.ContentCounts{}, nil
}

func (f *fakeStore) ListActivitiesByUser(ctx context.Context, userID string, limit int) ([]store.Activity, error) {
	if f.listActivitiesFn != nil {
		return f.listActivitiesFn(ctx, userID, limit)
	}
	return nil, nil
}

func (f *fakeStore) RecordView(_ context.Context, userID, entityType string, entityID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.views = append(f.views, entityType)
	return nil
}
func (f *fakeStore) PopularBooks(context.Context, int) ([]store.Book, error) { return nil, nil }
func (f *fakeStore) RecentlyViewedBooks(context.Context, string, int) ([]store.Book, error) {
	return nil, nil
}

func (f *fakeStore) ListRestrictions(context.Context, string, int64) ([]store.Restriction, error) {
	return nil, nil
}

func (f *fakeStore) SetRestrictions(ctx context.Context, entityType string, entityID int64, restrictions []store.Restriction) error {
	if f.setRestrictionsFn != nil {
		return f.setRestrictionsFn(ctx, entityType, entityID, restrictions)
	}
	return nil
}

func (f *fakeStore) SaveRefreshSession(_ context.Context, tokenHash, _ string, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.savedRefresh = append(f.savedRefresh, tokenHash)
	return nil
}

func (f *fakeStore) LookupRefreshSession(ctx context.Context, tokenHash string) (store.User, error) {
	if f.lookupRefreshFn != nil {
		return f.lookupRefreshFn(ctx, tokenHash)
	}
	return store.User{}, sql.ErrNoRows
}

func (f *fakeStore) RevokeRefreshSession(_ context.Context, tokenHash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.revokedRefresh = append(f.revokedRefresh, tokenHash)
	return nil
}

type fakeCredentials struct {
	signInFn func(context.Context, string, string) (store.User, error)
	admins   []string
}

func (f *fakeCredentials) SignIn(ctx context.Context, email, password string) (store.User, error) {
	if f.signInFn != nil {
		return f.signInFn(ctx, email, password)
	}
	return store.User{}, sql.ErrNoRows
}

func (f *fakeCredentials) EnsureAdmin(_ context.Context, email, _ string) (store.User, error) {
	f.admins = append(f.admins, email)
	return store.User{ID: "admin-1", Email: email, Role: string(rbac.RoleAdmin)}, nil
}

type fakeSorter struct {
	applyFn func(context.Context, reorder.Batch, reorder.Actor) (reorder.Result, error)
	batches []reorder.Batch
	actors  []reorder.Actor
}

func (f *fakeSorter) ApplyReorder(ctx context.Context, batch reorder.Batch, actor reorder.Actor) (reorder.Result, error) {
	f.batches = append(f.batches, batch)
	f.actors = append(f.actors, actor)
	if f.applyFn != nil {
		return f.applyFn(ctx, batch, actor)
	}
	return reorder.Result{}, nil
}

type fakePerms struct {
	mu       sync.Mutex
	allowFn  func(rbac.Role, string, rbac.Action) bool
	canFn    func(rbac.Role, string, int64, rbac.Action) bool
	rebuilt  []int64
	rebuilds int
}

func (f *fakePerms) Allow(role rbac.Role, entityType string, action rbac.Action) bool {
	if f.allowFn != nil {
		return f.allowFn(role, entityType, action)
	}
	return true
}

func (f *fakePerms) Can(_ context.Context, role rbac.Role, entityType string, entityID int64, action rbac.Action) (bool, error) {
	if f.canFn != nil {
		return f.canFn(role, entityType, entityID, action), nil
	}
	return true, nil
}

func (f *fakePerms) RebuildForBook(_ context.Context, bookID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rebuilt = append(f.rebuilt, bookID)
	return nil
}

func (f *fakePerms) RebuildAll(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rebuilds++
	return nil
}

type loggedActivity struct {
	kind       string
	entityType string
	entityID   int64
	userID     string
}

type fakeActivity struct {
	mu      sync.Mutex
	entries []loggedActivity
}

func (f *fakeActivity) Log(_ context.Context, kind, entityType string, entityID int64, userID, _ string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, loggedActivity{kind: kind, entityType: entityType, entityID: entityID, userID: userID})
}

type recordedOutline struct {
	snapshot outline.Snapshot
	author   string
	message  string
}

type fakeOutlines struct {
	recorded  []recordedOutline
	historyFn func(int64, int) ([]outline.Commit, error)
}

func (f *fakeOutlines) Record(snapshot outline.Snapshot, author, message string) (outline.Commit, bool, error) {
	f.recorded = append(f.recorded, recordedOutline{snapshot: snapshot, author: author, message: message})
	return outline.Commit{Hash: "abc123", Message: message, Author: author}, true, nil
}

func (f *fakeOutlines) History(bookID int64, limit int) ([]outline.Commit, error) {
	if f.historyFn != nil {
		return f.historyFn(bookID, limit)
	}
	return []outline.Commit{}, nil
}

type fakeSearch struct {
	mu        sync.Mutex
	results   []search.Result
	queries   []search.Query
	indexed   []search.Record
	deleted   []string
	reindexed []search.Ref
}

func (f *fakeSearch) Search(ctx context.Context, q search.Query, visible search.Visible) search.Response {
	f.mu.Lock()
	f.queries = append(f.queries, q)
	f.mu.Unlock()
	results := make([]search.Result, 0, len(f.results))
	for _, result := range f.results {
		if visible == nil || visible(ctx, result) {
			results = append(results, result)
		}
	}
	return search.Response{Results: results, Total: len(results), Query: q.Text}
}

func (f *fakeSearch) IndexRecord(r search.Record) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.indexed = append(f.indexed, r)
}

func (f *fakeSearch) Delete(t search.ResultType, id int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, search.RecordKey(t, id))
}

func (f *fakeSearch) Reindex(_ context.Context, refs []search.Ref) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reindexed = append(f.reindexed, refs...)
}

type fakeViews struct {
	mu      sync.Mutex
	tracked []session.ViewRef
}

func (f *fakeViews) Track(_ context.Context, _ string, ref session.ViewRef) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tracked = append(f.tracked, ref)
	return nil
}
func (f *fakeViews) Popular(context.Context, string, int) ([]int64, error) { return nil, nil }
func (f *fakeViews) Recent(context.Context, string, int) ([]session.ViewRef, error) {
	return nil, nil
}
func (f *fakeViews) Forget(context.Context, session.ViewRef) error { return nil }

type testDeps struct {
	store    *fakeStore
	creds    *fakeCredentials
	sorter   *fakeSorter
	perms    *fakePerms
	activity *fakeActivity
	outlines *fakeOutlines
	search   *fakeSearch
	views    *fakeViews
}

func newTestDeps() *testDeps {
	return &testDeps{
		store:    &fakeStore{},
		creds:    &fakeCredentials{},
		sorter:   &fakeSorter{},
		perms:    &fakePerms{},
		activity: &fakeActivity{},
		outlines: &fakeOutlines{},
		search:   &fakeSearch{},
		views:    &fakeViews{},
	}
}

func newTestService(deps *testDeps) *Service {
	return New(config.Config{
		JWTSecret:      testSecret,
		AccessTTL:      time.Hour,
		RefreshTTL:     24 * time.Hour,
		ShelvesPerPage: 18,
		AdminEmail:     "admin@admin.com",
		AdminPassword:  "password",
	}, Deps{
		Store:       deps.store,
		Credentials: deps.creds,
		Sorter:      deps.sorter,
		Permissions: deps.perms,
		Activity:    deps.activity,
		Outlines:    deps.outlines,
		Search:      deps.search,
		Views:       deps.views,
	})
}

func tokenFor(t *testing.T, userID, role string) string {
	t.Helper()
	token, _, err := auth.IssueToken([]byte(testSecret), userID, "Avery", role, time.Hour)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return token
}
