package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"bookshelf/api/internal/auth"
	"bookshelf/api/internal/config"
	"bookshelf/api/internal/outline"
	"bookshelf/api/internal/rbac"
	"bookshelf/api/internal/reorder"
	"bookshelf/api/internal/search"
	"bookshelf/api/internal/session"
	"bookshelf/api/internal/store"
)

type Session struct {
	Token        string
	RefreshToken string
	UserID       string
	UserName     string
	Role         string
	JTI          string
	ExpiresAt    time.Time
}

func (s Session) actor() reorder.Actor {
	return reorder.Actor{UserID: s.UserID, Role: s.Role}
}

func (s Session) role() rbac.Role {
	return rbac.Normalize(s.Role)
}

type dataStore interface {
	Ping(context.Context) error
	GetUserByID(context.Context, string) (store.User, error)
	RevokeAccessToken(context.Context, string, time.Time) error
	IsAccessTokenRevoked(context.Context, string) (bool, error)
	SlugExists(context.Context, string, string) (bool, error)

	ListShelves(context.Context, store.ListOptions) ([]store.Bookshelf, int, error)
	RecentShelves(context.Context, int) ([]store.Bookshelf, error)
	GetShelfBySlug(context.Context, string) (store.Bookshelf, error)
	CreateShelf(context.Context, store.Bookshelf, []int64) (store.Bookshelf, error)
	DeleteShelf(context.Context, int64) error

	ListBooks(context.Context, store.ListOptions) ([]store.Book, error)
	BooksByIDs(context.Context, []int64) ([]store.Book, error)
	RecentBooks(context.Context, int) ([]store.Book, error)
	GetBookBySlug(context.Context, string) (store.Book, error)
	CreateBook(context.Context, store.Book) (store.Book, error)
	UpdateBook(context.Context, store.Book) (store.Book, error)
	DeleteBook(context.Context, int64) error
	BookTree(context.Context, int64) (store.BookTree, error)

	GetChapter(context.Context, int64, string) (store.Chapter, error)
	GetChapterByID(context.Context, int64) (store.Chapter, error)
	GetPage(context.Context, int64, string) (store.Page, error)
	CreateChapter(context.Context, store.Chapter) (store.Chapter, error)
	CreatePage(context.Context, store.Page) (store.Page, error)

	DraftPages(context.Context, string, int) ([]store.EntitySummary, error)
	RecentlyUpdatedPages(context.Context, int) ([]store.EntitySummary, error)
	RecentlyCreated(context.Context, string, string, int) ([]store.EntitySummary, error)
	CreatedCounts(context.Context, string) (store.ContentCounts, error)
	ListActivitiesByUser(context.Context, string, int) ([]store.Activity, error)

	RecordView(context.Context, string, string, int64) error
	PopularBooks(context.Context, int) ([]store.Book, error)
	RecentlyViewedBooks(context.Context, string, int) ([]store.Book, error)

	ListRestrictions(context.Context, string, int64) ([]store.Restriction, error)
	SetRestrictions(context.Context, string, int64, []store.Restriction) error
}

// refreshStore is either Postgres or redis. The redis variant only knows
// the user id, so lookups are always followed by a user load.
type refreshStore interface {
	SaveRefreshSession(context.Context, string, string, time.Time) error
	LookupRefreshSession(context.Context, string) (store.User, error)
	RevokeRefreshSession(context.Context, string) error
}

type credentials interface {
	SignIn(context.Context, string, string) (store.User, error)
	EnsureAdmin(context.Context, string, string) (store.User, error)
}

type reorderer interface {
	ApplyReorder(context.Context, reorder.Batch, reorder.Actor) (reorder.Result, error)
}

type permissionService interface {
	Allow(rbac.Role, string, rbac.Action) bool
	Can(context.Context, rbac.Role, string, int64, rbac.Action) (bool, error)
	RebuildForBook(context.Context, int64) error
	RebuildAll(context.Context) error
}

type activityLog interface {
	Log(ctx context.Context, kind, entityType string, entityID int64, userID, detail string)
}

type outlineHistory interface {
	Record(outline.Snapshot, string, string) (outline.Commit, bool, error)
	History(int64, int) ([]outline.Commit, error)
}

type searchIndex interface {
	Search(context.Context, search.Query, search.Visible) search.Response
	IndexRecord(search.Record)
	Delete(search.ResultType, int64)
	Reindex(context.Context, []search.Ref)
}

type viewTracker interface {
	Track(context.Context, string, session.ViewRef) error
	Popular(context.Context, string, int) ([]int64, error)
	Recent(context.Context, string, int) ([]session.ViewRef, error)
	Forget(context.Context, session.ViewRef) error
}

// Deps are the collaborators of a Service. Views is optional; without it
// popularity and recents are read from Postgres only.
type Deps struct {
	Store       dataStore
	Refresh     refreshStore
	Credentials credentials
	Sorter      reorderer
	Permissions permissionService
	Activity    activityLog
	Outlines    outlineHistory
	Search      searchIndex
	Views       viewTracker
	Logger      *logrus.Entry
}

type Service struct {
	cfg      config.Config
	store    dataStore
	refresh  refreshStore
	creds    credentials
	sorter   reorderer
	perms    permissionService
	activity activityLog
	outlines outlineHistory
	search   searchIndex
	views    viewTracker
	logger   *logrus.Entry
}

func New(cfg config.Config, deps Deps) *Service {
	logger := deps.Logger
	if logger == nil {
		logger = logrus.WithField("component", "app")
	}
	refresh := deps.Refresh
	if refresh == nil {
		if rs, ok := deps.Store.(refreshStore); ok {
			refresh = rs
		}
	}
	return &Service{
		cfg:      cfg,
		store:    deps.Store,
		refresh:  refresh,
		creds:    deps.Credentials,
		sorter:   deps.Sorter,
		perms:    deps.Permissions,
		activity: deps.Activity,
		outlines: deps.Outlines,
		search:   deps.Search,
		views:    deps.Views,
		logger:   logger,
	}
}

// Bootstrap seeds the administrator account and warms the joint permission
// cache for every book.
func (s *Service) Bootstrap(ctx context.Context) error {
	if strings.TrimSpace(s.cfg.AdminEmail) != "" {
		admin, err := s.creds.EnsureAdmin(ctx, s.cfg.AdminEmail, s.cfg.AdminPassword)
		if err != nil {
			return fmt.Errorf("ensure admin: %w", err)
		}
		s.logger.WithField("user_id", admin.ID).Info("admin account ready")
	}
	if err := s.perms.RebuildAll(ctx); err != nil {
		return fmt.Errorf("rebuild permissions: %w", err)
	}
	return nil
}

func (s *Service) Login(ctx context.Context, input LoginInput) (Session, error) {
	input.Email = strings.TrimSpace(input.Email)
	if err := validate.Struct(input); err != nil {
		return Session{}, err
	}
	user, err := s.creds.SignIn(ctx, input.Email, input.Password)
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	tokenHash := auth.HashToken(refreshToken)
	found, err := s.refresh.LookupRefreshSession(ctx, tokenHash)
	if err != nil {
		return Session{}, err
	}
	user, err := s.store.GetUserByID(ctx, found.ID)
	if err != nil {
		return Session{}, err
	}
	if err := s.refresh.RevokeRefreshSession(ctx, tokenHash); err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) issueSession(ctx context.Context, user store.User) (Session, error) {
	token, claims, err := auth.IssueToken([]byte(s.cfg.JWTSecret), user.ID, user.DisplayName, user.Role, s.cfg.AccessTTL)
	if err != nil {
		return Session{}, err
	}

	refresh, err := auth.NewRefreshToken()
	if err != nil {
		return Session{}, err
	}
	refreshExpires := time.Now().Add(s.cfg.RefreshTTL)
	if err := s.refresh.SaveRefreshSession(ctx, auth.HashToken(refresh), user.ID, refreshExpires); err != nil {
		return Session{}, err
	}

	return Session{
		Token:        token,
		RefreshToken: refresh,
		UserID:       user.ID,
		UserName:     user.DisplayName,
		Role:         user.Role,
		JTI:          claims.ID,
		ExpiresAt:    claims.ExpiresAt.Time,
	}, nil
}

func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}
	revoked, err := s.store.IsAccessTokenRevoked(ctx, claims.ID)
	if err != nil {
		return Session{}, err
	}
	if revoked {
		return Session{}, auth.ErrInvalidToken
	}

	user, err := s.store.GetUserByID(ctx, claims.Subject)
	if err != nil {
		return Session{}, err
	}

	return Session{
		Token:     token,
		UserID:    user.ID,
		UserName:  user.DisplayName,
		Role:      user.Role,
		JTI:       claims.ID,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}

func (s *Service) Logout(ctx context.Context, session Session, refreshToken string) error {
	if session.JTI != "" {
		if err := s.store.RevokeAccessToken(ctx, session.JTI, session.ExpiresAt); err != nil {
			s.logger.WithError(err).Warn("revoke access token")
		}
	}
	if refreshToken != "" {
		if err := s.refresh.RevokeRefreshSession(ctx, auth.HashToken(refreshToken)); err != nil {
			s.logger.WithError(err).Warn("revoke refresh token")
		}
	}
	return nil
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// authorize checks action on one stored entity.
func (s *Service) authorize(ctx context.Context, session Session, entityType string, entityID int64, action rbac.Action) error {
	allowed, err := s.perms.Can(ctx, session.role(), entityType, entityID, action)
	if err != nil {
		return fmt.Errorf("check permission: %w", err)
	}
	if !allowed {
		return errForbidden
	}
	return nil
}

// canView is authorize for list filtering. Lookup failures hide the entity.
func (s *Service) canView(ctx context.Context, session Session, entityType string, entityID int64) bool {
	allowed, err := s.perms.Can(ctx, session.role(), entityType, entityID, rbac.ActionView)
	if err != nil {
		s.logger.WithError(err).WithFields(logrus.Fields{
			"entity_type": entityType,
			"entity_id":   entityID,
		}).Warn("view permission lookup failed")
		return false
	}
	return allowed
}
