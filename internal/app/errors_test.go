package app

import (
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"

	"bookshelf/api/internal/auth"
	"bookshelf/api/internal/authpw"
	"bookshelf/api/internal/reorder"
	"bookshelf/api/internal/session"
)

func TestMapError(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"domain", domainError(http.StatusTeapot, "TEAPOT", "short and stout", nil), http.StatusTeapot, "TEAPOT"},
		{"forbidden", errForbidden, http.StatusForbidden, "FORBIDDEN"},
		{"not found", fmt.Errorf("load book: %w", sql.ErrNoRows), http.StatusNotFound, "NOT_FOUND"},
		{"expired token", auth.ErrExpiredToken, http.StatusUnauthorized, "UNAUTHORIZED"},
		{"redis session", session.ErrSessionNotFound, http.StatusUnauthorized, "UNAUTHORIZED"},
		{"credentials", authpw.ErrInvalidCredentials, http.StatusUnauthorized, "INVALID_CREDENTIALS"},
		{"unique", fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505"}), http.StatusConflict, "CONFLICT"},
		{"empty batch", reorder.ErrEmptyBatch, http.StatusBadRequest, "EMPTY_BATCH"},
		{"unknown kind", &reorder.UnknownKindError{Index: 2, Value: "shelf"}, http.StatusUnprocessableEntity, "UNKNOWN_KIND"},
		{"inconsistent", &reorder.InconsistentTargetError{Index: 1, Reason: "page target names a chapter of another book"}, http.StatusUnprocessableEntity, "INCONSISTENT_TARGET"},
		{"stale", &reorder.ApplyFailedError{Stage: "apply", Cause: reorder.ErrStalePlan}, http.StatusConflict, "SORT_CONFLICT"},
		{"other", errors.New("boom"), http.StatusInternalServerError, "SERVER_ERROR"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			status, code, _, _ := mapError(tc.err)
			if status != tc.status || code != tc.code {
				t.Fatalf("mapError(%v) = %d %s, want %d %s", tc.err, status, code, tc.status, tc.code)
			}
		})
	}
}

func TestMapErrorUnknownKindDetails(t *testing.T) {
	_, _, _, details := mapError(&reorder.UnknownKindError{Index: 2, Value: "shelf"})

	got, ok := details.(map[string]any)
	if !ok {
		t.Fatalf("details = %T", details)
	}
	if got["index"] != 2 || got["type"] != "shelf" {
		t.Fatalf("details = %v", got)
	}
}
