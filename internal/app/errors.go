package app

import (
	"database/sql"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-playground/validator/v10"

	"bookshelf/api/internal/auth"
	"bookshelf/api/internal/authpw"
	"bookshelf/api/internal/reorder"
	"bookshelf/api/internal/session"
	"bookshelf/api/internal/store"
)

type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}

var errForbidden = domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	if status, code, message, details, ok := mapReorderError(err); ok {
		return status, code, message, details
	}
	var validationErrs validator.ValidationErrors
	if errors.As(err, &validationErrs) {
		return http.StatusUnprocessableEntity, "VALIDATION_FAILED", "Validation failed", fieldErrors(validationErrs)
	}
	if errors.Is(err, sql.ErrNoRows) {
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	}
	if errors.Is(err, auth.ErrInvalidToken) || errors.Is(err, auth.ErrExpiredToken) || errors.Is(err, session.ErrSessionNotFound) {
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	}
	if errors.Is(err, authpw.ErrInvalidCredentials) || errors.Is(err, authpw.ErrMissingCredentials) {
		return http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid email or password", nil
	}
	if store.IsUniqueViolation(err) {
		return http.StatusConflict, "CONFLICT", "Already exists", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}

func mapReorderError(err error) (status int, code, message string, details any, ok bool) {
	var (
		kindErr       *reorder.UnknownKindError
		entityErr     *reorder.UnknownEntityError
		targetErr     *reorder.InconsistentTargetError
		permissionErr *reorder.PermissionDeniedError
		applyErr      *reorder.ApplyFailedError
	)
	switch {
	case errors.Is(err, reorder.ErrEmptyBatch):
		return http.StatusBadRequest, "EMPTY_BATCH", "Sort tree has no entries", nil, true
	case errors.As(err, &kindErr):
		return http.StatusUnprocessableEntity, "UNKNOWN_KIND", kindErr.Error(), map[string]any{
			"index": kindErr.Index,
			"type":  kindErr.Value,
		}, true
	case errors.As(err, &entityErr):
		return http.StatusNotFound, "UNKNOWN_ENTITY", entityErr.Error(), map[string]any{
			"type": entityErr.Ref.Kind,
			"id":   entityErr.Ref.ID,
		}, true
	case errors.As(err, &targetErr):
		return http.StatusUnprocessableEntity, "INCONSISTENT_TARGET", targetErr.Error(), map[string]any{
			"index":  targetErr.Index,
			"reason": targetErr.Reason,
		}, true
	case errors.As(err, &permissionErr):
		return http.StatusForbidden, "FORBIDDEN", "Not permitted to modify book structure", map[string]any{
			"bookId": permissionErr.BookID,
		}, true
	case errors.As(err, &applyErr):
		if errors.Is(applyErr, reorder.ErrStalePlan) {
			return http.StatusConflict, "SORT_CONFLICT", "Book changed while sorting, retry", nil, true
		}
		return http.StatusInternalServerError, "SORT_FAILED", "Sort could not be applied", nil, true
	}
	return 0, "", "", nil, false
}

func fieldErrors(errs validator.ValidationErrors) map[string]string {
	fields := make(map[string]string, len(errs))
	for _, fieldErr := range errs {
		fields[fieldErr.Field()] = fieldErr.Tag()
	}
	return fields
}
