package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"

	"taskboard/api/internal/auth"
	"taskboard/api/internal/kv"
	"taskboard/api/internal/ordering"
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

func validationError(message string) *DomainError {
	return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", message, nil)
}

var (
	errForbidden       = domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
	errProjectNotFound = domainError(http.StatusNotFound, "NOT_FOUND", "Project not found", nil)
	errTeamNotFound    = domainError(http.StatusNotFound, "NOT_FOUND", "Team not found", nil)
	errLinkExpired     = domainError(http.StatusNotFound, "LINK_EXPIRED", "This link is either incorrect or has expired", nil)
)

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	var storeErr *ordering.StoreError
	switch {
	case errors.Is(err, ordering.ErrNotFound), errors.Is(err, sql.ErrNoRows), errors.Is(err, kv.ErrNotFound):
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	case errors.Is(err, ordering.ErrInvariantViolation):
		return http.StatusConflict, "INVARIANT_VIOLATION", "Positions changed concurrently, reload and retry", nil
	case errors.Is(err, ordering.ErrInvalidRequest):
		return http.StatusUnprocessableEntity, "INVALID_REQUEST", err.Error(), nil
	case errors.Is(err, kv.ErrEmailMismatch):
		return http.StatusForbidden, "INVITE_EMAIL_MISMATCH", "Invite was issued to another email", nil
	case errors.Is(err, auth.ErrInvalidToken), errors.Is(err, auth.ErrExpiredToken):
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	case errors.As(err, &storeErr):
		return http.StatusServiceUnavailable, "STORE_UNAVAILABLE", "Storage is temporarily unavailable", nil
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable, "STORE_UNAVAILABLE", "Storage is temporarily unavailable", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
