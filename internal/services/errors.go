package services

import (
	apperrors "polarcli/internal/errors"
)

// errSessionNotFound reports an unknown session id
func errSessionNotFound(id string) *apperrors.AppError {
	return apperrors.NewNotFoundError("session "+id).
		WithContext("session_id", id).
		WithHint("List open sessions with GET /api/v1/sessions")
}
