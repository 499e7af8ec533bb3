package services

import (
	"errors"
	"net/http"
)

// The service layer reports every failure as one of the types below so that
// handlers can map them to HTTP statuses in one place instead of matching on
// message strings.

type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

type UnauthorizedError struct {
	Message string
}

func (e *UnauthorizedError) Error() string { return e.Message }

type ForbiddenError struct {
	Message string
}

func (e *ForbiddenError) Error() string { return e.Message }

type NotFoundError struct {
	Message string
}

func (e *NotFoundError) Error() string { return e.Message }

type ConflictError struct {
	Message string
}

func (e *ConflictError) Error() string { return e.Message }

// HTTPStatus maps a service error to its HTTP status code. Anything outside
// the taxonomy (store connectivity, timeouts) is a 500 and is retried by the
// caller, never by this layer.
func HTTPStatus(err error) int {
	var (
		validation   *ValidationError
		unauthorized *UnauthorizedError
		forbidden    *ForbiddenError
		notFound     *NotFoundError
		conflict     *ConflictError
	)
	switch {
	case errors.As(err, &validation):
		return http.StatusBadRequest
	case errors.As(err, &unauthorized):
		return http.StatusUnauthorized
	case errors.As(err, &forbidden):
		return http.StatusForbidden
	case errors.As(err, &notFound):
		return http.StatusNotFound
	case errors.As(err, &conflict):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}
