package api

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/gofiber/fiber/v2"
	"github.com/poiesic/webrag/core"
	"github.com/poiesic/webrag/query"
	"github.com/poiesic/webrag/storage"
)

// Error is the JSON body of every failed request.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"error"`
}

func (e Error) Error() string {
	return e.Message
}

func NewError(code int, msg string) Error {
	return Error{Code: code, Message: msg}
}

// ValidationError reports request fields that failed validation.
type ValidationError struct {
	Status int               `json:"status"`
	Errors map[string]string `json:"errors"`
}

func (e ValidationError) Error() string {
	return "validation failed"
}

func NewValidationError(errs map[string]string) ValidationError {
	return ValidationError{
		Status: fiber.StatusBadRequest,
		Errors: errs,
	}
}

func ErrBadRequest() Error {
	return NewError(fiber.StatusBadRequest, "invalid JSON request")
}

func ErrNotFound(resource, id string) Error {
	return NewError(fiber.StatusNotFound, fmt.Sprintf("%s %s not found", resource, id))
}

// errorHandler renders handler errors as JSON. Domain errors map to client
// statuses; anything else is a backend failure and yields 503.
func errorHandler(logger *slog.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		var apiErr Error
		var valErr ValidationError
		var fiberErr *fiber.Error

		switch {
		case errors.As(err, &apiErr):
			return c.Status(apiErr.Code).JSON(apiErr)
		case errors.As(err, &valErr):
			return c.Status(valErr.Status).JSON(valErr)
		case errors.As(err, &fiberErr):
			return c.Status(fiberErr.Code).JSON(NewError(fiberErr.Code, fiberErr.Message))
		case errors.Is(err, storage.ErrNotFound):
			return c.Status(fiber.StatusNotFound).JSON(NewError(fiber.StatusNotFound, err.Error()))
		case errors.Is(err, core.ErrInvalidURL), errors.Is(err, query.ErrEmptyQuery):
			return c.Status(fiber.StatusBadRequest).JSON(NewError(fiber.StatusBadRequest, err.Error()))
		}

		logger.Error("request failed", "method", c.Method(), "path", c.Path(), "err", err)
		return c.Status(fiber.StatusServiceUnavailable).
			JSON(NewError(fiber.StatusServiceUnavailable, "service unavailable: "+err.Error()))
	}
}
