package api

import (
	"errors"

	"github.com/gofiber/fiber/v2"
)

// Error is the JSON shape of a failed request.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"error"`
}

// Error implements the error interface.
func (e Error) Error() string {
	return e.Message
}

// NewError creates an Error with the given status code and message.
func NewError(code int, message string) Error {
	return Error{Code: code, Message: message}
}

// ErrBadRequest reports an unparseable JSON body.
func ErrBadRequest() Error {
	return Error{
		Code:    fiber.StatusBadRequest,
		Message: "invalid JSON request",
	}
}

// ValidationError reports per-field request validation failures.
type ValidationError struct {
	Status int               `json:"status"`
	Errors map[string]string `json:"errors"`
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	return "validation failed"
}

// NewValidationError creates a 422 ValidationError for the given fields.
func NewValidationError(fields map[string]string) ValidationError {
	return ValidationError{
		Status: fiber.StatusUnprocessableEntity,
		Errors: fields,
	}
}

// ErrorHandler translates typed errors into JSON responses.
func ErrorHandler(c *fiber.Ctx, err error) error {
	var apiErr Error
	if errors.As(err, &apiErr) {
		return c.Status(apiErr.Code).JSON(apiErr)
	}
	var valErr ValidationError
	if errors.As(err, &valErr) {
		return c.Status(valErr.Status).JSON(valErr)
	}
	var fiberErr *fiber.Error
	if errors.As(err, &fiberErr) {
		return c.Status(fiberErr.Code).JSON(NewError(fiberErr.Code, fiberErr.Message))
	}
	return c.Status(fiber.StatusInternalServerError).JSON(NewError(fiber.StatusInternalServerError, err.Error()))
}
