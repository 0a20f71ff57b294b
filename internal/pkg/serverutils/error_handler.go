package serverutils

import (
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v2"
)

// HTTPError carries the status code a handler wants the client to see.
type HTTPError struct {
	Code    int
	Message string
}

func (e *HTTPError) Error() string {
	return e.Message
}

func NewBadRequestError(message string) *HTTPError {
	return &HTTPError{Code: http.StatusBadRequest, Message: message}
}

func NewNotFoundError(message string) *HTTPError {
	return &HTTPError{Code: http.StatusNotFound, Message: message}
}

func NewForbiddenError(message string) *HTTPError {
	return &HTTPError{Code: http.StatusForbidden, Message: message}
}

func NewUnauthorizedError(message string) *HTTPError {
	return &HTTPError{Code: http.StatusUnauthorized, Message: message}
}

// ErrorHandlerMiddleware turns errors returned by handlers into the JSON
// error envelope.
func ErrorHandlerMiddleware() fiber.Handler {
	return func(ctx *fiber.Ctx) error {
		err := ctx.Next()
		if err == nil {
			return nil
		}

		code := fiber.StatusInternalServerError
		message := "internal server error"

		var httpErr *HTTPError
		var fiberErr *fiber.Error
		switch {
		case errors.As(err, &httpErr):
			code, message = httpErr.Code, httpErr.Message
		case errors.As(err, &fiberErr):
			code, message = fiberErr.Code, fiberErr.Message
		}
		return ctx.Status(code).JSON(ErrorResponse(code, message))
	}
}
