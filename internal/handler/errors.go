package handler

import (
	"errors"
	"net/http"

	"github.com/abdusco/shortly/internal"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"
)

func statusFor(err error) int {
	switch {
	case errors.Is(err, internal.ErrValidation),
		errors.Is(err, internal.ErrInactive),
		errors.Is(err, internal.ErrConflict):
		return http.StatusBadRequest
	case errors.Is(err, internal.ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, internal.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, internal.ErrNotFound),
		errors.Is(err, internal.ErrGone):
		return http.StatusNotFound
	case errors.Is(err, internal.ErrCodeSpaceExhausted):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// ErrorHandler renders every failure as {"error": message}. Domain errors
// carry their own message, anything unrecognised is logged and hidden.
func ErrorHandler(err error, c echo.Context) {
	code := http.StatusInternalServerError
	message := "internal server error"

	var httpErr *echo.HTTPError
	if errors.As(err, &httpErr) {
		code = httpErr.Code
		if msg, ok := httpErr.Message.(string); ok {
			message = msg
		} else {
			message = http.StatusText(code)
		}
	} else if status := statusFor(err); status != http.StatusInternalServerError {
		code = status
		message = err.Error()
	}

	event := log.Debug()
	if code >= http.StatusInternalServerError {
		event = log.Error()
	}
	event.
		Int("code", code).
		Str("method", c.Request().Method).
		Str("path", c.Request().URL.Path).
		Err(err).
		Msg("http error")

	if c.Response().Committed {
		return
	}

	if err := c.JSON(code, map[string]any{"error": message}); err != nil {
		log.Error().Err(err).Msg("failed to write error response")
	}
}
