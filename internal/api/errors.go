package api

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"audiobatch/internal/services"
)

// errorBody is the only error shape the API emits. Details carry validation
// specifics; internal failures surface as a bare message with no paths or
// stack traces.
type errorBody struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func writeError(c echo.Context, status int, message, details string) error {
	return c.JSON(status, errorBody{Error: message, Details: details})
}

// writeServiceError maps the service error markers onto HTTP statuses.
func writeServiceError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, services.ErrValidation):
		return writeError(c, http.StatusBadRequest, "invalid request", err.Error())
	case errors.Is(err, services.ErrAuthentication):
		return writeError(c, http.StatusUnauthorized, "unauthorized", "")
	case errors.Is(err, services.ErrForbidden):
		return writeError(c, http.StatusForbidden, "forbidden", "")
	case errors.Is(err, services.ErrNotFound):
		return writeError(c, http.StatusNotFound, "not found", "")
	default:
		return writeError(c, http.StatusInternalServerError, "internal error", "")
	}
}
