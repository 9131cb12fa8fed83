package api

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"audiobatch/internal/services"
)

const ownerContextKey = "owner_id"

// requireBearer resolves the request's owner from the static token map.
// Tokens are opaque strings issued out of band.
func (s *Server) requireBearer(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		header := c.Request().Header.Get(echo.HeaderAuthorization)
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			return writeError(c, http.StatusUnauthorized, "missing bearer token", "")
		}
		owner, ok := s.cfg.Auth.Tokens[token]
		if !ok {
			return writeError(c, http.StatusUnauthorized, "invalid token", "")
		}
		c.Set(ownerContextKey, owner)
		request := c.Request()
		c.SetRequest(request.WithContext(services.WithOwnerID(request.Context(), owner)))
		return next(c)
	}
}

func ownerID(c echo.Context) string {
	owner, _ := c.Get(ownerContextKey).(string)
	return owner
}

// requireInternalSecret guards the internal endpoints. The secret check runs
// before any body parsing or validation so probes learn nothing.
func (s *Server) requireInternalSecret(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		secret := s.cfg.Auth.InternalSecret
		presented := c.Request().Header.Get("X-Internal-Secret")
		if secret == "" || subtle.ConstantTimeCompare([]byte(secret), []byte(presented)) != 1 {
			return writeError(c, http.StatusForbidden, "forbidden", "")
		}
		return next(c)
	}
}
