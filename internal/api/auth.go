package api

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/obsreg/importer/internal/model"
)

// The principal is established by the gateway in front of the service and
// handed over in these headers.
const (
	HeaderUserID   = "X-User-ID"
	HeaderUserRole = "X-User-Role"
)

const principalKey = "principal"

// Authenticate rejects requests without a user id and stores the principal
// in the echo context.
func Authenticate(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		id := strings.TrimSpace(c.Request().Header.Get(HeaderUserID))
		if id == "" {
			return c.JSON(http.StatusUnauthorized, apiResponse{Error: &errorBody{
				Code:    "unauthenticated",
				Message: "missing " + HeaderUserID + " header",
			}})
		}
		role := model.Role(strings.ToLower(strings.TrimSpace(c.Request().Header.Get(HeaderUserRole))))
		c.Set(principalKey, model.Principal{ID: id, Role: role})
		return next(c)
	}
}

func principal(c echo.Context) model.Principal {
	p, _ := c.Get(principalKey).(model.Principal)
	return p
}
