package auth

import (
	"strings"

	"github.com/labstack/echo/v4"
)

// publicPaths bypass authentication. Tenant resolution still applies to
// everything under /api.
var publicPaths = map[string]bool{
	"/health":    true,
	"/health/db": true,
}

// displayPrefix covers the waiting-room board and its live feed, which TV
// displays open without a user session.
const displayPrefix = "/api/v1/queue/board"

// AuthSkipper returns true for requests whose path should skip authentication.
func AuthSkipper(c echo.Context) bool {
	return IsPublicPath(c.Path())
}

func IsPublicPath(path string) bool {
	return publicPaths[path] || strings.HasPrefix(path, displayPrefix)
}
