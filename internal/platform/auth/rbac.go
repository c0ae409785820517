package auth

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

const (
	RoleAdmin        = "admin"
	RoleReceptionist = "receptionist"
	RoleNurse        = "nurse"
	RoleDoctor       = "doctor"
	RolePharmacist   = "pharmacist"
	RoleLabTech      = "lab_technician"
	RoleCashier      = "cashier"
)

// StaffRoles is every role that works the queue.
var StaffRoles = []string{
	RoleReceptionist, RoleNurse, RoleDoctor, RolePharmacist, RoleLabTech, RoleCashier,
}

// RequireRole returns middleware that checks if the user has at least one of
// the specified roles. Admin satisfies any role.
func RequireRole(roles ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if HasAnyRole(RolesFromContext(c.Request().Context()), roles...) {
				return next(c)
			}
			return echo.NewHTTPError(http.StatusForbidden,
				fmt.Sprintf("required role: %s", strings.Join(roles, " or ")))
		}
	}
}

// HasAnyRole reports whether userRoles grants any of required.
func HasAnyRole(userRoles []string, required ...string) bool {
	for _, has := range userRoles {
		if has == RoleAdmin {
			return true
		}
		for _, r := range required {
			if has == r {
				return true
			}
		}
	}
	return false
}

// PrimaryRole picks the role recorded on the request context: admin when
// present, otherwise the first role on the token.
func PrimaryRole(userRoles []string) string {
	for _, r := range userRoles {
		if r == RoleAdmin {
			return r
		}
	}
	if len(userRoles) > 0 {
		return userRoles[0]
	}
	return ""
}
