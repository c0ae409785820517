package middleware

import (
	"github.com/labstack/echo/v4"

	"github.com/hms/hms/internal/platform/apperr"
	"github.com/hms/hms/internal/platform/tenant"
)

const (
	FeatureQueue  = "queue"
	FeatureTriage = "triage"
	FeatureBoard  = "board"
)

// Flags holds the deployment defaults keyed by feature name.
type Flags map[string]bool

// Enabled reports whether feature is on for rc. An organization override
// wins over the deployment default.
func (f Flags) Enabled(rc tenant.RequestContext, feature string) bool {
	if rc.Org != nil {
		if on, ok := rc.Org.Feature(feature); ok {
			return on
		}
	}
	return f[feature]
}

// RequireFeature answers 404 while feature is off for the resolved tenant.
// It must run after tenant resolution.
func RequireFeature(flags Flags, feature string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			rc, err := tenant.MustFrom(c)
			if err != nil {
				return err
			}
			if !flags.Enabled(rc, feature) {
				return apperr.FeatureDisabled(feature)
			}
			return next(c)
		}
	}
}
