package middleware

import (
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/hms/hms/internal/platform/auth"
	"github.com/hms/hms/internal/platform/tenant"
)

// Logger writes one access line per request. Errors are handed to echo's
// error handler first so the logged status is the one the client saw.
func Logger(logger zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()

			err := next(c)
			if err != nil {
				c.Error(err)
			}

			status := c.Response().Status
			var evt *zerolog.Event
			switch {
			case err != nil && status >= 500:
				evt = logger.Error().Err(err)
			case err != nil:
				evt = logger.Warn().Err(err)
			default:
				evt = logger.Info()
			}

			// Read after next: the tenant resolver replaces the request.
			ctx := c.Request().Context()
			if rc, ok := tenant.FromContext(ctx); ok {
				evt = evt.Str("tenant_id", rc.TenantID().String())
			}
			if uid := auth.UserIDFromContext(ctx); uid != "" {
				evt = evt.Str("user_id", uid)
			}

			rid, _ := c.Get(requestIDKey).(string)
			evt.Str("request_id", rid).
				Str("method", c.Request().Method).
				Str("route", c.Path()).
				Str("path", c.Request().URL.Path).
				Int("status", status).
				Dur("latency", time.Since(start)).
				Str("remote_ip", c.RealIP()).
				Msg("request")
			return nil
		}
	}
}
