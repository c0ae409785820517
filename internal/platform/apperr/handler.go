package apperr

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

// Body is the JSON error envelope.
type Body struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// HTTPErrorHandler renders *Error and *echo.HTTPError values as Body. When
// exposeInternal is false, internal failures only carry a generic message.
func HTTPErrorHandler(logger zerolog.Logger, exposeInternal bool) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		status, body := render(err, exposeInternal)
		if status >= http.StatusInternalServerError {
			rid, _ := c.Get("request_id").(string)
			logger.Error().Err(err).Str("request_id", rid).Str("path", c.Request().URL.Path).Msg("request failed")
		}

		var werr error
		if c.Request().Method == http.MethodHead {
			werr = c.NoContent(status)
		} else {
			werr = c.JSON(status, body)
		}
		if werr != nil {
			logger.Error().Err(werr).Msg("write error response")
		}
	}
}

func render(err error, exposeInternal bool) (int, Body) {
	var ae *Error
	if errors.As(err, &ae) {
		body := Body{Message: ae.Message, Code: ae.Code}
		if ae.Kind == KindInternal {
			if exposeInternal && ae.Err != nil {
				body.Message = ae.Error()
			} else if body.Message == "" {
				body.Message = "internal server error"
			}
		}
		return ae.Kind.Status(), body
	}

	var he *echo.HTTPError
	if errors.As(err, &he) {
		msg := http.StatusText(he.Code)
		if he.Message != nil {
			msg = fmt.Sprintf("%v", he.Message)
		}
		if he.Code >= http.StatusInternalServerError && !exposeInternal {
			msg = "internal server error"
		}
		return he.Code, Body{Message: msg}
	}

	body := Body{Message: "internal server error", Code: CodeInternal}
	if exposeInternal {
		body.Message = err.Error()
	}
	return http.StatusInternalServerError, body
}
