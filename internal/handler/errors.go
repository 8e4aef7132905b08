package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"
)

// ErrorHandler renders errors returned by routes and middleware as
// {"error": "..."} so every failure body has the same shape.
func ErrorHandler(logger *slog.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		code := http.StatusInternalServerError
		msg := http.StatusText(code)

		var he *echo.HTTPError
		if errors.As(err, &he) {
			code = he.Code
			msg = http.StatusText(code)
			if m, ok := he.Message.(string); ok && m != "" {
				msg = m
			}
		} else {
			logger.Error("unhandled error", "err", err, "path", c.Request().URL.Path)
		}

		if c.Request().Method == http.MethodHead {
			err = c.NoContent(code)
		} else {
			err = errorJSON(c, code, msg)
		}
		if err != nil {
			logger.Error("writing error response", "err", err)
		}
	}
}
