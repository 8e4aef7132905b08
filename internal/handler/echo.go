package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"hybrid-echo-go/internal/model"
	"hybrid-echo-go/internal/service"
)

// EchoHandler serves the JSON echo endpoint.
type EchoHandler struct {
	greeter *service.Greeter
	logger  *slog.Logger
}

// NewEchoHandler creates an EchoHandler.
func NewEchoHandler(g *service.Greeter, logger *slog.Logger) *EchoHandler {
	return &EchoHandler{
		greeter: g,
		logger:  logger.With("component", "echo_handler"),
	}
}

// echoPayload distinguishes a missing message from an empty one.
type echoPayload struct {
	Message *string `json:"message"`
}

// Echo answers {"message": "x"} with {"message": "Hello, x!"}.
func (h *EchoHandler) Echo(c echo.Context) error {
	if !isJSON(c.Request().Header.Get(echo.HeaderContentType)) {
		return errorJSON(c, http.StatusUnsupportedMediaType, "content type must be application/json")
	}

	var p echoPayload
	if err := c.Echo().JSONSerializer.Deserialize(c, &p); err != nil {
		return h.decodeError(c, err)
	}
	// The decoder may stop before the body limit trips; reading to EOF
	// surfaces it.
	if _, err := io.Copy(io.Discard, c.Request().Body); err != nil {
		return h.decodeError(c, err)
	}
	if p.Message == nil {
		return errorJSON(c, http.StatusUnprocessableEntity, "missing field: message")
	}

	greeting, err := h.greeter.Greet(c.Request().Context(), *p.Message)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return errorJSON(c, http.StatusServiceUnavailable, "request canceled")
		}
		h.logger.Error("greet failed", "err", err)
		return errorJSON(c, http.StatusInternalServerError, "internal server error")
	}

	return c.JSON(http.StatusOK, model.EchoResponse{Message: greeting})
}

func (h *EchoHandler) decodeError(c echo.Context, err error) error {
	var he *echo.HTTPError
	if errors.As(err, &he) && he.Code == http.StatusRequestEntityTooLarge {
		return errorJSON(c, http.StatusRequestEntityTooLarge, "request body too large")
	}

	h.logger.Debug("malformed request body", "err", err)
	return errorJSON(c, http.StatusBadRequest, "malformed JSON body")
}

// isJSON accepts application/json and application/*+json, with parameters.
func isJSON(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	if mediaType == echo.MIMEApplicationJSON {
		return true
	}
	return strings.HasPrefix(mediaType, "application/") && strings.HasSuffix(mediaType, "+json")
}

func errorJSON(c echo.Context, code int, msg string) error {
	return c.JSON(code, map[string]string{"error": msg})
}
