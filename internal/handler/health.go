package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"hybrid-echo-go/internal/backend"
	"hybrid-echo-go/internal/config"
)

// Version is a string type for dependency injection of the build version.
type Version string

// HealthHandler serves health and status endpoints.
type HealthHandler struct {
	cfg     *config.Config
	version Version
	table   *backend.Table
}

// NewHealthHandler creates a HealthHandler.
func NewHealthHandler(cfg *config.Config, v Version, table *backend.Table) *HealthHandler {
	return &HealthHandler{cfg: cfg, version: v, table: table}
}

type backendStatus struct {
	Index    int      `json:"index"`
	Kind     string   `json:"kind"`
	Services []string `json:"services,omitempty"`
}

type statusResponse struct {
	Status   string          `json:"status"`
	Version  string          `json:"version"`
	Match    string          `json:"match"`
	Backends []backendStatus `json:"backends"`
}

// Healthz returns a simple OK response for liveness checks.
func (h *HealthHandler) Healthz(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// Status reports the version, match mode and backend table.
func (h *HealthHandler) Status(c echo.Context) error {
	descs := h.table.Descriptors()
	backends := make([]backendStatus, 0, len(descs))
	for _, d := range descs {
		bs := backendStatus{Index: d.Index, Kind: d.Backend.Kind().String()}
		if s := d.Backend.RPC(); s != nil {
			bs.Services = s.Services()
		}
		backends = append(backends, bs)
	}

	return c.JSON(http.StatusOK, statusResponse{
		Status:   "ok",
		Version:  string(h.version),
		Match:    h.cfg.Dispatch.Match,
		Backends: backends,
	})
}
