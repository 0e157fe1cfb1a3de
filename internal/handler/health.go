package handler

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"mirror-proxy-go/internal/config"
)

// ServiceName is reported by the liveness endpoint.
const ServiceName = "mirror-proxy"

// Version is a string type for dependency injection of the build version.
type Version string

// HealthHandler serves health and status endpoints.
type HealthHandler struct {
	cfg     *config.Config
	version Version
	now     func() time.Time
}

// NewHealthHandler creates a HealthHandler.
func NewHealthHandler(cfg *config.Config, v Version) *HealthHandler {
	return &HealthHandler{cfg: cfg, version: v, now: time.Now}
}

// Healthz returns a simple OK response for liveness probes.
func (h *HealthHandler) Healthz(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status":    "ok",
		"service":   ServiceName,
		"version":   string(h.version),
		"timestamp": h.timestamp(),
	})
}

// Root answers GET / with a short informational payload.
func (h *HealthHandler) Root(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status":    "ok",
		"message":   "Mirror proxy is running",
		"timestamp": h.timestamp(),
	})
}

// Status returns proxy status information.
func (h *HealthHandler) Status(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status":               "ok",
		"version":              string(h.version),
		"upstream_host":        h.cfg.Upstream.Host,
		"upstream_mobile_host": h.cfg.Upstream.MobileHost,
	})
}

func (h *HealthHandler) timestamp() string {
	return h.now().UTC().Format(time.RFC3339)
}
