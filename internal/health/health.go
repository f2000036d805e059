// Package health exposes a lightweight health endpoint for container probes.
package health

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"

	"tg_agent_bridge/internal/logging"
)

const registryPingTimeout = 2 * time.Second

// RegistryChecker defines the subset of registry behavior required for health.
type RegistryChecker interface {
	Ping(ctx context.Context) error
	Count() int
}

// Handler serves GET /healthz.
type Handler struct {
	logger   *logrus.Entry
	registry RegistryChecker
}

type response struct {
	Status          string `json:"status"`
	Registry        string `json:"registry,omitempty"`
	MonitoredGroups *int   `json:"monitored_groups,omitempty"`
}

// NewHandler constructs a health handler backed by the registry.
func NewHandler(registry RegistryChecker, logger *logrus.Entry) *Handler {
	if logger == nil {
		logger = logging.Logger()
	}

	return &Handler{
		logger:   logger,
		registry: registry,
	}
}

// Register mounts the health route.
func (h *Handler) Register(e *echo.Echo) {
	e.GET("/healthz", h.handleHealth)
}

func (h *Handler) handleHealth(c echo.Context) error {
	resp := response{Status: "ok"}

	if h.registry == nil {
		h.logger.WithField("event", "health_registry_missing").Warn("registry checker is not configured for health endpoint")
		resp.Status = "degraded"
		resp.Registry = "error"
		return c.JSON(http.StatusOK, resp)
	}

	pingCtx, cancel := context.WithTimeout(c.Request().Context(), registryPingTimeout)
	err := h.registry.Ping(pingCtx)
	cancel()

	if err != nil {
		h.logger.WithField("event", "health_registry_error").WithError(err).Warn("registry ping failed during health check")
		resp.Status = "degraded"
		resp.Registry = "error"
		return c.JSON(http.StatusOK, resp)
	}

	count := h.registry.Count()
	resp.MonitoredGroups = &count

	return c.JSON(http.StatusOK, resp)
}
