package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/sirupsen/logrus"

	"tg_agent_bridge/internal/domain"
	"tg_agent_bridge/internal/logging"
)

const readHeaderTimeout = 5 * time.Second

// Registrar attaches extra routes, such as the health endpoint.
type Registrar interface {
	Register(e *echo.Echo)
}

// Server exposes capabilities to the agent runtime over HTTP.
type Server struct {
	echo         *echo.Echo
	addr         string
	logger       *logrus.Entry
	capabilities map[string]Capability
}

type invokeRequest struct {
	Args   json.RawMessage `json:"args"`
	Action struct {
		Workspace struct {
			ID flexibleID `json:"id"`
		} `json:"workspace"`
		Me struct {
			ID flexibleID `json:"id"`
		} `json:"me"`
	} `json:"action"`
}

type invokeResponse struct {
	Result string `json:"result"`
}

type capabilityInfo struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Schema      Schema `json:"schema"`
}

// NewServer builds the capability server listening on port.
func NewServer(port int, capabilities []Capability, logger *logrus.Entry, registrars ...Registrar) (*Server, error) {
	if logger == nil {
		logger = logging.Logger()
	}

	byName := make(map[string]Capability, len(capabilities))
	for _, c := range capabilities {
		if strings.TrimSpace(c.Name) == "" || c.Run == nil {
			return nil, fmt.Errorf("capability %q is incomplete", c.Name)
		}
		if _, dup := byName[c.Name]; dup {
			return nil, fmt.Errorf("duplicate capability %q", c.Name)
		}
		byName[c.Name] = c
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Server.ReadHeaderTimeout = readHeaderTimeout
	e.Use(middleware.Recover())

	s := &Server{
		echo:         e,
		addr:         fmt.Sprintf(":%d", port),
		logger:       logger,
		capabilities: byName,
	}

	e.GET("/capabilities", s.handleList)
	e.POST("/capabilities/:name", s.handleInvoke)

	for _, r := range registrars {
		if r != nil {
			r.Register(e)
		}
	}

	return s, nil
}

// Handler exposes the router for embedding and tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// ListenAndServe blocks until the server is shut down.
func (s *Server) ListenAndServe() error {
	s.logger.WithFields(logging.Fields{
		"event":        "capability_listen",
		"addr":         s.addr,
		"capabilities": len(s.capabilities),
	}).Info("starting capability server")

	if err := s.echo.Start(s.addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("capability server listen: %w", err)
	}

	s.logger.WithField("event", "capability_stopped").Info("capability server stopped")
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s == nil || s.echo == nil {
		return nil
	}
	return s.echo.Shutdown(ctx)
}

func (s *Server) handleList(c echo.Context) error {
	names := make([]string, 0, len(s.capabilities))
	for name := range s.capabilities {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]capabilityInfo, 0, len(names))
	for _, name := range names {
		capability := s.capabilities[name]
		out = append(out, capabilityInfo{
			Name:        capability.Name,
			Description: capability.Description,
			Schema:      capability.Schema,
		})
	}

	return c.JSON(http.StatusOK, out)
}

func (s *Server) handleInvoke(c echo.Context) error {
	name := c.Param("name")
	capability, ok := s.capabilities[name]
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, fmt.Sprintf("unknown capability %q", name))
	}

	var req invokeRequest
	if err := json.NewDecoder(c.Request().Body).Decode(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	action := domain.Action{
		WorkspaceID: string(req.Action.Workspace.ID),
		AgentID:     string(req.Action.Me.ID),
	}

	logger := s.logger.WithFields(logging.Context{
		Capability:  name,
		WorkspaceID: action.WorkspaceID,
		AgentID:     action.AgentID,
		Event:       "capability_invoked",
	}.Fields())
	logger.WithField("args", string(req.Args)).Info("capability invoked")

	result, err := capability.Run(c.Request().Context(), action, req.Args)
	if err != nil {
		if errors.Is(err, ErrInvalidArguments) {
			logger.WithError(err).Warn("capability arguments rejected")
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		logger.WithError(err).Error("capability failed")
		return echo.NewHTTPError(http.StatusInternalServerError, "capability failed")
	}

	return c.JSON(http.StatusOK, invokeResponse{Result: result})
}

// flexibleID accepts ids sent either as JSON strings or numbers.
type flexibleID string

func (f *flexibleID) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" || trimmed == "null" {
		*f = ""
		return nil
	}

	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*f = flexibleID(s)
		return nil
	}

	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("id must be a string or number: %w", err)
	}
	*f = flexibleID(n.String())
	return nil
}
