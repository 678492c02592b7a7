package server

import (
	"errors"
	"fmt"
	"log"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/socialpilot-ai/socialpilot/internal/agent/core"
	"github.com/socialpilot-ai/socialpilot/internal/orchestrator"
)

// Server exposes the operational HTTP API: health, metrics, system status
// and goal/cycle management.
type Server struct {
	echo   *echo.Echo
	orch   *orchestrator.Orchestrator
	store  core.Store
	logger *log.Logger
}

// New wires the echo instance with middleware and routes.
func New(orch *orchestrator.Orchestrator, store core.Store, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.New(log.Writer(), "[HTTP] ", log.LstdFlags)
	}

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		code := http.StatusInternalServerError
		msg := err.Error()
		if he, ok := err.(*echo.HTTPError); ok {
			code = he.Code
			if he.Message != nil {
				msg = fmt.Sprint(he.Message)
			}
		}
		req := c.Request()
		logger.Printf("%d %s %s from %s: %v", code, req.Method, req.URL.Path, c.RealIP(), err)
		if !c.Response().Committed {
			_ = c.JSON(code, map[string]interface{}{"error": msg})
		}
	}
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{"GET", "POST", "OPTIONS"},
		AllowHeaders: []string{"Content-Type"},
	}))

	s := &Server{echo: e, orch: orch, store: store, logger: logger}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	e := s.echo
	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	api := e.Group("/api")
	api.GET("/status", s.handleStatus)
	api.GET("/insight", s.handleInsight)
	api.GET("/accounts/:id/goals", s.handleListGoals)
	api.GET("/accounts/:id/tasks", s.handleListTasks)
	api.POST("/accounts/:id/goals", s.handleAddGoal)
	api.POST("/cycles", s.handleRunCycle)
}

// Handler returns the underlying HTTP handler, for tests.
func (s *Server) Handler() http.Handler { return s.echo }

// Start blocks serving HTTP on addr.
func (s *Server) Start(addr string) error {
	s.logger.Printf("listening on %s", addr)
	return s.echo.Start(addr)
}

func (s *Server) handleStatus(c echo.Context) error {
	return c.JSON(http.StatusOK, s.orch.GetSystemStatus(c.Request().Context()))
}

func (s *Server) handleInsight(c echo.Context) error {
	insight, err := s.store.LoadInsight(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if insight == nil {
		return echo.NewHTTPError(http.StatusNotFound, "no optimization insight yet")
	}
	return c.JSON(http.StatusOK, insight)
}

func (s *Server) agentFor(c echo.Context) (*core.Agent, error) {
	accountID := c.Param("id")
	agent, ok := s.orch.Agent(accountID)
	if !ok {
		return nil, echo.NewHTTPError(http.StatusNotFound, "unknown account: "+accountID)
	}
	return agent, nil
}

func (s *Server) handleListGoals(c echo.Context) error {
	agent, err := s.agentFor(c)
	if err != nil {
		return err
	}
	actx, err := agent.Context(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	goals := actx.Goals
	if goals == nil {
		goals = []*core.AgentGoal{}
	}
	return c.JSON(http.StatusOK, goals)
}

func (s *Server) handleListTasks(c echo.Context) error {
	agent, err := s.agentFor(c)
	if err != nil {
		return err
	}
	actx, err := agent.Context(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	tasks := actx.Tasks
	if tasks == nil {
		tasks = []*core.AgentTask{}
	}
	return c.JSON(http.StatusOK, tasks)
}

type addGoalRequest struct {
	Description string `json:"description"`
}

func (s *Server) handleAddGoal(c echo.Context) error {
	agent, err := s.agentFor(c)
	if err != nil {
		return err
	}
	var req addGoalRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Description == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "description is required")
	}

	goal, err := agent.AddGoal(c.Request().Context(), req.Description)
	if err != nil {
		var parseErr *core.GoalParseError
		if errors.As(err, &parseErr) {
			return echo.NewHTTPError(http.StatusUnprocessableEntity, parseErr.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusCreated, goal)
}

type runCycleRequest struct {
	AccountID string `json:"account_id"`
}

func (s *Server) handleRunCycle(c echo.Context) error {
	var req runCycleRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.AccountID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "account_id is required")
	}

	err := s.orch.RunCycle(c.Request().Context(), req.AccountID)
	switch {
	case errors.Is(err, orchestrator.ErrUnknownAccount):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, orchestrator.ErrCycleInFlight):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case err != nil:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "completed", "account_id": req.AccountID})
}
