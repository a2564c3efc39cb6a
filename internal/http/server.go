package http

import (
	"context"
	stderrors "errors"
	"net/http"
	"time"

	"github.com/ignatij/coachflow/internal/log"
	"github.com/ignatij/coachflow/pkg/models"
	"github.com/ignatij/coachflow/pkg/service"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"
)

// Server exposes the coachflow operations over HTTP.
type Server struct {
	svc     *service.Service
	metrics http.Handler
	now     func() time.Time
}

// NewServer builds the echo router. metrics may be nil.
func NewServer(svc *service.Service, metrics http.Handler) *echo.Echo {
	s := &Server{svc: svc, metrics: metrics, now: time.Now}
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = errorHandler
	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod: true,
		LogURI:    true,
		LogStatus: true,
		LogError:  true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			entry := log.WithOperation(c.Path()).WithField("status", v.Status)
			if v.Error != nil {
				entry.Warnf("%s %s: %v", v.Method, v.URI, v.Error)
				return nil
			}
			entry.Debugf("%s %s", v.Method, v.URI)
			return nil
		},
	}))

	e.GET("/health", s.health)
	if metrics != nil {
		e.GET("/metrics", echo.WrapHandler(metrics))
	}
	e.GET("/packs", s.listPacks)
	e.GET("/packs/:key/templates", s.listTemplates)
	e.POST("/orgs/:org/packs/:key/seed", s.seed)
	e.GET("/orgs/:org/workflows", s.listWorkflows)
	e.GET("/workflows/:id", s.getWorkflow)
	e.PATCH("/workflows/:id", s.updateWorkflow)
	e.PATCH("/steps/:id", s.updateStep)
	e.PUT("/workflows/:id/steps/order", s.reorderSteps)
	e.POST("/workflows/:id/restore", s.restore)
	e.POST("/assignments", s.createAssignment)
	e.GET("/assignments/:id", s.getAssignment)
	e.PUT("/assignments/:id/status", s.setStatus)
	e.POST("/assignments/:id/runs", s.generateRun)
	e.POST("/tick", s.tick)
	return e
}

// StartServer serves e on addr until ctx is cancelled, then shuts down.
func StartServer(ctx context.Context, addr string, e *echo.Echo) error {
	server := &http.Server{
		Addr:         addr,
		Handler:      e,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	serverErrors := make(chan error, 1)
	go func() {
		log.GetLogger().Infof("Starting coachflow server on %s", addr)
		serverErrors <- server.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if !stderrors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
		log.GetLogger().Info("Shutting down coachflow server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			_ = server.Close()
			return errors.Wrap(err, "server shutdown")
		}
		return nil
	}
}

// StatusFor maps a service error kind to an HTTP status.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, service.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrInvalidState):
		return http.StatusConflict
	case errors.Is(err, service.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, service.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrSinkFailure):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

type errorResponse struct {
	Error string `json:"error"`
}

func errorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	status := StatusFor(err)
	msg := err.Error()
	var he *echo.HTTPError
	if stderrors.As(err, &he) {
		status = he.Code
		if m, ok := he.Message.(string); ok {
			msg = m
		}
	}
	if status >= http.StatusInternalServerError {
		log.GetLogger().Errorf("%s %s: %v", c.Request().Method, c.Request().URL.Path, err)
	}
	if err := c.JSON(status, errorResponse{Error: msg}); err != nil {
		log.GetLogger().Errorf("Failed to write error response: %v", err)
	}
}

func badRequest(msg string, err error) error {
	if err != nil {
		msg += ": " + err.Error()
	}
	return echo.NewHTTPError(http.StatusBadRequest, msg)
}

func (s *Server) health(c echo.Context) error {
	return c.String(http.StatusOK, "coachflow server is running")
}

func (s *Server) listPacks(c echo.Context) error {
	packs, err := s.svc.Packs.ListPacks(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, packs)
}

func (s *Server) listTemplates(c echo.Context) error {
	templates, err := s.svc.Packs.ResolveActiveTemplates(c.Request().Context(), c.Param("key"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, templates)
}

func (s *Server) seed(c echo.Context) error {
	result, err := s.svc.Provisioner.SeedFromPack(c.Request().Context(), c.Param("org"), c.Param("key"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, result)
}

func (s *Server) listWorkflows(c echo.Context) error {
	workflows, err := s.svc.Editor.ListWorkflows(c.Request().Context(), c.Param("org"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, workflows)
}

func (s *Server) getWorkflow(c echo.Context) error {
	wf, err := s.svc.Editor.GetWorkflow(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, wf)
}

func (s *Server) updateWorkflow(c echo.Context) error {
	var patch service.WorkflowPatch
	if err := c.Bind(&patch); err != nil {
		return badRequest("invalid request body", err)
	}
	wf, err := s.svc.Editor.UpdateWorkflow(c.Request().Context(), c.Param("id"), patch)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, wf)
}

func (s *Server) updateStep(c echo.Context) error {
	var patch service.StepPatch
	if err := c.Bind(&patch); err != nil {
		return badRequest("invalid request body", err)
	}
	step, err := s.svc.Editor.UpdateStep(c.Request().Context(), c.Param("id"), patch)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, step)
}

type reorderRequest struct {
	StepIDs []string `json:"step_ids"`
}

func (s *Server) reorderSteps(c echo.Context) error {
	var req reorderRequest
	if err := c.Bind(&req); err != nil {
		return badRequest("invalid request body", err)
	}
	steps, err := s.svc.Editor.ReorderSteps(c.Request().Context(), c.Param("id"), req.StepIDs)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, steps)
}

func (s *Server) restore(c echo.Context) error {
	wf, err := s.svc.Editor.RestoreFromPack(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, wf)
}

type assignmentRequest struct {
	EngagementID    string         `json:"coaching_engagement_id"`
	TemplateID      string         `json:"coaching_workflow_template_id"`
	Cadence         models.Cadence `json:"cadence"`
	StartOn         string         `json:"start_on"`
	NameOverride    string         `json:"name_override"`
	Timezone        string         `json:"timezone"`
	CreatedByUserID string         `json:"created_by_user_id"`
}

// ParseDate accepts a calendar date (2006-01-02) or an RFC 3339 timestamp.
// A date comes back as UTC midnight; CreateAssignment moves it to midnight in
// the assignment timezone.
func ParseDate(value string) (time.Time, error) {
	if t, err := time.Parse(time.DateOnly, value); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, value)
}

func (s *Server) createAssignment(c echo.Context) error {
	var req assignmentRequest
	if err := c.Bind(&req); err != nil {
		return badRequest("invalid request body", err)
	}
	startOn, err := ParseDate(req.StartOn)
	if err != nil {
		return badRequest("invalid start_on", err)
	}
	a, err := s.svc.Assignments.CreateAssignment(c.Request().Context(), service.AssignmentRequest{
		EngagementID:    req.EngagementID,
		TemplateID:      req.TemplateID,
		Cadence:         req.Cadence,
		StartOn:         startOn,
		NameOverride:    req.NameOverride,
		Timezone:        req.Timezone,
		CreatedByUserID: req.CreatedByUserID,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, a)
}

func (s *Server) getAssignment(c echo.Context) error {
	a, err := s.svc.Assignments.GetAssignment(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, a)
}

type statusRequest struct {
	Status models.AssignmentStatus `json:"status"`
}

func (s *Server) setStatus(c echo.Context) error {
	var req statusRequest
	if err := c.Bind(&req); err != nil {
		return badRequest("invalid request body", err)
	}
	a, err := s.svc.Assignments.SetStatus(c.Request().Context(), c.Param("id"), req.Status)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, a)
}

func (s *Server) generateRun(c echo.Context) error {
	result, err := s.svc.Runs.GenerateRun(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, result)
}

func (s *Server) tick(c echo.Context) error {
	report, err := s.svc.Ticker.Tick(c.Request().Context(), s.now())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, report)
}
