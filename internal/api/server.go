package api

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/david/grant-discovery/internal/auth"
	"github.com/david/grant-discovery/internal/db"
	"github.com/david/grant-discovery/internal/ingest"
	"github.com/david/grant-discovery/internal/models"
)

const discoveryJobTimeout = 30 * time.Minute

// multipartOverhead is room for form boundaries and part headers around an upload.
const multipartOverhead = 64 << 10

// Store is everything the HTTP layer reads and writes.
type Store interface {
	ingest.GrantStore
	auth.UserStore
	ListGrants(ctx context.Context, params db.ListParams) (*db.ListResult, error)
	GetGrant(ctx context.Context, id uuid.UUID) (*models.GrantView, error)
	UpdateGrantStatus(ctx context.Context, id uuid.UUID, status string) error
	LatestReports(ctx context.Context, n int) ([]models.DiscoveryReport, error)
	GetSources(ctx context.Context) ([]string, error)
	GetStats(ctx context.Context) (*db.Stats, error)
	TrackGrant(ctx context.Context, userID, grantID uuid.UUID) error
	UntrackGrant(ctx context.Context, userID, grantID uuid.UUID) error
	ListTrackedGrants(ctx context.Context, userID uuid.UUID) ([]models.TrackedGrant, error)
}

type Options struct {
	AdminSecret    string
	JWTSecret      string
	CORSOrigins    []string
	MaxUploadBytes int64
	Runner         *ingest.Runner
	Registry       *ingest.Registry
}

type Server struct {
	Store       Store
	AuthService *auth.Service
	Echo        *echo.Echo
	Runner      *ingest.Runner
	Registry    *ingest.Registry

	adminSecret    string
	maxUploadBytes int64

	// Background job tracking
	jobMu      sync.Mutex
	runningJob *backgroundJob
}

type backgroundJob struct {
	ID        string             `json:"id"`
	Status    string             `json:"status"` // running, completed, failed
	StartedAt time.Time          `json:"started_at"`
	EndedAt   time.Time          `json:"ended_at,omitempty"`
	Result    any                `json:"result,omitempty"`
	Error     string             `json:"error,omitempty"`
	Cancel    context.CancelFunc `json:"-"`
}

func NewServer(store Store, opts Options) *Server {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())

	allowedOrigins := opts.CORSOrigins
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"http://localhost:4200"}
	}
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: allowedOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization, "X-Admin-Secret"},
	}))

	maxUpload := opts.MaxUploadBytes
	if maxUpload <= 0 {
		maxUpload = 20 << 20
	}

	s := &Server{
		Store:          store,
		AuthService:    auth.NewService(store, opts.JWTSecret),
		Echo:           e,
		Runner:         opts.Runner,
		Registry:       opts.Registry,
		adminSecret:    opts.AdminSecret,
		maxUploadBytes: maxUpload,
	}

	s.routes()
	return s
}

func (s *Server) routes() {
	s.Echo.GET("/health", s.handleHealth)
	api := s.Echo.Group("/api/v1")
	api.GET("/grants", s.handleListGrants)
	api.GET("/grants/:id", s.handleGetGrant)
	api.PATCH("/grants/:id/status", s.handleUpdateGrantStatus, s.AuthService.Middleware)
	api.GET("/sources", s.handleGetSources)
	api.GET("/stats", s.handleGetStats)
	api.GET("/reports", s.handleListReports)
	api.GET("/reports/latest", s.handleLatestReport)

	// Document task extraction; oversized bodies are refused before multipart parsing.
	pdf := api.Group("/pdf", middleware.BodyLimit(strconv.FormatInt(s.maxUploadBytes+multipartOverhead, 10)))
	pdf.POST("/analyze", s.handleAnalyzePDF)
	pdf.POST("/eligibility", s.handlePDFEligibility)

	// Admin Routes
	admin := api.Group("/admin", s.adminMiddleware)
	admin.POST("/discovery", s.handleTriggerDiscovery)
	admin.GET("/job/:id", s.handleJobStatus)

	// Auth Routes
	api.POST("/auth/signup", s.handleSignup)
	api.POST("/auth/login", s.handleLogin)

	// Protected Routes (Tracked Grants)
	tracked := api.Group("/tracked", s.AuthService.Middleware)
	tracked.POST("/:id", s.handleTrackGrant)
	tracked.DELETE("/:id", s.handleUntrackGrant)
	tracked.GET("", s.handleGetTrackedGrants)
}

func (s *Server) Start(port string) error {
	return s.Echo.Start(":" + port)
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.jobMu.Lock()
	if s.runningJob != nil && s.runningJob.Status == "running" {
		s.runningJob.Cancel()
	}
	s.jobMu.Unlock()
	return s.Echo.Shutdown(ctx)
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.String(http.StatusOK, "OK")
}

func (s *Server) handleSignup(c echo.Context) error {
	var req auth.SignupRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request"})
	}

	resp, err := s.AuthService.Signup(c.Request().Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrUserExists):
			return c.JSON(http.StatusConflict, map[string]string{"error": err.Error()})
		case errors.Is(err, auth.ErrInvalidInput):
			return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
		}
		c.Logger().Errorf("Signup failed: %v", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Internal Server Error"})
	}

	return c.JSON(http.StatusCreated, resp)
}

func (s *Server) handleLogin(c echo.Context) error {
	var req auth.LoginRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request"})
	}

	resp, err := s.AuthService.Login(c.Request().Context(), req)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCreds) {
			return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Invalid credentials"})
		}
		c.Logger().Errorf("Login failed: %v", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Internal Server Error"})
	}

	return c.JSON(http.StatusOK, resp)
}

func (s *Server) handleListGrants(c echo.Context) error {
	params := db.ListParams{
		Query:      c.QueryParam("q"),
		Source:     c.QueryParam("source"),
		Urgency:    c.QueryParam("urgency"),
		CallStatus: c.QueryParam("call_status"),
		Tag:        c.QueryParam("tag"),
		Status:     c.QueryParam("status"),
		SortBy:     c.QueryParam("sort"),
	}

	// Defaults and bounds are applied by ListParams.Normalize.
	params.Limit, _ = strconv.Atoi(c.QueryParam("limit"))
	params.Offset, _ = strconv.Atoi(c.QueryParam("offset"))
	if v, err := strconv.Atoi(c.QueryParam("min_score")); err == nil && v > 0 {
		params.MinScore = v
	}

	result, err := s.Store.ListGrants(c.Request().Context(), params)
	if err != nil {
		c.Logger().Errorf("Failed to list grants: %v", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Internal Server Error"})
	}

	return c.JSON(http.StatusOK, result)
}

func (s *Server) handleGetGrant(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid grant ID"})
	}
	grant, err := s.Store.GetGrant(c.Request().Context(), id)
	if errors.Is(err, db.ErrNotFound) {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "Not found"})
	}
	if err != nil {
		c.Logger().Errorf("Failed to get grant %s: %v", id, err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Internal Server Error"})
	}
	return c.JSON(http.StatusOK, grant)
}

func (s *Server) handleUpdateGrantStatus(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid grant ID"})
	}

	var req struct {
		Status string `json:"status"`
	}
	if err := c.Bind(&req); err != nil || !models.ValidGrantStatus(req.Status) {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "status must be one of potential, drafting, submitted, successful, unsuccessful"})
	}

	err = s.Store.UpdateGrantStatus(c.Request().Context(), id, req.Status)
	if errors.Is(err, db.ErrNotFound) {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "Not found"})
	}
	if err != nil {
		c.Logger().Errorf("Failed to update status of %s: %v", id, err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Internal Server Error"})
	}
	return c.JSON(http.StatusOK, map[string]string{"id": id.String(), "status": req.Status})
}

func (s *Server) handleGetSources(c echo.Context) error {
	sources, err := s.Store.GetSources(c.Request().Context())
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, sources)
}

func (s *Server) handleGetStats(c echo.Context) error {
	stats, err := s.Store.GetStats(c.Request().Context())
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, stats)
}

func (s *Server) handleListReports(c echo.Context) error {
	n := 10
	if l, err := strconv.Atoi(c.QueryParam("limit")); err == nil && l > 0 && l <= 100 {
		n = l
	}
	reports, err := s.Store.LatestReports(c.Request().Context(), n)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, reports)
}

func (s *Server) handleLatestReport(c echo.Context) error {
	reports, err := s.Store.LatestReports(c.Request().Context(), 1)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	if len(reports) == 0 {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "No discovery runs yet"})
	}
	return c.JSON(http.StatusOK, reports[0])
}

// handleTriggerDiscovery starts a discovery run in the background and returns
// 202 immediately. Only one run may be in flight.
func (s *Server) handleTriggerDiscovery(c echo.Context) error {
	if s.Runner == nil || s.Registry == nil {
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": "Discovery is not configured"})
	}

	sources := s.Registry.Active()
	if id := strings.TrimSpace(c.QueryParam("source")); id != "" {
		src, ok := s.Registry.Find(id)
		if !ok {
			return c.JSON(http.StatusNotFound, map[string]string{"error": fmt.Sprintf("unknown source %q", id)})
		}
		sources = []ingest.SourceConfig{src}
	}
	if len(sources) == 0 {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "No active sources"})
	}

	s.jobMu.Lock()
	if s.runningJob != nil && s.runningJob.Status == "running" {
		job := s.runningJob
		s.jobMu.Unlock()
		return c.JSON(http.StatusConflict, map[string]interface{}{
			"error":  "A discovery job is already running",
			"job_id": job.ID,
		})
	}

	// Detached from the request; the job outlives it.
	jobCtx, jobCancel := context.WithTimeout(
		context.WithoutCancel(c.Request().Context()), discoveryJobTimeout,
	)

	jobID := uuid.New().String()[:8]
	job := &backgroundJob{
		ID:        jobID,
		Status:    "running",
		StartedAt: time.Now(),
		Cancel:    jobCancel,
	}
	s.runningJob = job
	s.jobMu.Unlock()

	go func() {
		defer jobCancel()
		log.Printf("[discovery-job %s] started: %d sources", jobID, len(sources))

		summary, err := s.Runner.Run(jobCtx, sources)

		s.jobMu.Lock()
		defer s.jobMu.Unlock()
		job.EndedAt = time.Now()
		if summary != nil {
			job.Result = summary
		}
		if err != nil {
			job.Status = "failed"
			job.Error = err.Error()
			log.Printf("[discovery-job %s] failed: %v", jobID, err)
			return
		}
		job.Status = "completed"
		log.Printf("[discovery-job %s] completed: %d inserted, %d updated, %d failed",
			jobID, summary.Persist.Inserted, summary.Persist.Updated, summary.Persist.Failed)
	}()

	return c.JSON(http.StatusAccepted, map[string]interface{}{
		"message": "Discovery job started",
		"job_id":  jobID,
		"sources": len(sources),
		"poll":    fmt.Sprintf("/api/v1/admin/job/%s", jobID),
	})
}

func (s *Server) handleJobStatus(c echo.Context) error {
	queried := c.Param("id")
	s.jobMu.Lock()
	defer s.jobMu.Unlock()

	job := s.runningJob
	if job == nil || job.ID != queried {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "job not found"})
	}

	resp := map[string]interface{}{
		"id":         job.ID,
		"status":     job.Status,
		"started_at": job.StartedAt,
	}
	if !job.EndedAt.IsZero() {
		resp["ended_at"] = job.EndedAt
		resp["duration"] = job.EndedAt.Sub(job.StartedAt).String()
	}
	if job.Result != nil {
		resp["result"] = job.Result
	}
	if job.Error != "" {
		resp["error"] = job.Error
	}

	return c.JSON(http.StatusOK, resp)
}

// Protected Handlers

func (s *Server) handleTrackGrant(c echo.Context) error {
	userID, grantID, err := trackedIDs(c)
	if err != nil {
		return err
	}

	err = s.Store.TrackGrant(c.Request().Context(), userID, grantID)
	if errors.Is(err, db.ErrNotFound) {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "Grant not found"})
	}
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Failed to track grant"})
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "tracked"})
}

func (s *Server) handleUntrackGrant(c echo.Context) error {
	userID, grantID, err := trackedIDs(c)
	if err != nil {
		return err
	}

	if err := s.Store.UntrackGrant(c.Request().Context(), userID, grantID); err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Failed to untrack grant"})
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "untracked"})
}

func (s *Server) handleGetTrackedGrants(c echo.Context) error {
	userID, err := auth.GetUserIDFromContext(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
	}

	grants, err := s.Store.ListTrackedGrants(c.Request().Context(), userID)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Failed to fetch tracked grants"})
	}
	if grants == nil {
		grants = []models.TrackedGrant{}
	}
	return c.JSON(http.StatusOK, grants)
}

// trackedIDs pulls the caller and the :id grant.
func trackedIDs(c echo.Context) (uuid.UUID, uuid.UUID, error) {
	userID, err := auth.GetUserIDFromContext(c)
	if err != nil {
		return uuid.Nil, uuid.Nil, echo.NewHTTPError(http.StatusUnauthorized, "Unauthorized")
	}
	grantID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "Invalid grant ID")
	}
	return userID, grantID, nil
}

func (s *Server) adminMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if s.adminSecret == "" {
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Server admin configuration error"})
		}

		// X-Admin-Secret header or Bearer token
		provided := c.Request().Header.Get("X-Admin-Secret")
		if provided == "" {
			authHeader := c.Request().Header.Get("Authorization")
			if len(authHeader) > 7 && strings.EqualFold(authHeader[:7], "Bearer ") {
				provided = authHeader[7:]
			}
		}

		if provided != "" && subtle.ConstantTimeCompare([]byte(provided), []byte(s.adminSecret)) == 1 {
			return next(c)
		}
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthorized admin access"})
	}
}
