// Package http provides the HTTP API for cabinetd.
package http

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/marketlabs/cabinetd/internal/enrich"
	"github.com/marketlabs/cabinetd/internal/indexer"
	"github.com/marketlabs/cabinetd/internal/logging"
	"github.com/marketlabs/cabinetd/internal/status"
)

// Config holds HTTP server configuration.
type Config struct {
	Host string
	Port int

	// APIKey guards every endpoint except /health and /metrics. Empty
	// disables authentication (local dev only).
	APIKey string
}

// Server provides HTTP endpoints for cabinetd.
type Server struct {
	echo     *echo.Echo
	indexer  *indexer.Indexer
	tracker  *status.Tracker
	enricher *enrich.Enricher
	logger   *logging.Logger
	metrics  *HTTPMetrics
	config   Config
}

// NewServer creates a new HTTP server.
func NewServer(idx *indexer.Indexer, tracker *status.Tracker, enricher *enrich.Enricher, logger *logging.Logger, cfg Config) (*Server, error) {
	if idx == nil {
		return nil, fmt.Errorf("indexer is required")
	}
	if tracker == nil {
		return nil, fmt.Errorf("status tracker is required")
	}
	if enricher == nil {
		return nil, fmt.Errorf("enricher is required")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Port == 0 {
		cfg.Port = 8090
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{
		echo:     e,
		indexer:  idx,
		tracker:  tracker,
		enricher: enricher,
		logger:   logger,
		metrics:  NewHTTPMetrics(logger.Underlying()),
		config:   cfg,
	}

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(s.requestContext)
	e.Use(s.requestLogging)

	s.registerRoutes()

	return s, nil
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	api := s.echo.Group("", s.requireAPIKey)
	api.POST("/index/:cabinet", s.handleIndex)
	api.POST("/index/:cabinet/reset", s.handleReset)
	api.GET("/status/:cabinet", s.handleStatus)
	api.POST("/enrich", s.handleEnrich)
}

// requestContext threads the request ID into the request context so log
// lines from deeper layers carry it.
func (s *Server) requestContext(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		requestID := c.Response().Header().Get(echo.HeaderXRequestID)
		ctx := logging.ContextWithRequestID(c.Request().Context(), requestID)
		c.SetRequest(c.Request().WithContext(ctx))
		return next(c)
	}
}

func (s *Server) requestLogging(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		start := time.Now()
		err := next(c)
		duration := time.Since(start)

		s.metrics.RecordRequest(c.Request().Context(), c.Request().Method, c.Path(), c.Response().Status, duration, c.Response().Size)

		s.logger.Info(c.Request().Context(), "http request",
			zap.String("method", c.Request().Method),
			zap.String("uri", c.Request().RequestURI),
			zap.Int("status", c.Response().Status),
			zap.Duration("duration", duration),
		)

		return err
	}
}

// requireAPIKey enforces the X-API-Key header when a key is configured.
func (s *Server) requireAPIKey(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if s.config.APIKey == "" {
			return next(c)
		}
		provided := c.Request().Header.Get("X-API-Key")
		if subtle.ConstantTimeCompare([]byte(provided), []byte(s.config.APIKey)) != 1 {
			return echo.NewHTTPError(http.StatusUnauthorized, "invalid or missing API key")
		}
		return next(c)
	}
}

// IndexRequest is the optional request body for POST /index/:cabinet.
type IndexRequest struct {
	FullRebuild bool               `json:"full_rebuild"`
	ChangedIDs  map[string][]int64 `json:"changed_ids"`
}

// IndexResponse is the response body for POST /index/:cabinet.
type IndexResponse struct {
	CabinetID int64  `json:"cabinet_id"`
	RunID     string `json:"run_id"`
	Status    string `json:"status"`
}

// EnrichRequest is the request body for POST /enrich.
type EnrichRequest struct {
	CabinetID int64  `json:"cabinet_id"`
	Prompt    string `json:"prompt"`
}

// EnrichResponse is the response body for POST /enrich.
type EnrichResponse struct {
	Prompt   string `json:"prompt"`
	Enriched bool   `json:"enriched"`
	Context  string `json:"context,omitempty"`
}

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

// StatusResponse is the response body for GET /status/:cabinet. A
// never-indexed cabinet gets indexing_status "not_found" with 200:
// absence of history is a normal answer, not an error.
type StatusResponse struct {
	CabinetID      int64      `json:"cabinet_id"`
	IndexingStatus string     `json:"indexing_status"`
	IsIndexing     bool       `json:"is_indexing"`
	TotalChunks    int        `json:"total_chunks"`
	LastIndexedAt  *time.Time `json:"last_indexed_at,omitempty"`
	RunID          string     `json:"run_id,omitempty"`
	LastError      string     `json:"last_error,omitempty"`
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

func cabinetParam(c echo.Context) (int64, error) {
	cabinetID, err := strconv.ParseInt(c.Param("cabinet"), 10, 64)
	if err != nil || cabinetID <= 0 {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "cabinet must be a positive integer")
	}
	return cabinetID, nil
}

// handleIndex launches an indexing run. The run is asynchronous: 202
// means "claimed and started", progress lives at /status/:cabinet.
func (s *Server) handleIndex(c echo.Context) error {
	cabinetID, err := cabinetParam(c)
	if err != nil {
		return err
	}

	var req IndexRequest
	if c.Request().ContentLength > 0 {
		if err := c.Bind(&req); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
		}
	}

	ctx := logging.ContextWithCabinetID(c.Request().Context(), cabinetID)
	runID, err := s.indexer.Start(ctx, indexer.Request{
		CabinetID:   cabinetID,
		FullRebuild: req.FullRebuild,
		ChangedIDs:  req.ChangedIDs,
	})
	if errors.Is(err, status.ErrIndexingInProgress) {
		return echo.NewHTTPError(http.StatusConflict, "indexing already in progress")
	}
	if err != nil {
		s.logger.Error(ctx, "failed to start indexing", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to start indexing")
	}

	return c.JSON(http.StatusAccepted, IndexResponse{
		CabinetID: cabinetID,
		RunID:     runID,
		Status:    status.StateInProgress,
	})
}

// handleReset returns a stuck run to pending.
func (s *Server) handleReset(c echo.Context) error {
	cabinetID, err := cabinetParam(c)
	if err != nil {
		return err
	}

	ctx := logging.ContextWithCabinetID(c.Request().Context(), cabinetID)
	err = s.tracker.Reset(ctx, cabinetID)
	if errors.Is(err, status.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "no in-progress run to reset")
	}
	if err != nil {
		s.logger.Error(ctx, "failed to reset indexing", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to reset indexing")
	}

	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleStatus(c echo.Context) error {
	cabinetID, err := cabinetParam(c)
	if err != nil {
		return err
	}

	st, err := s.tracker.Get(c.Request().Context(), cabinetID)
	if errors.Is(err, status.ErrNotFound) {
		return c.JSON(http.StatusOK, StatusResponse{CabinetID: cabinetID, IndexingStatus: "not_found"})
	}
	if err != nil {
		s.logger.Error(c.Request().Context(), "failed to load status", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to load status")
	}

	resp := StatusResponse{
		CabinetID:      st.CabinetID,
		IndexingStatus: st.Status,
		IsIndexing:     st.Status == status.StateInProgress,
		TotalChunks:    st.TotalChunks,
		RunID:          st.RunID,
		LastError:      st.LastError,
	}
	if st.Status == status.StateCompleted {
		resp.LastIndexedAt = st.FinishedAt
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) handleEnrich(c echo.Context) error {
	var req EnrichRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Prompt == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "prompt field is required")
	}

	ctx := logging.ContextWithCabinetID(c.Request().Context(), req.CabinetID)
	result := s.enricher.Enrich(ctx, req.CabinetID, req.Prompt)

	return c.JSON(http.StatusOK, EnrichResponse{
		Prompt:   result.Prompt,
		Enriched: result.Enriched,
		Context:  result.Context,
	})
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info(context.Background(), "starting http server", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info(ctx, "shutting down http server")
	return s.echo.Shutdown(ctx)
}

// Handler exposes the underlying handler for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}
