// Package api exposes the REST surface of the daemon: the public upload and
// query endpoints behind bearer auth, the internal control endpoints behind
// a shared secret, and the health probe.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"audiobatch/internal/blobstore"
	"audiobatch/internal/config"
	"audiobatch/internal/index"
	"audiobatch/internal/ingest"
	"audiobatch/internal/logging"
	"audiobatch/internal/notify"
	"audiobatch/internal/services"
)

// Server hosts the HTTP API.
type Server struct {
	cfg      *config.Config
	idx      *index.Store
	store    blobstore.Store
	ingester *ingest.Service
	notifier notify.Service
	logger   *slog.Logger
	echo     *echo.Echo
}

func NewServer(cfg *config.Config, idx *index.Store, store blobstore.Store, ingester *ingest.Service, notifier notify.Service, logger *slog.Logger) *Server {
	if logger == nil {
		logger = logging.NewNop()
	}
	s := &Server{
		cfg:      cfg,
		idx:      idx,
		store:    store,
		ingester: ingester,
		notifier: notifier,
		logger:   logging.NewComponentLogger(logger, "api"),
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{
		Generator: uuid.NewString,
	}))
	e.Use(s.requestLogger())

	e.GET("/healthz", s.handleHealth)

	v1 := e.Group("/v1", s.requireBearer)
	v1.POST("/upload", s.handleUpload)
	v1.GET("/status/:batch_id", s.handleStatus)
	v1.GET("/batches", s.handleList)
	v1.GET("/download/:batch_id/:artifact_type", s.handleDownload)

	internal := e.Group("/internal", s.requireInternalSecret)
	internal.POST("/batch-status", s.handleInternalBatchStatus)
	internal.POST("/processing-stages", s.handleInternalProcessingStages)
	internal.POST("/publish-event", s.handleInternalPublishEvent)

	s.echo = e
	return s
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start blocks serving HTTP until Shutdown or failure.
func (s *Server) Start() error {
	s.logger.Info("api listening", logging.String("bind", s.cfg.Paths.APIBind))
	err := s.echo.Start(s.cfg.Paths.APIBind)
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests within the context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

func (s *Server) requestLogger() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			request := c.Request()
			ctx := services.WithRequestID(request.Context(), c.Response().Header().Get(echo.HeaderXRequestID))
			c.SetRequest(request.WithContext(ctx))

			start := time.Now()
			err := next(c)
			if c.Path() == "/healthz" {
				return err
			}
			status := c.Response().Status
			if httpErr, ok := err.(*echo.HTTPError); ok {
				status = httpErr.Code
			}
			// Auth middleware annotates the request context with the owner,
			// so re-read it after next.
			logging.WithContext(c.Request().Context(), s.logger).Info("request",
				logging.String("method", c.Request().Method),
				logging.String("path", c.Path()),
				logging.Int("status", status),
				logging.Duration("elapsed", time.Since(start)),
			)
			return err
		}
	}
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}
