package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/Qubut/fotoware-explorer/packages/data_builder/internal/config"
	"github.com/Qubut/fotoware-explorer/packages/data_builder/internal/explorer"
	"github.com/Qubut/fotoware-explorer/packages/data_builder/internal/models"
)

type archiveReader interface {
	Archive(archiveID string) (models.ArchiveDetail, error)
	Archives() ([]explorer.Archive, error)
	ArchiveAssets(archiveID string) ([]explorer.AssetView, error)
	Asset(key string) (explorer.AssetView, error)
	Index() (models.Index, error)
	Stats() (explorer.Stats, error)
	Search(term string) ([]explorer.Archive, error)
}

// Envelope is the body of every API response.
type Envelope struct {
	Data  any       `json:"data,omitempty"`
	Error *APIError `json:"error,omitempty"`
}

type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"status"`
}

// Server exposes the build output as a read-only JSON API.
type Server struct {
	Cfg      config.Config
	Logger   *zap.SugaredLogger
	reader   archiveReader
	engine   *gin.Engine
	requests metric.Int64Counter
}

func NewServer(
	cfg config.Config,
	reader archiveReader,
	logger *zap.SugaredLogger,
	meter metric.Meter,
) (*Server, error) {
	requests, err := meter.Int64Counter(
		"server.requests.total",
		metric.WithDescription("HTTP requests served, by route and status"),
	)
	if err != nil {
		return nil, err
	}
	s := &Server{
		Cfg:      cfg,
		Logger:   logger,
		reader:   reader,
		requests: requests,
	}
	s.engine = s.routes()
	return s, nil
}

func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.Cfg.Serve.Address,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.Logger.Infow("Serving explorer API", "address", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		s.Logger.Infow("Shutting down explorer API")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(s.requestLogger())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	api := r.Group("/api")
	api.GET("/index", s.getIndex)
	api.GET("/stats", s.getStats)
	api.GET("/archives", s.listArchives)
	api.GET("/archives/:archiveId", s.getArchive)
	api.GET("/archives/:archiveId/assets", s.listArchiveAssets)
	api.GET("/assets/:archiveId/:assetId", s.getAsset)
	return r
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}
		status := c.Writer.Status()
		s.requests.Add(c.Request.Context(), 1, metric.WithAttributes(
			attribute.String("route", route),
			attribute.Int("status", status),
		))
		s.Logger.Infow("http_request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", status,
			"latency", time.Since(start),
			"ip", c.ClientIP(),
		)
	}
}

func (s *Server) getIndex(c *gin.Context) {
	index, err := s.reader.Index()
	if err != nil {
		s.fail(c, err)
		return
	}
	ok(c, index)
}

func (s *Server) getStats(c *gin.Context) {
	stats, err := s.reader.Stats()
	if err != nil {
		s.fail(c, err)
		return
	}
	ok(c, stats)
}

// listArchives supports ?q= (name/description search), ?sort= and ?dir=asc|desc.
func (s *Server) listArchives(c *gin.Context) {
	archives, err := s.reader.Search(c.Query("q"))
	if err != nil {
		s.fail(c, err)
		return
	}
	if field := c.Query("sort"); field != "" {
		if archives, err = explorer.SortArchives(archives, field, c.Query("dir")); err != nil {
			s.fail(c, err)
			return
		}
	}
	ok(c, archives)
}

// getArchive returns the archive payload as persisted.
func (s *Server) getArchive(c *gin.Context) {
	detail, err := s.reader.Archive(c.Param("archiveId"))
	if err != nil {
		s.fail(c, err)
		return
	}
	ok(c, json.RawMessage(detail.Raw))
}

func (s *Server) listArchiveAssets(c *gin.Context) {
	assets, err := s.reader.ArchiveAssets(c.Param("archiveId"))
	if err != nil {
		s.fail(c, err)
		return
	}
	ok(c, assets)
}

func (s *Server) getAsset(c *gin.Context) {
	asset, err := s.reader.Asset(c.Param("archiveId") + " " + c.Param("assetId"))
	if err != nil {
		s.fail(c, err)
		return
	}
	ok(c, asset)
}

func ok(c *gin.Context, data any) {
	c.JSON(http.StatusOK, Envelope{Data: data})
}

func (s *Server) fail(c *gin.Context, err error) {
	apiErr := &APIError{Code: "INTERNAL_ERROR", Message: "internal server error", Status: http.StatusInternalServerError}
	switch {
	case errors.Is(err, explorer.ErrNotFound):
		apiErr = &APIError{Code: "NOT_FOUND", Message: err.Error(), Status: http.StatusNotFound}
	case errors.Is(err, explorer.ErrInvalidSort):
		apiErr = &APIError{Code: "VALIDATION_ERROR", Message: err.Error(), Status: http.StatusBadRequest}
	default:
		s.Logger.Errorw("Error serving request", "path", c.Request.URL.Path, "error", err)
	}
	c.JSON(apiErr.Status, Envelope{Error: apiErr})
}
