package api

import (
	"errors"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/aoki/jgrants-sync/internal/config"
	"github.com/aoki/jgrants-sync/internal/enrich"
	"github.com/aoki/jgrants-sync/internal/jgrants"
	"github.com/aoki/jgrants-sync/internal/models"
	"github.com/aoki/jgrants-sync/internal/store"
	"github.com/aoki/jgrants-sync/internal/sync"
)

type Server struct {
	Echo     *echo.Echo
	Store    *store.Store
	Engine   *sync.Engine
	Enricher *enrich.Enricher
	Source   *jgrants.Client
	Config   *config.Config
}

func NewServer(cfg *config.Config, st *store.Store, engine *sync.Engine, enricher *enrich.Enricher, source *jgrants.Client) *Server {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())

	allowedOrigins := []string{"http://localhost:3000"}
	if extra := os.Getenv("CORS_ORIGINS"); extra != "" {
		for _, o := range strings.Split(extra, ",") {
			if o = strings.TrimSpace(o); o != "" {
				allowedOrigins = append(allowedOrigins, o)
			}
		}
	}
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: allowedOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization, "X-Admin-Secret"},
	}))

	s := &Server{
		Echo:     e,
		Store:    st,
		Engine:   engine,
		Enricher: enricher,
		Source:   source,
		Config:   cfg,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.Echo.GET("/health", s.handleHealth)

	api := s.Echo.Group("/api/v1")
	api.GET("/stats", s.handleStats)

	admin := api.Group("")
	admin.Use(s.adminMiddleware)
	admin.POST("/sync", s.handleSync)
	admin.POST("/import/:id", s.handleImport)
	admin.POST("/enrich/batch", s.handleEnrichBatch)
	admin.GET("/test-connection", s.handleTestConnection)
	admin.GET("/runs", s.handleRuns)
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.String(http.StatusOK, "OK")
}

func (s *Server) handleStats(c echo.Context) error {
	stats, err := s.Store.Statistics(c.Request().Context())
	if err != nil {
		return c.JSON(http.StatusInternalServerError, errBody(err))
	}
	return c.JSON(http.StatusOK, stats)
}

// handleSync runs one sync run to completion. A run already in flight
// answers 409 instead of queueing a second one.
func (s *Server) handleSync(c echo.Context) error {
	var ov sync.Overrides
	if err := c.Bind(&ov); err != nil {
		return c.JSON(http.StatusBadRequest, errBody(err))
	}

	params, err := sync.ResolveParams(s.Config.Sync, ov)
	if err != nil {
		return c.JSON(http.StatusBadRequest, errBody(err))
	}

	res, err := s.Engine.RunSync(c.Request().Context(), params)
	switch {
	case errors.Is(err, models.ErrRunInProgress):
		return c.JSON(http.StatusConflict, errBody(err))
	case errors.Is(err, models.ErrSourceUnavailable):
		return c.JSON(http.StatusBadGateway, errBody(err))
	case err != nil:
		return c.JSON(http.StatusInternalServerError, errBody(err))
	}
	return c.JSON(http.StatusOK, res)
}

func (s *Server) handleImport(c echo.Context) error {
	params, err := sync.ResolveParams(s.Config.Sync, sync.Overrides{})
	if err != nil {
		return c.JSON(http.StatusInternalServerError, errBody(err))
	}

	rec, err := s.Engine.ImportByID(c.Request().Context(), c.Param("id"), params)
	switch {
	case errors.Is(err, models.ErrValidation):
		return c.JSON(http.StatusBadRequest, errBody(err))
	case errors.Is(err, models.ErrNotFound):
		return c.JSON(http.StatusNotFound, errBody(err))
	case errors.Is(err, models.ErrSourceUnavailable):
		return c.JSON(http.StatusBadGateway, errBody(err))
	case err != nil:
		return c.JSON(http.StatusInternalServerError, errBody(err))
	}
	return c.JSON(http.StatusOK, rec)
}

func (s *Server) handleEnrichBatch(c echo.Context) error {
	if s.Enricher == nil {
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": "ai enrichment is disabled"})
	}

	limit := s.Config.AI.BatchSize * 4
	if v, err := strconv.Atoi(c.QueryParam("limit")); err == nil && v > 0 && v <= 200 {
		limit = v
	}

	staleBefore := time.Now().Add(-time.Duration(s.Config.AI.RegenerateAfterHours) * time.Hour)
	recs, err := s.Store.ListNeedingEnrichment(c.Request().Context(), staleBefore, limit)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, errBody(err))
	}

	res := s.Enricher.BatchEnrich(c.Request().Context(), recs,
		s.Config.AI.BatchSize, time.Duration(s.Config.AI.BatchDelaySeconds)*time.Second)
	return c.JSON(http.StatusOK, res)
}

func (s *Server) handleTestConnection(c echo.Context) error {
	info, err := s.Source.TestConnection(c.Request().Context())
	if err != nil {
		return c.JSON(http.StatusBadGateway, info)
	}
	return c.JSON(http.StatusOK, info)
}

func (s *Server) handleRuns(c echo.Context) error {
	limit := 20
	if v, err := strconv.Atoi(c.QueryParam("limit")); err == nil && v > 0 && v <= 100 {
		limit = v
	}
	runs, err := s.Store.RecentRuns(c.Request().Context(), limit)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, errBody(err))
	}
	return c.JSON(http.StatusOK, runs)
}

func (s *Server) adminMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		secret := strings.TrimSpace(s.Config.Server.AdminSecret)
		if secret == "" {
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "admin secret not configured"})
		}

		if c.Request().Header.Get("X-Admin-Secret") == secret {
			return next(c)
		}
		authHeader := c.Request().Header.Get("Authorization")
		if len(authHeader) > 7 && strings.EqualFold(authHeader[:7], "Bearer ") && authHeader[7:] == secret {
			return next(c)
		}
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
	}
}

func (s *Server) Start(port string) error {
	return s.Echo.Start(":" + port)
}

func errBody(err error) map[string]string {
	return map[string]string{"error": err.Error()}
}
