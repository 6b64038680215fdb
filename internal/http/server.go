package http

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"
	echoMid "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hotelops/livesync/internal/config"
	"github.com/hotelops/livesync/internal/engine"
	"github.com/hotelops/livesync/internal/http/middleware"
	"github.com/hotelops/livesync/internal/mirror"
)

// Server is the read-only ops surface: health, metrics, the degraded
// indicator, and a view of the offline mirror for the UI while the
// authoritative source is unreachable.
type Server struct{ e *echo.Echo }

func NewServer(cfg config.Config, eng *engine.Engine, store mirror.Store) *Server {
	e := echo.New()
	e.HideBanner = true
	e.Use(echoMid.Recover())

	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })

	authMW := middleware.APIKeyMiddleware(cfg.HTTP.APIKey)

	v1 := e.Group("/v1", authMW)
	v1.GET("/status", statusHandler(eng))
	v1.GET("/mirror/:category", mirrorHandler(store))

	return &Server{e: e}
}

func statusHandler(eng *engine.Engine) echo.HandlerFunc {
	return func(c echo.Context) error {
		return c.JSON(http.StatusOK, eng.Status())
	}
}

func mirrorHandler(store mirror.Store) echo.HandlerFunc {
	return func(c echo.Context) error {
		category := c.Param("category")
		entries, err := store.GetAll(c.Request().Context(), category)
		if err != nil {
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "mirror read failed"})
		}
		if entries == nil {
			entries = []mirror.Entry{}
		}
		return c.JSON(http.StatusOK, entries)
	}
}

func (s *Server) Start(addr string) error            { return s.e.Start(addr) }
func (s *Server) Shutdown(ctx context.Context) error { return s.e.Shutdown(ctx) }
