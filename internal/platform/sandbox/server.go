package sandbox

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/ehr/copilot/internal/platform/middleware"
)

// ServerConfig shapes the sandbox HTTP server.
type ServerConfig struct {
	CORSOrigins []string
	BodyLimit   string
	UploadLimit string
	// AuthRateLimit throttles login and signup per client. A zero rate
	// selects middleware.DefaultRateLimitConfig.
	AuthRateLimit middleware.RateLimitConfig
	// HandlerTimeout bounds each API request; zero disables it.
	HandlerTimeout time.Duration
	// Seeds serves /sandbox; nil creates a fresh handler over the store.
	Seeds *SeedHandler
}

// DefaultServerConfig allows any origin and 20 MB uploads.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		CORSOrigins:    []string{"*"},
		BodyLimit:      "1M",
		UploadLimit:    "20M",
		AuthRateLimit:  middleware.DefaultRateLimitConfig(),
		HandlerTimeout: 30 * time.Second,
	}
}

// NewServer builds the sandbox backend over store. The returned handler is
// ready for e.Start or httptest.NewServer.
func NewServer(store *Store, cfg ServerConfig, logger zerolog.Logger) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = middleware.ErrorHandler(logger)

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost},
		AllowHeaders: []string{"Content-Type", middleware.RequestIDHeader},
	}))
	e.Use(middleware.BodyLimit(cfg.BodyLimit, cfg.UploadLimit))
	e.Use(middleware.RequestTimeout(cfg.HandlerTimeout))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})

	h := NewHandler(store, logger)

	rateCfg := cfg.AuthRateLimit
	if rateCfg.RequestsPerSecond <= 0 {
		rateCfg = middleware.DefaultRateLimitConfig()
	}
	apiV1 := e.Group("/api/v1")
	h.RegisterAuthRoutes(apiV1.Group("/auth", middleware.RateLimit(rateCfg)))
	h.RegisterRoutes(apiV1)
	h.RegisterMediaRoutes(e.Group("/media"))

	seeds := cfg.Seeds
	if seeds == nil {
		seeds = NewSeedHandler(store)
	}
	seeds.RegisterRoutes(e.Group("/sandbox"))
	return e
}
