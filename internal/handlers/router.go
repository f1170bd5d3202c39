package handlers

import (
	"github.com/Gobusters/ectologger"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"

	"github.com/Stewart-Y/ABVTrends-sub000/pkg/health"
	"github.com/Stewart-Y/ABVTrends-sub000/pkg/middleware"
)

// RouteRegistrar mounts a handler's routes on the /api/v1 group.
type RouteRegistrar interface {
	RegisterRoutes(g *echo.Group)
}

// NewRouter builds the echo server with the shared middleware chain, the infra
// health probes, /metrics and every handler under /api/v1.
func NewRouter(serviceName string, checker *health.Checker, logger ectologger.Logger, handlers ...RouteRegistrar) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = middleware.Error(logger)

	e.Use(otelecho.Middleware(serviceName))
	e.Use(middleware.Context())
	e.Use(middleware.Logger(logger))

	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	if checker != nil {
		checker.RegisterRoutes(e)
	}

	api := e.Group("/api/v1")
	for _, h := range handlers {
		h.RegisterRoutes(api)
	}
	return e
}
