// Package http provides the HTTP server of the ICEE runtime.
package http

import (
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/enisisuko/ICee-agent/internal/service"
	v1 "github.com/enisisuko/ICee-agent/internal/transport/http/v1"
	"github.com/enisisuko/ICee-agent/internal/transport/ws"
)

// NewServer creates and configures the HTTP server: the v1 API, the
// notification WebSocket and the metrics endpoint. wsServer and registry
// are optional.
func NewServer(svc *service.Service, wsServer *ws.Server, registry *prometheus.Registry, logger *zap.Logger) *echo.Echo {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Middleware
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:   true,
		LogURI:      true,
		LogStatus:   true,
		LogLatency:  true,
		LogError:    true,
		HandleError: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			fields := []zap.Field{
				zap.String("method", v.Method),
				zap.String("uri", v.URI),
				zap.Int("status", v.Status),
				zap.Duration("latency", v.Latency),
			}
			if v.Error != nil {
				logger.Warn("request", append(fields, zap.Error(v.Error))...)
				return nil
			}
			logger.Debug("request", fields...)
			return nil
		},
	}))
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	// Handlers
	v1Handler := v1.NewHandler(svc, logger.Named("api"))
	v1Handler.RegisterRoutes(e)

	if wsServer != nil {
		e.GET("/v1/ws", wsServer.HandleWebSocket)
	}
	if registry != nil {
		e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))
	}

	return e
}
