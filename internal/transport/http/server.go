// Package http provides the HTTP server for the chat API and WebSocket endpoints.
package http

import (
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/xiaot623/gochat/internal/config"
	"github.com/xiaot623/gochat/internal/service"
	"github.com/xiaot623/gochat/internal/transport/http/api"
	"github.com/xiaot623/gochat/internal/transport/ws"
)

// NewServer creates the public HTTP server. It serves the REST API and the WebSocket
// endpoints on one port.
func NewServer(cfg *config.Config, svc *service.Service, wsServer *ws.Server) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Debug = cfg.LogLevel == "debug"

	// Middleware
	if cfg.LogLevel != "error" {
		e.Use(middleware.Logger())
	}
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	// Handlers
	apiHandler := api.NewHandler(svc)

	// Register Routes
	apiHandler.RegisterRoutes(e)
	wsServer.Register(e)

	return e
}
