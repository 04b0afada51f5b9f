package http

import "github.com/labstack/echo/v4"

// Handler mounts a route group on the local API server. The server adds
// /metrics itself when enabled.
type Handler interface {
	RegisterRoutes(e *echo.Echo)
}
