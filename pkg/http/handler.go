package http

import "github.com/labstack/echo/v4"

// Handler registers a route set on the server.
type Handler interface {
	RegisterRoutes(e *echo.Echo)
}
