package handlers

import (
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/memohai/statebot/internal/router"
)

// RouteLister is implemented by router.Router.
type RouteLister interface {
	Routes() []router.RouteInfo
}

type RoutesHandler struct {
	logger *slog.Logger
	routes RouteLister
}

func NewRoutesHandler(log *slog.Logger, routes RouteLister) *RoutesHandler {
	if log == nil {
		log = slog.Default()
	}
	return &RoutesHandler{
		logger: log.With(slog.String("handler", "routes")),
		routes: routes,
	}
}

func (h *RoutesHandler) Register(e *echo.Echo) {
	e.GET("/routes", h.List)
}

// List returns the registered routes in dispatch table order.
func (h *RoutesHandler) List(c echo.Context) error {
	items := h.routes.Routes()
	if items == nil {
		items = []router.RouteInfo{}
	}
	return c.JSON(http.StatusOK, map[string]any{"items": items})
}
