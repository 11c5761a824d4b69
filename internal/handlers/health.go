package handlers

import (
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/memohai/statebot/internal/healthcheck"
)

// HealthHandler reports the combined result of the runtime checkers.
type HealthHandler struct {
	logger   *slog.Logger
	checkers []healthcheck.Checker
}

func NewHealthHandler(log *slog.Logger, checkers ...healthcheck.Checker) *HealthHandler {
	if log == nil {
		log = slog.Default()
	}
	return &HealthHandler{
		logger:   log.With(slog.String("handler", "health")),
		checkers: checkers,
	}
}

func (h *HealthHandler) Register(e *echo.Echo) {
	e.GET("/health", h.Health)
	e.HEAD("/health", h.HealthHead)
}

// Health returns 200 unless some check reports an error.
func (h *HealthHandler) Health(c echo.Context) error {
	report := healthcheck.Run(c.Request().Context(), h.checkers...)
	return c.JSON(statusCode(report), report)
}

func (h *HealthHandler) HealthHead(c echo.Context) error {
	report := healthcheck.Run(c.Request().Context(), h.checkers...)
	return c.NoContent(statusCode(report))
}

func statusCode(report healthcheck.Report) int {
	if report.Status == healthcheck.StatusError {
		return http.StatusServiceUnavailable
	}
	return http.StatusOK
}
