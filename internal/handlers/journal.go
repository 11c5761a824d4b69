package handlers

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/memohai/statebot/internal/journal"
	"github.com/memohai/statebot/internal/storage"
)

const (
	defaultJournalLimit = 50
	maxJournalLimit     = 1000
)

// JournalHandler exposes the most recent activity journal records.
type JournalHandler struct {
	logger  *slog.Logger
	journal *journal.Journal
}

func NewJournalHandler(log *slog.Logger, j *journal.Journal) *JournalHandler {
	if log == nil {
		log = slog.Default()
	}
	return &JournalHandler{
		logger:  log.With(slog.String("handler", "journal")),
		journal: j,
	}
}

// Register is a no-op when the journal is disabled.
func (h *JournalHandler) Register(e *echo.Echo) {
	if h.journal == nil {
		return
	}
	e.GET("/journal", h.List)
}

// List returns the last records, oldest first. The limit query parameter
// defaults to 50 and is capped at 1000.
func (h *JournalHandler) List(c echo.Context) error {
	limit := defaultJournalLimit
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "limit must be a positive integer")
		}
		limit = min(n, maxJournalLimit)
	}
	records, err := h.journal.DumpLast(c.Request().Context(), limit)
	if err != nil {
		h.logger.Error("dump journal failed", slog.Any("error", err))
		return echo.NewHTTPError(http.StatusInternalServerError, "journal unavailable")
	}
	if records == nil {
		records = []storage.Document{}
	}
	return c.JSON(http.StatusOK, map[string]any{"items": records})
}
