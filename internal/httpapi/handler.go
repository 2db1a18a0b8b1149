// Package httpapi serves read-only views of the monitor over HTTP.
package httpapi

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/rewired-gh/dipwatch/internal/models"
	"github.com/rewired-gh/dipwatch/internal/monitor"
	"github.com/rewired-gh/dipwatch/internal/storage"
)

// StateSource is the read side of the monitor.
type StateSource interface {
	Snapshot() models.StatsView
	State(symbol string) (models.PriceState, bool)
	Canonical(raw string) string
}

// AlertSource is the read side of the alert journal.
type AlertSource interface {
	RecentAlerts(ctx context.Context, limit int) ([]models.AlertEvent, error)
	AlertsForSymbol(ctx context.Context, symbol string, limit int) ([]models.AlertEvent, error)
}

// Handler registers the API routes.
type Handler struct {
	state    StateSource
	alerts   AlertSource
	metrics  http.Handler
	validate *validator.Validate
}

// NewHandler creates a handler. alerts and metrics may be nil.
func NewHandler(state StateSource, alerts AlertSource, metrics http.Handler) *Handler {
	return &Handler{
		state:    state,
		alerts:   alerts,
		metrics:  metrics,
		validate: validator.New(),
	}
}

func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.GET("/healthz", h.health)
	e.GET("/stats", h.stats)
	e.GET("/symbols/:symbol", h.symbol)
	e.GET("/alerts", h.recentAlerts)
	if h.metrics != nil {
		e.GET("/metrics", echo.WrapHandler(h.metrics))
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

func (h *Handler) health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

type statsQuery struct {
	Entries bool `query:"entries"`
}

type statsResponse struct {
	models.StatsView
	UptimeSeconds float64 `json:"uptime_seconds"`
}

func (h *Handler) stats(c echo.Context) error {
	var q statsQuery
	if err := c.Bind(&q); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid query"})
	}

	view := h.state.Snapshot()
	if !q.Entries {
		view.Entries = nil
	}
	return c.JSON(http.StatusOK, statsResponse{StatsView: view, UptimeSeconds: view.Uptime.Seconds()})
}

type symbolResponse struct {
	Symbol     string            `json:"symbol"`
	State      models.PriceState `json:"state"`
	DipPercent float64           `json:"dip_percent"`
}

func (h *Handler) symbol(c echo.Context) error {
	symbol := h.state.Canonical(c.Param("symbol"))
	state, ok := h.state.State(symbol)
	if !ok {
		return c.JSON(http.StatusNotFound, errorResponse{Error: "unknown symbol " + symbol})
	}
	return c.JSON(http.StatusOK, symbolResponse{
		Symbol:     symbol,
		State:      state,
		DipPercent: monitor.DipPercent(state),
	})
}

type alertsQuery struct {
	Limit  int    `query:"limit" validate:"gte=1,lte=1000"`
	Symbol string `query:"symbol" validate:"omitempty,max=64"`
}

func (h *Handler) recentAlerts(c echo.Context) error {
	if h.alerts == nil {
		return c.JSON(http.StatusServiceUnavailable, errorResponse{Error: storage.ErrJournalDisabled.Error()})
	}

	q := alertsQuery{Limit: 50}
	if err := c.Bind(&q); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid query"})
	}
	if err := h.validate.StructCtx(c.Request().Context(), &q); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "limit must be between 1 and 1000"})
	}

	ctx := c.Request().Context()
	var (
		alerts []models.AlertEvent
		err    error
	)
	if q.Symbol != "" {
		alerts, err = h.alerts.AlertsForSymbol(ctx, h.state.Canonical(q.Symbol), q.Limit)
	} else {
		alerts, err = h.alerts.RecentAlerts(ctx, q.Limit)
	}
	switch {
	case errors.Is(err, storage.ErrJournalDisabled):
		return c.JSON(http.StatusServiceUnavailable, errorResponse{Error: err.Error()})
	case err != nil:
		return c.JSON(http.StatusInternalServerError, errorResponse{Error: err.Error()})
	}
	return c.JSON(http.StatusOK, alerts)
}
