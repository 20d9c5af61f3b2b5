package knowledge

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/claimloop/claimloop/internal/domain/recovery"
	"github.com/claimloop/claimloop/internal/platform/auth"
	"github.com/claimloop/claimloop/pkg/pagination"
)

type Handler struct {
	agg *Aggregator
}

func NewHandler(agg *Aggregator) *Handler {
	return &Handler{agg: agg}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	readGroup := api.Group("", auth.RequireRole("admin", "recovery", "analyst"))
	readGroup.GET("/patterns", h.ListPatterns)
	readGroup.GET("/patterns/payer/:payer_id", h.ListByPayer)
	readGroup.GET("/patterns/payer/:payer_id/:type/:key", h.GetPattern)
}

// patternView adds the derived success rate to the stored record.
type patternView struct {
	*Pattern
	SuccessRate float64 `json:"success_rate"`
}

func viewOf(p *Pattern) patternView {
	return patternView{Pattern: p, SuccessRate: p.SuccessRate()}
}

func viewsOf(items []*Pattern) []patternView {
	out := make([]patternView, 0, len(items))
	for _, p := range items {
		out = append(out, viewOf(p))
	}
	return out
}

func (h *Handler) ListPatterns(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.agg.ListPatterns(c.Request().Context(),
		PatternType(c.QueryParam("type")), pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(viewsOf(items), total, pg.Limit, pg.Offset))
}

func (h *Handler) ListByPayer(c echo.Context) error {
	payerID, err := uuid.Parse(c.Param("payer_id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid payer_id")
	}
	pg := pagination.FromContext(c)
	items, total, err := h.agg.ListByPayer(c.Request().Context(), payerID, pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(viewsOf(items), total, pg.Limit, pg.Offset))
}

func (h *Handler) GetPattern(c echo.Context) error {
	payerID, err := uuid.Parse(c.Param("payer_id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid payer_id")
	}
	p, err := h.agg.GetPattern(c.Request().Context(), payerID,
		PatternType(c.Param("type")), c.Param("key"))
	if err != nil {
		if errors.Is(err, recovery.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "pattern not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, viewOf(p))
}
