package crosswalk

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/include/ingest/internal/domain/terminology"
)

// Handler serves crosswalk lookups for one study.
type Handler struct {
	cw *Crosswalk
}

// NewHandler creates a new crosswalk handler.
func NewHandler(cw *Crosswalk) *Handler {
	return &Handler{cw: cw}
}

// RegisterRoutes registers crosswalk routes on the API group.
func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/crosswalk", h.Export)
	api.GET("/crosswalk/matches", h.Matches)
	api.GET("/crosswalk/variables/:variable", h.GetVariable)
}

type matchResponse struct {
	Label   string              `json:"label"`
	Matched bool                `json:"matched"`
	Matches []terminology.Match `json:"matches"`
}

// Export handles GET /api/v1/crosswalk
func (h *Handler) Export(c echo.Context) error {
	return c.JSON(http.StatusOK, h.cw.ExportFlatTable())
}

// Matches handles GET /api/v1/crosswalk/matches?label=a&label=b
func (h *Handler) Matches(c echo.Context) error {
	labels := c.QueryParams()["label"]
	if len(labels) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "label is required")
	}
	out := make([]matchResponse, 0, len(labels))
	for _, l := range labels {
		m := h.cw.GetMatches(l)
		if m == nil {
			m = []terminology.Match{}
		}
		out = append(out, matchResponse{Label: l, Matched: len(m) > 0, Matches: m})
	}
	return c.JSON(http.StatusOK, out)
}

// GetVariable handles GET /api/v1/crosswalk/variables/:variable
func (h *Handler) GetVariable(c echo.Context) error {
	e, ok := h.cw.Lookup(c.Param("variable"))
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "variable not mapped")
	}
	return c.JSON(http.StatusOK, e)
}
