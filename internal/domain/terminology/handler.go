package terminology

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// Handler exposes a read-only view of a study's registry.
type Handler struct {
	reg *Registry
}

// NewHandler creates a new terminology handler.
func NewHandler(reg *Registry) *Handler {
	return &Handler{reg: reg}
}

// RegisterRoutes registers terminology routes on the API group.
func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/terminology", h.ListSystems)
	api.GET("/terminology/:system", h.DumpSystem)
	api.GET("/terminology/:system/:code", h.LookupCode)
}

type systemSummary struct {
	System  System `json:"system"`
	URI     string `json:"uri"`
	Entries int    `json:"entries"`
}

// ListSystems handles GET /api/v1/terminology
func (h *Handler) ListSystems(c echo.Context) error {
	out := make([]systemSummary, 0)
	for _, s := range h.reg.Systems() {
		out = append(out, systemSummary{System: s, URI: s.URI(), Entries: h.reg.Len(s)})
	}
	return c.JSON(http.StatusOK, out)
}

// DumpSystem handles GET /api/v1/terminology/:system
func (h *Handler) DumpSystem(c echo.Context) error {
	sys, err := ParseSystem(c.Param("system"))
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	return c.JSON(http.StatusOK, h.reg.Dump(sys))
}

// LookupCode handles GET /api/v1/terminology/:system/:code
func (h *Handler) LookupCode(c echo.Context) error {
	sys, err := ParseSystem(c.Param("system"))
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	entry, ok := h.reg.Lookup(sys, c.Param("code"))
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "code not registered")
	}
	return c.JSON(http.StatusOK, entry)
}
