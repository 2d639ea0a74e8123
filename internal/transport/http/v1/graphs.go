package v1

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// ListGraphs lists the graph catalog.
// GET /v1/graphs
func (h *Handler) ListGraphs(c echo.Context) error {
	graphs := h.service.ListGraphs()
	list := make([]map[string]any, len(graphs))
	for i, g := range graphs {
		list[i] = map[string]any{
			"id":          g.ID,
			"name":        g.Name,
			"version":     g.Version,
			"description": g.Description,
			"nodes":       len(g.Nodes),
		}
	}
	return c.JSON(http.StatusOK, map[string]any{"graphs": list})
}

// GetGraph returns a catalog graph.
// GET /v1/graphs/:graph_id
func (h *Handler) GetGraph(c echo.Context) error {
	g, err := h.service.GetGraph(c.Param("graph_id"))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, g)
}
