package server

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/mohammad-safakhou/roadbook/internal/search"
)

// DiagnoseHandler exposes raw retrieval for debugging index content and
// filters without paying for generation.
type DiagnoseHandler struct {
	Searcher search.Searcher
}

func (h *DiagnoseHandler) Register(g *echo.Group) {
	g.POST("/search", h.search)
}

func (h *DiagnoseHandler) search(c echo.Context) error {
	var req DiagnoseSearchRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Query == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "query is required")
	}
	filter := req.Filter
	if filter == "" && req.State != "" {
		filter = search.StateFilter(req.State)
	}
	hits, err := h.Searcher.Search(c.Request().Context(), search.Params{
		Query:  req.Query,
		Filter: filter,
		TopK:   req.TopK,
	})
	if err != nil {
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	}
	return c.JSON(http.StatusOK, DiagnoseSearchResponse{Filter: filter, Hits: hits})
}
