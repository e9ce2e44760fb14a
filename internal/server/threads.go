package server

import (
	"database/sql"
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/mohammad-safakhou/roadbook/internal/store"
)

type ThreadsHandler struct {
	Store *store.Store
}

func (h *ThreadsHandler) Register(g *echo.Group) {
	g.POST("", h.create)
	g.GET("", h.list)
	g.GET("/:id", h.get)
	g.PUT("/:id/state", h.updateState)
	g.DELETE("/:id", h.delete)
	g.GET("/:id/messages", h.messages)
}

func (h *ThreadsHandler) create(c echo.Context) error {
	var req CreateThreadRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Title == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "title is required")
	}
	id, err := h.Store.CreateThread(c.Request().Context(), userID(c), req.Title, req.StateHint)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusCreated, IDResponse{ID: id})
}

func (h *ThreadsHandler) list(c echo.Context) error {
	threads, err := h.Store.ListThreads(c.Request().Context(), userID(c))
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, threads)
}

func (h *ThreadsHandler) get(c echo.Context) error {
	thread, err := h.Store.GetThread(c.Request().Context(), c.Param("id"), userID(c))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return echo.NewHTTPError(http.StatusNotFound, "thread not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, thread)
}

func (h *ThreadsHandler) updateState(c echo.Context) error {
	var req UpdateThreadRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	err := h.Store.UpdateThreadState(c.Request().Context(), c.Param("id"), userID(c), req.StateHint)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return echo.NewHTTPError(http.StatusNotFound, "thread not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.NoContent(http.StatusOK)
}

func (h *ThreadsHandler) delete(c echo.Context) error {
	err := h.Store.DeleteThread(c.Request().Context(), c.Param("id"), userID(c))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return echo.NewHTTPError(http.StatusNotFound, "thread not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *ThreadsHandler) messages(c echo.Context) error {
	// ownership check before touching messages
	if _, err := h.Store.GetThread(c.Request().Context(), c.Param("id"), userID(c)); err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "thread not found")
	}
	limit := 50
	if raw := c.QueryParam("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 200 {
			limit = n
		}
	}
	msgs, err := h.Store.ListMessages(c.Request().Context(), c.Param("id"), limit)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, msgs)
}
