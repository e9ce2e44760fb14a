package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/mohammad-safakhou/roadbook/internal/agent"
	"github.com/mohammad-safakhou/roadbook/internal/agent/core"
	"github.com/mohammad-safakhou/roadbook/internal/highlight"
	"github.com/mohammad-safakhou/roadbook/internal/store"
)

// historyWindow is how many prior messages feed a follow-up question.
const historyWindow = 10

type AskHandler struct {
	Agent      *agent.Agent
	Store      *store.Store
	Highlights bool

	logger *log.Logger
}

func (h *AskHandler) Register(g *echo.Group) {
	h.logger = log.New(log.Writer(), "[HTTP] ", log.LstdFlags)
	g.POST("/ask", h.ask)
	g.GET("/asks/recent", h.recent)
}

func (h *AskHandler) ask(c echo.Context) error {
	var req AskAPIRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	uid := userID(c)
	ctx := c.Request().Context()

	askReq := core.AskRequest{
		Query:         req.Query,
		StateHint:     req.StateHint,
		ThreadID:      req.ThreadID,
		TopK:          req.TopK,
		DisableImages: req.DisableImages,
	}

	if req.ThreadID != "" {
		thread, err := h.Store.GetThread(ctx, req.ThreadID, uid)
		if err != nil {
			return echo.NewHTTPError(http.StatusNotFound, "thread not found")
		}
		if askReq.StateHint == "" {
			askReq.StateHint = thread.StateHint
		}
		history, err := h.Store.ListMessages(ctx, req.ThreadID, historyWindow)
		if err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
		askReq.History = history
	}

	if req.Stream {
		return h.askStream(c, uid, askReq)
	}
	res, err := h.Agent.Ask(ctx, askReq)
	if err != nil {
		return askError(err)
	}
	h.persist(c, uid, askReq, res)
	return c.JSON(http.StatusOK, h.toResponse(res))
}

// askStream answers over SSE: one "delta" event per generated fragment,
// then a final "result" event with the full response. Cache hits skip
// straight to the result event.
func (h *AskHandler) askStream(c echo.Context, uid string, askReq core.AskRequest) error {
	resp := c.Response()
	resp.Header().Set(echo.HeaderContentType, "text/event-stream")
	resp.Header().Set("Cache-Control", "no-cache")
	resp.Header().Set("Connection", "keep-alive")
	resp.WriteHeader(http.StatusOK)

	flusher, ok := resp.Writer.(http.Flusher)
	if !ok {
		return echo.NewHTTPError(http.StatusInternalServerError, "streaming unsupported")
	}

	res, err := h.Agent.AskStream(c.Request().Context(), askReq, func(delta string) {
		payload, _ := json.Marshal(map[string]string{"delta": delta})
		fmt.Fprintf(resp, "event: delta\ndata: %s\n\n", payload)
		flusher.Flush()
	})
	if err != nil {
		payload, _ := json.Marshal(map[string]string{"error": err.Error()})
		fmt.Fprintf(resp, "event: error\ndata: %s\n\n", payload)
		flusher.Flush()
		return nil
	}
	h.persist(c, uid, askReq, res)

	payload, _ := json.Marshal(h.toResponse(res))
	fmt.Fprintf(resp, "event: result\ndata: %s\n\n", payload)
	flusher.Flush()
	return nil
}

// persist records the ask and, when attached to a thread, appends the
// question/answer turns. Persistence failures are logged, not returned:
// the answer is already produced.
func (h *AskHandler) persist(c echo.Context, uid string, askReq core.AskRequest, res core.AskResult) {
	ctx := c.Request().Context()
	if err := h.Store.RecordAsk(ctx, uid, askReq.ThreadID, res); err != nil {
		h.logger.Printf("record ask %s: %v", res.ID, err)
	}
	if askReq.ThreadID == "" {
		return
	}
	if err := h.Store.AppendMessage(ctx, askReq.ThreadID, "user", askReq.Query); err != nil {
		h.logger.Printf("append user message: %v", err)
		return
	}
	if err := h.Store.AppendMessage(ctx, askReq.ThreadID, "assistant", res.Response.Text); err != nil {
		h.logger.Printf("append assistant message: %v", err)
	}
}

func (h *AskHandler) toResponse(res core.AskResult) AskAPIResponse {
	out := AskAPIResponse{
		ID:         res.ID,
		Answer:     res.Response.Text,
		Citations:  res.Response.Citations,
		Images:     res.Response.Images,
		Model:      res.Model,
		TokensUsed: res.TokensUsed,
		Cost:       res.Cost,
		CacheHit:   res.CacheHit,
		ElapsedMS:  res.Elapsed.Milliseconds(),
	}
	if h.Highlights && len(res.Hits) > 0 {
		snippets, err := highlight.Snippets(res.Query, res.Hits, 3)
		if err != nil {
			h.logger.Printf("highlight %s: %v", res.ID, err)
		} else {
			out.Highlights = snippets
		}
	}
	return out
}

func (h *AskHandler) recent(c echo.Context) error {
	limit := 20
	if raw := c.QueryParam("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 100 {
			limit = n
		}
	}
	records, err := h.Store.RecentAsks(c.Request().Context(), userID(c), limit)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, records)
}

func askError(err error) error {
	switch {
	case errors.Is(err, core.ErrInvalidQuery):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, core.ErrRetrieval), errors.Is(err, core.ErrGeneration):
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}
