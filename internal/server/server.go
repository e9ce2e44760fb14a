package server

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mohammad-safakhou/roadbook/config"
	"github.com/mohammad-safakhou/roadbook/internal/agent"
	"github.com/mohammad-safakhou/roadbook/internal/agent/telemetry"
	"github.com/mohammad-safakhou/roadbook/internal/cache"
	"github.com/mohammad-safakhou/roadbook/internal/indexer"
	"github.com/mohammad-safakhou/roadbook/internal/search"
	"github.com/mohammad-safakhou/roadbook/internal/store"
	"github.com/mohammad-safakhou/roadbook/provider"
)

// Run wires every dependency and serves the HTTP API until SIGINT/SIGTERM.
func Run(cfg *config.Config) error {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	// Unified HTTP error handler with structured JSON and logging
	baseLogger := log.New(log.Writer(), "[HTTP] ", log.LstdFlags)
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		code := http.StatusInternalServerError
		msg := err.Error()
		if he, ok := err.(*echo.HTTPError); ok {
			code = he.Code
			if he.Message != nil {
				msg = fmt.Sprint(he.Message)
			}
		}
		req := c.Request()
		baseLogger.Printf("%d %s %s from %s: %v", code, req.Method, req.URL.Path, c.RealIP(), err)
		if !c.Response().Committed {
			_ = c.JSON(code, map[string]interface{}{"error": msg})
		}
	}
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Cookie", "Authorization"},
		AllowCredentials: true,
	}))

	e.GET("/healthz", func(c echo.Context) error { return c.String(200, "ok") })
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	ctx := context.Background()

	dsn, err := cfg.Storage.Postgres.DSN()
	if err != nil {
		return err
	}
	if err := store.Migrate("file://migrations", dsn, "up", 0); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	st, err := store.New(ctx, cfg.Storage.Postgres)
	if err != nil {
		return err
	}
	defer st.Close()

	rdb, err := cache.Conn(ctx, cfg.Storage.Redis)
	if err != nil {
		return err
	}
	lockCache := cache.New(rdb, cfg.Cache.TTL)
	var askCache agent.AskCache
	if cfg.Cache.Enabled {
		askCache = lockCache
	}

	llm, err := provider.NewProvider(cfg.LLM)
	if err != nil {
		return err
	}
	searcher, err := search.NewSearcher(cfg.Search, llm)
	if err != nil {
		return err
	}
	tele := telemetry.NewTelemetry(cfg.Telemetry)
	defer tele.Shutdown()

	ag, err := agent.New(cfg, searcher, llm, askCache, tele)
	if err != nil {
		return err
	}

	if cfg.Server.JWTSecret == "" {
		return fmt.Errorf("jwt secret not configured (server.jwt_secret)")
	}
	auth := &AuthHandler{Store: st, Secret: []byte(cfg.Server.JWTSecret)}

	api := e.Group("/api")
	auth.Register(api.Group("/auth"))

	protected := api.Group("")
	protected.Use(AuthMiddleware(auth.Secret))

	ah := &AskHandler{Agent: ag, Store: st, Highlights: cfg.Server.Highlights}
	ah.Register(protected)

	th := &ThreadsHandler{Store: st}
	th.Register(protected.Group("/threads"))

	dh := &DiagnoseHandler{Searcher: searcher}
	dh.Register(protected.Group("/diagnose"))

	// background index refresh on a cron schedule
	if cfg.Indexer.ScheduleCron != "" {
		client := indexer.NewClient(cfg.Indexer, cfg.Search.Index)
		sched := indexer.NewScheduler(client, cfg.Indexer.ScheduleCron, lockCache, tele)
		sched.Start()
		defer close(sched.Stop)
	}

	addr := cfg.Server.Address
	if addr == "" {
		addr = ":10001"
	}

	// graceful shutdown on SIGINT/SIGTERM
	errCh := make(chan error, 1)
	go func() {
		log.Printf("listening on %s", addr)
		errCh <- e.Start(addr)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return err
	case sig := <-quit:
		baseLogger.Printf("received %s, shutting down", sig)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return e.Shutdown(shutdownCtx)
	}
}
