package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"

	"github.com/golang-migrate/migrate/v4"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mohammad-safakhou/vital/internal/config"
	"github.com/mohammad-safakhou/vital/internal/enrich"
	"github.com/mohammad-safakhou/vital/internal/knowledge"
	"github.com/mohammad-safakhou/vital/internal/pipeline"
	"github.com/mohammad-safakhou/vital/internal/provider"
	"github.com/mohammad-safakhou/vital/internal/session"
	"github.com/mohammad-safakhou/vital/internal/store"
	"github.com/mohammad-safakhou/vital/internal/telemetry"
)

// Run wires the full assistant and serves the HTTP API until the listener
// stops. addr overrides server.address when non-empty.
func Run(addr string) error {
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

	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}

	ctx := context.Background()
	dsn, err := cfg.Storage.Postgres.DSN()
	if err != nil {
		return err
	}
	if err := Migrate("file://migrations", dsn, "up", 0); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		baseLogger.Printf("migrations: %v", err)
	}

	tele := telemetry.NewTelemetry(cfg.Telemetry)
	pipe, st, err := NewPipeline(ctx, cfg, tele)
	if err != nil {
		return err
	}

	secret := cfg.Server.JWTSecret
	if secret == "" {
		return fmt.Errorf("jwt secret not configured (server.jwt_secret or JWT_SECRET)")
	}
	auth, err := initAuth(ctx, st, []byte(secret))
	if err != nil {
		return err
	}

	api := e.Group("/api")
	auth.Register(api.Group("/auth"))

	me := api.Group("/me")
	me.Use(func(next echo.HandlerFunc) echo.HandlerFunc { return withAuth(next, auth.Secret) })
	me.GET("", func(c echo.Context) error {
		return c.JSON(200, MeResponse{UserID: c.Get("user_id").(string)})
	})

	th := &TurnsHandler{Pipeline: pipe}
	th.Register(api.Group("/turn"), auth.Secret)

	ph := &ProfileHandler{Store: st}
	ph.Register(api.Group("/profile"), auth.Secret)

	oh := &OpsHandler{Telemetry: tele}
	oh.Register(api.Group("/ops"), auth.Secret)

	if addr == "" {
		addr = cfg.Server.Address
		if addr != "" && addr[0] != ':' {
			addr = ":" + addr
		}
		if addr == "" {
			addr = ":8080"
		}
	}
	log.Printf("listening on %s", addr)
	return e.Start(addr)
}

// NewPipeline builds the full turn pipeline and its backing store from
// configuration. Redis is optional; sessions fall back to memory.
func NewPipeline(ctx context.Context, cfg *config.Config, tele *telemetry.Telemetry) (*pipeline.Pipeline, *store.Store, error) {
	logger := log.New(log.Writer(), "[PIPELINE] ", log.LstdFlags)

	dsn, err := cfg.Storage.Postgres.DSN()
	if err != nil {
		return nil, nil, err
	}
	st, err := store.NewWithDSN(ctx, dsn)
	if err != nil {
		return nil, nil, err
	}

	completion, err := provider.NewCompletionClient(cfg.LLM, tele)
	if err != nil {
		return nil, nil, err
	}
	var embeddings pipeline.EmbeddingClient
	if ec, ok := completion.(pipeline.EmbeddingClient); ok {
		embeddings = ec
	}

	var kn pipeline.KnowledgeClient
	if cfg.Knowledge.APIKey != "" {
		kn = knowledge.New(cfg.Knowledge)
	} else {
		logger.Printf("knowledge api key not configured, factual retrieval disabled")
	}

	// Session window lives in Redis; the in-memory store covers setups
	// without one.
	var sessions pipeline.SessionStore
	if rdb, err := session.Conn(ctx, cfg.Storage.Redis); err != nil {
		logger.Printf("redis unavailable (%v), using in-memory sessions", err)
		sessions = session.NewMemoryStore(0)
	} else {
		sessions = session.NewRedisStore(rdb, 0, cfg.Pipeline.SessionTTL)
	}

	pipe, err := pipeline.New(cfg, logger, tele, pipeline.Deps{
		Completion: completion,
		Embeddings: embeddings,
		Vectors:    st,
		Store:      st,
		Knowledge:  kn,
		Enricher:   enrich.New(completion, cfg.LLM.Routing),
		Sessions:   sessions,
	})
	if err != nil {
		return nil, nil, err
	}
	return pipe, st, nil
}
