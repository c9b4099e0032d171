// Package server assembles the gin engine: middleware wiring, client API
// auth, and route mounting for both the Anthropic-compatible Messages API
// and the admin management API.
package server

import (
	"net/http"
	"time"

	"kiro-gateway/internal/adminauth"
	"kiro-gateway/internal/apikeys"
	"kiro-gateway/internal/config"
	"kiro-gateway/internal/credential"
	adminhandlers "kiro-gateway/internal/handlers/admin"
	apihandlers "kiro-gateway/internal/handlers/anthropic"
	mw "kiro-gateway/internal/middleware"
	"kiro-gateway/internal/requestlog"
	"kiro-gateway/internal/sticky"
	"kiro-gateway/internal/upstream"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Deps bundles every collaborator the HTTP surface needs.
type Deps struct {
	Config    *config.Config
	Tokens    *credential.Manager
	Registry  *credential.Registry
	Store     *credential.FileStore
	Sticky    *sticky.Tracker
	APIKeys   *apikeys.Store
	Executor  *upstream.Executor
	Requests  *requestlog.Buffer
	AdminCfg  *adminauth.Config
	Sessions  *adminauth.Sessions
	StartedAt time.Time
}

// Build constructs the gin engine: standard middleware, health/metrics
// probes, the client-facing Messages API (behind API key auth and
// permissive CORS), and the admin API (behind admin auth, no CORS).
func Build(cfg *config.Config, deps Deps) *gin.Engine {
	engine := gin.New()
	_ = engine.SetTrustedProxies(nil)
	engine.Use(mw.Recovery(), mw.RequestID(), mw.Metrics())
	if cfg.Logging.RequestLogEnabled {
		engine.Use(mw.RequestLogger())
	}

	engine.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusOK) })
	if cfg.Logging.MetricsEnabled {
		engine.GET("/metrics", gin.WrapH(promhttp.Handler()))
	}

	client := engine.Group("")
	client.Use(mw.CORS())
	client.Use(func(c *gin.Context) {
		// Cap client request bodies at 50 MiB; a larger body fails the read.
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, 50<<20)
		c.Next()
	})
	client.Use(mw.RequireAPIKey(deps.APIKeys))
	apihandlers.Register(client, apihandlers.Deps{
		Config:   cfg,
		Tokens:   deps.Tokens,
		Sticky:   deps.Sticky,
		APIKeys:  deps.APIKeys,
		Executor: deps.Executor,
		Requests: deps.Requests,
	})

	admin := engine.Group("/admin")
	adminhandlers.Register(admin, adminhandlers.Deps{
		Config:    cfg,
		Registry:  deps.Registry,
		Tokens:    deps.Tokens,
		Store:     deps.Store,
		APIKeys:   deps.APIKeys,
		Sticky:    deps.Sticky,
		Requests:  deps.Requests,
		AdminCfg:  deps.AdminCfg,
		Sessions:  deps.Sessions,
		StartedAt: deps.StartedAt,
	})

	return engine
}
