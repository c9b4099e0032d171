// Command server is the gateway's entrypoint: it loads configuration, wires
// the Credential Registry/Token Manager, the Sticky Tracker, the API key
// store, and the HTTP engine, starts the background zombie/binding sweeper
// and the config/credentials file watchers, and serves until a shutdown
// signal arrives. The startup order is config -> logging -> tracing ->
// credential sources -> engine -> background tasks -> signal-driven
// graceful shutdown.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"kiro-gateway/internal/adminauth"
	"kiro-gateway/internal/apikeys"
	"kiro-gateway/internal/config"
	"kiro-gateway/internal/credential"
	"kiro-gateway/internal/httpclient"
	"kiro-gateway/internal/logging"
	mw "kiro-gateway/internal/middleware"
	tracing "kiro-gateway/internal/monitoring/tracing"
	"kiro-gateway/internal/requestlog"
	srv "kiro-gateway/internal/server"
	"kiro-gateway/internal/sticky"
	"kiro-gateway/internal/upstream"

	log "github.com/sirupsen/logrus"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.WithError(err).Fatal("failed to load configuration")
	}
	if err := logging.Setup(cfg); err != nil {
		log.WithError(err).Fatal("failed to configure logging")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	traceShutdown, err := tracing.Init(ctx)
	if err != nil {
		log.WithError(err).Warn("failed to initialize tracing")
	}
	if traceShutdown != nil {
		defer func() { _ = traceShutdown(context.Background()) }()
	}

	apiKeys, err := apikeys.Open(cfg.APIKeysDBPath())
	if err != nil {
		log.WithError(err).Fatal("failed to open api keys database")
	}
	defer apiKeys.Close()
	if err := migrateLegacyKeysFile(apiKeys, legacyKeysPath(cfg)); err != nil {
		log.WithError(err).Warn("legacy api key migration failed")
	}

	credStore := credential.NewFileStore(cfg.CredentialsPath())
	registry := credential.NewRegistry(func(credID string) {
		if n, err := apiKeys.ResetRoutingForCredential(credID); err == nil && n > 0 {
			log.WithField("credential_id", credID).WithField("keys_reset", n).
				Info("deleted credential unpinned from fixed-routing api keys")
		}
	})
	creds, err := credStore.Load()
	if err != nil {
		log.WithError(err).Warn("failed to load credentials file; starting with an empty registry")
	}
	registry.Load(creds)
	log.WithField("count", len(creds)).Info("credentials loaded")

	httpClient, err := httpclient.New(cfg)
	if err != nil {
		log.WithError(err).Fatal("failed to build upstream http client")
	}

	tokens := credential.NewManager(
		registry,
		time.Duration(cfg.Routing.RefreshAheadSeconds)*time.Second,
		cfg.Routing.ConsecutiveFailLimit,
		httpClient,
		credStore.Save(registry),
	)

	stickyParams := sticky.Params{
		MaxConcurrentPerCredential: cfg.Routing.MaxConcurrentPerCredential,
		MaxConcurrentPerKey:        cfg.Routing.MaxConcurrentPerKey,
		StickyExpiry:               cfg.StickyExpiry(),
		ZombieStreamTimeout:        cfg.ZombieStreamTimeout(),
	}
	stickyTracker := sticky.New(stickyParams)

	executor := upstream.NewExecutor(cfg, tokens)
	requests := requestlog.New(cfg.Logging.RequestLogEnabled)

	adminCfg, err := adminauth.NewConfig(cfg.Admin.APIKey, cfg.Admin.Username, cfg.Admin.Password)
	if err != nil {
		log.WithError(err).Fatal("failed to initialize admin auth")
	}
	sessions := adminauth.NewSessions()

	engine := srv.Build(cfg, srv.Deps{
		Config:    cfg,
		Tokens:    tokens,
		Registry:  registry,
		Store:     credStore,
		Sticky:    stickyTracker,
		APIKeys:   apiKeys,
		Executor:  executor,
		Requests:  requests,
		AdminCfg:  adminCfg,
		Sessions:  sessions,
		StartedAt: time.Now(),
	})

	credential.WatchFile(ctx, credStore, registry, cfg.CredentialsPath())
	config.Watch(ctx, cfg, *configPath)
	mw.SafeGoWithContext("zombie-sweep", func() { runZombieSweep(ctx, stickyTracker) })

	addr := cfg.Server.Host + ":" + portString(cfg.Server.Port)
	httpSrv := &http.Server{
		Addr:    addr,
		Handler: engine,
		// No ReadTimeout/WriteTimeout: SSE bodies are long-lived and the
		// zombie sweep is the backstop for dead streams.
	}

	go func() {
		log.WithField("addr", addr).Info("kiro-gateway listening")
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("server failed")
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Info("shutdown signal received")
	cancel()

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("graceful shutdown did not complete cleanly")
	}
	log.Info("server stopped")
}
