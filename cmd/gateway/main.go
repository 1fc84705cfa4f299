package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"mealdesk.org/internal/access"
	"mealdesk.org/internal/backend"
	"mealdesk.org/internal/config"
	"mealdesk.org/internal/httpapi"
	"mealdesk.org/internal/obs"
	"mealdesk.org/internal/panel"
	"mealdesk.org/internal/route"
	"mealdesk.org/internal/session"
	"mealdesk.org/internal/token"
)

var (
	version = "0.3.1"
	commit  = "dev"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger := obs.Logger()
		logger.Fatal().Err(err).Msg("load config")
	}
	log := obs.InitLogger(os.Stdout, cfg.LogLevel)
	obs.Init()
	obs.InitBuildInfo(version, commit)

	codec, err := token.NewClient(cfg.BackendBaseURL, cfg.BackendTimeout)
	if err != nil {
		log.Fatal().Err(err).Msg("token client")
	}
	verifier, err := session.NewClient(cfg.BackendBaseURL, cfg.BackendTimeout)
	if err != nil {
		log.Fatal().Err(err).Msg("session client")
	}
	api, err := backend.NewClient(cfg.BackendBaseURL, cfg.BackendTimeout)
	if err != nil {
		log.Fatal().Err(err).Msg("backend client")
	}

	gate := access.New(
		route.NewParser(codec),
		verifier,
		access.WithLoginPath(cfg.LoginPath),
		access.WithDenyDelay(cfg.DenyRedirectDelay),
		access.WithLogger(log),
	)

	app := httpapi.New(httpapi.Options{
		Version:            version,
		Gate:               gate,
		Panels:             panel.NewRouter(api),
		Builder:            route.NewBuilder(codec),
		Verifier:           verifier,
		ReadyProbe:         httpapi.ReadyProbe{BackendURL: cfg.BackendBaseURL},
		LoginPath:          cfg.LoginPath,
		RateLimitPerSecond: cfg.RateLimitPerSecond,
		RateLimitBurst:     cfg.RateLimitBurst,
		MaxBodyBytes:       cfg.MaxBodyBytes,
	})

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           app.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Info().Str("addr", cfg.Addr).Str("version", version).Msg("starting mealdesk-gateway")

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("listen")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Info().Msg("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctx)
	log.Info().Msg("stopped")
}
