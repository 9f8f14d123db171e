// README: Entry point; loads config, wires services, starts HTTP server and the expiry scheduler.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"

	"zerowaste/internal/app"
	"zerowaste/internal/config"
	httptransport "zerowaste/internal/http"
	"zerowaste/internal/infra"
	"zerowaste/internal/modules/expiry"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}
	logger := infra.NewLogger(os.Stdout, cfg.IsProduction(), cfg.LogLevel)
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("startup failed", "err", err)
		os.Exit(1)
	}
	defer func() {
		if err := a.Close(); err != nil {
			logger.Warn("shutdown", "err", err)
		}
	}()

	router := httptransport.NewRouter(httptransport.RouterDeps{
		Verifier:      a.Verifier,
		Roles:         a.Users,
		Users:         a.Users,
		Categories:    a.Categories,
		Donations:     a.Donations,
		Requests:      a.Requests,
		Matches:       a.Matching,
		Sweeper:       a.Expiry,
		Notifications: a.Hub,
		Logger:        logger,
	}, httptransport.RouterOptions{
		AllowedOrigins: cfg.HTTP.AllowedOrigins,
		RatePerSecond:  cfg.HTTP.RatePerSecond,
		RateBurst:      cfg.HTTP.RateBurst,
		AlertThreshold: cfg.Sweep.AlertThreshold,
	})
	server := httptransport.NewServer(cfg.HTTP.Addr, router)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("http server listening", "addr", cfg.HTTP.Addr)
		return httptransport.Serve(gctx, server)
	})
	g.Go(func() error {
		a.Expiry.Run(gctx, expiry.TickerClock{Interval: cfg.Sweep.Interval, RunAtStart: cfg.Sweep.RunAtStart})
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("server stopped", "err", err)
		os.Exit(1)
	}
	logger.Info("server stopped")
}
