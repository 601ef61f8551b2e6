package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"roomchat/internal/config"
	apphttp "roomchat/internal/http"
	"roomchat/internal/notify"
	"roomchat/internal/registry"
	"roomchat/internal/server"
	"roomchat/internal/ws"
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}

	if level, err := logrus.ParseLevel(cfg.Log.Level); err == nil {
		logger.SetLevel(level)
	}

	if strings.TrimSpace(cfg.Auth.JWTSecret) == "" {
		logger.Fatalf("auth jwt secret is required")
	}
	if strings.TrimSpace(cfg.Admin.Password) == "" {
		logger.Fatalf("admin password is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := registry.New(logger)
	hub := notify.NewHub(cfg.Limits.PushBuffer, logger)
	reg.SetNotifier(hub)

	rateLimit := server.RateLimitConfig{
		Burst:          cfg.RateLimit.Burst,
		RefillInterval: cfg.RefillInterval(),
	}

	chatSrv := server.New(server.Config{
		Addr:          cfg.Server.Addr,
		MaxFrameBytes: cfg.Limits.MaxFrameBytes,
		RateLimit:     rateLimit,
		Logger:        logger,
	}, reg, hub)

	if err := chatSrv.Start(ctx); err != nil {
		logger.Fatalf("start chat server: %v", err)
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	handler := apphttp.NewHandler(
		reg,
		hub,
		cfg.Admin.Username,
		cfg.Admin.Password,
		cfg.Auth.JWTSecret,
		cfg.TokenTTL(),
		logger,
	)
	handler.RegisterRoutes(router)

	gateway := ws.NewGateway(cfg.WS.AllowedOrigins, reg, hub, rateLimit, logger)
	router.GET("/ws", gateway.Handle)

	httpSrv := &http.Server{
		Addr:    cfg.HTTP.Addr,
		Handler: router,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(chatSrv.Serve)
	g.Go(func() error {
		logger.Infof("http listening on %s", cfg.HTTP.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	<-gctx.Done()
	logger.Info("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warnf("http shutdown: %v", err)
	}
	if err := chatSrv.Shutdown(10 * time.Second); err != nil {
		logger.Warnf("chat shutdown: %v", err)
	}
	if err := hub.Shutdown(5 * time.Second); err != nil {
		logger.Warnf("hub shutdown: %v", err)
	}

	if err := g.Wait(); err != nil {
		logger.Warnf("server error: %v", err)
	}
	logger.Info("bye")
}
