package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/petotech/judge-backend/internal/config"
	"github.com/petotech/judge-backend/internal/httpapi"
	"github.com/petotech/judge-backend/internal/hub"
	"github.com/petotech/judge-backend/internal/judging"
	"github.com/petotech/judge-backend/internal/store"
)

func main() {
	envFile := ""
	if len(os.Args) > 1 {
		envFile = os.Args[1]
	}

	cfg, err := config.Load(envFile)
	if err != nil {
		log.Fatal(err)
	}

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatal(err)
	}
	defer func() { _ = logger.Sync() }()

	st, err := store.Open(cfg.DatabaseDSN)
	if err != nil {
		logger.Fatal("store init failed", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rules := judging.Rules{
		SeatCount:      cfg.SeatCount,
		IncidentQuorum: cfg.IncidentQuorum,
	}
	h := hub.NewHub(ctx, rules, st, logger)

	handler := httpapi.SetupRoutes(httpapi.Deps{
		Hub:           h,
		Store:         st,
		JWTSecret:     cfg.JWTSecret,
		SessionTTL:    cfg.SessionTTL,
		WSReadTimeout: cfg.WSReadTimeout,
		Logger:        logger,
	})

	server := &http.Server{Addr: cfg.ListenAddr, Handler: handler}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("listening", zap.String("addr", cfg.ListenAddr))
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		h.Inbox() <- hub.ShutdownHub{}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Fatal("server exited", zap.Error(err))
	}
}
