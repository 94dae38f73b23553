package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/xtrntr/tradingplatform/internal/api"
	"github.com/xtrntr/tradingplatform/internal/auth"
	"github.com/xtrntr/tradingplatform/internal/config"
	"github.com/xtrntr/tradingplatform/internal/db"
	"github.com/xtrntr/tradingplatform/internal/ledger"
	"github.com/xtrntr/tradingplatform/internal/logger"
	"github.com/xtrntr/tradingplatform/internal/metrics"
	"github.com/xtrntr/tradingplatform/internal/platform"
	"github.com/xtrntr/tradingplatform/internal/stream"
)

// Main entry point: loads config, restores or starts the engine and serves HTTP
func main() {
	cfg, err := config.Load(".env")
	if err != nil {
		logger.NewLogger("tradingplatform", "info").Entry().WithError(err).Fatal("Invalid configuration")
	}
	log := logger.NewLogger("tradingplatform", cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.NewMetrics(reg)

	platformCfg, err := cfg.Platform()
	if err != nil {
		log.Entry().WithError(err).Fatal("Invalid platform configuration")
	}
	admins := auth.NewAdminSet(cfg.Admins()...)
	opts := []platform.Option{platform.WithPricing(cfg.Pricing())}
	book := ledger.NewMemory()

	var (
		database *db.DB
		store    auth.UserStore
	)
	if cfg.Persistence {
		database, err = db.NewDB(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Entry().WithError(err).Fatal("Failed to connect to database")
		}
		defer database.Close()
		store = database
	} else {
		log.Entry().Warn("Persistence disabled, accounts and state are lost on restart")
		store = newMemoryStore()
	}

	engine, err := startEngine(ctx, log, database, platformCfg, book, admins, opts)
	if err != nil {
		log.Entry().WithError(err).Fatal("Failed to start engine")
	}
	m.ObserveRound(engine.Round())

	authService := auth.NewAuthService(store, cfg.JWTSecret, cfg.JWTTTL)
	hub := stream.NewHub(log.Entry().WithField("component", "stream"), func() stream.Message {
		return stream.Message{Type: "round", Data: engine.Round()}
	})

	handler := api.NewHandler(engine, authService, log)
	handler.Admins = admins
	handler.Hub = hub
	handler.Metrics = m
	handler.SignupGrant = cfg.SignupGrant()
	if database != nil {
		handler.Journal = database
	}

	router := api.NewRouter(handler, hub, m.Handler())

	// Periodic round broadcast
	go func() {
		ticker := time.NewTicker(cfg.BroadcastInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				round := engine.Round()
				m.ObserveRound(round)
				hub.Broadcast(stream.Message{Type: "round", Data: round})
			}
		}
	}()

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	log.Entry().WithField("port", cfg.HTTPPort).Info("Starting server")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Entry().WithError(err).Fatal("Server failed")
	}
}

// startEngine restores the latest snapshot when one is stored, otherwise opens round 1
func startEngine(ctx context.Context, log *logger.Logger, database *db.DB, cfg platform.Config, l *ledger.Memory, admins auth.AdminSet, opts []platform.Option) (*platform.Engine, error) {
	if database != nil {
		snap, err := database.LatestSnapshot(ctx)
		if err != nil {
			return nil, err
		}
		if snap != nil {
			engine, err := platform.Restore(*snap, cfg, l, admins, opts...)
			if err != nil {
				return nil, err
			}
			if err := engine.Audit(); err != nil {
				return nil, err
			}
			round := engine.Round()
			log.Entry().WithField("round", round.RoundNumber).WithField("state", round.State.String()).WithField("seq", snap.Seq).Info("Restored engine from snapshot")
			return engine, nil
		}
	}

	engine, events, err := platform.New(cfg, l, admins, opts...)
	if err != nil {
		return nil, err
	}
	if database != nil {
		if err := database.Record(ctx, events, engine.Snapshot()); err != nil {
			return nil, err
		}
	}
	log.Entry().WithField("price", cfg.InitialPrice.String()).WithField("supply", cfg.InitialSupply.String()).Info("Started first sale round")
	return engine, nil
}
