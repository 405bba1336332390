package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sourcegraph/conc"

	"github.com/nkiryanov/parcelguard/internal/db"
	"github.com/nkiryanov/parcelguard/internal/handlers"
	"github.com/nkiryanov/parcelguard/internal/logger"
	"github.com/nkiryanov/parcelguard/internal/metrics"
	"github.com/nkiryanov/parcelguard/internal/repository"
	"github.com/nkiryanov/parcelguard/internal/repository/memory"
	"github.com/nkiryanov/parcelguard/internal/repository/postgres"
	"github.com/nkiryanov/parcelguard/internal/service/actor"
	"github.com/nkiryanov/parcelguard/internal/service/audit"
	"github.com/nkiryanov/parcelguard/internal/service/issuer"
	"github.com/nkiryanov/parcelguard/internal/service/qrimage"
	"github.com/nkiryanov/parcelguard/internal/service/registry"
	"github.com/nkiryanov/parcelguard/internal/service/revocation"
	"github.com/nkiryanov/parcelguard/internal/service/risk"
	"github.com/nkiryanov/parcelguard/internal/service/signer"
	"github.com/nkiryanov/parcelguard/internal/service/verifier"
)

const (
	// HKDF info of the key checking actor access tokens
	actorKeyInfo = "parcelguard/actor-jwt/v1"

	maxTemporaryValidity = 7 * 24 * time.Hour
	shutdownTimeout      = 5 * time.Second
)

type ServerApp struct {
	ListenAddr string
	Handler    http.Handler

	sweeper *revocation.Sweeper
	audit   *audit.Dispatcher
	logger  logger.Logger
	closers []func()
}

func NewServerApp(ctx context.Context, c *Config) (app *ServerApp, err error) {
	// Initialize logger
	logger, err := logger.New(c.Environment, c.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("error while initializing logger: %w", err)
	}

	if c.TemporaryValidity <= 0 || c.TemporaryValidity > maxTemporaryValidity {
		return nil, fmt.Errorf("temporary validity must be in (0, %s], got %s", maxTemporaryValidity, c.TemporaryValidity)
	}

	codeSigner, err := signer.New(c.SecretKey)
	if err != nil {
		return nil, fmt.Errorf("error while creating signer. Err: %w", err)
	}
	actorKey, err := signer.DeriveKey(c.SecretKey, actorKeyInfo)
	if err != nil {
		return nil, err
	}
	actors, err := actor.New(actor.Config{SecretKey: string(actorKey)})
	if err != nil {
		return nil, fmt.Errorf("error while creating actor token manager. Err: %w", err)
	}

	app = &ServerApp{ListenAddr: c.ListenAddr, logger: logger}
	defer func() {
		if err != nil {
			app.Close()
		}
	}()

	// Connect to the database and run migrations
	var storage repository.Storage
	if c.DatabaseDSN == "" {
		logger.Warn("Database is not configured, tokens are kept in memory")
		storage = memory.NewStorage()
	} else {
		pool, err := db.ConnectAndMigrate(ctx, c.DatabaseDSN)
		if err != nil {
			return nil, fmt.Errorf("error while connecting to db. Err: %w", err)
		}
		app.closers = append(app.closers, pool.Close)
		storage = postgres.NewStorage(pool)
	}

	// Risk scoring is informational, so the app starts without redis
	var scorer verifier.RiskScorer = risk.Noop{}
	if c.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: c.RedisAddr})
		app.closers = append(app.closers, func() { _ = client.Close() })

		if err := client.Ping(ctx).Err(); err != nil {
			logger.Warn("Redis is not reachable, risk is reported low until it is back", "error", err)
		}
		scorer = risk.NewRedisWindow(client, risk.Config{})
	}

	m := metrics.New()
	registryClient := registry.NewClient(c.RegistryAddr, logger)
	app.audit = audit.New(audit.Config{}, registryClient, m, logger)

	revocationManager := revocation.New(revocation.Config{}, storage, m, logger)
	app.sweeper = revocation.NewSweeper(c.SweepInterval, revocationManager, logger)

	app.Handler = handlers.NewRouter(
		handlers.Config{StoreTimeout: c.StoreTimeout, SweepTimeout: c.SweepTimeout, Metrics: m.Handler()},
		handlers.Services{
			Issuer: issuer.New(issuer.Config{DefaultValidity: c.TemporaryValidity, MaxValidity: maxTemporaryValidity}, storage, codeSigner, m, logger),
			Verifier: verifier.New(verifier.Config{
				Subjects: registryClient,
				Risk:     scorer,
				Audit:    app.audit,
			}, storage, codeSigner, m, logger),
			Revoker:  revocationManager,
			Subjects: registryClient,
			Renderer: qrimage.New(0),
			Actors:   actors,
		},
		logger,
	)

	return app, nil
}

// Run starts http server with background workers and stops them gracefully on context cancellation
func (s *ServerApp) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	wg := conc.NewWaitGroup()
	wg.Go(func() { <-s.sweeper.Run(ctx) })
	wg.Go(func() { <-s.audit.Run(ctx) })

	err := s.serve(ctx)

	// Server is down, stop workers too
	cancel()
	wg.Wait()
	s.logger.Info("Background workers stopped")

	return err
}

// Close releases connections opened by NewServerApp
func (s *ServerApp) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
	s.closers = nil
}

func (s *ServerApp) serve(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:              s.ListenAddr,
		Handler:           s.Handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	idleConnsClosed := make(chan struct{})
	srvCtx, srvCtxCancel := context.WithCancel(ctx)
	defer srvCtxCancel()

	go func() {
		<-srvCtx.Done()

		timeoutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := httpServer.Shutdown(timeoutCtx); errors.Is(err, context.DeadlineExceeded) {
			s.logger.Error("HTTP server shutdown timeout exceeded, forcing shutdown...")
		}
		s.logger.Info("HTTP server stopped")
		close(idleConnsClosed)
	}()

	// Listen and serve until context is cancelled; then close gracefully connections
	s.logger.Info("Starting server", "address", s.ListenAddr)
	err := httpServer.ListenAndServe()
	srvCtxCancel()
	<-idleConnsClosed

	return err
}
