package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/multierr"

	"github.com/aksihijau/service-core/internal/auth"
	"github.com/aksihijau/service-core/internal/config"
	"github.com/aksihijau/service-core/internal/metrics"
	"github.com/aksihijau/service-core/internal/router"
	"github.com/aksihijau/service-core/internal/user"
	userrepo "github.com/aksihijau/service-core/internal/user/repo"
	"github.com/aksihijau/service-core/pkg/database"
	"github.com/aksihijau/service-core/pkg/utilities"
)

func main() {
	// load .env file if present so os.Getenv picks values from it
	// this is best-effort: if no .env exists, continue (use defaults or real env)
	_ = godotenv.Load()

	// init logger
	lg, err := utilities.Init(utilities.ConfigFromEnv())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to init logger: %v\n", err)
		os.Exit(1)
	}
	sugar := lg.Sugar()

	cfg, err := config.Load()
	if err != nil {
		sugar.Fatalf("config: %v", err)
	}
	sugar.Infow("starting aksihijau service-core", "env", cfg.Env, "addr", cfg.HTTPAddr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// init db
	db, err := database.Connect(ctx, cfg.Database)
	if err != nil {
		sugar.Fatalf("db connect: %v", err)
	}

	repo := userrepo.NewUserRepo(db)
	if cfg.EnsureSchema {
		if err := repo.EnsureSchema(ctx); err != nil {
			sugar.Fatalf("ensure schema: %v", err)
		}
		sugar.Info("schema ensured")
	}

	ids, err := utilities.NewIDGenerator(cfg.SnowflakeNode)
	if err != nil {
		sugar.Fatalf("id generator: %v", err)
	}

	m := metrics.New()
	m.WatchDB(db.DB, "aksihijau")

	tokens := auth.NewTokenManager(cfg.JWTSecret, cfg.JWTIssuer, cfg.TokenTTL, nil)
	svc := user.NewService(
		repo,
		user.NewBcryptHasher(cfg.BcryptCost, cfg.HashConcurrency),
		tokens,
		ids,
		user.Options{Cooldown: cfg.ProfileCooldown, Logger: sugar.Named("user")},
	)

	handler := router.New(router.Deps{
		Logger:         sugar.Named("http"),
		Users:          user.NewHandler(svc, sugar.Named("user"), m, cfg.ExposeErrorDetails),
		Guard:          auth.NewGuard(tokens, sugar.Named("auth")),
		Metrics:        m,
		AllowedOrigins: cfg.CORSAllowedOrigins,
	})
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// run server in background
	serveErr := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	sugar.Info("service is running; press Ctrl+C to stop")

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			sugar.Errorf("http server failed: %v", err)
		}
	}

	sugar.Info("shutting down")

	// give a short grace period for in-flight requests
	doneCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	shutdownErr := multierr.Combine(
		srv.Shutdown(doneCtx),
		db.Close(),
	)
	if shutdownErr != nil {
		sugar.Warnw("shutdown finished with errors", "errors", multierr.Errors(shutdownErr))
	}

	sugar.Info("goodbye")
	_ = lg.Sync()
}
