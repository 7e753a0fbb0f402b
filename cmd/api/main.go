package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/thejerf/suture/v4"
	"github.com/thejerf/sutureslog"

	"github.com/emilythestrangee/updown/backend/internal/comments"
	"github.com/emilythestrangee/updown/backend/internal/config"
	"github.com/emilythestrangee/updown/backend/internal/counters"
	"github.com/emilythestrangee/updown/backend/internal/database"
	"github.com/emilythestrangee/updown/backend/internal/debates"
	"github.com/emilythestrangee/updown/backend/internal/handlers"
	"github.com/emilythestrangee/updown/backend/internal/identity"
	"github.com/emilythestrangee/updown/backend/internal/jobs"
	"github.com/emilythestrangee/updown/backend/internal/keywords"
	"github.com/emilythestrangee/updown/backend/internal/logging"
	"github.com/emilythestrangee/updown/backend/internal/ranking"
	"github.com/emilythestrangee/updown/backend/internal/server"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := run(); err != nil {
		logging.Error().Err(err).Msg("server exited")
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logging.Init(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.New(cfg.DB)
	if err != nil {
		return err
	}
	defer db.Close()
	repo := database.NewRepository(db.GetDB())

	kv, err := counters.Open(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	defer kv.Close()

	hasher, err := identity.NewHasher(cfg.Identity.Secret)
	if err != nil {
		return err
	}
	guard := counters.NewGuard("keyed-store", cfg.Breaker)

	debateSvc := debates.NewService(repo, kv, guard)
	commentSvc := comments.NewService(repo, kv, guard)
	keywordSvc := keywords.NewService(kv)

	if n, err := debateSvc.WarmIndex(ctx); err != nil {
		logging.Warn().Err(err).Msg("failed to warm ranking index")
	} else if n > 0 {
		logging.Info().Int("added", n).Msg("ranking index warmed")
	}

	reconciler := jobs.NewReconciler(repo, kv, ranking.NewIndex(kv), keywordSvc)
	scheduler := jobs.NewScheduler(jobs.RetryPolicy{
		Attempts:  cfg.Jobs.RetryAttempts,
		BaseDelay: cfg.Jobs.RetryBaseDelay,
	}, reconciler.Jobs()...)

	h := handlers.NewHandler(debateSvc, commentSvc, keywordSvc, hasher)
	srv := server.New(cfg.Server, h, map[string]server.HealthCheck{
		"database": db.Health,
		"redis": func(ctx context.Context) map[string]string {
			if err := kv.Ping(ctx); err != nil {
				return map[string]string{"status": "down", "error": err.Error()}
			}
			return map[string]string{"status": "up"}
		},
	})

	sup := suture.New("updown", suture.Spec{
		EventHook:        (&sutureslog.Handler{Logger: logging.NewSlogLogger()}).MustHook(),
		FailureThreshold: 5,
		FailureDecay:     30,
		FailureBackoff:   15 * time.Second,
		Timeout:          shutdownTimeout,
	})
	sup.Add(scheduler)
	sup.Add(server.NewService(srv.HTTPServer(), shutdownTimeout))

	logging.Info().Str("port", cfg.Server.Port).Str("environment", cfg.Server.Environment).Msg("starting")
	if err := sup.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logging.Info().Msg("shut down")
	return nil
}
