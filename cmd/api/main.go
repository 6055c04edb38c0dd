package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/v9"

	"roofline/internal/auth"
	"roofline/internal/config"
	"roofline/internal/dialer"
	"roofline/internal/httpapi"
	"roofline/internal/journal"
	"roofline/internal/tenant"
	"roofline/pkg/logger"
	"roofline/pkg/utils"
)

func main() {
	// Root context that cancels on shutdown
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env)
	slog.SetDefault(log)

	if cfg.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	authManager, err := auth.NewManager(cfg.Auth)
	if err != nil {
		log.Error("auth init failed", "err", err)
		os.Exit(1)
	}

	var rdb *redis.Client
	if cfg.UseRedis() {
		rdb, err = utils.OpenRedis(rootCtx, utils.RedisConfig{Addr: cfg.RedisAddr()})
		if err != nil {
			log.Error("redis init failed", "err", err)
			os.Exit(1)
		}
		defer rdb.Close()
	}

	var repo journal.Repo = journal.NewMemoryRepo()
	if cfg.UseJournalDB() {
		db, err := utils.OpenPostgres(rootCtx, "pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{})
		if err != nil {
			log.Error("postgres init failed", "err", err)
			os.Exit(1)
		}
		defer db.Close()
		repo = journal.NewPostgresRepo(db)
	}

	tenantStore := tenant.NewStore(rdb, log)

	dialerManager := dialer.NewManager(dialer.ManagerConfig{
		VoiceAgentBaseURL: cfg.Upstreams.VoiceAgentBaseURL,
		CallListBaseURL:   cfg.Upstreams.CallListBaseURL,
		ProjectsBaseURL:   cfg.Upstreams.ProjectsBaseURL,
		PollInterval:      cfg.Dialer.PollInterval,
		Rules: dialer.Rules{
			AdvanceDelay: cfg.Dialer.AdvanceDelay,
			SkipDelay:    cfg.Dialer.SkipDelay,
		},
	}, rdb, tenantStore, repo, log)
	defer dialerManager.CloseAll()

	// Gin router
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))

	registerRoutes(r, cfg, httpapi.Handlers{
		Auth:    authManager,
		Dialer:  dialerManager,
		Journal: repo,
		Tenants: tenantStore,
	}, auth.RequireAccessToken(authManager))

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("api listening", "addr", srv.Addr, "env", cfg.App.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "err", err)
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "err", err)
	}

	_ = logger.ShutdownFlush(shutdownCtx, 2*time.Second)
}
