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

	"github.com/agjmills/swapshelf/internal/auth"
	"github.com/agjmills/swapshelf/internal/config"
	"github.com/agjmills/swapshelf/internal/database"
	"github.com/agjmills/swapshelf/internal/email"
	"github.com/agjmills/swapshelf/internal/logger"
	"github.com/agjmills/swapshelf/internal/routes"
	"github.com/agjmills/swapshelf/internal/service"
	"github.com/agjmills/swapshelf/internal/storage"
	"github.com/alexedwards/scs/v2"
	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"gorm.io/gorm"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

const shutdownTimeout = 30 * time.Second

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func versionInfo() string {
	return fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date)
}

// env is what every command needs: configuration, logging and a migrated
// database. The caller must defer Close.
type env struct {
	cfg *config.Config
	db  *gorm.DB
	rdb redis.UniversalClient
}

func newEnv() (*env, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("loading configuration: %w", err)
	}
	logger.Init(cfg.Env)

	db, err := database.Connect(cfg)
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}
	e := &env{cfg: cfg, db: db}

	if cfg.SessionStore == "redis" {
		e.rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := e.rdb.Ping(ctx).Err(); err != nil {
			e.Close()
			return nil, fmt.Errorf("connecting to redis: %w", err)
		}
	}
	return e, nil
}

func (e *env) sessionManager() (*scs.SessionManager, error) {
	return auth.NewSessionManager(e.db, e.cfg, e.rdb)
}

func (e *env) Close() {
	if e.rdb != nil {
		if err := e.rdb.Close(); err != nil {
			logger.Warn("failed to close redis client", "error", err)
		}
	}
	if sqlDB, err := e.db.DB(); err == nil {
		sqlDB.Close()
	}
}

var rootCmd = &cobra.Command{
	Use:   "swapshelf",
	Short: "Share files and trade them with other users",
	// Running the bare binary starts the server.
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve(cmd.Context())
	},
	SilenceUsage: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the web server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve(cmd.Context())
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the database schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := newEnv()
		if err != nil {
			return err
		}
		defer e.Close()

		return database.Migrate(e.db)
	},
}

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Manage login sessions",
}

var sessionsPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Drop session index entries for sessions that no longer exist",
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := newEnv()
		if err != nil {
			return err
		}
		defer e.Close()

		sm, err := e.sessionManager()
		if err != nil {
			return fmt.Errorf("initializing session store: %w", err)
		}

		registry := service.NewSessionRegistry(e.db, sm.Store, service.RealClock{})
		n, err := registry.Prune(cmd.Context(), sm.Lifetime)
		if err != nil {
			return fmt.Errorf("pruning sessions: %w", err)
		}
		fmt.Printf("Pruned %d session entries\n", n)
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(versionInfo())
	},
}

func init() {
	sessionsCmd.AddCommand(sessionsPruneCmd)
	rootCmd.AddCommand(serveCmd, migrateCmd, sessionsCmd, versionCmd)
}

func serve(ctx context.Context) error {
	e, err := newEnv()
	if err != nil {
		return err
	}
	defer e.Close()
	cfg := e.cfg

	logger.Info("configuration loaded",
		"max_upload_mb", float64(cfg.MaxUploadSize)/(1024*1024),
		"storage_backend", cfg.StorageBackend,
		"session_store", cfg.SessionStore,
		"env", cfg.Env,
	)

	if err := database.Migrate(e.db); err != nil {
		return err
	}

	store, err := storage.NewBackendFromConfig(cfg)
	if err != nil {
		return fmt.Errorf("initializing storage: %w", err)
	}

	sm, err := e.sessionManager()
	if err != nil {
		return fmt.Errorf("initializing session manager: %w", err)
	}

	clock := service.RealClock{}
	cleaner := service.NewCleaner(e.db, store)
	sessions := service.NewSessionRegistry(e.db, sm.Store, clock)
	pruner := sessions.StartPruner(cfg.SessionPruneInterval, sm.Lifetime)

	r := chi.NewRouter()
	authHandler, err := routes.Setup(r, routes.Deps{
		Config:         cfg,
		DB:             e.db,
		Storage:        store,
		SessionManager: sm,
		Users:          service.NewUserService(e.db, clock, cfg.BcryptCost, cfg.ResetTokenTTL),
		Files:          service.NewFileService(e.db, cleaner, clock),
		Trades:         service.NewTradeService(e.db, clock),
		Sessions:       sessions,
		Mailer:         email.NewSenderFromConfig(cfg),
		Version:        versionInfo(),
	})
	if err != nil {
		pruner.Shutdown()
		return err
	}

	addr := fmt.Sprintf("%s:%s", cfg.Host, cfg.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting swapshelf server",
			"address", addr,
			"environment", cfg.Env,
			"version", versionInfo(),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-errCh:
		pruner.Shutdown()
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shut down", "error", err)
	}

	// Let in-flight background work finish before the database goes away.
	authHandler.Wait()
	cleaner.Wait()
	pruner.Shutdown()

	logger.Info("server exited")
	return nil
}
