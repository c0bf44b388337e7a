// Package main is the entry point for the auction engine API server. It wires
// together the store, ledger, services and event delivery, and starts the
// HTTP server alongside the background scheduler.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/evetabi/auction/internal/api"
	"github.com/evetabi/auction/internal/clock"
	"github.com/evetabi/auction/internal/config"
	"github.com/evetabi/auction/internal/domain"
	"github.com/evetabi/auction/internal/events"
	"github.com/evetabi/auction/internal/ledger"
	"github.com/evetabi/auction/internal/repository"
	"github.com/evetabi/auction/internal/scheduler"
	"github.com/evetabi/auction/internal/service"
	"github.com/evetabi/auction/internal/store"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // postgres driver
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

func main() {
	// ── 1. Logger ─────────────────────────────────────────────────────────────
	cfg := config.MustLoad()

	var logHandler slog.Handler
	if cfg.IsProd() {
		logHandler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})
	} else {
		logHandler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug})
	}
	logger := slog.New(logHandler)
	slog.SetDefault(logger)

	logger.Info("starting auction server", "env", cfg.Server.Env, "port", cfg.Server.Port)

	// ── 2. Root context + signal handling ─────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── 3. Ledger (PostgreSQL when configured) ────────────────────────────────
	var opening *decimal.Decimal
	if cfg.Ledger.OpeningBalance > 0 {
		ob := decimal.NewFromFloat(cfg.Ledger.OpeningBalance)
		opening = &ob
	}

	var (
		funds service.Ledger
		db    *sqlx.DB
	)
	if cfg.DB.DSN != "" {
		var err error
		db, err = connectDB(cfg.DB)
		if err != nil {
			logger.Error("database connection failed", "err", err)
			os.Exit(1)
		}
		logger.Info("database connected")

		if err = runMigrations(db, "migrations"); err != nil {
			logger.Error("migrations failed", "err", err)
			os.Exit(1)
		}
		logger.Info("migrations applied")
		funds = repository.NewWalletLedger(db, opening)
	} else {
		var opts []ledger.Option
		if opening != nil {
			opts = append(opts, ledger.WithOpeningBalance(*opening))
		}
		funds = ledger.NewMemory(opts...)
		logger.Warn("DATABASE_DSN not set, using in-process ledger")
	}

	// ── 4. Event sinks ────────────────────────────────────────────────────────
	var (
		sinks []events.Publisher
		rdb   *redis.Client
	)
	if cfg.Redis.URL != "" {
		var err error
		rdb, err = events.ConnectRedis(ctx, cfg.Redis)
		if err != nil {
			logger.Error("redis connection failed", "err", err)
			os.Exit(1)
		}
		sinks = append(sinks, events.NewRedisPublisher(rdb, cfg.Redis))
		logger.Info("redis publisher enabled", "prefix", cfg.Redis.ChannelPrefix)
	}

	dispatcher := events.NewDispatcher(logger, events.Options{
		SubscriberBuffer: cfg.Events.SubscriberBuffer,
		MaxRetries:       cfg.Events.MaxRetries,
		RetryBackoff:     cfg.Events.RetryBackoff,
	}, sinks...)

	// ── 5. Store ──────────────────────────────────────────────────────────────
	auctions := store.NewMemory(
		store.WithLockTimeout(cfg.Auction.LockTimeout),
		store.WithCommitHook(dispatcher.HandleCommit),
	)

	// ── 6. Services ───────────────────────────────────────────────────────────
	clk := clock.System{}
	policy := domain.DefaultIncrementPolicy()
	auctionSvc := service.NewAuctionService(auctions, funds, policy, clk, cfg.Auction, logger)
	bidSvc := service.NewBidService(auctions, funds, policy, clk, logger)

	// ── 7. Scheduler ──────────────────────────────────────────────────────────
	sched := scheduler.NewScheduler(auctionSvc, dispatcher, cfg.Auction.SweepInterval, logger)
	sched.Start(ctx)

	// ── 8. HTTP Router ────────────────────────────────────────────────────────
	router := api.SetupRouter(ctx, api.RouterDeps{
		AuctionSvc: auctionSvc,
		BidSvc:     bidSvc,
		Cfg:        cfg,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// ── 9. Start server ───────────────────────────────────────────────────────
	go func() {
		logger.Info("http server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", "err", err)
			stop() // trigger graceful shutdown
		}
	}()

	// ── 10. Graceful shutdown ─────────────────────────────────────────────────
	<-ctx.Done()
	logger.Info("shutdown signal received, draining connections…")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown error", "err", err)
	}

	// Flushes whatever events are still queued.
	sched.Wait()

	if rdb != nil {
		_ = rdb.Close()
	}
	if db != nil {
		_ = db.Close()
	}
	logger.Info("server stopped cleanly")
}

func connectDB(cfg config.DBConfig) (*sqlx.DB, error) {
	db, err := sqlx.Connect("postgres", cfg.DSN)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	if err = db.Ping(); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// runMigrations reads all *.sql files from dir, sorted by name, and executes
// them sequentially. SQL files must be idempotent (IF NOT EXISTS).
func runMigrations(db *sqlx.DB, dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("runMigrations: read dir %q: %w", dir, err)
	}

	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(files)

	for _, f := range files {
		data, err := os.ReadFile(f)
		if err != nil {
			return fmt.Errorf("runMigrations: read %q: %w", f, err)
		}
		if _, err = db.Exec(string(data)); err != nil {
			return fmt.Errorf("runMigrations: exec %q: %w", f, err)
		}
		slog.Info("migration applied", "file", filepath.Base(f))
	}
	return nil
}
