package main

import (
	"context"
	"database/sql"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/giftwell/gift-automation/internal/archive"
	"github.com/giftwell/gift-automation/internal/config"
	"github.com/giftwell/gift-automation/internal/engine"
	"github.com/giftwell/gift-automation/internal/gateway/billing"
	"github.com/giftwell/gift-automation/internal/gateway/fulfillment"
	"github.com/giftwell/gift-automation/internal/gateway/notify"
	"github.com/giftwell/gift-automation/internal/pkg/distlock"
	"github.com/giftwell/gift-automation/internal/pkg/logger"
	"github.com/giftwell/gift-automation/internal/repository/postgres"
	"github.com/giftwell/gift-automation/internal/service/wallet"
)

func main() {
	var (
		configPath = flag.String("config", "config.yaml", "path to config file")
		interval   = flag.Duration("interval", 0, "run continuously at this interval instead of once")
		reconcile  = flag.Bool("reconcile", false, "settle charged-but-unfulfilled gifts instead of a lifecycle pass")
		doArchive  = flag.Bool("archive", false, "export aged automation-log rows to S3 after the pass")
	)
	flag.Parse()

	cfg, err := config.LoadFromEnv(*configPath)
	if err != nil {
		logger.Error("load config failed", "error", err.Error())
		os.Exit(1)
	}

	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		logger.Error("open database failed", "error", err.Error())
		os.Exit(1)
	}
	defer db.Close()
	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	db.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelPing()
	if err := db.PingContext(pingCtx); err != nil {
		logger.Error("ping database failed", "error", err.Error())
		os.Exit(1)
	}

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	eng, logs, err := buildEngine(ctx, db, cfg)
	if err != nil {
		logger.Error("build engine failed", "error", err.Error())
		os.Exit(1)
	}

	runOnce := func() {
		lock := distlock.NewLock(redisClient, db, lockKey(*reconcile),
			time.Duration(cfg.Engine.LockTTLMinutes)*time.Minute)
		ok, err := lock.Acquire(ctx)
		if err != nil {
			logger.Error("acquire batch lock failed", "error", err.Error())
			return
		}
		if !ok {
			logger.Info("another batch holds the lock, skipping")
			return
		}
		defer func() {
			if err := lock.Release(context.Background()); err != nil {
				logger.Warn("release batch lock failed", "error", err.Error())
			}
		}()

		var stats engine.Stats
		if *reconcile {
			stats, err = eng.Reconcile(ctx)
		} else {
			stats, err = eng.Run(ctx)
		}
		if err != nil {
			logger.Error("batch failed", "error", err.Error())
			return
		}
		logger.Info("batch done",
			"processed", stats.Processed, "executed", stats.Executed, "errors", stats.Errors)

		if *doArchive && cfg.Archive.Enabled {
			archiver, err := archive.NewFromConfig(ctx, logs, cfg.Archive)
			if err != nil {
				logger.Error("build archiver failed", "error", err.Error())
				return
			}
			n, err := archiver.Run(ctx)
			if err != nil {
				logger.Error("archive failed", "error", err.Error())
				return
			}
			logger.Info("archive done", "rows", n)
		}
	}

	runOnce()
	if *interval <= 0 {
		return
	}

	ticker := time.NewTicker(*interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			logger.Info("shutting down")
			return
		case <-ticker.C:
			runOnce()
		}
	}
}

func lockKey(reconcile bool) string {
	if reconcile {
		return "gift-automation:reconcile"
	}
	return "gift-automation:engine"
}

func buildEngine(ctx context.Context, db *sql.DB, cfg *config.Config) (*engine.Engine, *postgres.AutomationLogRepo, error) {
	gifts := postgres.NewGiftRepo(db)
	recipients := postgres.NewRecipientRepo(db)
	logs := postgres.NewAutomationLogRepo(db)
	ledger := wallet.NewService(postgres.NewWalletRepo(db))

	var dispatcher notify.Dispatcher
	switch cfg.Notify.Mode {
	case "ses":
		ses, err := notify.NewSES(ctx, cfg.Notify.SES)
		if err != nil {
			return nil, nil, err
		}
		dispatcher = ses
	case "webhook":
		dispatcher = notify.NewWebhook(cfg.Notify)
	default:
		dispatcher = notify.Noop{}
	}

	eng := engine.New(
		gifts,
		recipients,
		ledger,
		fulfillment.NewClient(cfg.Fulfillment),
		billing.NewClient(cfg.Billing),
		dispatcher,
		logs,
		cfg.Engine,
	)
	return eng, logs, nil
}
