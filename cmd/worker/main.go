package main

import (
	"context"
	"database/sql"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ignite/catalog-import/internal/config"
	"github.com/ignite/catalog-import/internal/domain"
	"github.com/ignite/catalog-import/internal/importer"
	"github.com/ignite/catalog-import/internal/pkg/distlock"
	"github.com/ignite/catalog-import/internal/pkg/logger"
	"github.com/ignite/catalog-import/internal/progress"
	"github.com/ignite/catalog-import/internal/repository/postgres"
	"github.com/ignite/catalog-import/internal/storage"
	"github.com/ignite/catalog-import/internal/webhook"
	"github.com/ignite/catalog-import/internal/worker"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
)

func main() {
	cfg, err := config.Load("config/config.yaml")
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer db.Close()
	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	db.SetConnMaxLifetime(time.Duration(cfg.Database.ConnMaxLifetime) * time.Minute)
	if err := db.Ping(); err != nil {
		log.Fatalf("ping database: %v", err)
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	blobs, err := storage.New(ctx, cfg.Storage.Bucket, cfg.Storage.Region, cfg.Storage.AWSProfile)
	if err != nil {
		log.Fatalf("init blob store: %v", err)
	}

	products := postgres.NewProductRepo(db)
	jobs := postgres.NewImportJobRepo(db)
	hooks := postgres.NewWebhookRepo(db)
	sink := progress.NewPublisher(rdb)
	notifier := webhook.NewDispatcher(hooks, cfg.Webhooks.Timeout())

	pipeline := importer.NewPipeline(blobs, products, jobs, sink, notifier)
	pipeline.BatchSize = cfg.Import.BatchSize

	runner := worker.NewRunner(jobs, pipeline, cfg.Import.Workers, cfg.Import.PollInterval())
	runner.Start(ctx)
	logger.Info("import workers started", "workers", cfg.Import.Workers)

	reapLock := distlock.New(rdb, db, "import:stale-reaper", 2*time.Minute)
	go reapStaleJobs(ctx, jobs, reapLock, cfg.Import.StaleAfter())

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down workers")
	cancel()
	time.Sleep(time.Second)
}

// reapStaleJobs marks processing jobs failed when their heartbeat goes
// silent, so a crashed worker does not leave jobs stuck forever. The lock
// keeps one sweep per fleet per tick.
func reapStaleJobs(ctx context.Context, jobs *postgres.ImportJobRepo, lock distlock.DistLock, staleAfter time.Duration) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		held, err := lock.Acquire(ctx)
		if err != nil {
			logger.Warn("stale reaper lock failed", "error", err.Error())
			continue
		}
		if !held {
			continue
		}

		reapOnce(ctx, jobs, staleAfter)
		if err := lock.Release(ctx); err != nil {
			logger.Warn("stale reaper unlock failed", "error", err.Error())
		}
	}
}

func reapOnce(ctx context.Context, jobs *postgres.ImportJobRepo, staleAfter time.Duration) {
	stale, err := jobs.StaleJobs(ctx, time.Now().Add(-staleAfter))
	if err != nil {
		logger.Error("stale job scan failed", "error", err.Error())
		return
	}
	for _, job := range stale {
		status := domain.StatusFailed
		now := time.Now().UTC()
		errs := append(job.Errors, domain.ImportError{
			Message: "import failed: worker heartbeat lost",
		})
		patch := domain.JobPatch{Status: &status, CompletedAt: &now, Errors: errs}
		if err := jobs.Update(ctx, job.ID, patch); err != nil {
			logger.Error("stale job update failed", "job_id", job.ID.String(), "error", err.Error())
			continue
		}
		logger.Warn("stale import job failed", "job_id", job.ID.String(), "file", job.FileName)
	}
}
