package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ignite/catalog-import/internal/api"
	"github.com/ignite/catalog-import/internal/config"
	"github.com/ignite/catalog-import/internal/pkg/logger"
	"github.com/ignite/catalog-import/internal/progress"
	"github.com/ignite/catalog-import/internal/repository/postgres"
	"github.com/ignite/catalog-import/internal/storage"

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

	ctx := context.Background()
	blobs, err := storage.New(ctx, cfg.Storage.Bucket, cfg.Storage.Region, cfg.Storage.AWSProfile)
	if err != nil {
		log.Fatalf("init blob store: %v", err)
	}

	handlers := api.NewHandlers(
		postgres.NewProductRepo(db),
		postgres.NewImportJobRepo(db),
		postgres.NewWebhookRepo(db),
		blobs,
		progress.NewPublisher(rdb),
		nil,
	)

	srv := &http.Server{
		Addr:    cfg.Server.Addr(),
		Handler: api.NewRouter(handlers),
	}

	go func() {
		logger.Info("api server listening", "addr", cfg.Server.Addr())
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", "error", err.Error())
	}
}
