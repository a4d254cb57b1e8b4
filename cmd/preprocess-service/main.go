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

	"github.com/gorilla/mux"
	"github.com/synaptica-ai/ehrdata/pkg/common/config"
	"github.com/synaptica-ai/ehrdata/pkg/common/database"
	"github.com/synaptica-ai/ehrdata/pkg/common/kafka"
	"github.com/synaptica-ai/ehrdata/pkg/common/logger"
	"github.com/synaptica-ai/ehrdata/pkg/preprocess"
	"github.com/synaptica-ai/ehrdata/pkg/storage"
)

func main() {
	logger.Init()
	cfg, err := config.Load()
	if err != nil {
		logger.Log.WithError(err).Fatal("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		logger.Log.WithError(err).Fatal("invalid config")
	}

	db, err := database.GetPostgres(cfg)
	if err != nil {
		logger.Log.WithError(err).Fatal("failed to connect to postgres")
	}
	defer database.ClosePostgres()

	repo := preprocess.NewRepository(db)
	if err := repo.AutoMigrate(); err != nil {
		logger.Log.WithError(err).Fatal("failed to migrate preprocess tables")
	}

	var features *storage.FeatureStore
	rdb := database.GetRedis(cfg)
	pingCtx, pingCancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		logger.Log.WithError(err).Warn("redis unavailable, feature store disabled")
	} else {
		features = storage.NewFeatureStore(rdb, cfg.FeatureStoreCacheTTL)
		defer database.CloseRedis()
	}
	pingCancel()

	producer := kafka.NewProducer(cfg.KafkaBrokers, cfg.PreprocessEventTopic)
	defer producer.Close()

	svc := preprocess.NewService(repo, producer, features, preprocess.Options{
		DataPath:  cfg.DataPath,
		VocabPath: cfg.VocabPath,
		Workers:   cfg.PreprocessWorkers,
	}, 1)
	handler := preprocess.NewHandler(svc, features, cfg.DataPath, cfg.Labels, cfg.Window())

	router := mux.NewRouter()
	router.Use(preprocess.Recovery, preprocess.Logging)
	handler.Register(router)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%s", cfg.ServerHost, cfg.ServerPort),
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		logger.Log.WithFields(map[string]interface{}{
			"host": cfg.ServerHost,
			"port": cfg.ServerPort,
		}).Info("Preprocess Service started")

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Log.WithError(err).Fatal("failed to start server")
		}
	}()

	consumer := kafka.NewConsumer(cfg.KafkaBrokers, cfg.PreprocessRequestTopic, cfg.KafkaGroupID)
	defer consumer.Close()
	go func() {
		if err := consumer.Consume(ctx, svc.HandleEvent); err != nil && !errors.Is(err, context.Canceled) {
			logger.Log.WithError(err).Error("preprocess request consumer stopped")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Log.Info("Shutting down Preprocess Service...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Log.WithError(err).Error("server forced to shutdown")
	}

	done := make(chan struct{})
	go func() {
		svc.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-shutdownCtx.Done():
		logger.Log.Warn("preprocess runs still active at shutdown")
	}

	logger.Log.Info("Preprocess Service stopped")
}
