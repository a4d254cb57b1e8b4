package database

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/synaptica-ai/ehrdata/pkg/common/config"
	"github.com/synaptica-ai/ehrdata/pkg/common/logger"
)

var (
	redisClient *redis.Client
	redisOnce   sync.Once
)

// RedisOptions configures the feature store client. Each preprocessing worker
// may flush a materialization pipeline at once, so an unset pool size is
// twice the worker count.
func RedisOptions(cfg *config.Config) *redis.Options {
	poolSize := cfg.RedisPoolSize
	if poolSize <= 0 {
		poolSize = 2 * cfg.PreprocessWorkers
	}
	if poolSize <= 0 {
		poolSize = 10
	}
	timeout := cfg.RedisTimeout
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &redis.Options{
		Addr:         fmt.Sprintf("%s:%s", cfg.RedisHost, cfg.RedisPort),
		Password:     cfg.RedisPassword,
		DB:           cfg.RedisDB,
		PoolSize:     poolSize,
		DialTimeout:  timeout,
		ReadTimeout:  timeout,
		WriteTimeout: timeout,
	}
}

// GetRedis returns the shared client. A failed ping is logged, not fatal:
// the feature store is optional.
func GetRedis(cfg *config.Config) *redis.Client {
	redisOnce.Do(func() {
		opts := RedisOptions(cfg)
		redisClient = redis.NewClient(opts)

		ctx, cancel := context.WithTimeout(context.Background(), opts.DialTimeout)
		defer cancel()

		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Log.WithError(err).WithField("addr", opts.Addr).Error("Failed to connect to Redis")
		} else {
			logger.Log.WithFields(map[string]interface{}{
				"addr":      opts.Addr,
				"pool_size": opts.PoolSize,
			}).Info("Connected to Redis")
		}
	})

	return redisClient
}

func CloseRedis() error {
	if redisClient != nil {
		return redisClient.Close()
	}
	return nil
}
