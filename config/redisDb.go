package config

import (
	"context"
	"log"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
)

var (
	rdb    *redis.Client
	locker *redislock.Client
)

// GetRedisDB returns nil when REDIS_ADDRESS is not configured.
func GetRedisDB() *redis.Client {
	return rdb
}

// GetRedisLock returns nil when REDIS_ADDRESS is not configured; callers treat nil as "no lock".
func GetRedisLock() *redislock.Client {
	return locker
}

// ConnectRedisWithRetry connects to redisAddr and sets the global client and locker.
// An empty address leaves both nil.
func ConnectRedisWithRetry(ctx context.Context, redisAddr string) (*redis.Client, error) {
	if redisAddr == "" {
		log.Printf("REDIS_ADDRESS not set; running without redis")
		return nil, nil
	}

	var attempt int
	for {
		attempt++
		client := redis.NewClient(&redis.Options{
			Addr:     redisAddr,
			Password: "",
			DB:       0,
			PoolSize: 100,
		})
		err := client.Ping(ctx).Err()
		if err == nil {
			rdb = client
			locker = redislock.New(client)
			log.Printf("connected to redis (attempt=%d addr=%s)", attempt, redisAddr)
			return client, nil
		}
		_ = client.Close()

		sleep := backoff(attempt)
		log.Printf("failed to connect redis (attempt=%d addr=%s): %v; retrying in %s", attempt, redisAddr, err, sleep)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(sleep):
		}
	}
}
