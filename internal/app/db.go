package app

import (
	"context"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

// The store handles are process-wide. Repeated initialization (hot reload in
// development, test re-entry) must reuse the live handle instead of opening
// another one, so both accessors are guarded by sync.Once.
var (
	poolOnce sync.Once
	pool     *pgxpool.Pool
	poolErr  error

	redisOnce   sync.Once
	redisClient *redis.Client
)

// Pool returns the shared pgx connection pool, opening it on first use.
func Pool(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	poolOnce.Do(func() {
		pool, poolErr = pgxpool.New(ctx, dsn)
	})
	return pool, poolErr
}

// Redis returns the shared redis client, connecting on first use.
func Redis(addr string) *redis.Client {
	redisOnce.Do(func() {
		redisClient = redis.NewClient(&redis.Options{Addr: addr})
	})
	return redisClient
}

// Shutdown closes the shared store handles. After Shutdown the accessors may
// open fresh handles again, which keeps tests hermetic.
func Shutdown() error {
	var err error
	if pool != nil {
		pool.Close()
		pool = nil
	}
	if redisClient != nil {
		err = redisClient.Close()
		redisClient = nil
	}
	poolOnce = sync.Once{}
	redisOnce = sync.Once{}
	return err
}
