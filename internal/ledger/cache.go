package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

// Scope identifies one cached view family of an account.
type Scope string

const (
	// ScopeBalances covers memoized account-balance views.
	ScopeBalances Scope = "balances"
	// ScopeTransactions covers memoized transaction-list views.
	ScopeTransactions Scope = "transactions"
)

const invalidateChannel = "ledger.invalidate"

// Cache wraps Redis based read caching with per-account versioning. Every
// cached entry embeds the version current at fill time, so bumping the
// version makes all prior entries unreachable: a reader holding a memoized
// view must re-fetch immediately after Invalidate returns. The cache is a
// staleness contract only; it owns no data.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
	group  singleflight.Group
}

// NewCache instantiates the cache helper.
func NewCache(client *redis.Client, ttl time.Duration) *Cache {
	return &Cache{client: client, ttl: ttl}
}

func versionKey(scope Scope, accountID int64) string {
	return fmt.Sprintf("ledger:%s:%d:version", scope, accountID)
}

// Version returns the current version for a scope, initialising when
// missing. Init must never move the version backwards: a plain SET here
// would clobber an INCR that lands between the GET and the write, making
// entries memoized under the old version reachable again. SETNX only wins
// when the key is still absent; when it loses, the bumped value stands.
func (c *Cache) Version(ctx context.Context, scope Scope, accountID int64) (int64, error) {
	if c == nil || c.client == nil {
		return 0, nil
	}
	key := versionKey(scope, accountID)
	ver, err := c.client.Get(ctx, key).Int64()
	if err == redis.Nil {
		created, err := c.client.SetNX(ctx, key, 1, 0).Result()
		if err != nil {
			return 0, err
		}
		if created {
			return 1, nil
		}
		return c.client.Get(ctx, key).Int64()
	}
	if err != nil {
		return 0, err
	}
	return ver, nil
}

// BuildKey composes the cache key for an account view with the current
// version embedded.
func (c *Cache) BuildKey(ctx context.Context, scope Scope, accountID int64) (string, error) {
	ver, err := c.Version(ctx, scope, accountID)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("ledger:%s:%d:v%d", scope, accountID, ver), nil
}

// FetchJSON loads a cached value or populates it using the loader.
// Concurrent fills for the same key collapse into a single loader call.
func (c *Cache) FetchJSON(ctx context.Context, key string, dest interface{}, loader func(context.Context) (interface{}, error)) error {
	if loader == nil {
		return errors.New("cache: loader required")
	}
	if c == nil || c.client == nil {
		value, err := loader(ctx)
		if err != nil {
			return err
		}
		raw, err := json.Marshal(value)
		if err != nil {
			return err
		}
		return json.Unmarshal(raw, dest)
	}
	payload, err := c.client.Get(ctx, key).Bytes()
	if err == nil {
		return json.Unmarshal(payload, dest)
	}
	if err != redis.Nil {
		return err
	}
	raw, err, _ := c.group.Do(key, func() (interface{}, error) {
		value, err := loader(ctx)
		if err != nil {
			return nil, err
		}
		data, err := json.Marshal(value)
		if err != nil {
			return nil, err
		}
		if err := c.client.Set(ctx, key, data, c.ttl).Err(); err != nil {
			return nil, err
		}
		return data, nil
	})
	if err != nil {
		return err
	}
	return json.Unmarshal(raw.([]byte), dest)
}

// Invalidate bumps the version for the scope so any memoized view keyed
// under the old version is stale the moment this call returns, and
// publishes the bump for interested subscribers.
func (c *Cache) Invalidate(ctx context.Context, scope Scope, accountID int64) error {
	if c == nil || c.client == nil {
		return nil
	}
	ver, err := c.client.Incr(ctx, versionKey(scope, accountID)).Result()
	if err != nil {
		return err
	}
	payload := fmt.Sprintf("%s:%d:%s", scope, accountID, strconv.FormatInt(ver, 10))
	return c.client.Publish(ctx, invalidateChannel, payload).Err()
}
