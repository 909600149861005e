// Package redis adapts a Redis Cluster client into the second-tier catalog
// cache the DOMAIN STACK describes: it sits in front of the DML/DDL
// translators' in-process DataCache (§3) so a freshly restarted connector
// doesn't have to re-probe the destination catalog cold.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/synchdb-go/synchdb/src/domain"
)

// CatalogCache wraps a Redis Cluster client; keys are namespaced by
// connector name so two connectors never collide on the same schema.table
// pair.
type CatalogCache struct {
	client            *redis.ClusterClient
	defaultTTLSeconds time.Duration
}

func NewCatalogCache(addrs string, poolSize int, defaultTTLSeconds time.Duration) *CatalogCache {
	client := redis.NewClusterClient(&redis.ClusterOptions{
		Addrs: strings.Split(addrs, ","),

		PoolSize:     poolSize,
		MinIdleConns: 10,

		MaxRedirects: 3,

		DialTimeout:  5 * time.Second,
		ReadTimeout:  1 * time.Second,
		WriteTimeout: 1 * time.Second,

		MaxRetries:      3,
		MinRetryBackoff: 50 * time.Millisecond,
		MaxRetryBackoff: 500 * time.Millisecond,
	})

	return &CatalogCache{
		client:            client,
		defaultTTLSeconds: defaultTTLSeconds,
	}
}

func cacheKey(connector, schema, table string) string {
	return fmt.Sprintf("synchdb:catalog:%s:%s.%s", connector, strings.ToLower(schema), strings.ToLower(table))
}

func registryKey(connector string) string {
	return fmt.Sprintf("synchdb:catalog:%s:keys", connector)
}

// GetTableEntry returns the cached DataCache entry for {schema, table}, and
// whether it was present at all — a miss is not an error, the caller falls
// back to a live catalog probe.
func (c *CatalogCache) GetTableEntry(ctx context.Context, connector, schema, table string) (domain.TableCacheEntry, bool, error) {
	result := c.client.HGet(ctx, cacheKey(connector, schema, table), "data")
	if result.Err() == redis.Nil {
		return domain.TableCacheEntry{}, false, nil
	}
	if result.Err() != nil {
		return domain.TableCacheEntry{}, false, result.Err()
	}

	var entry domain.TableCacheEntry
	if err := json.Unmarshal([]byte(result.Val()), &entry); err != nil {
		return domain.TableCacheEntry{}, false, fmt.Errorf("decode cached catalog entry for %s.%s: %w", schema, table, err)
	}
	return entry, true, nil
}

// SetTableEntry writes one DataCache entry, keyed under the connector's
// registry set so InvalidateConnector can find it again without a key
// scan.
func (c *CatalogCache) SetTableEntry(ctx context.Context, connector, schema, table string, entry domain.TableCacheEntry) error {
	encoded, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode catalog entry for %s.%s: %w", schema, table, err)
	}

	key := cacheKey(connector, schema, table)
	reg := registryKey(connector)

	pipe := c.client.Pipeline()
	pipe.HSet(ctx, key, map[string]interface{}{
		"data":      string(encoded),
		"cached_at": time.Now().Unix(),
	})
	pipe.Expire(ctx, key, c.defaultTTLSeconds)
	pipe.SAdd(ctx, reg, key)
	pipe.Expire(ctx, reg, c.defaultTTLSeconds)

	_, err = pipe.Exec(ctx)
	return err
}

// InvalidateTable drops one table's cached entry, called whenever a DDL
// event touches it — the same invalidation trigger as the in-process
// DataCache (§3).
func (c *CatalogCache) InvalidateTable(ctx context.Context, connector, schema, table string) error {
	key := cacheKey(connector, schema, table)
	if err := c.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("invalidate catalog entry for %s.%s: %w", schema, table, err)
	}
	return c.client.SRem(ctx, registryKey(connector), key).Err()
}

// InvalidateConnector drops every cached entry for one connector. The
// admin Manager calls it from launch before a restart attempt, so a fresh
// catalog probe cycle starts clean rather than serving possibly-stale
// entries left over from before the restart.
func (c *CatalogCache) InvalidateConnector(ctx context.Context, connector string) error {
	keys, err := c.client.SMembers(ctx, registryKey(connector)).Result()
	if err != nil && err != redis.Nil {
		return fmt.Errorf("list cached keys for connector %s: %w", connector, err)
	}
	if len(keys) == 0 {
		return nil
	}

	var failed []string
	for _, key := range keys {
		if err := c.client.Del(ctx, key).Err(); err != nil {
			failed = append(failed, fmt.Sprintf("%s: %v", key, err))
		}
	}
	if len(failed) > 0 {
		return fmt.Errorf("invalidation errors: %s", strings.Join(failed, "; "))
	}
	return c.client.Del(ctx, registryKey(connector)).Err()
}

// HealthCheck pings the cluster. The admin Manager's Ready backs the HTTP
// surface's GET /v1/admin/readyz with it.
func (c *CatalogCache) HealthCheck(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}
