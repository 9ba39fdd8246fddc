package biz

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kart-io/shopfloor-copilot/internal/copilot/store"
	"github.com/kart-io/shopfloor-copilot/pkg/log"
	"github.com/kart-io/shopfloor-copilot/pkg/utils/json"
)

// DefaultCacheTTL 查询缓存默认过期时间。
const DefaultCacheTTL = 5 * time.Minute

// QueryCache 基于 Redis 的检索结果缓存。client 为 nil 时全部操作
// 退化为未命中，调用方无需感知缓存是否启用。
type QueryCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewQueryCache 创建查询缓存。
func NewQueryCache(client *redis.Client, ttl time.Duration) *QueryCache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &QueryCache{client: client, ttl: ttl}
}

// Key 由查询要素派生确定性缓存键。
func (c *QueryCache) Key(query string, filter store.ChunkFilter, topK int, rerank bool) string {
	keys := make([]string, 0, len(filter))
	for k := range filter {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	h := sha256.New()
	fmt.Fprintf(h, "q=%s&k=%d&r=%t", query, topK, rerank)
	for _, k := range keys {
		fmt.Fprintf(h, "&%s=%v", k, filter[k])
	}
	return "copilot:query:" + hex.EncodeToString(h.Sum(nil))
}

// Get 读取缓存的检索结果，未命中或缓存不可用时返回 nil。
func (c *QueryCache) Get(ctx context.Context, key string) *RetrieveResult {
	if c.client == nil {
		return nil
	}
	raw, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		return nil
	}
	var result RetrieveResult
	if err := json.Unmarshal(raw, &result); err != nil {
		log.Warnw("failed to decode cached query result", "error", err)
		return nil
	}
	return &result
}

// Set 写入检索结果，失败只记录日志。
func (c *QueryCache) Set(ctx context.Context, key string, result *RetrieveResult) {
	if c.client == nil {
		return
	}
	raw, err := json.Marshal(result)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, key, raw, c.ttl).Err(); err != nil {
		log.Warnw("failed to cache query result", "error", err)
	}
}
