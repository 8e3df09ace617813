package cache

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"planvault/pkg/storage"

	"github.com/redis/go-redis/v9"
)

// CachedStore 是一个装饰器，它为底层的 storage.Store 添加 Redis 存在性缓存
//
// 上传去重的热路径是 Exists 查询：同一批图纸里大量 Chunk 是重复的，
// 用 Redis 挡掉对 S3 的 Head 请求能把去重检查压到毫秒级。
type CachedStore struct {
	backend storage.Store // 被装饰的底层存储 (如 S3)
	client  *redis.Client // Redis 客户端
	ttl     time.Duration // 缓存过期时间 (例如 24h)
}

type Config struct {
	RedisURL string        // 标准连接字符串: redis://<user>:<password>@<host>:<port>/<db>
	TTL      time.Duration // 过期时间
}

func NewCachedStore(backend storage.Store, cfg Config) (*CachedStore, error) {
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	client := redis.NewClient(opts)

	// Fail-fast 连接检查
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &CachedStore{
		backend: backend,
		client:  client,
		ttl:     cfg.TTL,
	}, nil
}

// cacheKey 生成 Redis Key，添加前缀防止冲突
func (s *CachedStore) cacheKey(key string) string {
	return "pv:blob:" + key
}

// Exists 优先查 Redis，实现毫秒级去重
func (s *CachedStore) Exists(ctx context.Context, key string) (bool, error) {
	ck := s.cacheKey(key)

	// 1. 查 Redis
	val, err := s.client.Exists(ctx, ck).Result()
	if err != nil {
		// 架构决策：缓存故障降级 (Cache Failure Fallback)
		// 如果 Redis 挂了，不让整个程序崩溃，而是退化为无缓存模式，直接查后端。
		slog.Warn("redis cache degraded", slog.String("err", err.Error()))
	} else if val > 0 {
		// Cache Hit! 无需发起 S3 网络请求
		return true, nil
	}

	// 2. 缓存未命中 (Cache Miss)，查底层存储
	found, err := s.backend.Exists(ctx, key)
	if err != nil {
		return false, err
	}

	// 3. 缓存回填 (Cache Fill)
	if found {
		// 异步写入 Redis，不要阻塞主流程
		// 使用 context.Background() 确保即使上层 ctx 取消，回填也能完成
		go func() {
			fillCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			s.client.Set(fillCtx, ck, "1", s.ttl)
		}()
	}

	return found, nil
}

// Put 写入对象。利用 Exists 的缓存能力进行预检。
func (s *CachedStore) Put(ctx context.Context, key string, data []byte) error {
	// 1. 如果 Redis 里有，这一步耗时 < 1ms，直接跳过上传
	exists, err := s.Exists(ctx, key)
	if err != nil {
		return err
	}
	if exists {
		return nil // 幂等性：已存在
	}

	// 2. 穿透到底层存储
	if err := s.backend.Put(ctx, key, data); err != nil {
		return err
	}

	// 3. 只有后端写成功了，才写 Redis。Set 错误可以忽略，不影响主流程
	s.client.Set(ctx, s.cacheKey(key), "1", s.ttl)

	return nil
}

// Get 透传 - 不缓存 Blob 数据
// 原因：图纸 Chunk 可能很大，Redis 内存极其宝贵，只存元数据(Existence)性价比最高。
func (s *CachedStore) Get(ctx context.Context, key string) ([]byte, error) {
	return s.backend.Get(ctx, key)
}

// Delete 透传并使缓存失效
func (s *CachedStore) Delete(ctx context.Context, key string) error {
	if err := s.backend.Delete(ctx, key); err != nil {
		return err
	}
	s.client.Del(ctx, s.cacheKey(key))
	return nil
}
