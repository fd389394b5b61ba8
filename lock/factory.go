package lock

import (
	"context"
	"fmt"
	"time"

	"fundguard/config"

	"github.com/redis/go-redis/v9"
)

// NewDistributedLock 根据配置创建分布式锁，未启用时返回 NopLock
func NewDistributedLock(cfg *config.Config) (DistributedLock, error) {
	dl := cfg.DistributedLock
	if !dl.Enabled {
		return NewNopLock(), nil
	}

	switch dl.Type {
	case "", "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     dl.Redis.Addr,
			Password: dl.Redis.Password,
			DB:       dl.Redis.DB,
			PoolSize: dl.Redis.PoolSize,
		})

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, fmt.Errorf("连接 Redis 失败: %w", err)
		}
		return NewRedisLock(client, dl.Prefix), nil

	default:
		return nil, fmt.Errorf("unsupported lock type: %s", dl.Type)
	}
}

// TTL 配置的默认锁过期时间
func TTL(cfg *config.Config) time.Duration {
	if cfg.DistributedLock.DefaultTTL <= 0 {
		return 5 * time.Minute
	}
	return time.Duration(cfg.DistributedLock.DefaultTTL) * time.Second
}
