package lock

import (
	"context"
	"errors"
	"time"
)

// ErrNotHeld 锁未持有或已过期
var ErrNotHeld = errors.New("lock not held")

// 单例任务锁名
const (
	KeyPollCycle  = "poll-cycle"
	KeyDailyReset = "daily-reset"
)

// DistributedLock 分布式锁接口
// 多实例部署时保证轮询周期与日重置同一时刻只在一个实例上执行
type DistributedLock interface {
	// TryLock 尝试获取锁，立即返回
	TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error)

	// Unlock 释放锁
	Unlock(ctx context.Context, key string) error

	// Extend 延长锁的过期时间
	Extend(ctx context.Context, key string, ttl time.Duration) error

	// Close 关闭连接
	Close() error
}

// NopLock 单实例模式
type NopLock struct{}

func NewNopLock() *NopLock {
	return &NopLock{}
}

func (n *NopLock) TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return true, nil
}

func (n *NopLock) Unlock(ctx context.Context, key string) error {
	return nil
}

func (n *NopLock) Extend(ctx context.Context, key string, ttl time.Duration) error {
	return nil
}

func (n *NopLock) Close() error {
	return nil
}

// RunExclusive 持有锁时执行 fn，锁被其他实例占用时跳过并返回 false
// fn 执行期间每 ttl/2 续期一次
func RunExclusive(ctx context.Context, l DistributedLock, key string, ttl time.Duration, fn func(ctx context.Context) error) (bool, error) {
	if l == nil {
		return true, fn(ctx)
	}

	ok, err := l.TryLock(ctx, key, ttl)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}
	defer l.Unlock(context.Background(), key)

	done := make(chan struct{})
	defer close(done)
	go keepAlive(ctx, l, key, ttl, done)

	return true, fn(ctx)
}

func keepAlive(ctx context.Context, l DistributedLock, key string, ttl time.Duration, done <-chan struct{}) {
	interval := ttl / 2
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := l.Extend(ctx, key, ttl); err != nil {
				return
			}
		}
	}
}
