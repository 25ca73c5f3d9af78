package lock

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/redis/go-redis/v9"

	"fnobot/config"
	"fnobot/logger"
)

// InstanceLock 实例互斥锁
// 账本的设计前提是单写者：同一账户同时跑两个实例会互相覆盖订单状态，
// 启动时必须先拿到锁
type InstanceLock interface {
	Acquire(ctx context.Context) error
	Release(ctx context.Context) error
	Refresh(ctx context.Context) error
}

// NopLock 未启用分布式锁时的空实现，单机部署由运维保证唯一
type NopLock struct{}

func (NopLock) Acquire(ctx context.Context) error { return nil }
func (NopLock) Release(ctx context.Context) error { return nil }
func (NopLock) Refresh(ctx context.Context) error { return nil }

// RedisLock 基于 Redis SET NX 的实例锁
type RedisLock struct {
	client *redis.Client
	key    string
	value  string
	ttl    time.Duration
}

// New 按配置构造实例锁
func New(cfg *config.Config) (InstanceLock, error) {
	if !cfg.Lock.Enabled {
		return NopLock{}, nil
	}
	if cfg.Lock.Type != "redis" && cfg.Lock.Type != "" {
		return nil, fmt.Errorf("不支持的锁类型: %s", cfg.Lock.Type)
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Lock.Redis.Addr,
		Password: cfg.Lock.Redis.Password,
		DB:       cfg.Lock.Redis.DB,
		PoolSize: cfg.Lock.Redis.PoolSize,
	})

	prefix := cfg.Lock.Prefix
	if prefix == "" {
		prefix = "fnobot"
	}
	hostname, _ := os.Hostname()

	return &RedisLock{
		client: client,
		key:    prefix + ":instance_lock",
		value:  fmt.Sprintf("%s:%d", hostname, os.Getpid()),
		ttl:    30 * time.Second,
	}, nil
}

// Acquire 抢锁，已被其他实例持有时启动失败
func (l *RedisLock) Acquire(ctx context.Context) error {
	ok, err := l.client.SetNX(ctx, l.key, l.value, l.ttl).Result()
	if err != nil {
		return fmt.Errorf("实例锁获取失败: %w", err)
	}
	if !ok {
		holder, _ := l.client.Get(ctx, l.key).Result()
		return fmt.Errorf("实例锁被占用: %s 持有, 拒绝启动第二实例", holder)
	}
	logger.Info("✅ 实例锁已获取: %s = %s", l.key, l.value)
	return nil
}

// Refresh 续期，主循环每个周期调用
func (l *RedisLock) Refresh(ctx context.Context) error {
	// 只有持有者才能续期
	val, err := l.client.Get(ctx, l.key).Result()
	if err != nil {
		return fmt.Errorf("实例锁续期失败: %w", err)
	}
	if val != l.value {
		return fmt.Errorf("实例锁已被 %s 抢占", val)
	}
	return l.client.Expire(ctx, l.key, l.ttl).Err()
}

// Release 释放锁，仅删除自己持有的值
func (l *RedisLock) Release(ctx context.Context) error {
	val, err := l.client.Get(ctx, l.key).Result()
	if err == redis.Nil {
		return nil
	}
	if err != nil {
		return err
	}
	if val != l.value {
		return nil
	}
	if err := l.client.Del(ctx, l.key).Err(); err != nil {
		return err
	}
	logger.Info("✅ 实例锁已释放")
	return l.client.Close()
}
