package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// releaseScript 只删除自己持有的锁
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker 基于 SET NX 的跨进程互斥锁
type RedisLocker struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisLocker 使用已有客户端创建锁
func NewRedisLocker(client redis.UniversalClient, prefix string) *RedisLocker {
	return &RedisLocker{client: client, prefix: prefix}
}

// Dial 连接Redis并检查可用性
func Dial(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("连接Redis失败: %w", err)
	}
	return client, nil
}

func (l *RedisLocker) key(name string) string {
	return l.prefix + ":lock:" + name
}

// TryLock 尝试加锁，成功时返回释放所需的 token
func (l *RedisLocker) TryLock(ctx context.Context, name string, ttl time.Duration) (string, bool, error) {
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, l.key(name), token, ttl).Result()
	if err != nil {
		return "", false, fmt.Errorf("获取锁 %s 失败: %w", name, err)
	}
	if !ok {
		return "", false, nil
	}
	return token, true, nil
}

// Unlock 释放锁，token 不匹配时不做任何事
func (l *RedisLocker) Unlock(ctx context.Context, name, token string) error {
	if err := releaseScript.Run(ctx, l.client, []string{l.key(name)}, token).Err(); err != nil {
		return fmt.Errorf("释放锁 %s 失败: %w", name, err)
	}
	return nil
}
