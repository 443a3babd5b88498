package locks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/davcore/davcore/internal/webdav"
)

// DefaultRedisPrefix redis 键前缀
const DefaultRedisPrefix = "davcore:locks"

// maxTxRetries WATCH 冲突时的重试次数
const maxTxRetries = 8

// RedisBackend 基于 redis 的锁存储，所有锁保存在一个 hash 中（token -> JSON）。
// Lock 使用 WATCH/MULTI 保证冲突检查与写入的原子性。
type RedisBackend struct {
	client redis.UniversalClient
	prefix string
	now    func() time.Time
}

// NewRedisBackend 创建 redis 锁存储，prefix 为空时使用 DefaultRedisPrefix
func NewRedisBackend(client redis.UniversalClient, prefix string) *RedisBackend {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &RedisBackend{client: client, prefix: prefix, now: time.Now}
}

// SetClock 替换时钟
func (b *RedisBackend) SetClock(now func() time.Time) {
	b.now = now
}

func (b *RedisBackend) key() string {
	return b.prefix + ":tokens"
}

func encodeLock(l *webdav.LockInfo) (string, error) {
	data, err := json.Marshal(l)
	if err != nil {
		return "", fmt.Errorf("failed to marshal lock: %w", err)
	}
	return string(data), nil
}

func decodeLock(data string) (*webdav.LockInfo, error) {
	var l webdav.LockInfo
	if err := json.Unmarshal([]byte(data), &l); err != nil {
		return nil, fmt.Errorf("failed to unmarshal lock: %w", err)
	}
	return &l, nil
}

// load 读取全部锁并清理过期的锁
func (b *RedisBackend) load(ctx context.Context, c redis.Cmdable, uri string, includeChildren bool) ([]*webdav.LockInfo, error) {
	entries, err := c.HGetAll(ctx, b.key()).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load locks: %w", err)
	}
	all := make([]*webdav.LockInfo, 0, len(entries))
	var broken []string
	for token, data := range entries {
		l, err := decodeLock(data)
		if err != nil {
			broken = append(broken, token)
			continue
		}
		all = append(all, l)
	}

	matched, expired := filterLocks(all, uri, includeChildren, b.now())
	for _, l := range expired {
		broken = append(broken, l.Token)
	}
	if len(broken) > 0 {
		if err := c.HDel(ctx, b.key(), broken...).Err(); err != nil {
			return nil, fmt.Errorf("failed to purge expired locks: %w", err)
		}
	}
	return matched, nil
}

// Locks 实现 Backend
func (b *RedisBackend) Locks(ctx context.Context, uri string, includeChildren bool) ([]*webdav.LockInfo, error) {
	return b.load(ctx, b.client, uri, includeChildren)
}

// Lock 实现 Backend
func (b *RedisBackend) Lock(ctx context.Context, uri string, info *webdav.LockInfo) error {
	txf := func(tx *redis.Tx) error {
		existing, err := b.load(ctx, tx, uri, info.Depth == webdav.DepthInfinity)
		if err != nil {
			return err
		}

		target := cloneLock(info)
		target.URI = uri
		refreshed := false
		for _, l := range existing {
			if l.Token == info.Token {
				l.Timeout = info.Timeout
				l.Created = info.Created
				target, refreshed = l, true
				break
			}
		}
		if !refreshed {
			if c := Conflicts(existing, info); c != nil {
				return &ConflictError{Lock: c}
			}
		}

		data, err := encodeLock(target)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, b.key(), target.Token, data)
			return nil
		})
		return err
	}

	for i := 0; i < maxTxRetries; i++ {
		err := b.client.Watch(ctx, txf, b.key())
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return fmt.Errorf("locks: too many concurrent lock attempts on %q", uri)
}

// Unlock 实现 Backend
func (b *RedisBackend) Unlock(ctx context.Context, uri string, info *webdav.LockInfo) (bool, error) {
	data, err := b.client.HGet(ctx, b.key(), info.Token).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to load lock: %w", err)
	}
	l, err := decodeLock(data)
	if err != nil || l.URI != uri {
		return false, err
	}
	n, err := b.client.HDel(ctx, b.key(), info.Token).Result()
	if err != nil {
		return false, fmt.Errorf("failed to delete lock: %w", err)
	}
	return n > 0, nil
}
