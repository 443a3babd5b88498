package locks

import (
	"context"
	"sync"
	"time"

	"github.com/davcore/davcore/internal/webdav"
)

// MemoryBackend 进程内的锁存储
type MemoryBackend struct {
	mu    sync.Mutex
	locks map[string]*webdav.LockInfo // token -> lock
	now   func() time.Time
}

// MemoryOption 内存存储配置项
type MemoryOption func(*MemoryBackend)

// WithClock 替换时钟，测试过期时使用
func WithClock(now func() time.Time) MemoryOption {
	return func(b *MemoryBackend) { b.now = now }
}

// NewMemoryBackend 创建内存锁存储
func NewMemoryBackend(opts ...MemoryOption) *MemoryBackend {
	b := &MemoryBackend{
		locks: make(map[string]*webdav.LockInfo),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Locks 实现 Backend
func (b *MemoryBackend) Locks(_ context.Context, uri string, includeChildren bool) ([]*webdav.LockInfo, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	matched := b.matchLocked(uri, includeChildren)
	out := make([]*webdav.LockInfo, len(matched))
	for i, l := range matched {
		out[i] = cloneLock(l)
	}
	return out, nil
}

// matchLocked 调用方必须持有 mu
func (b *MemoryBackend) matchLocked(uri string, includeChildren bool) []*webdav.LockInfo {
	all := make([]*webdav.LockInfo, 0, len(b.locks))
	for _, l := range b.locks {
		all = append(all, l)
	}
	matched, expired := filterLocks(all, uri, includeChildren, b.now())
	for _, l := range expired {
		delete(b.locks, l.Token)
	}
	return matched
}

// Lock 实现 Backend
func (b *MemoryBackend) Lock(_ context.Context, uri string, info *webdav.LockInfo) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	existing := b.matchLocked(uri, info.Depth == webdav.DepthInfinity)
	if cur, ok := b.locks[info.Token]; ok {
		cur.Timeout = info.Timeout
		cur.Created = info.Created
		return nil
	}
	if c := Conflicts(existing, info); c != nil {
		return &ConflictError{Lock: cloneLock(c)}
	}

	stored := cloneLock(info)
	stored.URI = uri
	b.locks[stored.Token] = stored
	return nil
}

// Unlock 实现 Backend
func (b *MemoryBackend) Unlock(_ context.Context, uri string, info *webdav.LockInfo) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	l, ok := b.locks[info.Token]
	if !ok || l.URI != uri {
		return false, nil
	}
	delete(b.locks, info.Token)
	return true, nil
}
