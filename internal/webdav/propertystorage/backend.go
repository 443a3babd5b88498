// Package propertystorage 为不自行保存属性的节点提供死属性存储
package propertystorage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/davcore/davcore/internal/types"
	"github.com/davcore/davcore/internal/webdav/utils"
)

// Backend 死属性存储
type Backend interface {
	// Get 返回 path 上的属性，names 为空时返回全部
	Get(ctx context.Context, path string, names []string) ([]types.Property, error)
	// Apply 原子地写入 set 并删除 remove 中的属性
	Apply(ctx context.Context, path string, set []types.Property, remove []string) error
	// Delete 删除 path 及其后代上的全部属性
	Delete(ctx context.Context, path string) error
	// Move 把 src 及其后代上的属性移到 dst 下
	Move(ctx context.Context, src, dst string) error
}

// MemoryBackend 内存中的死属性存储
type MemoryBackend struct {
	mu    sync.RWMutex
	props map[string]map[string]types.Property
	now   func() time.Time
}

// NewMemoryBackend 创建内存存储
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{props: make(map[string]map[string]types.Property), now: time.Now}
}

// Get 实现 Backend
func (b *MemoryBackend) Get(_ context.Context, path string, names []string) ([]types.Property, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	stored := b.props[path]
	var out []types.Property
	if len(names) == 0 {
		for _, p := range stored {
			out = append(out, p)
		}
	} else {
		for _, name := range names {
			if p, ok := stored[name]; ok {
				out = append(out, p)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Apply 实现 Backend
func (b *MemoryBackend) Apply(_ context.Context, path string, set []types.Property, remove []string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	stored := b.props[path]
	if stored == nil {
		stored = make(map[string]types.Property)
		b.props[path] = stored
	}
	now := b.now()
	for _, p := range set {
		p.Path = path
		p.UpdatedAt = now
		stored[p.Name] = p
	}
	for _, name := range remove {
		delete(stored, name)
	}
	if len(stored) == 0 {
		delete(b.props, path)
	}
	return nil
}

// Delete 实现 Backend
func (b *MemoryBackend) Delete(_ context.Context, path string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for p := range b.props {
		if utils.Path.IsSelfOrDescendant(path, p) {
			delete(b.props, p)
		}
	}
	return nil
}

// Move 实现 Backend
func (b *MemoryBackend) Move(_ context.Context, src, dst string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	moved := make(map[string]map[string]types.Property)
	for p, stored := range b.props {
		if utils.Path.IsSelfOrDescendant(src, p) {
			moved[utils.Path.Rebase(p, src, dst)] = stored
			delete(b.props, p)
		}
	}
	for p := range b.props {
		if utils.Path.IsSelfOrDescendant(dst, p) {
			delete(b.props, p)
		}
	}
	for p, stored := range moved {
		for name, prop := range stored {
			prop.Path = p
			stored[name] = prop
		}
		b.props[p] = stored
	}
	return nil
}
