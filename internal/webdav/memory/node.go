// Package memory 内存中的节点树，用于测试和 storage.backend=memory
package memory

import (
	"fmt"
	"sync"
	"time"

	"github.com/davcore/davcore/internal/webdav"
)

// store 一棵树共享的状态，所有节点操作都持有同一把锁
type store struct {
	mu    sync.RWMutex
	root  *Collection
	quota int64
	now   func() time.Time
	// noProps 为 true 时节点不保存死属性，交给 propertystorage 之类的插件
	noProps bool
}

// Option 配置项
type Option func(*store)

// WithQuota 设置整棵树的容量上限（字节），0 表示不限制
func WithQuota(bytes int64) Option {
	return func(s *store) { s.quota = bytes }
}

// WithClock 替换时间来源
func WithClock(now func() time.Time) Option {
	return func(s *store) { s.now = now }
}

// WithoutDeadProperties 节点不再接受死属性
func WithoutDeadProperties() Option {
	return func(s *store) { s.noProps = true }
}

// NewRoot 创建根集合
func NewRoot(opts ...Option) *Collection {
	s := &store{now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	root := newCollection(s, nil, "")
	s.root = root
	return root
}

// memNode 所有内存节点都实现，用于在同一棵树内移动节点
type memNode interface {
	webdav.Node
	base() *node
	size() int64
}

// node 节点的公共部分
type node struct {
	store    *store
	parent   *Collection
	name     string
	modified time.Time
	props    map[string]any
}

func (n *node) base() *node {
	return n
}

// Name 实现 webdav.Node
func (n *node) Name() string {
	n.store.mu.RLock()
	defer n.store.mu.RUnlock()
	return n.name
}

// LastModified 实现 webdav.Node
func (n *node) LastModified() time.Time {
	n.store.mu.RLock()
	defer n.store.mu.RUnlock()
	return n.modified
}

// SetName 在父集合内改名
func (n *node) SetName(name string) error {
	n.store.mu.Lock()
	defer n.store.mu.Unlock()

	if n.parent == nil {
		return webdav.ErrForbidden("the root node can not be renamed")
	}
	if _, ok := n.parent.children[name]; ok {
		return webdav.ErrConflict(fmt.Sprintf("a node named %s already exists", name))
	}
	self := n.parent.children[n.name]
	delete(n.parent.children, n.name)
	n.parent.record(n.name, true)
	n.name = name
	n.parent.children[name] = self
	n.parent.record(name, false)
	return nil
}

// Delete 从父集合中移除
func (n *node) Delete() error {
	n.store.mu.Lock()
	defer n.store.mu.Unlock()

	if n.parent == nil {
		return webdav.ErrForbidden("the root node can not be deleted")
	}
	delete(n.parent.children, n.name)
	n.parent.record(n.name, true)
	n.parent.touch()
	return nil
}

// Properties 实现 webdav.PropertiesProvider
func (n *node) Properties(names []string) (map[string]any, error) {
	n.store.mu.RLock()
	defer n.store.mu.RUnlock()

	out := make(map[string]any)
	if n.store.noProps {
		return out, nil
	}
	if len(names) == 0 {
		for k, v := range n.props {
			out[k] = v
		}
		return out, nil
	}
	for _, name := range names {
		if v, ok := n.props[name]; ok {
			out[name] = v
		}
	}
	return out, nil
}

// PropPatch 实现 webdav.PropertiesProvider，接受所有剩余的死属性
func (n *node) PropPatch(pp *webdav.PropPatch) {
	if n.store.noProps {
		return
	}
	pp.HandleRemaining(func(mutations map[string]any) webdav.PatchResult {
		n.store.mu.Lock()
		defer n.store.mu.Unlock()

		for name, value := range mutations {
			if value == nil {
				delete(n.props, name)
				continue
			}
			n.props[name] = value
		}
		n.touch()
		return webdav.PatchOK()
	})
}

// touch 更新修改时间，调用方需持有写锁
func (n *node) touch() {
	n.modified = n.store.now()
}
