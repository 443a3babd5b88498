package webdav

import (
	"sync"

	davxml "github.com/davcore/davcore/internal/webdav/xml"
)

// ResourceTypeMatcher 判断节点是否属于某种资源类型
type ResourceTypeMatcher func(node Node, caps *Capabilities) bool

type resourceTypeRule struct {
	match ResourceTypeMatcher
	name  string
}

// ResourceTypeMap 能力到 {DAV:}resourcetype 的映射，插件可以注册新的类型
type ResourceTypeMap struct {
	mu    sync.RWMutex
	rules []resourceTypeRule
}

// NewResourceTypeMap 创建映射，默认包含 {DAV:}collection
func NewResourceTypeMap() *ResourceTypeMap {
	m := &ResourceTypeMap{}
	m.Register(func(_ Node, caps *Capabilities) bool { return caps.Collection != nil }, davxml.DAV("collection"))
	return m
}

// Register 注册资源类型
func (m *ResourceTypeMap) Register(match ResourceTypeMatcher, name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rules = append(m.rules, resourceTypeRule{match: match, name: name})
}

// Of 返回节点的资源类型（按注册顺序）
func (m *ResourceTypeMap) Of(node Node, caps *Capabilities) davxml.ResourceType {
	m.mu.RLock()
	defer m.mu.RUnlock()

	types := davxml.ResourceType{}
	for _, r := range m.rules {
		if r.match(node, caps) {
			types = append(types, r.name)
		}
	}
	return types
}
