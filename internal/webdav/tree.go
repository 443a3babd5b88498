package webdav

import (
	"fmt"
	"net/http"
	"sort"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/davcore/davcore/internal/webdav/utils"
)

// DefaultTreeCacheSize 每个请求的节点缓存上限
const DefaultTreeCacheSize = 512

type cachedNode struct {
	node Node
	caps *Capabilities
}

// Tree 把路径解析为节点，并在一个请求内缓存解析结果
type Tree struct {
	root  Collection
	cache *lru.Cache[string, *cachedNode]
}

// NewTree 创建 Tree，size <= 0 时使用默认缓存大小
func NewTree(root Collection, size int) *Tree {
	if size <= 0 {
		size = DefaultTreeCacheSize
	}
	cache, err := lru.New[string, *cachedNode](size)
	if err != nil {
		panic(fmt.Sprintf("webdav: create node cache: %v", err))
	}
	return &Tree{root: root, cache: cache}
}

// Root 返回根节点
func (t *Tree) Root() Collection {
	return t.root
}

func (t *Tree) lookup(path string) (*cachedNode, error) {
	path = utils.Path.Normalize(path)
	if c, ok := t.cache.Get(path); ok {
		return c, nil
	}

	var node Node
	if path == "" {
		node = t.root
	} else {
		parentPath, name := utils.Path.Split(path)
		parent, err := t.lookup(parentPath)
		if err != nil {
			return nil, err
		}
		if parent.caps.Collection == nil {
			return nil, ErrNotFound(fmt.Sprintf("could not find node at path: %s", path))
		}
		node, err = parent.caps.Collection.Child(name)
		if err != nil {
			return nil, err
		}
	}

	c := &cachedNode{node: node, caps: CapabilitiesOf(node)}
	t.cache.Add(path, c)
	return c, nil
}

// NodeForPath 返回路径对应的节点，不存在时返回 NotFound
func (t *Tree) NodeForPath(path string) (Node, error) {
	c, err := t.lookup(path)
	if err != nil {
		return nil, err
	}
	return c.node, nil
}

// Capabilities 返回路径对应节点的能力集合
func (t *Tree) Capabilities(path string) (*Capabilities, error) {
	c, err := t.lookup(path)
	if err != nil {
		return nil, err
	}
	return c.caps, nil
}

// NodeExists 判断节点是否存在
func (t *Tree) NodeExists(path string) bool {
	path = utils.Path.Normalize(path)
	if path == "" {
		return true
	}
	parentPath, name := utils.Path.Split(path)
	parent, err := t.lookup(parentPath)
	if err != nil || parent.caps.Collection == nil {
		return false
	}
	if _, ok := t.cache.Get(path); ok {
		return true
	}
	return parent.caps.Collection.ChildExists(name)
}

// Children 返回集合的子节点，并把它们放入缓存
func (t *Tree) Children(path string) ([]Node, error) {
	path = utils.Path.Normalize(path)
	c, err := t.lookup(path)
	if err != nil {
		return nil, err
	}
	if c.caps.Collection == nil {
		return nil, nil
	}
	children, err := c.caps.Collection.Children()
	if err != nil {
		return nil, err
	}
	for _, child := range children {
		childPath := utils.Path.Join(path, child.Name())
		if _, ok := t.cache.Get(childPath); !ok {
			t.cache.Add(childPath, &cachedNode{node: child, caps: CapabilitiesOf(child)})
		}
	}
	return children, nil
}

// MultipleNodes 批量解析，不存在的路径被忽略
func (t *Tree) MultipleNodes(paths []string) map[string]Node {
	out := make(map[string]Node, len(paths))
	for _, p := range paths {
		if node, err := t.NodeForPath(p); err == nil {
			out[p] = node
		}
	}
	return out
}

// Delete 删除节点
func (t *Tree) Delete(path string) error {
	node, err := t.NodeForPath(path)
	if err != nil {
		return err
	}
	if err := node.Delete(); err != nil {
		return err
	}
	t.MarkDirty(path)
	return nil
}

// Copy 复制节点。depth 为 0 时集合只复制自身。
func (t *Tree) Copy(src, dst string, depth int) error {
	source, err := t.NodeForPath(src)
	if err != nil {
		return err
	}
	dstParentPath, dstName := utils.Path.Split(dst)
	parent, err := t.Capabilities(dstParentPath)
	if err != nil {
		return err
	}
	if parent.Collection == nil {
		return ErrConflict("the destination parent is not a collection")
	}

	if parent.CopyTarget != nil && depth == DepthInfinity {
		ok, err := parent.CopyTarget.CopyInto(dstName, src, source)
		if err != nil {
			return err
		}
		if ok {
			t.MarkDirty(dst)
			return nil
		}
	}

	if err := t.copyNode(source, parent.Collection, dstName, depth); err != nil {
		return err
	}
	t.MarkDirty(dst)
	return nil
}

func (t *Tree) copyNode(source Node, dstParent Collection, name string, depth int) error {
	caps := CapabilitiesOf(source)

	switch {
	case caps.File != nil:
		r, err := caps.File.Get()
		if err != nil {
			return err
		}
		_, err = dstParent.CreateFile(name, r)
		r.Close()
		if err != nil {
			return err
		}
	case caps.Collection != nil:
		if err := dstParent.CreateDirectory(name); err != nil {
			return err
		}
	default:
		return ErrForbidden("this node can not be copied")
	}

	target, err := dstParent.Child(name)
	if err != nil {
		return err
	}

	if caps.Collection != nil && depth != Depth0 {
		targetCollection, ok := target.(Collection)
		if !ok {
			return ErrConflict("copied collection is not a collection")
		}
		children, err := caps.Collection.Children()
		if err != nil {
			return err
		}
		for _, child := range children {
			if err := t.copyNode(child, targetCollection, child.Name(), depth); err != nil {
				return err
			}
		}
	}

	if caps.Properties != nil {
		if dst, ok := target.(PropertiesProvider); ok {
			props, err := caps.Properties.Properties(nil)
			if err != nil {
				return err
			}
			if len(props) > 0 {
				pp := NewPropPatch(props)
				dst.PropPatch(pp)
				if !pp.Commit() {
					return ErrConflict("the destination rejected properties: " + strings.Join(rejectedProperties(pp), ", "))
				}
			}
		}
	}
	return nil
}

// rejectedProperties 提交失败时真正被拒绝的属性，不含连带失败的 424
func rejectedProperties(pp *PropPatch) []string {
	var names []string
	for name, status := range pp.Result() {
		if status >= 300 && status != http.StatusFailedDependency {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// Move 移动节点：优先使用 MoveTarget，同一父节点下改名，否则复制后删除
func (t *Tree) Move(src, dst string) error {
	source, err := t.NodeForPath(src)
	if err != nil {
		return err
	}
	srcParentPath, _ := utils.Path.Split(src)
	dstParentPath, dstName := utils.Path.Split(dst)

	parent, err := t.Capabilities(dstParentPath)
	if err != nil {
		return err
	}

	moved := false
	if parent.MoveTarget != nil {
		moved, err = parent.MoveTarget.MoveInto(dstName, src, source)
		if err != nil {
			return err
		}
	}
	if !moved {
		if srcParentPath == dstParentPath {
			if err := source.SetName(dstName); err != nil {
				return err
			}
		} else {
			if err := t.Copy(src, dst, DepthInfinity); err != nil {
				return err
			}
			if err := source.Delete(); err != nil {
				return err
			}
		}
	}

	t.MarkDirty(src)
	t.MarkDirty(dst)
	return nil
}

// MarkDirty 从缓存中移除路径及其所有子路径
func (t *Tree) MarkDirty(path string) {
	path = utils.Path.Normalize(path)
	for _, key := range t.cache.Keys() {
		if utils.Path.IsSelfOrDescendant(path, key) {
			t.cache.Remove(key)
		}
	}
}
