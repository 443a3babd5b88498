package memory

import (
	"bytes"
	"fmt"
	"io"
	"sort"
	"strconv"

	"github.com/davcore/davcore/internal/webdav"
	davxml "github.com/davcore/davcore/internal/webdav/xml"
)

type change struct {
	seq     int
	name    string
	deleted bool
}

// Collection 内存集合。
// 每个集合都记录直接子节点的变更，日历和通讯录以此实现 sync-collection。
type Collection struct {
	node
	children map[string]memNode
	changes  []change
	seq      int
}

func newCollection(s *store, parent *Collection, name string) *Collection {
	return &Collection{
		node:     node{store: s, parent: parent, name: name, modified: s.now(), props: make(map[string]any)},
		children: make(map[string]memNode),
	}
}

// record 记录子节点变更，调用方需持有写锁
func (c *Collection) record(name string, deleted bool) {
	c.seq++
	c.changes = append(c.changes, change{seq: c.seq, name: name, deleted: deleted})
}

func (c *Collection) size() int64 {
	var total int64
	for _, child := range c.children {
		total += child.size()
	}
	return total
}

// Children 按名称排序返回子节点
func (c *Collection) Children() ([]webdav.Node, error) {
	c.store.mu.RLock()
	defer c.store.mu.RUnlock()

	names := make([]string, 0, len(c.children))
	for name := range c.children {
		names = append(names, name)
	}
	sort.Strings(names)

	nodes := make([]webdav.Node, 0, len(names))
	for _, name := range names {
		nodes = append(nodes, c.children[name])
	}
	return nodes, nil
}

// Child 实现 webdav.Collection
func (c *Collection) Child(name string) (webdav.Node, error) {
	c.store.mu.RLock()
	defer c.store.mu.RUnlock()

	child, ok := c.children[name]
	if !ok {
		return nil, webdav.ErrNotFound(fmt.Sprintf("node %s not found", name))
	}
	return child, nil
}

// ChildExists 实现 webdav.Collection
func (c *Collection) ChildExists(name string) bool {
	c.store.mu.RLock()
	defer c.store.mu.RUnlock()
	_, ok := c.children[name]
	return ok
}

// CreateFile 实现 webdav.Collection
func (c *Collection) CreateFile(name string, r io.Reader) (string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("read file content: %w", err)
	}

	c.store.mu.Lock()
	defer c.store.mu.Unlock()

	f := &File{
		node:        node{store: c.store, parent: c, name: name, modified: c.store.now(), props: make(map[string]any)},
		data:        data,
		contentType: contentTypeOf(name),
	}
	c.attach(name, f)
	return etagOf(data), nil
}

// CreateDirectory 实现 webdav.Collection
func (c *Collection) CreateDirectory(name string) error {
	c.store.mu.Lock()
	defer c.store.mu.Unlock()
	c.attach(name, newCollection(c.store, c, name))
	return nil
}

// CreateExtendedCollection 按资源类型创建普通集合、日历或通讯录
func (c *Collection) CreateExtendedCollection(name string, mkcol *webdav.MkCol) error {
	rt := davxml.ResourceType(mkcol.ResourceType)
	calendar := rt.Is(davxml.Clark(davxml.NamespaceCalDAV, "calendar"))
	addressBook := rt.Is(davxml.Clark(davxml.NamespaceCardDAV, "addressbook"))

	for _, t := range rt {
		if t != davxml.DAV("collection") && !(calendar && t == davxml.Clark(davxml.NamespaceCalDAV, "calendar")) &&
			!(addressBook && t == davxml.Clark(davxml.NamespaceCardDAV, "addressbook")) {
			return webdav.ErrForbidden(fmt.Sprintf("resourcetype %s is not supported here", t)).
				WithCondition(davxml.DAV("valid-resourcetype"))
		}
	}
	if calendar && addressBook {
		return webdav.ErrForbidden("a collection can not be both a calendar and an address book").
			WithCondition(davxml.DAV("valid-resourcetype"))
	}

	switch {
	case calendar:
		components := DefaultCalendarComponents
		propName := davxml.Clark(davxml.NamespaceCalDAV, "supported-calendar-component-set")
		if v, ok := mkcol.GetMutations()[propName].([]string); ok && len(v) > 0 {
			components = v
			mkcol.Handle([]string{propName}, func(map[string]any) webdav.PatchResult { return webdav.PatchOK() })
		}
		c.store.mu.Lock()
		defer c.store.mu.Unlock()
		c.attach(name, &Calendar{Collection: newCollection(c.store, c, name), components: components})
	case addressBook:
		c.store.mu.Lock()
		defer c.store.mu.Unlock()
		c.attach(name, &AddressBook{Collection: newCollection(c.store, c, name)})
	default:
		return c.CreateDirectory(name)
	}
	return nil
}

// attach 添加子节点，调用方需持有写锁
func (c *Collection) attach(name string, child memNode) {
	c.children[name] = child
	c.record(name, false)
	c.touch()
}

// QuotaInfo 整棵树的用量；未设置上限时 available 为 -1
func (c *Collection) QuotaInfo() (int64, int64, error) {
	c.store.mu.RLock()
	defer c.store.mu.RUnlock()

	used := c.store.root.size()
	if c.store.quota <= 0 {
		return used, -1, nil
	}
	available := c.store.quota - used
	if available < 0 {
		available = 0
	}
	return used, available, nil
}

// MoveInto 在同一棵树内直接移动节点，保留节点类型和属性
func (c *Collection) MoveInto(targetName, _ string, source webdav.Node) (bool, error) {
	src, ok := source.(memNode)
	if !ok || src.base().store != c.store {
		return false, nil
	}

	c.store.mu.Lock()
	defer c.store.mu.Unlock()

	b := src.base()
	if b.parent == nil {
		return false, webdav.ErrForbidden("the root node can not be moved")
	}
	delete(b.parent.children, b.name)
	b.parent.record(b.name, true)
	b.parent.touch()

	b.parent = c
	b.name = targetName
	c.attach(targetName, src)
	return true, nil
}

// syncToken 当前同步令牌，调用方需持有读锁
func (c *Collection) syncToken() string {
	return strconv.Itoa(c.seq)
}

// changesSince 汇总自 token 以来的变更。
// token 为空时返回全部子节点；令牌无法识别时返回 nil。
func (c *Collection) changesSince(token string, limit int) *webdav.ChangeSet {
	c.store.mu.RLock()
	defer c.store.mu.RUnlock()

	if token == "" {
		set := &webdav.ChangeSet{SyncToken: c.syncToken()}
		for name := range c.children {
			set.Added = append(set.Added, name)
		}
		sort.Strings(set.Added)
		return set
	}

	from, err := strconv.Atoi(token)
	if err != nil || from < 0 || from > c.seq {
		return nil
	}

	type state struct {
		added   bool
		deleted bool
	}
	var (
		order  []string
		states = make(map[string]*state)
		last   = from
	)
	for _, ch := range c.changes {
		if ch.seq <= from {
			continue
		}
		st, ok := states[ch.name]
		if !ok {
			if limit > 0 && len(order) >= limit {
				break
			}
			st = &state{added: !c.existedAt(ch.name, from)}
			states[ch.name] = st
			order = append(order, ch.name)
		}
		st.deleted = ch.deleted
		last = ch.seq
	}

	set := &webdav.ChangeSet{SyncToken: strconv.Itoa(last)}
	for _, name := range order {
		st := states[name]
		switch {
		case st.deleted:
			set.Deleted = append(set.Deleted, name)
		case st.added:
			set.Added = append(set.Added, name)
		default:
			set.Modified = append(set.Modified, name)
		}
	}
	return set
}

// existedAt 判断子节点在 seq 时刻是否存在
func (c *Collection) existedAt(name string, seq int) bool {
	exists := false
	for _, ch := range c.changes {
		if ch.seq > seq {
			break
		}
		if ch.name == name {
			exists = !ch.deleted
		}
	}
	return exists
}

// Import 直接写入文件，便于测试和初始化数据
func (c *Collection) Import(name string, data []byte) error {
	_, err := c.CreateFile(name, bytes.NewReader(data))
	return err
}
