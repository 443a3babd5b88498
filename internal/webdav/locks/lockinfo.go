package locks

import (
	"fmt"
	"strings"

	"github.com/davcore/davcore/internal/webdav"
	davxml "github.com/davcore/davcore/internal/webdav/xml"
)

// LockRequest {DAV:}lockinfo 请求体
type LockRequest struct {
	Scope webdav.LockScope
	Owner *davxml.Complex
}

// decodeLockInfo 解析 lockinfo，未指定 lockscope 时按排他锁处理
func decodeLockInfo(el *davxml.Element) (any, error) {
	req := &LockRequest{Scope: webdav.LockScopeExclusive}
	if scope := el.Child(davxml.DAV("lockscope")); scope != nil && scope.Child(davxml.DAV("shared")) != nil {
		req.Scope = webdav.LockScopeShared
	}
	if lockType := el.Child(davxml.DAV("locktype")); lockType != nil && lockType.Child(davxml.DAV("write")) == nil {
		return nil, fmt.Errorf("only write locks are supported")
	}
	if owner := el.Child(davxml.DAV("owner")); owner != nil {
		req.Owner = &davxml.Complex{Text: owner.Text, Children: owner.Children}
	}
	return req, nil
}

// ActiveLock lockdiscovery 中的一项，Root 为锁根的 href
type ActiveLock struct {
	*webdav.LockInfo
	Root string
}

// LockDiscovery {DAV:}lockdiscovery 的值
type LockDiscovery []ActiveLock

// XMLSerialize 实现 davxml.Serializable
func (d LockDiscovery) XMLSerialize(w *davxml.Writer) error {
	for _, l := range d {
		if err := w.StartElement(davxml.DAV("activelock")); err != nil {
			return err
		}
		fields := []struct {
			name  string
			value any
		}{
			{davxml.DAV("lockscope"), davxml.EmptyElements{davxml.DAV(string(l.Scope))}},
			{davxml.DAV("locktype"), davxml.EmptyElements{davxml.DAV("write")}},
			{davxml.DAV("lockroot"), davxml.NewHref(l.Root)},
			{davxml.DAV("depth"), webdav.FormatDepth(l.Depth)},
			{davxml.DAV("timeout"), fmt.Sprintf("Second-%d", l.Timeout)},
			{davxml.DAV("locktoken"), davxml.NewHref(l.Token)},
		}
		for _, f := range fields {
			if err := w.WriteElement(f.name, f.value); err != nil {
				return err
			}
		}
		if l.Owner != "" {
			if err := w.WriteElement(davxml.DAV("owner"), ownerValue(l.Owner)); err != nil {
				return err
			}
		}
		w.EndElement()
	}
	return nil
}

// ownerValue 还原 LOCK 时保存的 owner 片段，非片段的旧值按文本输出
func ownerValue(owner string) any {
	if !strings.HasPrefix(owner, "<") {
		return owner
	}
	el, err := davxml.Decode([]byte(owner), nil)
	if err != nil {
		return owner
	}
	return &davxml.Complex{Text: el.Text, Children: el.Children}
}

// SupportedLock {DAV:}supportedlock：排他和共享写锁
type SupportedLock struct{}

// XMLSerialize 实现 davxml.Serializable
func (SupportedLock) XMLSerialize(w *davxml.Writer) error {
	for _, scope := range []webdav.LockScope{webdav.LockScopeExclusive, webdav.LockScopeShared} {
		if err := w.StartElement(davxml.DAV("lockentry")); err != nil {
			return err
		}
		if err := w.WriteElement(davxml.DAV("lockscope"), davxml.EmptyElements{davxml.DAV(string(scope))}); err != nil {
			return err
		}
		if err := w.WriteElement(davxml.DAV("locktype"), davxml.EmptyElements{davxml.DAV("write")}); err != nil {
			return err
		}
		w.EndElement()
	}
	return nil
}
