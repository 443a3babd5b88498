package locks

import (
	"bytes"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/davcore/davcore/internal/webdav"
	"github.com/davcore/davcore/internal/webdav/utils"
	davxml "github.com/davcore/davcore/internal/webdav/xml"
)

// Plugin 锁插件
type Plugin struct {
	backend        Backend
	server         *webdav.Server
	now            func() time.Time
	defaultTimeout int64
	maxTimeout     int64
}

// Option 插件配置项
type Option func(*Plugin)

// WithNow 替换插件使用的时钟
func WithNow(now func() time.Time) Option {
	return func(p *Plugin) { p.now = now }
}

// WithTimeouts 设置默认和最大超时（秒），非正数保持默认值
func WithTimeouts(def, max int64) Option {
	return func(p *Plugin) {
		if def > 0 {
			p.defaultTimeout = def
		}
		if max > 0 {
			p.maxTimeout = max
		}
	}
}

// New 创建锁插件
func New(backend Backend, opts ...Option) *Plugin {
	p := &Plugin{
		backend:        backend,
		now:            time.Now,
		defaultTimeout: DefaultTimeout,
		maxTimeout:     MaxTimeout,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.defaultTimeout > p.maxTimeout {
		p.defaultTimeout = p.maxTimeout
	}
	return p
}

// Name 实现 webdav.Plugin
func (p *Plugin) Name() string {
	return "locks"
}

// PluginInfo 实现 webdav.InfoProvider
func (p *Plugin) PluginInfo() webdav.PluginInfo {
	return webdav.PluginInfo{
		Name:        p.Name(),
		Description: "The locks plugin turns this server into a class-2 WebDAV server and adds support for LOCK and UNLOCK",
		Link:        "https://www.rfc-editor.org/rfc/rfc4918#section-6",
	}
}

// Features 实现 webdav.FeatureProvider
func (p *Plugin) Features() []string {
	return []string{"2"}
}

// HTTPMethods 实现 webdav.MethodProvider
func (p *Plugin) HTTPMethods(string) []string {
	return []string{"LOCK", "UNLOCK"}
}

// Initialize 实现 webdav.Plugin
func (p *Plugin) Initialize(s *webdav.Server) error {
	if p.backend == nil {
		return errors.New("locks: backend is required")
	}
	p.server = s
	s.XML.ElementMap[davxml.DAV("lockinfo")] = davxml.DeserializerFunc(decodeLockInfo)

	s.OnMethod("LOCK", 100, p.httpLock)
	s.OnMethod("UNLOCK", 100, p.httpUnlock)
	s.OnValidateTokens(10, p.validateTokens)
	s.OnPropFind(100, p.propFind)
	s.OnPathEvent(webdav.EventAfterUnbind, 100, p.afterUnbind)
	return nil
}

// Locks 返回作用于 uri 的锁：存储中的锁加上节点自身保存的锁
func (p *Plugin) Locks(r *webdav.Request, uri string, includeChildren bool) ([]*webdav.LockInfo, error) {
	locks, err := p.backend.Locks(r.Context(), uri, includeChildren)
	if err != nil {
		return nil, err
	}
	if caps, err := r.Tree.Capabilities(uri); err == nil && caps.Lockable != nil {
		nodeLocks, err := caps.Lockable.Locks()
		if err != nil {
			return nil, err
		}
		now := p.now()
		for _, l := range nodeLocks {
			if !l.Expired(now) {
				locks = append(locks, l)
			}
		}
	}
	return locks, nil
}

func (p *Plugin) href(r *webdav.Request, uri string) string {
	collection := false
	if caps, err := r.Tree.Capabilities(uri); err == nil {
		collection = caps.Collection != nil
	}
	return p.server.Href(uri, collection)
}

func (p *Plugin) discovery(r *webdav.Request, locks []*webdav.LockInfo) LockDiscovery {
	d := make(LockDiscovery, 0, len(locks))
	for _, l := range locks {
		d = append(d, ActiveLock{LockInfo: l, Root: p.href(r, l.URI)})
	}
	return d
}

// lockedError 423，响应体带上锁根
func (p *Plugin) lockedError(r *webdav.Request, lock *webdav.LockInfo) error {
	return webdav.ErrLocked("the resource you tried to edit is locked").
		WithCondition(davxml.DAV("lock-token-submitted"), &davxml.Element{Name: davxml.DAV("href"), Text: p.href(r, lock.URI)})
}

func (p *Plugin) conflictError(r *webdav.Request, lock *webdav.LockInfo) error {
	return webdav.ErrLocked("the resource is already locked").
		WithCondition(davxml.DAV("no-conflicting-lock"), &davxml.Element{Name: davxml.DAV("href"), Text: p.href(r, lock.URI)})
}

// ========================================
// LOCK / UNLOCK
// ========================================

func (p *Plugin) httpLock(r *webdav.Request) (bool, error) {
	uri := r.Path
	timeout, err := webdav.ParseTimeout(r.Header("Timeout"), p.defaultTimeout, p.maxTimeout)
	if err != nil {
		return false, webdav.ErrBadRequest(err.Error())
	}

	body, err := r.Body()
	if err != nil {
		return false, err
	}

	var (
		info    *webdav.LockInfo
		refresh bool
	)
	if len(bytes.TrimSpace(body)) > 0 {
		el, err := p.server.XML.Expect(davxml.DAV("lockinfo"), body)
		if err != nil {
			return false, webdav.ErrBadRequest(err.Error())
		}
		req, ok := el.Value.(*LockRequest)
		if !ok {
			return false, webdav.ErrBadRequest("invalid lockinfo body")
		}
		depth := r.Depth(webdav.DepthInfinity)
		if depth == webdav.Depth1 {
			return false, webdav.ErrBadRequest("the Depth header for LOCK must be 0 or infinity")
		}
		var owner string
		if req.Owner != nil {
			if owner, err = p.server.XML.MarshalFragment(req.Owner.Text, req.Owner.Children); err != nil {
				return false, err
			}
		}
		info = &webdav.LockInfo{
			Token:   NewToken(),
			Owner:   owner,
			Scope:   req.Scope,
			Depth:   depth,
			Timeout: timeout,
			URI:     uri,
		}
	} else {
		// 没有请求体时是刷新：If 头中必须带有该资源上某个锁的令牌
		existing, err := p.Locks(r, uri, false)
		if err != nil {
			return false, err
		}
		submitted := webdav.Tokens(r.IfLists)
		for _, l := range existing {
			if utils.Contains(submitted, l.Token) {
				info = l
				break
			}
		}
		if info == nil {
			if len(existing) > 0 {
				return false, p.lockedError(r, existing[0])
			}
			return false, webdav.ErrBadRequest("an xml body is required for lock requests")
		}
		refresh = true
		if r.Header("Timeout") != "" {
			info.Timeout = timeout
		}
		// 锁可能是通过祖先路径获得的
		uri = info.URI
	}
	info.Created = p.now()

	if !refresh {
		existing, err := p.Locks(r, uri, info.Depth == webdav.DepthInfinity)
		if err != nil {
			return false, err
		}
		if c := Conflicts(existing, info); c != nil {
			return false, p.conflictError(r, c)
		}
	}

	status := http.StatusOK
	if !r.Tree.NodeExists(uri) {
		if _, _, err := p.server.CreateFile(r, uri, nil); err != nil {
			return false, err
		}
		status = http.StatusCreated
	}

	if err := p.lockNode(r, uri, info); err != nil {
		return false, err
	}

	r.Response.Header().Set("Lock-Token", "<"+info.Token+">")
	err = p.server.WriteXML(r, status, davxml.DAV("prop"), map[string]any{
		davxml.DAV("lockdiscovery"): p.discovery(r, []*webdav.LockInfo{info}),
	})
	return false, err
}

func (p *Plugin) lockNode(r *webdav.Request, uri string, info *webdav.LockInfo) error {
	info.URI = uri
	if caps, err := r.Tree.Capabilities(uri); err == nil && caps.Lockable != nil {
		return caps.Lockable.Lock(info)
	}
	err := p.backend.Lock(r.Context(), uri, info)
	var ce *ConflictError
	if errors.As(err, &ce) {
		return p.conflictError(r, ce.Lock)
	}
	return err
}

func (p *Plugin) unlockNode(r *webdav.Request, lock *webdav.LockInfo) (bool, error) {
	if caps, err := r.Tree.Capabilities(lock.URI); err == nil && caps.Lockable != nil {
		ok, err := caps.Lockable.Unlock(lock)
		if err != nil || ok {
			return ok, err
		}
	}
	return p.backend.Unlock(r.Context(), lock.URI, lock)
}

func (p *Plugin) httpUnlock(r *webdav.Request) (bool, error) {
	header := r.Header("Lock-Token")
	if strings.TrimSpace(header) == "" {
		return false, webdav.ErrBadRequest("no lock token was supplied")
	}
	// 部分 Windows 客户端会省略尖括号
	token := webdav.ParseLockToken(header)

	locks, err := p.Locks(r, r.Path, false)
	if err != nil {
		return false, err
	}
	for _, l := range locks {
		if l.Token != token {
			continue
		}
		if _, err := p.unlockNode(r, l); err != nil {
			return false, err
		}
		r.Response.Header().Set("Content-Length", "0")
		r.Response.WriteHeader(http.StatusNoContent)
		return false, nil
	}
	return false, webdav.NewError(webdav.KindConflict, "the lock token does not match the request uri").
		WithCondition(davxml.DAV("lock-token-matches-request-uri"))
}

// ========================================
// 事件
// ========================================

// validateTokens 收集本次请求必须提交令牌的锁，并把 If 头中属于可用锁的令牌标记为有效
func (p *Plugin) validateTokens(r *webdav.Request, lists []webdav.IfList) error {
	var mustLocks []*webdav.LockInfo
	collect := func(uri string, includeChildren bool) error {
		locks, err := p.Locks(r, uri, includeChildren)
		if err != nil {
			return err
		}
		mustLocks = append(mustLocks, locks...)
		return nil
	}
	destination := func() (string, bool) {
		dest, err := p.server.CalculatePath(r.Header("Destination"))
		return dest, err == nil && r.Header("Destination") != ""
	}

	var err error
	switch r.Method {
	case http.MethodDelete:
		err = collect(r.Path, true)
	case "MKCOL", "MKCALENDAR", "PROPPATCH", http.MethodPut, http.MethodPatch, http.MethodPost:
		err = collect(r.Path, false)
	case "MOVE":
		err = collect(r.Path, true)
		if dest, ok := destination(); ok && err == nil {
			err = collect(dest, false)
		}
	case "COPY":
		if dest, ok := destination(); ok {
			err = collect(dest, false)
		}
	case "LOCK":
		for i := range lists {
			for j := range lists[i].Conditions {
				lists[i].Conditions[j].Valid = true
			}
		}
		return nil
	}
	if err != nil {
		return err
	}
	mustLocks = uniqueLocks(mustLocks)

	for i := range lists {
		for j := range lists[i].Conditions {
			c := &lists[i].Conditions[j]
			if !strings.HasPrefix(c.Token, TokenPrefix) {
				continue
			}
			if idx := indexOfToken(mustLocks, c.Token); idx >= 0 {
				mustLocks = append(mustLocks[:idx], mustLocks[idx+1:]...)
				c.Valid = true
				continue
			}
			// 令牌不在必须提交的锁里，可能属于 If 头中标记的其他资源，或者已经过期
			others, err := p.Locks(r, lists[i].Path, false)
			if err != nil {
				return err
			}
			c.Valid = indexOfToken(others, c.Token) >= 0
		}
	}

	if len(mustLocks) > 0 {
		return p.lockedError(r, mustLocks[0])
	}
	return nil
}

func uniqueLocks(locks []*webdav.LockInfo) []*webdav.LockInfo {
	seen := make(map[string]bool, len(locks))
	out := locks[:0]
	for _, l := range locks {
		if !seen[l.Token] {
			seen[l.Token] = true
			out = append(out, l)
		}
	}
	return out
}

func indexOfToken(locks []*webdav.LockInfo, token string) int {
	for i, l := range locks {
		if l.Token == token {
			return i
		}
	}
	return -1
}

func (p *Plugin) propFind(r *webdav.Request, pf *webdav.PropFind, _ webdav.Node) (bool, error) {
	pf.Handle(davxml.DAV("supportedlock"), func() any {
		return SupportedLock{}
	})
	pf.Handle(davxml.DAV("lockdiscovery"), func() any {
		locks, err := p.Locks(r, pf.Path(), false)
		if err != nil {
			p.server.Logger().WithError(err).WithField("path", pf.Path()).Warn("failed to load locks")
			return nil
		}
		return p.discovery(r, locks)
	})
	return true, nil
}

// afterUnbind 删除被解绑路径及其后代上的锁，祖先上的锁保持不变
func (p *Plugin) afterUnbind(r *webdav.Request, path string) (bool, error) {
	locks, err := p.backend.Locks(r.Context(), path, true)
	if err != nil {
		p.server.Logger().WithError(err).WithField("path", path).Warn("failed to load locks after unbind")
		return true, nil
	}
	for _, l := range locks {
		if !utils.Path.IsSelfOrDescendant(path, l.URI) {
			continue
		}
		if _, err := p.backend.Unlock(r.Context(), l.URI, l); err != nil {
			p.server.Logger().WithError(err).WithField("token", l.Token).Warn("failed to remove lock")
		}
	}
	return true, nil
}
