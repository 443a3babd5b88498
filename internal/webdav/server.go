package webdav

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/davcore/davcore/internal/webdav/utils"
	davxml "github.com/davcore/davcore/internal/webdav/xml"
)

// DefaultMaxDepth Depth: infinity 时的最大遍历深度
const DefaultMaxDepth = 16

// Server WebDAV 服务器：事件总线、插件和请求分发
type Server struct {
	// XML 编解码服务，插件可以注册元素和命名空间前缀
	XML *davxml.Service
	// ResourceTypes 资源类型映射，插件可以注册新的类型
	ResourceTypes *ResourceTypeMap
	// ProtectedProperties 不能通过 PROPPATCH 修改的属性
	ProtectedProperties []string

	root        Collection
	bus         *EventBus
	plugins     []Plugin
	pluginIndex map[string]Plugin
	logger      logrus.FieldLogger
	baseURI     string
	debug       bool
	maxDepth    int
	cacheSize   int
}

// Option 服务器配置项
type Option func(*Server)

// WithLogger 设置日志
func WithLogger(logger logrus.FieldLogger) Option {
	return func(s *Server) { s.logger = logger }
}

// WithBaseURI 设置挂载路径，例如 /dav/
func WithBaseURI(base string) Option {
	return func(s *Server) { s.baseURI = normalizeBaseURI(base) }
}

// WithDebug 在错误响应中输出详细信息，生产环境不要开启
func WithDebug(debug bool) Option {
	return func(s *Server) { s.debug = debug }
}

// WithMaxDepth 设置 Depth: infinity 的遍历上限
func WithMaxDepth(depth int) Option {
	return func(s *Server) {
		if depth > 0 {
			s.maxDepth = depth
		}
	}
}

// WithXML 使用自定义的 XML 服务
func WithXML(svc *davxml.Service) Option {
	return func(s *Server) { s.XML = svc }
}

// WithTreeCacheSize 设置每个请求的节点缓存大小
func WithTreeCacheSize(size int) Option {
	return func(s *Server) { s.cacheSize = size }
}

// NewServer 创建服务器并注册核心插件
func NewServer(root Collection, opts ...Option) *Server {
	s := &Server{
		XML:           davxml.NewService(),
		ResourceTypes: NewResourceTypeMap(),
		ProtectedProperties: []string{
			davxml.DAV("getcontentlength"),
			davxml.DAV("getetag"),
			davxml.DAV("getlastmodified"),
			davxml.DAV("lockdiscovery"),
			davxml.DAV("supportedlock"),
			davxml.DAV("resourcetype"),
			davxml.DAV("quota-available-bytes"),
			davxml.DAV("quota-used-bytes"),
			davxml.DAV("supported-method-set"),
			davxml.DAV("supported-report-set"),
			davxml.DAV("sync-token"),
			davxml.DAV("current-user-principal"),
		},
		root:        root,
		bus:         NewEventBus(),
		pluginIndex: make(map[string]Plugin),
		logger:      logrus.StandardLogger(),
		baseURI:     "/",
		maxDepth:    DefaultMaxDepth,
		cacheSize:   DefaultTreeCacheSize,
	}
	for _, opt := range opts {
		opt(s)
	}
	if err := s.AddPlugin(&CorePlugin{}); err != nil {
		panic(fmt.Sprintf("webdav: initialize core plugin: %v", err))
	}
	return s
}

func normalizeBaseURI(base string) string {
	base = "/" + strings.Trim(base, "/") + "/"
	if base == "//" {
		return "/"
	}
	return base
}

// AddPlugin 注册插件并调用其 Initialize
func (s *Server) AddPlugin(p Plugin) error {
	if err := p.Initialize(s); err != nil {
		return fmt.Errorf("initialize plugin %s: %w", p.Name(), err)
	}
	s.plugins = append(s.plugins, p)
	s.pluginIndex[p.Name()] = p
	s.logger.WithField("plugin", p.Name()).Debug("plugin registered")
	return nil
}

// Plugin 按名称查找插件
func (s *Server) Plugin(name string) Plugin {
	return s.pluginIndex[name]
}

// Plugins 返回全部插件
func (s *Server) Plugins() []Plugin {
	return s.plugins
}

// PluginInfo 返回插件说明列表
func (s *Server) PluginInfo() []PluginInfo {
	infos := make([]PluginInfo, 0, len(s.plugins))
	for _, p := range s.plugins {
		if ip, ok := p.(InfoProvider); ok {
			infos = append(infos, ip.PluginInfo())
			continue
		}
		infos = append(infos, PluginInfo{Name: p.Name()})
	}
	return infos
}

// Events 返回事件总线
func (s *Server) Events() *EventBus {
	return s.bus
}

// Logger 返回日志
func (s *Server) Logger() logrus.FieldLogger {
	return s.logger
}

// BaseURI 返回挂载路径
func (s *Server) BaseURI() string {
	return s.baseURI
}

// Debug 是否开启调试输出
func (s *Server) Debug() bool {
	return s.debug
}

// MaxDepth 返回遍历上限
func (s *Server) MaxDepth() int {
	return s.maxDepth
}

// NewTree 为一个请求创建 Tree
func (s *Server) NewTree(r *http.Request) *Tree {
	root := s.root
	if binder, ok := root.(ContextBinder); ok {
		root = binder.BindContext(r.Context())
	}
	return NewTree(root, s.cacheSize)
}

// CalculatePath 把请求 URI（或完整 URL）转换为内部路径，不在挂载路径下时返回 403
func (s *Server) CalculatePath(uri string) (string, error) {
	if strings.Contains(uri, "://") {
		u, err := url.Parse(uri)
		if err != nil {
			return "", ErrBadRequest(fmt.Sprintf("invalid uri: %s", uri))
		}
		uri = u.EscapedPath()
	}
	if idx := strings.IndexByte(uri, '?'); idx >= 0 {
		uri = uri[:idx]
	}
	if !strings.HasPrefix(uri, "/") {
		uri = "/" + uri
	}

	if uri+"/" == s.baseURI {
		return "", nil
	}
	if !strings.HasPrefix(uri, s.baseURI) {
		return "", ErrForbidden(fmt.Sprintf("requested uri (%s) is out of base uri (%s)", uri, s.baseURI))
	}

	path, err := utils.Path.Decode(uri[len(s.baseURI):])
	if err != nil {
		return "", ErrBadRequest(fmt.Sprintf("invalid uri: %s", uri))
	}
	return path, nil
}

// Href 返回路径的 href，集合以斜杠结尾
func (s *Server) Href(path string, collection bool) string {
	if path == "" {
		return s.baseURI
	}
	href := s.baseURI + utils.Path.Encode(path)
	if collection {
		href += "/"
	}
	return href
}

// Features 返回 DAV 响应头的兼容级别
func (s *Server) Features() []string {
	features := []string{"1", "3", "extended-mkcol"}
	for _, p := range s.plugins {
		if fp, ok := p.(FeatureProvider); ok {
			features = append(features, fp.Features()...)
		}
	}
	return utils.RemoveDuplicates(features)
}

// AllowedMethods 返回某个路径上允许的方法：核心方法取决于节点能力，再加上插件提供的方法
func (s *Server) AllowedMethods(tree *Tree, path string) []string {
	methods := []string{http.MethodOptions}
	caps, err := tree.Capabilities(path)
	switch {
	case err != nil:
		methods = append(methods, http.MethodPut, "MKCOL")
	case caps.File != nil:
		methods = append(methods, http.MethodGet, http.MethodHead, http.MethodDelete, "PROPFIND", http.MethodPut, "PROPPATCH", "COPY", "MOVE", "REPORT")
	default:
		methods = append(methods, http.MethodHead, http.MethodDelete, "PROPFIND", "PROPPATCH", "COPY", "MOVE", "REPORT")
	}
	for _, p := range s.plugins {
		if mp, ok := p.(MethodProvider); ok {
			methods = append(methods, mp.HTTPMethods(path)...)
		}
	}
	return utils.RemoveDuplicates(methods)
}

// SupportedReportSet 返回某个节点上支持的 REPORT
func (s *Server) SupportedReportSet(path string, node Node) []string {
	var reports []string
	for _, p := range s.plugins {
		if rp, ok := p.(ReportProvider); ok {
			reports = append(reports, rp.SupportedReportSet(path, node)...)
		}
	}
	return utils.RemoveDuplicates(reports)
}

func joinMethods(methods []string) string {
	return strings.Join(methods, ", ")
}

// ServeHTTP 实现 http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, hr *http.Request) {
	rw := newResponseWriter(w)
	r := &Request{
		HTTP:     hr,
		Response: rw,
		Server:   s,
		Tree:     s.NewTree(hr),
		Method:   strings.ToUpper(hr.Method),
	}

	start := time.Now()
	path, err := s.CalculatePath(hr.URL.EscapedPath())
	if err == nil {
		r.Path = path
		err = s.invokeMethod(r)
	}
	if err != nil {
		s.handleError(r, err)
	}

	s.logger.WithFields(logrus.Fields{
		"method":  r.Method,
		"path":    r.Path,
		"status":  rw.Status(),
		"latency": time.Since(start),
	}).Debug("dav request handled")
}

func (s *Server) invokeMethod(r *Request) error {
	method := r.Method

	if ok, err := s.emit(r, EventBeforeMethod+"*"); err != nil || !ok {
		return err
	}
	if ok, err := s.emit(r, EventBeforeMethod+method); err != nil || !ok {
		return err
	}

	if err := s.checkPreconditions(r); err != nil {
		return err
	}

	if len(s.bus.Listeners(EventMethod+method)) > 0 {
		unhandled, err := s.emit(r, EventMethod+method)
		if err != nil {
			return err
		}
		if unhandled {
			return ErrNotImplemented(fmt.Sprintf("there was no plugin in the system that was willing to handle this %s method", method))
		}
	} else {
		unhandled, err := s.emit(r, EventUnknownMethod, method)
		if err != nil {
			return err
		}
		if unhandled {
			return ErrNotImplemented(fmt.Sprintf("there was no handler found for this %s method", method))
		}
	}

	if _, err := s.emit(r, EventAfterMethod+"*"); err != nil {
		s.logger.WithError(err).Warn("afterMethod listener failed")
	}
	if _, err := s.emit(r, EventAfterMethod+method); err != nil {
		s.logger.WithError(err).Warn("afterMethod listener failed")
	}
	return nil
}

func (s *Server) handleError(r *Request, err error) {
	status := StatusOf(err)
	entry := s.logger.WithError(err).WithFields(logrus.Fields{
		"method": r.Method,
		"path":   r.Path,
		"status": status,
	})
	if status >= http.StatusInternalServerError {
		entry.Error("dav request failed")
	} else {
		entry.Debug("dav request rejected")
	}

	if _, emitErr := s.emit(r, EventException, err); emitErr != nil {
		s.logger.WithError(emitErr).Warn("exception listener failed")
	}

	if r.Response.Status() != 0 {
		return
	}

	header := r.Response.Header()
	if de, ok := asDavError(err); ok {
		for k, values := range de.Header {
			for _, v := range values {
				header.Add(k, v)
			}
		}
	}
	if status == http.StatusNotModified {
		r.Response.WriteHeader(status)
		return
	}

	w := s.XML.NewWriter()
	if werr := w.Write(errorBody(err, s.debug)); werr != nil {
		r.Response.WriteHeader(status)
		return
	}
	body, werr := w.Bytes()
	if werr != nil {
		r.Response.WriteHeader(status)
		return
	}
	header.Set("Content-Type", "application/xml; charset=utf-8")
	r.Response.WriteHeader(status)
	r.Response.Write(body)
}

func asDavError(err error) (*DavError, bool) {
	var de *DavError
	ok := errors.As(err, &de)
	return de, ok
}

// WriteXML 以 root 为根元素输出 XML 响应
func (s *Server) WriteXML(r *Request, status int, root string, value any) error {
	body, err := s.XML.Write(root, value)
	if err != nil {
		return err
	}
	r.Response.Header().Set("Content-Type", "application/xml; charset=utf-8")
	r.Response.WriteHeader(status)
	_, err = r.Response.Write(body)
	return err
}

// WriteMultistatus 输出 207 响应
func (s *Server) WriteMultistatus(r *Request, ms *Multistatus) error {
	r.Response.Header().Set("Vary", "Brief,Prefer")
	return s.WriteXML(r, http.StatusMultiStatus, davxml.DAV("multistatus"), ms)
}

// checkPreconditions 统一处理 If-Match、If-None-Match、If-Modified-Since、If-Unmodified-Since 和 If
func (s *Server) checkPreconditions(r *Request) error {
	var (
		node   Node
		caps   *Capabilities
		exists bool
	)
	load := func() {
		if node != nil {
			return
		}
		c, err := r.Tree.Capabilities(r.Path)
		if err == nil {
			caps, node, exists = c, c.Node, true
		}
	}
	etagOf := func() string {
		if caps != nil && caps.File != nil {
			return caps.File.ETag()
		}
		return ""
	}
	readOnly := r.Method == http.MethodGet || r.Method == http.MethodHead

	if ifMatch := r.Header("If-Match"); ifMatch != "" {
		load()
		if !exists {
			return ErrPreconditionFailed("an If-Match header was specified and the resource did not exist")
		}
		if strings.TrimSpace(ifMatch) != "*" {
			etag := etagOf()
			if !matchETag(ifMatch, etag) {
				e := ErrPreconditionFailed("an If-Match header was specified, but none of the specified ETags matched")
				if etag != "" {
					e.WithHeader("ETag", etag)
				}
				return e
			}
		}
	}

	ifNoneMatch := r.Header("If-None-Match")
	if ifNoneMatch != "" {
		load()
		if exists {
			etag := etagOf()
			if strings.TrimSpace(ifNoneMatch) == "*" || matchETag(ifNoneMatch, etag) {
				if readOnly {
					e := &DavError{Kind: KindNotModified}
					if etag != "" {
						e.WithHeader("ETag", etag)
					}
					return e
				}
				return ErrPreconditionFailed("an If-None-Match header was specified, but the ETag matched (or * was specified)")
			}
		}
	}

	if since := r.Header("If-Modified-Since"); ifNoneMatch == "" && since != "" && readOnly {
		if date, err := http.ParseTime(since); err == nil {
			load()
			if exists {
				if lm := node.LastModified(); !lm.IsZero() && !lm.Truncate(time.Second).After(date) {
					e := &DavError{Kind: KindNotModified}
					e.WithHeader("Last-Modified", lm.UTC().Format(http.TimeFormat))
					return e
				}
			}
		}
	}

	if since := r.Header("If-Unmodified-Since"); since != "" {
		if date, err := http.ParseTime(since); err == nil {
			load()
			if exists {
				if lm := node.LastModified(); !lm.IsZero() && lm.Truncate(time.Second).After(date) {
					return ErrPreconditionFailed("an If-Unmodified-Since header was specified, but the entity has been changed since the specified date")
				}
			}
		}
	}

	return s.checkIfHeader(r)
}

func matchETag(header, etag string) bool {
	if etag == "" {
		return false
	}
	want := utils.String.TrimETag(etag)
	for _, item := range utils.String.SplitList(header) {
		// 部分客户端会在引号前加反斜杠
		item = strings.ReplaceAll(item, `\"`, `"`)
		if utils.String.TrimETag(item) == want {
			return true
		}
	}
	return false
}

func (s *Server) checkIfHeader(r *Request) error {
	lists, err := ParseIfHeader(r.Header("If"))
	if err != nil {
		return ErrBadRequest(err.Error())
	}
	for i := range lists {
		lists[i].Path = r.Path
		if lists[i].Resource != "" {
			p, err := s.CalculatePath(lists[i].Resource)
			if err != nil {
				return err
			}
			lists[i].Path = p
		}
	}
	r.IfLists = lists

	if _, err := s.emit(r, EventValidateTokens, lists); err != nil {
		return err
	}
	if len(lists) == 0 {
		return nil
	}

	for _, list := range lists {
		if s.ifListHolds(r, list) {
			return nil
		}
	}
	return ErrPreconditionFailed(fmt.Sprintf("failed to find a valid token/etag combination for %s", s.Href(lists[0].Path, false)))
}

// ifListHolds 列表中所有条件都成立时列表成立
func (s *Server) ifListHolds(r *Request, list IfList) bool {
	for _, c := range list.Conditions {
		ok := c.Valid || c.Token == ""
		if ok && c.ETag != "" {
			caps, err := r.Tree.Capabilities(list.Path)
			ok = err == nil && caps.File != nil &&
				utils.String.TrimETag(caps.File.ETag()) == utils.String.TrimETag(c.ETag)
		}
		if ok == c.Not {
			return false
		}
	}
	return true
}
