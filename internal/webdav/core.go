package webdav

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/davcore/davcore/internal/webdav/utils"
	davxml "github.com/davcore/davcore/internal/webdav/xml"
)

// SyncTokenPrefix {DAV:}sync-token 的 URI 前缀
const SyncTokenPrefix = "http://davcore.dev/ns/sync/"

// CorePlugin 实现 RFC 4918 的基本方法以及核心属性
type CorePlugin struct {
	server *Server
}

// Name 实现 Plugin
func (p *CorePlugin) Name() string {
	return "core"
}

// PluginInfo 实现 InfoProvider
func (p *CorePlugin) PluginInfo() PluginInfo {
	return PluginInfo{
		Name:        p.Name(),
		Description: "The Core plugin provides a lot of the basic functionality required by WebDAV, such as a default implementation for all HTTP and WebDAV methods.",
	}
}

// Initialize 实现 Plugin
func (p *CorePlugin) Initialize(s *Server) error {
	p.server = s

	s.OnMethod(http.MethodGet, 100, p.httpGet)
	s.OnMethod(http.MethodHead, 100, p.httpHead)
	s.OnMethod(http.MethodOptions, 100, p.httpOptions)
	s.OnMethod(http.MethodPut, 100, p.httpPut)
	s.OnMethod(http.MethodDelete, 100, p.httpDelete)
	s.OnMethod("PROPFIND", 100, p.httpPropFind)
	s.OnMethod("PROPPATCH", 100, p.httpPropPatch)
	s.OnMethod("MKCOL", 100, p.httpMkCol)
	s.OnMethod("MOVE", 100, p.httpMove)
	s.OnMethod("COPY", 100, p.httpCopy)
	s.OnMethod("REPORT", 100, p.httpReport)

	s.OnPropFind(120, p.propFind)
	s.OnPropFind(150, p.propFindNode)
	s.OnPropFind(200, p.propFindLate)
	s.OnPropPatch(90, p.propPatchProtectedProperties)
	s.OnPropPatch(200, p.propPatchNode)
	return nil
}

func (p *CorePlugin) httpGet(r *Request) (bool, error) {
	caps, err := r.Tree.Capabilities(r.Path)
	if err != nil {
		return false, err
	}
	if caps.File == nil {
		return false, ErrMethodNotAllowed("GET is only allowed on files", p.server.AllowedMethods(r.Tree, r.Path))
	}
	return false, p.serveFile(r, caps)
}

func (p *CorePlugin) httpHead(r *Request) (bool, error) {
	caps, err := r.Tree.Capabilities(r.Path)
	if err != nil {
		return false, err
	}
	if caps.File == nil {
		r.Response.WriteHeader(http.StatusOK)
		return false, nil
	}
	return false, p.serveFile(r, caps)
}

// serveFile 交给 http.ServeContent 处理 Range 和 HEAD
func (p *CorePlugin) serveFile(r *Request, caps *Capabilities) error {
	file := caps.File
	header := r.Response.Header()

	contentType := file.ContentType()
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	header.Set("Content-Type", contentType)
	if etag := file.ETag(); etag != "" {
		header.Set("ETag", utils.String.QuoteETag(etag))
	}

	body, err := file.Get()
	if err != nil {
		return err
	}
	defer body.Close()

	content, ok := body.(io.ReadSeeker)
	if !ok {
		data, err := io.ReadAll(body)
		if err != nil {
			return err
		}
		content = bytes.NewReader(data)
	}

	// ServeContent 自己处理 If-Modified-Since 等条件，前面已经检查过，这里去掉
	req := r.HTTP.Clone(r.Context())
	for _, h := range []string{"If-Match", "If-None-Match", "If-Modified-Since", "If-Unmodified-Since"} {
		req.Header.Del(h)
	}
	http.ServeContent(r.Response, req, file.Name(), file.LastModified(), content)
	return nil
}

func (p *CorePlugin) httpOptions(r *Request) (bool, error) {
	header := r.Response.Header()
	header.Set("Allow", joinMethods(p.server.AllowedMethods(r.Tree, r.Path)))
	header.Set("DAV", strings.Join(p.server.Features(), ", "))
	header.Set("MS-Author-Via", "DAV")
	header.Set("Accept-Ranges", "bytes")
	header.Set("Content-Length", "0")
	r.Response.WriteHeader(http.StatusOK)
	return false, nil
}

func (p *CorePlugin) httpPut(r *Request) (bool, error) {
	// 不支持部分更新，见 RFC 7231 第 4.3.4 节
	if r.Header("Content-Range") != "" {
		return false, ErrBadRequest("Content-Range on PUT requests is forbidden")
	}

	data, err := r.Body()
	if err != nil {
		return false, WrapError(KindBadRequest, err, "could not read request body")
	}

	var (
		etag    string
		handled bool
		status  int
	)
	if r.Tree.NodeExists(r.Path) {
		etag, handled, err = p.server.UpdateFile(r, r.Path, data)
		status = http.StatusNoContent
	} else {
		etag, handled, err = p.server.CreateFile(r, r.Path, data)
		status = http.StatusCreated
	}
	if err != nil || !handled {
		return false, err
	}

	header := r.Response.Header()
	header.Set("Content-Length", "0")
	if etag != "" {
		header.Set("ETag", utils.String.QuoteETag(etag))
	}
	r.Response.WriteHeader(status)
	return false, nil
}

func (p *CorePlugin) httpDelete(r *Request) (bool, error) {
	if !r.Tree.NodeExists(r.Path) {
		return false, ErrNotFound(fmt.Sprintf("could not find node at path: %s", r.Path))
	}
	if ok, err := p.server.emit(r, EventBeforeUnbind, r.Path); err != nil || !ok {
		return false, err
	}
	if err := r.Tree.Delete(r.Path); err != nil {
		return false, err
	}
	if _, err := p.server.emit(r, EventAfterUnbind, r.Path); err != nil {
		return false, err
	}

	r.Response.Header().Set("Content-Length", "0")
	r.Response.WriteHeader(http.StatusNoContent)
	return false, nil
}

func (p *CorePlugin) httpPropFind(r *Request) (bool, error) {
	body, err := r.Body()
	if err != nil {
		return false, WrapError(KindBadRequest, err, "could not read request body")
	}

	mode := PropFindAllProps
	var props []string
	if len(bytes.TrimSpace(body)) > 0 {
		el, err := p.server.XML.Expect(davxml.DAV("propfind"), body)
		if err != nil {
			return false, WrapError(KindBadRequest, err, "invalid propfind body")
		}
		req := el.Value.(*davxml.PropFindRequest)
		switch {
		case req.PropName:
			mode = PropFindName
		case req.AllProp:
			props = req.Include
		default:
			mode = PropFindNormal
			props = req.Properties
		}
	}

	depth := r.Depth(DepthInfinity)
	results, err := p.server.PropertiesForPath(r, r.Path, props, depth, mode)
	if err != nil {
		return false, err
	}

	minimal := r.Minimal()
	ms := &Multistatus{}
	for _, pf := range results {
		ms.Responses = append(ms.Responses, ResponseFromPropFind(pf, minimal))
	}

	r.Response.Header().Set("DAV", strings.Join(p.server.Features(), ", "))
	return false, p.server.WriteMultistatus(r, ms)
}

func (p *CorePlugin) httpPropPatch(r *Request) (bool, error) {
	body, err := r.Body()
	if err != nil {
		return false, WrapError(KindBadRequest, err, "could not read request body")
	}
	el, err := p.server.XML.Expect(davxml.DAV("propertyupdate"), body)
	if err != nil {
		return false, WrapError(KindBadRequest, err, "invalid propertyupdate body")
	}
	req := el.Value.(*davxml.PropPatchRequest)

	result, err := p.server.UpdateProperties(r, r.Path, req.Properties, req.Order)
	if err != nil {
		return false, err
	}

	if r.Minimal() {
		allOK := true
		for _, status := range result {
			if status >= 300 {
				allOK = false
				break
			}
		}
		if allOK {
			r.Response.Header().Set("Content-Length", "0")
			r.Response.WriteHeader(http.StatusNoContent)
			return false, nil
		}
	}

	resp := ResponseFromPatchResult(p.server.Href(r.Path, false), result, req.Order)
	return false, p.server.WriteMultistatus(r, &Multistatus{Responses: []*Response{resp}})
}

func (p *CorePlugin) httpMkCol(r *Request) (bool, error) {
	body, err := r.Body()
	if err != nil {
		return false, WrapError(KindBadRequest, err, "could not read request body")
	}

	resourceType := []string{davxml.DAV("collection")}
	properties := map[string]any{}
	var order []string

	if len(body) > 0 {
		if !utils.String.ContentTypeIs(r.Header("Content-Type"), "application/xml", "text/xml") {
			return false, ErrUnsupportedMediaType("the request body for the MKCOL request must have an xml Content-Type")
		}
		el, err := p.server.XML.Expect(davxml.DAV("mkcol"), body)
		if err != nil {
			return false, WrapError(KindBadRequest, err, "invalid mkcol body")
		}
		req := el.Value.(*davxml.MkColRequest)
		rt, ok := req.Properties[davxml.DAV("resourcetype")].(davxml.ResourceType)
		if !ok {
			return false, ErrBadRequest("the mkcol request must include a {DAV:}resourcetype property")
		}
		resourceType = rt
		delete(req.Properties, davxml.DAV("resourcetype"))
		properties = req.Properties
		order = utils.FilterSlice(req.Order, func(name string) bool { return name != davxml.DAV("resourcetype") })
	}

	resp, err := p.server.CreateCollection(r, r.Path, NewMkCol(resourceType, properties, order))
	if err != nil {
		return false, err
	}
	if resp != nil {
		return false, p.server.WriteMultistatus(r, &Multistatus{Responses: []*Response{resp}})
	}

	r.Response.Header().Set("Content-Length", "0")
	r.Response.WriteHeader(http.StatusCreated)
	return false, nil
}

func (p *CorePlugin) httpMove(r *Request) (bool, error) {
	if !r.Tree.NodeExists(r.Path) {
		return false, ErrNotFound(fmt.Sprintf("could not find node at path: %s", r.Path))
	}
	if r.Header("Depth") != "" && r.Depth(Depth0) != DepthInfinity {
		return false, ErrBadRequest("the Depth header for MOVE requests must be infinity")
	}
	info, err := r.CopyMoveInfo()
	if err != nil {
		return false, err
	}
	s := p.server

	if info.DestinationExists {
		if ok, err := s.emit(r, EventBeforeUnbind, info.Destination); err != nil || !ok {
			return false, err
		}
	}
	if ok, err := s.emit(r, EventBeforeUnbind, r.Path); err != nil || !ok {
		return false, err
	}
	if ok, err := s.emit(r, EventBeforeBind, info.Destination); err != nil || !ok {
		return false, err
	}
	if ok, err := s.emit(r, EventBeforeMove, r.Path, info.Destination); err != nil || !ok {
		return false, err
	}

	if info.DestinationExists {
		if err := r.Tree.Delete(info.Destination); err != nil {
			return false, err
		}
		if _, err := s.emit(r, EventAfterUnbind, info.Destination); err != nil {
			return false, err
		}
	}

	if err := r.Tree.Move(r.Path, info.Destination); err != nil {
		return false, err
	}

	if _, err := s.emit(r, EventAfterMove, r.Path, info.Destination); err != nil {
		return false, err
	}
	if _, err := s.emit(r, EventAfterUnbind, r.Path); err != nil {
		return false, err
	}
	if _, err := s.emit(r, EventAfterBind, info.Destination); err != nil {
		return false, err
	}

	return false, p.writeCopyMoveStatus(r, info)
}

func (p *CorePlugin) httpCopy(r *Request) (bool, error) {
	if !r.Tree.NodeExists(r.Path) {
		return false, ErrNotFound(fmt.Sprintf("could not find node at path: %s", r.Path))
	}
	depth := r.Depth(DepthInfinity)
	if depth != Depth0 && depth != DepthInfinity {
		return false, ErrBadRequest("the Depth header for COPY requests must be 0 or infinity")
	}
	info, err := r.CopyMoveInfo()
	if err != nil {
		return false, err
	}
	s := p.server

	if ok, err := s.emit(r, EventBeforeBind, info.Destination); err != nil || !ok {
		return false, err
	}
	if info.DestinationExists {
		if ok, err := s.emit(r, EventBeforeUnbind, info.Destination); err != nil || !ok {
			return false, err
		}
		if err := r.Tree.Delete(info.Destination); err != nil {
			return false, err
		}
	}

	if err := r.Tree.Copy(r.Path, info.Destination, depth); err != nil {
		return false, err
	}
	if _, err := s.emit(r, EventAfterBind, info.Destination); err != nil {
		return false, err
	}

	return false, p.writeCopyMoveStatus(r, info)
}

func (p *CorePlugin) writeCopyMoveStatus(r *Request, info *CopyMoveInfo) error {
	r.Response.Header().Set("Content-Length", "0")
	if info.DestinationExists {
		r.Response.WriteHeader(http.StatusNoContent)
	} else {
		r.Response.WriteHeader(http.StatusCreated)
	}
	return nil
}

func (p *CorePlugin) httpReport(r *Request) (bool, error) {
	body, err := r.Body()
	if err != nil {
		return false, WrapError(KindBadRequest, err, "could not read request body")
	}
	el, err := p.server.XML.Parse(body)
	if err != nil {
		return false, WrapError(KindBadRequest, err, "invalid report body")
	}

	unhandled, err := p.server.emit(r, EventReport, el.Name, el, r.Path)
	if err != nil {
		return false, err
	}
	if unhandled {
		return false, ErrReportNotSupported(el.Name)
	}
	return false, nil
}

// propFind 核心属性
func (p *CorePlugin) propFind(r *Request, pf *PropFind, node Node) (bool, error) {
	caps, err := r.Tree.Capabilities(pf.Path())
	if err != nil {
		caps = CapabilitiesOf(node)
	}

	pf.Handle(davxml.DAV("getlastmodified"), func() any {
		if lm := node.LastModified(); !lm.IsZero() {
			return LastModified(lm)
		}
		return nil
	})

	if caps.File != nil {
		pf.Handle(davxml.DAV("getcontentlength"), func() any { return caps.File.Size() })
		pf.Handle(davxml.DAV("getetag"), func() any {
			if etag := caps.File.ETag(); etag != "" {
				return utils.String.QuoteETag(etag)
			}
			return nil
		})
		pf.Handle(davxml.DAV("getcontenttype"), func() any {
			if ct := caps.File.ContentType(); ct != "" {
				return ct
			}
			return nil
		})
	}

	if caps.Quota != nil {
		var (
			used, available int64
			quotaErr        error
			loaded          bool
		)
		quota := func() {
			if !loaded {
				loaded = true
				used, available, quotaErr = caps.Quota.QuotaInfo()
			}
		}
		pf.Handle(davxml.DAV("quota-used-bytes"), func() any {
			if quota(); quotaErr != nil {
				return nil
			}
			return used
		})
		pf.Handle(davxml.DAV("quota-available-bytes"), func() any {
			if quota(); quotaErr != nil || available < 0 {
				return nil
			}
			return available
		})
		if quotaErr != nil {
			p.server.logger.WithError(quotaErr).WithField("path", pf.Path()).Warn("failed to load quota")
		}
	}

	pf.Handle(davxml.DAV("supported-report-set"), func() any {
		return SupportedReportSet(p.server.SupportedReportSet(pf.Path(), node))
	})
	pf.Handle(davxml.DAV("resourcetype"), func() any {
		return p.server.ResourceTypes.Of(node, caps)
	})
	pf.Handle(davxml.DAV("supported-method-set"), func() any {
		return SupportedMethodSet(p.server.AllowedMethods(r.Tree, pf.Path()))
	})
	return true, nil
}

// propFindNode 节点自行保存的属性
func (p *CorePlugin) propFindNode(r *Request, pf *PropFind, node Node) (bool, error) {
	provider, ok := node.(PropertiesProvider)
	if !ok {
		return true, nil
	}

	var names []string
	if !pf.IsAllProps() {
		names = pf.Get404Properties()
		if len(names) == 0 {
			return true, nil
		}
	}
	props, err := provider.Properties(names)
	if err != nil {
		return false, err
	}
	for name, value := range props {
		if pf.GetStatus(name) == http.StatusNotFound || pf.IsAllProps() {
			pf.Set(name, value)
		}
	}
	return true, nil
}

// propFindLate 在其他插件之后运行，用同步令牌补充 getctag
func (p *CorePlugin) propFindLate(r *Request, pf *PropFind, _ Node) (bool, error) {
	ctag := davxml.Clark(davxml.NamespaceCalendarServer, "getctag")
	if pf.GetStatus(ctag) != http.StatusNotFound {
		return true, nil
	}
	tokens := []string{davxml.Clark(davxml.NamespaceDavcore, "sync-token"), davxml.DAV("sync-token")}

	values := make(map[string]any)
	for _, name := range tokens {
		if v, ok := pf.Get(name).Get(); ok {
			values[name] = v
		}
	}
	if len(values) == 0 {
		// 本次请求没有包含同步令牌，单独查询一次
		props, err := p.server.Properties(r, pf.Path(), tokens)
		if err != nil {
			return false, err
		}
		values = props
	}

	for _, name := range tokens {
		switch v := values[name].(type) {
		case string:
			pf.Set(ctag, strings.TrimPrefix(v, SyncTokenPrefix))
			return true, nil
		case int, int64:
			pf.Set(ctag, fmt.Sprint(v))
			return true, nil
		}
	}
	return true, nil
}

// propPatchProtectedProperties 受保护的属性一律 403
func (p *CorePlugin) propPatchProtectedProperties(_ *Request, _ string, pp *PropPatch) error {
	for _, name := range pp.GetRemainingMutations() {
		if utils.Contains(p.server.ProtectedProperties, name) {
			pp.SetResultCode(name, http.StatusForbidden)
		}
	}
	return nil
}

// propPatchNode 交给节点自行处理剩余的属性，节点不存在时整个请求返回 404
func (p *CorePlugin) propPatchNode(r *Request, path string, pp *PropPatch) error {
	node, err := r.Tree.NodeForPath(path)
	if err != nil {
		return err
	}
	if provider, ok := node.(PropertiesProvider); ok {
		provider.PropPatch(pp)
	}
	return nil
}
