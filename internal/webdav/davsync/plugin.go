// Package davsync 实现 RFC 6578 的 sync-collection 报告
package davsync

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/davcore/davcore/internal/webdav"
	"github.com/davcore/davcore/internal/webdav/utils"
	davxml "github.com/davcore/davcore/internal/webdav/xml"
)

// ReportName sync-collection 报告的名称
var ReportName = davxml.DAV("sync-collection")

// Request 解析后的 sync-collection 请求
type Request struct {
	// SyncToken 去掉前缀后的令牌，初始同步时为空
	SyncToken  string
	SyncLevel  int
	Limit      int
	Properties []string
}

// Plugin sync-collection 插件
type Plugin struct {
	server *webdav.Server
}

// New 创建插件
func New() *Plugin {
	return &Plugin{}
}

// Name 实现 webdav.Plugin
func (p *Plugin) Name() string {
	return "sync"
}

// PluginInfo 实现 webdav.InfoProvider
func (p *Plugin) PluginInfo() webdav.PluginInfo {
	return webdav.PluginInfo{
		Name:        p.Name(),
		Description: "Adds support for WebDAV Collection Sync (rfc6578)",
		Link:        "https://www.rfc-editor.org/rfc/rfc6578",
	}
}

// Initialize 实现 webdav.Plugin
func (p *Plugin) Initialize(s *webdav.Server) error {
	p.server = s
	s.OnReport(100, p.report)
	s.OnPropFind(100, p.propFind)
	return nil
}

// SupportedReportSet 实现 webdav.ReportProvider
func (p *Plugin) SupportedReportSet(_ string, node webdav.Node) []string {
	if sc, ok := node.(webdav.SyncCollection); ok && sc.SyncToken() != "" {
		return []string{ReportName}
	}
	return nil
}

func (p *Plugin) propFind(_ *webdav.Request, pf *webdav.PropFind, node webdav.Node) (bool, error) {
	sc, ok := node.(webdav.SyncCollection)
	if !ok {
		return true, nil
	}
	pf.Handle(davxml.DAV("sync-token"), func() any {
		if token := sc.SyncToken(); token != "" {
			return webdav.SyncTokenPrefix + token
		}
		return nil
	})
	return true, nil
}

// ParseRequest 解析请求体。未给出 sync-level 时按 Depth 头推断。
func ParseRequest(el *davxml.Element, depthHeader string) (*Request, error) {
	tokens := el.ChildrenNamed(davxml.DAV("sync-token"))
	if len(tokens) != 1 {
		return nil, webdav.ErrBadRequest("you must specify a {DAV:}sync-token element, and it must appear exactly once")
	}
	req := &Request{SyncLevel: 1}

	token := strings.TrimSpace(tokens[0].Text)
	if token != "" {
		if !strings.HasPrefix(token, webdav.SyncTokenPrefix) {
			return nil, webdav.ErrInvalidSyncToken("invalid or unknown sync token")
		}
		req.SyncToken = strings.TrimPrefix(token, webdav.SyncTokenPrefix)
	}

	depth := webdav.ParseDepth(depthHeader, webdav.Depth0)
	if level := el.Child(davxml.DAV("sync-level")); level != nil {
		if depthHeader != "" && depth != webdav.Depth0 {
			return nil, webdav.ErrBadRequest("the sync-collection report is only implemented on depth: 0")
		}
		switch strings.TrimSpace(level.Text) {
		case "1":
			req.SyncLevel = 1
		case "infinite":
			req.SyncLevel = webdav.DepthInfinity
		default:
			return nil, webdav.ErrBadRequest(fmt.Sprintf("invalid sync-level %q", level.Text))
		}
	} else if depth == webdav.DepthInfinity {
		req.SyncLevel = webdav.DepthInfinity
	}

	if limit := el.Child(davxml.DAV("limit")); limit != nil {
		n, err := strconv.Atoi(strings.TrimSpace(limit.ChildText(davxml.DAV("nresults"))))
		if err != nil || n < 0 {
			return nil, webdav.ErrBadRequest("invalid {DAV:}nresults value")
		}
		req.Limit = n
	}

	if prop := el.Child(davxml.DAV("prop")); prop != nil {
		req.Properties = prop.ChildNames()
	}
	return req, nil
}

func (p *Plugin) report(r *webdav.Request, name string, body *davxml.Element, path string) (bool, error) {
	if name != ReportName {
		return true, nil
	}

	node, err := r.Tree.NodeForPath(path)
	if err != nil {
		return false, err
	}
	sc, ok := node.(webdav.SyncCollection)
	if !ok || sc.SyncToken() == "" {
		return false, webdav.ErrReportNotSupported(ReportName)
	}

	req, err := ParseRequest(body, r.Header("Depth"))
	if err != nil {
		return false, err
	}

	changes, err := sc.Changes(req.SyncToken, req.SyncLevel, req.Limit)
	if err != nil {
		return false, err
	}
	if changes == nil {
		return false, webdav.ErrInvalidSyncToken("invalid or unknown sync token")
	}

	return false, p.writeResponse(r, path, req, changes)
}

func (p *Plugin) writeResponse(r *webdav.Request, path string, req *Request, changes *webdav.ChangeSet) error {
	var changed []string
	for _, rel := range append(append([]string{}, changes.Added...), changes.Modified...) {
		changed = append(changed, utils.Path.Join(path, rel))
	}

	responses, err := p.server.PropertiesForMultiplePaths(r, changed, req.Properties)
	if err != nil {
		return err
	}
	for _, rel := range changes.Deleted {
		responses = append(responses, &webdav.Response{
			Href:   p.server.Href(utils.Path.Join(path, rel), false),
			Status: http.StatusNotFound,
		})
	}

	return p.server.WriteMultistatus(r, &webdav.Multistatus{
		Responses: responses,
		SyncToken: webdav.SyncTokenPrefix + changes.SyncToken,
	})
}

var (
	_ webdav.Plugin         = (*Plugin)(nil)
	_ webdav.ReportProvider = (*Plugin)(nil)
)
