// Package sharing 实现 WebDAV 资源共享（draft-pot-webdav-resource-sharing）
package sharing

import (
	"context"
	"fmt"
	"mime"
	"net/http"
	"strings"

	"github.com/davcore/davcore/internal/webdav"
	davxml "github.com/davcore/davcore/internal/webdav/xml"
)

// ContentType 共享请求的媒体类型
const ContentType = "application/davsharing+xml"

// Feature 写入 DAV 响应头的兼容级别
const Feature = "resource-sharing"

var (
	shareResource = davxml.DAV("share-resource")
	shareAccess   = davxml.DAV("share-access")
)

// Wrapper 把本身不支持共享的节点包装为可共享资源，返回 nil 表示不可共享
type Wrapper interface {
	Wrap(ctx context.Context, path string, node webdav.Node, owner string) webdav.Shareable
}

// TreeTracker 被删除或移动的资源需要同步更新共享记录时实现
type TreeTracker interface {
	DeleteTree(ctx context.Context, path string) error
	MoveTree(ctx context.Context, src, dst string) error
}

// Plugin 资源共享插件
type Plugin struct {
	server  *webdav.Server
	wrapper Wrapper
}

// New 创建插件，wrapper 为 nil 时只有自身实现 webdav.Shareable 的节点可共享
func New(wrapper Wrapper) *Plugin {
	return &Plugin{wrapper: wrapper}
}

// Name 实现 webdav.Plugin
func (p *Plugin) Name() string {
	return "sharing"
}

// PluginInfo 实现 webdav.InfoProvider
func (p *Plugin) PluginInfo() webdav.PluginInfo {
	return webdav.PluginInfo{
		Name:        p.Name(),
		Description: "WebDAV Resource Sharing",
		Link:        "https://tools.ietf.org/html/draft-pot-webdav-resource-sharing",
	}
}

// Features 实现 webdav.FeatureProvider
func (p *Plugin) Features() []string {
	return []string{Feature}
}

// Initialize 实现 webdav.Plugin
func (p *Plugin) Initialize(s *webdav.Server) error {
	p.server = s
	s.XML.ElementMap[shareResource] = davxml.DeserializerFunc(DecodeShareResource)
	s.ResourceTypes.Register(func(_ webdav.Node, caps *webdav.Capabilities) bool {
		return caps.Shareable != nil && caps.Shareable.ShareAccess() == webdav.ShareAccessSharedOwner
	}, davxml.DAV("shared"))
	s.OnMethod(http.MethodPost, 100, p.httpPost)
	s.OnPropFind(100, p.propFind)
	if tracker, ok := p.wrapper.(TreeTracker); ok {
		s.OnPathEvent(webdav.EventAfterUnbind, 100, func(r *webdav.Request, path string) (bool, error) {
			if err := tracker.DeleteTree(r.Context(), path); err != nil {
				p.server.Logger().WithError(err).WithField("path", path).Warn("failed to remove shares")
			}
			return true, nil
		})
		s.OnMove(webdav.EventAfterMove, 100, func(r *webdav.Request, src, dst string) (bool, error) {
			return true, tracker.MoveTree(r.Context(), src, dst)
		})
	}
	return nil
}

// HTTPMethods 实现 webdav.MethodProvider
func (p *Plugin) HTTPMethods(string) []string {
	return []string{http.MethodPost}
}

// Shareable 返回节点的可共享视图
func (p *Plugin) Shareable(r *webdav.Request, path string, node webdav.Node) webdav.Shareable {
	if s, ok := node.(webdav.Shareable); ok {
		return s
	}
	if p.wrapper == nil {
		return nil
	}
	return p.wrapper.Wrap(r.Context(), path, node, r.Principal)
}

func (p *Plugin) propFind(r *webdav.Request, pf *webdav.PropFind, node webdav.Node) (bool, error) {
	s := p.Shareable(r, pf.Path(), node)
	if s == nil {
		return true, nil
	}

	pf.Handle(shareAccess, func() any {
		return AccessValue(s.ShareAccess())
	})
	pf.Handle(davxml.DAV("invite"), func() any {
		sharees, err := s.Invitees()
		if err != nil {
			p.server.Logger().WithError(err).WithField("path", pf.Path()).Warn("failed to load invitees")
			return nil
		}
		return Invite(sharees)
	})
	pf.Handle(davxml.DAV("share-resource-uri"), func() any {
		if uri := s.ShareResourceURI(); uri != "" {
			return davxml.NewHref(uri)
		}
		return nil
	})
	return true, nil
}

func (p *Plugin) httpPost(r *webdav.Request) (bool, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header("Content-Type"))
	if mediaType != ContentType {
		return true, nil
	}

	body, err := r.Body()
	if err != nil {
		return false, err
	}
	el, err := p.server.XML.Parse(body)
	if err != nil {
		return false, webdav.WrapError(webdav.KindBadRequest, err, "malformed share-resource request")
	}
	if el.Name != shareResource {
		return false, webdav.ErrBadRequest(fmt.Sprintf("unexpected root element %s, expected %s", el.Name, shareResource))
	}

	node, err := r.Tree.NodeForPath(r.Path)
	if err != nil {
		if webdav.IsNotFound(err) {
			r.Response.WriteHeader(http.StatusOK)
			return false, nil
		}
		return false, err
	}

	s := p.Shareable(r, r.Path, node)
	if s == nil {
		return false, webdav.ErrForbidden("sharing is not allowed on this node")
	}

	sharees, _ := el.Value.([]webdav.Sharee)
	if err := s.UpdateInvitees(sharees); err != nil {
		return false, err
	}
	r.Tree.MarkDirty(r.Path)
	r.Response.WriteHeader(http.StatusOK)
	return false, nil
}

// DecodeShareResource 解析 {DAV:}share-resource，每个 sharee 必须带 href 和 share-access
func DecodeShareResource(el *davxml.Element) (any, error) {
	var sharees []webdav.Sharee
	for _, child := range el.ChildrenNamed(davxml.DAV("sharee")) {
		sharee := webdav.Sharee{
			Href:         strings.TrimSpace(child.ChildText(davxml.DAV("href"))),
			Comment:      child.ChildText(davxml.DAV("comment")),
			InviteStatus: webdav.InviteNoResponse,
		}
		if sharee.Href == "" {
			return nil, fmt.Errorf("sharee must have a href")
		}

		accessEl := child.Child(shareAccess)
		if accessEl == nil || len(accessEl.Children) == 0 {
			return nil, fmt.Errorf("sharee %s must have a share-access element", sharee.Href)
		}
		access, err := ParseAccess(accessEl.Children[0].Name)
		if err != nil {
			return nil, err
		}
		sharee.Access = access

		if prop := child.Child(davxml.DAV("prop")); prop != nil {
			sharee.Properties = make(map[string]string, len(prop.Children))
			for _, c := range prop.Children {
				sharee.Properties[c.Name] = c.Text
			}
		}
		sharees = append(sharees, sharee)
	}
	return sharees, nil
}

// ParseAccess 解析 share-access 子元素，只接受被共享者可以获得的级别
func ParseAccess(name string) (webdav.ShareAccess, error) {
	switch name {
	case davxml.DAV("read"):
		return webdav.ShareAccessRead, nil
	case davxml.DAV("read-write"):
		return webdav.ShareAccessReadWrite, nil
	case davxml.DAV("no-access"):
		return webdav.ShareAccessNoAccess, nil
	}
	return 0, fmt.Errorf("unknown share-access %s", name)
}

// AccessValue {DAV:}share-access 属性值
type AccessValue webdav.ShareAccess

// XMLSerialize 实现 davxml.Serializable
func (a AccessValue) XMLSerialize(w *davxml.Writer) error {
	return w.WriteElement(davxml.DAV(webdav.ShareAccess(a).String()), nil)
}

// Invite {DAV:}invite 属性值
type Invite []webdav.Sharee

// XMLSerialize 实现 davxml.Serializable
func (inv Invite) XMLSerialize(w *davxml.Writer) error {
	for _, sharee := range inv {
		if err := w.StartElement(davxml.DAV("sharee")); err != nil {
			return err
		}
		if err := w.WriteElement(davxml.DAV("href"), sharee.Href); err != nil {
			return err
		}
		if len(sharee.Properties) > 0 {
			props := make(map[string]any, len(sharee.Properties))
			for k, v := range sharee.Properties {
				props[k] = v
			}
			if err := w.WriteElement(davxml.DAV("prop"), props); err != nil {
				return err
			}
		}
		if err := w.WriteElement(shareAccess, AccessValue(sharee.Access)); err != nil {
			return err
		}
		if err := w.WriteElement(inviteStatusElement(sharee.InviteStatus), nil); err != nil {
			return err
		}
		if sharee.Comment != "" {
			if err := w.WriteElement(davxml.DAV("comment"), sharee.Comment); err != nil {
				return err
			}
		}
		w.EndElement()
	}
	return nil
}

func inviteStatusElement(status webdav.InviteStatus) string {
	switch status {
	case webdav.InviteAccepted:
		return davxml.DAV("invite-accepted")
	case webdav.InviteDeclined:
		return davxml.DAV("invite-declined")
	case webdav.InviteInvalid:
		return davxml.DAV("invite-invalid")
	}
	return davxml.DAV("invite-noresponse")
}
