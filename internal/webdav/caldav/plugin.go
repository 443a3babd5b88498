// Package caldav 在 WebDAV 核心之上实现 CalDAV (RFC 4791) 的日历集合
package caldav

import (
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/davcore/davcore/internal/webdav"
	"github.com/davcore/davcore/internal/webdav/utils"
	davxml "github.com/davcore/davcore/internal/webdav/xml"
)

// Feature 写入 DAV 响应头的兼容级别
const Feature = "calendar-access"

// MethodMkCalendar 建日历的方法
const MethodMkCalendar = "MKCALENDAR"

var (
	resourceTypeCalendar  = cal("calendar")
	supportedComponentSet = cal("supported-calendar-component-set")
	calendarData          = cal("calendar-data")

	// ReportMultiget calendar-multiget 报告
	ReportMultiget = cal("calendar-multiget")
)

func cal(local string) string {
	return davxml.Clark(davxml.NamespaceCalDAV, local)
}

// Calendar 日历集合，只能包含日历对象
type Calendar interface {
	webdav.Collection
	// SupportedComponents 日历接受的组件，如 VEVENT、VTODO
	SupportedComponents() []string
}

// Plugin CalDAV 插件
type Plugin struct {
	server *webdav.Server
}

// New 创建插件
func New() *Plugin {
	return &Plugin{}
}

// Name 实现 webdav.Plugin
func (p *Plugin) Name() string {
	return "caldav"
}

// PluginInfo 实现 webdav.InfoProvider
func (p *Plugin) PluginInfo() webdav.PluginInfo {
	return webdav.PluginInfo{
		Name:        p.Name(),
		Description: "Adds support for CalDAV (rfc4791)",
		Link:        "https://www.rfc-editor.org/rfc/rfc4791",
	}
}

// Features 实现 webdav.FeatureProvider
func (p *Plugin) Features() []string {
	return []string{Feature}
}

// Initialize 实现 webdav.Plugin
func (p *Plugin) Initialize(s *webdav.Server) error {
	p.server = s

	s.XML.Namespaces[davxml.NamespaceCalDAV] = "cal"
	s.XML.Namespaces[davxml.NamespaceCalendarServer] = "cs"
	s.XML.ElementMap[cal("mkcalendar")] = davxml.DeserializerFunc(davxml.DecodeMkCol)
	s.XML.ElementMap[supportedComponentSet] = davxml.DeserializerFunc(decodeComponentSet)

	s.ResourceTypes.Register(func(n webdav.Node, _ *webdav.Capabilities) bool {
		_, ok := n.(Calendar)
		return ok
	}, resourceTypeCalendar)
	s.ProtectedProperties = append(s.ProtectedProperties,
		supportedComponentSet, cal("supported-calendar-data"), calendarData)

	s.OnUnknownMethod(100, p.unknownMethod)
	s.OnPropFind(100, p.propFind)
	s.OnReport(100, p.report)
	s.OnBeforeCreateFile(100, p.beforeCreateFile)
	s.OnBeforeWriteContent(100, p.beforeWriteContent)
	return nil
}

// HTTPMethods 实现 webdav.MethodProvider
func (p *Plugin) HTTPMethods(string) []string {
	return []string{MethodMkCalendar}
}

// SupportedReportSet 实现 webdav.ReportProvider
func (p *Plugin) SupportedReportSet(_ string, node webdav.Node) []string {
	if _, ok := node.(Calendar); ok {
		return []string{ReportMultiget}
	}
	return nil
}

func decodeComponentSet(el *davxml.Element) (any, error) {
	var comps []string
	for _, c := range el.ChildrenNamed(cal("comp")) {
		name := strings.ToUpper(c.Attr("name"))
		if name == "" {
			return nil, fmt.Errorf("comp element must have a name attribute")
		}
		comps = append(comps, name)
	}
	return comps, nil
}

// ComponentSet {cal}supported-calendar-component-set 属性值
type ComponentSet []string

// XMLSerialize 实现 davxml.Serializable
func (c ComponentSet) XMLSerialize(w *davxml.Writer) error {
	for _, name := range c {
		el := &davxml.Element{Name: cal("comp"), Attrs: map[string]string{"name": name}}
		if err := w.Write(el); err != nil {
			return err
		}
	}
	return nil
}

// parentCalendar 返回路径所在的日历
func (p *Plugin) parentCalendar(tree *webdav.Tree, path string) (Calendar, bool) {
	if path == "" {
		return nil, false
	}
	parentPath, _ := utils.Path.Split(path)
	parent, err := tree.NodeForPath(parentPath)
	if err != nil {
		return nil, false
	}
	c, ok := parent.(Calendar)
	return c, ok
}

func (p *Plugin) unknownMethod(r *webdav.Request, method string) (bool, error) {
	if method != MethodMkCalendar {
		return true, nil
	}
	return false, p.httpMkCalendar(r)
}

func (p *Plugin) httpMkCalendar(r *webdav.Request) error {
	properties := map[string]any{}
	var order []string

	body, err := r.Body()
	if err != nil {
		return webdav.WrapError(webdav.KindBadRequest, err, "could not read request body")
	}
	if len(body) > 0 {
		el, err := p.server.XML.Expect(cal("mkcalendar"), body)
		if err != nil {
			return webdav.WrapError(webdav.KindBadRequest, err, "invalid mkcalendar body")
		}
		req := el.Value.(*davxml.MkColRequest)
		properties = req.Properties
		order = req.Order
		if _, ok := properties[davxml.DAV("resourcetype")]; ok {
			delete(properties, davxml.DAV("resourcetype"))
			order = utils.FilterSlice(order, func(name string) bool { return name != davxml.DAV("resourcetype") })
		}
	}

	mkcol := webdav.NewMkCol([]string{davxml.DAV("collection"), resourceTypeCalendar}, properties, order)
	resp, err := p.server.CreateCollection(r, r.Path, mkcol)
	if err != nil {
		return err
	}
	if resp != nil {
		return p.server.WriteMultistatus(r, &webdav.Multistatus{Responses: []*webdav.Response{resp}})
	}

	r.Response.Header().Set("Content-Length", "0")
	r.Response.WriteHeader(http.StatusCreated)
	return nil
}

func (p *Plugin) propFind(r *webdav.Request, pf *webdav.PropFind, node webdav.Node) (bool, error) {
	if c, ok := node.(Calendar); ok {
		pf.Handle(supportedComponentSet, func() any {
			return ComponentSet(c.SupportedComponents())
		})
		pf.Handle(cal("supported-calendar-data"), func() any {
			return &davxml.Element{Name: calendarData, Attrs: map[string]string{"content-type": "text/calendar", "version": "2.0"}}
		})
		return true, nil
	}

	file, ok := node.(webdav.File)
	if !ok {
		return true, nil
	}
	if _, ok := p.parentCalendar(r.Tree, pf.Path()); !ok {
		return true, nil
	}

	pf.Handle(davxml.DAV("getcontenttype"), func() any {
		return "text/calendar; charset=utf-8"
	})
	pf.Handle(calendarData, func() any {
		rc, err := file.Get()
		if err != nil {
			p.server.Logger().WithError(err).WithField("path", pf.Path()).Warn("failed to read calendar object")
			return nil
		}
		defer rc.Close()
		data, err := io.ReadAll(rc)
		if err != nil {
			p.server.Logger().WithError(err).WithField("path", pf.Path()).Warn("failed to read calendar object")
			return nil
		}
		return string(data)
	})
	return true, nil
}

func (p *Plugin) report(r *webdav.Request, name string, body *davxml.Element, path string) (bool, error) {
	if name != ReportMultiget {
		return true, nil
	}

	var props []string
	if prop := body.Child(davxml.DAV("prop")); prop != nil {
		props = prop.ChildNames()
	}

	paths := make([]string, 0, len(body.Children))
	for _, href := range davxml.HrefsOf(body) {
		target, err := p.server.CalculatePath(href)
		if err != nil {
			return false, err
		}
		paths = append(paths, target)
	}

	responses, err := p.server.PropertiesForMultiplePaths(r, paths, props)
	if err != nil {
		return false, err
	}
	return false, p.server.WriteMultistatus(r, &webdav.Multistatus{Responses: responses})
}

func (p *Plugin) beforeCreateFile(r *webdav.Request, _ string, data *[]byte, parent webdav.Collection, _ *bool) (bool, error) {
	c, ok := parent.(Calendar)
	if !ok {
		return true, nil
	}
	if _, err := ValidateCalendarObject(*data, c.SupportedComponents()); err != nil {
		return false, err
	}
	return true, nil
}

func (p *Plugin) beforeWriteContent(r *webdav.Request, path string, _ webdav.File, data *[]byte, _ *bool) (bool, error) {
	c, ok := p.parentCalendar(r.Tree, path)
	if !ok {
		return true, nil
	}
	if _, err := ValidateCalendarObject(*data, c.SupportedComponents()); err != nil {
		return false, err
	}
	return true, nil
}

var (
	_ webdav.Plugin          = (*Plugin)(nil)
	_ webdav.ReportProvider  = (*Plugin)(nil)
	_ webdav.FeatureProvider = (*Plugin)(nil)
	_ webdav.MethodProvider  = (*Plugin)(nil)
)
