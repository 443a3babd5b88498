// Package carddav 在 WebDAV 核心之上实现 CardDAV (RFC 6352) 的通讯录
package carddav

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/emersion/go-vcard"
	"github.com/google/uuid"

	"github.com/davcore/davcore/internal/webdav"
	"github.com/davcore/davcore/internal/webdav/utils"
	davxml "github.com/davcore/davcore/internal/webdav/xml"
)

// Feature 写入 DAV 响应头的兼容级别
const Feature = "addressbook"

var (
	resourceTypeAddressBook = card("addressbook")
	addressData             = card("address-data")

	// ReportMultiget addressbook-multiget 报告
	ReportMultiget = card("addressbook-multiget")
)

func card(local string) string {
	return davxml.Clark(davxml.NamespaceCardDAV, local)
}

// AddressBook 通讯录集合，只能包含 vCard
type AddressBook interface {
	webdav.Collection
	IsAddressBook()
}

// Plugin CardDAV 插件
type Plugin struct {
	server *webdav.Server
}

// New 创建插件
func New() *Plugin {
	return &Plugin{}
}

// Name 实现 webdav.Plugin
func (p *Plugin) Name() string {
	return "carddav"
}

// PluginInfo 实现 webdav.InfoProvider
func (p *Plugin) PluginInfo() webdav.PluginInfo {
	return webdav.PluginInfo{
		Name:        p.Name(),
		Description: "Adds support for CardDAV (rfc6352)",
		Link:        "https://www.rfc-editor.org/rfc/rfc6352",
	}
}

// Features 实现 webdav.FeatureProvider
func (p *Plugin) Features() []string {
	return []string{Feature}
}

// Initialize 实现 webdav.Plugin
func (p *Plugin) Initialize(s *webdav.Server) error {
	p.server = s

	s.XML.Namespaces[davxml.NamespaceCardDAV] = "card"
	s.ResourceTypes.Register(func(n webdav.Node, _ *webdav.Capabilities) bool {
		_, ok := n.(AddressBook)
		return ok
	}, resourceTypeAddressBook)
	s.ProtectedProperties = append(s.ProtectedProperties, card("supported-address-data"), addressData)

	s.OnPropFind(100, p.propFind)
	s.OnReport(100, p.report)
	s.OnBeforeCreateFile(100, p.beforeCreateFile)
	s.OnBeforeWriteContent(100, p.beforeWriteContent)
	return nil
}

// SupportedReportSet 实现 webdav.ReportProvider
func (p *Plugin) SupportedReportSet(_ string, node webdav.Node) []string {
	if _, ok := node.(AddressBook); ok {
		return []string{ReportMultiget}
	}
	return nil
}

func (p *Plugin) parentAddressBook(tree *webdav.Tree, path string) bool {
	if path == "" {
		return false
	}
	parentPath, _ := utils.Path.Split(path)
	parent, err := tree.NodeForPath(parentPath)
	if err != nil {
		return false
	}
	_, ok := parent.(AddressBook)
	return ok
}

// ValidateCard 校验 vCard，缺少 UID 时补上并返回新的数据
func ValidateCard(data []byte) ([]byte, bool, error) {
	trimmed := strings.ToUpper(strings.TrimSpace(string(data)))
	if strings.HasPrefix(trimmed, "BEGIN:") && !strings.HasPrefix(trimmed, "BEGIN:VCARD") {
		return nil, false, webdav.ErrUnsupportedMediaType("this collection can only support vcard objects").
			WithCondition(card("supported-address-data"))
	}

	c, err := vcard.NewDecoder(bytes.NewReader(data)).Decode()
	if err != nil {
		return nil, false, webdav.ErrUnsupportedMediaType(fmt.Sprintf("this resource only supports valid vCard data: %v", err)).
			WithCondition(card("valid-address-data"))
	}
	if c.Value(vcard.FieldFormattedName) == "" {
		return nil, false, webdav.ErrUnsupportedMediaType("the FN property is required").
			WithCondition(card("valid-address-data"))
	}
	if c.Value(vcard.FieldUID) != "" {
		return data, false, nil
	}

	c.SetValue(vcard.FieldUID, uuid.NewString())
	var buf bytes.Buffer
	if err := vcard.NewEncoder(&buf).Encode(c); err != nil {
		return nil, false, err
	}
	return buf.Bytes(), true, nil
}

func validateInto(data *[]byte, modified *bool) error {
	out, changed, err := ValidateCard(*data)
	if err != nil {
		return err
	}
	if changed {
		*data = out
		*modified = true
	}
	return nil
}

func (p *Plugin) beforeCreateFile(_ *webdav.Request, _ string, data *[]byte, parent webdav.Collection, modified *bool) (bool, error) {
	if _, ok := parent.(AddressBook); !ok {
		return true, nil
	}
	if err := validateInto(data, modified); err != nil {
		return false, err
	}
	return true, nil
}

func (p *Plugin) beforeWriteContent(r *webdav.Request, path string, _ webdav.File, data *[]byte, modified *bool) (bool, error) {
	if !p.parentAddressBook(r.Tree, path) {
		return true, nil
	}
	if err := validateInto(data, modified); err != nil {
		return false, err
	}
	return true, nil
}

// addressDataTypes {card}supported-address-data 属性值
type addressDataTypes []string

// XMLSerialize 实现 davxml.Serializable
func (t addressDataTypes) XMLSerialize(w *davxml.Writer) error {
	for _, version := range t {
		el := &davxml.Element{
			Name:  card("address-data-type"),
			Attrs: map[string]string{"content-type": "text/vcard", "version": version},
		}
		if err := w.Write(el); err != nil {
			return err
		}
	}
	return nil
}

func (p *Plugin) propFind(r *webdav.Request, pf *webdav.PropFind, node webdav.Node) (bool, error) {
	if _, ok := node.(AddressBook); ok {
		pf.Handle(card("supported-address-data"), func() any {
			return addressDataTypes{"3.0", "4.0"}
		})
		return true, nil
	}

	file, ok := node.(webdav.File)
	if !ok || !p.parentAddressBook(r.Tree, pf.Path()) {
		return true, nil
	}

	pf.Handle(davxml.DAV("getcontenttype"), func() any {
		return "text/vcard; charset=utf-8"
	})
	pf.Handle(addressData, func() any {
		rc, err := file.Get()
		if err != nil {
			p.server.Logger().WithError(err).WithField("path", pf.Path()).Warn("failed to read vcard")
			return nil
		}
		defer rc.Close()
		data, err := io.ReadAll(rc)
		if err != nil {
			p.server.Logger().WithError(err).WithField("path", pf.Path()).Warn("failed to read vcard")
			return nil
		}
		return string(data)
	})
	return true, nil
}

func (p *Plugin) report(r *webdav.Request, name string, body *davxml.Element, _ string) (bool, error) {
	if name != ReportMultiget {
		return true, nil
	}

	var props []string
	if prop := body.Child(davxml.DAV("prop")); prop != nil {
		props = prop.ChildNames()
	}

	hrefs := davxml.HrefsOf(body)
	paths := make([]string, 0, len(hrefs))
	for _, href := range hrefs {
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

var (
	_ webdav.Plugin          = (*Plugin)(nil)
	_ webdav.ReportProvider  = (*Plugin)(nil)
	_ webdav.FeatureProvider = (*Plugin)(nil)
)
