package propertystorage

import (
	"errors"
	"net/http"

	"github.com/davcore/davcore/internal/types"
	"github.com/davcore/davcore/internal/webdav"
	"github.com/davcore/davcore/internal/webdav/validators"
)

// Plugin 把剩余的 PROPPATCH 属性写入 Backend，并在 PROPFIND 时读回
type Plugin struct {
	backend   Backend
	server    *webdav.Server
	validator *validators.CompositeValidator

	// PathFilter 返回 false 的路径不使用本插件
	PathFilter func(path string) bool
}

// Option 插件配置项
type Option func(*Plugin)

// WithPathFilter 只在 filter 返回 true 的路径上保存属性
func WithPathFilter(filter func(path string) bool) Option {
	return func(p *Plugin) { p.PathFilter = filter }
}

// WithValidator 替换默认的校验规则
func WithValidator(v *validators.CompositeValidator) Option {
	return func(p *Plugin) { p.validator = v }
}

// New 创建插件
func New(backend Backend, opts ...Option) *Plugin {
	p := &Plugin{backend: backend, validator: validators.NewDefaultValidator(0)}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Name 实现 webdav.Plugin
func (p *Plugin) Name() string {
	return "property-storage"
}

// PluginInfo 实现 webdav.InfoProvider
func (p *Plugin) PluginInfo() webdav.PluginInfo {
	return webdav.PluginInfo{
		Name:        p.Name(),
		Description: "Stores arbitrary (dead) properties for resources that do not persist them themselves",
	}
}

// Initialize 实现 webdav.Plugin
func (p *Plugin) Initialize(s *webdav.Server) error {
	if p.backend == nil {
		return errors.New("propertystorage: backend is required")
	}
	p.server = s
	s.OnPropFind(130, p.propFind)
	s.OnPropPatch(300, p.propPatch)
	s.OnMove(webdav.EventAfterMove, 100, p.afterMove)
	s.OnPathEvent(webdav.EventAfterUnbind, 100, p.afterUnbind)
	return nil
}

func (p *Plugin) enabled(path string) bool {
	return p.PathFilter == nil || p.PathFilter(path)
}

// encode 字符串按文本保存，其余值序列化为 XML
func (p *Plugin) encode(name string, value any) (types.Property, error) {
	if s, ok := value.(string); ok {
		return types.Property{Name: name, Type: types.ValueText, Value: s}, nil
	}
	data, err := p.server.XML.MarshalValue(value)
	if err != nil {
		return types.Property{}, err
	}
	return types.Property{Name: name, Type: types.ValueXML, Value: data}, nil
}

func (p *Plugin) decode(prop types.Property) (any, error) {
	if prop.Type != types.ValueXML {
		return prop.Value, nil
	}
	c, err := p.server.XML.UnmarshalFragment(prop.Value)
	if err != nil {
		return nil, err
	}
	if len(c.Children) == 0 {
		return c.Text, nil
	}
	return c, nil
}

func (p *Plugin) propFind(r *webdav.Request, pf *webdav.PropFind, _ webdav.Node) (bool, error) {
	if !p.enabled(pf.Path()) {
		return true, nil
	}
	var names []string
	if !pf.IsAllProps() {
		names = pf.Get404Properties()
		if len(names) == 0 {
			return true, nil
		}
	}

	props, err := p.backend.Get(r.Context(), pf.Path(), names)
	if err != nil {
		return false, err
	}
	for _, prop := range props {
		if status := pf.GetStatus(prop.Name); status != 0 && status != http.StatusNotFound {
			continue
		}
		value, err := p.decode(prop)
		if err != nil {
			p.server.Logger().WithError(err).WithField("property", prop.Name).Warn("skipping unreadable property")
			continue
		}
		pf.Set(prop.Name, value)
	}
	return true, nil
}

func (p *Plugin) propPatch(r *webdav.Request, path string, pp *webdav.PropPatch) error {
	if !p.enabled(path) {
		return nil
	}
	pp.HandleRemaining(func(mutations map[string]any) webdav.PatchResult {
		var (
			set    []types.Property
			remove []string
		)
		statuses := make(map[string]int, len(mutations))
		failed := false
		for name, value := range mutations {
			statuses[name] = http.StatusOK
			if value == nil {
				remove = append(remove, name)
				continue
			}
			prop, err := p.encode(name, value)
			if err == nil {
				prop.Path = path
				err = p.validator.Validate(prop)
			}
			if err != nil {
				statuses[name] = validators.StatusOf(err)
				failed = true
				continue
			}
			set = append(set, prop)
		}

		if failed {
			for name, status := range statuses {
				if status == http.StatusOK {
					statuses[name] = http.StatusFailedDependency
				}
			}
			return webdav.PatchStatuses(statuses)
		}

		if err := p.backend.Apply(r.Context(), path, set, remove); err != nil {
			p.server.Logger().WithError(err).WithField("path", path).Error("failed to store properties")
			for name := range statuses {
				statuses[name] = http.StatusInternalServerError
			}
			return webdav.PatchStatuses(statuses)
		}
		return webdav.PatchOK()
	})
	return nil
}

// afterUnbind 删除节点及其后代的属性
func (p *Plugin) afterUnbind(r *webdav.Request, path string) (bool, error) {
	if !p.enabled(path) {
		return true, nil
	}
	if err := p.backend.Delete(r.Context(), path); err != nil {
		p.server.Logger().WithError(err).WithField("path", path).Warn("failed to delete properties")
	}
	return true, nil
}

// afterMove 属性跟随节点移动。afterUnbind 在 afterMove 之后触发，此时源路径已经没有属性。
func (p *Plugin) afterMove(r *webdav.Request, src, dst string) (bool, error) {
	if !p.enabled(src) && !p.enabled(dst) {
		return true, nil
	}
	if err := p.backend.Move(r.Context(), src, dst); err != nil {
		return false, err
	}
	return true, nil
}

var _ webdav.Plugin = (*Plugin)(nil)
