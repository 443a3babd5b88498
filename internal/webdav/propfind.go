package webdav

import (
	"net/http"
	"sort"

	"github.com/samber/mo"

	davxml "github.com/davcore/davcore/internal/webdav/xml"
)

// PropFindMode PROPFIND 请求类型
type PropFindMode int

const (
	PropFindNormal PropFindMode = iota
	PropFindAllProps
	PropFindName
)

// AllPropsDefaults allprop 请求默认返回的属性
var AllPropsDefaults = []string{
	davxml.DAV("getlastmodified"),
	davxml.DAV("getcontentlength"),
	davxml.DAV("resourcetype"),
	davxml.DAV("quota-used-bytes"),
	davxml.DAV("quota-available-bytes"),
	davxml.DAV("getetag"),
	davxml.DAV("getcontenttype"),
}

type propResult struct {
	status int
	value  any
}

// PropFind 一个节点的属性查询。
// 每个被请求的属性最终只有一个状态，未解析的属性保持 404。
type PropFind struct {
	path      string
	depth     int
	mode      PropFindMode
	requested []string
	order     []string
	result    map[string]*propResult
	itemsLeft int
	href      string
}

// NewPropFind 创建 PropFind。allprop/propname 模式先放入默认集合，allprop 的 include 追加在后面。
func NewPropFind(path string, props []string, depth int, mode PropFindMode) *PropFind {
	pf := &PropFind{
		path:   path,
		depth:  depth,
		mode:   mode,
		result: make(map[string]*propResult),
	}

	names := props
	if mode != PropFindNormal {
		names = append(append([]string{}, AllPropsDefaults...), props...)
	}
	for _, name := range names {
		if _, ok := pf.result[name]; ok {
			continue
		}
		pf.requested = append(pf.requested, name)
		pf.order = append(pf.order, name)
		pf.result[name] = &propResult{status: http.StatusNotFound}
	}
	pf.itemsLeft = len(pf.requested)
	return pf
}

// ForPath 以相同的请求属性为另一个路径创建 PropFind
func (pf *PropFind) ForPath(path string, depth int) *PropFind {
	names := pf.requested
	if pf.mode != PropFindNormal {
		names = names[len(AllPropsDefaults):]
	}
	return NewPropFind(path, names, depth, pf.mode)
}

// Handle 仅当属性被请求且仍为 404 时才调用 fn；fn 返回 nil 表示没有该属性
func (pf *PropFind) Handle(name string, fn func() any) {
	r, ok := pf.result[name]
	if !ok || r.status != http.StatusNotFound || pf.itemsLeft == 0 {
		return
	}
	if v := fn(); v != nil {
		pf.Set(name, v)
	}
}

// Set 设置属性值。普通模式下忽略未请求的属性，allprop/propname 模式下追加。
func (pf *PropFind) Set(name string, value any, status ...int) {
	code := http.StatusOK
	if len(status) > 0 {
		code = status[0]
	}

	r, ok := pf.result[name]
	if !ok {
		if pf.mode == PropFindNormal {
			return
		}
		pf.order = append(pf.order, name)
		pf.result[name] = &propResult{status: code, value: value}
		return
	}

	if r.status == http.StatusNotFound && code != http.StatusNotFound {
		pf.itemsLeft--
	} else if r.status != http.StatusNotFound && code == http.StatusNotFound {
		pf.itemsLeft++
	}
	r.status = code
	r.value = value
}

// Get 返回属性值
func (pf *PropFind) Get(name string) mo.Option[any] {
	if r, ok := pf.result[name]; ok && r.value != nil {
		return mo.Some(r.value)
	}
	return mo.None[any]()
}

// GetStatus 返回属性状态，未请求的属性返回 0
func (pf *PropFind) GetStatus(name string) int {
	if r, ok := pf.result[name]; ok {
		return r.status
	}
	return 0
}

// Get404Properties 返回仍未解析的属性
func (pf *PropFind) Get404Properties() []string {
	if pf.itemsLeft == 0 {
		return nil
	}
	var names []string
	for _, name := range pf.order {
		if pf.result[name].status == http.StatusNotFound {
			names = append(names, name)
		}
	}
	return names
}

// RequestedProperties 返回请求的属性（allprop 模式下包含默认集合）
func (pf *PropFind) RequestedProperties() []string {
	return pf.requested
}

// IsAllProps allprop 或 propname 请求
func (pf *PropFind) IsAllProps() bool {
	return pf.mode != PropFindNormal
}

// Mode 返回请求类型
func (pf *PropFind) Mode() PropFindMode {
	return pf.mode
}

// Path 返回节点路径
func (pf *PropFind) Path() string {
	return pf.path
}

// Depth 返回剩余深度
func (pf *PropFind) Depth() int {
	return pf.depth
}

// ItemsLeft 仍为 404 的属性数量
func (pf *PropFind) ItemsLeft() int {
	return pf.itemsLeft
}

// Href 响应中使用的 href
func (pf *PropFind) Href() string {
	return pf.href
}

// SetHref 设置响应 href
func (pf *PropFind) SetHref(href string) {
	pf.href = href
}

// ResultForMultistatus 按状态码分组的结果；allprop/propname 模式丢弃 404
func (pf *PropFind) ResultForMultistatus() map[int]map[string]any {
	out := make(map[int]map[string]any)
	for _, name := range pf.order {
		r := pf.result[name]
		if r.status == http.StatusNotFound && pf.mode != PropFindNormal {
			continue
		}
		if out[r.status] == nil {
			out[r.status] = make(map[string]any)
		}
		out[r.status][name] = r.value
	}
	return out
}

// PropStats 有序的 propstat 分组，状态码升序，组内保持属性顺序
func (pf *PropFind) PropStats() []PropStat {
	byStatus := make(map[int]*PropStat)
	for _, name := range pf.order {
		r := pf.result[name]
		if r.status == http.StatusNotFound && pf.mode != PropFindNormal {
			continue
		}
		ps, ok := byStatus[r.status]
		if !ok {
			ps = &PropStat{Status: r.status, Properties: make(map[string]any)}
			byStatus[r.status] = ps
		}
		ps.Order = append(ps.Order, name)
		if pf.mode != PropFindName {
			ps.Properties[name] = r.value
		}
	}

	stats := make([]PropStat, 0, len(byStatus))
	for _, ps := range byStatus {
		stats = append(stats, *ps)
	}
	sort.Slice(stats, func(i, j int) bool { return stats[i].Status < stats[j].Status })
	return stats
}
