package xml

// PropFindRequest {DAV:}propfind 请求体
type PropFindRequest struct {
	AllProp    bool
	PropName   bool
	Properties []string
	Include    []string
}

// PropPatchRequest {DAV:}propertyupdate 请求体，删除的属性值为 nil
type PropPatchRequest struct {
	Properties map[string]any
	Order      []string
}

// MkColRequest 扩展 MKCOL 的 {DAV:}mkcol 请求体
type MkColRequest struct {
	Properties map[string]any
	Order      []string
}

func decodePropFind(el *Element) (any, error) {
	req := &PropFindRequest{}
	for _, c := range el.Children {
		switch c.Name {
		case DAV("allprop"):
			req.AllProp = true
		case DAV("propname"):
			req.PropName = true
		case DAV("prop"):
			req.Properties = append(req.Properties, c.ChildNames()...)
		case DAV("include"):
			req.Include = append(req.Include, c.ChildNames()...)
		}
	}
	if !req.PropName && len(req.Properties) == 0 {
		req.AllProp = true
	}
	return req, nil
}

// 按文档顺序合并 set/remove，同名属性以最后一次出现为准
func collectMutations(el *Element, props map[string]any, order []string) []string {
	for _, c := range el.Children {
		remove := c.Name == DAV("remove")
		if !remove && c.Name != DAV("set") {
			continue
		}
		for _, prop := range c.ChildrenNamed(DAV("prop")) {
			for _, p := range prop.Children {
				if _, seen := props[p.Name]; !seen {
					order = append(order, p.Name)
				}
				if remove {
					props[p.Name] = nil
				} else {
					props[p.Name] = PropertyValue(p)
				}
			}
		}
	}
	return order
}

func decodePropertyUpdate(el *Element) (any, error) {
	req := &PropPatchRequest{Properties: make(map[string]any)}
	req.Order = collectMutations(el, req.Properties, nil)
	return req, nil
}

// DecodeMkCol 解析 set/remove 形式的建集合请求体，MKCALENDAR 也使用它
func DecodeMkCol(el *Element) (any, error) {
	req := &MkColRequest{Properties: make(map[string]any)}
	req.Order = collectMutations(el, req.Properties, nil)
	return req, nil
}

func decodeResourceType(el *Element) (any, error) {
	return ResourceType(el.ChildNames()), nil
}
