package xml

// Element 解码后的通用元素。
// 未在 ElementMap 中注册的元素只保留属性、文本和子元素；
// 注册过的元素额外带有反序列化结果 Value。
type Element struct {
	Name     string
	Attrs    map[string]string
	Text     string
	Children []*Element
	Value    any
}

// NewElement 创建一个元素
func NewElement(name string, children ...*Element) *Element {
	return &Element{Name: name, Children: children}
}

// Child 返回第一个同名子元素
func (e *Element) Child(name string) *Element {
	if e == nil {
		return nil
	}
	for _, c := range e.Children {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// ChildrenNamed 返回所有同名子元素
func (e *Element) ChildrenNamed(name string) []*Element {
	if e == nil {
		return nil
	}
	var out []*Element
	for _, c := range e.Children {
		if c.Name == name {
			out = append(out, c)
		}
	}
	return out
}

// ChildNames 返回子元素名称列表（按文档顺序）
func (e *Element) ChildNames() []string {
	if e == nil {
		return nil
	}
	names := make([]string, 0, len(e.Children))
	for _, c := range e.Children {
		names = append(names, c.Name)
	}
	return names
}

// ChildText 返回同名子元素的文本
func (e *Element) ChildText(name string) string {
	if c := e.Child(name); c != nil {
		return c.Text
	}
	return ""
}

// Attr 返回属性值
func (e *Element) Attr(name string) string {
	if e == nil || e.Attrs == nil {
		return ""
	}
	return e.Attrs[name]
}

// HrefsOf 收集元素下所有 {DAV:}href 的文本
func HrefsOf(e *Element) []string {
	var hrefs []string
	for _, c := range e.ChildrenNamed(DAV("href")) {
		hrefs = append(hrefs, c.Text)
	}
	return hrefs
}
