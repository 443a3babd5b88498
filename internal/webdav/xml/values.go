package xml

import (
	"fmt"
	"net/http"
)

// Href 一个或多个 {DAV:}href
type Href struct {
	Hrefs []string
}

// NewHref 创建 Href
func NewHref(hrefs ...string) *Href {
	return &Href{Hrefs: hrefs}
}

// First 返回第一个 href
func (h *Href) First() string {
	if h == nil || len(h.Hrefs) == 0 {
		return ""
	}
	return h.Hrefs[0]
}

// XMLSerialize 实现 Serializable
func (h *Href) XMLSerialize(w *Writer) error {
	for _, href := range h.Hrefs {
		if err := w.WriteElement(DAV("href"), href); err != nil {
			return err
		}
	}
	return nil
}

// ResourceType {DAV:}resourcetype 的值，每一项为 clark 名称
type ResourceType []string

// Is 判断是否包含某种资源类型
func (r ResourceType) Is(name string) bool {
	for _, t := range r {
		if t == name {
			return true
		}
	}
	return false
}

// XMLSerialize 实现 Serializable
func (r ResourceType) XMLSerialize(w *Writer) error {
	for _, t := range r {
		if err := w.WriteElement(t, nil); err != nil {
			return err
		}
	}
	return nil
}

// Complex 含子元素的属性值（通常是死属性）
type Complex struct {
	Text     string
	Children []*Element
}

// XMLSerialize 实现 Serializable
func (c *Complex) XMLSerialize(w *Writer) error {
	w.WriteText(c.Text)
	for _, child := range c.Children {
		if err := w.Write(child); err != nil {
			return err
		}
	}
	return nil
}

// EmptyElements 输出一组空元素，例如 supported-report-set 中的报告名
type EmptyElements []string

// XMLSerialize 实现 Serializable
func (e EmptyElements) XMLSerialize(w *Writer) error {
	for _, name := range e {
		if err := w.WriteElement(name, nil); err != nil {
			return err
		}
	}
	return nil
}

// StatusLine 生成 multistatus 中的状态行
func StatusLine(code int) string {
	return fmt.Sprintf("HTTP/1.1 %d %s", code, http.StatusText(code))
}

// PropertyValue 把 set/prop 下的单个元素转换为属性值：
// 注册过的元素取反序列化结果，纯文本取字符串，其余保留为 Complex。
func PropertyValue(el *Element) any {
	if el.Value != nil {
		return el.Value
	}
	if len(el.Children) == 0 {
		return el.Text
	}
	return &Complex{Text: el.Text, Children: el.Children}
}
