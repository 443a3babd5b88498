package xml

import (
	"errors"
	"fmt"
	"sort"
	"strconv"

	"github.com/beevik/etree"
)

// Serializable 可以把自身内容写入当前元素的值
type Serializable interface {
	XMLSerialize(w *Writer) error
}

// Writer 基于 etree 的输出器。
// 命名空间前缀只在输出时决定：优先使用映射表中的前缀，未知命名空间依次使用 x1、x2 ...
type Writer struct {
	doc        *etree.Document
	root       *etree.Element
	stack      []*etree.Element
	namespaces map[string]string
	declared   map[string]string
	prefixes   map[string]bool
	order      []string
	auto       int
	indent     int
}

// NewWriter 创建 Writer，namespaces 为 命名空间 -> 前缀
func NewWriter(namespaces map[string]string) *Writer {
	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="utf-8"`)
	return &Writer{
		doc:        doc,
		namespaces: namespaces,
		declared:   make(map[string]string),
		prefixes:   make(map[string]bool),
		indent:     2,
	}
}

// SetIndent 设置缩进空格数，负数表示不缩进
func (w *Writer) SetIndent(spaces int) {
	w.indent = spaces
}

func (w *Writer) prefix(ns string) string {
	if p, ok := w.declared[ns]; ok {
		return p
	}
	p, ok := w.namespaces[ns]
	if !ok || p == "" || w.prefixes[p] {
		for {
			w.auto++
			p = "x" + strconv.Itoa(w.auto)
			if !w.prefixes[p] {
				break
			}
		}
	}
	w.declared[ns] = p
	w.prefixes[p] = true
	w.order = append(w.order, ns)
	return p
}

func (w *Writer) qualify(name string) (string, error) {
	ns, local, err := ParseClark(name)
	if err != nil {
		return "", err
	}
	if ns == "" {
		return local, nil
	}
	return w.prefix(ns) + ":" + local, nil
}

func (w *Writer) current() *etree.Element {
	if len(w.stack) == 0 {
		return nil
	}
	return w.stack[len(w.stack)-1]
}

// StartElement 开始一个元素
func (w *Writer) StartElement(name string) error {
	tag, err := w.qualify(name)
	if err != nil {
		return err
	}

	var el *etree.Element
	if parent := w.current(); parent != nil {
		el = parent.CreateElement(tag)
	} else {
		if w.root != nil {
			return errors.New("xml: document already has a root element")
		}
		el = w.doc.CreateElement(tag)
		w.root = el
	}
	w.stack = append(w.stack, el)
	return nil
}

// EndElement 结束当前元素
func (w *Writer) EndElement() {
	if len(w.stack) > 0 {
		w.stack = w.stack[:len(w.stack)-1]
	}
}

// WriteAttribute 写入当前元素的属性
func (w *Writer) WriteAttribute(name, value string) error {
	el := w.current()
	if el == nil {
		return errors.New("xml: attribute written outside of an element")
	}
	key, err := w.qualify(name)
	if err != nil {
		return err
	}
	el.CreateAttr(key, value)
	return nil
}

// WriteText 写入文本内容
func (w *Writer) WriteText(text string) {
	if el := w.current(); el != nil && text != "" {
		el.CreateText(text)
	}
}

// WriteElement 写入一个完整元素
func (w *Writer) WriteElement(name string, value any) error {
	if err := w.StartElement(name); err != nil {
		return err
	}
	if err := w.Write(value); err != nil {
		return err
	}
	w.EndElement()
	return nil
}

// Write 按值的类型写入当前元素
func (w *Writer) Write(value any) error {
	switch v := value.(type) {
	case nil:
		return nil
	case string:
		w.WriteText(v)
	case int:
		w.WriteText(strconv.Itoa(v))
	case int64:
		w.WriteText(strconv.FormatInt(v, 10))
	case bool:
		w.WriteText(strconv.FormatBool(v))
	case Serializable:
		return v.XMLSerialize(w)
	case *Element:
		return w.writeElement(v)
	case []*Element:
		for _, el := range v {
			if err := w.writeElement(el); err != nil {
				return err
			}
		}
	case []any:
		for _, item := range v {
			if err := w.Write(item); err != nil {
				return err
			}
		}
	case map[string]any:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if err := w.WriteElement(k, v[k]); err != nil {
				return err
			}
		}
	default:
		return fmt.Errorf("xml: cannot serialize value of type %T", value)
	}
	return nil
}

func (w *Writer) writeElement(el *Element) error {
	if el == nil {
		return nil
	}
	if err := w.StartElement(el.Name); err != nil {
		return err
	}

	names := make([]string, 0, len(el.Attrs))
	for name := range el.Attrs {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := w.WriteAttribute(name, el.Attrs[name]); err != nil {
			return err
		}
	}

	w.WriteText(el.Text)
	for _, child := range el.Children {
		if err := w.writeElement(child); err != nil {
			return err
		}
	}
	w.EndElement()
	return nil
}

// Bytes 输出文档，所有用到的命名空间在根元素上声明
func (w *Writer) Bytes() ([]byte, error) {
	if w.root == nil {
		return nil, errors.New("xml: nothing was written")
	}

	attrs := w.root.Attr
	w.root.Attr = nil
	for _, ns := range w.order {
		w.root.CreateAttr("xmlns:"+w.declared[ns], ns)
	}
	w.root.Attr = append(w.root.Attr, attrs...)

	if w.indent >= 0 {
		w.doc.Indent(w.indent)
	}
	return w.doc.WriteToBytes()
}
