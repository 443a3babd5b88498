package xml

import (
	"errors"
	"fmt"
	"strings"

	"github.com/beevik/etree"
)

// Deserializer 把一个已经完整读取的子树解释为具体类型。
// 解码器负责遍历文档，Deserializer 只能看到自己的子树。
type Deserializer interface {
	Deserialize(el *Element) (any, error)
}

// DeserializerFunc 函数形式的 Deserializer
type DeserializerFunc func(el *Element) (any, error)

// Deserialize 实现 Deserializer
func (f DeserializerFunc) Deserialize(el *Element) (any, error) {
	return f(el)
}

// ElementMap clark 名称到反序列化器的映射
type ElementMap map[string]Deserializer

// ParseError XML 格式错误
type ParseError struct {
	Err error
}

func (e *ParseError) Error() string {
	return "xml parse error: " + e.Err.Error()
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// IsParseError 判断是否为 XML 格式错误
func IsParseError(err error) bool {
	var pe *ParseError
	return errors.As(err, &pe)
}

// Decode 解析 XML 文档。
// 子元素先于父元素解码，每个注册过的元素在其子树完整读取后才交给对应的 Deserializer。
func Decode(data []byte, elementMap ElementMap) (*Element, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(data); err != nil {
		return nil, &ParseError{Err: err}
	}

	root := doc.Root()
	if root == nil {
		return nil, &ParseError{Err: errors.New("document has no root element")}
	}

	return decodeElement(root, elementMap)
}

func decodeElement(src *etree.Element, elementMap ElementMap) (*Element, error) {
	ns := src.NamespaceURI()
	if src.Space != "" && ns == "" {
		return nil, &ParseError{Err: fmt.Errorf("undeclared namespace prefix %q on <%s>", src.Space, src.FullTag())}
	}

	el := &Element{Name: Clark(ns, src.Tag)}

	for _, a := range src.Attr {
		if a.Space == "xmlns" || (a.Space == "" && a.Key == "xmlns") {
			continue
		}
		if el.Attrs == nil {
			el.Attrs = make(map[string]string, len(src.Attr))
		}
		name := a.Key
		if a.Space != "" {
			name = Clark(a.NamespaceURI(), a.Key)
		}
		el.Attrs[name] = a.Value
	}

	var text strings.Builder
	for _, tok := range src.Child {
		switch t := tok.(type) {
		case *etree.CharData:
			text.WriteString(t.Data)
		case *etree.Element:
			child, err := decodeElement(t, elementMap)
			if err != nil {
				return nil, err
			}
			el.Children = append(el.Children, child)
		}
	}
	el.Text = strings.TrimSpace(text.String())

	if d, ok := elementMap[el.Name]; ok && d != nil {
		v, err := d.Deserialize(el)
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w", el.Name, err)
		}
		el.Value = v
	}

	return el, nil
}
