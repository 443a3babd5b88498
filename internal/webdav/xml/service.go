package xml

import (
	"fmt"
)

// Service 保存元素映射和命名空间前缀表，每个服务器实例持有一份
type Service struct {
	ElementMap ElementMap
	Namespaces map[string]string
}

// NewService 创建带有核心元素映射的 Service
func NewService() *Service {
	return &Service{
		ElementMap: ElementMap{
			DAV("propfind"):       DeserializerFunc(decodePropFind),
			DAV("propertyupdate"): DeserializerFunc(decodePropertyUpdate),
			DAV("mkcol"):          DeserializerFunc(DecodeMkCol),
			DAV("resourcetype"):   DeserializerFunc(decodeResourceType),
		},
		Namespaces: map[string]string{
			NamespaceDAV:     "d",
			NamespaceDavcore: "s",
		},
	}
}

// Parse 使用当前元素映射解析文档
func (s *Service) Parse(data []byte) (*Element, error) {
	return Decode(data, s.ElementMap)
}

// Expect 解析文档并要求根元素为指定名称
func (s *Service) Expect(root string, data []byte) (*Element, error) {
	el, err := s.Parse(data)
	if err != nil {
		return nil, err
	}
	if el.Name != root {
		return nil, &ParseError{Err: fmt.Errorf("expected %s root element, got %s", root, el.Name)}
	}
	return el, nil
}

// Write 以 root 为根元素输出 value
func (s *Service) Write(root string, value any) ([]byte, error) {
	w := s.NewWriter()
	if err := w.WriteElement(root, value); err != nil {
		return nil, err
	}
	return w.Bytes()
}

// NewWriter 创建使用本服务前缀表的 Writer
func (s *Service) NewWriter() *Writer {
	return NewWriter(s.Namespaces)
}

// MarshalFragment 把一组元素序列化为独立文档，用于持久化死属性
func (s *Service) MarshalFragment(text string, children []*Element) (string, error) {
	return s.MarshalValue(&Complex{Text: text, Children: children})
}

// MarshalValue 把任意可写出的属性值包在 fragment 根元素中序列化，不缩进
func (s *Service) MarshalValue(value any) (string, error) {
	w := NewWriter(s.Namespaces)
	w.SetIndent(-1)
	if err := w.WriteElement(Clark(NamespaceDavcore, "fragment"), value); err != nil {
		return "", err
	}
	b, err := w.Bytes()
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// UnmarshalFragment 解析 MarshalFragment 的输出
func (s *Service) UnmarshalFragment(data string) (*Complex, error) {
	el, err := Decode([]byte(data), nil)
	if err != nil {
		return nil, err
	}
	return &Complex{Text: el.Text, Children: el.Children}, nil
}
