package xml

import (
	"fmt"
	"strings"
)

// 常用命名空间
const (
	NamespaceDAV            = "DAV:"
	NamespaceCalDAV         = "urn:ietf:params:xml:ns:caldav"
	NamespaceCardDAV        = "urn:ietf:params:xml:ns:carddav"
	NamespaceCalendarServer = "http://calendarserver.org/ns/"
	NamespaceDavcore        = "http://sabredav.org/ns"
)

// Clark 生成 {namespace}local 形式的名称
func Clark(namespace, local string) string {
	if namespace == "" {
		return local
	}
	return "{" + namespace + "}" + local
}

// DAV 生成 DAV: 命名空间下的名称
func DAV(local string) string {
	return Clark(NamespaceDAV, local)
}

// ParseClark 拆分 clark 名称，返回命名空间和本地名
func ParseClark(name string) (string, string, error) {
	if name == "" {
		return "", "", fmt.Errorf("empty element name")
	}
	if name[0] != '{' {
		return "", name, nil
	}
	end := strings.IndexByte(name, '}')
	if end < 0 || end == len(name)-1 {
		return "", "", fmt.Errorf("%q is not a valid clark-notation formatted string", name)
	}
	return name[1:end], name[end+1:], nil
}

// IsClark 判断名称是否带命名空间
func IsClark(name string) bool {
	_, local, err := ParseClark(name)
	return err == nil && local != "" && strings.HasPrefix(name, "{")
}
