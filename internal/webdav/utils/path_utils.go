package utils

import (
	"net/url"
	"path"
	"strings"
)

// PathUtil 资源路径工具类。
// 内部路径不带首尾斜杠，根节点为空字符串。
type PathUtil struct{}

var Path PathUtil

// Normalize 规范化路径：去掉 . 和 ..、重复斜杠以及首尾斜杠
func (p PathUtil) Normalize(s string) string {
	if s == "" || s == "/" {
		return ""
	}
	return strings.Trim(path.Clean("/"+s), "/")
}

// Split 拆分为父路径和名称
func (p PathUtil) Split(s string) (string, string) {
	s = p.Normalize(s)
	idx := strings.LastIndexByte(s, '/')
	if idx < 0 {
		return "", s
	}
	return s[:idx], s[idx+1:]
}

// Join 拼接父路径和名称
func (p PathUtil) Join(parent, name string) string {
	parent = strings.Trim(parent, "/")
	name = strings.Trim(name, "/")
	switch {
	case parent == "":
		return name
	case name == "":
		return parent
	}
	return parent + "/" + name
}

// IsDescendant 判断 child 是否位于 parent 之下（不含自身）
func (p PathUtil) IsDescendant(parent, child string) bool {
	if parent == "" {
		return child != ""
	}
	return strings.HasPrefix(child, parent+"/")
}

// IsSelfOrDescendant 判断 child 等于 parent 或位于其下
func (p PathUtil) IsSelfOrDescendant(parent, child string) bool {
	return parent == child || p.IsDescendant(parent, child)
}

// Ancestors 返回从根到直接父节点的所有祖先路径
func (p PathUtil) Ancestors(s string) []string {
	ancestors := []string{""}
	if s == "" {
		return nil
	}
	parts := strings.Split(s, "/")
	for i := 1; i < len(parts); i++ {
		ancestors = append(ancestors, strings.Join(parts[:i], "/"))
	}
	return ancestors
}

// Encode 逐段进行 URL 编码
func (p PathUtil) Encode(s string) string {
	if s == "" {
		return ""
	}
	parts := strings.Split(s, "/")
	for i, part := range parts {
		parts[i] = url.PathEscape(part)
	}
	return strings.Join(parts, "/")
}

// Decode 解码 URL 路径并规范化
func (p PathUtil) Decode(s string) (string, error) {
	decoded, err := url.PathUnescape(s)
	if err != nil {
		return "", err
	}
	return p.Normalize(decoded), nil
}

// Rebase 把位于 src 之下的路径改写到 dst 之下
func (p PathUtil) Rebase(s, src, dst string) string {
	return dst + strings.TrimPrefix(s, src)
}
