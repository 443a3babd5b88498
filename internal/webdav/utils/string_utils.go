package utils

import (
	"strings"
)

// StringUtil 字符串工具类
type StringUtil struct{}

var String StringUtil

// TrimETag 去掉 ETag 的弱标记和引号，用于比较
func (s StringUtil) TrimETag(etag string) string {
	etag = strings.TrimSpace(etag)
	etag = strings.TrimPrefix(etag, "W/")
	return strings.Trim(etag, `"`)
}

// QuoteETag 给 ETag 加上引号（已有引号则保持不变）
func (s StringUtil) QuoteETag(etag string) string {
	if etag == "" || strings.HasPrefix(etag, `"`) || strings.HasPrefix(etag, `W/"`) {
		return etag
	}
	return `"` + etag + `"`
}

// SplitList 拆分逗号分隔的请求头列表，忽略空项
func (s StringUtil) SplitList(header string) []string {
	if header == "" {
		return nil
	}
	parts := strings.Split(header, ",")
	return FilterSlice(MapSlice(parts, strings.TrimSpace), func(p string) bool { return p != "" })
}

// ContentTypeIs 比较媒体类型，忽略参数和大小写
func (s StringUtil) ContentTypeIs(contentType string, mediaTypes ...string) bool {
	mt := contentType
	if idx := strings.IndexByte(mt, ';'); idx >= 0 {
		mt = mt[:idx]
	}
	mt = strings.ToLower(strings.TrimSpace(mt))
	for _, t := range mediaTypes {
		if mt == t {
			return true
		}
	}
	return false
}

// RemoveDuplicates 移除重复元素
func RemoveDuplicates[T comparable](slice []T) []T {
	seen := make(map[T]bool)
	result := make([]T, 0, len(slice))

	for _, item := range slice {
		if !seen[item] {
			seen[item] = true
			result = append(result, item)
		}
	}

	return result
}

// MapSlice 映射切片元素
func MapSlice[T any, R any](slice []T, fn func(T) R) []R {
	if slice == nil {
		return nil
	}

	result := make([]R, len(slice))
	for i, item := range slice {
		result[i] = fn(item)
	}

	return result
}

// FilterSlice 过滤切片元素
func FilterSlice[T any](slice []T, fn func(T) bool) []T {
	if slice == nil {
		return nil
	}

	result := make([]T, 0, len(slice))
	for _, item := range slice {
		if fn(item) {
			result = append(result, item)
		}
	}

	return result
}

// Contains 检查切片是否包含元素
func Contains[T comparable](slice []T, item T) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
