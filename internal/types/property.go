package types

import (
	"time"
)

// ========================================
// Property Types - 持久化的死属性
// ========================================

// ValueType 属性值的存储格式
type ValueType string

const (
	// ValueText 纯文本
	ValueText ValueType = "text"
	// ValueXML 包在 fragment 根元素中的 XML
	ValueXML ValueType = "xml"
)

// Property 一个路径上的一条死属性
type Property struct {
	Path      string    `json:"path"`
	Name      string    `json:"name"` // {namespace}local
	Type      ValueType `json:"type"`
	Value     string    `json:"value"`
	UpdatedAt time.Time `json:"updated_at,omitempty"`
}

// Size 存储占用的字节数
func (p Property) Size() int {
	return len(p.Value)
}

// PropertyError 属性错误，Code 为该属性在 multistatus 中的状态码
type PropertyError struct {
	Code     int    `json:"code"`
	Message  string `json:"message"`
	Property string `json:"property,omitempty"`
}

func (e *PropertyError) Error() string {
	if e.Property == "" {
		return e.Message
	}
	return e.Property + ": " + e.Message
}

// KnownLiveProperties DAV: 命名空间下由服务端计算的属性
var KnownLiveProperties = map[string]bool{
	"creationdate":           true,
	"getcontentlength":       true,
	"getcontenttype":         true,
	"getetag":                true,
	"getlastmodified":        true,
	"lockdiscovery":          true,
	"resourcetype":           true,
	"supportedlock":          true,
	"supported-report-set":   true,
	"quota-used-bytes":       true,
	"quota-available-bytes":  true,
	"sync-token":             true,
	"current-user-principal": true,
}
