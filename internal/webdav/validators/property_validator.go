// Package validators 死属性写入前的校验
package validators

import (
	"errors"
	"net/http"
	"strings"

	"github.com/davcore/davcore/internal/types"
	davxml "github.com/davcore/davcore/internal/webdav/xml"
)

// DefaultMaxValueSize 单个属性值的默认上限
const DefaultMaxValueSize = 10240

// ValidationRule 验证规则接口
type ValidationRule interface {
	Validate(prop types.Property) error
	GetRuleName() string
}

// RequiredNameRule 属性名必须是带命名空间的 clark 记法
type RequiredNameRule struct{}

func (RequiredNameRule) Validate(prop types.Property) error {
	ns, local, err := davxml.ParseClark(prop.Name)
	if err != nil || strings.TrimSpace(local) == "" {
		return &types.PropertyError{Code: http.StatusConflict, Message: "property name must be in clark notation", Property: prop.Name}
	}
	if strings.TrimSpace(ns) == "" {
		return &types.PropertyError{Code: http.StatusConflict, Message: "property namespace is empty", Property: prop.Name}
	}
	return nil
}

func (RequiredNameRule) GetRuleName() string {
	return "required-name"
}

// StringLengthRule 属性值长度上限，超出时返回 507
type StringLengthRule struct {
	MaxLength int
}

func (r *StringLengthRule) Validate(prop types.Property) error {
	if r.MaxLength > 0 && prop.Size() > r.MaxLength {
		return &types.PropertyError{Code: http.StatusInsufficientStorage, Message: "property value exceeds the maximum length", Property: prop.Name}
	}
	return nil
}

func (r *StringLengthRule) GetRuleName() string {
	return "string-length"
}

// LivePropertyRule 不能把活属性写入死属性存储
type LivePropertyRule struct{}

func (LivePropertyRule) Validate(prop types.Property) error {
	ns, local, err := davxml.ParseClark(prop.Name)
	if err == nil && ns == davxml.NamespaceDAV && types.KnownLiveProperties[local] {
		return &types.PropertyError{Code: http.StatusForbidden, Message: "live properties can not be set directly", Property: prop.Name}
	}
	return nil
}

func (LivePropertyRule) GetRuleName() string {
	return "live-property"
}

// CompositeValidator 复合验证器，按顺序执行规则，返回第一个错误
type CompositeValidator struct {
	rules []ValidationRule
}

func NewCompositeValidator(rules ...ValidationRule) *CompositeValidator {
	return &CompositeValidator{rules: rules}
}

func (cv *CompositeValidator) AddRule(rule ValidationRule) {
	cv.rules = append(cv.rules, rule)
}

// RuleNames 已注册的规则
func (cv *CompositeValidator) RuleNames() []string {
	names := make([]string, 0, len(cv.rules))
	for _, r := range cv.rules {
		names = append(names, r.GetRuleName())
	}
	return names
}

func (cv *CompositeValidator) Validate(prop types.Property) error {
	for _, rule := range cv.rules {
		if err := rule.Validate(prop); err != nil {
			return err
		}
	}
	return nil
}

// NewDefaultValidator 创建默认验证器，maxSize 非正数时使用 DefaultMaxValueSize
func NewDefaultValidator(maxSize int) *CompositeValidator {
	if maxSize <= 0 {
		maxSize = DefaultMaxValueSize
	}
	return NewCompositeValidator(RequiredNameRule{}, LivePropertyRule{}, &StringLengthRule{MaxLength: maxSize})
}

// StatusOf 校验错误对应的状态码，未知错误为 500
func StatusOf(err error) int {
	var pe *types.PropertyError
	if errors.As(err, &pe) {
		return pe.Code
	}
	return http.StatusInternalServerError
}
