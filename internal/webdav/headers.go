package webdav

import (
	"fmt"
	"strconv"
	"strings"
)

// Depth 取值
const (
	Depth0        = 0
	Depth1        = 1
	DepthInfinity = -1
)

// If 头解析

// IfList If 头中的一个括号列表；带资源标签时 Resource 为原始 URI。
// Path 为该列表作用的内部路径，由服务器在解析后填写。
type IfList struct {
	Resource   string
	Path       string
	Conditions []Condition
}

// Condition If 条件：锁令牌或 ETag，Not 表示取反。
// Valid 由 validateTokens 的监听器设置，表示令牌属于当前可用的锁。
type Condition struct {
	Token string
	ETag  string
	Not   bool
	Valid bool
}

// ParseIfHeader 解析 If 头，语法见 RFC 4918 第 10.4 节
func ParseIfHeader(header string) ([]IfList, error) {
	var (
		lists    []IfList
		resource string
		s        = strings.TrimSpace(header)
	)

	for len(s) > 0 {
		switch s[0] {
		case ' ', '\t', '\r', '\n':
			s = s[1:]
		case '<':
			end := strings.IndexByte(s, '>')
			if end < 0 {
				return nil, fmt.Errorf("unterminated resource tag in If header")
			}
			resource = s[1:end]
			s = s[end+1:]
		case '(':
			end := strings.IndexByte(s, ')')
			if end < 0 {
				return nil, fmt.Errorf("unterminated list in If header")
			}
			conditions, err := parseIfConditions(s[1:end])
			if err != nil {
				return nil, err
			}
			lists = append(lists, IfList{Resource: resource, Conditions: conditions})
			s = s[end+1:]
		default:
			return nil, fmt.Errorf("unexpected %q in If header", s[0])
		}
	}
	return lists, nil
}

func parseIfConditions(s string) ([]Condition, error) {
	var conditions []Condition
	not := false
	for {
		s = strings.TrimLeft(s, " \t\r\n")
		if s == "" {
			break
		}
		switch {
		case len(s) >= 3 && strings.EqualFold(s[:3], "not"):
			not = true
			s = s[3:]
		case s[0] == '<':
			end := strings.IndexByte(s, '>')
			if end < 0 {
				return nil, fmt.Errorf("unterminated state token in If header")
			}
			conditions = append(conditions, Condition{Token: s[1:end], Not: not})
			not = false
			s = s[end+1:]
		case s[0] == '[':
			end := strings.IndexByte(s, ']')
			if end < 0 {
				return nil, fmt.Errorf("unterminated entity tag in If header")
			}
			conditions = append(conditions, Condition{ETag: s[1:end], Not: not})
			not = false
			s = s[end+1:]
		default:
			return nil, fmt.Errorf("unexpected %q in If header list", s[0])
		}
	}
	if len(conditions) == 0 {
		return nil, fmt.Errorf("empty list in If header")
	}
	return conditions, nil
}

// Tokens 返回列表中出现的所有锁令牌（含取反的条件）
func Tokens(lists []IfList) []string {
	var tokens []string
	for _, l := range lists {
		for _, c := range l.Conditions {
			if c.Token != "" {
				tokens = append(tokens, c.Token)
			}
		}
	}
	return tokens
}

// Timeout 头解析

// ParseTimeout 解析 Timeout 头，返回秒数。
// 空值取 def，Infinite 以及超过上限的值取 max，无法识别的值返回错误。
func ParseTimeout(header string, def, max int64) (int64, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return def, nil
	}

	// 可能是以逗号分隔的多个候选值，只取第一个
	first := strings.TrimSpace(strings.SplitN(header, ",", 2)[0])
	if strings.EqualFold(first, "infinite") {
		return max, nil
	}
	if len(first) > len("second-") && strings.EqualFold(first[:7], "second-") {
		seconds, err := strconv.ParseInt(first[7:], 10, 64)
		if err != nil || seconds < 0 {
			return 0, fmt.Errorf("invalid timeout value %q", first)
		}
		if seconds > max {
			seconds = max
		}
		return seconds, nil
	}
	return 0, fmt.Errorf("invalid timeout value %q", first)
}

// Depth 头解析

// ParseDepth 解析 Depth 头，无法识别时返回 def
func ParseDepth(header string, def int) int {
	switch strings.ToLower(strings.TrimSpace(header)) {
	case "0":
		return Depth0
	case "1":
		return Depth1
	case "infinity":
		return DepthInfinity
	}
	return def
}

// FormatDepth 格式化深度值
func FormatDepth(depth int) string {
	if depth == DepthInfinity {
		return "infinity"
	}
	return strconv.Itoa(depth)
}

// ParseOverwrite 解析 Overwrite 头，缺省为 true
func ParseOverwrite(header string) (bool, error) {
	switch strings.ToUpper(strings.TrimSpace(header)) {
	case "", "T":
		return true, nil
	case "F":
		return false, nil
	}
	return false, ErrBadRequest("the HTTP Overwrite header should be either T or F")
}

// ParseLockToken 解析 Lock-Token 头中的 <token>
func ParseLockToken(header string) string {
	header = strings.TrimSpace(header)
	return strings.TrimSuffix(strings.TrimPrefix(header, "<"), ">")
}
