package webdav

import (
	"errors"
	"fmt"
	"net/http"

	davxml "github.com/davcore/davcore/internal/webdav/xml"
)

// Kind 错误类别
type Kind int

const (
	KindInternal Kind = iota
	KindBadRequest
	KindNotAuthenticated
	KindForbidden
	KindNotFound
	KindMethodNotAllowed
	KindConflict
	KindPreconditionFailed
	KindUnsupportedMediaType
	KindLocked
	KindFailedDependency
	KindNotImplemented
	KindInsufficientStorage
	KindReportNotSupported
	KindInvalidSyncToken
	KindNotModified
)

// kindStatus 错误类别到 HTTP 状态码的唯一映射表
var kindStatus = map[Kind]int{
	KindInternal:             http.StatusInternalServerError,
	KindBadRequest:           http.StatusBadRequest,
	KindNotAuthenticated:     http.StatusUnauthorized,
	KindForbidden:            http.StatusForbidden,
	KindNotFound:             http.StatusNotFound,
	KindMethodNotAllowed:     http.StatusMethodNotAllowed,
	KindConflict:             http.StatusConflict,
	KindPreconditionFailed:   http.StatusPreconditionFailed,
	KindUnsupportedMediaType: http.StatusUnsupportedMediaType,
	KindLocked:               http.StatusLocked,
	KindFailedDependency:     http.StatusFailedDependency,
	KindNotImplemented:       http.StatusNotImplemented,
	KindInsufficientStorage:  http.StatusInsufficientStorage,
	KindReportNotSupported:   http.StatusUnsupportedMediaType,
	KindInvalidSyncToken:     http.StatusForbidden,
	KindNotModified:          http.StatusNotModified,
}

var kindNames = map[Kind]string{
	KindInternal:             "Internal",
	KindBadRequest:           "BadRequest",
	KindNotAuthenticated:     "NotAuthenticated",
	KindForbidden:            "Forbidden",
	KindNotFound:             "NotFound",
	KindMethodNotAllowed:     "MethodNotAllowed",
	KindConflict:             "Conflict",
	KindPreconditionFailed:   "PreconditionFailed",
	KindUnsupportedMediaType: "UnsupportedMediaType",
	KindLocked:               "Locked",
	KindFailedDependency:     "FailedDependency",
	KindNotImplemented:       "NotImplemented",
	KindInsufficientStorage:  "InsufficientStorage",
	KindReportNotSupported:   "ReportNotSupported",
	KindInvalidSyncToken:     "InvalidSyncToken",
	KindNotModified:          "NotModified",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Status 返回类别对应的状态码
func (k Kind) Status() int {
	if status, ok := kindStatus[k]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// DavError 协议错误，序列化为 {DAV:}error 响应体
type DavError struct {
	Kind      Kind
	Message   string
	Condition *davxml.Element
	Header    http.Header
	Err       error
}

func (e *DavError) Error() string {
	msg := e.Kind.String()
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *DavError) Unwrap() error {
	return e.Err
}

// Status 返回 HTTP 状态码
func (e *DavError) Status() int {
	return e.Kind.Status()
}

// WithCondition 设置前置条件元素，如 {DAV:}no-conflicting-lock
func (e *DavError) WithCondition(name string, children ...*davxml.Element) *DavError {
	e.Condition = davxml.NewElement(name, children...)
	return e
}

// WithHeader 附加响应头，如 Allow 或 WWW-Authenticate
func (e *DavError) WithHeader(key, value string) *DavError {
	if e.Header == nil {
		e.Header = make(http.Header)
	}
	e.Header.Add(key, value)
	return e
}

// NewError 创建错误
func NewError(kind Kind, format string, args ...any) *DavError {
	return &DavError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WrapError 包装底层错误
func WrapError(kind Kind, err error, message string) *DavError {
	return &DavError{Kind: kind, Message: message, Err: err}
}

func ErrBadRequest(msg string) *DavError          { return NewError(KindBadRequest, "%s", msg) }
func ErrNotAuthenticated(msg string) *DavError    { return NewError(KindNotAuthenticated, "%s", msg) }
func ErrForbidden(msg string) *DavError           { return NewError(KindForbidden, "%s", msg) }
func ErrNotFound(msg string) *DavError            { return NewError(KindNotFound, "%s", msg) }
func ErrConflict(msg string) *DavError            { return NewError(KindConflict, "%s", msg) }
func ErrPreconditionFailed(msg string) *DavError  { return NewError(KindPreconditionFailed, "%s", msg) }
func ErrUnsupportedMediaType(msg string) *DavError { return NewError(KindUnsupportedMediaType, "%s", msg) }
func ErrLocked(msg string) *DavError              { return NewError(KindLocked, "%s", msg) }
func ErrNotImplemented(msg string) *DavError      { return NewError(KindNotImplemented, "%s", msg) }
func ErrInsufficientStorage(msg string) *DavError { return NewError(KindInsufficientStorage, "%s", msg) }

// ErrMethodNotAllowed 405，allow 为该路径允许的方法
func ErrMethodNotAllowed(msg string, allow []string) *DavError {
	e := NewError(KindMethodNotAllowed, "%s", msg)
	if len(allow) > 0 {
		e.WithHeader("Allow", joinMethods(allow))
	}
	return e
}

// ErrReportNotSupported 不支持的 REPORT
func ErrReportNotSupported(report string) *DavError {
	return NewError(KindReportNotSupported, "the %s report is not supported on this url", report).
		WithCondition(davxml.DAV("supported-report"))
}

// ErrInvalidSyncToken 无效的同步令牌
func ErrInvalidSyncToken(msg string) *DavError {
	return NewError(KindInvalidSyncToken, "%s", msg).WithCondition(davxml.DAV("valid-sync-token"))
}

// StatusOf 返回错误对应的 HTTP 状态码，非 DavError 一律视为 500
func StatusOf(err error) int {
	if err == nil {
		return http.StatusOK
	}
	var de *DavError
	if errors.As(err, &de) {
		return de.Status()
	}
	return http.StatusInternalServerError
}

// IsNotFound 判断是否为 404 错误
func IsNotFound(err error) bool {
	var de *DavError
	return errors.As(err, &de) && de.Kind == KindNotFound
}

// errorBody 生成 {DAV:}error 响应体
func errorBody(err error, debug bool) *davxml.Element {
	body := davxml.NewElement(davxml.DAV("error"))

	kind := KindInternal
	message := "internal server error"
	var de *DavError
	if errors.As(err, &de) {
		kind = de.Kind
		message = de.Message
		if de.Condition != nil {
			body.Children = append(body.Children, de.Condition)
		}
	}
	if debug {
		message = err.Error()
	}

	body.Children = append(body.Children,
		&davxml.Element{Name: davxml.Clark(davxml.NamespaceDavcore, "exception"), Text: kind.String()},
		&davxml.Element{Name: davxml.Clark(davxml.NamespaceDavcore, "message"), Text: message},
	)
	if debug {
		body.Children = append(body.Children,
			&davxml.Element{Name: davxml.Clark(davxml.NamespaceDavcore, "stacktrace"), Text: fmt.Sprintf("%+v", err)},
		)
	}
	return body
}
