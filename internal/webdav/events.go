package webdav

import (
	davxml "github.com/davcore/davcore/internal/webdav/xml"
)

// 核心触发的事件
const (
	EventBeforeMethod       = "beforeMethod:"
	EventMethod             = "method:"
	EventAfterMethod        = "afterMethod:"
	EventUnknownMethod      = "unknownMethod"
	EventValidateTokens     = "validateTokens"
	EventPropFind           = "propFind"
	EventPropPatch          = "propPatch"
	EventReport             = "report"
	EventBeforeBind         = "beforeBind"
	EventAfterBind          = "afterBind"
	EventBeforeUnbind       = "beforeUnbind"
	EventAfterUnbind        = "afterUnbind"
	EventBeforeMove         = "beforeMove"
	EventAfterMove          = "afterMove"
	EventBeforeCreateFile   = "beforeCreateFile"
	EventAfterCreateFile    = "afterCreateFile"
	EventBeforeWriteContent = "beforeWriteContent"
	EventAfterWriteContent  = "afterWriteContent"
	EventException          = "exception"
)

// MethodHandler 处理方法的监听器，返回 false 表示已处理
type MethodHandler func(r *Request) (bool, error)

// On 订阅原始事件
func (s *Server) On(event string, priority int, fn Listener) {
	s.bus.On(event, priority, fn)
}

// OnBeforeMethod 订阅 beforeMethod:<verb>，verb 为 * 时对所有方法生效
func (s *Server) OnBeforeMethod(verb string, priority int, fn MethodHandler) {
	s.bus.On(EventBeforeMethod+verb, priority, func(args ...any) (bool, error) {
		return fn(args[0].(*Request))
	})
}

// OnMethod 订阅 method:<verb>
func (s *Server) OnMethod(verb string, priority int, fn MethodHandler) {
	s.bus.On(EventMethod+verb, priority, func(args ...any) (bool, error) {
		return fn(args[0].(*Request))
	})
}

// OnAfterMethod 订阅 afterMethod:<verb>
func (s *Server) OnAfterMethod(verb string, priority int, fn func(r *Request)) {
	s.bus.On(EventAfterMethod+verb, priority, func(args ...any) (bool, error) {
		fn(args[0].(*Request))
		return true, nil
	})
}

// OnUnknownMethod 订阅未知方法
func (s *Server) OnUnknownMethod(priority int, fn func(r *Request, method string) (bool, error)) {
	s.bus.On(EventUnknownMethod, priority, func(args ...any) (bool, error) {
		return fn(args[0].(*Request), args[1].(string))
	})
}

// OnValidateTokens 订阅 If 头令牌校验，监听器把有效的条件标记为 Valid
func (s *Server) OnValidateTokens(priority int, fn func(r *Request, lists []IfList) error) {
	s.bus.On(EventValidateTokens, priority, func(args ...any) (bool, error) {
		return true, fn(args[0].(*Request), args[1].([]IfList))
	})
}

// OnPropFind 订阅属性查询。返回 false 时该节点不会出现在结果中。
func (s *Server) OnPropFind(priority int, fn func(r *Request, pf *PropFind, node Node) (bool, error)) {
	s.bus.On(EventPropFind, priority, func(args ...any) (bool, error) {
		return fn(args[0].(*Request), args[1].(*PropFind), args[2].(Node))
	})
}

// OnPropPatch 订阅属性修改
func (s *Server) OnPropPatch(priority int, fn func(r *Request, path string, pp *PropPatch) error) {
	s.bus.On(EventPropPatch, priority, func(args ...any) (bool, error) {
		return true, fn(args[0].(*Request), args[1].(string), args[2].(*PropPatch))
	})
}

// OnReport 订阅 REPORT，返回 false 表示已处理
func (s *Server) OnReport(priority int, fn func(r *Request, name string, body *davxml.Element, path string) (bool, error)) {
	s.bus.On(EventReport, priority, func(args ...any) (bool, error) {
		return fn(args[0].(*Request), args[1].(string), args[2].(*davxml.Element), args[3].(string))
	})
}

// OnPathEvent 订阅只带路径参数的事件（beforeBind、afterBind、beforeUnbind、afterUnbind 等）
func (s *Server) OnPathEvent(event string, priority int, fn func(r *Request, path string) (bool, error)) {
	s.bus.On(event, priority, func(args ...any) (bool, error) {
		return fn(args[0].(*Request), args[1].(string))
	})
}

// OnMove 订阅 beforeMove/afterMove
func (s *Server) OnMove(event string, priority int, fn func(r *Request, src, dst string) (bool, error)) {
	s.bus.On(event, priority, func(args ...any) (bool, error) {
		return fn(args[0].(*Request), args[1].(string), args[2].(string))
	})
}

// OnBeforeCreateFile 订阅新建文件，data 可以被改写；改写后应把 modified 置为 true
func (s *Server) OnBeforeCreateFile(priority int, fn func(r *Request, path string, data *[]byte, parent Collection, modified *bool) (bool, error)) {
	s.bus.On(EventBeforeCreateFile, priority, func(args ...any) (bool, error) {
		return fn(args[0].(*Request), args[1].(string), args[2].(*[]byte), args[3].(Collection), args[4].(*bool))
	})
}

// OnBeforeWriteContent 订阅覆盖已有文件
func (s *Server) OnBeforeWriteContent(priority int, fn func(r *Request, path string, node File, data *[]byte, modified *bool) (bool, error)) {
	s.bus.On(EventBeforeWriteContent, priority, func(args ...any) (bool, error) {
		return fn(args[0].(*Request), args[1].(string), args[2].(File), args[3].(*[]byte), args[4].(*bool))
	})
}

// OnException 订阅请求错误
func (s *Server) OnException(priority int, fn func(r *Request, err error)) {
	s.bus.On(EventException, priority, func(args ...any) (bool, error) {
		fn(args[0].(*Request), args[1].(error))
		return true, nil
	})
}

// emit 触发事件，第一个参数总是当前请求
func (s *Server) emit(r *Request, event string, args ...any) (bool, error) {
	return s.bus.Emit(event, append([]any{r}, args...)...)
}
