package webdav

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strings"

	"github.com/davcore/davcore/internal/webdav/utils"
)

// ResponseWriter 记录状态码和写入字节数
type ResponseWriter struct {
	http.ResponseWriter
	status  int
	written int64
}

func newResponseWriter(w http.ResponseWriter) *ResponseWriter {
	if rw, ok := w.(*ResponseWriter); ok {
		return rw
	}
	return &ResponseWriter{ResponseWriter: w}
}

// WriteHeader 实现 http.ResponseWriter
func (w *ResponseWriter) WriteHeader(status int) {
	if w.status != 0 {
		return
	}
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// Write 实现 http.ResponseWriter
func (w *ResponseWriter) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.WriteHeader(http.StatusOK)
	}
	n, err := w.ResponseWriter.Write(b)
	w.written += int64(n)
	return n, err
}

// Status 已写出的状态码，未写出时为 0
func (w *ResponseWriter) Status() int {
	return w.status
}

// Written 已写出的字节数
func (w *ResponseWriter) Written() int64 {
	return w.written
}

// Request 一次请求的上下文：HTTP 请求、响应、本请求的 Tree 和已解析的 If 头
type Request struct {
	HTTP      *http.Request
	Response  *ResponseWriter
	Server    *Server
	Tree      *Tree
	Path      string
	Method    string
	Principal string
	IfLists   []IfList

	body     []byte
	bodyRead bool
	bodyErr  error
}

// Context 请求的 context
func (r *Request) Context() context.Context {
	return r.HTTP.Context()
}

// Header 返回请求头
func (r *Request) Header(name string) string {
	return r.HTTP.Header.Get(name)
}

// Body 读取并缓存请求体
func (r *Request) Body() ([]byte, error) {
	if !r.bodyRead {
		r.bodyRead = true
		if r.HTTP.Body != nil {
			r.body, r.bodyErr = io.ReadAll(r.HTTP.Body)
		}
	}
	return r.body, r.bodyErr
}

// SetBody 替换请求体，插件改写内容时使用
func (r *Request) SetBody(body []byte) {
	r.body = body
	r.bodyRead = true
	r.bodyErr = nil
}

// BodyReader 以 io.Reader 形式返回缓存的请求体
func (r *Request) BodyReader() (io.Reader, error) {
	body, err := r.Body()
	if err != nil {
		return nil, err
	}
	return bytes.NewReader(body), nil
}

// Depth 解析 Depth 头
func (r *Request) Depth(def int) int {
	return ParseDepth(r.Header("Depth"), def)
}

// Minimal 客户端是否要求精简响应（Prefer: return=minimal 或 Brief: t）
func (r *Request) Minimal() bool {
	if strings.EqualFold(strings.TrimSpace(r.Header("Brief")), "t") {
		return true
	}
	for _, pref := range utils.String.SplitList(r.Header("Prefer")) {
		if strings.EqualFold(strings.ReplaceAll(pref, " ", ""), "return=minimal") {
			return true
		}
	}
	return false
}

// CopyMoveInfo COPY/MOVE 请求的目标信息
type CopyMoveInfo struct {
	Destination       string
	DestinationExists bool
	Overwrite         bool
}

// CopyMoveInfo 解析并检查 Destination 和 Overwrite 头
func (r *Request) CopyMoveInfo() (*CopyMoveInfo, error) {
	header := r.Header("Destination")
	if header == "" {
		return nil, ErrBadRequest("the destination header was not supplied")
	}
	destination, err := r.Server.CalculatePath(header)
	if err != nil {
		return nil, err
	}
	overwrite, err := ParseOverwrite(r.Header("Overwrite"))
	if err != nil {
		return nil, err
	}

	if destination == r.Path {
		return nil, ErrForbidden("source and destination uri are identical")
	}
	if utils.Path.IsDescendant(r.Path, destination) {
		return nil, ErrConflict("the destination may not be part of the same subtree as the source path")
	}

	parentPath, _ := utils.Path.Split(destination)
	parent, err := r.Tree.Capabilities(parentPath)
	if err != nil {
		if IsNotFound(err) {
			return nil, ErrConflict("the destination node is not found")
		}
		return nil, err
	}
	if parent.Collection == nil {
		return nil, ErrConflict("the destination node is not a collection")
	}

	info := &CopyMoveInfo{Destination: destination, Overwrite: overwrite}
	if r.Tree.NodeExists(destination) {
		if !overwrite {
			return nil, ErrPreconditionFailed("the destination node already exists, and the overwrite header is set to false")
		}
		info.DestinationExists = true
	}
	return info, nil
}
