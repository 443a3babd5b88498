package webdav_test

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davcore/davcore/internal/webdav"
	"github.com/davcore/davcore/internal/webdav/memory"
)

// ========================================
// 测试辅助
// ========================================

func newTestServer(t *testing.T, opts ...webdav.Option) (*webdav.Server, *memory.Collection) {
	t.Helper()
	logger, _ := test.NewNullLogger()
	root := memory.NewRoot()
	opts = append([]webdav.Option{webdav.WithLogger(logger)}, opts...)
	return webdav.NewServer(root, opts...), root
}

func do(t *testing.T, h http.Handler, method, target, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func responses(body string) int {
	return strings.Count(body, "<d:response>")
}

const propfindColor = `<?xml version="1.0"?>
<d:propfind xmlns:d="DAV:" xmlns:x="urn:x"><d:prop><x:color/></d:prop></d:propfind>`

// ========================================
// 基本方法
// ========================================

func TestBasicLifecycle(t *testing.T) {
	srv, _ := newTestServer(t)

	w := do(t, srv, "MKCOL", "/dir", "", nil)
	require.Equal(t, http.StatusCreated, w.Code)

	w = do(t, srv, "PROPFIND", "/dir/", "", map[string]string{"Depth": "0"})
	require.Equal(t, http.StatusMultiStatus, w.Code)
	assert.Contains(t, w.Body.String(), "<d:collection/>")
	assert.Contains(t, w.Body.String(), "<d:href>/dir/</d:href>")
	assert.Equal(t, "Brief,Prefer", w.Header().Get("Vary"))

	w = do(t, srv, http.MethodPut, "/dir/a.txt", "hello", nil)
	require.Equal(t, http.StatusCreated, w.Code)
	etag := w.Header().Get("ETag")
	assert.Equal(t, `"5d41402abc4b2a76b9719d911017c592"`, etag)

	w = do(t, srv, http.MethodGet, "/dir/a.txt", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "hello", w.Body.String())
	assert.Equal(t, etag, w.Header().Get("ETag"))
	assert.NotEmpty(t, w.Header().Get("Last-Modified"))

	w = do(t, srv, http.MethodPut, "/dir/a.txt", "hello again", nil)
	require.Equal(t, http.StatusNoContent, w.Code)

	w = do(t, srv, http.MethodDelete, "/dir/a.txt", "", nil)
	require.Equal(t, http.StatusNoContent, w.Code)

	w = do(t, srv, http.MethodGet, "/dir/a.txt", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "<s:exception>NotFound</s:exception>")
}

func TestGetRangeAndHead(t *testing.T) {
	srv, root := newTestServer(t)
	require.NoError(t, root.Import("f.bin", []byte("0123456789")))
	require.NoError(t, root.CreateDirectory("dir"))

	w := do(t, srv, http.MethodGet, "/f.bin", "", map[string]string{"Range": "bytes=2-4"})
	assert.Equal(t, http.StatusPartialContent, w.Code)
	assert.Equal(t, "234", w.Body.String())

	w = do(t, srv, http.MethodHead, "/f.bin", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Body.String())
	assert.Equal(t, "10", w.Header().Get("Content-Length"))

	w = do(t, srv, http.MethodHead, "/dir", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = do(t, srv, http.MethodGet, "/dir", "", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
	assert.NotContains(t, w.Header().Get("Allow"), "GET")
	assert.Contains(t, w.Header().Get("Allow"), "PROPFIND")
}

func TestPutErrors(t *testing.T) {
	srv, root := newTestServer(t)
	require.NoError(t, root.CreateDirectory("dir"))
	require.NoError(t, root.Import("file", []byte("x")))

	tests := []struct {
		name    string
		path    string
		headers map[string]string
		want    int
	}{
		{name: "Content-Range", path: "/new", headers: map[string]string{"Content-Range": "bytes 0-1/2"}, want: http.StatusBadRequest},
		{name: "父节点不存在", path: "/missing/new", want: http.StatusConflict},
		{name: "父节点不是集合", path: "/file/new", want: http.StatusConflict},
		{name: "集合", path: "/dir", want: http.StatusMethodNotAllowed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, srv, http.MethodPut, tt.path, "data", tt.headers)
			assert.Equal(t, tt.want, w.Code)
		})
	}
}

func TestQuotaExceeded(t *testing.T) {
	logger, _ := test.NewNullLogger()
	root := memory.NewRoot(memory.WithQuota(4))
	srv := webdav.NewServer(root, webdav.WithLogger(logger))

	w := do(t, srv, http.MethodPut, "/a", "1234", nil)
	require.Equal(t, http.StatusCreated, w.Code)
	w = do(t, srv, http.MethodPut, "/b", "5", nil)
	assert.Equal(t, http.StatusInsufficientStorage, w.Code)
	assert.Contains(t, w.Body.String(), "insufficient storage")
}

// ========================================
// PROPFIND
// ========================================

func buildTree(t *testing.T, root *memory.Collection) {
	t.Helper()
	require.NoError(t, root.CreateDirectory("a"))
	a, _ := root.Child("a")
	require.NoError(t, a.(*memory.Collection).CreateDirectory("b"))
	require.NoError(t, a.(*memory.Collection).Import("f1", []byte("1")))
	b, _ := a.(*memory.Collection).Child("b")
	require.NoError(t, b.(*memory.Collection).CreateDirectory("c"))
	require.NoError(t, b.(*memory.Collection).Import("f2", []byte("2")))
}

func TestPropFindDepth(t *testing.T) {
	srv, root := newTestServer(t)
	buildTree(t, root)

	tests := []struct {
		depth string
		want  int
	}{
		{depth: "0", want: 1},
		{depth: "1", want: 2},
		{depth: "infinity", want: 6},
		{depth: "", want: 6},
	}
	for _, tt := range tests {
		t.Run("Depth:"+tt.depth, func(t *testing.T) {
			headers := map[string]string{}
			if tt.depth != "" {
				headers["Depth"] = tt.depth
			}
			w := do(t, srv, "PROPFIND", "/", "", headers)
			require.Equal(t, http.StatusMultiStatus, w.Code)
			assert.Equal(t, tt.want, responses(w.Body.String()))
		})
	}
}

func TestPropFindMaxDepth(t *testing.T) {
	srv, root := newTestServer(t, webdav.WithMaxDepth(1))
	buildTree(t, root)

	w := do(t, srv, "PROPFIND", "/", "", map[string]string{"Depth": "infinity"})
	require.Equal(t, http.StatusMultiStatus, w.Code)
	assert.Equal(t, 2, responses(w.Body.String()), "只遍历到第一层")
}

func TestPropFindIdempotent(t *testing.T) {
	srv, root := newTestServer(t)
	buildTree(t, root)

	first := do(t, srv, "PROPFIND", "/a", "", map[string]string{"Depth": "1"})
	second := do(t, srv, "PROPFIND", "/a", "", map[string]string{"Depth": "1"})
	require.Equal(t, http.StatusMultiStatus, first.Code)
	assert.Equal(t, first.Body.String(), second.Body.String())
}

func TestPropFindModes(t *testing.T) {
	srv, root := newTestServer(t)
	require.NoError(t, root.Import("f.txt", []byte("abc")))

	t.Run("指定属性，未知属性为 404", func(t *testing.T) {
		body := `<d:propfind xmlns:d="DAV:" xmlns:x="urn:x"><d:prop><d:getcontentlength/><x:unknown/></d:prop></d:propfind>`
		w := do(t, srv, "PROPFIND", "/f.txt", body, map[string]string{"Depth": "0"})
		require.Equal(t, http.StatusMultiStatus, w.Code)
		assert.Contains(t, w.Body.String(), "<d:getcontentlength>3</d:getcontentlength>")
		assert.Contains(t, w.Body.String(), "HTTP/1.1 404 Not Found")
	})

	t.Run("Prefer: return=minimal 丢弃 404", func(t *testing.T) {
		body := `<d:propfind xmlns:d="DAV:" xmlns:x="urn:x"><d:prop><d:getcontentlength/><x:unknown/></d:prop></d:propfind>`
		w := do(t, srv, "PROPFIND", "/f.txt", body, map[string]string{"Depth": "0", "Prefer": "return=minimal"})
		require.Equal(t, http.StatusMultiStatus, w.Code)
		assert.NotContains(t, w.Body.String(), "404")
	})

	t.Run("propname", func(t *testing.T) {
		body := `<d:propfind xmlns:d="DAV:"><d:propname/></d:propfind>`
		w := do(t, srv, "PROPFIND", "/f.txt", body, map[string]string{"Depth": "0"})
		require.Equal(t, http.StatusMultiStatus, w.Code)
		assert.Contains(t, w.Body.String(), "<d:getcontentlength/>")
		assert.NotContains(t, w.Body.String(), ">3<")
	})

	t.Run("非法请求体", func(t *testing.T) {
		w := do(t, srv, "PROPFIND", "/f.txt", "<d:propfind", map[string]string{"Depth": "0"})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("不存在的路径", func(t *testing.T) {
		w := do(t, srv, "PROPFIND", "/missing", "", map[string]string{"Depth": "0"})
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

// ========================================
// PROPPATCH
// ========================================

func TestPropPatch(t *testing.T) {
	srv, root := newTestServer(t)
	require.NoError(t, root.Import("f.txt", []byte("abc")))

	set := `<d:propertyupdate xmlns:d="DAV:" xmlns:x="urn:x">
<d:set><d:prop><x:color>red</x:color></d:prop></d:set>
</d:propertyupdate>`
	w := do(t, srv, "PROPPATCH", "/f.txt", set, nil)
	require.Equal(t, http.StatusMultiStatus, w.Code)
	assert.Contains(t, w.Body.String(), "HTTP/1.1 200 OK")

	w = do(t, srv, "PROPFIND", "/f.txt", propfindColor, map[string]string{"Depth": "0"})
	assert.Contains(t, w.Body.String(), ">red</x1:color>")

	protected := `<d:propertyupdate xmlns:d="DAV:" xmlns:x="urn:x">
<d:set><d:prop><d:getetag>x</d:getetag><x:color>blue</x:color></d:prop></d:set>
</d:propertyupdate>`
	w = do(t, srv, "PROPPATCH", "/f.txt", protected, nil)
	require.Equal(t, http.StatusMultiStatus, w.Code)
	assert.Contains(t, w.Body.String(), "HTTP/1.1 403 Forbidden")
	assert.Contains(t, w.Body.String(), "HTTP/1.1 424 Failed Dependency")

	w = do(t, srv, "PROPFIND", "/f.txt", propfindColor, map[string]string{"Depth": "0"})
	assert.Contains(t, w.Body.String(), ">red</x1:color>", "失败的请求不能修改任何属性")

	w = do(t, srv, "PROPPATCH", "/f.txt", set, map[string]string{"Prefer": "return=minimal"})
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = do(t, srv, "PROPPATCH", "/missing", set, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(t, srv, "PROPPATCH", "/f.txt", `<d:propfind xmlns:d="DAV:"/>`, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

// ========================================
// MKCOL
// ========================================

func TestMkCol(t *testing.T) {
	srv, root := newTestServer(t)
	require.NoError(t, root.Import("file", nil))

	tests := []struct {
		name    string
		path    string
		body    string
		headers map[string]string
		want    int
	}{
		{name: "创建", path: "/new", want: http.StatusCreated},
		{name: "已存在", path: "/file", want: http.StatusMethodNotAllowed},
		{name: "父节点不存在", path: "/missing/new", want: http.StatusConflict},
		{name: "父节点不是集合", path: "/file/new", want: http.StatusConflict},
		{
			name:    "请求体类型错误",
			path:    "/typed",
			body:    "<x/>",
			headers: map[string]string{"Content-Type": "text/plain"},
			want:    http.StatusUnsupportedMediaType,
		},
		{
			name:    "缺少 resourcetype",
			path:    "/typed",
			body:    `<d:mkcol xmlns:d="DAV:"><d:set><d:prop><d:displayname>x</d:displayname></d:prop></d:set></d:mkcol>`,
			headers: map[string]string{"Content-Type": "application/xml"},
			want:    http.StatusBadRequest,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, srv, "MKCOL", tt.path, tt.body, tt.headers)
			assert.Equal(t, tt.want, w.Code)
		})
	}
}

func TestExtendedMkCol(t *testing.T) {
	srv, root := newTestServer(t)

	body := `<d:mkcol xmlns:d="DAV:" xmlns:c="urn:ietf:params:xml:ns:caldav">
<d:set><d:prop>
  <d:resourcetype><d:collection/><c:calendar/></d:resourcetype>
  <d:displayname>Work</d:displayname>
</d:prop></d:set>
</d:mkcol>`
	w := do(t, srv, "MKCOL", "/work", body, map[string]string{"Content-Type": "application/xml; charset=utf-8"})
	require.Equal(t, http.StatusCreated, w.Code)

	node, err := root.Child("work")
	require.NoError(t, err)
	cal, ok := node.(*memory.Calendar)
	require.True(t, ok)
	props, err := cal.Properties([]string{"{DAV:}displayname"})
	require.NoError(t, err)
	assert.Equal(t, "Work", props["{DAV:}displayname"])

	protected := `<d:mkcol xmlns:d="DAV:">
<d:set><d:prop>
  <d:resourcetype><d:collection/></d:resourcetype>
  <d:getetag>x</d:getetag>
</d:prop></d:set>
</d:mkcol>`
	w = do(t, srv, "MKCOL", "/other", protected, map[string]string{"Content-Type": "text/xml"})
	assert.Equal(t, http.StatusMultiStatus, w.Code)
	assert.Contains(t, w.Body.String(), "HTTP/1.1 403 Forbidden")
}

// ========================================
// COPY / MOVE
// ========================================

func TestCopyMove(t *testing.T) {
	srv, root := newTestServer(t)
	buildTree(t, root)
	require.NoError(t, root.Import("x.txt", []byte("x")))

	w := do(t, srv, "COPY", "/a", "", map[string]string{"Destination": "/copy"})
	require.Equal(t, http.StatusCreated, w.Code)
	w = do(t, srv, "PROPFIND", "/copy", "", nil)
	assert.Equal(t, 5, responses(w.Body.String()))

	w = do(t, srv, "COPY", "/a", "", map[string]string{"Destination": "/shallow", "Depth": "0"})
	require.Equal(t, http.StatusCreated, w.Code)
	w = do(t, srv, "PROPFIND", "/shallow", "", nil)
	assert.Equal(t, 1, responses(w.Body.String()))

	w = do(t, srv, "MOVE", "/x.txt", "", map[string]string{"Destination": "http://example.com/a/f1", "Overwrite": "F"})
	assert.Equal(t, http.StatusPreconditionFailed, w.Code)

	w = do(t, srv, "MOVE", "/x.txt", "", map[string]string{"Destination": "http://example.com/a/f1"})
	assert.Equal(t, http.StatusNoContent, w.Code)
	w = do(t, srv, http.MethodGet, "/a/f1", "", nil)
	assert.Equal(t, "x", w.Body.String())
	assert.False(t, root.ChildExists("x.txt"))

	w = do(t, srv, "MOVE", "/a/b", "", map[string]string{"Destination": "/moved"})
	assert.Equal(t, http.StatusCreated, w.Code)
	w = do(t, srv, "PROPFIND", "/moved", "", nil)
	assert.Equal(t, 3, responses(w.Body.String()))

	tests := []struct {
		name    string
		method  string
		path    string
		headers map[string]string
		want    int
	}{
		{name: "缺少 Destination", method: "COPY", path: "/a", want: http.StatusBadRequest},
		{name: "源和目标相同", method: "MOVE", path: "/a", headers: map[string]string{"Destination": "/a"}, want: http.StatusForbidden},
		{name: "目标在源之下", method: "COPY", path: "/a", headers: map[string]string{"Destination": "/a/inner"}, want: http.StatusConflict},
		{name: "源不存在", method: "MOVE", path: "/missing", headers: map[string]string{"Destination": "/b"}, want: http.StatusNotFound},
		{name: "MOVE 深度错误", method: "MOVE", path: "/a", headers: map[string]string{"Destination": "/z", "Depth": "0"}, want: http.StatusBadRequest},
		{name: "COPY 深度错误", method: "COPY", path: "/a", headers: map[string]string{"Destination": "/z", "Depth": "1"}, want: http.StatusBadRequest},
		{name: "目标父节点不存在", method: "COPY", path: "/a", headers: map[string]string{"Destination": "/none/z"}, want: http.StatusConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, srv, tt.method, tt.path, "", tt.headers)
			assert.Equal(t, tt.want, w.Code)
		})
	}
}

// strictRoot 子文件拒绝所有属性修改
type strictRoot struct {
	*memory.Collection
}

func (r strictRoot) Child(name string) (webdav.Node, error) {
	n, err := r.Collection.Child(name)
	if err != nil {
		return nil, err
	}
	if f, ok := n.(*memory.File); ok {
		return strictFile{f}, nil
	}
	return n, nil
}

type strictFile struct {
	*memory.File
}

func (strictFile) PropPatch(*webdav.PropPatch) {}

func TestCopyPropertiesRejected(t *testing.T) {
	logger, _ := test.NewNullLogger()
	inner := memory.NewRoot()
	require.NoError(t, inner.Import("a.txt", []byte("a")))
	node, err := inner.Child("a.txt")
	require.NoError(t, err)
	pp := webdav.NewPropPatch(map[string]any{"{urn:x}color": "red"})
	node.(webdav.PropertiesProvider).PropPatch(pp)
	require.True(t, pp.Commit())

	srv := webdav.NewServer(strictRoot{inner}, webdav.WithLogger(logger))
	w := do(t, srv, "COPY", "/a.txt", "", map[string]string{"Destination": "/b.txt"})
	assert.Equal(t, http.StatusConflict, w.Code, "目标拒绝死属性时复制失败")
	assert.Contains(t, w.Body.String(), "{urn:x}color")
}

// ========================================
// OPTIONS、未知方法、REPORT
// ========================================

func TestOptions(t *testing.T) {
	srv, root := newTestServer(t)
	require.NoError(t, root.Import("f", nil))

	w := do(t, srv, http.MethodOptions, "/f", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	allow := w.Header().Get("Allow")
	for _, m := range []string{"OPTIONS", "GET", "PUT", "PROPFIND", "PROPPATCH", "COPY", "MOVE"} {
		assert.Contains(t, allow, m)
	}
	assert.Equal(t, "1, 3, extended-mkcol", w.Header().Get("DAV"))
	assert.Equal(t, "DAV", w.Header().Get("MS-Author-Via"))

	w = do(t, srv, http.MethodOptions, "/unmapped", "", nil)
	assert.Equal(t, "OPTIONS, PUT, MKCOL", w.Header().Get("Allow"))
}

type methodPlugin struct{}

func (methodPlugin) Name() string { return "test-method" }

func (methodPlugin) Initialize(s *webdav.Server) error {
	s.OnUnknownMethod(100, func(r *webdav.Request, method string) (bool, error) {
		if method != "PING" {
			return true, nil
		}
		r.Response.WriteHeader(http.StatusTeapot)
		return false, nil
	})
	return nil
}

func (methodPlugin) HTTPMethods(string) []string { return []string{"PING"} }

func (methodPlugin) Features() []string { return []string{"ping"} }

func TestUnknownMethod(t *testing.T) {
	srv, _ := newTestServer(t)

	w := do(t, srv, "PATCH", "/", "", nil)
	assert.Equal(t, http.StatusNotImplemented, w.Code)

	require.NoError(t, srv.AddPlugin(methodPlugin{}))
	w = do(t, srv, "PING", "/", "", nil)
	assert.Equal(t, http.StatusTeapot, w.Code)
	w = do(t, srv, "PATCH", "/", "", nil)
	assert.Equal(t, http.StatusNotImplemented, w.Code)

	w = do(t, srv, http.MethodOptions, "/", "", nil)
	assert.Contains(t, w.Header().Get("Allow"), "PING")
	assert.Contains(t, w.Header().Get("DAV"), "ping")
	assert.NotNil(t, srv.Plugin("test-method"))
	assert.Len(t, srv.PluginInfo(), 2)
}

func TestReportNotSupported(t *testing.T) {
	srv, _ := newTestServer(t)

	w := do(t, srv, "REPORT", "/", `<x:custom xmlns:x="urn:x"/>`, nil)
	assert.Equal(t, http.StatusUnsupportedMediaType, w.Code)
	assert.Contains(t, w.Body.String(), "<d:supported-report/>")

	w = do(t, srv, "REPORT", "/", `<x:broken`, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

// ========================================
// 前置条件
// ========================================

func TestPreconditions(t *testing.T) {
	srv, root := newTestServer(t)
	require.NoError(t, root.Import("f.txt", []byte("hello")))
	etag := `"5d41402abc4b2a76b9719d911017c592"`

	tests := []struct {
		name    string
		method  string
		path    string
		headers map[string]string
		want    int
	}{
		{name: "If-Match 不匹配", method: http.MethodPut, path: "/f.txt", headers: map[string]string{"If-Match": `"other"`}, want: http.StatusPreconditionFailed},
		{name: "If-Match 匹配", method: http.MethodPut, path: "/f.txt", headers: map[string]string{"If-Match": etag}, want: http.StatusNoContent},
		{name: "If-Match * 但资源不存在", method: http.MethodPut, path: "/new.txt", headers: map[string]string{"If-Match": "*"}, want: http.StatusPreconditionFailed},
		{name: "If-None-Match * 且资源存在", method: http.MethodPut, path: "/f.txt", headers: map[string]string{"If-None-Match": "*"}, want: http.StatusPreconditionFailed},
		{name: "If-None-Match * 且资源不存在", method: http.MethodPut, path: "/created.txt", headers: map[string]string{"If-None-Match": "*"}, want: http.StatusCreated},
		{name: "If-Unmodified-Since 过早", method: http.MethodDelete, path: "/f.txt", headers: map[string]string{"If-Unmodified-Since": "Mon, 01 Jan 2001 00:00:00 GMT"}, want: http.StatusPreconditionFailed},
		{name: "If 头 ETag 不匹配", method: http.MethodDelete, path: "/f.txt", headers: map[string]string{"If": `(["wrong"])`}, want: http.StatusPreconditionFailed},
		{name: "If 头语法错误", method: http.MethodDelete, path: "/f.txt", headers: map[string]string{"If": `<broken`}, want: http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, srv, tt.method, tt.path, "hello", tt.headers)
			assert.Equal(t, tt.want, w.Code)
		})
	}

	t.Run("If-None-Match 匹配时 GET 返回 304", func(t *testing.T) {
		w := do(t, srv, http.MethodGet, "/f.txt", "", map[string]string{"If-None-Match": etag})
		assert.Equal(t, http.StatusNotModified, w.Code)
		assert.Empty(t, w.Body.String())
	})

	t.Run("If-Modified-Since 未修改", func(t *testing.T) {
		w := do(t, srv, http.MethodGet, "/f.txt", "", map[string]string{"If-Modified-Since": "Fri, 01 Jan 2100 00:00:00 GMT"})
		assert.Equal(t, http.StatusNotModified, w.Code)
	})
}

func TestBaseURI(t *testing.T) {
	srv, root := newTestServer(t, webdav.WithBaseURI("/dav"))
	require.NoError(t, root.Import("f.txt", []byte("x")))

	w := do(t, srv, http.MethodGet, "/dav/f.txt", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = do(t, srv, "PROPFIND", "/dav", "", map[string]string{"Depth": "1"})
	require.Equal(t, http.StatusMultiStatus, w.Code)
	assert.Contains(t, w.Body.String(), "<d:href>/dav/</d:href>")
	assert.Contains(t, w.Body.String(), "<d:href>/dav/f.txt</d:href>")

	w = do(t, srv, http.MethodGet, "/other/f.txt", "", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = do(t, srv, "COPY", "/dav/f.txt", "", map[string]string{"Destination": "/elsewhere/g.txt"})
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestDebugErrorBody(t *testing.T) {
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	srv := webdav.NewServer(memory.NewRoot(), webdav.WithLogger(logger), webdav.WithDebug(true))

	w := do(t, srv, http.MethodGet, "/missing", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "<s:stacktrace>")
	assert.NotEmpty(t, hook.AllEntries())
}

func TestPropFindHiddenByPlugin(t *testing.T) {
	srv, root := newTestServer(t)
	require.NoError(t, root.Import("visible", nil))
	require.NoError(t, root.Import("hidden", nil))

	srv.OnPropFind(50, func(r *webdav.Request, pf *webdav.PropFind, node webdav.Node) (bool, error) {
		return node.Name() != "hidden", nil
	})

	w := do(t, srv, "PROPFIND", "/", "", map[string]string{"Depth": "1"})
	require.Equal(t, http.StatusMultiStatus, w.Code)
	assert.Equal(t, 2, responses(w.Body.String()))
	assert.NotContains(t, w.Body.String(), "hidden")
}
