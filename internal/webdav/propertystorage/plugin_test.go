package propertystorage_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davcore/davcore/internal/webdav"
	"github.com/davcore/davcore/internal/webdav/memory"
	"github.com/davcore/davcore/internal/webdav/propertystorage"
	"github.com/davcore/davcore/internal/webdav/validators"
)

const setProps = `<?xml version="1.0"?>
<d:propertyupdate xmlns:d="DAV:" xmlns:x="urn:x">
  <d:set><d:prop>
    <x:color>red</x:color>
    <x:author><x:name>Bob</x:name></x:author>
  </d:prop></d:set>
</d:propertyupdate>`

const findProps = `<?xml version="1.0"?>
<d:propfind xmlns:d="DAV:" xmlns:x="urn:x"><d:prop><x:color/><x:author/></d:prop></d:propfind>`

func newServer(t *testing.T, opts ...propertystorage.Option) (*webdav.Server, *memory.Collection, *propertystorage.MemoryBackend) {
	t.Helper()
	logger, _ := test.NewNullLogger()
	root := memory.NewRoot(memory.WithoutDeadProperties())
	backend := propertystorage.NewMemoryBackend()
	srv := webdav.NewServer(root, webdav.WithLogger(logger))
	require.NoError(t, srv.AddPlugin(propertystorage.New(backend, opts...)))
	return srv, root, backend
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

var depth0 = map[string]string{"Depth": "0"}

func TestStoreAndFind(t *testing.T) {
	srv, root, backend := newServer(t)
	require.NoError(t, root.Import("f.txt", []byte("abc")))

	w := do(t, srv, "PROPPATCH", "/f.txt", setProps, nil)
	require.Equal(t, http.StatusMultiStatus, w.Code)
	assert.Contains(t, w.Body.String(), "HTTP/1.1 200 OK")
	assert.NotContains(t, w.Body.String(), "HTTP/1.1 403")

	stored, err := backend.Get(context.Background(), "f.txt", nil)
	require.NoError(t, err)
	assert.Len(t, stored, 2)

	w = do(t, srv, "PROPFIND", "/f.txt", findProps, depth0)
	require.Equal(t, http.StatusMultiStatus, w.Code)
	body := w.Body.String()
	assert.Contains(t, body, ">red</x1:color>")
	assert.Contains(t, body, "<x1:name>Bob</x1:name>")
	assert.NotContains(t, body, "404 Not Found")

	w = do(t, srv, "PROPFIND", "/f.txt", "", depth0)
	assert.Contains(t, w.Body.String(), ">red</x1:color>", "allprop 包含死属性")
}

func TestRemoveProperty(t *testing.T) {
	srv, root, _ := newServer(t)
	require.NoError(t, root.Import("f.txt", nil))
	require.Equal(t, http.StatusMultiStatus, do(t, srv, "PROPPATCH", "/f.txt", setProps, nil).Code)

	remove := `<?xml version="1.0"?>
<d:propertyupdate xmlns:d="DAV:" xmlns:x="urn:x"><d:remove><d:prop><x:color/></d:prop></d:remove></d:propertyupdate>`
	w := do(t, srv, "PROPPATCH", "/f.txt", remove, nil)
	require.Equal(t, http.StatusMultiStatus, w.Code)
	assert.Contains(t, w.Body.String(), "HTTP/1.1 200 OK")

	w = do(t, srv, "PROPFIND", "/f.txt", findProps, depth0)
	body := w.Body.String()
	assert.NotContains(t, body, ">red<")
	assert.Contains(t, body, "404 Not Found")
	assert.Contains(t, body, "<x1:name>Bob</x1:name>")
}

func TestValidationFailure(t *testing.T) {
	srv, root, backend := newServer(t, propertystorage.WithValidator(validators.NewDefaultValidator(5)))
	require.NoError(t, root.Import("f.txt", nil))

	body := `<?xml version="1.0"?>
<d:propertyupdate xmlns:d="DAV:" xmlns:x="urn:x">
  <d:set><d:prop><x:small>ok</x:small><x:big>far too long</x:big></d:prop></d:set>
</d:propertyupdate>`
	w := do(t, srv, "PROPPATCH", "/f.txt", body, nil)
	require.Equal(t, http.StatusMultiStatus, w.Code)
	assert.Contains(t, w.Body.String(), "HTTP/1.1 507 Insufficient Storage")
	assert.Contains(t, w.Body.String(), "HTTP/1.1 424 Failed Dependency")

	stored, err := backend.Get(context.Background(), "f.txt", nil)
	require.NoError(t, err)
	assert.Empty(t, stored, "整个请求失败时不写入任何属性")
}

func TestPropertiesFollowMove(t *testing.T) {
	srv, root, backend := newServer(t)
	require.NoError(t, root.CreateDirectory("dir"))
	dir, _ := root.Child("dir")
	require.NoError(t, dir.(*memory.Collection).Import("f.txt", nil))

	require.Equal(t, http.StatusMultiStatus, do(t, srv, "PROPPATCH", "/dir", setProps, nil).Code)
	require.Equal(t, http.StatusMultiStatus, do(t, srv, "PROPPATCH", "/dir/f.txt", setProps, nil).Code)

	w := do(t, srv, "MOVE", "/dir", "", map[string]string{"Destination": "/moved"})
	require.Equal(t, http.StatusCreated, w.Code)

	w = do(t, srv, "PROPFIND", "/moved/f.txt", findProps, depth0)
	assert.Contains(t, w.Body.String(), ">red</x1:color>")

	ctx := context.Background()
	for _, path := range []string{"dir", "dir/f.txt"} {
		stored, err := backend.Get(ctx, path, nil)
		require.NoError(t, err)
		assert.Empty(t, stored, path)
	}

	w = do(t, srv, http.MethodDelete, "/moved", "", nil)
	require.Equal(t, http.StatusNoContent, w.Code)
	stored, err := backend.Get(ctx, "moved/f.txt", nil)
	require.NoError(t, err)
	assert.Empty(t, stored)
}

func TestPathFilter(t *testing.T) {
	srv, root, _ := newServer(t, propertystorage.WithPathFilter(func(path string) bool {
		return strings.HasPrefix(path, "stored")
	}))
	require.NoError(t, root.Import("stored.txt", nil))
	require.NoError(t, root.Import("plain.txt", nil))

	w := do(t, srv, "PROPPATCH", "/stored.txt", setProps, nil)
	assert.NotContains(t, w.Body.String(), "HTTP/1.1 403")

	w = do(t, srv, "PROPPATCH", "/plain.txt", setProps, nil)
	require.Equal(t, http.StatusMultiStatus, w.Code)
	assert.Contains(t, w.Body.String(), "HTTP/1.1 403 Forbidden", "没有人处理的属性为 403")
}

func TestMissingBackend(t *testing.T) {
	logger, _ := test.NewNullLogger()
	srv := webdav.NewServer(memory.NewRoot(), webdav.WithLogger(logger))
	assert.Error(t, srv.AddPlugin(propertystorage.New(nil)))
}
