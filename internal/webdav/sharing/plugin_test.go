package sharing_test

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davcore/davcore/internal/database"
	"github.com/davcore/davcore/internal/share"
	"github.com/davcore/davcore/internal/webdav"
	"github.com/davcore/davcore/internal/webdav/memory"
	"github.com/davcore/davcore/internal/webdav/sharing"
	davxml "github.com/davcore/davcore/internal/webdav/xml"
)

const sharePropFind = `<?xml version="1.0" encoding="utf-8"?>
<d:propfind xmlns:d="DAV:">
  <d:prop><d:share-access/><d:invite/><d:share-resource-uri/><d:resourcetype/></d:prop>
</d:propfind>`

func shareBody(sharees ...string) string {
	return `<?xml version="1.0" encoding="utf-8"?>
<d:share-resource xmlns:d="DAV:">` + strings.Join(sharees, "") + `</d:share-resource>`
}

func sharee(href, access, extra string) string {
	return `<d:sharee><d:href>` + href + `</d:href><d:share-access><d:` + access + `/></d:share-access>` + extra + `</d:sharee>`
}

func do(t *testing.T, h http.Handler, method, target, body string, headers map[string]string) (*httptest.ResponseRecorder, string) {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	b, err := io.ReadAll(w.Result().Body)
	require.NoError(t, err)
	return w, string(b)
}

func post(t *testing.T, h http.Handler, target, body string) (*httptest.ResponseRecorder, string) {
	return do(t, h, http.MethodPost, target, body, map[string]string{"Content-Type": sharing.ContentType + "; charset=utf-8"})
}

func propfind(t *testing.T, h http.Handler, target string) string {
	t.Helper()
	w, body := do(t, h, "PROPFIND", target, sharePropFind, map[string]string{"Depth": "0"})
	require.Equal(t, http.StatusMultiStatus, w.Code, body)
	return body
}

var dbSeq atomic.Int64

func newServer(t *testing.T) *webdav.Server {
	t.Helper()
	logger, _ := test.NewNullLogger()
	db, err := database.Open("sqlite3", fmt.Sprintf("file:sharing%d?mode=memory&cache=shared", dbSeq.Add(1)))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	repo, err := share.NewSQLRepository(context.Background(), db)
	require.NoError(t, err)

	root := memory.NewRoot()
	require.NoError(t, root.CreateDirectory("docs"))
	srv := webdav.NewServer(root, webdav.WithLogger(logger))
	require.NoError(t, srv.AddPlugin(sharing.New(share.NewService(repo))))
	return srv
}

func TestShareResource(t *testing.T) {
	srv := newServer(t)

	body := propfind(t, srv, "/docs")
	assert.Contains(t, body, "<d:not-shared/>")
	assert.Contains(t, body, "<d:href>urn:uuid:")

	w, _ := post(t, srv, "/docs", shareBody(
		sharee("mailto:bob@example.org", "read", `<d:prop><d:displayname>Bob</d:displayname></d:prop><d:comment>hello</d:comment>`),
		sharee("/principals/carol", "read-write", ""),
	))
	assert.Equal(t, http.StatusOK, w.Code)

	body = propfind(t, srv, "/docs")
	assert.Contains(t, body, "<d:shared-owner/>")
	assert.Contains(t, body, "<d:href>mailto:bob@example.org</d:href>")
	assert.Contains(t, body, "<d:displayname>Bob</d:displayname>")
	assert.Contains(t, body, "<d:comment>hello</d:comment>")
	assert.Contains(t, body, "<d:read/>")
	assert.Contains(t, body, "<d:read-write/>")
	assert.Contains(t, body, "<d:invite-noresponse/>")

	w, _ = post(t, srv, "/docs", shareBody(
		sharee("mailto:bob@example.org", "no-access", ""),
		sharee("/principals/carol", "no-access", ""),
	))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, propfind(t, srv, "/docs"), "<d:not-shared/>")
}

func TestSharePostErrors(t *testing.T) {
	tests := []struct {
		name        string
		target      string
		contentType string
		body        string
		want        int
	}{
		{name: "其他媒体类型不处理", target: "/docs", contentType: "text/plain", body: "x", want: http.StatusNotImplemented},
		{name: "根元素错误", target: "/docs", contentType: sharing.ContentType, body: `<d:propfind xmlns:d="DAV:"/>`, want: http.StatusBadRequest},
		{name: "缺少 href", target: "/docs", contentType: sharing.ContentType, body: shareBody(sharee("", "read", "")), want: http.StatusBadRequest},
		{name: "缺少 share-access", target: "/docs", contentType: sharing.ContentType,
			body: shareBody(`<d:sharee><d:href>mailto:a@b</d:href></d:sharee>`), want: http.StatusBadRequest},
		{name: "未知访问级别", target: "/docs", contentType: sharing.ContentType, body: shareBody(sharee("mailto:a@b", "shared-owner", "")), want: http.StatusBadRequest},
		{name: "XML 格式错误", target: "/docs", contentType: sharing.ContentType, body: "<d:share-resource", want: http.StatusBadRequest},
		{name: "不存在的节点被忽略", target: "/missing", contentType: sharing.ContentType, body: shareBody(sharee("mailto:a@b", "read", "")), want: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newServer(t)
			w, body := do(t, srv, http.MethodPost, tt.target, tt.body, map[string]string{"Content-Type": tt.contentType})
			assert.Equal(t, tt.want, w.Code, body)
		})
	}
}

func TestSharesFollowTree(t *testing.T) {
	srv := newServer(t)
	w, _ := post(t, srv, "/docs", shareBody(sharee("mailto:bob@example.org", "read", "")))
	require.Equal(t, http.StatusOK, w.Code)

	w, _ = do(t, srv, "MOVE", "/docs", "", map[string]string{"Destination": "/moved"})
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Contains(t, propfind(t, srv, "/moved"), "<d:shared-owner/>")

	w, _ = do(t, srv, http.MethodDelete, "/moved", "", nil)
	require.Equal(t, http.StatusNoContent, w.Code)

	w, _ = do(t, srv, "MKCOL", "/moved", "", nil)
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Contains(t, propfind(t, srv, "/moved"), "<d:not-shared/>", "删除后共享记录被清理")
}

func TestFeatures(t *testing.T) {
	srv := newServer(t)
	w, _ := do(t, srv, http.MethodOptions, "/docs", "", nil)
	assert.Contains(t, w.Header().Get("DAV"), sharing.Feature)
	assert.Contains(t, w.Header().Get("Allow"), http.MethodPost)
}

// shareableRoot 自行保存邀请的根节点
type shareableRoot struct {
	*memory.Collection
	sharees []webdav.Sharee
}

func (r *shareableRoot) Invitees() ([]webdav.Sharee, error) {
	return r.sharees, nil
}

func (r *shareableRoot) UpdateInvitees(sharees []webdav.Sharee) error {
	r.sharees = append(r.sharees, sharees...)
	return nil
}

func (r *shareableRoot) ShareAccess() webdav.ShareAccess {
	if len(r.sharees) > 0 {
		return webdav.ShareAccessSharedOwner
	}
	return webdav.ShareAccessNotShared
}

func (r *shareableRoot) ShareResourceURI() string {
	return ""
}

func TestNativeShareable(t *testing.T) {
	logger, _ := test.NewNullLogger()
	root := &shareableRoot{Collection: memory.NewRoot()}
	require.NoError(t, root.CreateDirectory("plain"))
	srv := webdav.NewServer(root, webdav.WithLogger(logger))
	require.NoError(t, srv.AddPlugin(sharing.New(nil)))

	w, _ := post(t, srv, "/plain", shareBody(sharee("mailto:a@b", "read", "")))
	assert.Equal(t, http.StatusForbidden, w.Code, "没有包装器时普通节点不可共享")

	w, _ = post(t, srv, "/", shareBody(sharee("mailto:a@b", "read", "")))
	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, root.sharees, 1)
	assert.Equal(t, webdav.ShareAccessRead, root.sharees[0].Access)

	body := propfind(t, srv, "/")
	assert.Contains(t, body, "<d:shared/>")
	assert.Contains(t, body, "<d:shared-owner/>")
	assert.NotContains(t, body, "<d:href>urn:uuid:")
}

func TestDecodeShareResource(t *testing.T) {
	el := davxml.NewElement(davxml.DAV("share-resource"),
		&davxml.Element{Name: davxml.DAV("sharee"), Children: []*davxml.Element{
			{Name: davxml.DAV("href"), Text: " mailto:a@b "},
			davxml.NewElement(davxml.DAV("share-access"), davxml.NewElement(davxml.DAV("read-write"))),
			davxml.NewElement(davxml.DAV("prop"), &davxml.Element{Name: davxml.DAV("displayname"), Text: "A"}),
		}},
	)
	v, err := sharing.DecodeShareResource(el)
	require.NoError(t, err)
	assert.Equal(t, []webdav.Sharee{{
		Href:         "mailto:a@b",
		Access:       webdav.ShareAccessReadWrite,
		InviteStatus: webdav.InviteNoResponse,
		Properties:   map[string]string{davxml.DAV("displayname"): "A"},
	}}, v)
}
