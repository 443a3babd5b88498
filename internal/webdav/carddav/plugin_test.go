package carddav_test

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davcore/davcore/internal/webdav"
	"github.com/davcore/davcore/internal/webdav/carddav"
	"github.com/davcore/davcore/internal/webdav/memory"
)

const alice = "BEGIN:VCARD\r\n" +
	"VERSION:3.0\r\n" +
	"UID:alice-1\r\n" +
	"FN:Alice Liddell\r\n" +
	"EMAIL:alice@example.com\r\n" +
	"END:VCARD\r\n"

const mkcolBody = `<?xml version="1.0" encoding="utf-8"?>
<d:mkcol xmlns:d="DAV:" xmlns:card="urn:ietf:params:xml:ns:carddav">
  <d:set>
    <d:prop>
      <d:resourcetype><d:collection/><card:addressbook/></d:resourcetype>
      <d:displayname>Contacts</d:displayname>
    </d:prop>
  </d:set>
</d:mkcol>`

func newServer(t *testing.T) *webdav.Server {
	t.Helper()
	logger, _ := test.NewNullLogger()
	root := memory.NewRoot()
	require.NoError(t, root.CreateDirectory("plain"))
	srv := webdav.NewServer(root, webdav.WithLogger(logger))
	require.NoError(t, srv.AddPlugin(carddav.New()))

	w, body := do(t, srv, "MKCOL", "/contacts", mkcolBody, map[string]string{"Content-Type": "application/xml; charset=utf-8"})
	require.Equal(t, http.StatusCreated, w.Code, body)
	return srv
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

func TestAddressBook(t *testing.T) {
	srv := newServer(t)

	w, body := do(t, srv, "PROPFIND", "/contacts", `<?xml version="1.0"?>
<d:propfind xmlns:d="DAV:" xmlns:card="urn:ietf:params:xml:ns:carddav">
  <d:prop><d:resourcetype/><d:displayname/><d:supported-report-set/><card:supported-address-data/></d:prop>
</d:propfind>`, map[string]string{"Depth": "0"})
	require.Equal(t, http.StatusMultiStatus, w.Code, body)
	assert.Contains(t, body, "<d:collection/>")
	assert.Contains(t, body, "<card:addressbook/>")
	assert.Contains(t, body, "<d:displayname>Contacts</d:displayname>")
	assert.Contains(t, body, "<card:addressbook-multiget/>")
	assert.Contains(t, body, `version="3.0"`)
	assert.Contains(t, body, `version="4.0"`)

	w, _ = do(t, srv, http.MethodOptions, "/", "", nil)
	assert.Contains(t, w.Header().Get("DAV"), carddav.Feature)

	w, body = do(t, srv, "PROPFIND", "/plain", `<?xml version="1.0"?>
<d:propfind xmlns:d="DAV:"><d:prop><d:resourcetype/></d:prop></d:propfind>`, map[string]string{"Depth": "0"})
	require.Equal(t, http.StatusMultiStatus, w.Code)
	assert.NotContains(t, body, "addressbook", "普通集合不是通讯录")
}

func TestMkColRequiresXMLContentType(t *testing.T) {
	logger, _ := test.NewNullLogger()
	srv := webdav.NewServer(memory.NewRoot(), webdav.WithLogger(logger))
	require.NoError(t, srv.AddPlugin(carddav.New()))

	w, _ := do(t, srv, "MKCOL", "/contacts", mkcolBody, nil)
	assert.Equal(t, http.StatusUnsupportedMediaType, w.Code)
}

func TestPutValidation(t *testing.T) {
	srv := newServer(t)

	tests := []struct {
		name      string
		target    string
		body      string
		want      int
		condition string
	}{
		{name: "合法名片", target: "/contacts/alice.vcf", body: alice, want: http.StatusCreated},
		{name: "无法解析", target: "/contacts/bad.vcf", body: "garbage", want: http.StatusUnsupportedMediaType, condition: "<card:valid-address-data/>"},
		{name: "缺少 FN", target: "/contacts/nofn.vcf", body: "BEGIN:VCARD\r\nVERSION:3.0\r\nUID:x\r\nEND:VCARD\r\n", want: http.StatusUnsupportedMediaType, condition: "<card:valid-address-data/>"},
		{name: "不是 VCARD", target: "/contacts/event.ics", body: "BEGIN:VCALENDAR\r\nVERSION:2.0\r\nEND:VCALENDAR\r\n", want: http.StatusUnsupportedMediaType, condition: "<card:supported-address-data/>"},
		{name: "普通集合不校验", target: "/plain/notes.txt", body: "hello", want: http.StatusCreated},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, body := do(t, srv, http.MethodPut, tt.target, tt.body, nil)
			assert.Equal(t, tt.want, w.Code, body)
			if tt.condition != "" {
				assert.Contains(t, body, tt.condition)
			}
		})
	}

	t.Run("覆盖时同样校验", func(t *testing.T) {
		w, _ := do(t, srv, http.MethodPut, "/contacts/alice.vcf", "garbage", nil)
		assert.Equal(t, http.StatusUnsupportedMediaType, w.Code)
		w, _ = do(t, srv, http.MethodPut, "/contacts/alice.vcf", alice, nil)
		assert.Equal(t, http.StatusNoContent, w.Code)
	})
}

func TestMissingUIDIsAdded(t *testing.T) {
	srv := newServer(t)
	noUID := strings.Replace(alice, "UID:alice-1\r\n", "", 1)

	w, _ := do(t, srv, http.MethodPut, "/contacts/anon.vcf", noUID, nil)
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Empty(t, w.Header().Get("ETag"), "内容被改写后不返回 ETag")

	w, body := do(t, srv, http.MethodGet, "/contacts/anon.vcf", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, body, "UID:")
	assert.Contains(t, body, "FN:Alice Liddell")
}

func TestAddressBookMultiget(t *testing.T) {
	srv := newServer(t)
	w, _ := do(t, srv, http.MethodPut, "/contacts/alice.vcf", alice, nil)
	require.Equal(t, http.StatusCreated, w.Code)

	w, body := do(t, srv, "REPORT", "/contacts", `<?xml version="1.0" encoding="utf-8"?>
<card:addressbook-multiget xmlns:d="DAV:" xmlns:card="urn:ietf:params:xml:ns:carddav">
  <d:prop><d:getetag/><card:address-data/><d:getcontenttype/></d:prop>
  <d:href>/contacts/alice.vcf</d:href>
  <d:href>/contacts/missing.vcf</d:href>
</card:addressbook-multiget>`, map[string]string{"Depth": "1"})
	require.Equal(t, http.StatusMultiStatus, w.Code, body)
	assert.Contains(t, body, "<d:href>/contacts/alice.vcf</d:href>")
	assert.Contains(t, body, "FN:Alice Liddell")
	assert.Contains(t, body, "<d:getcontenttype>text/vcard; charset=utf-8</d:getcontenttype>")
	assert.Contains(t, body, "HTTP/1.1 404 Not Found")
}

func TestValidateCard(t *testing.T) {
	out, modified, err := carddav.ValidateCard([]byte(alice))
	require.NoError(t, err)
	assert.False(t, modified)
	assert.Equal(t, alice, string(out))

	_, _, err = carddav.ValidateCard(nil)
	assert.Equal(t, http.StatusUnsupportedMediaType, webdav.StatusOf(err))
}
