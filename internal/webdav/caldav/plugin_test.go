package caldav_test

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
	"github.com/davcore/davcore/internal/webdav/caldav"
	"github.com/davcore/davcore/internal/webdav/memory"
)

const event = "BEGIN:VCALENDAR\r\n" +
	"VERSION:2.0\r\n" +
	"PRODID:-//davcore//test//EN\r\n" +
	"BEGIN:VEVENT\r\n" +
	"UID:event-1\r\n" +
	"DTSTAMP:20260301T080000Z\r\n" +
	"DTSTART:20260301T090000Z\r\n" +
	"SUMMARY:Standup\r\n" +
	"END:VEVENT\r\n" +
	"END:VCALENDAR\r\n"

const todo = "BEGIN:VCALENDAR\r\n" +
	"VERSION:2.0\r\n" +
	"PRODID:-//davcore//test//EN\r\n" +
	"BEGIN:VTODO\r\n" +
	"UID:todo-1\r\n" +
	"DTSTAMP:20260301T080000Z\r\n" +
	"SUMMARY:Write tests\r\n" +
	"END:VTODO\r\n" +
	"END:VCALENDAR\r\n"

const mkcalendarBody = `<?xml version="1.0" encoding="utf-8"?>
<cal:mkcalendar xmlns:d="DAV:" xmlns:cal="urn:ietf:params:xml:ns:caldav">
  <d:set>
    <d:prop>
      <d:displayname>Work</d:displayname>
      <cal:supported-calendar-component-set><cal:comp name="VEVENT"/></cal:supported-calendar-component-set>
    </d:prop>
  </d:set>
</cal:mkcalendar>`

func newServer(t *testing.T) *webdav.Server {
	t.Helper()
	logger, _ := test.NewNullLogger()
	root := memory.NewRoot()
	require.NoError(t, root.CreateDirectory("plain"))
	srv := webdav.NewServer(root, webdav.WithLogger(logger))
	require.NoError(t, srv.AddPlugin(caldav.New()))
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

func mkcalendar(t *testing.T, h http.Handler, target string) {
	t.Helper()
	w, body := do(t, h, caldav.MethodMkCalendar, target, mkcalendarBody, nil)
	require.Equal(t, http.StatusCreated, w.Code, body)
}

func TestMkCalendar(t *testing.T) {
	srv := newServer(t)
	mkcalendar(t, srv, "/work")

	w, body := do(t, srv, "PROPFIND", "/work", `<?xml version="1.0"?>
<d:propfind xmlns:d="DAV:" xmlns:cal="urn:ietf:params:xml:ns:caldav">
  <d:prop>
    <d:resourcetype/><d:displayname/><d:supported-report-set/>
    <cal:supported-calendar-component-set/><cal:supported-calendar-data/>
  </d:prop>
</d:propfind>`, map[string]string{"Depth": "0"})
	require.Equal(t, http.StatusMultiStatus, w.Code, body)
	assert.Contains(t, body, "<cal:calendar/>")
	assert.Contains(t, body, "<d:displayname>Work</d:displayname>")
	assert.Contains(t, body, `<cal:comp name="VEVENT"/>`)
	assert.NotContains(t, body, `name="VTODO"`)
	assert.Contains(t, body, `content-type="text/calendar"`)
	assert.Contains(t, body, "<cal:calendar-multiget/>")

	w, _ = do(t, srv, caldav.MethodMkCalendar, "/work", "", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code, "已存在")

	w, _ = do(t, srv, caldav.MethodMkCalendar, "/missing/cal", "", nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w, _ = do(t, srv, caldav.MethodMkCalendar, "/work/nested", "", nil)
	assert.Equal(t, http.StatusForbidden, w.Code, "日历内不能建日历")

	w, _ = do(t, srv, http.MethodOptions, "/", "", nil)
	assert.Contains(t, w.Header().Get("DAV"), caldav.Feature)
	assert.Contains(t, w.Header().Get("Allow"), caldav.MethodMkCalendar)
}

func TestMkCalendarWithoutBody(t *testing.T) {
	srv := newServer(t)
	w, _ := do(t, srv, caldav.MethodMkCalendar, "/default", "", nil)
	require.Equal(t, http.StatusCreated, w.Code)

	w, body := do(t, srv, "PROPFIND", "/default", `<?xml version="1.0"?>
<d:propfind xmlns:d="DAV:" xmlns:cal="urn:ietf:params:xml:ns:caldav">
  <d:prop><cal:supported-calendar-component-set/></d:prop>
</d:propfind>`, map[string]string{"Depth": "0"})
	require.Equal(t, http.StatusMultiStatus, w.Code)
	assert.Contains(t, body, `<cal:comp name="VEVENT"/>`)
	assert.Contains(t, body, `<cal:comp name="VTODO"/>`)

	w, _ = do(t, srv, caldav.MethodMkCalendar, "/bad", "<cal:mkcalendar", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPutValidation(t *testing.T) {
	srv := newServer(t)
	mkcalendar(t, srv, "/work")

	tests := []struct {
		name      string
		target    string
		body      string
		want      int
		condition string
	}{
		{name: "合法事件", target: "/work/event.ics", body: event, want: http.StatusCreated},
		{name: "不支持的组件", target: "/work/todo.ics", body: todo, want: http.StatusForbidden, condition: "<cal:supported-calendar-component/>"},
		{name: "无法解析", target: "/work/bad.ics", body: "BEGIN:VCALENDAR\r\nthis is not ical", want: http.StatusUnsupportedMediaType, condition: "<cal:valid-calendar-data/>"},
		{name: "不是 VCALENDAR", target: "/work/card.ics", body: "BEGIN:VCARD\r\nVERSION:3.0\r\nEND:VCARD\r\n", want: http.StatusForbidden, condition: "<cal:valid-calendar-object-resource/>"},
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
		w, _ := do(t, srv, http.MethodPut, "/work/event.ics", "garbage", nil)
		assert.Equal(t, http.StatusUnsupportedMediaType, w.Code)
		w, _ = do(t, srv, http.MethodPut, "/work/event.ics", event, nil)
		assert.Equal(t, http.StatusNoContent, w.Code)
	})
}

func TestCalendarMultiget(t *testing.T) {
	srv := newServer(t)
	mkcalendar(t, srv, "/work")
	w, _ := do(t, srv, http.MethodPut, "/work/event.ics", event, nil)
	require.Equal(t, http.StatusCreated, w.Code)

	w, body := do(t, srv, "REPORT", "/work", `<?xml version="1.0" encoding="utf-8"?>
<cal:calendar-multiget xmlns:d="DAV:" xmlns:cal="urn:ietf:params:xml:ns:caldav">
  <d:prop><d:getetag/><cal:calendar-data/><d:getcontenttype/></d:prop>
  <d:href>/work/event.ics</d:href>
  <d:href>/work/missing.ics</d:href>
</cal:calendar-multiget>`, map[string]string{"Depth": "1"})
	require.Equal(t, http.StatusMultiStatus, w.Code, body)
	assert.Contains(t, body, "<d:href>/work/event.ics</d:href>")
	assert.Contains(t, body, "SUMMARY:Standup")
	assert.Contains(t, body, "<d:getcontenttype>text/calendar; charset=utf-8</d:getcontenttype>")
	assert.Contains(t, body, "<d:href>/work/missing.ics</d:href>")
	assert.Contains(t, body, "HTTP/1.1 404 Not Found")
}

func TestValidateCalendarObject(t *testing.T) {
	comp, err := caldav.ValidateCalendarObject([]byte(event), nil)
	require.NoError(t, err)
	assert.Equal(t, "VEVENT", comp)

	_, err = caldav.ValidateCalendarObject([]byte(todo), []string{"vtodo"})
	assert.NoError(t, err, "组件名不区分大小写")

	withMethod := strings.Replace(event, "VERSION:2.0\r\n", "VERSION:2.0\r\nMETHOD:REQUEST\r\n", 1)
	_, err = caldav.ValidateCalendarObject([]byte(withMethod), nil)
	assert.Equal(t, http.StatusForbidden, webdav.StatusOf(err))

	noUID := strings.Replace(event, "UID:event-1\r\n", "", 1)
	_, err = caldav.ValidateCalendarObject([]byte(noUID), nil)
	assert.Equal(t, http.StatusForbidden, webdav.StatusOf(err))

	mixed := strings.Replace(event, "END:VCALENDAR\r\n",
		"BEGIN:VTODO\r\nUID:event-1\r\nDTSTAMP:20260301T080000Z\r\nEND:VTODO\r\nEND:VCALENDAR\r\n", 1)
	_, err = caldav.ValidateCalendarObject([]byte(mixed), nil)
	assert.Equal(t, http.StatusForbidden, webdav.StatusOf(err))

	empty := "BEGIN:VCALENDAR\r\nVERSION:2.0\r\nPRODID:-//x//EN\r\nEND:VCALENDAR\r\n"
	_, err = caldav.ValidateCalendarObject([]byte(empty), nil)
	assert.Equal(t, http.StatusForbidden, webdav.StatusOf(err))
}
