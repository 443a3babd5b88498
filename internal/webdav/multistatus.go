package webdav

import (
	"net/http"
	"sort"
	"time"

	davxml "github.com/davcore/davcore/internal/webdav/xml"
)

// PropStat 同一状态码下的一组属性
type PropStat struct {
	Status     int
	Properties map[string]any
	Order      []string
}

// Response multistatus 中的一个 response。
// Status 非零时输出整体状态（例如同步报告中已删除的资源），不输出 propstat。
type Response struct {
	Href      string
	Status    int
	PropStats []PropStat
}

// XMLSerialize 实现 davxml.Serializable
func (r *Response) XMLSerialize(w *davxml.Writer) error {
	if err := w.WriteElement(davxml.DAV("href"), r.Href); err != nil {
		return err
	}
	if r.Status != 0 {
		return w.WriteElement(davxml.DAV("status"), davxml.StatusLine(r.Status))
	}
	for _, ps := range r.PropStats {
		if err := w.StartElement(davxml.DAV("propstat")); err != nil {
			return err
		}
		if err := w.StartElement(davxml.DAV("prop")); err != nil {
			return err
		}
		for _, name := range ps.Order {
			if err := w.WriteElement(name, ps.Properties[name]); err != nil {
				return err
			}
		}
		w.EndElement()
		if err := w.WriteElement(davxml.DAV("status"), davxml.StatusLine(ps.Status)); err != nil {
			return err
		}
		w.EndElement()
	}
	return nil
}

// Multistatus 207 响应体
type Multistatus struct {
	Responses []*Response
	SyncToken string
}

// XMLSerialize 实现 davxml.Serializable
func (m *Multistatus) XMLSerialize(w *davxml.Writer) error {
	for _, r := range m.Responses {
		if err := w.WriteElement(davxml.DAV("response"), r); err != nil {
			return err
		}
	}
	if m.SyncToken != "" {
		return w.WriteElement(davxml.DAV("sync-token"), m.SyncToken)
	}
	return nil
}

// ResponseFromPropFind 把 PropFind 结果转换为 response；minimal 时丢弃 404 分组
func ResponseFromPropFind(pf *PropFind, minimal bool) *Response {
	resp := &Response{Href: pf.Href()}
	for _, ps := range pf.PropStats() {
		if minimal && ps.Status == http.StatusNotFound {
			continue
		}
		resp.PropStats = append(resp.PropStats, ps)
	}
	return resp
}

// ResponseFromPatchResult 把 PROPPATCH 结果转换为 response（只有属性名）
func ResponseFromPatchResult(href string, result map[string]int, order []string) *Response {
	byStatus := make(map[int]*PropStat)
	var statuses []int
	for _, name := range order {
		status, ok := result[name]
		if !ok {
			continue
		}
		ps, ok := byStatus[status]
		if !ok {
			ps = &PropStat{Status: status, Properties: map[string]any{}}
			byStatus[status] = ps
			statuses = append(statuses, status)
		}
		ps.Order = append(ps.Order, name)
	}

	resp := &Response{Href: href}
	sort.Ints(statuses)
	for _, status := range statuses {
		resp.PropStats = append(resp.PropStats, *byStatus[status])
	}
	return resp
}

// 常用的属性值类型

// LastModified {DAV:}getlastmodified，按 RFC1123 输出
type LastModified time.Time

// XMLSerialize 实现 davxml.Serializable
func (t LastModified) XMLSerialize(w *davxml.Writer) error {
	w.WriteText(time.Time(t).UTC().Format(http.TimeFormat))
	return nil
}

// SupportedReportSet {DAV:}supported-report-set
type SupportedReportSet []string

// XMLSerialize 实现 davxml.Serializable
func (s SupportedReportSet) XMLSerialize(w *davxml.Writer) error {
	for _, report := range s {
		if err := w.StartElement(davxml.DAV("supported-report")); err != nil {
			return err
		}
		if err := w.WriteElement(davxml.DAV("report"), davxml.EmptyElements{report}); err != nil {
			return err
		}
		w.EndElement()
	}
	return nil
}

// SupportedMethodSet {DAV:}supported-method-set
type SupportedMethodSet []string

// XMLSerialize 实现 davxml.Serializable
func (s SupportedMethodSet) XMLSerialize(w *davxml.Writer) error {
	for _, method := range s {
		if err := w.StartElement(davxml.DAV("supported-method")); err != nil {
			return err
		}
		if err := w.WriteAttribute("name", method); err != nil {
			return err
		}
		w.EndElement()
	}
	return nil
}
