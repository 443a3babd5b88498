package caldav

import (
	"bufio"
	"bytes"
	"fmt"
	"strings"

	"github.com/emersion/go-ical"

	"github.com/davcore/davcore/internal/webdav"
	davxml "github.com/davcore/davcore/internal/webdav/xml"
)

func condition(name string) string {
	return davxml.Clark(davxml.NamespaceCalDAV, name)
}

// firstComponent 返回数据中第一个 BEGIN 的组件名
func firstComponent(data []byte) string {
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		name, ok := strings.CutPrefix(strings.ToUpper(line), "BEGIN:")
		if !ok {
			return ""
		}
		return name
	}
	return ""
}

// ValidateCalendarObject 校验日历对象资源，返回其中唯一的组件类型。
// components 为日历支持的组件，为空时不限制。
func ValidateCalendarObject(data []byte, components []string) (string, error) {
	if root := firstComponent(data); root != "" && root != ical.CompCalendar {
		return "", webdav.ErrForbidden("this resource only supports VCALENDAR objects").
			WithCondition(condition("valid-calendar-object-resource"))
	}

	cal, err := ical.NewDecoder(bytes.NewReader(data)).Decode()
	if err != nil {
		return "", webdav.ErrUnsupportedMediaType(fmt.Sprintf("this resource only supports valid iCalendar 2.0 data: %v", err)).
			WithCondition(condition("valid-calendar-data"))
	}

	// 日历集合中的对象不能带 METHOD
	if prop := cal.Props.Get(ical.PropMethod); prop != nil {
		return "", webdav.ErrForbidden("calendar objects must not specify the METHOD property").
			WithCondition(condition("valid-calendar-object-resource"))
	}

	var compType, uid string
	for _, comp := range cal.Children {
		if comp.Name == ical.CompTimezone {
			continue
		}
		if compType == "" {
			compType = comp.Name
		}
		if comp.Name != compType {
			return "", webdav.ErrForbidden(fmt.Sprintf("conflicting component types in calendar object: %s, %s", compType, comp.Name)).
				WithCondition(condition("valid-calendar-object-resource"))
		}

		compUID, err := comp.Props.Text(ical.PropUID)
		if err != nil {
			return "", webdav.ErrForbidden(fmt.Sprintf("invalid UID: %v", err)).
				WithCondition(condition("valid-calendar-object-resource"))
		}
		if compUID == "" {
			return "", webdav.ErrForbidden(fmt.Sprintf("every %s component must have a UID", comp.Name)).
				WithCondition(condition("valid-calendar-object-resource"))
		}
		if uid == "" {
			uid = compUID
		}
		if uid != compUID {
			return "", webdav.ErrForbidden(fmt.Sprintf("conflicting UID values in calendar object: %s, %s", uid, compUID)).
				WithCondition(condition("valid-calendar-object-resource"))
		}
	}

	if compType == "" {
		return "", webdav.ErrForbidden("calendar objects must contain at least one component besides VTIMEZONE").
			WithCondition(condition("valid-calendar-object-resource"))
	}
	if len(components) > 0 && !contains(components, compType) {
		return "", webdav.ErrForbidden(fmt.Sprintf("this calendar only accepts %s components", strings.Join(components, ", "))).
			WithCondition(condition("supported-calendar-component"))
	}
	return compType, nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}
