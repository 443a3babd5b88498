package memory

import (
	"github.com/davcore/davcore/internal/webdav"
)

// DefaultCalendarComponents 未指定时日历支持的组件
var DefaultCalendarComponents = []string{"VEVENT", "VTODO"}

// Calendar 内存日历，只能包含日历对象
type Calendar struct {
	*Collection
	components []string
}

// SupportedComponents 日历接受的 iCalendar 组件
func (c *Calendar) SupportedComponents() []string {
	return c.components
}

// CreateDirectory 日历内不能创建子集合
func (c *Calendar) CreateDirectory(string) error {
	return webdav.ErrForbidden("collections can not be created inside a calendar")
}

// CreateExtendedCollection 日历内不能创建子集合
func (c *Calendar) CreateExtendedCollection(string, *webdav.MkCol) error {
	return webdav.ErrForbidden("collections can not be created inside a calendar")
}

// SyncToken 实现 webdav.SyncCollection
func (c *Calendar) SyncToken() string {
	c.store.mu.RLock()
	defer c.store.mu.RUnlock()
	return c.syncToken()
}

// Changes 实现 webdav.SyncCollection；日历是扁平的，level 不影响结果
func (c *Calendar) Changes(token string, _ int, limit int) (*webdav.ChangeSet, error) {
	return c.changesSince(token, limit), nil
}

// AddressBook 内存通讯录
type AddressBook struct {
	*Collection
}

// IsAddressBook 通讯录标记
func (a *AddressBook) IsAddressBook() {}

// CreateDirectory 通讯录内不能创建子集合
func (a *AddressBook) CreateDirectory(string) error {
	return webdav.ErrForbidden("collections can not be created inside an address book")
}

// CreateExtendedCollection 通讯录内不能创建子集合
func (a *AddressBook) CreateExtendedCollection(string, *webdav.MkCol) error {
	return webdav.ErrForbidden("collections can not be created inside an address book")
}

// SyncToken 实现 webdav.SyncCollection
func (a *AddressBook) SyncToken() string {
	a.store.mu.RLock()
	defer a.store.mu.RUnlock()
	return a.syncToken()
}

// Changes 实现 webdav.SyncCollection
func (a *AddressBook) Changes(token string, _ int, limit int) (*webdav.ChangeSet, error) {
	return a.changesSince(token, limit), nil
}
