package webdav

import (
	"context"
	"io"
	"time"
)

// Node 树中的节点，只要求最基本的能力；其余能力通过可选接口声明
type Node interface {
	Name() string
	SetName(name string) error
	Delete() error
	// LastModified 未知时返回零值
	LastModified() time.Time
}

// Collection 可以包含子节点的节点
type Collection interface {
	Node
	Children() ([]Node, error)
	// Child 不存在时返回 NotFound 错误
	Child(name string) (Node, error)
	ChildExists(name string) bool
	// CreateFile 返回新文件的 ETag（未知时为空）
	CreateFile(name string, data io.Reader) (string, error)
	CreateDirectory(name string) error
}

// File 有内容的节点
type File interface {
	Node
	Get() (io.ReadCloser, error)
	// Put 返回新的 ETag（未知时为空）
	Put(data io.Reader) (string, error)
	Size() int64
	ETag() string
	ContentType() string
}

// PropertiesProvider 节点自行保存属性
type PropertiesProvider interface {
	Node
	// Properties names 为空时返回全部属性
	Properties(names []string) (map[string]any, error)
	PropPatch(pp *PropPatch)
}

// Lockable 节点自行保存锁
type Lockable interface {
	Node
	Locks() ([]*LockInfo, error)
	Lock(info *LockInfo) error
	Unlock(info *LockInfo) (bool, error)
}

// Quota 提供配额信息，available 未知时为 -1
type Quota interface {
	Node
	QuotaInfo() (used int64, available int64, err error)
}

// Shareable 可共享的资源
type Shareable interface {
	Node
	Invitees() ([]Sharee, error)
	UpdateInvitees(sharees []Sharee) error
	ShareAccess() ShareAccess
	ShareResourceURI() string
}

// ExtendedCollection 支持扩展 MKCOL（创建时指定资源类型和属性）
type ExtendedCollection interface {
	Collection
	CreateExtendedCollection(name string, mkcol *MkCol) error
}

// CopyTarget 目标父节点可以高效完成复制时实现；返回 false 表示交给默认实现
type CopyTarget interface {
	Collection
	CopyInto(targetName, sourcePath string, source Node) (bool, error)
}

// MoveTarget 目标父节点可以高效完成移动时实现；返回 false 表示交给默认实现
type MoveTarget interface {
	Collection
	MoveInto(targetName, sourcePath string, source Node) (bool, error)
}

// SyncCollection 支持 sync-collection 报告的集合
type SyncCollection interface {
	Collection
	SyncToken() string
	// Changes token 为空表示初始同步；令牌无效时返回 nil
	Changes(token string, level int, limit int) (*ChangeSet, error)
}

// ContextBinder 需要请求上下文的根节点（例如对象存储）在每个请求开始时被绑定
type ContextBinder interface {
	BindContext(ctx context.Context) Collection
}

// ChangeSet 自某个同步令牌以来的变化，路径相对于集合
type ChangeSet struct {
	SyncToken string
	Added     []string
	Modified  []string
	Deleted   []string
}

// LockScope 锁范围
type LockScope string

const (
	LockScopeExclusive LockScope = "exclusive"
	LockScopeShared    LockScope = "shared"
)

// LockInfo 锁信息
type LockInfo struct {
	Token   string    `json:"token"`
	Owner   string    `json:"owner"`
	Scope   LockScope `json:"scope"`
	Depth   int       `json:"depth"`   // 0 或 infinity (用-1表示)
	Timeout int64     `json:"timeout"` // 秒
	Created time.Time `json:"created"`
	URI     string    `json:"uri"`
}

// ExpiresAt 返回过期时间
func (l *LockInfo) ExpiresAt() time.Time {
	return l.Created.Add(time.Duration(l.Timeout) * time.Second)
}

// Expired 惰性过期检查
func (l *LockInfo) Expired(now time.Time) bool {
	return now.After(l.ExpiresAt())
}

// ShareAccess 共享访问级别
type ShareAccess int

const (
	ShareAccessNotShared ShareAccess = iota
	ShareAccessSharedOwner
	ShareAccessRead
	ShareAccessReadWrite
	ShareAccessNoAccess
)

func (a ShareAccess) String() string {
	switch a {
	case ShareAccessSharedOwner:
		return "shared-owner"
	case ShareAccessRead:
		return "read"
	case ShareAccessReadWrite:
		return "read-write"
	case ShareAccessNoAccess:
		return "no-access"
	}
	return "not-shared"
}

// InviteStatus 邀请状态
type InviteStatus int

const (
	InviteNoResponse InviteStatus = iota + 1
	InviteAccepted
	InviteDeclined
	InviteInvalid
)

// Sharee 被共享者
type Sharee struct {
	Href         string            `json:"href"`
	Principal    string            `json:"principal,omitempty"`
	Access       ShareAccess       `json:"access"`
	InviteStatus InviteStatus      `json:"invite_status"`
	Comment      string            `json:"comment,omitempty"`
	Properties   map[string]string `json:"properties,omitempty"`
}

// Capabilities 一次性计算出的节点能力集合，未实现的能力为 nil
type Capabilities struct {
	Node       Node
	Collection Collection
	File       File
	Properties PropertiesProvider
	Lockable   Lockable
	Quota      Quota
	Shareable  Shareable
	Extended   ExtendedCollection
	CopyTarget CopyTarget
	MoveTarget MoveTarget
	Sync       SyncCollection
}

// CapabilitiesOf 计算节点能力
func CapabilitiesOf(n Node) *Capabilities {
	caps := &Capabilities{Node: n}
	caps.Collection, _ = n.(Collection)
	caps.File, _ = n.(File)
	caps.Properties, _ = n.(PropertiesProvider)
	caps.Lockable, _ = n.(Lockable)
	caps.Quota, _ = n.(Quota)
	caps.Shareable, _ = n.(Shareable)
	caps.Extended, _ = n.(ExtendedCollection)
	caps.CopyTarget, _ = n.(CopyTarget)
	caps.MoveTarget, _ = n.(MoveTarget)
	caps.Sync, _ = n.(SyncCollection)
	return caps
}

// MkCol 扩展 MKCOL 请求：资源类型加上一组待设置的属性
type MkCol struct {
	*PropPatch
	ResourceType []string
}

// NewMkCol 创建 MkCol
func NewMkCol(resourceType []string, properties map[string]any, order []string) *MkCol {
	return &MkCol{
		PropPatch:    NewPropPatchOrdered(properties, order),
		ResourceType: resourceType,
	}
}
