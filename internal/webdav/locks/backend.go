// Package locks 实现 WebDAV 写锁（RFC 4918 第 6、7 节）：LOCK/UNLOCK 方法、
// lockdiscovery 属性以及修改类请求的锁令牌校验。
package locks

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/davcore/davcore/internal/webdav"
	"github.com/davcore/davcore/internal/webdav/utils"
)

// TokenPrefix 锁令牌前缀
const TokenPrefix = "opaquelocktoken:"

// 超时时间（秒）
const (
	DefaultTimeout int64 = 1800
	MaxTimeout     int64 = 86400 * 7
)

// Backend 锁存储。
// 所有实现都惰性过期：读取时跳过并清理 created+timeout 已经过去的锁，不做后台清扫。
type Backend interface {
	// Locks 返回作用于 uri 的锁：uri 自身的锁、深度为 infinity 的祖先锁，
	// includeChildren 为 true 时还包括后代上的锁
	Locks(ctx context.Context, uri string, includeChildren bool) ([]*webdav.LockInfo, error)
	// Lock 创建锁，令牌已存在时刷新。冲突检查与写入是原子的，冲突时返回 *ConflictError。
	Lock(ctx context.Context, uri string, info *webdav.LockInfo) error
	// Unlock 删除锁，锁不存在时返回 false
	Unlock(ctx context.Context, uri string, info *webdav.LockInfo) (bool, error)
}

// ErrLockNotFound 锁不存在
var ErrLockNotFound = errors.New("locks: lock not found")

// ConflictError 请求的锁与已有的锁冲突
type ConflictError struct {
	Lock *webdav.LockInfo
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("locks: conflicting %s lock on %q", e.Lock.Scope, e.Lock.URI)
}

// NewToken 生成新的锁令牌
func NewToken() string {
	return TokenPrefix + uuid.NewString()
}

// Covers 判断 lock 是否作用于 uri
func Covers(lock *webdav.LockInfo, uri string, includeChildren bool) bool {
	switch {
	case lock.URI == uri:
		return true
	case lock.Depth != webdav.Depth0 && utils.Path.IsDescendant(lock.URI, uri):
		return true
	case includeChildren && utils.Path.IsDescendant(uri, lock.URI):
		return true
	}
	return false
}

// Conflicts 在 existing 中找出与 req 冲突的锁。
// 排他锁与任何锁冲突，共享锁只与排他锁冲突；同一令牌视为刷新，不算冲突。
func Conflicts(existing []*webdav.LockInfo, req *webdav.LockInfo) *webdav.LockInfo {
	for _, l := range existing {
		if l.Token == req.Token {
			continue
		}
		if req.Scope == webdav.LockScopeShared && l.Scope == webdav.LockScopeShared {
			continue
		}
		return l
	}
	return nil
}

// filterLocks 从 all 中挑出作用于 uri 的锁，丢弃已过期的锁并通过 expired 返回
func filterLocks(all []*webdav.LockInfo, uri string, includeChildren bool, now time.Time) (matched, expired []*webdav.LockInfo) {
	for _, l := range all {
		if l.Expired(now) {
			expired = append(expired, l)
			continue
		}
		if Covers(l, uri, includeChildren) {
			matched = append(matched, l)
		}
	}
	sortLocks(matched)
	return matched, expired
}

func sortLocks(locks []*webdav.LockInfo) {
	sort.SliceStable(locks, func(i, j int) bool {
		if locks[i].URI != locks[j].URI {
			return locks[i].URI < locks[j].URI
		}
		return locks[i].Token < locks[j].Token
	})
}

func cloneLock(l *webdav.LockInfo) *webdav.LockInfo {
	c := *l
	return &c
}

// ancestorsOf 返回 uri 的全部祖先，用于 SQL 查询
func ancestorsOf(uri string) []string {
	return utils.Path.Ancestors(strings.Trim(uri, "/"))
}
