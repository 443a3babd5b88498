package sidecar

import (
	"context"
	"sort"
	"time"

	"github.com/davcore/davcore/internal/webdav"
	"github.com/davcore/davcore/internal/webdav/locks"
)

// LocksBackend 实现 locks.Backend
type LocksBackend struct {
	store *Store
	now   func() time.Time
}

// NewLocksBackend 创建锁存储
func NewLocksBackend(store *Store) *LocksBackend {
	return &LocksBackend{store: store, now: time.Now}
}

// SetClock 替换时间来源
func (b *LocksBackend) SetClock(now func() time.Time) {
	b.now = now
}

// prune 去掉过期的锁，返回是否有变化
func (b *LocksBackend) prune(doc *Document) bool {
	now := b.now()
	kept := doc.Locks[:0]
	for _, l := range doc.Locks {
		if !l.Expired(now) {
			kept = append(kept, l)
		}
	}
	changed := len(kept) != len(doc.Locks)
	doc.Locks = kept
	return changed
}

func match(all []*webdav.LockInfo, uri string, includeChildren bool) []*webdav.LockInfo {
	var out []*webdav.LockInfo
	for _, l := range all {
		if locks.Covers(l, uri, includeChildren) {
			c := *l
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].URI != out[j].URI {
			return out[i].URI < out[j].URI
		}
		return out[i].Token < out[j].Token
	})
	return out
}

// Locks 实现 locks.Backend
func (b *LocksBackend) Locks(_ context.Context, uri string, includeChildren bool) ([]*webdav.LockInfo, error) {
	var out []*webdav.LockInfo
	err := b.store.View(func(doc *Document) error {
		now := b.now()
		var live []*webdav.LockInfo
		for _, l := range doc.Locks {
			if !l.Expired(now) {
				live = append(live, l)
			}
		}
		out = match(live, uri, includeChildren)
		return nil
	})
	return out, err
}

// Lock 实现 locks.Backend
func (b *LocksBackend) Lock(_ context.Context, uri string, info *webdav.LockInfo) error {
	return b.store.Update(func(doc *Document) error {
		b.prune(doc)
		for _, l := range doc.Locks {
			if l.Token == info.Token {
				l.Timeout = info.Timeout
				l.Created = info.Created
				return nil
			}
		}
		req := *info
		req.URI = uri
		if c := locks.Conflicts(match(doc.Locks, uri, info.Depth == webdav.DepthInfinity), &req); c != nil {
			return &locks.ConflictError{Lock: c}
		}
		doc.Locks = append(doc.Locks, &req)
		return nil
	})
}

// Unlock 实现 locks.Backend
func (b *LocksBackend) Unlock(_ context.Context, uri string, info *webdav.LockInfo) (bool, error) {
	removed := false
	err := b.store.Update(func(doc *Document) error {
		b.prune(doc)
		for i, l := range doc.Locks {
			if l.Token == info.Token && l.URI == uri {
				doc.Locks = append(doc.Locks[:i], doc.Locks[i+1:]...)
				removed = true
				break
			}
		}
		return nil
	})
	return removed, err
}

var _ locks.Backend = (*LocksBackend)(nil)
