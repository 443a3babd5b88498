package sidecar

import (
	"context"
	"sort"
	"time"

	"github.com/davcore/davcore/internal/types"
	"github.com/davcore/davcore/internal/webdav/propertystorage"
	"github.com/davcore/davcore/internal/webdav/utils"
)

// PropertiesBackend 实现 propertystorage.Backend
type PropertiesBackend struct {
	store *Store
	now   func() time.Time
}

// NewPropertiesBackend 创建死属性存储
func NewPropertiesBackend(store *Store) *PropertiesBackend {
	return &PropertiesBackend{store: store, now: time.Now}
}

// Get 实现 propertystorage.Backend
func (b *PropertiesBackend) Get(_ context.Context, path string, names []string) ([]types.Property, error) {
	var out []types.Property
	err := b.store.View(func(doc *Document) error {
		stored := doc.Properties[path]
		if len(names) == 0 {
			for _, p := range stored {
				out = append(out, p)
			}
		} else {
			for _, name := range names {
				if p, ok := stored[name]; ok {
					out = append(out, p)
				}
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, err
}

// Apply 实现 propertystorage.Backend
func (b *PropertiesBackend) Apply(_ context.Context, path string, set []types.Property, remove []string) error {
	return b.store.Update(func(doc *Document) error {
		stored := doc.Properties[path]
		if stored == nil {
			stored = make(map[string]types.Property)
		}
		now := b.now().UTC()
		for _, p := range set {
			p.Path = path
			p.UpdatedAt = now
			stored[p.Name] = p
		}
		for _, name := range remove {
			delete(stored, name)
		}
		if len(stored) == 0 {
			delete(doc.Properties, path)
		} else {
			doc.Properties[path] = stored
		}
		return nil
	})
}

// Delete 实现 propertystorage.Backend
func (b *PropertiesBackend) Delete(_ context.Context, path string) error {
	return b.store.Update(func(doc *Document) error {
		for p := range doc.Properties {
			if utils.Path.IsSelfOrDescendant(path, p) {
				delete(doc.Properties, p)
			}
		}
		return nil
	})
}

// Move 实现 propertystorage.Backend
func (b *PropertiesBackend) Move(_ context.Context, src, dst string) error {
	return b.store.Update(func(doc *Document) error {
		moved := make(map[string]map[string]types.Property)
		for p, stored := range doc.Properties {
			if utils.Path.IsSelfOrDescendant(src, p) {
				target := utils.Path.Rebase(p, src, dst)
				for name, prop := range stored {
					prop.Path = target
					stored[name] = prop
				}
				moved[target] = stored
				delete(doc.Properties, p)
			}
		}
		for p := range doc.Properties {
			if utils.Path.IsSelfOrDescendant(dst, p) {
				delete(doc.Properties, p)
			}
		}
		for p, stored := range moved {
			doc.Properties[p] = stored
		}
		return nil
	})
}

var _ propertystorage.Backend = (*PropertiesBackend)(nil)
