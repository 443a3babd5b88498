// Package storage 把对象存储映射为 WebDAV 节点树。
// 集合是以 / 结尾的键前缀，用 .keep 标记对象保证空集合也能列举出来。
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/davcore/davcore/internal/webdav"
)

// keepObject 集合标记对象的名字
const keepObject = ".keep"

// tree 一次请求内所有节点共享
type tree struct {
	store  ObjectStore
	ctx    context.Context
	prefix string
}

type node struct {
	t   *tree
	rel string
}

// key 文件对象的键
func (n *node) key() string {
	return n.t.prefix + n.rel
}

// dirPrefix 集合下对象的公共前缀
func (n *node) dirPrefix() string {
	if n.rel == "" {
		return n.t.prefix
	}
	return n.t.prefix + n.rel + "/"
}

// Name 实现 webdav.Node
func (n *node) Name() string {
	if n.rel == "" {
		return ""
	}
	return path.Base(n.rel)
}

func (n *node) sibling(name string) (string, error) {
	if err := validName(name); err != nil {
		return "", err
	}
	dir := path.Dir(n.rel)
	if dir == "." {
		return name, nil
	}
	return dir + "/" + name, nil
}

func validName(name string) error {
	if name == "" || name == "." || name == ".." || name == keepObject || strings.Contains(name, "/") {
		return webdav.ErrBadRequest(fmt.Sprintf("invalid node name: %q", name))
	}
	return nil
}

func mapError(err error) error {
	if errors.Is(err, ErrObjectNotFound) {
		return webdav.ErrNotFound(err.Error())
	}
	return err
}

// Collection 对象存储中的集合
type Collection struct {
	node
}

// NewRoot 以 prefix 为根创建节点树，prefix 可以为空
func NewRoot(store ObjectStore, prefix string) *Collection {
	prefix = strings.Trim(prefix, "/")
	if prefix != "" {
		prefix += "/"
	}
	return &Collection{node{t: &tree{store: store, ctx: context.Background(), prefix: prefix}}}
}

// BindContext 返回绑定到请求上下文的根集合
func (c *Collection) BindContext(ctx context.Context) webdav.Collection {
	t := *c.t
	t.ctx = ctx
	return &Collection{node{t: &t, rel: c.rel}}
}

func (c *Collection) childRel(name string) (string, error) {
	if err := validName(name); err != nil {
		return "", err
	}
	if c.rel == "" {
		return name, nil
	}
	return c.rel + "/" + name, nil
}

// LastModified 取标记对象的修改时间，根和隐式集合返回零值
func (c *Collection) LastModified() time.Time {
	info, err := c.t.store.StatObject(c.t.ctx, c.dirPrefix()+keepObject)
	if err != nil {
		return time.Time{}
	}
	return info.LastModified
}

// Children 按名称排序返回子节点
func (c *Collection) Children() ([]webdav.Node, error) {
	prefix := c.dirPrefix()
	objects, err := c.t.store.ListObjects(c.t.ctx, prefix, false)
	if err != nil {
		return nil, err
	}

	nodes := make([]webdav.Node, 0, len(objects))
	for _, obj := range objects {
		name := strings.TrimPrefix(obj.Key, prefix)
		if obj.IsPrefix() {
			name = strings.TrimSuffix(name, "/")
		}
		if name == "" || name == keepObject {
			continue
		}
		rel, err := c.childRel(name)
		if err != nil {
			continue
		}
		if obj.IsPrefix() {
			nodes = append(nodes, &Collection{node{t: c.t, rel: rel}})
			continue
		}
		nodes = append(nodes, &File{node: node{t: c.t, rel: rel}, info: obj})
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].Name() < nodes[j].Name() })
	return nodes, nil
}

// Child 先按文件查找，找不到再按集合前缀查找
func (c *Collection) Child(name string) (webdav.Node, error) {
	rel, err := c.childRel(name)
	if err != nil {
		return nil, err
	}
	child := node{t: c.t, rel: rel}

	info, err := c.t.store.StatObject(c.t.ctx, child.key())
	if err == nil {
		return &File{node: child, info: info}, nil
	}
	if !errors.Is(err, ErrObjectNotFound) {
		return nil, err
	}

	objects, err := c.t.store.ListObjects(c.t.ctx, child.dirPrefix(), false)
	if err != nil {
		return nil, err
	}
	if len(objects) == 0 {
		return nil, webdav.ErrNotFound(fmt.Sprintf("node %s not found", name))
	}
	return &Collection{child}, nil
}

// ChildExists 实现 webdav.Collection
func (c *Collection) ChildExists(name string) bool {
	_, err := c.Child(name)
	return err == nil
}

// CreateFile 实现 webdav.Collection
func (c *Collection) CreateFile(name string, data io.Reader) (string, error) {
	rel, err := c.childRel(name)
	if err != nil {
		return "", err
	}
	f := &File{node: node{t: c.t, rel: rel}}
	return f.Put(data)
}

// CreateDirectory 写入标记对象
func (c *Collection) CreateDirectory(name string) error {
	rel, err := c.childRel(name)
	if err != nil {
		return err
	}
	child := node{t: c.t, rel: rel}
	_, err = c.t.store.PutObject(c.t.ctx, child.dirPrefix()+keepObject, strings.NewReader(""), 0, "application/x-directory")
	return err
}

// SetName 对象存储没有改名，复制整个前缀后删除原对象
func (c *Collection) SetName(name string) error {
	if c.rel == "" {
		return webdav.ErrForbidden("the root node can not be renamed")
	}
	target, err := c.sibling(name)
	if err != nil {
		return err
	}
	return c.moveTo(target)
}

func (c *Collection) moveTo(rel string) error {
	src := c.dirPrefix()
	dst := (&node{t: c.t, rel: rel}).dirPrefix()

	objects, err := c.t.store.ListObjects(c.t.ctx, src, true)
	if err != nil {
		return err
	}
	for _, obj := range objects {
		if err := c.t.store.CopyObject(c.t.ctx, obj.Key, dst+strings.TrimPrefix(obj.Key, src)); err != nil {
			return mapError(err)
		}
	}
	if err := c.t.store.DeletePrefix(c.t.ctx, src); err != nil {
		return err
	}
	c.rel = rel
	return nil
}

// Delete 删除前缀下的全部对象
func (c *Collection) Delete() error {
	if c.rel == "" {
		return webdav.ErrForbidden("the root node can not be deleted")
	}
	return c.t.store.DeletePrefix(c.t.ctx, c.dirPrefix())
}

// MoveInto 同一个存储内用服务端复制移动
func (c *Collection) MoveInto(targetName, _ string, source webdav.Node) (bool, error) {
	rel, err := c.childRel(targetName)
	if err != nil {
		return false, err
	}

	switch src := source.(type) {
	case *File:
		if src.t.store != c.t.store {
			return false, nil
		}
		return true, src.moveTo(rel)
	case *Collection:
		if src.t.store != c.t.store {
			return false, nil
		}
		if src.rel == "" {
			return false, webdav.ErrForbidden("the root node can not be moved")
		}
		return true, src.moveTo(rel)
	}
	return false, nil
}

// File 对象
type File struct {
	node
	info ObjectInfo
}

// LastModified 实现 webdav.Node
func (f *File) LastModified() time.Time {
	return f.info.LastModified
}

// Get 实现 webdav.File
func (f *File) Get() (io.ReadCloser, error) {
	rc, err := f.t.store.GetObject(f.t.ctx, f.key())
	if err != nil {
		return nil, mapError(err)
	}
	return rc, nil
}

// Put 上传后重新读取元数据
func (f *File) Put(data io.Reader) (string, error) {
	contentType := mime.TypeByExtension(path.Ext(f.rel))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	etag, err := f.t.store.PutObject(f.t.ctx, f.key(), data, -1, contentType)
	if err != nil {
		return "", err
	}

	info, err := f.t.store.StatObject(f.t.ctx, f.key())
	if err != nil {
		return "", mapError(err)
	}
	f.info = info
	if etag == "" {
		etag = info.ETag
	}
	return etag, nil
}

// Size 实现 webdav.File
func (f *File) Size() int64 {
	return f.info.Size
}

// ETag 实现 webdav.File
func (f *File) ETag() string {
	return f.info.ETag
}

// ContentType 实现 webdav.File
func (f *File) ContentType() string {
	return f.info.ContentType
}

// SetName 复制到新键后删除原对象
func (f *File) SetName(name string) error {
	target, err := f.sibling(name)
	if err != nil {
		return err
	}
	return f.moveTo(target)
}

func (f *File) moveTo(rel string) error {
	dst := f.t.prefix + rel
	if err := f.t.store.CopyObject(f.t.ctx, f.key(), dst); err != nil {
		return mapError(err)
	}
	if err := f.t.store.DeleteObject(f.t.ctx, f.key()); err != nil {
		return err
	}
	f.rel = rel
	return nil
}

// Delete 实现 webdav.Node
func (f *File) Delete() error {
	return f.t.store.DeleteObject(f.t.ctx, f.key())
}

var (
	_ webdav.Collection    = (*Collection)(nil)
	_ webdav.MoveTarget    = (*Collection)(nil)
	_ webdav.ContextBinder = (*Collection)(nil)
	_ webdav.File          = (*File)(nil)
)
