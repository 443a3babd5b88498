// Package fs 把本地目录映射为 WebDAV 节点树
package fs

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"mime"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"golang.org/x/sys/unix"

	"github.com/davcore/davcore/internal/webdav"
)

// node 文件和目录的公共部分，path 为绝对路径
type node struct {
	root string
	path string
}

func (n *node) child(name string) (string, error) {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return "", webdav.ErrBadRequest(fmt.Sprintf("invalid node name: %q", name))
	}
	return filepath.Join(n.path, name), nil
}

// Name 实现 webdav.Node
func (n *node) Name() string {
	if n.path == n.root {
		return ""
	}
	return filepath.Base(n.path)
}

// SetName 在同一目录内重命名
func (n *node) SetName(name string) error {
	if n.path == n.root {
		return webdav.ErrForbidden("the root node can not be renamed")
	}
	parent := &node{root: n.root, path: filepath.Dir(n.path)}
	target, err := parent.child(name)
	if err != nil {
		return err
	}
	if err := os.Rename(n.path, target); err != nil {
		return mapError(err)
	}
	n.path = target
	return nil
}

// Delete 递归删除
func (n *node) Delete() error {
	if n.path == n.root {
		return webdav.ErrForbidden("the root node can not be deleted")
	}
	return mapError(os.RemoveAll(n.path))
}

// LastModified 实现 webdav.Node
func (n *node) LastModified() time.Time {
	info, err := os.Stat(n.path)
	if err != nil {
		return time.Time{}
	}
	return info.ModTime()
}

// QuotaInfo 文件系统的已用和可用字节
func (n *node) QuotaInfo() (int64, int64, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(n.root, &st); err != nil {
		return 0, 0, fmt.Errorf("statfs %s: %w", n.root, err)
	}
	bsize := int64(st.Bsize)
	used := (int64(st.Blocks) - int64(st.Bfree)) * bsize
	return used, int64(st.Bavail) * bsize, nil
}

// Directory 本地目录
type Directory struct {
	node
}

// NewRoot 以 dir 为根创建节点树，目录不存在时创建
func NewRoot(dir string) (*Directory, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve root %s: %w", dir, err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create root %s: %w", abs, err)
	}
	return &Directory{node{root: abs, path: abs}}, nil
}

func (d *Directory) wrap(path string, info fs.FileInfo) webdav.Node {
	if info.IsDir() {
		return &Directory{node{root: d.root, path: path}}
	}
	return &File{node{root: d.root, path: path}}
}

// Children 按名称排序返回子节点
func (d *Directory) Children() ([]webdav.Node, error) {
	entries, err := os.ReadDir(d.path)
	if err != nil {
		return nil, mapError(err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	nodes := make([]webdav.Node, 0, len(entries))
	for _, e := range entries {
		info, err := e.Info()
		if err != nil {
			// 列目录和 stat 之间被删除
			continue
		}
		nodes = append(nodes, d.wrap(filepath.Join(d.path, e.Name()), info))
	}
	return nodes, nil
}

// Child 实现 webdav.Collection
func (d *Directory) Child(name string) (webdav.Node, error) {
	path, err := d.child(name)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, mapError(err)
	}
	return d.wrap(path, info), nil
}

// ChildExists 实现 webdav.Collection
func (d *Directory) ChildExists(name string) bool {
	path, err := d.child(name)
	if err != nil {
		return false
	}
	_, err = os.Stat(path)
	return err == nil
}

// CreateFile 实现 webdav.Collection
func (d *Directory) CreateFile(name string, data io.Reader) (string, error) {
	path, err := d.child(name)
	if err != nil {
		return "", err
	}
	f := &File{node{root: d.root, path: path}}
	return f.Put(data)
}

// CreateDirectory 实现 webdav.Collection
func (d *Directory) CreateDirectory(name string) error {
	path, err := d.child(name)
	if err != nil {
		return err
	}
	return mapError(os.Mkdir(path, 0o755))
}

// MoveInto 同一根目录下的节点直接 rename
func (d *Directory) MoveInto(targetName, _ string, source webdav.Node) (bool, error) {
	var src *node
	switch n := source.(type) {
	case *File:
		src = &n.node
	case *Directory:
		src = &n.node
	default:
		return false, nil
	}
	if src.root != d.root {
		return false, nil
	}

	target, err := d.child(targetName)
	if err != nil {
		return false, err
	}
	if err := os.Rename(src.path, target); err != nil {
		return false, mapError(err)
	}
	src.path = target
	return true, nil
}

// File 本地文件
type File struct {
	node
}

// Get 实现 webdav.File
func (f *File) Get() (io.ReadCloser, error) {
	file, err := os.Open(f.path)
	if err != nil {
		return nil, mapError(err)
	}
	return file, nil
}

// Put 先写临时文件再替换，读者不会看到写了一半的内容
func (f *File) Put(data io.Reader) (string, error) {
	tmp, err := os.CreateTemp(filepath.Dir(f.path), ".davcore-*")
	if err != nil {
		return "", mapError(err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, data); err != nil {
		tmp.Close()
		return "", fmt.Errorf("write %s: %w", f.path, err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("close %s: %w", tmp.Name(), err)
	}
	if err := os.Rename(tmp.Name(), f.path); err != nil {
		return "", mapError(err)
	}
	return f.ETag(), nil
}

// Size 实现 webdav.File
func (f *File) Size() int64 {
	info, err := os.Stat(f.path)
	if err != nil {
		return 0
	}
	return info.Size()
}

// ETag 由修改时间和大小组成
func (f *File) ETag() string {
	info, err := os.Stat(f.path)
	if err != nil {
		return ""
	}
	return etagOf(info)
}

func etagOf(info fs.FileInfo) string {
	return fmt.Sprintf("%x-%x", info.ModTime().UnixNano(), info.Size())
}

// ContentType 按扩展名推断
func (f *File) ContentType() string {
	return mime.TypeByExtension(filepath.Ext(f.path))
}

// mapError 把文件系统错误转换为 DAV 错误
func mapError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, fs.ErrNotExist):
		return webdav.ErrNotFound(err.Error())
	case errors.Is(err, fs.ErrExist):
		return webdav.ErrMethodNotAllowed(err.Error(), nil)
	case errors.Is(err, fs.ErrPermission):
		return webdav.ErrForbidden(err.Error())
	case errors.Is(err, unix.ENOSPC):
		return webdav.ErrInsufficientStorage(err.Error())
	}
	return err
}

var (
	_ webdav.Collection = (*Directory)(nil)
	_ webdav.MoveTarget = (*Directory)(nil)
	_ webdav.Quota      = (*Directory)(nil)
	_ webdav.File       = (*File)(nil)
	_ webdav.Quota      = (*File)(nil)
)
