package memory

import (
	"bytes"
	"crypto/md5"
	"fmt"
	"io"
	"mime"
	"path"
)

// File 内存文件
type File struct {
	node
	data        []byte
	contentType string
}

func etagOf(data []byte) string {
	return fmt.Sprintf("%x", md5.Sum(data))
}

func contentTypeOf(name string) string {
	return mime.TypeByExtension(path.Ext(name))
}

// Get 返回内容的副本
func (f *File) Get() (io.ReadCloser, error) {
	f.store.mu.RLock()
	defer f.store.mu.RUnlock()
	return io.NopCloser(bytes.NewReader(append([]byte(nil), f.data...))), nil
}

// Put 覆盖内容
func (f *File) Put(r io.Reader) (string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("read file content: %w", err)
	}

	f.store.mu.Lock()
	defer f.store.mu.Unlock()
	f.data = data
	f.touch()
	if f.parent != nil {
		f.parent.record(f.name, false)
	}
	return etagOf(data), nil
}

// Size 内容长度
func (f *File) Size() int64 {
	f.store.mu.RLock()
	defer f.store.mu.RUnlock()
	return int64(len(f.data))
}

// ETag 内容的 md5
func (f *File) ETag() string {
	f.store.mu.RLock()
	defer f.store.mu.RUnlock()
	return etagOf(f.data)
}

// ContentType 按扩展名推断
func (f *File) ContentType() string {
	f.store.mu.RLock()
	defer f.store.mu.RUnlock()
	return f.contentType
}

func (f *File) size() int64 {
	return int64(len(f.data))
}
