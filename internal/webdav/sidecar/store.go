// Package sidecar 把锁和死属性保存在数据目录下的 JSON 文件中，
// 多个进程通过 flock 共享同一个文件。
package sidecar

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/davcore/davcore/internal/types"
	"github.com/davcore/davcore/internal/webdav"
)

// DefaultName 默认的文件名
const DefaultName = ".davcore"

// Document 文件内容
type Document struct {
	Locks      []*webdav.LockInfo                   `json:"locks"`
	Properties map[string]map[string]types.Property `json:"properties"`
}

// Store 一个 sidecar 文件
type Store struct {
	path string
	// mu 同一进程内的 goroutine 之间互斥，flock 只在进程之间生效
	mu sync.Mutex
}

// Open 在 dir 下打开或创建 sidecar 文件
func Open(dir, name string) (*Store, error) {
	if name == "" {
		name = DefaultName
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}
	return &Store{path: filepath.Join(dir, name)}, nil
}

// Path 数据文件的路径
func (s *Store) Path() string {
	return s.path
}

// lock 对 .lock 文件加 flock，返回解锁函数
func (s *Store) lock(how int) (func(), error) {
	f, err := os.OpenFile(s.path+".lock", os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open lock file: %w", err)
	}
	if err := unix.Flock(int(f.Fd()), how); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to flock: %w", err)
	}
	return func() {
		unix.Flock(int(f.Fd()), unix.LOCK_UN)
		f.Close()
	}, nil
}

func (s *Store) read() (*Document, error) {
	doc := &Document{Properties: make(map[string]map[string]types.Property)}
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) || len(data) == 0 {
		return doc, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", s.path, err)
	}
	if err := json.Unmarshal(data, doc); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", s.path, err)
	}
	if doc.Properties == nil {
		doc.Properties = make(map[string]map[string]types.Property)
	}
	return doc, nil
}

// write 先写临时文件再改名，读者不会看到半个文件
func (s *Store) write(doc *Document) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", tmp, err)
	}
	return os.Rename(tmp, s.path)
}

// View 在共享锁下读取
func (s *Store) View(fn func(doc *Document) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	unlock, err := s.lock(unix.LOCK_SH)
	if err != nil {
		return err
	}
	defer unlock()

	doc, err := s.read()
	if err != nil {
		return err
	}
	return fn(doc)
}

// Update 在排他锁下读取、修改并写回；fn 返回错误时不写回
func (s *Store) Update(fn func(doc *Document) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	unlock, err := s.lock(unix.LOCK_EX)
	if err != nil {
		return err
	}
	defer unlock()

	doc, err := s.read()
	if err != nil {
		return err
	}
	if err := fn(doc); err != nil {
		return err
	}
	return s.write(doc)
}
