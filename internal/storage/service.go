package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/davcore/davcore/internal/config"
)

// ErrObjectNotFound 对象不存在
var ErrObjectNotFound = errors.New("object not found")

// ObjectInfo 对象元数据。
// 非递归列举时，子前缀以 Key 以 / 结尾的条目返回。
type ObjectInfo struct {
	Key          string
	Size         int64
	ETag         string
	ContentType  string
	LastModified time.Time
}

// IsPrefix 是否为列举得到的子前缀
func (o ObjectInfo) IsPrefix() bool {
	return strings.HasSuffix(o.Key, "/")
}

// ObjectStore 节点树依赖的对象存储操作
type ObjectStore interface {
	PutObject(ctx context.Context, key string, r io.Reader, size int64, contentType string) (string, error)
	GetObject(ctx context.Context, key string) (io.ReadCloser, error)
	StatObject(ctx context.Context, key string) (ObjectInfo, error)
	ListObjects(ctx context.Context, prefix string, recursive bool) ([]ObjectInfo, error)
	CopyObject(ctx context.Context, srcKey, dstKey string) error
	DeleteObject(ctx context.Context, key string) error
	DeletePrefix(ctx context.Context, prefix string) error
}

// Service 基于 MinIO 的 ObjectStore，所有对象放在同一个 bucket
type Service struct {
	client *minio.Client
	bucket string
}

// NewService 创建 MinIO 客户端
func NewService(cfg config.MinIOConfig) (*Service, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	return &Service{
		client: client,
		bucket: cfg.Bucket,
	}, nil
}

// EnsureBucket bucket 不存在时创建
func (s *Service) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("check bucket exists: %w", err)
	}

	if !exists {
		err = s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{})
		if err != nil {
			return fmt.Errorf("create bucket: %w", err)
		}
	}

	return nil
}

// mapStoreError 把 NoSuchKey 之类的响应转换为 ErrObjectNotFound
func mapStoreError(op string, err error) error {
	resp := minio.ToErrorResponse(err)
	if resp.StatusCode == http.StatusNotFound || resp.Code == "NoSuchKey" {
		return fmt.Errorf("%s: %w", op, ErrObjectNotFound)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func toObjectInfo(info minio.ObjectInfo) ObjectInfo {
	return ObjectInfo{
		Key:          info.Key,
		Size:         info.Size,
		ETag:         info.ETag,
		ContentType:  info.ContentType,
		LastModified: info.LastModified,
	}
}

// PutObject size 为 -1 时使用分片上传
func (s *Service) PutObject(ctx context.Context, key string, reader io.Reader, size int64, contentType string) (string, error) {
	info, err := s.client.PutObject(ctx, s.bucket, normalizeKey(key), reader, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", fmt.Errorf("put object: %w", err)
	}

	return info.ETag, nil
}

// GetObject 读取对象内容
func (s *Service) GetObject(ctx context.Context, key string) (io.ReadCloser, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, normalizeKey(key), minio.GetObjectOptions{})
	if err != nil {
		return nil, mapStoreError("get object", err)
	}
	// GetObject 是惰性的，先 Stat 一次让不存在的对象尽早报错
	if _, err := obj.Stat(); err != nil {
		obj.Close()
		return nil, mapStoreError("get object", err)
	}

	return obj, nil
}

// StatObject 读取对象元数据
func (s *Service) StatObject(ctx context.Context, key string) (ObjectInfo, error) {
	info, err := s.client.StatObject(ctx, s.bucket, normalizeKey(key), minio.StatObjectOptions{})
	if err != nil {
		return ObjectInfo{}, mapStoreError("stat object", err)
	}

	return toObjectInfo(info), nil
}

// DeleteObject 删除单个对象
func (s *Service) DeleteObject(ctx context.Context, key string) error {
	err := s.client.RemoveObject(ctx, s.bucket, normalizeKey(key), minio.RemoveObjectOptions{})
	if err != nil {
		return fmt.Errorf("delete object: %w", err)
	}

	return nil
}

// ListObjects 列举前缀下的对象
func (s *Service) ListObjects(ctx context.Context, prefix string, recursive bool) ([]ObjectInfo, error) {
	opts := minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: recursive,
	}

	var objects []ObjectInfo
	for object := range s.client.ListObjects(ctx, s.bucket, opts) {
		if object.Err != nil {
			return nil, fmt.Errorf("list objects: %w", object.Err)
		}
		objects = append(objects, toObjectInfo(object))
	}

	return objects, nil
}

// CopyObject 服务端复制
func (s *Service) CopyObject(ctx context.Context, srcKey, dstKey string) error {
	src := minio.CopySrcOptions{
		Bucket: s.bucket,
		Object: normalizeKey(srcKey),
	}

	dst := minio.CopyDestOptions{
		Bucket: s.bucket,
		Object: normalizeKey(dstKey),
	}

	_, err := s.client.CopyObject(ctx, dst, src)
	if err != nil {
		return mapStoreError("copy object", err)
	}

	return nil
}

// DeletePrefix 删除前缀下的全部对象
func (s *Service) DeletePrefix(ctx context.Context, prefix string) error {
	objectsCh := make(chan minio.ObjectInfo)

	go func() {
		defer close(objectsCh)
		opts := minio.ListObjectsOptions{
			Prefix:    prefix,
			Recursive: true,
		}
		for object := range s.client.ListObjects(ctx, s.bucket, opts) {
			if object.Err == nil {
				objectsCh <- object
			}
		}
	}()

	errCh := s.client.RemoveObjects(ctx, s.bucket, objectsCh, minio.RemoveObjectsOptions{})
	for err := range errCh {
		if err.Err != nil {
			return fmt.Errorf("delete prefix: %w", err.Err)
		}
	}

	return nil
}

func normalizeKey(p string) string {
	if p == "" {
		return p
	}
	trailing := strings.HasSuffix(p, "/")
	p = strings.TrimPrefix(path.Clean("/"+p), "/")
	if trailing && p != "" {
		p += "/"
	}
	return p
}

var _ ObjectStore = (*Service)(nil)
