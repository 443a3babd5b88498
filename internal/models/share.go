package models

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Share 一条共享邀请：某个路径共享给某个被共享者
type Share struct {
	ID           uuid.UUID `json:"id"`
	Path         string    `json:"path"`
	Href         string    `json:"href"`
	Principal    string    `json:"principal,omitempty"`
	Access       string    `json:"access"`
	InviteStatus int       `json:"invite_status"`
	Comment      string    `json:"comment,omitempty"`
	DisplayName  string    `json:"display_name,omitempty"`
	CreatedBy    string    `json:"created_by"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// ShareRepository 共享记录的存储
type ShareRepository interface {
	ListByPath(ctx context.Context, path string) ([]Share, error)
	ListByOwner(ctx context.Context, owner string) ([]Share, error)
	GetByID(ctx context.Context, id uuid.UUID) (*Share, error)
	// Upsert 按 (path, href) 写入
	Upsert(ctx context.Context, share *Share) error
	Delete(ctx context.Context, id uuid.UUID) error
	DeleteByHref(ctx context.Context, path, href string) error
	// DeleteTree 删除路径及其后代的记录
	DeleteTree(ctx context.Context, path string) error
	MoveTree(ctx context.Context, src, dst string) error
}

// CreateShareRequest 通过 JSON API 创建共享
type CreateShareRequest struct {
	Path        string `json:"path" binding:"required"`
	Href        string `json:"href" binding:"required"`
	Access      string `json:"access" binding:"required,oneof=read read-write"`
	DisplayName string `json:"display_name"`
	Comment     string `json:"comment"`
}
