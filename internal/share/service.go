// Package share 保存共享邀请，并把任意节点包装为可共享资源
package share

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/davcore/davcore/internal/models"
	"github.com/davcore/davcore/internal/webdav"
	davxml "github.com/davcore/davcore/internal/webdav/xml"
)

// Service 共享服务
type Service struct {
	shareRepo models.ShareRepository
	now       func() time.Time
}

// NewService 创建共享服务
func NewService(shareRepo models.ShareRepository) *Service {
	return &Service{
		shareRepo: shareRepo,
		now:       time.Now,
	}
}

// ParseAccess 解析 JSON API 和存储中的访问级别
func ParseAccess(s string) (webdav.ShareAccess, error) {
	switch s {
	case webdav.ShareAccessRead.String():
		return webdav.ShareAccessRead, nil
	case webdav.ShareAccessReadWrite.String():
		return webdav.ShareAccessReadWrite, nil
	case webdav.ShareAccessNoAccess.String():
		return webdav.ShareAccessNoAccess, nil
	}
	return 0, ErrInvalidAccess
}

func toSharee(s models.Share) webdav.Sharee {
	access, err := ParseAccess(s.Access)
	if err != nil {
		access = webdav.ShareAccessNoAccess
	}
	sharee := webdav.Sharee{
		Href:         s.Href,
		Principal:    s.Principal,
		Access:       access,
		InviteStatus: webdav.InviteStatus(s.InviteStatus),
		Comment:      s.Comment,
	}
	if s.DisplayName != "" {
		sharee.Properties = map[string]string{davxml.DAV("displayname"): s.DisplayName}
	}
	return sharee
}

// Invitees 返回路径上的被共享者
func (s *Service) Invitees(ctx context.Context, path string) ([]webdav.Sharee, error) {
	shares, err := s.shareRepo.ListByPath(ctx, path)
	if err != nil {
		return nil, err
	}
	sharees := make([]webdav.Sharee, 0, len(shares))
	for _, sh := range shares {
		sharees = append(sharees, toSharee(sh))
	}
	return sharees, nil
}

// UpdateInvitees 写入一组邀请，no-access 表示撤销
func (s *Service) UpdateInvitees(ctx context.Context, path, owner string, sharees []webdav.Sharee) error {
	now := s.now()
	for _, sharee := range sharees {
		if sharee.Access == webdav.ShareAccessNoAccess {
			if err := s.shareRepo.DeleteByHref(ctx, path, sharee.Href); err != nil {
				return err
			}
			continue
		}
		if sharee.Access != webdav.ShareAccessRead && sharee.Access != webdav.ShareAccessReadWrite {
			return ErrInvalidAccess
		}

		status := sharee.InviteStatus
		if status == 0 {
			status = webdav.InviteNoResponse
		}
		share := &models.Share{
			Path:         path,
			Href:         sharee.Href,
			Principal:    principalOf(sharee),
			Access:       sharee.Access.String(),
			InviteStatus: int(status),
			Comment:      sharee.Comment,
			DisplayName:  sharee.Properties[davxml.DAV("displayname")],
			CreatedBy:    owner,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if err := s.shareRepo.Upsert(ctx, share); err != nil {
			return err
		}
	}
	return nil
}

// principalOf mailto: 之外的 href 视为主体地址
func principalOf(sharee webdav.Sharee) string {
	if sharee.Principal != "" {
		return sharee.Principal
	}
	if strings.HasPrefix(sharee.Href, "mailto:") {
		return ""
	}
	return sharee.Href
}

// CreateShare 通过 JSON API 创建共享
func (s *Service) CreateShare(ctx context.Context, owner string, req *models.CreateShareRequest) (*models.Share, error) {
	if req.Path == "" || req.Href == "" {
		return nil, ErrInvalidRequest
	}
	access, err := ParseAccess(req.Access)
	if err != nil || access == webdav.ShareAccessNoAccess {
		return nil, ErrInvalidAccess
	}

	sharee := webdav.Sharee{Href: req.Href, Access: access, Comment: req.Comment}
	if req.DisplayName != "" {
		sharee.Properties = map[string]string{davxml.DAV("displayname"): req.DisplayName}
	}
	if err := s.UpdateInvitees(ctx, strings.Trim(req.Path, "/"), owner, []webdav.Sharee{sharee}); err != nil {
		return nil, err
	}

	shares, err := s.shareRepo.ListByPath(ctx, strings.Trim(req.Path, "/"))
	if err != nil {
		return nil, err
	}
	for i := range shares {
		if shares[i].Href == req.Href {
			return &shares[i], nil
		}
	}
	return nil, ErrShareNotFound
}

// ListUserShares 返回某个用户创建的共享
func (s *Service) ListUserShares(ctx context.Context, owner string) ([]models.Share, error) {
	shares, err := s.shareRepo.ListByOwner(ctx, owner)
	if err != nil {
		return nil, err
	}
	if shares == nil {
		shares = []models.Share{}
	}
	return shares, nil
}

// DeleteShare 删除共享，只有创建者可以删除
func (s *Service) DeleteShare(ctx context.Context, id uuid.UUID, owner string) error {
	share, err := s.shareRepo.GetByID(ctx, id)
	if err != nil {
		return err
	}

	// 检查权限
	if share.CreatedBy != owner {
		return ErrUnauthorized
	}

	return s.shareRepo.Delete(ctx, id)
}

// DeleteTree 实现 sharing.TreeTracker
func (s *Service) DeleteTree(ctx context.Context, path string) error {
	return s.shareRepo.DeleteTree(ctx, path)
}

// MoveTree 实现 sharing.TreeTracker
func (s *Service) MoveTree(ctx context.Context, src, dst string) error {
	return s.shareRepo.MoveTree(ctx, src, dst)
}

// Wrap 实现 sharing.Wrapper
func (s *Service) Wrap(ctx context.Context, path string, node webdav.Node, owner string) webdav.Shareable {
	return &Resource{Node: node, svc: s, ctx: ctx, path: path, owner: owner}
}

// Resource 由共享服务保存邀请的节点
type Resource struct {
	webdav.Node
	svc   *Service
	ctx   context.Context
	path  string
	owner string

	loaded  bool
	sharees []webdav.Sharee
	err     error
}

// Invitees 实现 webdav.Shareable
func (r *Resource) Invitees() ([]webdav.Sharee, error) {
	if !r.loaded {
		r.sharees, r.err = r.svc.Invitees(r.ctx, r.path)
		r.loaded = true
	}
	return r.sharees, r.err
}

// UpdateInvitees 实现 webdav.Shareable
func (r *Resource) UpdateInvitees(sharees []webdav.Sharee) error {
	r.loaded = false
	return r.svc.UpdateInvitees(r.ctx, r.path, r.owner, sharees)
}

// ShareAccess 实现 webdav.Shareable，有邀请时为 shared-owner
func (r *Resource) ShareAccess() webdav.ShareAccess {
	sharees, err := r.Invitees()
	if err != nil || len(sharees) == 0 {
		return webdav.ShareAccessNotShared
	}
	return webdav.ShareAccessSharedOwner
}

// ShareResourceURI 实现 webdav.Shareable，同一路径总是得到同一个 URN
func (r *Resource) ShareResourceURI() string {
	return "urn:uuid:" + uuid.NewSHA1(uuid.NameSpaceURL, []byte(r.path)).String()
}

// 错误定义
var (
	ErrInvalidRequest = Error("invalid request")
	ErrInvalidAccess  = Error("invalid share access")
	ErrShareNotFound  = Error("share not found")
	ErrUnauthorized   = Error("unauthorized")
)

type Error string

func (e Error) Error() string {
	return string(e)
}
