package share

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/davcore/davcore/internal/database"
	"github.com/davcore/davcore/internal/models"
	"github.com/davcore/davcore/internal/webdav/utils"
)

const table = "shares"

var shareSchema = []string{
	`CREATE TABLE IF NOT EXISTS shares (
		id TEXT PRIMARY KEY,
		path TEXT NOT NULL,
		href TEXT NOT NULL,
		principal TEXT NOT NULL DEFAULT '',
		access TEXT NOT NULL,
		invite_status INTEGER NOT NULL,
		comment TEXT NOT NULL DEFAULT '',
		display_name TEXT NOT NULL DEFAULT '',
		created_by TEXT NOT NULL DEFAULT '',
		created_at BIGINT NOT NULL,
		updated_at BIGINT NOT NULL,
		UNIQUE (path, href)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_shares_created_by ON shares(created_by)`,
}

var shareColumns = []string{
	"id", "path", "href", "principal", "access", "invite_status",
	"comment", "display_name", "created_by", "created_at", "updated_at",
}

// SQLRepository 基于 internal/database 的共享记录存储
type SQLRepository struct {
	db *database.DB
}

// NewSQLRepository 创建存储并建表
func NewSQLRepository(ctx context.Context, db *database.DB) (*SQLRepository, error) {
	if err := db.Migrate(ctx, shareSchema...); err != nil {
		return nil, fmt.Errorf("failed to create shares table: %w", err)
	}
	return &SQLRepository{db: db}, nil
}

func subtree(path string) (string, []any) {
	if path == "" {
		return "1 = 1", nil
	}
	return `(path = ? OR path LIKE ? ESCAPE '\')`, []any{path, database.EscapeLike(path) + "/%"}
}

type scanner interface {
	Scan(dest ...any) error
}

func scanShare(row scanner) (*models.Share, error) {
	var (
		s                models.Share
		id               string
		created, updated int64
	)
	err := row.Scan(&id, &s.Path, &s.Href, &s.Principal, &s.Access, &s.InviteStatus,
		&s.Comment, &s.DisplayName, &s.CreatedBy, &created, &updated)
	if err != nil {
		return nil, err
	}
	if s.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("invalid share id %q: %w", id, err)
	}
	s.CreatedAt = time.Unix(created, 0)
	s.UpdatedAt = time.Unix(updated, 0)
	return &s, nil
}

func (r *SQLRepository) list(ctx context.Context, q database.Query) ([]models.Share, error) {
	rows, err := r.db.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("failed to query shares: %w", err)
	}
	defer rows.Close()

	var shares []models.Share
	for rows.Next() {
		s, err := scanShare(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan share: %w", err)
		}
		shares = append(shares, *s)
	}
	return shares, rows.Err()
}

// ListByPath 实现 models.ShareRepository
func (r *SQLRepository) ListByPath(ctx context.Context, path string) ([]models.Share, error) {
	return r.list(ctx, database.Select(table, shareColumns...).Where("path = ?", path).OrderBy("href"))
}

// ListByOwner 实现 models.ShareRepository
func (r *SQLRepository) ListByOwner(ctx context.Context, owner string) ([]models.Share, error) {
	return r.list(ctx, database.Select(table, shareColumns...).Where("created_by = ?", owner).OrderBy("path", "href"))
}

// GetByID 实现 models.ShareRepository
func (r *SQLRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Share, error) {
	s, err := scanShare(r.db.QueryRow(ctx, database.Select(table, shareColumns...).Where("id = ?", id.String())))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrShareNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query shares: %w", err)
	}
	return s, nil
}

// Upsert 实现 models.ShareRepository，已存在的 (path, href) 保留原 id 和创建时间
func (r *SQLRepository) Upsert(ctx context.Context, s *models.Share) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	q := database.Insert(table, shareColumns...).
		Values(s.ID.String(), s.Path, s.Href, s.Principal, s.Access, s.InviteStatus,
			s.Comment, s.DisplayName, s.CreatedBy, s.CreatedAt.Unix(), s.UpdatedAt.Unix()).
		OnConflict([]string{"path", "href"}, "principal", "access", "comment", "display_name", "updated_at")
	if _, err := r.db.Exec(ctx, q); err != nil {
		return fmt.Errorf("failed to save share: %w", err)
	}
	return nil
}

// Delete 实现 models.ShareRepository
func (r *SQLRepository) Delete(ctx context.Context, id uuid.UUID) error {
	res, err := r.db.Exec(ctx, database.Delete(table).Where("id = ?", id.String()))
	if err != nil {
		return fmt.Errorf("failed to delete share: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrShareNotFound
	}
	return nil
}

// DeleteByHref 实现 models.ShareRepository
func (r *SQLRepository) DeleteByHref(ctx context.Context, path, href string) error {
	if _, err := r.db.Exec(ctx, database.Delete(table).Where("path = ?", path).Where("href = ?", href)); err != nil {
		return fmt.Errorf("failed to delete share: %w", err)
	}
	return nil
}

// DeleteTree 实现 models.ShareRepository
func (r *SQLRepository) DeleteTree(ctx context.Context, path string) error {
	cond, args := subtree(path)
	if _, err := r.db.Exec(ctx, database.Delete(table).Where(cond, args...)); err != nil {
		return fmt.Errorf("failed to delete share: %w", err)
	}
	return nil
}

// MoveTree 实现 models.ShareRepository，目标子树上原有的共享被丢弃
func (r *SQLRepository) MoveTree(ctx context.Context, src, dst string) error {
	return r.db.InTx(ctx, func(tx *database.Tx) error {
		dstCond, dstArgs := subtree(dst)
		if _, err := tx.Exec(ctx, database.Delete(table).Where(dstCond, dstArgs...)); err != nil {
			return fmt.Errorf("failed to clear destination shares: %w", err)
		}

		cond, args := subtree(src)
		rows, err := tx.Query(ctx, database.Select(table, "id", "path").Where(cond, args...))
		if err != nil {
			return fmt.Errorf("failed to query shares: %w", err)
		}
		moved := make(map[string]string)
		for rows.Next() {
			var id, path string
			if err := rows.Scan(&id, &path); err != nil {
				rows.Close()
				return fmt.Errorf("failed to scan share: %w", err)
			}
			moved[id] = utils.Path.Rebase(path, src, dst)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		for id, path := range moved {
			if _, err := tx.Exec(ctx, database.Update(table).Set("path", path).Where("id = ?", id)); err != nil {
				return fmt.Errorf("failed to update share path: %w", err)
			}
		}
		return nil
	})
}
