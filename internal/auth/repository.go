package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/davcore/davcore/internal/database"
	"github.com/davcore/davcore/internal/models"
)

var userSchema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		username TEXT NOT NULL UNIQUE,
		email TEXT NOT NULL,
		password_hash TEXT NOT NULL,
		display_name TEXT NOT NULL DEFAULT '',
		storage_quota BIGINT NOT NULL DEFAULT 0,
		status TEXT NOT NULL,
		created_at BIGINT NOT NULL,
		updated_at BIGINT NOT NULL
	)`,
}

var userColumns = []string{
	"id", "username", "email", "password_hash", "display_name",
	"storage_quota", "status", "created_at", "updated_at",
}

// SQLUserRepository 基于 internal/database 的用户存储
type SQLUserRepository struct {
	db *database.DB
}

// NewSQLUserRepository 创建存储并建表
func NewSQLUserRepository(ctx context.Context, db *database.DB) (*SQLUserRepository, error) {
	if err := db.Migrate(ctx, userSchema...); err != nil {
		return nil, fmt.Errorf("failed to create users table: %w", err)
	}
	return &SQLUserRepository{db: db}, nil
}

// Create 实现 models.UserRepository
func (r *SQLUserRepository) Create(ctx context.Context, user *models.User) error {
	q := database.Insert("users", userColumns...).Values(
		user.ID.String(), user.Username, user.Email, user.PasswordHash, user.DisplayName,
		user.StorageQuota, user.Status, user.CreatedAt.Unix(), user.UpdatedAt.Unix(),
	)
	if _, err := r.db.Exec(ctx, q); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "unique") {
			return ErrUserExists
		}
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

// GetByID 实现 models.UserRepository
func (r *SQLUserRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	return r.get(ctx, database.Select("users", userColumns...).Where("id = ?", id.String()))
}

// GetByUsername 实现 models.UserRepository
func (r *SQLUserRepository) GetByUsername(ctx context.Context, username string) (*models.User, error) {
	return r.get(ctx, database.Select("users", userColumns...).Where("username = ?", username))
}

func (r *SQLUserRepository) get(ctx context.Context, q database.Query) (*models.User, error) {
	var (
		user             models.User
		id               string
		created, updated int64
	)
	err := r.db.QueryRow(ctx, q).Scan(&id, &user.Username, &user.Email, &user.PasswordHash,
		&user.DisplayName, &user.StorageQuota, &user.Status, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query user: %w", err)
	}
	if user.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("invalid user id %q: %w", id, err)
	}
	user.CreatedAt = time.Unix(created, 0)
	user.UpdatedAt = time.Unix(updated, 0)
	return &user, nil
}
