package locks

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/davcore/davcore/internal/database"
	"github.com/davcore/davcore/internal/webdav"
)

// lockTable 锁表结构，sqlite 和 postgres 通用
var lockTable = []string{
	`CREATE TABLE IF NOT EXISTS locks (
		token TEXT PRIMARY KEY,
		uri TEXT NOT NULL,
		owner TEXT NOT NULL DEFAULT '',
		scope TEXT NOT NULL,
		depth INTEGER NOT NULL,
		timeout BIGINT NOT NULL,
		created BIGINT NOT NULL,
		expires_at BIGINT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_locks_uri ON locks(uri)`,
	`CREATE INDEX IF NOT EXISTS idx_locks_expires_at ON locks(expires_at)`,
}

// lockColumns 查询时的列顺序，与 scanLock 一致
var lockColumns = []string{"token", "uri", "owner", "scope", "depth", "timeout", "created"}

// advisoryLockKey postgres 咨询锁的键，串行化 LOCK 的冲突检查
const advisoryLockKey = 0x64617663

// SQLBackend 基于 sqlite 或 postgres 的锁存储
type SQLBackend struct {
	db  *database.DB
	now func() time.Time
}

// NewSQLBackend 创建 SQL 锁存储并建表
func NewSQLBackend(ctx context.Context, db *database.DB) (*SQLBackend, error) {
	if err := db.Migrate(ctx, lockTable...); err != nil {
		return nil, fmt.Errorf("failed to initialize lock table: %w", err)
	}
	return &SQLBackend{db: db, now: time.Now}, nil
}

// SetClock 替换时钟
func (b *SQLBackend) SetClock(now func() time.Time) {
	b.now = now
}

// Locks 实现 Backend
func (b *SQLBackend) Locks(ctx context.Context, uri string, includeChildren bool) ([]*webdav.LockInfo, error) {
	var locks []*webdav.LockInfo
	err := b.db.InTx(ctx, func(tx *database.Tx) error {
		var err error
		locks, err = b.locks(ctx, tx, uri, includeChildren)
		return err
	})
	return locks, err
}

func (b *SQLBackend) locks(ctx context.Context, tx *database.Tx, uri string, includeChildren bool) ([]*webdav.LockInfo, error) {
	now := b.now().Unix()
	if _, err := tx.Exec(ctx, database.Delete("locks").Where("expires_at < ?", now)); err != nil {
		return nil, fmt.Errorf("failed to purge expired locks: %w", err)
	}

	conds := []string{"uri = ?"}
	args := []any{uri}
	if ancestors := ancestorsOf(uri); len(ancestors) > 0 {
		conds = append(conds, "(depth <> 0 AND "+database.In("uri", len(ancestors))+")")
		args = append(args, database.Args(ancestors)...)
	}
	if includeChildren {
		if uri == "" {
			conds = append(conds, "uri <> ''")
		} else {
			conds = append(conds, `uri LIKE ? ESCAPE '\'`)
			args = append(args, database.EscapeLike(uri)+"/%")
		}
	}

	q := database.Select("locks", lockColumns...).
		Where(strings.Join(conds, " OR "), args...).
		OrderBy("uri", "token")
	rows, err := tx.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("failed to query locks: %w", err)
	}
	defer rows.Close()

	var locks []*webdav.LockInfo
	for rows.Next() {
		l, err := scanLock(rows)
		if err != nil {
			return nil, err
		}
		// expires_at 以秒为单位，这里再按精确时间过滤一次
		if l.Expired(b.now()) {
			continue
		}
		locks = append(locks, l)
	}
	return locks, rows.Err()
}

func scanLock(rows *sql.Rows) (*webdav.LockInfo, error) {
	var (
		l       webdav.LockInfo
		scope   string
		created int64
	)
	if err := rows.Scan(&l.Token, &l.URI, &l.Owner, &scope, &l.Depth, &l.Timeout, &created); err != nil {
		return nil, fmt.Errorf("failed to scan lock: %w", err)
	}
	l.Scope = webdav.LockScope(scope)
	l.Created = time.Unix(created, 0)
	return &l, nil
}

// Lock 实现 Backend
func (b *SQLBackend) Lock(ctx context.Context, uri string, info *webdav.LockInfo) error {
	return b.db.InTx(ctx, func(tx *database.Tx) error {
		if b.db.Dialect == database.DialectPostgres {
			if _, err := tx.Exec(ctx, database.Raw{SQL: "SELECT pg_advisory_xact_lock(?)", Args: []any{advisoryLockKey}}); err != nil {
				return fmt.Errorf("failed to acquire advisory lock: %w", err)
			}
		}

		existing, err := b.locks(ctx, tx, uri, info.Depth == webdav.DepthInfinity)
		if err != nil {
			return err
		}
		created := info.Created.Unix()
		expires := created + info.Timeout

		for _, l := range existing {
			if l.Token != info.Token {
				continue
			}
			_, err := tx.Exec(ctx, database.Update("locks").
				Set("timeout", info.Timeout).
				Set("created", created).
				Set("expires_at", expires).
				Where("token = ?", info.Token))
			if err != nil {
				return fmt.Errorf("failed to refresh lock: %w", err)
			}
			return nil
		}
		if c := Conflicts(existing, info); c != nil {
			return &ConflictError{Lock: c}
		}

		_, err = tx.Exec(ctx, database.Insert("locks", "token", "uri", "owner", "scope", "depth", "timeout", "created", "expires_at").
			Values(info.Token, uri, info.Owner, string(info.Scope), info.Depth, info.Timeout, created, expires).
			OnConflict([]string{"token"}, "uri", "owner", "scope", "depth", "timeout", "created", "expires_at"))
		if err != nil {
			return fmt.Errorf("failed to save lock: %w", err)
		}
		return nil
	})
}

// Unlock 实现 Backend
func (b *SQLBackend) Unlock(ctx context.Context, uri string, info *webdav.LockInfo) (bool, error) {
	res, err := b.db.Exec(ctx, database.Delete("locks").Where("token = ?", info.Token).Where("uri = ?", uri))
	if err != nil {
		return false, fmt.Errorf("failed to delete lock: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
