package propertystorage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/davcore/davcore/internal/database"
	"github.com/davcore/davcore/internal/types"
	"github.com/davcore/davcore/internal/webdav/utils"
)

const table = "propertystorage"

var propertySchema = []string{
	`CREATE TABLE IF NOT EXISTS propertystorage (
		path TEXT NOT NULL,
		name TEXT NOT NULL,
		value_type TEXT NOT NULL,
		value TEXT,
		updated_at BIGINT NOT NULL,
		PRIMARY KEY (path, name)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_propertystorage_path ON propertystorage(path)`,
}

var propertyColumns = []string{"path", "name", "value_type", "value", "updated_at"}

// SQLBackend 基于 sqlite 或 postgres 的死属性存储
type SQLBackend struct {
	db  *database.DB
	now func() time.Time
}

// NewSQLBackend 创建存储并建表
func NewSQLBackend(ctx context.Context, db *database.DB) (*SQLBackend, error) {
	if err := db.Migrate(ctx, propertySchema...); err != nil {
		return nil, fmt.Errorf("failed to create properties table: %w", err)
	}
	return &SQLBackend{db: db, now: time.Now}, nil
}

// subtree path 及其后代的查询条件
func subtree(path string) (string, []any) {
	if path == "" {
		return "1 = 1", nil
	}
	return `(path = ? OR path LIKE ? ESCAPE '\')`, []any{path, database.EscapeLike(path) + "/%"}
}

func scanProperties(rows *sql.Rows) ([]types.Property, error) {
	defer rows.Close()

	var props []types.Property
	for rows.Next() {
		var (
			p         types.Property
			valueType string
			value     sql.NullString
			updated   int64
		)
		if err := rows.Scan(&p.Path, &p.Name, &valueType, &value, &updated); err != nil {
			return nil, fmt.Errorf("failed to scan property: %w", err)
		}
		p.Type = types.ValueType(valueType)
		p.Value = value.String
		p.UpdatedAt = time.Unix(updated, 0)
		props = append(props, p)
	}
	return props, rows.Err()
}

// Get 实现 Backend
func (b *SQLBackend) Get(ctx context.Context, path string, names []string) ([]types.Property, error) {
	q := database.Select(table, propertyColumns...).Where("path = ?", path).OrderBy("name")
	if len(names) > 0 {
		q.Where(database.In("name", len(names)), database.Args(names)...)
	}
	rows, err := b.db.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("failed to query properties: %w", err)
	}
	return scanProperties(rows)
}

// Apply 实现 Backend
func (b *SQLBackend) Apply(ctx context.Context, path string, set []types.Property, remove []string) error {
	now := b.now().Unix()
	return b.db.InTx(ctx, func(tx *database.Tx) error {
		for _, p := range set {
			q := database.Insert(table, propertyColumns...).
				Values(path, p.Name, string(p.Type), p.Value, now).
				OnConflict([]string{"path", "name"}, "value_type", "value", "updated_at")
			if _, err := tx.Exec(ctx, q); err != nil {
				return fmt.Errorf("failed to save property %s: %w", p.Name, err)
			}
		}
		if len(remove) > 0 {
			q := database.Delete(table).
				Where("path = ?", path).
				Where(database.In("name", len(remove)), database.Args(remove)...)
			if _, err := tx.Exec(ctx, q); err != nil {
				return fmt.Errorf("failed to delete properties: %w", err)
			}
		}
		return nil
	})
}

// Delete 实现 Backend
func (b *SQLBackend) Delete(ctx context.Context, path string) error {
	cond, args := subtree(path)
	if _, err := b.db.Exec(ctx, database.Delete(table).Where(cond, args...)); err != nil {
		return fmt.Errorf("failed to delete properties: %w", err)
	}
	return nil
}

// Move 实现 Backend
func (b *SQLBackend) Move(ctx context.Context, src, dst string) error {
	return b.db.InTx(ctx, func(tx *database.Tx) error {
		cond, args := subtree(src)
		rows, err := tx.Query(ctx, database.Select(table, propertyColumns...).Where(cond, args...))
		if err != nil {
			return fmt.Errorf("failed to query properties: %w", err)
		}
		props, err := scanProperties(rows)
		if err != nil {
			return err
		}

		if _, err := tx.Exec(ctx, database.Delete(table).Where(cond, args...)); err != nil {
			return fmt.Errorf("failed to delete source properties: %w", err)
		}
		dstCond, dstArgs := subtree(dst)
		if _, err := tx.Exec(ctx, database.Delete(table).Where(dstCond, dstArgs...)); err != nil {
			return fmt.Errorf("failed to clear destination properties: %w", err)
		}

		for _, p := range props {
			q := database.Insert(table, propertyColumns...).
				Values(utils.Path.Rebase(p.Path, src, dst), p.Name, string(p.Type), p.Value, p.UpdatedAt.Unix())
			if _, err := tx.Exec(ctx, q); err != nil {
				return fmt.Errorf("failed to save property %s: %w", p.Name, err)
			}
		}
		return nil
	})
}
