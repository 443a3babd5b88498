package database

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// Dialect SQL 方言，只影响占位符和 upsert 语法
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite3"
	DialectPostgres Dialect = "postgres"
)

// ParseDialect 根据驱动名返回方言
func ParseDialect(driver string) (Dialect, error) {
	switch strings.ToLower(driver) {
	case "sqlite", "sqlite3":
		return DialectSQLite, nil
	case "postgres", "postgresql", "pq":
		return DialectPostgres, nil
	}
	return "", fmt.Errorf("unsupported database driver %q", driver)
}

// Rebind 把 ? 占位符转换为方言的格式，引号内的 ? 保持不变
func (d Dialect) Rebind(query string) string {
	if d != DialectPostgres {
		return query
	}
	var (
		b       strings.Builder
		n       int
		inQuote bool
	)
	b.Grow(len(query) + 8)
	for i := 0; i < len(query); i++ {
		c := query[i]
		switch {
		case c == '\'':
			inQuote = !inQuote
			b.WriteByte(c)
		case c == '?' && !inQuote:
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

// DB 带方言的连接池
type DB struct {
	*sql.DB
	Dialect Dialect
}

// Open 打开数据库并配置连接池。sqlite 默认开启 WAL。
func Open(driver, dsn string) (*DB, error) {
	dialect, err := ParseDialect(driver)
	if err != nil {
		return nil, err
	}
	if dialect == DialectSQLite && !strings.Contains(dsn, "_journal_mode") && !isMemoryDSN(dsn) {
		sep := "?"
		if strings.Contains(dsn, "?") {
			sep = "&"
		}
		dsn += sep + "_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000"
	}

	db, err := sql.Open(string(dialect), dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if dialect == DialectSQLite {
		// sqlite 只允许一个写者
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(25)
	}
	db.SetConnMaxLifetime(5 * time.Minute)

	return &DB{DB: db, Dialect: dialect}, nil
}

func isMemoryDSN(dsn string) bool {
	return strings.Contains(dsn, ":memory:") || strings.Contains(dsn, "mode=memory")
}

// Migrate 依次执行建表语句
func (db *DB) Migrate(ctx context.Context, statements ...string) error {
	for _, stmt := range statements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to execute migration: %w", err)
		}
	}
	return nil
}

// Exec 执行构建好的语句
func (db *DB) Exec(ctx context.Context, q Query) (sql.Result, error) {
	query, args := q.Build(db.Dialect)
	return db.ExecContext(ctx, query, args...)
}

// Query 执行构建好的查询
func (db *DB) Query(ctx context.Context, q Query) (*sql.Rows, error) {
	query, args := q.Build(db.Dialect)
	return db.QueryContext(ctx, query, args...)
}

// QueryRow 执行单行查询
func (db *DB) QueryRow(ctx context.Context, q Query) *sql.Row {
	query, args := q.Build(db.Dialect)
	return db.QueryRowContext(ctx, query, args...)
}

// InTx 在事务中执行 fn，fn 返回错误时回滚
func (db *DB) InTx(ctx context.Context, fn func(tx *Tx) error) error {
	sqlTx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	tx := &Tx{Tx: sqlTx, dialect: db.Dialect}
	if err := fn(tx); err != nil {
		_ = sqlTx.Rollback()
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Tx 带方言的事务
type Tx struct {
	*sql.Tx
	dialect Dialect
}

// Exec 执行构建好的语句
func (tx *Tx) Exec(ctx context.Context, q Query) (sql.Result, error) {
	query, args := q.Build(tx.dialect)
	return tx.ExecContext(ctx, query, args...)
}

// Query 执行构建好的查询
func (tx *Tx) Query(ctx context.Context, q Query) (*sql.Rows, error) {
	query, args := q.Build(tx.dialect)
	return tx.QueryContext(ctx, query, args...)
}

// EscapeLike 转义 LIKE 模式中的通配符，配合 ESCAPE '\' 使用
func EscapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
