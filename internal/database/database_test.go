package database

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRebind(t *testing.T) {
	tests := []struct {
		name    string
		dialect Dialect
		query   string
		want    string
	}{
		{name: "sqlite 不变", dialect: DialectSQLite, query: "a = ? AND b = ?", want: "a = ? AND b = ?"},
		{name: "postgres 编号", dialect: DialectPostgres, query: "a = ? AND b = ?", want: "a = $1 AND b = $2"},
		{name: "引号内不替换", dialect: DialectPostgres, query: "a = '?' AND b = ?", want: "a = '?' AND b = $1"},
		{name: "ESCAPE 子句", dialect: DialectPostgres, query: `p LIKE ? ESCAPE '\' AND q = ?`, want: `p LIKE $1 ESCAPE '\' AND q = $2`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.dialect.Rebind(tt.query))
		})
	}
}

func TestParseDialect(t *testing.T) {
	d, err := ParseDialect("sqlite")
	require.NoError(t, err)
	assert.Equal(t, DialectSQLite, d)
	d, err = ParseDialect("PostgreSQL")
	require.NoError(t, err)
	assert.Equal(t, DialectPostgres, d)
	_, err = ParseDialect("mysql")
	assert.Error(t, err)
}

func TestBuilders(t *testing.T) {
	t.Run("select", func(t *testing.T) {
		q, args := Select("props", "name", "value").
			Where("path = ?", "a").
			Where(In("name", 2), "x", "y").
			OrderBy("name").
			Limit(10).
			Build(DialectPostgres)
		assert.Equal(t, "SELECT name, value FROM props WHERE path = $1 AND name IN ($2, $3) ORDER BY name LIMIT 10", q)
		assert.Equal(t, []any{"a", "x", "y"}, args)
	})

	t.Run("select 中的 OR 加括号", func(t *testing.T) {
		q, _ := Select("locks").Where("expires > ?", 1).Where("uri = ? OR uri LIKE ?", "a", "a/%").Build(DialectSQLite)
		assert.Equal(t, "SELECT * FROM locks WHERE expires > ? AND (uri = ? OR uri LIKE ?)", q)
	})

	t.Run("upsert", func(t *testing.T) {
		q, args := Insert("props", "path", "name", "value").
			Values("a", "n", "v").
			OnConflict([]string{"path", "name"}, "value").
			Build(DialectPostgres)
		assert.Equal(t, "INSERT INTO props (path, name, value) VALUES ($1, $2, $3) ON CONFLICT (path, name) DO UPDATE SET value = excluded.value", q)
		assert.Equal(t, []any{"a", "n", "v"}, args)
	})

	t.Run("多行插入并忽略冲突", func(t *testing.T) {
		q, args := Insert("t", "a").Values(1).Values(2).OnConflict([]string{"a"}).Build(DialectSQLite)
		assert.Equal(t, "INSERT INTO t (a) VALUES (?), (?) ON CONFLICT (a) DO NOTHING", q)
		assert.Equal(t, []any{1, 2}, args)
	})

	t.Run("update", func(t *testing.T) {
		q, args := Update("props").Set("path", "b").Set("value", "v").Where("path = ?", "a").Build(DialectPostgres)
		assert.Equal(t, "UPDATE props SET path = $1, value = $2 WHERE path = $3", q)
		assert.Equal(t, []any{"b", "v", "a"}, args)
	})

	t.Run("delete", func(t *testing.T) {
		q, args := Delete("props").Where("path = ?", "a").Build(DialectSQLite)
		assert.Equal(t, "DELETE FROM props WHERE path = ?", q)
		assert.Equal(t, []any{"a"}, args)
	})

	t.Run("空 IN", func(t *testing.T) {
		assert.Equal(t, "1 = 0", In("name", 0))
	})
}

func TestEscapeLike(t *testing.T) {
	assert.Equal(t, `a\_b\%c\\`, EscapeLike(`a_b%c\`))
}

func TestOpenSQLite(t *testing.T) {
	db, err := Open("sqlite3", "file::memory:?cache=shared")
	require.NoError(t, err)
	defer db.Close()

	ctx := context.Background()
	require.NoError(t, db.Migrate(ctx, `CREATE TABLE IF NOT EXISTS kv (k TEXT PRIMARY KEY, v TEXT NOT NULL)`))

	_, err = db.Exec(ctx, Insert("kv", "k", "v").Values("a", "1").OnConflict([]string{"k"}, "v"))
	require.NoError(t, err)
	_, err = db.Exec(ctx, Insert("kv", "k", "v").Values("a", "2").OnConflict([]string{"k"}, "v"))
	require.NoError(t, err)

	var v string
	require.NoError(t, db.QueryRow(ctx, Select("kv", "v").Where("k = ?", "a")).Scan(&v))
	assert.Equal(t, "2", v)

	err = db.InTx(ctx, func(tx *Tx) error {
		_, err := tx.Exec(ctx, Delete("kv").Where("k = ?", "a"))
		return err
	})
	require.NoError(t, err)
	err = db.QueryRow(ctx, Select("kv", "v").Where("k = ?", "a")).Scan(&v)
	assert.Error(t, err)
}
