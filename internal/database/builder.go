package database

import (
	"fmt"
	"strings"
)

// Query 可以按方言生成语句的构建器
type Query interface {
	Build(d Dialect) (string, []any)
}

// Raw 原样执行的语句，占位符使用 ?
type Raw struct {
	SQL  string
	Args []any
}

// Build 实现 Query
func (r Raw) Build(d Dialect) (string, []any) {
	return d.Rebind(r.SQL), r.Args
}

// ========================================
// SELECT
// ========================================

// SelectBuilder SELECT 查询构建器
type SelectBuilder struct {
	table   string
	cols    []string
	where   []string
	orderBy []string
	limit   int
	args    []any
}

// Select 创建 SELECT 构建器，未指定列时选择全部
func Select(table string, cols ...string) *SelectBuilder {
	if len(cols) == 0 {
		cols = []string{"*"}
	}
	return &SelectBuilder{table: table, cols: cols}
}

// Where 添加条件，多个条件以 AND 连接
func (b *SelectBuilder) Where(cond string, args ...any) *SelectBuilder {
	b.where = append(b.where, cond)
	b.args = append(b.args, args...)
	return b
}

// OrderBy 添加排序
func (b *SelectBuilder) OrderBy(cols ...string) *SelectBuilder {
	b.orderBy = append(b.orderBy, cols...)
	return b
}

// Limit 设置 LIMIT
func (b *SelectBuilder) Limit(n int) *SelectBuilder {
	b.limit = n
	return b
}

// Build 实现 Query
func (b *SelectBuilder) Build(d Dialect) (string, []any) {
	var q strings.Builder
	q.WriteString("SELECT ")
	q.WriteString(strings.Join(b.cols, ", "))
	q.WriteString(" FROM ")
	q.WriteString(b.table)
	writeWhere(&q, b.where)
	if len(b.orderBy) > 0 {
		q.WriteString(" ORDER BY ")
		q.WriteString(strings.Join(b.orderBy, ", "))
	}
	if b.limit > 0 {
		fmt.Fprintf(&q, " LIMIT %d", b.limit)
	}
	return d.Rebind(q.String()), b.args
}

// ========================================
// INSERT
// ========================================

// InsertBuilder INSERT 构建器，可选 upsert
type InsertBuilder struct {
	table    string
	cols     []string
	rows     [][]any
	conflict []string
	update   []string
}

// Insert 创建 INSERT 构建器
func Insert(table string, cols ...string) *InsertBuilder {
	return &InsertBuilder{table: table, cols: cols}
}

// Values 添加一行，值的个数必须与列数一致
func (b *InsertBuilder) Values(vals ...any) *InsertBuilder {
	b.rows = append(b.rows, vals)
	return b
}

// OnConflict 冲突时更新 update 中的列；update 为空时忽略冲突行
func (b *InsertBuilder) OnConflict(keys []string, update ...string) *InsertBuilder {
	b.conflict = keys
	b.update = update
	return b
}

// Build 实现 Query。sqlite 和 postgres 都支持 ON CONFLICT ... DO UPDATE。
func (b *InsertBuilder) Build(d Dialect) (string, []any) {
	var (
		q    strings.Builder
		args []any
	)
	q.WriteString("INSERT INTO ")
	q.WriteString(b.table)
	q.WriteString(" (" + strings.Join(b.cols, ", ") + ") VALUES ")

	placeholders := "(" + strings.TrimSuffix(strings.Repeat("?, ", len(b.cols)), ", ") + ")"
	for i, row := range b.rows {
		if i > 0 {
			q.WriteString(", ")
		}
		q.WriteString(placeholders)
		args = append(args, row...)
	}

	if len(b.conflict) > 0 {
		q.WriteString(" ON CONFLICT (" + strings.Join(b.conflict, ", ") + ")")
		if len(b.update) == 0 {
			q.WriteString(" DO NOTHING")
		} else {
			sets := make([]string, len(b.update))
			for i, col := range b.update {
				sets[i] = col + " = excluded." + col
			}
			q.WriteString(" DO UPDATE SET " + strings.Join(sets, ", "))
		}
	}
	return d.Rebind(q.String()), args
}

// ========================================
// UPDATE
// ========================================

type assignment struct {
	col string
	val any
}

// UpdateBuilder UPDATE 构建器，SET 按调用顺序输出
type UpdateBuilder struct {
	table string
	sets  []assignment
	where []string
	args  []any
}

// Update 创建 UPDATE 构建器
func Update(table string) *UpdateBuilder {
	return &UpdateBuilder{table: table}
}

// Set 设置列
func (b *UpdateBuilder) Set(col string, val any) *UpdateBuilder {
	b.sets = append(b.sets, assignment{col: col, val: val})
	return b
}

// Where 添加条件
func (b *UpdateBuilder) Where(cond string, args ...any) *UpdateBuilder {
	b.where = append(b.where, cond)
	b.args = append(b.args, args...)
	return b
}

// Build 实现 Query
func (b *UpdateBuilder) Build(d Dialect) (string, []any) {
	var q strings.Builder
	q.WriteString("UPDATE ")
	q.WriteString(b.table)

	args := make([]any, 0, len(b.sets)+len(b.args))
	sets := make([]string, len(b.sets))
	for i, s := range b.sets {
		sets[i] = s.col + " = ?"
		args = append(args, s.val)
	}
	q.WriteString(" SET " + strings.Join(sets, ", "))
	writeWhere(&q, b.where)
	return d.Rebind(q.String()), append(args, b.args...)
}

// ========================================
// DELETE
// ========================================

// DeleteBuilder DELETE 构建器
type DeleteBuilder struct {
	table string
	where []string
	args  []any
}

// Delete 创建 DELETE 构建器
func Delete(table string) *DeleteBuilder {
	return &DeleteBuilder{table: table}
}

// Where 添加条件
func (b *DeleteBuilder) Where(cond string, args ...any) *DeleteBuilder {
	b.where = append(b.where, cond)
	b.args = append(b.args, args...)
	return b
}

// Build 实现 Query
func (b *DeleteBuilder) Build(d Dialect) (string, []any) {
	var q strings.Builder
	q.WriteString("DELETE FROM ")
	q.WriteString(b.table)
	writeWhere(&q, b.where)
	return d.Rebind(q.String()), b.args
}

func writeWhere(q *strings.Builder, conds []string) {
	if len(conds) == 0 {
		return
	}
	q.WriteString(" WHERE ")
	for i, c := range conds {
		if i > 0 {
			q.WriteString(" AND ")
		}
		if len(conds) > 1 && strings.Contains(strings.ToUpper(c), " OR ") {
			c = "(" + c + ")"
		}
		q.WriteString(c)
	}
}

// In 生成 col IN (?, ?, ...) 条件
func In(col string, n int) string {
	if n <= 0 {
		return "1 = 0"
	}
	return col + " IN (" + strings.TrimSuffix(strings.Repeat("?, ", n), ", ") + ")"
}

// Args 把字符串切片转换为参数列表
func Args(values []string) []any {
	args := make([]any, len(values))
	for i, v := range values {
		args[i] = v
	}
	return args
}
