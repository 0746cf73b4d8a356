package sql

import (
	"context"
	"database/sql"
	"sort"
	"strings"

	core "gorevision/data/db"
	"gorevision/data/db/dialect"
)

// assignment SET 中的一项：列赋值或原始表达式
type assignment struct {
	column string
	expr   string
	args   []any
}

type updateBuilder struct {
	db      core.IDatabase
	dialect dialect.Dialect

	table string
	sets  []assignment
	where conditions
}

func (b *updateBuilder) Set(col string, val any) IUpdateBuilder {
	if col != "" {
		b.sets = append(b.sets, assignment{column: col, args: []any{val}})
	}
	return b
}

// SetMap 按列名排序追加，保证生成的 SQL 稳定
func (b *updateBuilder) SetMap(values map[string]any) IUpdateBuilder {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		b.Set(k, values[k])
	}
	return b
}

func (b *updateBuilder) SetExpr(expr string, args ...any) IUpdateBuilder {
	if expr != "" {
		b.sets = append(b.sets, assignment{expr: expr, args: args})
	}
	return b
}

func (b *updateBuilder) Where(cond string, args ...any) IUpdateBuilder {
	b.where.and(cond, args)
	return b
}

func (b *updateBuilder) WhereIn(column string, values ...any) IUpdateBuilder {
	b.where.in(b.dialect, "updateBuilder", column, values)
	return b
}

// Build 按调用顺序输出 SET 项
func (b *updateBuilder) Build() (string, []any) {
	if len(b.sets) == 0 {
		panic("updateBuilder: no columns or expressions to set")
	}

	parts := make([]string, len(b.sets))
	var args []any
	for i, a := range b.sets {
		if a.column != "" {
			parts[i] = quoteIdentifier(b.dialect, "updateBuilder", "column", a.column) + " = ?"
		} else {
			parts[i] = a.expr
		}
		args = append(args, a.args...)
	}

	var sb strings.Builder
	sb.WriteString("UPDATE " + quoteIdentifier(b.dialect, "updateBuilder", "table", b.table))
	sb.WriteString(" SET " + strings.Join(parts, ", "))
	args = b.where.write(&sb, args)
	return sb.String(), args
}

func (b *updateBuilder) Exec(ctx context.Context) (sql.Result, error) {
	q, args := b.Build()
	return b.db.Exec(ctx, q, args...)
}
