package sql

import (
	"context"
	"database/sql"
	"strings"

	core "gorevision/data/db"
	"gorevision/data/db/dialect"
)

type deleteBuilder struct {
	db      core.IDatabase
	dialect dialect.Dialect

	table string
	where conditions
	limit int
}

func (b *deleteBuilder) Where(cond string, args ...any) IDeleteBuilder {
	b.where.and(cond, args)
	return b
}

func (b *deleteBuilder) WhereIn(column string, values ...any) IDeleteBuilder {
	b.where.in(b.dialect, "deleteBuilder", column, values)
	return b
}

func (b *deleteBuilder) Limit(n int) IDeleteBuilder {
	b.limit = n
	return b
}

// Build 方言不支持 DELETE ... LIMIT 时忽略 Limit
func (b *deleteBuilder) Build() (string, []any) {
	var sb strings.Builder
	sb.WriteString("DELETE FROM " + quoteIdentifier(b.dialect, "deleteBuilder", "table", b.table))

	args := b.where.write(&sb, make([]any, 0, len(b.where.args)+1))
	if b.limit > 0 && b.dialect.SupportsDeleteLimit() {
		sb.WriteString(" LIMIT ?")
		args = append(args, b.limit)
	}
	return sb.String(), args
}

func (b *deleteBuilder) Exec(ctx context.Context) (sql.Result, error) {
	q, args := b.Build()
	return b.db.Exec(ctx, q, args...)
}
