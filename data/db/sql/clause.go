package sql

import (
	"regexp"
	"strings"

	"gorevision/data/db/dialect"
)

// identifierPattern 单段或以点限定的 ASCII 标识符，例如 revisions、public.revisions
var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)*$`)

// IsSafeIdentifier 判断 name 能否直接作为表名或列名拼入 SQL
func IsSafeIdentifier(name string) bool {
	return identifierPattern.MatchString(name)
}

// quoteIdentifier 校验并按方言引用标识符；非法名称属于调用方编程错误，直接 panic
func quoteIdentifier(d dialect.Dialect, builder, kind, name string) string {
	if !IsSafeIdentifier(name) {
		panic(builder + ": unsafe " + kind + " name " + name)
	}
	return d.QuoteIdentifier(name)
}

func quoteIdentifiers(d dialect.Dialect, builder, kind string, names []string) []string {
	quoted := make([]string, len(names))
	for i, name := range names {
		quoted[i] = quoteIdentifier(d, builder, kind, name)
	}
	return quoted
}

// placeholders 返回 n 个以逗号分隔的 ?
func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.Repeat("?, ", n-1) + "?"
}

// conditions WHERE 子句，条件之间以 AND 连接
type conditions struct {
	exprs []string
	args  []any
}

func (c *conditions) and(expr string, args []any) {
	if expr == "" {
		return
	}
	c.exprs = append(c.exprs, expr)
	c.args = append(c.args, args...)
}

// or 与上一个条件组成 (a OR b)
func (c *conditions) or(expr string, args []any) {
	if expr == "" {
		return
	}
	if len(c.exprs) == 0 {
		c.and(expr, args)
		return
	}
	last := len(c.exprs) - 1
	c.exprs[last] = "(" + c.exprs[last] + " OR " + expr + ")"
	c.args = append(c.args, args...)
}

// in 追加 column IN (...)；values 为空时条件恒假
func (c *conditions) in(d dialect.Dialect, builder, column string, values []any) {
	col := quoteIdentifier(d, builder, "column", column)
	if len(values) == 0 {
		c.and("1 = 0", nil)
		return
	}
	c.and(col+" IN ("+placeholders(len(values))+")", values)
}

// write 输出 WHERE 子句并把参数追加到 args
func (c *conditions) write(sb *strings.Builder, args []any) []any {
	if len(c.exprs) == 0 {
		return args
	}
	sb.WriteString(" WHERE ")
	sb.WriteString(strings.Join(c.exprs, " AND "))
	return append(args, c.args...)
}
