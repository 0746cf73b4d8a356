package sql

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"

	core "gorevision/data/db"
	"gorevision/data/db/dialect"
)

type upsertBuilder struct {
	db      core.IDatabase
	dialect dialect.Dialect

	table        string
	columns      []string
	values       []any
	keyColumns   []string
	updateValues map[string]any
}

func (b *upsertBuilder) Columns(cols ...string) IUpsertBuilder {
	b.columns = cols
	return b
}

func (b *upsertBuilder) Values(vals ...any) IUpsertBuilder {
	b.values = vals
	return b
}

func (b *upsertBuilder) Key(cols ...string) IUpsertBuilder {
	b.keyColumns = cols
	return b
}

func (b *upsertBuilder) UpdateSet(col string, val any) IUpsertBuilder {
	if b.updateValues == nil {
		b.updateValues = make(map[string]any)
	}
	b.updateValues[col] = val
	return b
}

func (b *upsertBuilder) UpdateSetMap(values map[string]any) IUpsertBuilder {
	if b.updateValues == nil {
		b.updateValues = make(map[string]any)
	}
	for k, v := range values {
		b.updateValues[k] = v
	}
	return b
}

func (b *upsertBuilder) validate() error {
	if len(b.columns) == 0 {
		return fmt.Errorf("upsert: Columns is required")
	}
	if len(b.values) != len(b.columns) {
		return fmt.Errorf("upsert: values length mismatch columns length")
	}
	if len(b.keyColumns) == 0 {
		return fmt.Errorf("upsert: Key is required")
	}
	for _, key := range b.keyColumns {
		if b.columnIndex(key) < 0 {
			return fmt.Errorf("upsert: key column %s not found in Columns", key)
		}
	}
	return nil
}

func (b *upsertBuilder) columnIndex(col string) int {
	for i, c := range b.columns {
		if c == col {
			return i
		}
	}
	return -1
}

func (b *upsertBuilder) isKey(col string) bool {
	for _, key := range b.keyColumns {
		if key == col {
			return true
		}
	}
	return false
}

// updateColumns 返回冲突时需要更新的列（按列名排序）
//
// 未显式指定 UpdateSet 时，默认更新全部非键列为插入值。
func (b *upsertBuilder) updateColumns() []string {
	var cols []string
	if len(b.updateValues) > 0 {
		for col := range b.updateValues {
			cols = append(cols, col)
		}
		sort.Strings(cols)
		return cols
	}
	for _, col := range b.columns {
		if !b.isKey(col) {
			cols = append(cols, col)
		}
	}
	return cols
}

// Build 构建单语句 UPSERT；方言不支持原生语法时 ok 为 false
func (b *upsertBuilder) Build() (string, []any, bool) {
	if err := b.validate(); err != nil {
		panic(err.Error())
	}

	var conflict string
	switch b.dialect.Name() {
	case dialect.NameSQLite, dialect.NamePostgres, dialect.NameMySQL:
	default:
		return "", nil, false
	}

	ins := &insertBuilder{
		dialect: b.dialect,
		table:   b.table,
		columns: b.columns,
		rows:    [][]any{b.values},
	}
	insertSQL, args := ins.Build()

	updateCols := b.updateColumns()
	sets := make([]string, 0, len(updateCols))
	for _, col := range updateCols {
		quoted := quoteIdentifier(b.dialect, "upsertBuilder", "column", col)
		if len(b.updateValues) > 0 {
			sets = append(sets, quoted+" = ?")
			args = append(args, b.updateValues[col])
			continue
		}
		if b.dialect.Name() == dialect.NameMySQL {
			sets = append(sets, quoted+" = VALUES("+quoted+")")
		} else {
			sets = append(sets, quoted+" = excluded."+quoted)
		}
	}

	if b.dialect.Name() == dialect.NameMySQL {
		if len(sets) == 0 {
			// MySQL 没有 DO NOTHING，用键列自赋值代替
			key := b.dialect.QuoteIdentifier(b.keyColumns[0])
			sets = append(sets, key+" = "+key)
		}
		conflict = " ON DUPLICATE KEY UPDATE " + strings.Join(sets, ", ")
	} else {
		keys := quoteIdentifiers(b.dialect, "upsertBuilder", "column", b.keyColumns)
		conflict = " ON CONFLICT (" + strings.Join(keys, ", ") + ")"
		if len(sets) == 0 {
			conflict += " DO NOTHING"
		} else {
			conflict += " DO UPDATE SET " + strings.Join(sets, ", ")
		}
	}

	return insertSQL + conflict, args, true
}

func (b *upsertBuilder) Exec(ctx context.Context) (sql.Result, error) {
	if err := b.validate(); err != nil {
		return nil, err
	}
	if q, args, ok := b.Build(); ok {
		return b.db.Exec(ctx, q, args...)
	}
	return b.execFallback(ctx)
}

// execFallback 先插入，唯一键冲突时按键列更新
func (b *upsertBuilder) execFallback(ctx context.Context) (sql.Result, error) {
	ins := &insertBuilder{
		db:      b.db,
		dialect: b.dialect,
		table:   b.table,
		columns: b.columns,
		rows:    [][]any{b.values},
	}

	res, err := ins.Exec(ctx)
	if err == nil {
		return res, nil
	}
	if !b.dialect.IsUniqueViolation(err) {
		return nil, err
	}

	whereParts := make([]string, 0, len(b.keyColumns))
	whereArgs := make([]any, 0, len(b.keyColumns))
	for _, key := range b.keyColumns {
		whereParts = append(whereParts, b.dialect.QuoteIdentifier(key)+" = ?")
		whereArgs = append(whereArgs, b.values[b.columnIndex(key)])
	}

	updateVals := make(map[string]any)
	if len(b.updateValues) == 0 {
		for i, col := range b.columns {
			if !b.isKey(col) {
				updateVals[col] = b.values[i]
			}
		}
	} else {
		updateVals = b.updateValues
	}
	if len(updateVals) == 0 {
		return noopResult{}, nil
	}

	upd := &updateBuilder{
		db:      b.db,
		dialect: b.dialect,
		table:   b.table,
	}
	upd.SetMap(updateVals)
	upd.Where(strings.Join(whereParts, " AND "), whereArgs...)
	return upd.Exec(ctx)
}

// noopResult 冲突且无需更新时返回的空结果
type noopResult struct{}

func (noopResult) LastInsertId() (int64, error) { return 0, nil }
func (noopResult) RowsAffected() (int64, error) { return 0, nil }
