package basic

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"gorevision/data/db/dialect"
	"gorevision/data/orm"
	"gorevision/validation"
)

// migrator 实现 orm.IMigrator，DDL 按方言生成。
type migrator struct {
	orm *Orm
}

// HasTable 判断表是否存在。
func (mg *migrator) HasTable(ctx context.Context, table string) (bool, error) {
	q, args := mg.orm.Dialect().HasTableQuery(table)
	var count int64
	if err := mg.orm.db.QueryRow(ctx, q, args...).Scan(&count); err != nil {
		return false, err
	}
	return count > 0, nil
}

// DescribeTable 返回表的全部列；表不存在时返回空映射。
func (mg *migrator) DescribeTable(ctx context.Context, table string) (map[string]orm.ColumnInfo, error) {
	q, args := mg.orm.Dialect().DescribeColumnsQuery(table)
	rows, err := mg.orm.db.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	columns := make(map[string]orm.ColumnInfo)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		columns[name] = orm.ColumnInfo{Name: name}
	}
	return columns, rows.Err()
}

// AddColumn 追加列。新增列总是允许 NULL，除非声明了默认值。
func (mg *migrator) AddColumn(ctx context.Context, table string, field orm.FieldMeta) error {
	if err := validation.ValidateIdentifier(table, "表名"); err != nil {
		return err
	}
	if err := validation.ValidateIdentifier(field.ColumnName(), "列名"); err != nil {
		return err
	}
	d := mg.orm.Dialect()
	stmt := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s",
		d.QuoteIdentifier(table), d.QuoteIdentifier(field.ColumnName()), d.ColumnType(string(field.Type), false))
	if field.DefaultValue != "" {
		stmt += " DEFAULT " + field.DefaultValue
		if !field.Nullable {
			stmt += " NOT NULL"
		}
	}
	_, err := mg.orm.db.Exec(ctx, stmt)
	return err
}

// CreateTable 建表（IF NOT EXISTS）并创建声明的索引。
func (mg *migrator) CreateTable(ctx context.Context, meta *orm.ModelMeta) error {
	stmt, err := CreateTableSQL(mg.orm.Dialect(), meta)
	if err != nil {
		return err
	}
	if _, err := mg.orm.db.Exec(ctx, stmt); err != nil {
		return fmt.Errorf("create table %s: %w", meta.TableName(), err)
	}
	for _, idx := range CreateIndexSQL(mg.orm.Dialect(), meta) {
		if _, err := mg.orm.db.Exec(ctx, idx); err != nil {
			return fmt.Errorf("create index on %s: %w", meta.TableName(), err)
		}
	}
	return nil
}

// CreateTableSQL 按方言生成建表语句（IF NOT EXISTS）。
func CreateTableSQL(d dialect.Dialect, meta *orm.ModelMeta) (string, error) {
	if err := validation.ValidateIdentifier(meta.TableName(), "表名"); err != nil {
		return "", err
	}
	keys := meta.PrimaryKeys()

	defs := make([]string, 0, len(meta.Fields)+1)
	for _, f := range meta.Fields {
		col := d.QuoteIdentifier(f.ColumnName())
		if f.PrimaryKey && f.AutoIncrement && len(keys) == 1 {
			defs = append(defs, col+" "+d.AutoIncrementPrimaryKey(string(f.Type)))
			continue
		}
		def := col + " " + d.ColumnType(string(f.Type), false)
		if f.PrimaryKey && len(keys) == 1 {
			def += " PRIMARY KEY"
		} else if !f.Nullable || f.PrimaryKey {
			def += " NOT NULL"
		}
		if f.Unique && !f.PrimaryKey {
			def += " UNIQUE"
		}
		if f.DefaultValue != "" {
			def += " DEFAULT " + f.DefaultValue
		}
		defs = append(defs, def)
	}
	if len(keys) > 1 {
		cols := make([]string, len(keys))
		for i, k := range keys {
			cols[i] = d.QuoteIdentifier(k.ColumnName())
		}
		defs = append(defs, "PRIMARY KEY ("+strings.Join(cols, ", ")+")")
	}

	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)",
		d.QuoteIdentifier(meta.TableName()), strings.Join(defs, ", ")), nil
}

// CreateIndexSQL 按索引名聚合字段生成建索引语句，索引名排序保证输出稳定。
func CreateIndexSQL(d dialect.Dialect, meta *orm.ModelMeta) []string {
	grouped := make(map[string][]string)
	for _, f := range meta.Fields {
		for _, idx := range f.Indexes {
			grouped[idx] = append(grouped[idx], d.QuoteIdentifier(f.ColumnName()))
		}
	}
	names := make([]string, 0, len(grouped))
	for name := range grouped {
		names = append(names, name)
	}
	sort.Strings(names)

	stmts := make([]string, 0, len(names))
	for _, name := range names {
		stmts = append(stmts, fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (%s)",
			d.QuoteIdentifier(name), d.QuoteIdentifier(meta.TableName()), strings.Join(grouped[name], ", ")))
	}
	return stmts
}

// DropTableSQL 按方言生成删表语句（IF EXISTS）。
func DropTableSQL(d dialect.Dialect, meta *orm.ModelMeta) string {
	return fmt.Sprintf("DROP TABLE IF EXISTS %s", d.QuoteIdentifier(meta.TableName()))
}
