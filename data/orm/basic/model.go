package basic

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	dbcore "gorevision/data/db"
	"gorevision/data/orm"
)

// model 实现 orm.IModel
type model struct {
	orm     *Orm
	meta    *orm.ModelMeta
	session orm.IOrmSession
}

func (m *model) Meta() *orm.ModelMeta           { return m.meta }
func (m *model) Capabilities() orm.Capabilities { return m.orm.caps }
func (m *model) Session() orm.IOrmSession       { return m.session }

// Build 构建新记录。
func (m *model) Build(values map[string]any) *orm.Record {
	return orm.NewRecord(m.meta, values)
}

// WithSession 返回绑定到会话的模型句柄。
func (m *model) WithSession(s orm.IOrmSession) orm.IModel {
	if s == nil {
		return m
	}
	return &model{orm: m.orm.bind(s), meta: m.meta, session: s}
}

// target 写操作优先使用调用方传入的会话。
func (m *model) target(w orm.WriteOptions) *Orm {
	if w.Session != nil {
		return m.orm.bind(w.Session)
	}
	return m.orm
}

func (m *model) table() string {
	return m.orm.quote(m.meta.TableName())
}

// ------------------------------------------------------------------------
// 查询
// ------------------------------------------------------------------------

// First 查询单条记录，不存在时返回 orm.ErrNotFound。
func (m *model) First(ctx context.Context, opts ...orm.QueryOption) (*orm.Record, error) {
	records, err := m.find(ctx, append(opts, orm.WithLimit(1)))
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, orm.ErrNotFound
	}
	return records[0], nil
}

// Find 查询多条记录。
func (m *model) Find(ctx context.Context, opts ...orm.QueryOption) ([]*orm.Record, error) {
	return m.find(ctx, opts)
}

func (m *model) find(ctx context.Context, opts []orm.QueryOption) ([]*orm.Record, error) {
	qo := orm.CollectQueryOptions(opts...)

	fields := m.meta.Fields
	if len(qo.Select) > 0 {
		fields = make([]orm.FieldMeta, 0, len(qo.Select))
		for _, name := range qo.Select {
			f, ok := m.meta.Field(name)
			if !ok {
				return nil, fmt.Errorf("basic.Model.Find: unknown attribute %s on %s", name, m.meta.Name)
			}
			fields = append(fields, f)
		}
	}
	columns := make([]string, len(fields))
	for i, f := range fields {
		columns[i] = m.orm.quote(f.ColumnName())
	}

	builder := m.orm.sql.Select(columns...).From(buildTableExpr(m.table(), qo.Joins))
	where, args, err := m.whereClause(qo)
	if err != nil {
		return nil, err
	}
	for i, w := range where {
		builder = builder.Where(w, args[i]...)
	}
	if len(qo.GroupBy) > 0 {
		builder = builder.GroupBy(qo.GroupBy...)
	}
	if order, err := m.orderClause(qo); err != nil {
		return nil, err
	} else if order != "" {
		builder = builder.OrderBy(order)
	}
	if qo.Limit > 0 {
		builder = builder.Limit(qo.Limit)
	}
	if qo.Offset > 0 {
		builder = builder.Offset(qo.Offset)
	}
	if qo.ForUpdate {
		builder = builder.ForUpdate()
	}

	rows, err := builder.Query(ctx)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*orm.Record
	for rows.Next() {
		doc, err := scanDocument(rows, fields)
		if err != nil {
			return nil, err
		}
		records = append(records, orm.LoadRecord(m.meta, doc))
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return records, nil
}

// Count 统计数量（忽略 Select/GroupBy，只做简单 COUNT(*)）。
func (m *model) Count(ctx context.Context, opts ...orm.QueryOption) (int64, error) {
	qo := orm.CollectQueryOptions(opts...)

	builder := m.orm.sql.Select("COUNT(*)").From(buildTableExpr(m.table(), qo.Joins))
	where, args, err := m.whereClause(qo)
	if err != nil {
		return 0, err
	}
	for i, w := range where {
		builder = builder.Where(w, args[i]...)
	}

	var count int64
	if err := builder.QueryRow(ctx).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

// whereClause 合并原始条件与按属性的等值条件。
func (m *model) whereClause(qo orm.QueryOptions) ([]string, [][]any, error) {
	exprs := make([]string, 0, len(qo.Where)+len(qo.Equals))
	args := make([][]any, 0, len(qo.Where)+len(qo.Equals))
	for _, w := range qo.Where {
		exprs = append(exprs, w.Expr)
		args = append(args, w.Args)
	}
	for _, eq := range qo.Equals {
		f, ok := m.meta.Field(eq.Attribute)
		if !ok {
			return nil, nil, fmt.Errorf("basic.Model: unknown attribute %s on %s", eq.Attribute, m.meta.Name)
		}
		col := m.orm.quote(f.ColumnName())
		if eq.Value == nil {
			exprs = append(exprs, col+" IS NULL")
			args = append(args, nil)
			continue
		}
		v, err := encodeValue(f, eq.Value)
		if err != nil {
			return nil, nil, err
		}
		exprs = append(exprs, col+" = ?")
		args = append(args, []any{v})
	}
	return exprs, args, nil
}

func (m *model) orderClause(qo orm.QueryOptions) (string, error) {
	parts := make([]string, 0, len(qo.Order)+len(qo.OrderBy))
	for _, o := range qo.Order {
		f, ok := m.meta.Field(o.Column)
		if !ok {
			return "", fmt.Errorf("basic.Model: unknown order attribute %s on %s", o.Column, m.meta.Name)
		}
		parts = append(parts, orderTerm(m.orm.quote(f.ColumnName()), o.Desc))
	}
	if raw := buildOrderByExpr(qo.OrderBy); raw != "" {
		parts = append(parts, raw)
	}
	return strings.Join(parts, ", "), nil
}

// ------------------------------------------------------------------------
// 写入
// ------------------------------------------------------------------------

// Create 插入记录；自增主键由数据库生成并回写到记录。
func (m *model) Create(ctx context.Context, rec *orm.Record, opts ...orm.WriteOption) error {
	w := orm.CollectWriteOptions(opts...)
	o := m.target(w)
	rec.SetValues(w.Values)
	m.applyDefaults(rec, time.Now().UTC(), true)

	cols, vals, err := m.insertColumns(rec)
	if err != nil {
		return err
	}
	if len(cols) == 0 {
		return fmt.Errorf("basic.Model.Create: no insertable columns for %s", m.meta.Name)
	}

	builder := o.sql.InsertInto(m.meta.TableName()).Columns(cols...).Values(vals...)
	auto, ok := m.pendingAutoIncrement(rec)
	if !ok {
		if _, err := builder.Exec(ctx); err != nil {
			return err
		}
		rec.MarkPersisted()
		return nil
	}

	var id int64
	if o.sql.Dialect().SupportsReturning() {
		if err := builder.Returning(auto.ColumnName()).QueryRow(ctx).Scan(&id); err != nil {
			return err
		}
	} else {
		res, err := builder.Exec(ctx)
		if err != nil {
			return err
		}
		if id, err = res.LastInsertId(); err != nil {
			return err
		}
	}
	rec.Set(auto.Name, id)
	rec.MarkPersisted()
	return nil
}

// Update 按主键更新变化的属性；指定 Fields 时只写入其中发生变化的属性。
func (m *model) Update(ctx context.Context, rec *orm.Record, opts ...orm.WriteOption) error {
	w := orm.CollectWriteOptions(opts...)
	o := m.target(w)
	rec.SetValues(w.Values)

	candidates := w.PayloadFields(m.meta)
	if len(candidates) == 0 {
		candidates = rec.Changed()
	}
	var fields []string
	for _, name := range candidates {
		if m.meta.HasField(name) && rec.IsChanged(name) {
			fields = append(fields, name)
		}
	}
	if len(fields) == 0 {
		return nil
	}
	if m.meta.UpdatedAt != "" && !containsString(fields, m.meta.UpdatedAt) {
		rec.Set(m.meta.UpdatedAt, time.Now().UTC())
		fields = append(fields, m.meta.UpdatedAt)
	}

	builder := o.sql.Update(m.meta.TableName())
	for _, name := range fields {
		f, _ := m.meta.Field(name)
		v, err := encodeValue(f, rec.Get(name))
		if err != nil {
			return err
		}
		builder = builder.Set(f.ColumnName(), v)
	}
	where, args, err := m.keyCondition(rec)
	if err != nil {
		return err
	}
	if _, err := builder.Where(where, args...).Exec(ctx); err != nil {
		return err
	}
	rec.MarkPersisted(fields...)
	return nil
}

// Upsert 按主键插入或更新；主键缺失时退化为 Create。
func (m *model) Upsert(ctx context.Context, rec *orm.Record, opts ...orm.WriteOption) error {
	w := orm.CollectWriteOptions(opts...)
	o := m.target(w)
	rec.SetValues(w.Values)

	keys := m.meta.PrimaryKeys()
	if len(keys) == 0 {
		return fmt.Errorf("basic.Model.Upsert: model %s has no primary key", m.meta.Name)
	}
	for _, k := range keys {
		if v, ok := rec.Lookup(k.Name); !ok || v == nil {
			return m.Create(ctx, rec, opts...)
		}
	}

	m.applyDefaults(rec, time.Now().UTC(), true)
	cols, vals, err := m.insertColumns(rec)
	if err != nil {
		return err
	}

	keyCols := make([]string, len(keys))
	for i, k := range keys {
		keyCols[i] = k.ColumnName()
	}
	updates := make(map[string]any)
	for i, col := range cols {
		if containsString(keyCols, col) {
			continue
		}
		if f, ok := m.meta.FieldByColumn(col); ok && f.Name == m.meta.CreatedAt {
			continue
		}
		updates[col] = vals[i]
	}

	builder := o.sql.UpsertInto(m.meta.TableName()).Columns(cols...).Values(vals...).Key(keyCols...)
	if len(updates) > 0 {
		builder = builder.UpdateSetMap(updates)
	}
	if _, err := builder.Exec(ctx); err != nil {
		return err
	}
	rec.MarkPersisted()
	return nil
}

// Destroy 按主键删除记录。
func (m *model) Destroy(ctx context.Context, rec *orm.Record, opts ...orm.WriteOption) error {
	w := orm.CollectWriteOptions(opts...)
	o := m.target(w)

	where, args, err := m.keyCondition(rec)
	if err != nil {
		return err
	}
	_, err = o.sql.DeleteFrom(m.meta.TableName()).Where(where, args...).Exec(ctx)
	return err
}

// applyDefaults 填充时间戳与字段默认值。
func (m *model) applyDefaults(rec *orm.Record, now time.Time, creating bool) {
	if creating && m.meta.CreatedAt != "" {
		if v, ok := rec.Lookup(m.meta.CreatedAt); !ok || v == nil {
			rec.Set(m.meta.CreatedAt, now)
		}
	}
	if m.meta.UpdatedAt != "" {
		if v, ok := rec.Lookup(m.meta.UpdatedAt); !ok || v == nil {
			rec.Set(m.meta.UpdatedAt, now)
		}
	}
	for _, f := range m.meta.Fields {
		if f.Default == nil {
			continue
		}
		if v, ok := rec.Lookup(f.Name); !ok || v == nil {
			rec.Set(f.Name, f.Default())
		}
	}
}

// insertColumns 按声明顺序返回已设置属性的列与编码后的值。
func (m *model) insertColumns(rec *orm.Record) ([]string, []any, error) {
	var (
		cols []string
		vals []any
	)
	for _, f := range m.meta.Fields {
		v, ok := rec.Lookup(f.Name)
		if !ok || (f.AutoIncrement && v == nil) {
			continue
		}
		enc, err := encodeValue(f, v)
		if err != nil {
			return nil, nil, err
		}
		cols = append(cols, f.ColumnName())
		vals = append(vals, enc)
	}
	return cols, vals, nil
}

func (m *model) pendingAutoIncrement(rec *orm.Record) (orm.FieldMeta, bool) {
	for _, f := range m.meta.PrimaryKeys() {
		if !f.AutoIncrement {
			continue
		}
		if v, ok := rec.Lookup(f.Name); !ok || v == nil {
			return f, true
		}
	}
	return orm.FieldMeta{}, false
}

// keyCondition 以持久化快照中的主键值定位记录，快照缺失时使用当前值。
func (m *model) keyCondition(rec *orm.Record) (string, []any, error) {
	keys := m.meta.PrimaryKeys()
	if len(keys) == 0 {
		return "", nil, fmt.Errorf("basic.Model: model %s has no primary key", m.meta.Name)
	}
	parts := make([]string, 0, len(keys))
	args := make([]any, 0, len(keys))
	for _, k := range keys {
		v, ok := rec.Previous(k.Name)
		if !ok || v == nil {
			v = rec.Get(k.Name)
		}
		if v == nil {
			return "", nil, fmt.Errorf("basic.Model: primary key %s of %s is not set", k.Name, m.meta.Name)
		}
		enc, err := encodeValue(k, v)
		if err != nil {
			return "", nil, err
		}
		parts = append(parts, m.orm.quote(k.ColumnName())+" = ?")
		args = append(args, enc)
	}
	return strings.Join(parts, " AND "), args, nil
}

// ------------------------------------------------------------------------
// 关联
// ------------------------------------------------------------------------

// Related 读取关联记录。
func (m *model) Related(ctx context.Context, rec *orm.Record, name string, opts ...orm.QueryOption) ([]*orm.Record, error) {
	a, ok := m.meta.Association(name)
	if !ok {
		return nil, fmt.Errorf("basic.Model.Related: %s has no association %s", m.meta.Name, name)
	}
	target, ok := m.orm.Lookup(a.Target)
	if !ok {
		return nil, fmt.Errorf("%w: %s", orm.ErrUnknownModel, a.Target)
	}
	if m.session != nil {
		target = target.WithSession(m.session)
	}

	query := make([]orm.QueryOption, 0, len(opts)+len(a.Scope)+1)
	switch a.Kind {
	case orm.AssociationHasMany, orm.AssociationHasOne:
		ref := a.ReferenceKey
		if ref == "" {
			ref = firstKey(m.meta)
		}
		query = append(query, orm.WithEquals(a.ForeignKey, rec.Get(ref)))
		if a.Kind == orm.AssociationHasOne {
			query = append(query, orm.WithLimit(1))
		}
	case orm.AssociationBelongsTo:
		v := rec.Get(a.ForeignKey)
		if v == nil {
			return nil, nil
		}
		ref := a.ReferenceKey
		if ref == "" {
			ref = firstKey(target.Meta())
		}
		query = append(query, orm.WithEquals(ref, v))
	default:
		return nil, orm.ErrUnsupported
	}

	scopeKeys := make([]string, 0, len(a.Scope))
	for k := range a.Scope {
		scopeKeys = append(scopeKeys, k)
	}
	sort.Strings(scopeKeys)
	for _, k := range scopeKeys {
		query = append(query, orm.WithEquals(k, a.Scope[k]))
	}

	return target.Find(ctx, append(query, opts...)...)
}

func firstKey(meta *orm.ModelMeta) string {
	if keys := meta.PrimaryKeys(); len(keys) > 0 {
		return keys[0].Name
	}
	return "id"
}

// ------------------------------------------------------------------------
// 工具
// ------------------------------------------------------------------------

// scanDocument 将当前行按字段顺序解码为文档。
func scanDocument(rows dbcore.IRows, fields []orm.FieldMeta) (*orm.Document, error) {
	raw := make([]any, len(fields))
	dest := make([]any, len(fields))
	for i := range raw {
		dest[i] = &raw[i]
	}
	if err := rows.Scan(dest...); err != nil {
		return nil, err
	}
	doc := orm.NewDocument()
	for i, f := range fields {
		v, err := decodeValue(f, raw[i])
		if err != nil {
			return nil, fmt.Errorf("basic: decode %s: %w", f.Name, err)
		}
		doc.Set(f.Name, v)
	}
	return doc, nil
}

func buildTableExpr(base string, joins []orm.Join) string {
	if len(joins) == 0 {
		return base
	}
	var sb strings.Builder
	sb.WriteString(base)
	for _, j := range joins {
		sb.WriteRune(' ')
		sb.WriteString(j.Expr)
	}
	return sb.String()
}

func buildOrderByExpr(orders []orm.OrderBy) string {
	if len(orders) == 0 {
		return ""
	}
	parts := make([]string, 0, len(orders))
	for _, o := range orders {
		if o.Column == "" {
			continue
		}
		parts = append(parts, orderTerm(o.Column, o.Desc))
	}
	return strings.Join(parts, ", ")
}

func orderTerm(col string, desc bool) string {
	if desc {
		return col + " DESC"
	}
	return col + " ASC"
}

func containsString(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}
