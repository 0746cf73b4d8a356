package orm

import (
	"reflect"
	"sort"
)

// Record 动态属性记录。
//
// values 为当前值，previous 为最近一次加载或持久化后的快照；新建记录的 previous 为空。
// 属性未设置（键不存在）与值为 nil 是两种不同状态。
type Record struct {
	meta      *ModelMeta
	values    *Document
	previous  *Document
	isNew     bool
	transient map[string]any
}

// NewRecord 按模型声明顺序构建新记录，未声明的属性按键名排序追加在后。
func NewRecord(meta *ModelMeta, values map[string]any) *Record {
	r := &Record{
		meta:     meta,
		values:   NewDocument(),
		previous: NewDocument(),
		isNew:    true,
	}
	r.SetValues(values)
	return r
}

// LoadRecord 构建已持久化的记录（用于从数据库读取的结果）。
func LoadRecord(meta *ModelMeta, values *Document) *Record {
	r := &Record{meta: meta, values: values.Clone()}
	r.MarkPersisted()
	return r
}

// Meta 返回记录所属模型的元信息。
func (r *Record) Meta() *ModelMeta { return r.meta }

// Get 读取属性值，未设置时返回 nil。
func (r *Record) Get(name string) any {
	v, _ := r.values.Get(name)
	return v
}

// Lookup 读取属性值并返回是否已设置。
func (r *Record) Lookup(name string) (any, bool) {
	return r.values.Get(name)
}

// Set 设置属性值。
func (r *Record) Set(name string, value any) *Record {
	r.values.Set(name, value)
	return r
}

// SetValues 批量设置属性：已声明属性按声明顺序，其余按键名排序。
func (r *Record) SetValues(values map[string]any) *Record {
	if len(values) == 0 {
		return r
	}
	seen := make(map[string]bool, len(values))
	if r.meta != nil {
		for _, name := range r.meta.AttributeNames() {
			if v, ok := values[name]; ok {
				r.values.Set(name, v)
				seen[name] = true
			}
		}
	}
	rest := make([]string, 0, len(values))
	for k := range values {
		if !seen[k] {
			rest = append(rest, k)
		}
	}
	sort.Strings(rest)
	for _, k := range rest {
		r.values.Set(k, values[k])
	}
	return r
}

// Unset 删除属性（恢复为未设置状态）。
func (r *Record) Unset(name string) *Record {
	r.values.Delete(name)
	return r
}

// Previous 读取上一次持久化时的属性值。
func (r *Record) Previous(name string) (any, bool) {
	return r.previous.Get(name)
}

// Changed 按当前属性顺序返回与上次持久化快照不同的属性名。
func (r *Record) Changed() []string {
	var changed []string
	for _, k := range r.values.Keys() {
		cur, _ := r.values.Get(k)
		prev, ok := r.previous.Get(k)
		if !ok || !reflect.DeepEqual(cur, prev) {
			changed = append(changed, k)
		}
	}
	return changed
}

// IsChanged 判断指定属性是否变化。
func (r *Record) IsChanged(name string) bool {
	cur, ok := r.values.Get(name)
	if !ok {
		return false
	}
	prev, had := r.previous.Get(name)
	return !had || !reflect.DeepEqual(cur, prev)
}

// IsNewRecord 判断记录是否尚未持久化。
func (r *Record) IsNewRecord() bool { return r.isNew }

// Document 返回当前属性的副本。
func (r *Record) Document() *Document { return r.values.Clone() }

// PreviousDocument 返回上次持久化快照的副本。
func (r *Record) PreviousDocument() *Document { return r.previous.Clone() }

// PrimaryKey 按主键声明顺序返回主键属性及其值。
func (r *Record) PrimaryKey() *Document {
	pk := NewDocument()
	if r.meta == nil {
		return pk
	}
	for _, f := range r.meta.PrimaryKeys() {
		pk.Set(f.Name, r.Get(f.Name))
	}
	return pk
}

// Context 返回单次调用期间使用的临时槽位，不参与持久化。
func (r *Record) Context() map[string]any {
	if r.transient == nil {
		r.transient = make(map[string]any)
	}
	return r.transient
}

// MarkPersisted 将当前值记为已持久化快照；指定 fields 时只刷新这些属性。
func (r *Record) MarkPersisted(fields ...string) {
	defer func() { r.isNew = false }()
	if len(fields) == 0 || r.previous == nil {
		r.previous = r.values.Clone()
		return
	}
	for _, name := range fields {
		if v, ok := r.values.Get(name); ok {
			r.previous.Set(name, v)
		}
	}
}

// RestorePersisted 恢复持久化快照与新建标记，当前值不变；用于写入所在事务回滚后重试。
func (r *Record) RestorePersisted(previous *Document, isNew bool) {
	if previous == nil {
		previous = NewDocument()
	}
	r.previous = previous.Clone()
	r.isNew = isNew
}
