package orm

import (
	"strings"
	"unicode"
)

// AssociationKind 表示关联类型。
type AssociationKind string

const (
	AssociationBelongsTo  AssociationKind = "belongs_to"
	AssociationHasOne     AssociationKind = "has_one"
	AssociationHasMany    AssociationKind = "has_many"
	AssociationManyToMany AssociationKind = "many_to_many"
)

// AssociationMeta 描述模型关联元信息。
//
// Target 为目标模型的逻辑名；HasMany/HasOne 的 ForeignKey 位于目标模型，
// BelongsTo 的 ForeignKey 位于本模型。ReferenceKey 为空时使用被引用方主键。
// Scope 为目标模型上额外的等值过滤条件（属性名 → 值）。
type AssociationMeta struct {
	Name         string
	Kind         AssociationKind
	Target       string
	ForeignKey   string
	ReferenceKey string
	Scope        map[string]any
	// Constraints 为 false 时不创建数据库外键约束
	Constraints bool
	Tags        map[string]string
}

// FieldType 逻辑字段类型，由方言映射为具体列类型。
type FieldType string

const (
	FieldInteger FieldType = "integer"
	FieldBigInt  FieldType = "bigint"
	FieldString  FieldType = "string"
	FieldText    FieldType = "text"
	FieldJSON    FieldType = "json"
	FieldUUID    FieldType = "uuid"
	FieldBoolean FieldType = "boolean"
	FieldFloat   FieldType = "float"
	FieldTime    FieldType = "time"
)

// FieldMeta 描述字段元信息。
type FieldMeta struct {
	// Name 属性名（记录上的键）
	Name string
	// Column 列名，为空时与 Name 相同
	Column        string
	Type          FieldType
	PrimaryKey    bool
	AutoIncrement bool
	Nullable      bool
	Unique        bool
	Indexes       []string
	DefaultValue  string
	// Default 创建记录时属性缺省的取值函数（例如 UUID 主键）
	Default func() any
	Tags    map[string]string
}

// ColumnName 返回列名。
func (f FieldMeta) ColumnName() string {
	if f.Column != "" {
		return f.Column
	}
	return f.Name
}

// ModelMeta 描述模型级别元信息。
//
// CreatedAt/UpdatedAt 为引擎自动维护的时间戳属性名，为空表示不维护。
// 元信息在注册阶段构建完毕，运行期只读。
type ModelMeta struct {
	Name         string
	Table        string
	Fields       []FieldMeta
	Associations []AssociationMeta
	CreatedAt    string
	UpdatedAt    string
	Tags         map[string]string
}

// Tag 返回模型级别的标签内容。
func (m *ModelMeta) Tag(key string) string {
	if m == nil || m.Tags == nil {
		return ""
	}
	return m.Tags[key]
}

// TableName 返回表名，未设置时使用模型名。
func (m *ModelMeta) TableName() string {
	if m.Table != "" {
		return m.Table
	}
	return m.Name
}

// Field 按属性名查找字段。
func (m *ModelMeta) Field(name string) (FieldMeta, bool) {
	for _, f := range m.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return FieldMeta{}, false
}

// HasField 判断属性是否已声明。
func (m *ModelMeta) HasField(name string) bool {
	_, ok := m.Field(name)
	return ok
}

// FieldByColumn 按列名查找字段。
func (m *ModelMeta) FieldByColumn(column string) (FieldMeta, bool) {
	for _, f := range m.Fields {
		if f.ColumnName() == column {
			return f, true
		}
	}
	return FieldMeta{}, false
}

// AttributeNames 按声明顺序返回全部属性名。
func (m *ModelMeta) AttributeNames() []string {
	names := make([]string, len(m.Fields))
	for i, f := range m.Fields {
		names[i] = f.Name
	}
	return names
}

// PrimaryKeys 按声明顺序返回主键字段。
func (m *ModelMeta) PrimaryKeys() []FieldMeta {
	var keys []FieldMeta
	for _, f := range m.Fields {
		if f.PrimaryKey {
			keys = append(keys, f)
		}
	}
	return keys
}

// AddField 追加字段，同名字段已存在时不做修改，返回是否新增。
func (m *ModelMeta) AddField(f FieldMeta) bool {
	if m.HasField(f.Name) {
		return false
	}
	m.Fields = append(m.Fields, f)
	return true
}

// Association 按名称查找关联。
func (m *ModelMeta) Association(name string) (AssociationMeta, bool) {
	for _, a := range m.Associations {
		if a.Name == name {
			return a, true
		}
	}
	return AssociationMeta{}, false
}

// AddAssociation 追加关联，同名关联已存在时替换。
func (m *ModelMeta) AddAssociation(a AssociationMeta) {
	for i, existing := range m.Associations {
		if existing.Name == a.Name {
			m.Associations[i] = a
			return
		}
	}
	m.Associations = append(m.Associations, a)
}

// Clone 深拷贝字段与关联切片。
func (m *ModelMeta) Clone() *ModelMeta {
	c := *m
	c.Fields = append([]FieldMeta(nil), m.Fields...)
	c.Associations = append([]AssociationMeta(nil), m.Associations...)
	if m.Tags != nil {
		c.Tags = make(map[string]string, len(m.Tags))
		for k, v := range m.Tags {
			c.Tags[k] = v
		}
	}
	return &c
}

// ToSnakeCase 将驼峰名称转换为下划线形式（documentId → document_id）。
func ToSnakeCase(s string) string {
	var sb strings.Builder
	runes := []rune(s)
	for i, r := range runes {
		if unicode.IsUpper(r) {
			if i > 0 && (unicode.IsLower(runes[i-1]) || unicode.IsDigit(runes[i-1]) ||
				(i+1 < len(runes) && unicode.IsLower(runes[i+1]))) {
				sb.WriteByte('_')
			}
			sb.WriteRune(unicode.ToLower(r))
			continue
		}
		sb.WriteRune(r)
	}
	return sb.String()
}
