package revision

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid"

	"gorevision/data/orm"
	"gorevision/logging"
	"gorevision/revision/chardiff"
	"gorevision/revision/delta"
)

// Operation 触发修订的写操作类型
type Operation string

const (
	OperationCreate  Operation = "create"
	OperationUpdate  Operation = "update"
	OperationUpsert  Operation = "upsert"
	OperationDestroy Operation = "destroy"
)

// Revision 一次有效写入产生的修订记录
//
// Document/DocumentIDs 在结构化存储模式下为 *orm.Document，文本模式下为 JSON 字符串。
type Revision struct {
	ID          any
	Model       string
	DocumentID  any
	DocumentIDs any
	Document    any
	Operation   Operation
	Revision    int64
	UserID      any
	MetaData    map[string]any
	CreatedAt   time.Time
	UpdatedAt   time.Time
	Changes     []*RevisionChange
}

// RevisionChange 单个顶层属性的变更记录
//
// 刚写入时 Document 为 delta.Change、Diff 为 []chardiff.Segment；从数据库读取时为解码后的通用值或 JSON 文本。
type RevisionChange struct {
	ID         any
	Path       string
	Document   any
	Diff       any
	RevisionID any
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Change 将 Document 解析为差异记录
func (c *RevisionChange) Change() (delta.Change, error) {
	var out delta.Change
	if c == nil {
		return out, fmt.Errorf("revision: change is nil")
	}
	if ch, ok := c.Document.(delta.Change); ok {
		return ch, nil
	}
	raw, err := rawJSON(c.Document)
	if err != nil {
		return out, err
	}
	err = json.Unmarshal(raw, &out)
	return out, err
}

// Segments 将 Diff 解析为字符差异片段
func (c *RevisionChange) Segments() ([]chardiff.Segment, error) {
	if c == nil {
		return nil, fmt.Errorf("revision: change is nil")
	}
	if segs, ok := c.Diff.([]chardiff.Segment); ok {
		return segs, nil
	}
	raw, err := rawJSON(c.Diff)
	if err != nil {
		return nil, err
	}
	out := make([]chardiff.Segment, 0)
	err = json.Unmarshal(raw, &out)
	return out, err
}

func rawJSON(v any) ([]byte, error) {
	switch val := v.(type) {
	case nil:
		return []byte("null"), nil
	case string:
		return []byte(val), nil
	case []byte:
		return val, nil
	default:
		return json.Marshal(val)
	}
}

// attributeNames 修订模型上的属性名（随 UnderscoredAttributes 变化）
type attributeNames struct {
	ID          string
	Model       string
	Document    string
	Operation   string
	DocumentID  string
	DocumentIDs string
	Revision    string
	UserID      string
	CreatedAt   string
	UpdatedAt   string
	Path        string
	Diff        string
	RevisionID  string
}

func resolveNames(o Options) attributeNames {
	n := attributeNames{
		ID:          "id",
		Model:       "model",
		Document:    "document",
		Operation:   "operation",
		DocumentID:  "documentId",
		DocumentIDs: "documentIds",
		Revision:    o.RevisionAttribute,
		UserID:      o.UserIDAttribute,
		CreatedAt:   "createdAt",
		UpdatedAt:   "updatedAt",
		Path:        "path",
		Diff:        "diff",
		RevisionID:  o.RevisionIDAttribute,
	}
	if o.UnderscoredAttributes {
		n.DocumentID = orm.ToSnakeCase(n.DocumentID)
		n.DocumentIDs = orm.ToSnakeCase(n.DocumentIDs)
		n.CreatedAt = orm.ToSnakeCase(n.CreatedAt)
		n.UpdatedAt = orm.ToSnakeCase(n.UpdatedAt)
	}
	return n
}

// column 按命名规则返回属性对应的列名
func (t *Tracker) column(attr string) string {
	if t.opts.Underscored || t.opts.UnderscoredAttributes {
		return orm.ToSnakeCase(attr)
	}
	return attr
}

func (t *Tracker) documentType() orm.FieldType {
	if t.opts.JSONDataType() {
		return orm.FieldJSON
	}
	return orm.FieldText
}

var (
	ulidMu      sync.Mutex
	ulidEntropy = ulid.Monotonic(rand.Reader, 0)
)

// newULID 同一毫秒内单调递增
func newULID() any {
	ulidMu.Lock()
	defer ulidMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), ulidEntropy).String()
}

func newUUID() any { return uuid.NewString() }

// keyField 按主键策略生成主键字段
func (t *Tracker) keyField() orm.FieldMeta {
	f := orm.FieldMeta{Name: t.names.ID, PrimaryKey: true}
	switch t.opts.PrimaryKeyType {
	case KeyUUID:
		f.Type = orm.FieldUUID
		f.Default = newUUID
	case KeyULID:
		f.Type = orm.FieldString
		f.Default = newULID
	default:
		f.Type = orm.FieldBigInt
		f.AutoIncrement = true
	}
	return f
}

// referenceType 引用修订主键的外键列类型
func (t *Tracker) referenceType() orm.FieldType {
	switch t.opts.PrimaryKeyType {
	case KeyUUID:
		return orm.FieldUUID
	case KeyULID:
		return orm.FieldString
	default:
		return orm.FieldBigInt
	}
}

func (t *Tracker) timestampFields() []orm.FieldMeta {
	return []orm.FieldMeta{
		{Name: t.names.CreatedAt, Column: t.column(t.names.CreatedAt), Type: orm.FieldTime},
		{Name: t.names.UpdatedAt, Column: t.column(t.names.UpdatedAt), Type: orm.FieldTime},
	}
}

func (t *Tracker) metaDataNames() []string {
	names := make([]string, 0, len(t.opts.MetaDataFields))
	for name := range t.opts.MetaDataFields {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// revisionMeta 构建修订模型元信息
func (t *Tracker) revisionMeta(userField orm.FieldMeta) *orm.ModelMeta {
	n := t.names
	index := t.opts.TableName + "_model_document"
	fields := []orm.FieldMeta{
		t.keyField(),
		{Name: n.Model, Column: t.column(n.Model), Type: orm.FieldString, Indexes: []string{index}},
		{Name: n.Document, Column: t.column(n.Document), Type: t.documentType()},
		{Name: n.Operation, Column: t.column(n.Operation), Type: orm.FieldString, Nullable: true},
		{Name: n.DocumentID, Column: t.column(n.DocumentID), Type: orm.FieldString, Indexes: []string{index}},
		{Name: n.DocumentIDs, Column: t.column(n.DocumentIDs), Type: t.documentType(), Nullable: true},
		{Name: n.Revision, Column: t.column(n.Revision), Type: orm.FieldInteger},
		userField,
	}
	for _, name := range t.metaDataNames() {
		if name == n.UserID {
			continue
		}
		fields = append(fields, orm.FieldMeta{Name: name, Column: t.column(name), Type: orm.FieldString, Nullable: true})
	}
	fields = append(fields, t.timestampFields()...)

	return &orm.ModelMeta{
		Name:      t.opts.RevisionModel,
		Table:     t.opts.TableName,
		Fields:    fields,
		CreatedAt: n.CreatedAt,
		UpdatedAt: n.UpdatedAt,
	}
}

// changeMeta 构建变更模型元信息
func (t *Tracker) changeMeta() *orm.ModelMeta {
	n := t.names
	fields := []orm.FieldMeta{
		t.keyField(),
		{Name: n.Path, Column: t.column(n.Path), Type: orm.FieldText},
		{Name: n.Document, Column: t.column(n.Document), Type: t.documentType()},
		{Name: n.Diff, Column: t.column(n.Diff), Type: t.documentType()},
		{Name: n.RevisionID, Column: t.column(n.RevisionID), Type: t.referenceType(),
			Indexes: []string{t.opts.ChangeTableName + "_revision"}},
	}
	fields = append(fields, t.timestampFields()...)
	return &orm.ModelMeta{
		Name:      t.opts.RevisionChangeModel,
		Table:     t.opts.ChangeTableName,
		Fields:    fields,
		CreatedAt: n.CreatedAt,
		UpdatedAt: n.UpdatedAt,
	}
}

// userField 操作者列：配置了用户模型时沿用其主键类型，否则以文本保存
func (t *Tracker) userField() (orm.FieldMeta, *orm.AssociationMeta, error) {
	f := orm.FieldMeta{Name: t.names.UserID, Column: t.column(t.names.UserID), Type: orm.FieldString, Nullable: true}
	if t.opts.UserModel == "" {
		return f, nil, nil
	}
	user, ok := t.orm.Lookup(t.opts.UserModel)
	if !ok {
		return f, nil, configurationError("用户模型 %s 未注册", t.opts.UserModel)
	}
	ref := t.opts.BelongsToUser.ReferenceKey
	if ref == "" {
		keys := user.Meta().PrimaryKeys()
		if len(keys) == 0 {
			return f, nil, configurationError("用户模型 %s 没有主键", t.opts.UserModel)
		}
		ref = keys[0].Name
	}
	target, ok := user.Meta().Field(ref)
	if !ok {
		return f, nil, configurationError("用户模型 %s 没有属性 %s", t.opts.UserModel, ref)
	}
	switch target.Type {
	case orm.FieldInteger, orm.FieldBigInt:
		f.Type = orm.FieldBigInt
	default:
		f.Type = target.Type
	}
	as := t.opts.BelongsToUser.As
	if as == "" {
		as = "User"
	}
	assoc := &orm.AssociationMeta{
		Name:         as,
		Kind:         orm.AssociationBelongsTo,
		Target:       t.opts.UserModel,
		ForeignKey:   t.names.UserID,
		ReferenceKey: ref,
		Constraints:  t.opts.BelongsToUser.Constraints,
	}
	return f, assoc, nil
}

// DefineModels 注册修订与变更模型；未启用变更模型时第二个返回值为 nil。重复调用返回同一组句柄。
func (t *Tracker) DefineModels(ctx context.Context) (orm.IModel, orm.IModel, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.revisionModel != nil {
		return t.revisionModel, t.changeModel, nil
	}

	userField, userAssoc, err := t.userField()
	if err != nil {
		return nil, nil, err
	}
	revMeta := t.revisionMeta(userField)
	if userAssoc != nil {
		revMeta.AddAssociation(*userAssoc)
	}

	var changeMeta *orm.ModelMeta
	if t.opts.EnableRevisionChangeModel {
		changeMeta = t.changeMeta()
		revMeta.AddAssociation(orm.AssociationMeta{
			Name:       "Changes",
			Kind:       orm.AssociationHasMany,
			Target:     changeMeta.Name,
			ForeignKey: t.names.RevisionID,
		})
		changeMeta.AddAssociation(orm.AssociationMeta{
			Name:       "Revision",
			Kind:       orm.AssociationBelongsTo,
			Target:     revMeta.Name,
			ForeignKey: t.names.RevisionID,
		})
	}

	revModel, err := t.orm.Define(revMeta)
	if err != nil {
		return nil, nil, fmt.Errorf("revision: define %s: %w", revMeta.Name, err)
	}
	var changeModel orm.IModel
	if changeMeta != nil {
		if changeModel, err = t.orm.Define(changeMeta); err != nil {
			return nil, nil, fmt.Errorf("revision: define %s: %w", changeMeta.Name, err)
		}
	}

	t.revisionModel, t.changeModel = revModel, changeModel
	t.log.Debug(ctx, "revision models defined",
		logging.String("table", t.opts.TableName),
		logging.Bool("changes", changeModel != nil))
	return revModel, changeModel, nil
}

// Sync 创建修订相关表（已存在时跳过），用于开发与测试；生产环境使用 migration 包的版本化迁移
func (t *Tracker) Sync(ctx context.Context) error {
	revModel, changeModel, err := t.DefineModels(ctx)
	if err != nil {
		return err
	}
	mg := t.orm.Migrator()
	if err := mg.CreateTable(ctx, revModel.Meta()); err != nil {
		return err
	}
	if changeModel != nil {
		return mg.CreateTable(ctx, changeModel.Meta())
	}
	return nil
}

// toRevision 将修订记录转换为 Revision
func (t *Tracker) toRevision(rec *orm.Record) *Revision {
	n := t.names
	r := &Revision{
		ID:          rec.Get(n.ID),
		Model:       stringValue(rec.Get(n.Model)),
		DocumentID:  rec.Get(n.DocumentID),
		DocumentIDs: rec.Get(n.DocumentIDs),
		Document:    rec.Get(n.Document),
		Operation:   Operation(stringValue(rec.Get(n.Operation))),
		Revision:    toInt64(rec.Get(n.Revision)),
		UserID:      rec.Get(n.UserID),
		CreatedAt:   timeValue(rec.Get(n.CreatedAt)),
		UpdatedAt:   timeValue(rec.Get(n.UpdatedAt)),
	}
	if len(t.opts.MetaDataFields) > 0 {
		r.MetaData = make(map[string]any, len(t.opts.MetaDataFields))
		for _, name := range t.metaDataNames() {
			if v, ok := rec.Lookup(name); ok {
				r.MetaData[name] = v
			}
		}
	}
	return r
}

// toChange 将变更记录转换为 RevisionChange
func (t *Tracker) toChange(rec *orm.Record) *RevisionChange {
	n := t.names
	return &RevisionChange{
		ID:         rec.Get(n.ID),
		Path:       stringValue(rec.Get(n.Path)),
		Document:   rec.Get(n.Document),
		Diff:       rec.Get(n.Diff),
		RevisionID: rec.Get(n.RevisionID),
		CreatedAt:  timeValue(rec.Get(n.CreatedAt)),
		UpdatedAt:  timeValue(rec.Get(n.UpdatedAt)),
	}
}

func stringValue(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	default:
		return fmt.Sprint(val)
	}
}

func toInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case int32:
		return int64(n)
	case float64:
		return int64(n)
	case string:
		i, _ := strconv.ParseInt(n, 10, 64)
		return i
	default:
		return 0
	}
}

func timeValue(v any) time.Time {
	if tm, ok := v.(time.Time); ok {
		return tm
	}
	return time.Time{}
}
