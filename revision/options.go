package revision

import (
	"strings"

	"gorevision/data/db/dialect"
	"gorevision/data/orm"
	"gorevision/errors"
	"gorevision/logging"
	"gorevision/outbox"
	"gorevision/revision/ambient"
	"gorevision/validation"
)

// PrimaryKeyType 修订记录主键生成策略
type PrimaryKeyType string

const (
	KeySerial PrimaryKeyType = "serial"
	KeyUUID   PrimaryKeyType = "uuid"
	KeyULID   PrimaryKeyType = "ulid"
)

// UserAssociation 修订记录到用户模型的 belongsTo 关联选项
type UserAssociation struct {
	// As 关联名，默认 User
	As string `mapstructure:"as"`
	// ReferenceKey 用户模型上被引用的属性，默认主键
	ReferenceKey string `mapstructure:"reference_key"`
	// Constraints 是否声明为强制外键
	Constraints bool `mapstructure:"constraints"`
}

// Options 修订追踪配置
//
// 零值字段使用默认值；EnableStrictDiff 与 UseJSONDataType 默认为 true，需要关闭时传入 Bool(false)。
type Options struct {
	Exclude             []string `mapstructure:"exclude"`
	RevisionAttribute   string   `mapstructure:"revision_attribute" validate:"required,identifier"`
	RevisionIDAttribute string   `mapstructure:"revision_id_attribute" validate:"required,identifier"`
	RevisionModel       string   `mapstructure:"revision_model" validate:"required"`
	RevisionChangeModel string   `mapstructure:"revision_change_model" validate:"required"`
	TableName           string   `mapstructure:"table_name" validate:"required,identifier"`
	ChangeTableName     string   `mapstructure:"change_table_name" validate:"required,identifier"`

	EnableRevisionChangeModel bool           `mapstructure:"enable_revision_change_model"`
	PrimaryKeyType            PrimaryKeyType `mapstructure:"primary_key_type" validate:"oneof=serial uuid ulid"`
	Underscored               bool           `mapstructure:"underscored"`
	UnderscoredAttributes     bool           `mapstructure:"underscored_attributes"`

	UserModel       string          `mapstructure:"user_model"`
	UserIDAttribute string          `mapstructure:"user_id_attribute" validate:"required,identifier"`
	BelongsToUser   UserAssociation `mapstructure:"belongs_to_user"`

	EnableCompression bool  `mapstructure:"enable_compression"`
	EnableMigration   bool  `mapstructure:"enable_migration"`
	EnableStrictDiff  *bool `mapstructure:"enable_strict_diff"`

	ContinuationNamespace   string `mapstructure:"continuation_namespace"`
	ContinuationKey         string `mapstructure:"continuation_key" validate:"required"`
	MetaDataContinuationKey string `mapstructure:"metadata_continuation_key" validate:"required"`

	// MetaDataFields 额外写入修订记录的元数据列，值为 true 表示必填
	MetaDataFields  map[string]bool `mapstructure:"metadata_fields" validate:"dive,keys,identifier,endkeys"`
	UseJSONDataType *bool           `mapstructure:"use_json_data_type"`

	// ChangeSaveConcurrency 变更记录并发保存上限，1 为顺序保存
	ChangeSaveConcurrency int `mapstructure:"change_save_concurrency" validate:"gte=1"`

	// Ambient 自定义上下文槽位来源；为空且设置了 ContinuationNamespace 时使用同名命名空间
	Ambient ambient.Store `mapstructure:"-"`
	// Outbox 设置后每条修订在同一事务内追加一条通知
	Outbox outbox.IWriter `mapstructure:"-"`
	Logger logging.Logger `mapstructure:"-"`
}

// Bool 返回 b 的指针，用于显式设置布尔选项
func Bool(b bool) *bool { return &b }

// DefaultExclude 默认不参与差异计算与持久化的属性
func DefaultExclude() []string {
	return []string{
		"id",
		"createdAt",
		"updatedAt",
		"deletedAt",
		"created_at",
		"updated_at",
		"deleted_at",
		"revision",
	}
}

// DefaultOptions 返回默认配置（表名在解析阶段按命名规则推导）
func DefaultOptions() Options {
	return Options{
		Exclude:                 DefaultExclude(),
		RevisionAttribute:       "revision",
		RevisionIDAttribute:     "revisionId",
		RevisionModel:           "Revision",
		RevisionChangeModel:     "RevisionChange",
		PrimaryKeyType:          KeySerial,
		UserIDAttribute:         "userId",
		EnableStrictDiff:        Bool(true),
		ContinuationKey:         "userId",
		MetaDataContinuationKey: "metaData",
		UseJSONDataType:         Bool(true),
		ChangeSaveConcurrency:   1,
	}
}

// StrictDiff 是否严格比较
func (o Options) StrictDiff() bool { return o.EnableStrictDiff == nil || *o.EnableStrictDiff }

// JSONDataType 是否以结构化列保存文档
func (o Options) JSONDataType() bool { return o.UseJSONDataType == nil || *o.UseJSONDataType }

// resolveOptions 将用户配置叠加到默认值上，推导命名并校验
func resolveOptions(user Options, d dialect.Dialect) (Options, error) {
	o := DefaultOptions()

	if user.Exclude != nil {
		o.Exclude = append([]string(nil), user.Exclude...)
	}
	overlay(&o.RevisionAttribute, user.RevisionAttribute)
	overlay(&o.RevisionIDAttribute, user.RevisionIDAttribute)
	overlay(&o.RevisionModel, user.RevisionModel)
	overlay(&o.RevisionChangeModel, user.RevisionChangeModel)
	overlay(&o.TableName, user.TableName)
	overlay(&o.ChangeTableName, user.ChangeTableName)
	overlay(&o.UserModel, user.UserModel)
	overlay(&o.UserIDAttribute, user.UserIDAttribute)
	overlay(&o.ContinuationNamespace, user.ContinuationNamespace)
	overlay(&o.ContinuationKey, user.ContinuationKey)
	overlay(&o.MetaDataContinuationKey, user.MetaDataContinuationKey)
	if user.PrimaryKeyType != "" {
		o.PrimaryKeyType = PrimaryKeyType(strings.ToLower(string(user.PrimaryKeyType)))
	}
	if user.EnableStrictDiff != nil {
		o.EnableStrictDiff = Bool(*user.EnableStrictDiff)
	}
	if user.UseJSONDataType != nil {
		o.UseJSONDataType = Bool(*user.UseJSONDataType)
	}
	if user.ChangeSaveConcurrency != 0 {
		o.ChangeSaveConcurrency = user.ChangeSaveConcurrency
	}
	if len(user.MetaDataFields) > 0 {
		o.MetaDataFields = make(map[string]bool, len(user.MetaDataFields))
		for k, v := range user.MetaDataFields {
			o.MetaDataFields[k] = v
		}
	}
	o.BelongsToUser = user.BelongsToUser
	o.EnableRevisionChangeModel = user.EnableRevisionChangeModel
	o.Underscored = user.Underscored
	o.UnderscoredAttributes = user.UnderscoredAttributes
	o.EnableCompression = user.EnableCompression
	o.EnableMigration = user.EnableMigration
	o.Ambient = user.Ambient
	o.Outbox = user.Outbox
	o.Logger = user.Logger

	if o.UnderscoredAttributes {
		o.RevisionIDAttribute = orm.ToSnakeCase(o.RevisionIDAttribute)
		o.UserIDAttribute = orm.ToSnakeCase(o.UserIDAttribute)
	}
	if o.TableName == "" {
		o.TableName = tableName(o.RevisionModel, o.Underscored)
	}
	if o.ChangeTableName == "" {
		o.ChangeTableName = tableName(o.RevisionChangeModel, o.Underscored)
	}
	if !containsString(o.Exclude, o.RevisionAttribute) {
		o.Exclude = append(o.Exclude, o.RevisionAttribute)
	}
	if d.Name() == dialect.NameMSSQL {
		o.UseJSONDataType = Bool(false)
	}
	if o.Logger == nil {
		o.Logger = logging.ComponentLogger("revision")
	}

	if err := validation.Struct(o); err != nil {
		return Options{}, errors.WrapError(err, errors.ErrCodeConfiguration, "修订追踪配置无效")
	}
	return o, nil
}

func overlay(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

// tableName 由模型名推导表名：复数化，下划线模式下转为 snake_case
func tableName(model string, underscored bool) string {
	name := pluralize(model)
	if underscored {
		return orm.ToSnakeCase(name)
	}
	return name
}

func pluralize(s string) string {
	lower := strings.ToLower(s)
	switch {
	case s == "":
		return s
	case strings.HasSuffix(lower, "s"), strings.HasSuffix(lower, "x"),
		strings.HasSuffix(lower, "ch"), strings.HasSuffix(lower, "sh"):
		return s + "es"
	case strings.HasSuffix(lower, "y") && len(s) > 1 && !strings.ContainsAny(lower[len(lower)-2:len(lower)-1], "aeiou"):
		return s[:len(s)-1] + "ies"
	default:
		return s + "s"
	}
}

func containsString(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}
