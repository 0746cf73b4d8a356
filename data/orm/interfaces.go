package orm

import (
	"context"
	"database/sql"

	"gorevision/data/db"
	"gorevision/data/db/dialect"
)

// IOrm 表示 ORM 适配器入口。
// 仅定义接口，具体实现由业务侧选择并以适配器形式注入。
type IOrm interface {
	// Capabilities 返回适配器支持的能力集合。
	Capabilities() Capabilities
	// Define 按逻辑名注册模型；同一 ModelMeta 重复注册返回已有模型，同名不同定义返回 ErrModelExists。
	Define(meta *ModelMeta) (IModel, error)
	// Lookup 按逻辑名查找已注册模型，返回的模型绑定到当前 Orm（会话内查找则绑定会话）。
	Lookup(name string) (IModel, bool)
	// Begin 开启事务会话。
	Begin(ctx context.Context) (IOrmSession, error)
	// BeginTx 开启带选项的事务会话。
	BeginTx(ctx context.Context, opts *sql.TxOptions) (IOrmSession, error)
	// Migrator 返回表结构操作入口。
	Migrator() IMigrator
	// Database 返回适配器绑定的通用数据库（会话内为事务）。
	Database() db.IDatabase
	// Dialect 返回数据库方言。
	Dialect() dialect.Dialect
	// Raw 返回底层引擎实例，便于特殊场景透传。
	Raw() any
}

// IOrmSession 表示事务会话。
type IOrmSession interface {
	IOrm
	Commit() error
	Rollback() error
}

// IModel 封装模型级别的基础操作。
//
// 写操作接收 *Record 并在成功后刷新记录的持久化快照；
// 传入 WithSession 时在该事务内执行。
type IModel interface {
	Meta() *ModelMeta
	Capabilities() Capabilities

	// Build 构建未持久化的新记录。
	Build(values map[string]any) *Record
	// WithSession 返回绑定到指定事务会话的模型句柄。
	WithSession(session IOrmSession) IModel
	// Session 返回模型绑定的事务会话，未绑定时为 nil。
	Session() IOrmSession

	First(ctx context.Context, opts ...QueryOption) (*Record, error)
	Find(ctx context.Context, opts ...QueryOption) ([]*Record, error)
	Count(ctx context.Context, opts ...QueryOption) (int64, error)

	Create(ctx context.Context, record *Record, opts ...WriteOption) error
	Update(ctx context.Context, record *Record, opts ...WriteOption) error
	Upsert(ctx context.Context, record *Record, opts ...WriteOption) error
	Destroy(ctx context.Context, record *Record, opts ...WriteOption) error

	// Related 读取关联记录（HasMany/HasOne/BelongsTo）。
	Related(ctx context.Context, record *Record, association string, opts ...QueryOption) ([]*Record, error)
}

// ColumnInfo 描述已存在的列。
type ColumnInfo struct {
	Name string
}

// IMigrator 表结构查询与变更。
type IMigrator interface {
	HasTable(ctx context.Context, table string) (bool, error)
	// DescribeTable 返回以列名为键的列信息。
	DescribeTable(ctx context.Context, table string) (map[string]ColumnInfo, error)
	AddColumn(ctx context.Context, table string, field FieldMeta) error
	// CreateTable 按模型元信息建表（已存在时跳过）。
	CreateTable(ctx context.Context, meta *ModelMeta) error
}
