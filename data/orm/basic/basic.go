package basic

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	dbcore "gorevision/data/db"
	"gorevision/data/db/dialect"
	dbsql "gorevision/data/db/sql"
	"gorevision/data/orm"
	"gorevision/validation"
)

// Orm 是基于 gorevision/data/db + gorevision/data/db/sql 的轻量 IOrm 实现。
//
// 记录以 orm.Record 动态属性表示，模型由 orm.ModelMeta 显式声明，
// 不依赖结构体反射；JSON 字段写入时序列化、读取时还原为有序文档。
type Orm struct {
	db   dbcore.IDatabase
	sql  dbsql.ISql
	caps orm.Capabilities
	reg  *registry
}

// registry 模型注册表，在根 Orm 与其派生会话之间共享。
type registry struct {
	mu     sync.RWMutex
	models map[string]*orm.ModelMeta
}

// New 创建一个基于指定 IDatabase 的 Orm 适配器。
func New(db dbcore.IDatabase) *Orm {
	return &Orm{
		db:  db,
		sql: dbsql.New(db),
		caps: orm.NewCapabilities(
			orm.CapabilityBasicCRUD,
			orm.CapabilityQuery,
			orm.CapabilityTransaction,
			orm.CapabilityMigration,
			orm.CapabilityAssociationRead,
			orm.CapabilityUpsert,
		),
		reg: &registry{models: make(map[string]*orm.ModelMeta)},
	}
}

// derive 在同一注册表上绑定另一个数据库连接（通常为事务）。
func (o *Orm) derive(db dbcore.IDatabase) *Orm {
	return &Orm{
		db:   db,
		sql:  dbsql.New(db),
		caps: o.caps,
		reg:  o.reg,
	}
}

// Capabilities 返回适配器支持的能力。
func (o *Orm) Capabilities() orm.Capabilities { return o.caps }

// Define 注册模型。
func (o *Orm) Define(meta *orm.ModelMeta) (orm.IModel, error) {
	if meta == nil {
		return nil, fmt.Errorf("basic.Orm: ModelMeta cannot be nil")
	}
	if err := validation.ValidateRequired(meta.Name, "模型名"); err != nil {
		return nil, err
	}
	if err := validation.ValidateIdentifier(meta.TableName(), "表名"); err != nil {
		return nil, err
	}
	if len(meta.Fields) == 0 {
		return nil, fmt.Errorf("basic.Orm: model %s has no fields", meta.Name)
	}
	for _, f := range meta.Fields {
		if err := validation.ValidateIdentifier(f.ColumnName(), "列名"); err != nil {
			return nil, err
		}
	}

	o.reg.mu.Lock()
	defer o.reg.mu.Unlock()
	if existing, ok := o.reg.models[meta.Name]; ok {
		if existing != meta {
			return nil, fmt.Errorf("%w: %s", orm.ErrModelExists, meta.Name)
		}
		return &model{orm: o, meta: existing}, nil
	}
	o.reg.models[meta.Name] = meta
	return &model{orm: o, meta: meta}, nil
}

// Lookup 按逻辑名查找模型。
func (o *Orm) Lookup(name string) (orm.IModel, bool) {
	o.reg.mu.RLock()
	meta, ok := o.reg.models[name]
	o.reg.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return &model{orm: o, meta: meta}, true
}

// Begin 开启事务会话。
func (o *Orm) Begin(ctx context.Context) (orm.IOrmSession, error) {
	return o.BeginTx(ctx, nil)
}

// BeginTx 开启带选项的事务会话。
func (o *Orm) BeginTx(ctx context.Context, opts *sql.TxOptions) (orm.IOrmSession, error) {
	tx, err := o.db.BeginTx(ctx, opts)
	if err != nil {
		return nil, err
	}
	return &session{Orm: o.derive(tx), tx: tx}, nil
}

// Migrator 返回表结构操作入口。
func (o *Orm) Migrator() orm.IMigrator { return &migrator{orm: o} }

// Database 返回底层数据库抽象。
func (o *Orm) Database() dbcore.IDatabase { return o.db }

// Dialect 返回数据库方言。
func (o *Orm) Dialect() dialect.Dialect { return o.sql.Dialect() }

// Raw 返回底层实现（此处为 dbcore.IDatabase）。
func (o *Orm) Raw() any { return o.db }

// bind 返回在指定会话上执行的 Orm。
func (o *Orm) bind(s orm.IOrmSession) *Orm {
	if s == nil {
		return o
	}
	if sess, ok := s.(*session); ok {
		return sess.Orm
	}
	return o.derive(s.Database())
}

func (o *Orm) quote(name string) string {
	return o.sql.Dialect().QuoteIdentifier(name)
}

// session 实现 IOrmSession，委托给内部 Orm，并持有事务以便 Commit/Rollback。
type session struct {
	*Orm
	tx dbcore.ITransaction
}

// Begin 会话内不支持嵌套事务。
func (s *session) Begin(ctx context.Context) (orm.IOrmSession, error) {
	return nil, dbcore.ErrNestedTransaction
}

// BeginTx 会话内不支持嵌套事务。
func (s *session) BeginTx(ctx context.Context, opts *sql.TxOptions) (orm.IOrmSession, error) {
	return nil, dbcore.ErrNestedTransaction
}

// Lookup 返回绑定到当前会话的模型。
func (s *session) Lookup(name string) (orm.IModel, bool) {
	m, ok := s.Orm.Lookup(name)
	if !ok {
		return nil, false
	}
	bound := m.(*model)
	bound.session = s
	return bound, true
}

// Commit 提交事务。
func (s *session) Commit() error {
	if s.tx == nil {
		return fmt.Errorf("basic.session: tx is nil")
	}
	return s.tx.Commit()
}

// Rollback 回滚事务。
func (s *session) Rollback() error {
	if s.tx == nil {
		return fmt.Errorf("basic.session: tx is nil")
	}
	return s.tx.Rollback()
}
