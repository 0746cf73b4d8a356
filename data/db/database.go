// Package db 提供通用的数据库抽象接口
//
// 设计目标：
// 1. 隔离具体的驱动（modernc sqlite、pgx 等）
// 2. 提供统一的数据库操作接口
// 3. 支持事务操作，便于修订记录与业务写入共用同一事务
package db

import (
	"context"
	"database/sql"
	"errors"
)

// ErrNestedTransaction 在事务内再次 Begin
var ErrNestedTransaction = errors.New("db: nested transactions are not supported")

// IDatabase 通用数据库接口
type IDatabase interface {
	// 查询操作
	Query(ctx context.Context, query string, args ...any) (IRows, error)
	QueryRow(ctx context.Context, query string, args ...any) IRow

	// 执行操作
	Exec(ctx context.Context, query string, args ...any) (sql.Result, error)

	// 事务操作
	Begin(ctx context.Context) (ITransaction, error)
	BeginTx(ctx context.Context, opts *sql.TxOptions) (ITransaction, error)

	// 连接管理
	Ping(ctx context.Context) error
	Close() error

	// 获取原始连接（*sql.DB 或 *sql.Tx）
	Raw() any
}

// IDialectNameProvider 可选接口：提供底层数据库方言名称
//
// 实现方应返回诸如 "sqlite"、"pgx"、"postgres"、"mysql" 等 driver/dialect 名，
// 供 dialect 包推断方言能力（占位符、JSON 列、唯一键错误识别等）。
type IDialectNameProvider interface {
	// GetDialectName 返回底层数据库方言名称
	GetDialectName() string
}

// ITransaction 事务接口
type ITransaction interface {
	IDatabase

	// 事务控制
	Commit() error
	Rollback() error
}

// IRows 查询结果集接口
type IRows interface {
	// 遍历结果
	Next() bool
	Scan(dest ...any) error
	Close() error
	Err() error

	// 获取列信息
	Columns() ([]string, error)
	ColumnTypes() ([]*sql.ColumnType, error)
}

// IRow 单行结果接口
type IRow interface {
	Scan(dest ...any) error
	Err() error
}

// DBConfig 数据库配置
type DBConfig struct {
	Driver   string `mapstructure:"driver"` // sqlite, pgx, postgres
	DSN      string `mapstructure:"dsn"`    // 非空时直接使用，忽略 Host 等字段
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Database string `mapstructure:"database"` // sqlite 下为文件路径或 :memory:
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`

	// 连接池配置
	MaxOpenConns    int `mapstructure:"max_open_conns"`
	MaxIdleConns    int `mapstructure:"max_idle_conns"`
	ConnMaxLifetime int `mapstructure:"conn_max_lifetime"` // 秒
	ConnMaxIdleTime int `mapstructure:"conn_max_idle_time"` // 秒

	// 其他选项
	SSLMode string `mapstructure:"sslmode"`
}

// NewDatabaseFunc 工厂方法（由具体实现提供）
type NewDatabaseFunc func(config DBConfig) (IDatabase, error)
