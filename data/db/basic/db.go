package basic

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"time"

	// 驱动注册：sqlite 使用 modernc 纯 Go 实现，postgres 使用 pgx 的 database/sql 适配
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	core "gorevision/data/db"
	"gorevision/data/db/dialect"
)

// DB 基于 database/sql 的最小实现，满足 core.IDatabase 抽象
type DB struct {
	db      *sql.DB
	driver  string
	dialect dialect.Dialect
}

// New 根据 core.DBConfig 创建基础数据库实例
//
// Driver 为空时默认 sqlite。sqlite 使用 ":memory:" 时应设置 MaxOpenConns=1，
// 否则每个连接各自持有一份独立的内存库。
func New(config core.DBConfig) (core.IDatabase, error) {
	driver := config.Driver
	if driver == "" {
		driver = "sqlite"
	}
	if driver == "postgres" || driver == "postgresql" {
		driver = "pgx"
	}

	dsn, err := buildDSN(driver, config)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, err
	}

	// 连接池配置（可选）
	if config.MaxOpenConns > 0 {
		db.SetMaxOpenConns(config.MaxOpenConns)
	}
	if config.MaxIdleConns > 0 {
		db.SetMaxIdleConns(config.MaxIdleConns)
	}
	if config.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(time.Duration(config.ConnMaxLifetime) * time.Second)
	}
	if config.ConnMaxIdleTime > 0 {
		db.SetConnMaxIdleTime(time.Duration(config.ConnMaxIdleTime) * time.Second)
	}

	// 基础可用性检查
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return Wrap(db, driver), nil
}

// Wrap 包装已打开的 *sql.DB
func Wrap(db *sql.DB, driver string) *DB {
	return &DB{db: db, driver: driver, dialect: dialect.New(driver)}
}

// buildDSN 根据配置拼接连接串
func buildDSN(driver string, config core.DBConfig) (string, error) {
	if config.DSN != "" {
		return config.DSN, nil
	}
	switch dialect.New(driver).Name() {
	case dialect.NameSQLite:
		if config.Database == "" {
			return ":memory:", nil
		}
		return config.Database, nil
	case dialect.NamePostgres:
		if config.Host == "" {
			return "", fmt.Errorf("basic.New: host is required for driver %s", driver)
		}
		host := config.Host
		if config.Port > 0 {
			host = net.JoinHostPort(config.Host, strconv.Itoa(config.Port))
		}
		u := url.URL{Scheme: "postgres", Host: host, Path: "/" + config.Database}
		if config.Username != "" {
			u.User = url.UserPassword(config.Username, config.Password)
		}
		if config.SSLMode != "" {
			u.RawQuery = url.Values{"sslmode": []string{config.SSLMode}}.Encode()
		}
		return u.String(), nil
	default:
		return config.Database, nil
	}
}

func (d *DB) Query(ctx context.Context, query string, args ...any) (core.IRows, error) {
	rows, err := d.db.QueryContext(ctx, d.dialect.Rebind(query), args...)
	if err != nil {
		return nil, err
	}
	return &Rows{rows: rows}, nil
}

func (d *DB) QueryRow(ctx context.Context, query string, args ...any) core.IRow {
	return &Row{row: d.db.QueryRowContext(ctx, d.dialect.Rebind(query), args...)}
}

func (d *DB) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return d.db.ExecContext(ctx, d.dialect.Rebind(query), args...)
}

func (d *DB) Begin(ctx context.Context) (core.ITransaction, error) {
	return d.BeginTx(ctx, nil)
}

func (d *DB) BeginTx(ctx context.Context, opts *sql.TxOptions) (core.ITransaction, error) {
	tx, err := d.db.BeginTx(ctx, opts)
	if err != nil {
		return nil, err
	}
	return &Tx{db: d.db, tx: tx, driver: d.driver, dialect: d.dialect}, nil
}

func (d *DB) Ping(ctx context.Context) error { return d.db.PingContext(ctx) }
func (d *DB) Close() error                   { return d.db.Close() }
func (d *DB) Raw() any                       { return d.db }

// GetDialectName 实现 core.IDialectNameProvider 接口，返回底层 driver 名
func (d *DB) GetDialectName() string {
	return d.driver
}

// SQLDB 返回底层 *sql.DB（供迁移工具等需要原生连接的组件使用）
func (d *DB) SQLDB() *sql.DB {
	return d.db
}
