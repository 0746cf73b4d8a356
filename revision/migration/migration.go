// Package migration 以 golang-migrate 管理修订相关表的版本化迁移。
//
// 迁移文件由追踪器的模型定义按方言渲染（000001 修订表，000002 变更表），
// 也可以通过 NewRunner 传入自备的 fs.FS（例如 embed.FS）。
//
// 生产环境建表走 Files + NewRunner(...).Up；Tracker.Sync 只适合开发与测试。
package migration

import (
	"context"
	"database/sql"
	stdErrors "errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	pgxmigrate "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	sqlitemigrate "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	core "gorevision/data/db"
	"gorevision/data/db/dialect"
	"gorevision/data/orm"
	ormbasic "gorevision/data/orm/basic"
	"gorevision/logging"
	"gorevision/revision"
	"gorevision/validation"
)

// DefaultMigrationsTable 版本记录表
const DefaultMigrationsTable = "revision_schema_migrations"

// Files 按追踪器配置渲染迁移文件
func Files(ctx context.Context, tracker *revision.Tracker) (Source, error) {
	revModel, changeModel, err := tracker.DefineModels(ctx)
	if err != nil {
		return nil, err
	}
	d := tracker.Orm().Dialect()

	files := Source{}
	if err := addTable(files, d, 1, revModel.Meta()); err != nil {
		return nil, err
	}
	if changeModel != nil {
		if err := addTable(files, d, 2, changeModel.Meta()); err != nil {
			return nil, err
		}
	}
	return files, nil
}

func addTable(files Source, d dialect.Dialect, version int, meta *orm.ModelMeta) error {
	create, err := ormbasic.CreateTableSQL(d, meta)
	if err != nil {
		return err
	}
	up := append([]string{create}, ormbasic.CreateIndexSQL(d, meta)...)
	name := fmt.Sprintf("%06d_create_%s", version, strings.ToLower(meta.TableName()))
	files[name+".up.sql"] = []byte(strings.Join(up, ";\n") + ";\n")
	files[name+".down.sql"] = []byte(ormbasic.DropTableSQL(d, meta) + ";\n")
	return nil
}

// Config Runner 配置
type Config struct {
	MigrationsTable string `mapstructure:"migrations_table" validate:"omitempty,identifier"`
	Logger          logging.Logger `mapstructure:"-"`
}

// Runner 迁移执行器
type Runner struct {
	m   *migrate.Migrate
	src source.Driver
	log logging.Logger
}

// NewRunner 在已有连接上创建迁移执行器，支持 sqlite 与 postgres（pgx）
func NewRunner(db core.IDatabase, fsys fs.FS, cfg Config) (*Runner, error) {
	sqlDB, ok := db.Raw().(*sql.DB)
	if !ok {
		return nil, fmt.Errorf("migration: database must wrap *sql.DB, got %T", db.Raw())
	}
	if err := validation.Struct(cfg); err != nil {
		return nil, err
	}
	if cfg.MigrationsTable == "" {
		cfg.MigrationsTable = DefaultMigrationsTable
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.ComponentLogger("revision.migration")
	}

	d := dialect.FromDatabase(db)
	var (
		driver database.Driver
		err    error
	)
	switch d.Name() {
	case dialect.NameSQLite:
		driver, err = sqlitemigrate.WithInstance(sqlDB, &sqlitemigrate.Config{MigrationsTable: cfg.MigrationsTable})
	case dialect.NamePostgres:
		driver, err = pgxmigrate.WithInstance(sqlDB, &pgxmigrate.Config{MigrationsTable: cfg.MigrationsTable})
	default:
		return nil, fmt.Errorf("migration: unsupported dialect %q", d.Name())
	}
	if err != nil {
		return nil, fmt.Errorf("migration: open database driver: %w", err)
	}

	src, err := iofs.New(fsys, ".")
	if err != nil {
		return nil, fmt.Errorf("migration: open source: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, string(d.Name()), driver)
	if err != nil {
		_ = src.Close()
		return nil, fmt.Errorf("migration: init: %w", err)
	}
	return &Runner{m: m, src: src, log: cfg.Logger}, nil
}

// Up 应用全部未执行的迁移，已是最新时不报错
func (r *Runner) Up(ctx context.Context) error {
	err := r.m.Up()
	if stdErrors.Is(err, migrate.ErrNoChange) {
		r.log.Debug(ctx, "revision schema up to date")
		return nil
	}
	if err != nil {
		return fmt.Errorf("migration: up: %w", err)
	}
	version, _, _ := r.Version()
	r.log.Info(ctx, "revision schema migrated", logging.Int("version", int(version)))
	return nil
}

// Down 回滚全部迁移
func (r *Runner) Down(ctx context.Context) error {
	err := r.m.Down()
	if stdErrors.Is(err, migrate.ErrNoChange) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("migration: down: %w", err)
	}
	r.log.Info(ctx, "revision schema rolled back")
	return nil
}

// Version 返回当前版本；尚未迁移时 ok 为 false
func (r *Runner) Version() (version uint, ok bool, err error) {
	v, dirty, err := r.m.Version()
	if stdErrors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	if dirty {
		return v, true, fmt.Errorf("migration: version %d is dirty", v)
	}
	return v, true, nil
}

// Close 释放迁移源；数据库连接由调用方管理
func (r *Runner) Close() error {
	return r.src.Close()
}
