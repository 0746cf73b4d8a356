// Package config 通过 viper 加载数据库、修订追踪、outbox 与消息传输配置。
//
// 读取顺序：内置默认值 → 配置文件（YAML）→ REVISION_ 前缀的环境变量，
// 例如 REVISION_DATABASE_DRIVER、REVISION_TRACKER_TABLE_NAME、REVISION_TRANSPORT_KIND。
package config

import (
	"context"
	stdErrors "errors"
	"os"
	"strings"

	"github.com/spf13/viper"

	core "gorevision/data/db"
	"gorevision/errors"
	"gorevision/logging"
	"gorevision/messaging/transport"
	"gorevision/outbox"
	"gorevision/revision"
	"gorevision/validation"
)

// EnvPrefix 环境变量前缀
const EnvPrefix = "REVISION"

// Config 应用配置
type Config struct {
	Database  core.DBConfig    `mapstructure:"database"`
	Tracker   revision.Options `mapstructure:"tracker"`
	Outbox    outbox.Config    `mapstructure:"outbox"`
	Transport transport.Config `mapstructure:"transport"`
	LogLevel  string           `mapstructure:"log_level"`
}

// Default 返回默认配置
func Default() Config {
	return Config{
		Database:  core.DBConfig{Driver: "sqlite", Database: ":memory:", MaxOpenConns: 1},
		Tracker:   revision.DefaultOptions(),
		Outbox:    outbox.DefaultConfig(),
		Transport: transport.DefaultConfig(),
		LogLevel:  "info",
	}
}

// Load 读取配置；path 为空或文件不存在时只使用默认值与环境变量
func Load(path string) (Config, error) {
	ctx := context.Background()
	log := logging.ComponentLogger("config")
	def := Default()

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v, def)

	if path != "" {
		if info, err := os.Stat(path); err == nil && info.IsDir() {
			v.SetConfigName("revision")
			v.SetConfigType("yaml")
			v.AddConfigPath(path)
		} else {
			v.SetConfigFile(path)
		}
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !stdErrors.As(err, &notFound) && !stdErrors.Is(err, os.ErrNotExist) {
				return Config{}, errors.WrapError(err, errors.ErrCodeConfiguration, "读取配置文件失败")
			}
			log.Info(ctx, "config file not found, using defaults and env", logging.String("path", path))
		} else {
			log.Debug(ctx, "config loaded", logging.String("file", v.ConfigFileUsed()))
		}
	}

	cfg := def
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, errors.WrapError(err, errors.ErrCodeConfiguration, "解析配置失败")
	}
	if err := validation.Struct(cfg.Outbox); err != nil {
		return Config{}, errors.WrapError(err, errors.ErrCodeConfiguration, "outbox 配置无效")
	}
	if err := validation.Struct(cfg.Transport); err != nil {
		return Config{}, errors.WrapError(err, errors.ErrCodeConfiguration, "传输配置无效")
	}
	if err := validation.Struct(struct {
		LogLevel string `validate:"omitempty,oneof=debug info warn warning error"`
	}{cfg.LogLevel}); err != nil {
		return Config{}, errors.WrapError(err, errors.ErrCodeConfiguration, "日志级别无效")
	}
	return cfg, nil
}

// LoadTrackerOptions 只读取修订追踪配置，校验在 revision.NewTracker 中完成
func LoadTrackerOptions(path string) (revision.Options, error) {
	cfg, err := Load(path)
	if err != nil {
		return revision.Options{}, err
	}
	return cfg.Tracker, nil
}

// setDefaults 注册默认值，使 AutomaticEnv 能覆盖这些键
func setDefaults(v *viper.Viper, def Config) {
	d, t, o, tp := def.Database, def.Tracker, def.Outbox, def.Transport

	v.SetDefault("log_level", def.LogLevel)

	v.SetDefault("database.driver", d.Driver)
	v.SetDefault("database.dsn", d.DSN)
	v.SetDefault("database.host", d.Host)
	v.SetDefault("database.port", d.Port)
	v.SetDefault("database.database", d.Database)
	v.SetDefault("database.username", d.Username)
	v.SetDefault("database.password", d.Password)
	v.SetDefault("database.max_open_conns", d.MaxOpenConns)
	v.SetDefault("database.max_idle_conns", d.MaxIdleConns)
	v.SetDefault("database.sslmode", d.SSLMode)

	v.SetDefault("tracker.exclude", t.Exclude)
	v.SetDefault("tracker.revision_attribute", t.RevisionAttribute)
	v.SetDefault("tracker.revision_id_attribute", t.RevisionIDAttribute)
	v.SetDefault("tracker.revision_model", t.RevisionModel)
	v.SetDefault("tracker.revision_change_model", t.RevisionChangeModel)
	v.SetDefault("tracker.table_name", t.TableName)
	v.SetDefault("tracker.change_table_name", t.ChangeTableName)
	v.SetDefault("tracker.enable_revision_change_model", t.EnableRevisionChangeModel)
	v.SetDefault("tracker.primary_key_type", string(t.PrimaryKeyType))
	v.SetDefault("tracker.underscored", t.Underscored)
	v.SetDefault("tracker.underscored_attributes", t.UnderscoredAttributes)
	v.SetDefault("tracker.user_model", t.UserModel)
	v.SetDefault("tracker.user_id_attribute", t.UserIDAttribute)
	v.SetDefault("tracker.enable_compression", t.EnableCompression)
	v.SetDefault("tracker.enable_migration", t.EnableMigration)
	v.SetDefault("tracker.enable_strict_diff", t.StrictDiff())
	v.SetDefault("tracker.use_json_data_type", t.JSONDataType())
	v.SetDefault("tracker.continuation_namespace", t.ContinuationNamespace)
	v.SetDefault("tracker.continuation_key", t.ContinuationKey)
	v.SetDefault("tracker.metadata_continuation_key", t.MetaDataContinuationKey)
	v.SetDefault("tracker.change_save_concurrency", t.ChangeSaveConcurrency)

	v.SetDefault("outbox.publish_interval", o.PublishInterval)
	v.SetDefault("outbox.batch_size", o.BatchSize)
	v.SetDefault("outbox.max_retries", o.MaxRetries)
	v.SetDefault("outbox.retry_interval", o.RetryInterval)
	v.SetDefault("outbox.retention_period", o.RetentionPeriod)

	v.SetDefault("transport.kind", tp.Kind)
	v.SetDefault("transport.memory.queue_size", tp.Memory.QueueSize)
	v.SetDefault("transport.memory.worker_count", tp.Memory.WorkerCount)
	v.SetDefault("transport.redis.addr", tp.Redis.Addr)
	v.SetDefault("transport.redis.password", tp.Redis.Password)
	v.SetDefault("transport.redis.db", tp.Redis.DB)
	v.SetDefault("transport.redis.stream_prefix", tp.Redis.StreamPrefix)
	v.SetDefault("transport.redis.group_name", tp.Redis.GroupName)
	v.SetDefault("transport.redis.max_len", tp.Redis.MaxLen)
	v.SetDefault("transport.nats.url", tp.NATS.URL)
	v.SetDefault("transport.nats.stream", tp.NATS.Stream)
	v.SetDefault("transport.nats.subject_prefix", tp.NATS.SubjectPrefix)
	v.SetDefault("transport.nats.retention", tp.NATS.Retention)
}
