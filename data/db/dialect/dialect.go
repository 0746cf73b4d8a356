package dialect

import (
	"strconv"
	"strings"

	core "gorevision/data/db"
)

// Name 标准化的数据库方言名称
type Name string

const (
	NameMySQL    Name = "mysql"
	NameSQLite   Name = "sqlite"
	NamePostgres Name = "postgres"
	NameMSSQL    Name = "mssql"
	NameUnknown  Name = ""
)

// 逻辑列类型，由 ColumnType 映射为方言的 DDL 类型
const (
	TypeInteger = "integer"
	TypeBigInt  = "bigint"
	TypeString  = "string"
	TypeText    = "text"
	TypeJSON    = "json"
	TypeUUID    = "uuid"
	TypeBoolean = "boolean"
	TypeFloat   = "float"
	TypeTime    = "time"
)

// Dialect 表示当前数据库的方言能力
//
// 目前只抽象项目实际用到的能力：
//   - 占位符改写、标识符转义
//   - DeleteLimit / RETURNING / JSON 列支持
//   - 唯一键冲突错误识别
//   - 建表与表结构查询所需的类型映射与 SQL
type Dialect struct {
	name Name
}

// New 根据字符串构造方言（大小写不敏感）
func New(name string) Dialect {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "mysql":
		return Dialect{name: NameMySQL}
	case "sqlite", "sqlite3":
		return Dialect{name: NameSQLite}
	case "postgres", "postgresql", "pgx":
		return Dialect{name: NamePostgres}
	case "mssql", "sqlserver":
		return Dialect{name: NameMSSQL}
	default:
		return Dialect{name: NameUnknown}
	}
}

// FromDatabase 从 IDatabase 实例推断方言
//
// 需要 IDatabase 可选实现 IDialectNameProvider 接口；否则返回 Unknown。
func FromDatabase(db core.IDatabase) Dialect {
	if db == nil {
		return Dialect{name: NameUnknown}
	}
	if p, ok := db.(core.IDialectNameProvider); ok {
		return New(p.GetDialectName())
	}
	return Dialect{name: NameUnknown}
}

// Name 返回标准化方言名
func (d Dialect) Name() Name {
	return d.name
}

// QuoteIdentifier 根据方言对标识符进行转义（如表名/列名）。
//
// 约定：
//   - 支持 schema.table、table.column 等带点形式，会对每一段分别加引号；
//   - MySQL 使用反引号 `name`，MSSQL 使用 [name]，Postgres/SQLite 使用双引号 "name"；
//   - Unknown 方言返回原始字符串，不做修改；
//   - 该方法不负责校验标识符语法，仅负责按方言加引号。
func (d Dialect) QuoteIdentifier(name string) string {
	if name == "" {
		return ""
	}
	parts := strings.Split(name, ".")
	for i, p := range parts {
		if p == "" {
			continue
		}
		switch d.name {
		case NameMySQL:
			parts[i] = "`" + p + "`"
		case NameMSSQL:
			parts[i] = "[" + p + "]"
		case NameSQLite, NamePostgres:
			parts[i] = `"` + p + `"`
		default:
			// 未知方言：保持原样
		}
	}
	return strings.Join(parts, ".")
}

// Rebind 将通用占位符 ? 转换为方言特定形式。
//
// Postgres 依次替换为 $1、$2...，MSSQL 替换为 @p1、@p2...；其他方言保持原样。
//
// 限制：简单字符扫描，不解析 SQL 语法，字符串字面量中的 ? 也会被替换，
// 请始终以参数形式传值。
func (d Dialect) Rebind(query string) string {
	if query == "" {
		return query
	}
	var prefix string
	switch d.name {
	case NamePostgres:
		prefix = "$"
	case NameMSSQL:
		prefix = "@p"
	default:
		return query
	}

	var sb strings.Builder
	sb.Grow(len(query) + 4)
	argIndex := 1
	for i := 0; i < len(query); i++ {
		ch := query[i]
		if ch == '?' {
			sb.WriteString(prefix)
			sb.WriteString(strconv.Itoa(argIndex))
			argIndex++
		} else {
			sb.WriteByte(ch)
		}
	}
	return sb.String()
}

// SupportsDeleteLimit 当前方言是否支持 DELETE ... LIMIT 语法
func (d Dialect) SupportsDeleteLimit() bool {
	switch d.name {
	case NameMySQL, NameSQLite:
		return true
	default:
		return false
	}
}

// SupportsReturning 当前方言是否支持 INSERT ... RETURNING
func (d Dialect) SupportsReturning() bool {
	switch d.name {
	case NamePostgres, NameSQLite:
		return true
	default:
		return false
	}
}

// SupportsJSON 当前方言是否支持结构化 JSON 列
//
// MSSQL 没有原生 JSON 列类型，结构化数据需序列化为文本存储。
func (d Dialect) SupportsJSON() bool {
	return d.name != NameMSSQL
}

// SupportsForUpdate 当前方言是否支持 SELECT ... FOR UPDATE
func (d Dialect) SupportsForUpdate() bool {
	switch d.name {
	case NameMySQL, NamePostgres:
		return true
	default:
		return false
	}
}

// ColumnType 将逻辑列类型映射为方言 DDL 类型
//
// autoIncrement 仅对整数主键生效。
func (d Dialect) ColumnType(kind string, autoIncrement bool) string {
	switch d.name {
	case NamePostgres:
		switch kind {
		case TypeInteger:
			if autoIncrement {
				return "SERIAL"
			}
			return "INTEGER"
		case TypeBigInt:
			if autoIncrement {
				return "BIGSERIAL"
			}
			return "BIGINT"
		case TypeString:
			return "VARCHAR(255)"
		case TypeJSON:
			return "JSONB"
		case TypeUUID:
			return "UUID"
		case TypeBoolean:
			return "BOOLEAN"
		case TypeFloat:
			return "DOUBLE PRECISION"
		case TypeTime:
			return "TIMESTAMPTZ"
		default:
			return "TEXT"
		}
	case NameMySQL:
		switch kind {
		case TypeInteger, TypeBigInt:
			t := "BIGINT"
			if kind == TypeInteger {
				t = "INT"
			}
			if autoIncrement {
				t += " AUTO_INCREMENT"
			}
			return t
		case TypeString, TypeUUID:
			return "VARCHAR(255)"
		case TypeJSON:
			return "JSON"
		case TypeBoolean:
			return "TINYINT(1)"
		case TypeFloat:
			return "DOUBLE"
		case TypeTime:
			return "DATETIME(6)"
		default:
			return "MEDIUMTEXT"
		}
	case NameMSSQL:
		switch kind {
		case TypeInteger, TypeBigInt:
			t := "BIGINT"
			if kind == TypeInteger {
				t = "INT"
			}
			if autoIncrement {
				t += " IDENTITY(1,1)"
			}
			return t
		case TypeString, TypeUUID:
			return "NVARCHAR(255)"
		case TypeBoolean:
			return "BIT"
		case TypeFloat:
			return "FLOAT"
		case TypeTime:
			return "DATETIMEOFFSET"
		default:
			return "NVARCHAR(MAX)"
		}
	default:
		// sqlite 及未知方言：使用类型亲和性
		switch kind {
		case TypeInteger, TypeBigInt, TypeBoolean:
			return "INTEGER"
		case TypeFloat:
			return "REAL"
		case TypeTime:
			return "DATETIME"
		default:
			return "TEXT"
		}
	}
}

// AutoIncrementPrimaryKey 返回自增主键列在建表语句中的完整定义后缀
//
// sqlite 需要 INTEGER PRIMARY KEY AUTOINCREMENT 才能保证主键不复用。
func (d Dialect) AutoIncrementPrimaryKey(kind string) string {
	if d.name == NameSQLite || d.name == NameUnknown {
		return "INTEGER PRIMARY KEY AUTOINCREMENT"
	}
	return d.ColumnType(kind, true) + " PRIMARY KEY"
}

// DescribeColumnsQuery 返回查询表中全部列名的 SQL 及参数
func (d Dialect) DescribeColumnsQuery(table string) (string, []any) {
	switch d.name {
	case NameSQLite, NameUnknown:
		return "SELECT name FROM pragma_table_info(?)", []any{table}
	case NameMySQL:
		return "SELECT column_name FROM information_schema.columns WHERE table_schema = DATABASE() AND table_name = ?", []any{table}
	case NamePostgres:
		return "SELECT column_name FROM information_schema.columns WHERE table_schema = current_schema() AND table_name = ?", []any{table}
	default:
		return "SELECT column_name FROM information_schema.columns WHERE table_name = ?", []any{table}
	}
}

// HasTableQuery 返回判断表是否存在的 COUNT 查询
func (d Dialect) HasTableQuery(table string) (string, []any) {
	switch d.name {
	case NameSQLite, NameUnknown:
		return "SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?", []any{table}
	case NameMySQL:
		return "SELECT COUNT(*) FROM information_schema.tables WHERE table_schema = DATABASE() AND table_name = ?", []any{table}
	case NamePostgres:
		return "SELECT COUNT(*) FROM information_schema.tables WHERE table_schema = current_schema() AND table_name = ?", []any{table}
	default:
		return "SELECT COUNT(*) FROM information_schema.tables WHERE table_name = ?", []any{table}
	}
}

// IsUniqueViolation 判断错误是否为唯一键/主键冲突
//
// 使用错误消息的关键字匹配，覆盖常见数据库的典型错误格式：
//   - MySQL: "Duplicate entry", "duplicate key" (Error 1062, 1586)
//   - SQLite: "UNIQUE constraint failed" (SQLITE_CONSTRAINT_UNIQUE)
//   - Postgres: "duplicate key value", "unique constraint" (SQLSTATE 23505)
//   - MSSQL: "Violation of UNIQUE KEY constraint", "Cannot insert duplicate key"
//
// 依赖错误消息文本可能受数据库版本、语言设置影响。
func (d Dialect) IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	switch d.name {
	case NameMySQL:
		return strings.Contains(msg, "duplicate entry") ||
			strings.Contains(msg, "duplicate key")
	case NameSQLite:
		return strings.Contains(msg, "unique constraint failed")
	case NamePostgres:
		return strings.Contains(msg, "duplicate key") ||
			strings.Contains(msg, "unique constraint") ||
			strings.Contains(msg, "sqlstate 23505")
	case NameMSSQL:
		return strings.Contains(msg, "duplicate key") ||
			strings.Contains(msg, "unique key constraint")
	default:
		// 对未知方言做宽松匹配
		return strings.Contains(msg, "duplicate key") ||
			strings.Contains(msg, "unique constraint")
	}
}
