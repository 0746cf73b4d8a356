package outbox

import (
	"context"
	"fmt"
	"time"

	core "gorevision/data/db"
	"gorevision/data/db/dialect"
	sqlbuilder "gorevision/data/db/sql"
	"gorevision/data/orm"
	"gorevision/data/orm/basic"
	"gorevision/errors"
	"gorevision/logging"
	"gorevision/validation"
)

// DefaultTable 默认 outbox 表名
const DefaultTable = "revision_outbox"

var entryColumns = []string{
	"id", "aggregate_id", "aggregate_type", "event_id", "event_type", "event_data",
	"status", "created_at", "published_at", "retry_count", "last_error", "next_retry_at",
}

// SQLRepository 基于 SQL 的 outbox 仓储，Append 写入调用方传入的连接（通常为事务）
type SQLRepository struct {
	db         core.IDatabase
	table      string
	maxRetries int
	logger     logging.Logger
}

// RepositoryOption 仓储选项
type RepositoryOption func(*SQLRepository)

// WithTable 指定表名
func WithTable(name string) RepositoryOption {
	return func(r *SQLRepository) {
		if name != "" {
			r.table = name
		}
	}
}

// WithMaxRetries 失败次数达到上限的记录不再被拉取
func WithMaxRetries(n int) RepositoryOption {
	return func(r *SQLRepository) { r.maxRetries = n }
}

// WithRepositoryLogger 指定日志器
func WithRepositoryLogger(logger logging.Logger) RepositoryOption {
	return func(r *SQLRepository) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewSQLRepository 创建仓储
func NewSQLRepository(db core.IDatabase, opts ...RepositoryOption) (*SQLRepository, error) {
	r := &SQLRepository{
		db:         db,
		table:      DefaultTable,
		maxRetries: DefaultConfig().MaxRetries,
		logger:     logging.ComponentLogger("outbox.repository"),
	}
	for _, opt := range opts {
		opt(r)
	}
	if err := validation.ValidateIdentifier(r.table, "outbox 表名"); err != nil {
		return nil, err
	}
	return r, nil
}

// Table 返回表名
func (r *SQLRepository) Table() string { return r.table }

// Meta 返回 outbox 表结构
func (r *SQLRepository) Meta() *orm.ModelMeta {
	return &orm.ModelMeta{
		Name:  "OutboxEntry",
		Table: r.table,
		Fields: []orm.FieldMeta{
			{Name: "id", Type: orm.FieldBigInt, PrimaryKey: true, AutoIncrement: true},
			{Name: "aggregate_id", Type: orm.FieldString, Indexes: []string{r.table + "_aggregate"}},
			{Name: "aggregate_type", Type: orm.FieldString, Indexes: []string{r.table + "_aggregate"}},
			{Name: "event_id", Type: orm.FieldString, Unique: true},
			{Name: "event_type", Type: orm.FieldString},
			{Name: "event_data", Type: orm.FieldText},
			{Name: "status", Type: orm.FieldString, Indexes: []string{r.table + "_status_retry"}},
			{Name: "created_at", Type: orm.FieldTime, Indexes: []string{r.table + "_created_at"}},
			{Name: "published_at", Type: orm.FieldTime, Nullable: true},
			{Name: "retry_count", Type: orm.FieldInteger, DefaultValue: "0"},
			{Name: "last_error", Type: orm.FieldText, Nullable: true},
			{Name: "next_retry_at", Type: orm.FieldTime, Nullable: true, Indexes: []string{r.table + "_status_retry"}},
		},
	}
}

// EnsureTable 建表及索引（IF NOT EXISTS）
func (r *SQLRepository) EnsureTable(ctx context.Context) error {
	d := dialect.FromDatabase(r.db)
	meta := r.Meta()
	stmt, err := basic.CreateTableSQL(d, meta)
	if err != nil {
		return err
	}
	stmts := append([]string{stmt}, basic.CreateIndexSQL(d, meta)...)
	for _, s := range stmts {
		if _, err := r.db.Exec(ctx, s); err != nil {
			return errors.WrapError(err, errors.ErrCodeDatabase, "创建 outbox 表失败").
				WithContext("table", r.table)
		}
	}
	r.logger.Debug(ctx, "outbox table ready", logging.String("table", r.table))
	return nil
}

// Append 在 db 上追加记录；db 为空时使用仓储自身连接
func (r *SQLRepository) Append(ctx context.Context, db core.IDatabase, entries ...Entry) error {
	if db == nil {
		db = r.db
	}
	for _, e := range entries {
		status := e.Status
		if status == "" {
			status = StatusPending
		}
		createdAt := e.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now().UTC()
		}
		_, err := sqlbuilder.New(db).InsertInto(r.table).
			Columns("aggregate_id", "aggregate_type", "event_id", "event_type", "event_data", "status", "created_at", "retry_count").
			Values(e.AggregateID, e.AggregateType, e.EventID, e.EventType, e.EventData, string(status), createdAt.UTC(), e.RetryCount).
			Exec(ctx)
		if err != nil {
			return errors.WrapDatabaseError(ctx, err, "写入 outbox 记录", logging.String("event_id", e.EventID))
		}
	}
	return nil
}

// GetPendingEntries 按创建顺序返回待发布记录，以及已到重试时间且未超过重试上限的失败记录
func (r *SQLRepository) GetPendingEntries(ctx context.Context, limit int) ([]Entry, error) {
	rows, err := sqlbuilder.New(r.db).Select(entryColumns...).
		From(r.table).
		Where("status = ?", string(StatusPending)).
		Or("(status = ? AND retry_count < ? AND (next_retry_at IS NULL OR next_retry_at <= ?))",
			string(StatusFailed), r.maxRetries, time.Now().UTC()).
		OrderBy("created_at ASC, id ASC").
		Limit(limit).
		Query(ctx)
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrCodeDatabase, "查询待发布 outbox 记录失败")
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, errors.WrapError(err, errors.ErrCodeDatabase, "读取 outbox 记录失败")
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// MarkAsPublished 在一条语句内标记为已发布
func (r *SQLRepository) MarkAsPublished(ctx context.Context, entryIDs ...int64) error {
	if len(entryIDs) == 0 {
		return nil
	}
	ids := make([]any, len(entryIDs))
	for i, id := range entryIDs {
		ids[i] = id
	}
	_, err := sqlbuilder.New(r.db).Update(r.table).
		Set("status", string(StatusPublished)).
		Set("published_at", time.Now().UTC()).
		WhereIn("id", ids...).
		Exec(ctx)
	if err != nil {
		r.logger.Warn(ctx, "mark outbox entries published failed", logging.Int("entries", len(entryIDs)), logging.Error(err))
		return errors.WrapError(err, errors.ErrCodeDatabase, "标记 outbox 记录已发布失败")
	}
	return nil
}

// MarkAsFailed 记录失败原因，重试次数加一
func (r *SQLRepository) MarkAsFailed(ctx context.Context, entryID int64, errorMsg string, nextRetryAt time.Time) error {
	_, err := sqlbuilder.New(r.db).Update(r.table).
		Set("status", string(StatusFailed)).
		Set("last_error", errorMsg).
		SetExpr("retry_count = retry_count + 1").
		Set("next_retry_at", nextRetryAt.UTC()).
		Where("id = ?", entryID).
		Exec(ctx)
	if err != nil {
		r.logger.Warn(ctx, "mark outbox entry failed failed", logging.Int64("entry_id", entryID), logging.Error(err))
		return errors.WrapError(err, errors.ErrCodeDatabase, "标记 outbox 记录失败状态失败")
	}
	return nil
}

// DeletePublished 删除 olderThan 之前发布的记录
func (r *SQLRepository) DeletePublished(ctx context.Context, olderThan time.Time) error {
	result, err := sqlbuilder.New(r.db).DeleteFrom(r.table).
		Where("status = ?", string(StatusPublished)).
		Where("published_at < ?", olderThan.UTC()).
		Exec(ctx)
	if err != nil {
		return errors.WrapError(err, errors.ErrCodeDatabase, "清理 outbox 记录失败")
	}
	if n, _ := result.RowsAffected(); n > 0 {
		r.logger.Info(ctx, "outbox published entries purged", logging.Int64("deleted", n))
	}
	return nil
}

// CountByStatus 按状态统计记录数
func (r *SQLRepository) CountByStatus(ctx context.Context) (map[Status]int64, error) {
	rows, err := sqlbuilder.New(r.db).Select("status", "COUNT(*)").
		From(r.table).
		GroupBy("status").
		Query(ctx)
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrCodeDatabase, "统计 outbox 记录失败")
	}
	defer rows.Close()

	counts := map[Status]int64{StatusPending: 0, StatusPublished: 0, StatusFailed: 0}
	for rows.Next() {
		var status string
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[Status(status)] = n
	}
	return counts, rows.Err()
}

func scanEntry(rows core.IRows) (Entry, error) {
	var (
		e                                   Entry
		status                              string
		createdAt, publishedAt, nextRetryAt any
		lastError                           *string
	)
	if err := rows.Scan(&e.ID, &e.AggregateID, &e.AggregateType, &e.EventID, &e.EventType, &e.EventData,
		&status, &createdAt, &publishedAt, &e.RetryCount, &lastError, &nextRetryAt); err != nil {
		return Entry{}, err
	}
	e.Status = Status(status)
	if lastError != nil {
		e.LastError = *lastError
	}
	var err error
	if e.CreatedAt, err = timeOf(createdAt); err != nil {
		return Entry{}, err
	}
	if e.PublishedAt, err = optionalTime(publishedAt); err != nil {
		return Entry{}, err
	}
	if e.NextRetryAt, err = optionalTime(nextRetryAt); err != nil {
		return Entry{}, err
	}
	return e, nil
}

var timeLayouts = []string{
	"2006-01-02 15:04:05.999999999-07:00",
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
}

// timeOf 驱动可能返回 time.Time，也可能返回文本（sqlite）
func timeOf(v any) (time.Time, error) {
	switch t := v.(type) {
	case time.Time:
		return t.UTC(), nil
	case []byte:
		return timeOf(string(t))
	case string:
		for _, layout := range timeLayouts {
			if parsed, err := time.Parse(layout, t); err == nil {
				return parsed.UTC(), nil
			}
		}
		return time.Time{}, fmt.Errorf("unrecognized time %q", t)
	case nil:
		return time.Time{}, nil
	default:
		return time.Time{}, fmt.Errorf("unsupported time value %T", v)
	}
}

func optionalTime(v any) (*time.Time, error) {
	if v == nil {
		return nil, nil
	}
	t, err := timeOf(v)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
