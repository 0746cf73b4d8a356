// Package outbox 实现 Outbox Pattern，保证修订通知与业务写入的原子性
//
// 通知记录与修订记录写在同一事务内；Relay 在事务提交后异步拉取并发布到消息传输层，
// 发布失败按指数退避重试。外层事务回滚时通知记录随之回滚，不会被发布。
package outbox

import (
	"context"
	"encoding/json"
	"time"

	core "gorevision/data/db"
	"gorevision/messaging"
)

// Status 表示 Outbox 记录的状态
type Status string

const (
	StatusPending   Status = "pending"   // 待发布
	StatusPublished Status = "published" // 已发布
	StatusFailed    Status = "failed"    // 发布失败
)

// Entry 表示一条待发布的通知记录
type Entry struct {
	ID            int64      `json:"id"`
	AggregateID   string     `json:"aggregate_id"`
	AggregateType string     `json:"aggregate_type"`
	EventID       string     `json:"event_id"`
	EventType     string     `json:"event_type"`
	EventData     string     `json:"event_data"` // JSON 序列化的消息负载
	Status        Status     `json:"status"`
	CreatedAt     time.Time  `json:"created_at"`
	PublishedAt   *time.Time `json:"published_at,omitempty"`
	RetryCount    int        `json:"retry_count"`
	LastError     string     `json:"last_error,omitempty"`
	NextRetryAt   *time.Time `json:"next_retry_at,omitempty"`
}

// IWriter 在调用方提供的连接（通常为事务）上追加记录
type IWriter interface {
	Append(ctx context.Context, db core.IDatabase, entries ...Entry) error
}

// IRepository Outbox 仓储
type IRepository interface {
	IWriter

	// GetPendingEntries 获取待发布及到达重试时间的失败记录
	GetPendingEntries(ctx context.Context, limit int) ([]Entry, error)

	// MarkAsPublished 将一批记录标记为已发布
	MarkAsPublished(ctx context.Context, entryIDs ...int64) error

	// MarkAsFailed 标记记录为发布失败，并设置下次重试时间
	MarkAsFailed(ctx context.Context, entryID int64, errorMsg string, nextRetryAt time.Time) error

	// DeletePublished 删除已发布的记录（清理历史数据）
	DeletePublished(ctx context.Context, olderThan time.Time) error
}

// Config Outbox 配置
type Config struct {
	// 发布间隔
	PublishInterval time.Duration `mapstructure:"publish_interval" validate:"gt=0"`

	// 每次处理的最大记录数
	BatchSize int `mapstructure:"batch_size" validate:"gt=0"`

	// 最大重试次数（超过后不再拉取）
	MaxRetries int `mapstructure:"max_retries" validate:"gte=0"`

	// 重试间隔（指数退避）
	RetryInterval time.Duration `mapstructure:"retry_interval" validate:"gt=0"`

	// 保留已发布记录的时间
	RetentionPeriod time.Duration `mapstructure:"retention_period" validate:"gte=0"`
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		PublishInterval: 5 * time.Second,
		BatchSize:       100,
		MaxRetries:      5,
		RetryInterval:   30 * time.Second,
		RetentionPeriod: 7 * 24 * time.Hour,
	}
}

// NewEntry 将负载序列化为待发布记录
func NewEntry(eventID, eventType, aggregateType, aggregateID string, payload any) (Entry, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Entry{}, err
	}
	return Entry{
		AggregateID:   aggregateID,
		AggregateType: aggregateType,
		EventID:       eventID,
		EventType:     eventType,
		EventData:     string(data),
		Status:        StatusPending,
		CreatedAt:     time.Now().UTC(),
	}, nil
}

// ToMessage 将记录还原为消息，负载保持为 json.RawMessage
func (e *Entry) ToMessage() (*messaging.Message, error) {
	var raw json.RawMessage
	if err := json.Unmarshal([]byte(e.EventData), &raw); err != nil {
		return nil, err
	}
	msg := messaging.NewMessage(e.EventID, e.EventType, raw)
	msg.Timestamp = e.CreatedAt
	msg.SetMetadata("aggregate_type", e.AggregateType)
	msg.SetMetadata("aggregate_id", e.AggregateID)
	return msg, nil
}

// ShouldRetry 判断是否应该重试
func (e *Entry) ShouldRetry(maxRetries int, now time.Time) bool {
	return e.Status == StatusFailed &&
		e.RetryCount < maxRetries &&
		(e.NextRetryAt == nil || !now.Before(*e.NextRetryAt))
}

// NextRetryTime 计算下次重试时间：baseInterval * 2^retryCount，放大倍数上限 32
func (e *Entry) NextRetryTime(now time.Time, baseInterval time.Duration) time.Time {
	retryCount := e.RetryCount
	if retryCount < 0 {
		retryCount = 0
	}
	if retryCount > 5 {
		retryCount = 5
	}
	return now.Add(baseInterval * time.Duration(1<<retryCount))
}
