// Package redisstreams 基于 Redis Streams 消费组实现 messaging.Transport。
//
// 每种消息类型对应一个 stream（StreamPrefix + 类型），同一 GroupName 下的多个实例分摊消费。
package redisstreams

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"gorevision/logging"
	"gorevision/messaging"
)

// client go-redis 命令子集，便于测试替换
type client interface {
	XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd
	XReadGroup(ctx context.Context, a *redis.XReadGroupArgs) *redis.XStreamSliceCmd
	XAck(ctx context.Context, stream, group string, ids ...string) *redis.IntCmd
	XGroupCreateMkStream(ctx context.Context, stream, group, start string) *redis.StatusCmd
	Close() error
}

// Config Redis Streams 传输配置
type Config struct {
	Client       redis.UniversalClient `mapstructure:"-"`
	Addr         string                `mapstructure:"addr"`
	Username     string                `mapstructure:"username"`
	Password     string                `mapstructure:"password"`
	DB           int                   `mapstructure:"db"`
	StreamPrefix string                `mapstructure:"stream_prefix"`
	GroupName    string                `mapstructure:"group_name"`
	ConsumerName string                `mapstructure:"consumer_name"`
	BlockTimeout time.Duration         `mapstructure:"block_timeout"`
	ReadCount    int64                 `mapstructure:"read_count"`
	// MaxLen 大于 0 时以近似 MAXLEN 裁剪 stream
	MaxLen int64          `mapstructure:"max_len"`
	Logger logging.Logger `mapstructure:"-"`

	// 限制同时进行的 XADD 数，0 表示不限制
	MaxPublishConcurrency int `mapstructure:"max_publish_concurrency"`
	// 读取失败时的退避区间，默认 100ms 到 5s
	MinReadBackoff time.Duration `mapstructure:"min_read_backoff"`
	MaxReadBackoff time.Duration `mapstructure:"max_read_backoff"`
}

// Transport Redis Streams 传输
type Transport struct {
	cfg       Config
	client    client
	ownClient bool
	logger    logging.Logger

	handlers *messaging.HandlerSet
	readers  map[string]bool

	mu      sync.Mutex
	running bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	pubSem chan struct{}
}

// NewTransport 创建传输；未提供 Client 时按 Addr 建立连接并在 Close 时关闭
func NewTransport(cfg Config) (*Transport, error) {
	var cl client
	own := false
	if cfg.Client != nil {
		cl = cfg.Client
	} else {
		if cfg.Addr == "" {
			return nil, errors.New("redis streams transport: addr or client required")
		}
		cl = redis.NewClient(&redis.Options{Addr: cfg.Addr, Username: cfg.Username, Password: cfg.Password, DB: cfg.DB})
		own = true
	}
	return newTransport(cfg, cl, own), nil
}

func newTransport(cfg Config, cl client, own bool) *Transport {
	if cfg.StreamPrefix == "" {
		cfg.StreamPrefix = "revision:"
	}
	if cfg.GroupName == "" {
		cfg.GroupName = "gorevision"
	}
	if cfg.ConsumerName == "" {
		cfg.ConsumerName = "consumer-" + uuid.NewString()
	}
	if cfg.BlockTimeout <= 0 {
		cfg.BlockTimeout = 5 * time.Second
	}
	if cfg.ReadCount <= 0 {
		cfg.ReadCount = 10
	}
	if cfg.MinReadBackoff <= 0 {
		cfg.MinReadBackoff = 100 * time.Millisecond
	}
	if cfg.MaxReadBackoff <= 0 {
		cfg.MaxReadBackoff = 5 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.ComponentLogger("messaging.transport.redisstreams")
	}
	t := &Transport{
		cfg:       cfg,
		client:    cl,
		ownClient: own,
		logger:    cfg.Logger,
		handlers:  messaging.NewHandlerSet(),
		readers:   make(map[string]bool),
	}
	if cfg.MaxPublishConcurrency > 0 {
		t.pubSem = make(chan struct{}, cfg.MaxPublishConcurrency)
	}
	return t
}

// Publish 将消息追加到对应 stream
func (t *Transport) Publish(ctx context.Context, message messaging.IMessage) error {
	if t.pubSem != nil {
		select {
		case t.pubSem <- struct{}{}:
			defer func() { <-t.pubSem }()
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	values, err := encodeMessage(message)
	if err != nil {
		return fmt.Errorf("encode message %s: %w", message.GetID(), err)
	}
	args := &redis.XAddArgs{Stream: t.streamName(message.GetType()), Values: values}
	if t.cfg.MaxLen > 0 {
		args.MaxLen = t.cfg.MaxLen
		args.Approx = true
	}
	return t.client.XAdd(ctx, args).Err()
}

// PublishAll 逐条 XADD
func (t *Transport) PublishAll(ctx context.Context, messages []messaging.IMessage) error {
	for _, msg := range messages {
		if err := t.Publish(ctx, msg); err != nil {
			return err
		}
	}
	return nil
}

// Subscribe 登记处理器；运行中订阅新类型会立即启动读取协程。
// 通配符 "*" 只接收已有读取协程的类型上的消息。
func (t *Transport) Subscribe(messageType string, handler messaging.IMessageHandler) error {
	t.handlers.Add(messageType, handler)
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.running && messageType != messaging.Wildcard {
		t.startReaderLocked(messageType)
	}
	return nil
}

// Unsubscribe 移除处理器，读取协程保持运行
func (t *Transport) Unsubscribe(messageType string, handler messaging.IMessageHandler) error {
	t.handlers.Remove(messageType, handler)
	return nil
}

// Start 为已登记的每种类型启动读取协程
func (t *Transport) Start(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.running {
		return fmt.Errorf("redis streams transport already running")
	}
	t.ctx, t.cancel = context.WithCancel(ctx)
	for _, mt := range t.handlers.Types() {
		if mt != messaging.Wildcard {
			t.startReaderLocked(mt)
		}
	}
	t.running = true
	return nil
}

// Close 停止读取协程；自建的客户端随之关闭
func (t *Transport) Close() error {
	t.mu.Lock()
	running := t.running
	t.running = false
	cancel := t.cancel
	t.mu.Unlock()

	if running && cancel != nil {
		cancel()
		t.wg.Wait()
	}
	if t.ownClient {
		return t.client.Close()
	}
	return nil
}

// Stats 返回统计信息
func (t *Transport) Stats() messaging.TransportStats {
	t.mu.Lock()
	running := t.running
	t.mu.Unlock()
	return t.handlers.Stats(running)
}

func (t *Transport) startReaderLocked(messageType string) {
	if t.readers[messageType] {
		return
	}
	t.readers[messageType] = true
	t.wg.Add(1)
	go t.readLoop(t.ctx, messageType)
}

func (t *Transport) readLoop(ctx context.Context, messageType string) {
	defer t.wg.Done()
	stream := t.streamName(messageType)
	if err := t.ensureGroup(ctx, stream); err != nil {
		t.logger.Warn(ctx, "ensure consumer group failed", logging.String("stream", stream), logging.Error(err))
	}
	args := &redis.XReadGroupArgs{
		Group:    t.cfg.GroupName,
		Consumer: t.cfg.ConsumerName,
		Streams:  []string{stream, ">"},
		Count:    t.cfg.ReadCount,
		Block:    t.cfg.BlockTimeout,
	}
	backoff := t.cfg.MinReadBackoff
	for ctx.Err() == nil {
		res, err := t.client.XReadGroup(ctx, args).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) || ctx.Err() != nil {
				continue
			}
			t.logger.Warn(ctx, "xreadgroup failed", logging.String("stream", stream), logging.Duration("backoff", backoff), logging.Error(err))
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return
			}
			backoff = min(backoff*2, t.cfg.MaxReadBackoff)
			continue
		}
		backoff = t.cfg.MinReadBackoff
		for _, sr := range res {
			for _, entry := range sr.Messages {
				t.consume(ctx, sr.Stream, entry)
			}
		}
	}
}

// consume 分发单条记录后 XACK；解码失败的记录同样确认，避免反复投递
func (t *Transport) consume(ctx context.Context, stream string, entry redis.XMessage) {
	msg, err := decodeMessage(entry)
	if err != nil {
		t.logger.Warn(ctx, "decode stream entry failed", logging.String("stream", stream), logging.String("entry", entry.ID), logging.Error(err))
	} else {
		t.dispatch(ctx, msg)
	}
	if err := t.client.XAck(ctx, stream, t.cfg.GroupName, entry.ID).Err(); err != nil {
		t.logger.Warn(ctx, "xack failed", logging.String("stream", stream), logging.String("entry", entry.ID), logging.Error(err))
	}
}

func (t *Transport) ensureGroup(ctx context.Context, stream string) error {
	err := t.client.XGroupCreateMkStream(ctx, stream, t.cfg.GroupName, "0").Err()
	if err == nil || strings.Contains(strings.ToUpper(err.Error()), "BUSYGROUP") {
		return nil
	}
	return err
}

func (t *Transport) dispatch(ctx context.Context, message messaging.IMessage) {
	for _, h := range t.handlers.Match(message.GetType()) {
		if err := h.Handle(ctx, message); err != nil {
			t.logger.Warn(ctx, "message handler failed",
				logging.String("message_id", message.GetID()),
				logging.String("handler", h.Type()),
				logging.Error(err))
		}
	}
}

func (t *Transport) streamName(messageType string) string {
	return t.cfg.StreamPrefix + messageType
}

func encodeMessage(msg messaging.IMessage) (map[string]any, error) {
	payload, err := json.Marshal(msg.GetPayload())
	if err != nil {
		return nil, err
	}
	metadata, err := json.Marshal(msg.GetMetadata())
	if err != nil {
		return nil, err
	}
	ts := msg.GetTimestamp()
	if ts.IsZero() {
		ts = time.Now()
	}
	return map[string]any{
		"id":        msg.GetID(),
		"type":      msg.GetType(),
		"timestamp": strconv.FormatInt(ts.UnixNano(), 10),
		"payload":   string(payload),
		"metadata":  string(metadata),
	}, nil
}

// decodeMessage 负载保留为 json.RawMessage，由订阅方按需解码
func decodeMessage(entry redis.XMessage) (messaging.IMessage, error) {
	id, _ := entry.Values["id"].(string)
	if id == "" {
		id = entry.ID
	}
	msgType, _ := entry.Values["type"].(string)

	var payload any
	if raw, _ := entry.Values["payload"].(string); raw != "" && raw != "null" {
		if !json.Valid([]byte(raw)) {
			return nil, fmt.Errorf("entry %s: invalid payload", entry.ID)
		}
		payload = json.RawMessage(raw)
	}
	metadata := make(map[string]any)
	if raw, _ := entry.Values["metadata"].(string); raw != "" && raw != "null" {
		if err := json.Unmarshal([]byte(raw), &metadata); err != nil {
			return nil, fmt.Errorf("entry %s: %w", entry.ID, err)
		}
	}

	ts := time.Now()
	switch v := entry.Values["timestamp"].(type) {
	case int64:
		ts = time.Unix(0, v)
	case string:
		if ns, err := strconv.ParseInt(v, 10, 64); err == nil {
			ts = time.Unix(0, ns)
		}
	}

	return &messaging.Message{ID: id, Type: msgType, Timestamp: ts, Payload: payload, Metadata: metadata}, nil
}
