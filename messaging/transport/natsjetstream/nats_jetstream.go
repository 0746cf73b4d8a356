// Package natsjetstream 基于 NATS JetStream 实现 messaging.Transport。
//
// 发布时以消息 ID 作为 Nats-Msg-Id，relay 重试造成的重复发布在去重窗口内由服务端丢弃。
package natsjetstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"gorevision/logging"
	"gorevision/messaging"
)

// Config JetStream 传输配置
type Config struct {
	URL           string         `mapstructure:"url"`
	Stream        string         `mapstructure:"stream"`
	SubjectPrefix string         `mapstructure:"subject_prefix"`
	DurablePrefix string         `mapstructure:"durable_prefix"`
	AckWait       time.Duration  `mapstructure:"ack_wait"`
	MaxAckPending int            `mapstructure:"max_ack_pending"`
	Logger        logging.Logger `mapstructure:"-"`
	Conn          *nats.Conn     `mapstructure:"-"`

	// 流参数
	Retention         string        `mapstructure:"retention"` // limits|workqueue|interest，默认 limits
	MaxBytes          int64         `mapstructure:"max_bytes"`
	Replicas          int           `mapstructure:"replicas"`
	MaxMsgsPerSubject int64         `mapstructure:"max_msgs_per_subject"`
	Duplicates        time.Duration `mapstructure:"duplicates"` // 去重窗口，0 为服务端默认（2 分钟）
}

// Transport JetStream 传输
type Transport struct {
	cfg      Config
	logger   logging.Logger
	conn     *nats.Conn
	js       nats.JetStreamContext
	ownsConn bool

	handlers *messaging.HandlerSet
	subs     map[string]*nats.Subscription

	mu      sync.Mutex
	running bool
}

// NewTransport 创建传输，连接在 Start 时建立
func NewTransport(cfg Config) *Transport {
	if cfg.Stream == "" {
		cfg.Stream = "REVISIONS"
	}
	if cfg.SubjectPrefix == "" {
		cfg.SubjectPrefix = "revision."
	}
	if !strings.HasSuffix(cfg.SubjectPrefix, ".") {
		cfg.SubjectPrefix += "."
	}
	if cfg.DurablePrefix == "" {
		cfg.DurablePrefix = "gorevision-"
	}
	if cfg.AckWait <= 0 {
		cfg.AckWait = 30 * time.Second
	}
	if cfg.MaxAckPending <= 0 {
		cfg.MaxAckPending = 1024
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.ComponentLogger("messaging.transport.nats")
	}
	return &Transport{
		cfg:      cfg,
		logger:   cfg.Logger,
		handlers: messaging.NewHandlerSet(),
		subs:     make(map[string]*nats.Subscription),
	}
}

// Publish 发布到 SubjectPrefix+类型，带 MsgId 去重
func (t *Transport) Publish(ctx context.Context, message messaging.IMessage) error {
	t.mu.Lock()
	js, running := t.js, t.running
	t.mu.Unlock()
	if !running || js == nil {
		return errors.New("nats transport not running")
	}
	data, err := marshalMessage(message)
	if err != nil {
		return fmt.Errorf("encode message %s: %w", message.GetID(), err)
	}
	opts := []nats.PubOpt{nats.Context(ctx)}
	if id := message.GetID(); id != "" {
		opts = append(opts, nats.MsgId(id))
	}
	_, err = js.Publish(t.subjectName(message.GetType()), data, opts...)
	return err
}

// PublishAll 逐条发布
func (t *Transport) PublishAll(ctx context.Context, messages []messaging.IMessage) error {
	for _, msg := range messages {
		if err := t.Publish(ctx, msg); err != nil {
			return err
		}
	}
	return nil
}

// Subscribe 登记处理器；运行中订阅新类型会立即创建 durable 队列订阅
func (t *Transport) Subscribe(messageType string, handler messaging.IMessageHandler) error {
	t.handlers.Add(messageType, handler)
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.running {
		return t.subscribeLocked(messageType)
	}
	return nil
}

// Unsubscribe 移除处理器；类型已无处理器时 drain 对应订阅
func (t *Transport) Unsubscribe(messageType string, handler messaging.IMessageHandler) error {
	_, empty := t.handlers.Remove(messageType, handler)
	if !empty {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if sub, ok := t.subs[messageType]; ok {
		_ = sub.Drain()
		delete(t.subs, messageType)
	}
	return nil
}

// Start 建立连接、确保 stream 存在并订阅已登记的类型
func (t *Transport) Start(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.running {
		return errors.New("nats transport already running")
	}
	if err := t.ensureConnection(); err != nil {
		return err
	}
	if err := t.ensureStream(); err != nil {
		return err
	}
	for _, mt := range t.handlers.Types() {
		if err := t.subscribeLocked(mt); err != nil {
			return err
		}
	}
	t.running = true
	return nil
}

// Close drain 全部订阅；自建的连接随之关闭
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.running = false
	for mt, sub := range t.subs {
		_ = sub.Drain()
		delete(t.subs, mt)
	}
	if t.ownsConn && t.conn != nil {
		t.conn.Close()
	}
	t.conn = nil
	t.js = nil
	return nil
}

// Stats 返回统计信息
func (t *Transport) Stats() messaging.TransportStats {
	t.mu.Lock()
	running := t.running
	t.mu.Unlock()
	return t.handlers.Stats(running)
}

func (t *Transport) ensureConnection() error {
	if t.conn != nil && t.js != nil {
		return nil
	}
	if t.cfg.Conn != nil {
		t.conn = t.cfg.Conn
	} else {
		url := t.cfg.URL
		if url == "" {
			url = nats.DefaultURL
		}
		conn, err := nats.Connect(url, nats.Name("gorevision"))
		if err != nil {
			return fmt.Errorf("connect nats %s: %w", url, err)
		}
		t.conn = conn
		t.ownsConn = true
	}
	js, err := t.conn.JetStream()
	if err != nil {
		return err
	}
	t.js = js
	return nil
}

func (t *Transport) ensureStream() error {
	_, err := t.js.StreamInfo(t.cfg.Stream)
	if err == nil {
		return nil
	}
	if !errors.Is(err, nats.ErrStreamNotFound) {
		return err
	}
	_, err = t.js.AddStream(t.streamConfig())
	return err
}

func (t *Transport) streamConfig() *nats.StreamConfig {
	retention := nats.LimitsPolicy
	switch strings.ToLower(t.cfg.Retention) {
	case "workqueue":
		retention = nats.WorkQueuePolicy
	case "interest":
		retention = nats.InterestPolicy
	}
	sc := &nats.StreamConfig{
		Name:              t.cfg.Stream,
		Subjects:          []string{t.cfg.SubjectPrefix + ">"},
		Retention:         retention,
		MaxMsgsPerSubject: -1,
		Duplicates:        t.cfg.Duplicates,
	}
	if t.cfg.MaxMsgsPerSubject != 0 {
		sc.MaxMsgsPerSubject = t.cfg.MaxMsgsPerSubject
	}
	if t.cfg.MaxBytes > 0 {
		sc.MaxBytes = t.cfg.MaxBytes
	}
	if t.cfg.Replicas > 0 {
		sc.Replicas = t.cfg.Replicas
	}
	return sc
}

func (t *Transport) subscribeLocked(messageType string) error {
	if _, exists := t.subs[messageType]; exists {
		return nil
	}
	subject := t.subjectName(messageType)
	durable := t.durableName(messageType)
	sub, err := t.js.QueueSubscribe(subject, durable, t.handleMessage(messageType),
		nats.ManualAck(),
		nats.Durable(durable),
		nats.AckWait(t.cfg.AckWait),
		nats.MaxAckPending(t.cfg.MaxAckPending))
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", subject, err)
	}
	t.subs[messageType] = sub
	return nil
}

// handleMessage 处理器全部成功才 Ack，否则 Nak 交由服务端重投
func (t *Transport) handleMessage(subscribedType string) nats.MsgHandler {
	return func(msg *nats.Msg) {
		ctx := context.Background()
		decoded, err := unmarshalMessage(msg.Data)
		if err != nil {
			t.logger.Warn(ctx, "decode nats message failed", logging.String("subject", msg.Subject), logging.Error(err))
			_ = msg.Term()
			return
		}
		if decoded.Type == "" {
			decoded.Type = subscribedType
		}
		if err := t.dispatch(ctx, subscribedType, decoded); err != nil {
			_ = msg.Nak()
			return
		}
		if err := msg.Ack(); err != nil {
			t.logger.Warn(ctx, "nats ack failed", logging.String("message_id", decoded.ID), logging.Error(err))
		}
	}
}

// dispatch 每个订阅只调用登记在其类型下的处理器；"*" 订阅的 subject 已覆盖全部类型
func (t *Transport) dispatch(ctx context.Context, subscribedType string, message messaging.IMessage) error {
	var failed error
	for _, h := range t.handlers.Handlers(subscribedType) {
		if err := h.Handle(ctx, message); err != nil {
			t.logger.Warn(ctx, "message handler failed",
				logging.String("message_id", message.GetID()),
				logging.String("handler", h.Type()),
				logging.Error(err))
			failed = err
		}
	}
	return failed
}

// subjectName 通配符映射为 JetStream 的 ">"
func (t *Transport) subjectName(messageType string) string {
	if messageType == messaging.Wildcard {
		return t.cfg.SubjectPrefix + ">"
	}
	return t.cfg.SubjectPrefix + messageType
}

// durableName durable 名不允许包含 "." "*" ">" 与空白
func (t *Transport) durableName(messageType string) string {
	if messageType == messaging.Wildcard {
		messageType = "all"
	}
	return t.cfg.DurablePrefix + strings.NewReplacer(".", "_", "*", "_", ">", "_", " ", "_").Replace(messageType)
}

type wireMessage struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Timestamp int64           `json:"timestamp"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Metadata  map[string]any  `json:"metadata"`
}

func marshalMessage(msg messaging.IMessage) ([]byte, error) {
	payload, err := json.Marshal(msg.GetPayload())
	if err != nil {
		return nil, err
	}
	ts := msg.GetTimestamp()
	if ts.IsZero() {
		ts = time.Now()
	}
	return json.Marshal(wireMessage{
		ID:        msg.GetID(),
		Type:      msg.GetType(),
		Timestamp: ts.UnixNano(),
		Payload:   payload,
		Metadata:  msg.GetMetadata(),
	})
}

// unmarshalMessage 负载保留为 json.RawMessage
func unmarshalMessage(data []byte) (*messaging.Message, error) {
	var wire wireMessage
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, err
	}
	var payload any
	if len(wire.Payload) > 0 && string(wire.Payload) != "null" {
		payload = wire.Payload
	}
	if wire.Metadata == nil {
		wire.Metadata = make(map[string]any)
	}
	return &messaging.Message{
		ID:        wire.ID,
		Type:      wire.Type,
		Timestamp: time.Unix(0, wire.Timestamp),
		Payload:   payload,
		Metadata:  wire.Metadata,
	}, nil
}
