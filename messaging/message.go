// Package messaging 提供修订通知的消息抽象：消息、处理器、传输层与带中间件的总线。
package messaging

import (
	"encoding/json"
	"fmt"
	"time"
)

// IMessage 消息接口
type IMessage interface {
	GetID() string
	GetType() string
	GetTimestamp() time.Time
	GetPayload() any
	GetMetadata() map[string]any
}

// Message 消息基础实现
type Message struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	Payload   any            `json:"payload"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

func (m *Message) GetID() string           { return m.ID }
func (m *Message) GetType() string         { return m.Type }
func (m *Message) GetTimestamp() time.Time { return m.Timestamp }
func (m *Message) GetPayload() any         { return m.Payload }

// GetMetadata 获取元数据，返回的映射可直接写入
func (m *Message) GetMetadata() map[string]any {
	if m.Metadata == nil {
		m.Metadata = make(map[string]any)
	}
	return m.Metadata
}

// SetMetadata 设置元数据
func (m *Message) SetMetadata(key string, value any) {
	m.GetMetadata()[key] = value
}

// NewMessage 创建新消息
func NewMessage(messageID, messageType string, payload any) *Message {
	return &Message{
		ID:        messageID,
		Type:      messageType,
		Timestamp: time.Now(),
		Payload:   payload,
		Metadata:  make(map[string]any),
	}
}

// DecodePayload 将负载解码到 out
//
// 负载可能是 json.RawMessage、[]byte、string，也可能是经过传输层解码后的通用结构
// （map[string]any 等），后者先重新序列化再解码。
func DecodePayload(message IMessage, out any) error {
	var data []byte
	switch p := message.GetPayload().(type) {
	case nil:
		return fmt.Errorf("message %s has no payload", message.GetID())
	case json.RawMessage:
		data = p
	case []byte:
		data = p
	case string:
		data = []byte(p)
	default:
		encoded, err := json.Marshal(p)
		if err != nil {
			return fmt.Errorf("encode payload of message %s: %w", message.GetID(), err)
		}
		data = encoded
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode payload of message %s: %w", message.GetID(), err)
	}
	return nil
}
