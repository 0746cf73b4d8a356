// Package sync 提供同步消息传输：Publish 在调用方 goroutine 中依次执行处理器并回传错误。
//
// 与 outbox relay 配合时，处理器失败会让记录进入重试。
package sync

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"gorevision/messaging"
)

// SyncTransport 同步传输实现
type SyncTransport struct {
	handlers *messaging.HandlerSet
	running  atomic.Bool
}

// NewSyncTransport 创建同步传输
func NewSyncTransport() *SyncTransport {
	return &SyncTransport{handlers: messaging.NewHandlerSet()}
}

// Publish 同步执行全部匹配的处理器，错误合并返回
func (t *SyncTransport) Publish(ctx context.Context, message messaging.IMessage) error {
	if !t.running.Load() {
		return fmt.Errorf("sync transport is not running")
	}
	var errs []error
	for _, handler := range t.handlers.Match(message.GetType()) {
		if err := handler.Handle(ctx, message); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", handler.Type(), err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("message %s handled with %d errors: %w", message.GetID(), len(errs), errors.Join(errs...))
	}
	return nil
}

// PublishAll 逐条发布，遇错即停
func (t *SyncTransport) PublishAll(ctx context.Context, messages []messaging.IMessage) error {
	for _, message := range messages {
		if err := t.Publish(ctx, message); err != nil {
			return err
		}
	}
	return nil
}

func (t *SyncTransport) Subscribe(messageType string, handler messaging.IMessageHandler) error {
	t.handlers.Add(messageType, handler)
	return nil
}

func (t *SyncTransport) Unsubscribe(messageType string, handler messaging.IMessageHandler) error {
	if removed, _ := t.handlers.Remove(messageType, handler); !removed {
		return fmt.Errorf("handler not found for message type %s", messageType)
	}
	return nil
}

func (t *SyncTransport) Start(ctx context.Context) error {
	if !t.running.CompareAndSwap(false, true) {
		return fmt.Errorf("sync transport is already running")
	}
	return nil
}

func (t *SyncTransport) Close() error {
	if !t.running.CompareAndSwap(true, false) {
		return fmt.Errorf("sync transport is not running")
	}
	return nil
}

func (t *SyncTransport) Stats() messaging.TransportStats {
	return t.handlers.Stats(t.running.Load())
}
