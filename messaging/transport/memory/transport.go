// Package memory 提供基于内存队列与 worker 池的异步消息传输，适用于单进程部署与测试。
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"gorevision/logging"
	"gorevision/messaging"
)

// MemoryTransport 内存消息传输实现
//
// Publish 只负责入队，处理器由 worker 异步调用，处理器错误只记录日志不回传发布者。
type MemoryTransport struct {
	handlers    *messaging.HandlerSet
	queue       chan messaging.IMessage
	queueSize   int
	workerCount int
	logger      logging.Logger

	mutex   sync.RWMutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewMemoryTransport 创建内存传输；queueSize<=0 时为 1000，workerCount<=0 时为 4
func NewMemoryTransport(queueSize, workerCount int) *MemoryTransport {
	if queueSize <= 0 {
		queueSize = 1000
	}
	if workerCount <= 0 {
		workerCount = 4
	}
	return newMemoryTransport(queueSize, workerCount)
}

// NewMemoryTransportForTest 创建没有 worker 的传输，消息只入队不消费
func NewMemoryTransportForTest(queueSize int) *MemoryTransport {
	if queueSize <= 0 {
		queueSize = 1000
	}
	return newMemoryTransport(queueSize, 0)
}

func newMemoryTransport(queueSize, workerCount int) *MemoryTransport {
	return &MemoryTransport{
		handlers:    messaging.NewHandlerSet(),
		queue:       make(chan messaging.IMessage, queueSize),
		queueSize:   queueSize,
		workerCount: workerCount,
		logger:      logging.ComponentLogger("messaging.transport.memory"),
	}
}

// SetLogger 替换日志器
func (t *MemoryTransport) SetLogger(logger logging.Logger) {
	if logger != nil {
		t.logger = logger
	}
}

// Publish 入队；未启动或队列已满时返回错误
func (t *MemoryTransport) Publish(ctx context.Context, message messaging.IMessage) error {
	return t.PublishAll(ctx, []messaging.IMessage{message})
}

// PublishAll 逐条入队，遇到第一条失败即返回
func (t *MemoryTransport) PublishAll(ctx context.Context, messages []messaging.IMessage) error {
	t.mutex.RLock()
	defer t.mutex.RUnlock()
	if !t.running {
		return fmt.Errorf("memory transport is not running")
	}
	for _, message := range messages {
		select {
		case t.queue <- message:
		case <-ctx.Done():
			return ctx.Err()
		default:
			return fmt.Errorf("message queue is full (size %d)", t.queueSize)
		}
	}
	return nil
}

// Subscribe 登记处理器，messageType 为 "*" 时接收全部消息
func (t *MemoryTransport) Subscribe(messageType string, handler messaging.IMessageHandler) error {
	t.handlers.Add(messageType, handler)
	return nil
}

// Unsubscribe 移除处理器
func (t *MemoryTransport) Unsubscribe(messageType string, handler messaging.IMessageHandler) error {
	if removed, _ := t.handlers.Remove(messageType, handler); !removed {
		return fmt.Errorf("handler not found for message type %s", messageType)
	}
	return nil
}

// Start 启动 worker 池
func (t *MemoryTransport) Start(ctx context.Context) error {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	if t.running {
		return fmt.Errorf("memory transport is already running")
	}
	if t.queue == nil {
		t.queue = make(chan messaging.IMessage, t.queueSize)
	}
	workerCtx, cancel := context.WithCancel(ctx)
	t.cancel = cancel
	t.running = true
	for i := 0; i < t.workerCount; i++ {
		t.wg.Add(1)
		go t.worker(workerCtx, t.queue)
	}
	return nil
}

// Close 停止接收新消息，等待 worker 处理完队列中剩余的消息
func (t *MemoryTransport) Close() error {
	_, err := t.CloseWithContext(context.Background())
	return err
}

// CloseWithTimeout 在 timeout 内等待队列处理完毕
func (t *MemoryTransport) CloseWithTimeout(timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	_, err := t.CloseWithContext(ctx)
	return err
}

// CloseWithContext 关闭传输；worker 排空队列前 ctx 到期则返回错误。
// 没有 worker 时，返回仍留在队列中的消息。
func (t *MemoryTransport) CloseWithContext(ctx context.Context) ([]messaging.IMessage, error) {
	t.mutex.Lock()
	if !t.running {
		t.mutex.Unlock()
		return nil, fmt.Errorf("memory transport is not running")
	}
	t.running = false
	queue := t.queue
	t.queue = nil
	cancel := t.cancel
	t.mutex.Unlock()

	close(queue)

	if t.workerCount == 0 {
		cancel()
		pending := make([]messaging.IMessage, 0, len(queue))
		for m := range queue {
			pending = append(pending, m)
		}
		return pending, nil
	}

	done := make(chan struct{})
	go func() {
		t.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		cancel()
		return nil, nil
	case <-ctx.Done():
		cancel()
		return nil, fmt.Errorf("memory transport close: %w", ctx.Err())
	}
}

// Stats 返回统计信息
func (t *MemoryTransport) Stats() messaging.TransportStats {
	t.mutex.RLock()
	running := t.running
	depth := len(t.queue)
	t.mutex.RUnlock()

	stats := t.handlers.Stats(running)
	stats.QueueSize = t.queueSize
	stats.QueueDepth = depth
	stats.WorkerCount = t.workerCount
	return stats
}

func (t *MemoryTransport) worker(ctx context.Context, queue <-chan messaging.IMessage) {
	defer t.wg.Done()
	for {
		select {
		case message, ok := <-queue:
			if !ok {
				return
			}
			t.dispatch(ctx, message)
		case <-ctx.Done():
			return
		}
	}
}

func (t *MemoryTransport) dispatch(ctx context.Context, message messaging.IMessage) {
	for _, handler := range t.handlers.Match(message.GetType()) {
		if err := handler.Handle(ctx, message); err != nil {
			t.logger.Warn(ctx, "message handler failed",
				logging.String("message_type", message.GetType()),
				logging.String("message_id", message.GetID()),
				logging.String("handler", handler.Type()),
				logging.Error(err))
		}
	}
}
