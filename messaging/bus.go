package messaging

import (
	"context"
	"sync"

	"gorevision/errors"
)

// IMiddleware 发布侧中间件
type IMiddleware interface {
	Handle(ctx context.Context, message IMessage, next HandlerFunc) error
	Name() string
}

// IMessageBus 消息总线接口
type IMessageBus interface {
	IPublisher
	Subscribe(ctx context.Context, messageType string, handler IMessageHandler) error
	Unsubscribe(ctx context.Context, messageType string, handler IMessageHandler) error
	PublishAll(ctx context.Context, messages []IMessage) error
	Use(middleware IMiddleware)
}

// MessageBus 在 Transport 之上叠加发布侧中间件。
//
// 中间件按注册顺序执行，最后交给 Transport；订阅与生命周期直接委托给 Transport。
type MessageBus struct {
	transport Transport

	mu          sync.RWMutex
	middlewares []IMiddleware
}

// NewMessageBus 创建消息总线
func NewMessageBus(transport Transport) *MessageBus {
	return &MessageBus{transport: transport}
}

// Transport 返回底层传输
func (bus *MessageBus) Transport() Transport { return bus.transport }

// Use 注册中间件
func (bus *MessageBus) Use(middleware IMiddleware) {
	bus.mu.Lock()
	defer bus.mu.Unlock()
	bus.middlewares = append(bus.middlewares, middleware)
}

// Middlewares 返回已注册中间件名称
func (bus *MessageBus) Middlewares() []string {
	bus.mu.RLock()
	defer bus.mu.RUnlock()
	names := make([]string, len(bus.middlewares))
	for i, mw := range bus.middlewares {
		names[i] = mw.Name()
	}
	return names
}

func (bus *MessageBus) Subscribe(ctx context.Context, messageType string, handler IMessageHandler) error {
	return bus.transport.Subscribe(messageType, handler)
}

func (bus *MessageBus) Unsubscribe(ctx context.Context, messageType string, handler IMessageHandler) error {
	return bus.transport.Unsubscribe(messageType, handler)
}

// Start 启动底层传输
func (bus *MessageBus) Start(ctx context.Context) error { return bus.transport.Start(ctx) }

// Close 关闭底层传输
func (bus *MessageBus) Close() error { return bus.transport.Close() }

// Stats 底层传输统计
func (bus *MessageBus) Stats() TransportStats { return bus.transport.Stats() }

// Publish 经过中间件链后交给 Transport
func (bus *MessageBus) Publish(ctx context.Context, message IMessage) error {
	return bus.chain(bus.transport.Publish)(ctx, message)
}

// PublishAll 每条消息单独经过中间件链，全部通过后整批交给 Transport；
// 任一中间件拒绝时整批不发送
func (bus *MessageBus) PublishAll(ctx context.Context, messages []IMessage) error {
	if len(messages) == 0 {
		return nil
	}

	batch := make([]IMessage, 0, len(messages))
	collect := bus.chain(func(ctx context.Context, msg IMessage) error {
		batch = append(batch, msg)
		return nil
	})
	for _, message := range messages {
		if err := collect(ctx, message); err != nil {
			return errors.WrapError(err, errors.ErrCodeQueue, "消息被中间件拒绝").
				WithContext("message_id", message.GetID())
		}
	}
	if len(batch) == 0 {
		return nil
	}
	if err := bus.transport.PublishAll(ctx, batch); err != nil {
		return errors.WrapError(err, errors.ErrCodeQueue, "批量发布失败").
			WithContext("count", len(batch))
	}
	return nil
}

// chain 由内向外包装 final，返回中间件链入口
func (bus *MessageBus) chain(final HandlerFunc) HandlerFunc {
	bus.mu.RLock()
	middlewares := bus.middlewares
	bus.mu.RUnlock()

	next := final
	for i := len(middlewares) - 1; i >= 0; i-- {
		next = wrap(middlewares[i], next)
	}
	return next
}

func wrap(mw IMiddleware, next HandlerFunc) HandlerFunc {
	return func(ctx context.Context, msg IMessage) error {
		return mw.Handle(ctx, msg, next)
	}
}
