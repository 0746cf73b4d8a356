package messaging

import (
	"context"
	"sort"
	"sync"
)

// Wildcard 订阅全部消息类型
const Wildcard = "*"

// IMessageHandler 消息处理器接口
type IMessageHandler interface {
	// Handle 处理消息
	Handle(ctx context.Context, message IMessage) error

	// Type 返回处理器类型（用于日志和调试）
	Type() string
}

// HandlerFunc 是中间件链和函数式处理器的基本执行单元
type HandlerFunc func(ctx context.Context, message IMessage) error

type funcHandler struct {
	name string
	fn   HandlerFunc
}

func (h *funcHandler) Handle(ctx context.Context, message IMessage) error { return h.fn(ctx, message) }
func (h *funcHandler) Type() string                                       { return h.name }

// NewHandler 用函数构造处理器；返回指针，便于 Unsubscribe 按身份移除
func NewHandler(name string, fn HandlerFunc) IMessageHandler {
	return &funcHandler{name: name, fn: fn}
}

// HandlerSet 按消息类型登记处理器，供各传输实现共用
type HandlerSet struct {
	mu       sync.RWMutex
	handlers map[string][]IMessageHandler
}

// NewHandlerSet 创建处理器集合
func NewHandlerSet() *HandlerSet {
	return &HandlerSet{handlers: make(map[string][]IMessageHandler)}
}

// Add 登记处理器，返回该类型此前是否没有处理器
func (s *HandlerSet) Add(messageType string, handler IMessageHandler) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	first := len(s.handlers[messageType]) == 0
	s.handlers[messageType] = append(s.handlers[messageType], handler)
	return first
}

// Remove 移除处理器，返回该类型是否已无处理器
func (s *HandlerSet) Remove(messageType string, handler IMessageHandler) (removed, empty bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	handlers := s.handlers[messageType]
	for i, h := range handlers {
		if h == handler {
			rest := make([]IMessageHandler, 0, len(handlers)-1)
			rest = append(rest, handlers[:i]...)
			rest = append(rest, handlers[i+1:]...)
			if len(rest) == 0 {
				delete(s.handlers, messageType)
			} else {
				s.handlers[messageType] = rest
			}
			return true, len(rest) == 0
		}
	}
	return false, len(handlers) == 0
}

// Match 返回精确匹配与通配符处理器的快照
func (s *HandlerSet) Match(messageType string) []IMessageHandler {
	s.mu.RLock()
	defer s.mu.RUnlock()
	exact := s.handlers[messageType]
	var wildcard []IMessageHandler
	if messageType != Wildcard {
		wildcard = s.handlers[Wildcard]
	}
	out := make([]IMessageHandler, 0, len(exact)+len(wildcard))
	out = append(out, exact...)
	return append(out, wildcard...)
}

// Handlers 只返回精确登记在 messageType 下的处理器快照
func (s *HandlerSet) Handlers(messageType string) []IMessageHandler {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]IMessageHandler(nil), s.handlers[messageType]...)
}

// Types 返回已登记的消息类型（排序）
func (s *HandlerSet) Types() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	types := make([]string, 0, len(s.handlers))
	for mt := range s.handlers {
		types = append(types, mt)
	}
	sort.Strings(types)
	return types
}

// Count 返回处理器总数
func (s *HandlerSet) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, hs := range s.handlers {
		n += len(hs)
	}
	return n
}

// Stats 以当前登记情况填充统计信息
func (s *HandlerSet) Stats(running bool) TransportStats {
	return TransportStats{Running: running, HandlerCount: s.Count(), MessageTypes: s.Types()}
}
