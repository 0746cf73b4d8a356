// Package ambient 提供沿调用链传播的上下文槽位（当前操作者、元数据等）。
//
// 槽位保存在 context.Context 中，按命名空间隔离；在同一命名空间内写入新值不会影响父 context。
//
// 示例:
//
//	ns := ambient.CreateNamespace("app")
//	ctx = ns.With(ctx, "userId", 42)
//	userID, _ := ns.Get(ctx, "userId") // 42
package ambient

import (
	"context"
	"sync"
)

// Store 只读的上下文槽位来源
type Store interface {
	Get(ctx context.Context, key string) (any, bool)
}

type namespaceKey struct{ name string }

// Namespace 命名空间
type Namespace struct {
	name string
	key  namespaceKey
}

// Name 返回命名空间名称
func (n *Namespace) Name() string { return n.name }

// Get 读取槽位
func (n *Namespace) Get(ctx context.Context, key string) (any, bool) {
	if ctx == nil {
		return nil, false
	}
	values, _ := ctx.Value(n.key).(map[string]any)
	v, ok := values[key]
	return v, ok
}

// Active 判断 context 中是否存在该命名空间的槽位
func (n *Namespace) Active(ctx context.Context) bool {
	if ctx == nil {
		return false
	}
	_, ok := ctx.Value(n.key).(map[string]any)
	return ok
}

// With 返回写入了 key 的新 context
func (n *Namespace) With(ctx context.Context, key string, value any) context.Context {
	return n.WithValues(ctx, map[string]any{key: value})
}

// WithValues 返回批量写入槽位的新 context
func (n *Namespace) WithValues(ctx context.Context, values map[string]any) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	parent, _ := ctx.Value(n.key).(map[string]any)
	merged := make(map[string]any, len(parent)+len(values))
	for k, v := range parent {
		merged[k] = v
	}
	for k, v := range values {
		merged[k] = v
	}
	return context.WithValue(ctx, n.key, merged)
}

// Run 在写入 values 的 context 中执行 fn
func (n *Namespace) Run(ctx context.Context, values map[string]any, fn func(ctx context.Context) error) error {
	return fn(n.WithValues(ctx, values))
}

var (
	mu         sync.RWMutex
	namespaces = make(map[string]*Namespace)
)

// CreateNamespace 创建命名空间，已存在时返回已有实例
func CreateNamespace(name string) *Namespace {
	mu.Lock()
	defer mu.Unlock()
	if ns, ok := namespaces[name]; ok {
		return ns
	}
	ns := &Namespace{name: name, key: namespaceKey{name: name}}
	namespaces[name] = ns
	return ns
}

// GetNamespace 查找命名空间
func GetNamespace(name string) (*Namespace, bool) {
	mu.RLock()
	defer mu.RUnlock()
	ns, ok := namespaces[name]
	return ns, ok
}

// DestroyNamespace 从注册表移除命名空间；已写入 context 的槽位仍可通过原实例读取
func DestroyNamespace(name string) {
	mu.Lock()
	defer mu.Unlock()
	delete(namespaces, name)
}
