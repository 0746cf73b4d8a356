// Package transport 按配置构造消息传输实现。
package transport

import (
	"fmt"
	"strings"

	"gorevision/errors"
	"gorevision/messaging"
	"gorevision/messaging/transport/memory"
	"gorevision/messaging/transport/natsjetstream"
	"gorevision/messaging/transport/redisstreams"
	synctransport "gorevision/messaging/transport/sync"
)

// 支持的传输类型
const (
	KindMemory = "memory"
	KindSync   = "sync"
	KindRedis  = "redis"
	KindNATS   = "nats"
)

// MemoryConfig 内存传输参数
type MemoryConfig struct {
	QueueSize   int `mapstructure:"queue_size"`
	WorkerCount int `mapstructure:"worker_count"`
}

// Config 传输配置，Kind 决定使用哪一段子配置
type Config struct {
	Kind   string               `mapstructure:"kind" validate:"omitempty,oneof=memory sync redis nats"`
	Memory MemoryConfig         `mapstructure:"memory"`
	Redis  redisstreams.Config  `mapstructure:"redis"`
	NATS   natsjetstream.Config `mapstructure:"nats"`
}

// DefaultConfig 默认使用内存传输
func DefaultConfig() Config {
	return Config{Kind: KindMemory, Memory: MemoryConfig{QueueSize: 1000, WorkerCount: 4}}
}

// New 构造传输；Kind 为空时使用内存传输
func New(cfg Config) (messaging.Transport, error) {
	switch strings.ToLower(cfg.Kind) {
	case "", KindMemory:
		return memory.NewMemoryTransport(cfg.Memory.QueueSize, cfg.Memory.WorkerCount), nil
	case KindSync:
		return synctransport.NewSyncTransport(), nil
	case KindRedis:
		t, err := redisstreams.NewTransport(cfg.Redis)
		if err != nil {
			return nil, errors.WrapError(err, errors.ErrCodeConfiguration, "redis streams 传输配置无效")
		}
		return t, nil
	case KindNATS:
		return natsjetstream.NewTransport(cfg.NATS), nil
	default:
		return nil, errors.NewError(errors.ErrCodeConfiguration, fmt.Sprintf("未知的传输类型: %s", cfg.Kind))
	}
}
