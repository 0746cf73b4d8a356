package outbox

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"gorevision/errors"
	"gorevision/logging"
	"gorevision/messaging"
	"gorevision/validation"
)

// statusCounter 可选：仓储支持按状态统计时用于刷新 gauge
type statusCounter interface {
	CountByStatus(ctx context.Context) (map[Status]int64, error)
}

// Relay 周期性拉取未发布的记录并发布到消息层
//
// 发布成功后标记为 published；失败时按指数退避安排下次重试。投递语义为至少一次，
// 订阅方应按消息 ID（即 outbox 的 event_id）去重。
type Relay struct {
	repo      IRepository
	publisher messaging.IPublisher
	cfg       Config
	log       logging.Logger

	startOnce sync.Once
	stopOnce  sync.Once
	started   atomic.Bool
	stopCh    chan struct{}
	doneCh    chan struct{}
}

// NewRelay 创建 relay；publisher 可以是 Transport，也可以是带中间件的 MessageBus
func NewRelay(repo IRepository, publisher messaging.IPublisher, cfg Config, logger logging.Logger) (*Relay, error) {
	if repo == nil || publisher == nil {
		return nil, errors.NewError(errors.ErrCodeConfiguration, "outbox relay 需要仓储与发布者")
	}
	if err := validation.Struct(cfg); err != nil {
		return nil, errors.WrapError(err, errors.ErrCodeConfiguration, "outbox 配置无效")
	}
	if logger == nil {
		logger = logging.ComponentLogger("outbox.relay")
	}
	return &Relay{
		repo:      repo,
		publisher: publisher,
		cfg:       cfg,
		log:       logger,
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}, nil
}

// Start 启动后台循环，只能调用一次
func (r *Relay) Start(ctx context.Context) error {
	err := fmt.Errorf("outbox relay already started")
	r.startOnce.Do(func() {
		r.started.Store(true)
		err = nil
		go r.loop(ctx)
	})
	return err
}

// Stop 停止后台循环并等待当前批次结束
func (r *Relay) Stop() error {
	r.stopOnce.Do(func() { close(r.stopCh) })
	if r.started.Load() {
		<-r.doneCh
	}
	return nil
}

// Close 等同 Stop
func (r *Relay) Close() error { return r.Stop() }

func (r *Relay) loop(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.PublishInterval)
	defer func() {
		ticker.Stop()
		close(r.doneCh)
	}()
	for {
		select {
		case <-r.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := r.PublishPending(ctx); err != nil {
				r.log.Error(ctx, "outbox relay batch failed", logging.Error(err))
			}
			if err := r.Purge(ctx); err != nil {
				r.log.Error(ctx, "outbox purge failed", logging.Error(err))
			}
		}
	}
}

// PublishPending 处理一批记录，返回发布成功的条数。
// 单条发布失败只影响该记录；返回的错误为首个仓储错误。
func (r *Relay) PublishPending(ctx context.Context) (int, error) {
	entries, err := r.repo.GetPendingEntries(ctx, r.cfg.BatchSize)
	if err != nil {
		return 0, err
	}

	var firstErr error
	published := make([]int64, 0, len(entries))
	for i := range entries {
		e := &entries[i]
		if err := r.publish(ctx, e); err != nil {
			if markErr := r.fail(ctx, e, err); markErr != nil && firstErr == nil {
				firstErr = markErr
			}
			continue
		}
		published = append(published, e.ID)
		relayPublished.WithLabelValues(e.EventType).Inc()
	}
	if err := r.repo.MarkAsPublished(ctx, published...); err != nil {
		// 消息已送达，标记失败只会导致重复投递
		r.log.Error(ctx, "outbox mark published failed", logging.Int("entries", len(published)), logging.Error(err))
	}

	r.refreshGauge(ctx)
	if len(published) > 0 {
		r.log.Debug(ctx, "outbox batch published", logging.Int("published", len(published)), logging.Int("fetched", len(entries)))
	}
	return len(published), firstErr
}

// Purge 删除超过保留期的已发布记录；RetentionPeriod 为 0 时不清理
func (r *Relay) Purge(ctx context.Context) error {
	if r.cfg.RetentionPeriod <= 0 {
		return nil
	}
	return r.repo.DeletePublished(ctx, time.Now().Add(-r.cfg.RetentionPeriod))
}

func (r *Relay) publish(ctx context.Context, e *Entry) error {
	msg, err := e.ToMessage()
	if err != nil {
		relayFailures.WithLabelValues(e.EventType, "decode").Inc()
		return fmt.Errorf("decode entry %d: %w", e.ID, err)
	}
	start := time.Now()
	err = r.publisher.Publish(ctx, msg)
	relayPublishLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		relayFailures.WithLabelValues(e.EventType, "publish").Inc()
		return err
	}
	return nil
}

func (r *Relay) fail(ctx context.Context, e *Entry, cause error) error {
	now := time.Now()
	next := e.NextRetryTime(now, r.cfg.RetryInterval)
	fields := []logging.Field{
		logging.Int64("entry", e.ID),
		logging.String("event_id", e.EventID),
		logging.Int("retry_count", e.RetryCount+1),
		logging.Error(cause),
	}
	if e.RetryCount+1 >= r.cfg.MaxRetries {
		relayExhausted.WithLabelValues(e.EventType).Inc()
		r.log.Error(ctx, "outbox entry reached retry limit", fields...)
	} else {
		r.log.Warn(ctx, "outbox publish failed", append(fields, logging.Any("next_retry_at", next))...)
	}
	return r.repo.MarkAsFailed(ctx, e.ID, cause.Error(), next)
}

func (r *Relay) refreshGauge(ctx context.Context) {
	counter, ok := r.repo.(statusCounter)
	if !ok {
		return
	}
	counts, err := counter.CountByStatus(ctx)
	if err != nil {
		r.log.Warn(ctx, "outbox count by status failed", logging.Error(err))
		return
	}
	for status, n := range counts {
		outboxEntries.WithLabelValues(string(status)).Set(float64(n))
	}
}
