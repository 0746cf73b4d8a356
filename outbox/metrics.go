package outbox

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// relayPublished 发布成功的记录数
	// Labels: event_type
	relayPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gorevision",
		Subsystem: "outbox",
		Name:      "published_total",
		Help:      "Outbox entries delivered to the transport",
	}, []string{"event_type"})

	// relayFailures 发布失败的次数
	// Labels: event_type, reason (decode, publish)
	relayFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gorevision",
		Subsystem: "outbox",
		Name:      "failures_total",
		Help:      "Outbox publish attempts that failed",
	}, []string{"event_type", "reason"})

	// relayExhausted 达到最大重试次数、不再被拉取的记录数
	relayExhausted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gorevision",
		Subsystem: "outbox",
		Name:      "exhausted_total",
		Help:      "Outbox entries that reached the retry limit",
	}, []string{"event_type"})

	// relayPublishLatency 单条记录发布耗时
	relayPublishLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "gorevision",
		Subsystem: "outbox",
		Name:      "publish_duration_seconds",
		Help:      "Time spent publishing one outbox entry",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
	})

	// outboxEntries 各状态的记录数，仓储支持统计时每轮刷新
	// Labels: status
	outboxEntries = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "gorevision",
		Subsystem: "outbox",
		Name:      "entries",
		Help:      "Outbox entries by status",
	}, []string{"status"})
)
