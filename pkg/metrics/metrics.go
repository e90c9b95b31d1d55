package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// 分类器调用延迟（毫秒）
	ClassifierCallLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "classifier_call_latency_ms",
			Help:    "Classifier batch call latency in milliseconds",
			Buckets: prometheus.ExponentialBuckets(50, 2, 10), // 50ms to ~25s
		},
		[]string{"status"},
	)

	// 分类决策计数
	DecisionCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "classification_decision_count",
			Help: "Total number of classification decisions produced",
		},
		[]string{"outcome"}, // outcome: validated, degraded, discarded
	)

	// 用户纠正计数
	CorrectionCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "correction_count",
			Help: "Total number of user corrections recorded",
		},
		[]string{"source"}, // source: explicit, implicit
	)

	// 任务状态迁移计数
	TaskTransitionCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "task_transition_count",
			Help: "Total number of follow-up task state transitions",
		},
		[]string{"from", "to"},
	)

	// 到期提醒计数
	ReminderFiredCount = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "reminder_fired_count",
			Help: "Total number of reminders that came due",
		},
	)

	// tick 耗时（秒）
	TickDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "engine_tick_duration_seconds",
			Help:    "Duration of one coordinator tick",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
		},
	)

	// 持久化失败计数
	PersistenceErrorCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "persistence_error_count",
			Help: "Total number of failed persistence flushes",
		},
		[]string{"operation"},
	)

	// 数据库查询延迟（秒）
	DBQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "db_query_duration_seconds",
			Help:    "Database query duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		},
		[]string{"operation", "table"},
	)

	// 慢查询计数
	SlowQueryCount = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "db_slow_query_count",
			Help: "Total number of queries slower than the configured threshold",
		},
	)

	// HTTP 请求延迟（秒）
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
		},
		[]string{"method", "path", "status"},
	)

	// MQ 消费延迟（毫秒）
	MQConsumeLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mq_consume_latency_ms",
			Help:    "MQ message consumption latency in milliseconds",
			Buckets: prometheus.ExponentialBuckets(10, 2, 10),
		},
		[]string{"routing_key", "queue"},
	)
)

// RecordClassifierCall 记录分类器调用延迟
func RecordClassifierCall(status string, duration time.Duration) {
	ClassifierCallLatency.WithLabelValues(status).Observe(float64(duration.Milliseconds()))
}

// IncrementDecision 增加分类决策计数
func IncrementDecision(outcome string) {
	DecisionCount.WithLabelValues(outcome).Inc()
}

// IncrementCorrection 增加纠正计数
func IncrementCorrection(source string) {
	CorrectionCount.WithLabelValues(source).Inc()
}

// IncrementTransition 记录任务状态迁移
func IncrementTransition(from, to string) {
	TaskTransitionCount.WithLabelValues(from, to).Inc()
}

// IncrementReminderFired 记录到期提醒
func IncrementReminderFired(n int) {
	ReminderFiredCount.Add(float64(n))
}

// RecordTick 记录一次 tick 的耗时
func RecordTick(duration time.Duration) {
	TickDuration.Observe(duration.Seconds())
}

// IncrementPersistenceError 记录持久化失败
func IncrementPersistenceError(operation string) {
	PersistenceErrorCount.WithLabelValues(operation).Inc()
}

// RecordDBQueryDuration 记录数据库查询延迟
func RecordDBQueryDuration(operation, table string, duration time.Duration) {
	DBQueryDuration.WithLabelValues(operation, table).Observe(duration.Seconds())
}

// IncrementSlowQuery 记录慢查询
func IncrementSlowQuery() {
	SlowQueryCount.Inc()
}

// RecordHTTPRequestDuration 记录 HTTP 请求延迟
func RecordHTTPRequestDuration(method, path, status string, duration time.Duration) {
	HTTPRequestDuration.WithLabelValues(method, path, status).Observe(duration.Seconds())
}

// RecordMQConsumeLatency 记录 MQ 消费延迟
func RecordMQConsumeLatency(routingKey, queue string, duration time.Duration) {
	MQConsumeLatency.WithLabelValues(routingKey, queue).Observe(float64(duration.Milliseconds()))
}
