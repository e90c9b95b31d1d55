package circuitbreaker

import (
	"errors"
	"time"

	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
)

// Config 熔断器配置
type Config struct {
	Name string `yaml:"name"`
	// 失败阈值：连续失败多少次后打开熔断器
	FailureThreshold uint32 `yaml:"failure_threshold"`
	// 半开状态下的最大请求数，同时也是关闭所需的连续成功次数
	HalfOpenMaxRequests uint32 `yaml:"half_open_max_requests"`
	// 超时时间：打开状态持续多久后进入半开状态
	Timeout time.Duration `yaml:"timeout"`
	// 关闭状态下清零计数的周期，0 表示不清零
	Interval time.Duration `yaml:"interval"`
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		Name:                "classifier",
		FailureThreshold:    3,                // 连续失败3次后打开
		HalfOpenMaxRequests: 2,                // 半开状态下最多允许2个请求
		Timeout:             30 * time.Second, // 打开状态持续30秒
	}
}

// CircuitBreaker 熔断器
type CircuitBreaker struct {
	cb *gobreaker.CircuitBreaker[any]
}

// ErrCircuitBreakerOpen 熔断器打开或半开请求过多
var ErrCircuitBreakerOpen = errors.New("circuit breaker is open")

// NewCircuitBreaker 创建新的熔断器
func NewCircuitBreaker(cfg Config, logger *zap.Logger) *CircuitBreaker {
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = DefaultConfig().FailureThreshold
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	settings := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.HalfOpenMaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				zap.String("name", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	}

	return &CircuitBreaker{cb: gobreaker.NewCircuitBreaker[any](settings)}
}

// Execute 执行函数，带熔断保护
func (c *CircuitBreaker) Execute(fn func() error) error {
	_, err := c.cb.Execute(func() (any, error) {
		return nil, fn()
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return ErrCircuitBreakerOpen
	}
	return err
}

// State 获取当前状态
func (c *CircuitBreaker) State() string {
	return c.cb.State().String()
}
