package engine

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"mailtriage/internal/classify"
	"mailtriage/internal/model"
	"mailtriage/pkg/util"
)

// BatchClassifier 批量分类（classify.Dispatcher）
type BatchClassifier interface {
	Classify(ctx context.Context, emails []model.EmailRecord) []classify.Outcome
}

// AttemptCounter 跨轮询统计每封邮件的分类尝试次数（util.RetryCounter）
type AttemptCounter interface {
	IncrementAndGet(ctx context.Context, key string) (int64, error)
	Reset(ctx context.Context, key string) error
}

const pipelineHandler = "classify"

// Pipeline feeds pending emails to the classifier outside the coordinator
// and applies the outcomes back through it.
type Pipeline struct {
	engine      *Engine
	classifier  BatchClassifier
	attempts    AttemptCounter
	maxAttempts int64
	logger      *zap.Logger
	kick        chan struct{}
}

// NewPipeline creates a Pipeline. attempts may be nil, in which case an
// in-process counter is used.
func NewPipeline(e *Engine, classifier BatchClassifier, attempts AttemptCounter, maxAttempts int, logger *zap.Logger) *Pipeline {
	if attempts == nil {
		attempts = newMemoryCounter()
	}
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		engine:      e,
		classifier:  classifier,
		attempts:    attempts,
		maxAttempts: int64(maxAttempts),
		logger:      logger,
		kick:        make(chan struct{}, 1),
	}
}

// Kick 请求尽快执行一轮分类，不阻塞
func (p *Pipeline) Kick() {
	select {
	case p.kick <- struct{}{}:
	default:
	}
}

// Run polls on every interval and on Kick until ctx is done.
func (p *Pipeline) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("classification pipeline stopped")
			return
		case <-ticker.C:
		case <-p.kick:
		}
		if _, err := p.Poll(ctx); err != nil && ctx.Err() == nil {
			p.logger.Error("classification poll failed", zap.Error(err))
		}
	}
}

// Poll classifies every pending email once and returns how many results
// were applied. Emails whose classification failed transiently stay
// pending until their attempts run out.
func (p *Pipeline) Poll(ctx context.Context) (int, error) {
	pending := p.engine.Snapshot().Pending
	if len(pending) == 0 {
		return 0, nil
	}

	emails := make([]model.EmailRecord, len(pending))
	for i, pe := range pending {
		emails[i] = pe.Email
	}
	outcomes := p.classifier.Classify(ctx, emails)

	applied := 0
	for i, o := range outcomes {
		res := ClassificationResult{
			EmailID:    pending[i].Email.ID,
			Generation: pending[i].Generation,
			Raw:        o.Raw,
			Err:        o.Err,
		}
		res.Requeue = p.track(ctx, res.EmailID, o.Err)

		_, ok, err := p.engine.ApplyClassification(ctx, res)
		if err != nil {
			return applied, err
		}
		if ok {
			applied++
		}
	}

	p.logger.Info("classification poll completed",
		zap.Int("pending", len(pending)),
		zap.Int("applied", applied),
	)
	return applied, nil
}

// track 暂时性失败时累加尝试次数，返回是否留待下一轮；成功或不可重试的失败清零
func (p *Pipeline) track(ctx context.Context, emailID string, classifyErr error) bool {
	key := util.FormatRetryKey(pipelineHandler, emailID)
	if !transient(classifyErr) {
		if err := p.attempts.Reset(ctx, key); err != nil {
			p.logger.Warn("reset classify attempts failed", zap.String("email_id", emailID), zap.Error(err))
		}
		return false
	}

	n, err := p.attempts.IncrementAndGet(ctx, key)
	if err != nil {
		p.logger.Warn("count classify attempts failed", zap.String("email_id", emailID), zap.Error(err))
		return false
	}
	requeue := n < p.maxAttempts
	if !requeue {
		p.logger.Warn("classification attempts exhausted, keeping degraded decision",
			zap.String("email_id", emailID),
			zap.Int64("attempts", n),
			zap.Error(classifyErr),
		)
		_ = p.attempts.Reset(ctx, key)
	}
	return requeue
}

// memoryCounter 未配置 Redis 时的进程内计数
type memoryCounter struct {
	mu sync.Mutex
	m  map[string]int64
}

func newMemoryCounter() *memoryCounter {
	return &memoryCounter{m: make(map[string]int64)}
}

func (c *memoryCounter) IncrementAndGet(_ context.Context, key string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m[key]++
	return c.m[key], nil
}

func (c *memoryCounter) Reset(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.m, key)
	return nil
}
