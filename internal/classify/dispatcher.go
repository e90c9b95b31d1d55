package classify

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"mailtriage/internal/model"
	"mailtriage/pkg/circuitbreaker"
	"mailtriage/pkg/util"
)

// DispatcherConfig 批量分类参数
type DispatcherConfig struct {
	BatchSize   int           `yaml:"batch_size"`
	MaxInFlight int           `yaml:"max_in_flight"`
	Timeout     time.Duration `yaml:"timeout"`
	MaxRetries  int           `yaml:"max_retries"`
	Backoff     time.Duration `yaml:"backoff"`
}

// DefaultDispatcherConfig 默认：每批 10 封，最多 4 批并发
func DefaultDispatcherConfig() DispatcherConfig {
	return DispatcherConfig{
		BatchSize:   10,
		MaxInFlight: 4,
		Timeout:     15 * time.Second,
		MaxRetries:  2,
		Backoff:     500 * time.Millisecond,
	}
}

// Outcome 单封邮件的最终结果；Err 为 ErrClassifierTimeout / ErrClassifierUnavailable，
// 输出无法解析时为 ErrValidation（不可重试）
type Outcome struct {
	EmailID string
	Raw     *RawClassification
	Err     error
}

// Dispatcher 在协调器之外并发调用分类器
type Dispatcher struct {
	classifier Classifier
	cfg        DispatcherConfig
	logger     *zap.Logger
	sleep      func(ctx context.Context, d time.Duration) error
}

// NewDispatcher 创建 Dispatcher，零值配置项取默认值
func NewDispatcher(classifier Classifier, cfg DispatcherConfig, logger *zap.Logger) *Dispatcher {
	def := DefaultDispatcherConfig()
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.MaxInFlight <= 0 {
		cfg.MaxInFlight = def.MaxInFlight
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		classifier: classifier,
		cfg:        cfg,
		logger:     logger,
		sleep:      sleepCtx,
	}
}

// Classify classifies emails in bounded concurrent batches. The returned
// outcomes are in input order, one per email.
func (d *Dispatcher) Classify(ctx context.Context, emails []model.EmailRecord) []Outcome {
	outcomes := make([]Outcome, len(emails))
	if len(emails) == 0 {
		return outcomes
	}

	var g errgroup.Group
	g.SetLimit(d.cfg.MaxInFlight)

	for start := 0; start < len(emails); start += d.cfg.BatchSize {
		end := min(start+d.cfg.BatchSize, len(emails))
		batch := emails[start:end]
		out := outcomes[start:end]

		g.Go(func() error {
			d.runBatch(ctx, batch, out)
			return nil
		})
	}

	_ = g.Wait()
	return outcomes
}

func (d *Dispatcher) runBatch(ctx context.Context, batch []model.EmailRecord, out []Outcome) {
	reqs := make([]Request, len(batch))
	for i, e := range batch {
		reqs[i] = RequestFor(e)
	}

	var (
		results []Result
		err     error
	)
	for attempt := 0; attempt <= d.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := d.cfg.Backoff * time.Duration(1<<(attempt-1))
			if sleepErr := d.sleep(ctx, backoff); sleepErr != nil {
				err = sleepErr
				break
			}
		}

		callCtx, cancel := context.WithTimeout(ctx, d.cfg.Timeout)
		results, err = d.classifier.ClassifyBatch(callCtx, reqs)
		cancel()
		if err == nil {
			break
		}

		retryable, errType := util.IsRetryableError(err)
		d.logger.Warn("classifier batch failed",
			zap.Int("attempt", attempt+1),
			zap.Int("batch_size", len(reqs)),
			zap.String("error_type", errType),
			zap.Error(err),
		)
		if !retryable || errors.Is(err, circuitbreaker.ErrCircuitBreakerOpen) {
			break
		}
	}

	if err != nil {
		wrapped := classifierError(err)
		for i, e := range batch {
			out[i] = Outcome{EmailID: e.ID, Err: wrapped}
		}
		return
	}

	byID := make(map[string]Result, len(results))
	for _, r := range results {
		byID[r.EmailID] = r
	}

	for i, e := range batch {
		out[i] = Outcome{EmailID: e.ID}
		r, ok := byID[e.ID]
		switch {
		case !ok:
			out[i].Err = fmt.Errorf("%w: missing from batch response", model.ErrClassifierUnavailable)
		case errors.Is(r.Err, model.ErrValidation):
			out[i].Err = r.Err
		case r.Err != nil:
			out[i].Err = fmt.Errorf("%w: %v", model.ErrClassifierUnavailable, r.Err)
		case r.Raw == nil:
			out[i].Err = fmt.Errorf("%w: empty result", model.ErrClassifierUnavailable)
		default:
			out[i].Raw = r.Raw
		}
	}
}

// classifierError 将传输层错误映射为 ErrClassifierTimeout / ErrClassifierUnavailable
func classifierError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", model.ErrClassifierTimeout, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", model.ErrClassifierTimeout, err)
	}
	return fmt.Errorf("%w: %v", model.ErrClassifierUnavailable, err)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
