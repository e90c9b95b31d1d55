package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"mailtriage/internal/model"
	"mailtriage/pkg/metrics"
)

// Store 持久化边界；实现见 internal/repository
type Store interface {
	SaveEmail(ctx context.Context, e StoredEmail) error
	DeleteEmail(ctx context.Context, emailID string) error
	SaveDecision(ctx context.Context, d model.ClassificationDecision) error
	AppendCorrection(ctx context.Context, ev model.CorrectionEvent) error
	UpsertWeight(ctx context.Context, w model.LearningWeight) error
	SaveTask(ctx context.Context, t model.FollowupTask) error
	SaveReminder(ctx context.Context, r model.ReminderInstance) error
	DeleteReminder(ctx context.Context, taskID string) error

	TasksByState(ctx context.Context, states ...model.TaskState) ([]model.FollowupTask, error)
	TasksDueBetween(ctx context.Context, from, to time.Time) ([]model.FollowupTask, error)
	WeightsByPrefix(ctx context.Context, prefix string) ([]model.LearningWeight, error)
	Load(ctx context.Context) (PersistedState, error)
}

// StoredEmail 已登记的邮件；Pending 表示仍等待（重新）分类
type StoredEmail struct {
	Record  model.EmailRecord
	Pending bool
}

// PersistedState 启动时从存储恢复的全部数据
type PersistedState struct {
	Emails      []StoredEmail
	Decisions   []model.ClassificationDecision
	Corrections []model.CorrectionEvent
	Weights     []model.LearningWeight
	Tasks       []model.FollowupTask
	Reminders   []model.ReminderInstance
}

// changeset 单条命令产生的写入，按顺序在协调器之外落库
type changeset struct {
	emails           []StoredEmail
	decisions        []model.ClassificationDecision
	corrections      []model.CorrectionEvent
	weights          []model.LearningWeight
	tasks            []model.FollowupTask
	reminders        []model.ReminderInstance
	deletedReminders []string
	deletedEmails    []string
}

func (c *changeset) empty() bool {
	return len(c.emails) == 0 && len(c.decisions) == 0 && len(c.corrections) == 0 &&
		len(c.weights) == 0 && len(c.tasks) == 0 && len(c.reminders) == 0 &&
		len(c.deletedReminders) == 0 && len(c.deletedEmails) == 0
}

func (c *changeset) apply(ctx context.Context, s Store) error {
	for _, em := range c.emails {
		if err := s.SaveEmail(ctx, em); err != nil {
			return persistErr("save_email", err)
		}
	}
	for _, d := range c.decisions {
		if err := s.SaveDecision(ctx, d); err != nil {
			return persistErr("save_decision", err)
		}
	}
	for _, ev := range c.corrections {
		if err := s.AppendCorrection(ctx, ev); err != nil {
			return persistErr("append_correction", err)
		}
	}
	for _, w := range c.weights {
		if err := s.UpsertWeight(ctx, w); err != nil {
			return persistErr("upsert_weight", err)
		}
	}
	for _, t := range c.tasks {
		if err := s.SaveTask(ctx, t); err != nil {
			return persistErr("save_task", err)
		}
	}
	for _, r := range c.reminders {
		if err := s.SaveReminder(ctx, r); err != nil {
			return persistErr("save_reminder", err)
		}
	}
	for _, id := range c.deletedReminders {
		if err := s.DeleteReminder(ctx, id); err != nil {
			return persistErr("delete_reminder", err)
		}
	}
	for _, id := range c.deletedEmails {
		if err := s.DeleteEmail(ctx, id); err != nil {
			return persistErr("delete_email", err)
		}
	}
	return nil
}

func persistErr(op string, err error) error {
	metrics.IncrementPersistenceError(op)
	return fmt.Errorf("%w: %s: %v", model.ErrPersistence, op, err)
}

// PersistConfig 写后落库的超时、退避与队列上限
type PersistConfig struct {
	// 单个 changeset 的写入超时
	Timeout    time.Duration `yaml:"timeout"`
	Backoff    time.Duration `yaml:"backoff"`
	MaxBackoff time.Duration `yaml:"max_backoff"`
	// 队列上限，超出时丢弃最旧的 changeset
	MaxPending int `yaml:"max_pending"`
}

// DefaultPersistConfig 返回默认配置
func DefaultPersistConfig() PersistConfig {
	return PersistConfig{
		Timeout:    5 * time.Second,
		Backoff:    200 * time.Millisecond,
		MaxBackoff: 30 * time.Second,
		MaxPending: 10000,
	}
}

func (c PersistConfig) withDefaults() PersistConfig {
	def := DefaultPersistConfig()
	if c.Timeout <= 0 {
		c.Timeout = def.Timeout
	}
	if c.Backoff <= 0 {
		c.Backoff = def.Backoff
	}
	if c.MaxBackoff < c.Backoff {
		c.MaxBackoff = max(def.MaxBackoff, c.Backoff)
	}
	if c.MaxPending <= 0 {
		c.MaxPending = def.MaxPending
	}
	return c
}

// persister 写后落库：协调器只把 changeset 追加到队列（不阻塞），
// 后台按提交顺序写入，失败的 changeset 留在队首退避重试
type persister struct {
	store  Store
	cfg    PersistConfig
	logger *zap.Logger

	wake    chan struct{}
	flushed chan struct{}
	stop    chan struct{}
	stopped chan struct{}

	mu       sync.Mutex
	queue    []queued
	seq      uint64 // 最后入队的序号
	written  uint64 // 已写入（或丢弃）的最大序号
	waiters  []flushWaiter
	lastErr  error
	stopOnce sync.Once
}

type queued struct {
	seq uint64
	cs  *changeset
}

type flushWaiter struct {
	target uint64
	done   chan error
}

func newPersister(store Store, cfg PersistConfig, logger *zap.Logger) *persister {
	return &persister{
		store:   store,
		cfg:     cfg.withDefaults(),
		logger:  logger,
		wake:    make(chan struct{}, 1),
		flushed: make(chan struct{}, 1),
		stop:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
}

// enqueue 由协调器调用，从不阻塞
func (p *persister) enqueue(cs *changeset) {
	p.mu.Lock()
	p.seq++
	p.queue = append(p.queue, queued{seq: p.seq, cs: cs})
	if over := len(p.queue) - p.cfg.MaxPending; over > 0 {
		last := p.queue[over-1].seq
		p.queue = append([]queued(nil), p.queue[over:]...)
		p.written = max(p.written, last)
		p.lastErr = fmt.Errorf("%w: write queue full, dropped %d changesets", model.ErrPersistence, over)
		metrics.IncrementPersistenceError("queue_overflow")
		p.logger.Error("write-behind queue full, oldest changes dropped",
			zap.Int("dropped", over),
			zap.Int("max_pending", p.cfg.MaxPending),
		)
	}
	p.mu.Unlock()
	signal(p.wake)
}

// flush waits until everything enqueued so far is written. A failed write
// attempt after the call ends the wait with that error.
func (p *persister) flush(ctx context.Context) error {
	p.mu.Lock()
	if p.written >= p.seq {
		p.mu.Unlock()
		return nil
	}
	w := flushWaiter{target: p.seq, done: make(chan error, 1)}
	p.waiters = append(p.waiters, w)
	p.mu.Unlock()

	signal(p.flushed)
	select {
	case err := <-w.done:
		return err
	case <-p.stopped:
		select {
		case err := <-w.done:
			return err
		default:
			return p.LastError()
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// run writes queued changesets until close is called, then makes one final
// attempt at whatever is still queued.
func (p *persister) run(ctx context.Context) {
	defer close(p.stopped)

	var (
		retry   <-chan time.Time
		backoff time.Duration
	)
	for {
		select {
		case <-p.stop:
			if err := p.drain(ctx); err != nil {
				p.logger.Error("pending changes lost on shutdown",
					zap.Int("pending", p.pending()),
					zap.Error(err),
				)
			}
			return
		case <-p.wake:
			if retry != nil {
				// 退避期间新写入只入队
				continue
			}
		case <-p.flushed:
		case <-retry:
		}

		if err := p.drain(ctx); err != nil {
			backoff = min(max(backoff*2, p.cfg.Backoff), p.cfg.MaxBackoff)
			retry = time.After(backoff)
			p.logger.Error("write-behind persistence failed",
				zap.Int("pending", p.pending()),
				zap.Duration("retry_in", backoff),
				zap.Error(err),
			)
			continue
		}
		backoff, retry = 0, nil
	}
}

// drain 依次写入队首 changeset，每次写入有独立超时
func (p *persister) drain(ctx context.Context) error {
	for {
		p.mu.Lock()
		if len(p.queue) == 0 {
			p.notifyLocked(nil)
			p.mu.Unlock()
			return nil
		}
		head := p.queue[0]
		p.mu.Unlock()

		wctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
		err := head.cs.apply(wctx, p.store)
		cancel()

		p.mu.Lock()
		if err != nil {
			p.lastErr = err
			p.notifyLocked(err)
			p.mu.Unlock()
			return err
		}
		// 溢出丢弃可能已移走队首
		if len(p.queue) > 0 && p.queue[0].seq == head.seq {
			p.queue = p.queue[1:]
		}
		p.written = max(p.written, head.seq)
		p.notifyLocked(nil)
		p.mu.Unlock()
	}
}

// notifyLocked 唤醒已满足的 flush；err 非 nil 时所有等待者都收到该错误
func (p *persister) notifyLocked(err error) {
	kept := p.waiters[:0]
	for _, w := range p.waiters {
		switch {
		case w.target <= p.written:
			w.done <- nil
		case err != nil:
			w.done <- err
		default:
			kept = append(kept, w)
		}
	}
	p.waiters = kept
}

func (p *persister) close() {
	p.stopOnce.Do(func() { close(p.stop) })
}

func (p *persister) pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue)
}

// LastError 最近一次持久化失败
func (p *persister) LastError() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastErr
}

func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}
