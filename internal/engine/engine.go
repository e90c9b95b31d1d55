package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"mailtriage/internal/classify"
	"mailtriage/internal/followup"
	"mailtriage/internal/learning"
	"mailtriage/internal/ledger"
	"mailtriage/internal/model"
	"mailtriage/internal/priority"
	"mailtriage/internal/reminder"
)

// Config 引擎各组件的参数
type Config struct {
	Learning learning.Config  `yaml:"learning"`
	Followup followup.Config  `yaml:"followup"`
	Reminder reminder.Config  `yaml:"reminder"`
	Priority priority.Weights `yaml:"priority"`
	// 命令队列的缓冲
	CommandBuffer int           `yaml:"command_buffer"`
	Persist       PersistConfig `yaml:"persist"`
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		Learning:      learning.DefaultConfig(),
		Followup:      followup.DefaultConfig(),
		Reminder:      reminder.DefaultConfig(),
		Priority:      priority.DefaultWeights(),
		CommandBuffer: 64,
		Persist:       DefaultPersistConfig(),
	}
}

// emailState 协调器内部的邮件记录
type emailState struct {
	record     model.EmailRecord
	generation uint64
	decisionID string
	pending    bool
}

func (es *emailState) stored() StoredEmail {
	return StoredEmail{Record: es.record, Pending: es.pending}
}

type command struct {
	fn    func(cs *changeset) (any, error)
	reply chan reply
}

type reply struct {
	val any
	err error
}

// Engine is the single-writer coordinator. Every mutation runs as a
// command on the Run goroutine; readers use the published Snapshot.
type Engine struct {
	cfg    Config
	store  Store
	logger *zap.Logger
	now    func() time.Time
	newID  func() string

	adapter   *classify.Adapter
	ledger    *ledger.Ledger
	learning  *learning.Model
	tasks     *followup.Machine
	reminders *reminder.Scheduler

	emails     map[string]*emailState
	decisions  map[string]model.ClassificationDecision
	generation uint64
	version    uint64

	cmds     chan command
	persist  *persister
	snapshot atomic.Pointer[Snapshot]
	done     chan struct{}
	runOnce  sync.Once
	ready    chan struct{}
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock 注入时钟（测试用）
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithIDGenerator 决策、纠正与任务共用的 id 生成器（测试用）
func WithIDGenerator(newID func() string) Option {
	return func(e *Engine) {
		e.newID = newID
		e.adapter = classify.NewAdapter(e.learning, e.logger,
			classify.WithClock(func() time.Time { return e.now() }),
			classify.WithIDGenerator(newID),
		)
		e.ledger = ledger.New(e.lookupDecision,
			ledger.WithClock(func() time.Time { return e.now() }),
			ledger.WithIDGenerator(newID),
		)
		e.tasks.SetIDGenerator(newID)
	}
}

// New wires the components. store may be nil, in which case nothing is
// persisted.
func New(cfg Config, store Store, logger *zap.Logger, opts ...Option) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.CommandBuffer <= 0 {
		cfg.CommandBuffer = DefaultConfig().CommandBuffer
	}

	e := &Engine{
		cfg:       cfg,
		store:     store,
		logger:    logger,
		now:       time.Now,
		newID:     uuid.NewString,
		emails:    make(map[string]*emailState),
		decisions: make(map[string]model.ClassificationDecision),
		cmds:      make(chan command, cfg.CommandBuffer),
		done:      make(chan struct{}),
		ready:     make(chan struct{}),
	}

	e.learning = learning.New(cfg.Learning, logger.Named("learning"))
	e.learning.SetClock(func() time.Time { return e.now() })
	e.tasks = followup.New(cfg.Followup, e.learning.SenderAffinity, logger.Named("followup"))
	e.reminders = reminder.New(cfg.Reminder, e.learning.SenderAffinity, logger.Named("reminder"))
	e.adapter = classify.NewAdapter(e.learning, logger.Named("classify"),
		classify.WithClock(func() time.Time { return e.now() }),
	)
	e.ledger = ledger.New(e.lookupDecision, ledger.WithClock(func() time.Time { return e.now() }))
	if store != nil {
		e.persist = newPersister(store, cfg.Persist, logger.Named("persister"))
	}

	for _, opt := range opts {
		opt(e)
	}

	e.publish()
	return e
}

func (e *Engine) lookupDecision(id string) (model.ClassificationDecision, bool) {
	d, ok := e.decisions[id]
	return d, ok
}

// Load restores persisted state. Must be called before Run.
func (e *Engine) Load(ctx context.Context) error {
	if e.store == nil {
		return nil
	}
	st, err := e.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("%w: load: %v", model.ErrPersistence, err)
	}

	// 待分类的邮件按恢复后的新代号重新进入分类队列
	for _, em := range st.Emails {
		e.generation++
		e.emails[em.Record.ID] = &emailState{
			record:     em.Record,
			generation: e.generation,
			pending:    em.Pending,
		}
	}

	superseded := make(map[string]struct{}, len(st.Decisions))
	for _, d := range st.Decisions {
		e.decisions[d.ID] = d
		if d.Supersedes != "" {
			superseded[d.Supersedes] = struct{}{}
		}
	}
	// 当前决策：未被其他决策取代的那条，并列时取最新
	for _, d := range st.Decisions {
		if _, ok := superseded[d.ID]; ok {
			continue
		}
		es, ok := e.emails[d.EmailID]
		if !ok {
			es = &emailState{record: model.EmailRecord{ID: d.EmailID}}
			e.emails[d.EmailID] = es
		}
		if cur, ok := e.decisions[es.decisionID]; !ok || cur.CreatedAt.Before(d.CreatedAt) {
			es.decisionID = d.ID
		}
	}

	processed := make([]string, 0, len(st.Corrections))
	for _, ev := range st.Corrections {
		processed = append(processed, ev.ID)
	}
	e.ledger.Restore(st.Corrections)
	e.learning.Load(st.Weights, processed)
	e.tasks.Load(st.Tasks)
	e.reminders.Load(st.Reminders)

	e.publish()
	e.logger.Info("engine state loaded",
		zap.Int("emails", len(st.Emails)),
		zap.Int("decisions", len(st.Decisions)),
		zap.Int("corrections", len(st.Corrections)),
		zap.Int("weights", len(st.Weights)),
		zap.Int("tasks", len(st.Tasks)),
		zap.Int("reminders", len(st.Reminders)),
	)
	return nil
}

// Run processes commands until ctx is done. Only one Run is allowed.
func (e *Engine) Run(ctx context.Context) error {
	started := false
	e.runOnce.Do(func() { started = true })
	if !started {
		return errors.New("engine already running")
	}
	defer close(e.done)

	var wg sync.WaitGroup
	if e.persist != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e.persist.run(context.WithoutCancel(ctx))
		}()
	}
	close(e.ready)

	e.logger.Info("engine coordinator started")
	for {
		select {
		case <-ctx.Done():
			if e.persist != nil {
				e.persist.close()
				wg.Wait()
			}
			e.logger.Info("engine coordinator stopped")
			return ctx.Err()
		case cmd := <-e.cmds:
			e.execute(cmd)
		}
	}
}

func (e *Engine) execute(cmd command) {
	cs := &changeset{}
	val, err := e.safeCall(cmd.fn, cs)
	if err == nil {
		e.publish()
		if e.persist != nil && !cs.empty() {
			e.persist.enqueue(cs)
		}
	}
	cmd.reply <- reply{val: val, err: err}
}

// safeCall 命令内的 panic 不能拖垮协调器
func (e *Engine) safeCall(fn func(*changeset) (any, error), cs *changeset) (val any, err error) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("panic in engine command", zap.Any("panic", r), zap.Stack("stack"))
			err = fmt.Errorf("engine command panicked: %v", r)
		}
	}()
	return fn(cs)
}

// do 将命令投递给协调器并等待结果
func (e *Engine) do(ctx context.Context, fn func(cs *changeset) (any, error)) (any, error) {
	cmd := command{fn: fn, reply: make(chan reply, 1)}
	select {
	case e.cmds <- cmd:
	case <-e.done:
		return nil, model.ErrEngineStopped
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case r := <-cmd.reply:
		return r.val, r.err
	case <-e.done:
		return nil, model.ErrEngineStopped
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Flush waits until every change committed so far has been written, and
// returns the persistence error if the queue could not be drained.
func (e *Engine) Flush(ctx context.Context) error {
	if e.persist == nil {
		return nil
	}
	select {
	case <-e.ready:
	case <-ctx.Done():
		return ctx.Err()
	}

	// 命令回复前 changeset 已入队，这里只需等队列写到当前位置
	return e.persist.flush(ctx)
}

// LastPersistenceError 最近一次落库失败，没有则为 nil
func (e *Engine) LastPersistenceError() error {
	if e.persist == nil {
		return nil
	}
	return e.persist.LastError()
}
