package followup

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"mailtriage/internal/model"
	"mailtriage/pkg/metrics"
)

// EscalationPolicy 逾期多久升级一次；importance 为发件人重要度（学习权重）
type EscalationPolicy func(u model.Urgency, importance float64) time.Duration

// Importance 返回发件域的重要度
type Importance func(domain string) float64

// Config 状态机参数
type Config struct {
	UrgentSLA    time.Duration `yaml:"urgent_sla"`
	ToRespondSLA time.Duration `yaml:"to_respond_sla"`
	MeetingSLA   time.Duration `yaml:"meeting_sla"`
	// 各紧急程度的升级基准时长
	EscalationBase     map[model.Urgency]time.Duration `yaml:"escalation_base"`
	MaxEscalationLevel int                             `yaml:"max_escalation_level"`
	// 为空时使用 DefaultPolicy(EscalationBase)
	Policy EscalationPolicy `yaml:"-"`
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		UrgentSLA:    24 * time.Hour,
		ToRespondSLA: 72 * time.Hour,
		MeetingSLA:   24 * time.Hour,
		EscalationBase: map[model.Urgency]time.Duration{
			model.UrgencyUrgent:    12 * time.Hour,
			model.UrgencyToRespond: 24 * time.Hour,
			model.UrgencyMeeting:   6 * time.Hour,
		},
		MaxEscalationLevel: 5,
	}
}

// DefaultPolicy: base(urgency) × (1 − importance). Important senders
// escalate sooner.
func DefaultPolicy(base map[model.Urgency]time.Duration) EscalationPolicy {
	return func(u model.Urgency, importance float64) time.Duration {
		b, ok := base[u]
		if !ok || b <= 0 {
			b = 24 * time.Hour
		}
		factor := 1 - importance
		if factor <= 0 {
			return b
		}
		return time.Duration(math.Round(float64(b) * factor))
	}
}

// Result 一次迁移的结果；Changed=false 表示幂等的空操作
type Result struct {
	Task    model.FollowupTask
	From    model.TaskState
	Changed bool
}

// Machine owns the follow-up tasks. Not safe for concurrent use; the
// coordinator serializes access.
type Machine struct {
	cfg        Config
	tasks      map[string]*model.FollowupTask
	byEmail    map[string]string
	importance Importance
	newID      func() string
	logger     *zap.Logger
}

// New creates a Machine. importance may be nil.
func New(cfg Config, importance Importance, logger *zap.Logger) *Machine {
	def := DefaultConfig()
	if cfg.UrgentSLA <= 0 {
		cfg.UrgentSLA = def.UrgentSLA
	}
	if cfg.ToRespondSLA <= 0 {
		cfg.ToRespondSLA = def.ToRespondSLA
	}
	if cfg.MeetingSLA <= 0 {
		cfg.MeetingSLA = def.MeetingSLA
	}
	if cfg.EscalationBase == nil {
		cfg.EscalationBase = def.EscalationBase
	}
	if cfg.MaxEscalationLevel <= 0 {
		cfg.MaxEscalationLevel = def.MaxEscalationLevel
	}
	if cfg.Policy == nil {
		cfg.Policy = DefaultPolicy(cfg.EscalationBase)
	}
	if importance == nil {
		importance = func(string) float64 { return 0 }
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Machine{
		cfg:        cfg,
		tasks:      make(map[string]*model.FollowupTask),
		byEmail:    make(map[string]string),
		importance: importance,
		newID:      uuid.NewString,
		logger:     logger,
	}
}

// SetIDGenerator 注入任务 id 生成器（测试用）
func (m *Machine) SetIDGenerator(newID func() string) { m.newID = newID }

// Load 恢复持久化的任务
func (m *Machine) Load(tasks []model.FollowupTask) {
	for _, t := range tasks {
		t := t.Clone()
		m.tasks[t.ID] = &t
		if cur, ok := m.byEmail[t.EmailID]; ok {
			// 同一邮件只保留非终态的那个
			if existing := m.tasks[cur]; existing != nil && !existing.State.Terminal() {
				continue
			}
		}
		m.byEmail[t.EmailID] = t.ID
	}
}

// Sync reconciles the email's task with a new decision. An action-implying
// decision creates a task (replacing a terminal one) or refreshes the live
// one; any other decision dismisses the live task. ok=false means nothing
// happened.
func (m *Machine) Sync(d model.ClassificationDecision, email model.EmailRecord, now time.Time) (Result, bool) {
	live := m.live(email.ID)

	if !d.Urgency.ImpliesAction() {
		if live == nil {
			return Result{}, false
		}
		res, err := m.terminate(live.ID, model.StateDismissed, now)
		if err != nil {
			return Result{}, false
		}
		return res, res.Changed
	}

	if live != nil {
		next := live.Clone()
		next.DecisionID = d.ID
		next.Urgency = d.Urgency
		next.Confidence = d.Confidence
		next.Rationale = d.Rationale
		next.UpdatedAt = now
		return m.commit(live.State, next), true
	}

	due := m.dueFor(d.Urgency, email, now)
	t := model.FollowupTask{
		ID:           m.newID(),
		EmailID:      email.ID,
		DecisionID:   d.ID,
		SenderDomain: d.SenderDomain,
		Urgency:      d.Urgency,
		Confidence:   d.Confidence,
		Rationale:    d.Rationale,
		State:        model.StatePending,
		CreatedAt:    now,
		DueAt:        &due,
		UpdatedAt:    now,
	}
	m.byEmail[email.ID] = t.ID
	m.logger.Info("followup task created",
		zap.String("task_id", t.ID),
		zap.String("email_id", t.EmailID),
		zap.Time("due_at", due),
	)
	return m.commit("", t), true
}

// dueFor 截止时间：优先使用邮件提示（会议为开始时间），否则按 SLA
func (m *Machine) dueFor(u model.Urgency, email model.EmailRecord, now time.Time) time.Time {
	if email.DueHint != nil {
		return *email.DueHint
	}
	switch u {
	case model.UrgencyUrgent:
		return now.Add(m.cfg.UrgentSLA)
	case model.UrgencyMeeting:
		return now.Add(m.cfg.MeetingSLA)
	default:
		return now.Add(m.cfg.ToRespondSLA)
	}
}

// MarkFollowup Pending → AwaitingResponse，截止时间不变
func (m *Machine) MarkFollowup(id string, now time.Time) (Result, error) {
	t, err := m.get(id)
	if err != nil {
		return Result{}, err
	}
	switch t.State {
	case model.StateAwaitingResponse:
		return Result{Task: t.Clone(), From: t.State}, nil
	case model.StatePending:
	default:
		return Result{}, fmt.Errorf("%w: mark follow-up on %s task %s", model.ErrInvalidTransition, t.State, id)
	}

	next := t.Clone()
	next.State = model.StateAwaitingResponse
	next.AwaitingResponse = true
	next.UpdatedAt = now
	return m.commit(t.State, next), nil
}

// Complete 任意非终态 → Completed；已完成时为空操作
func (m *Machine) Complete(id string, now time.Time) (Result, error) {
	return m.terminate(id, model.StateCompleted, now)
}

// Dismiss 任意非终态 → Dismissed；已忽略时为空操作
func (m *Machine) Dismiss(id string, now time.Time) (Result, error) {
	return m.terminate(id, model.StateDismissed, now)
}

func (m *Machine) terminate(id string, target model.TaskState, now time.Time) (Result, error) {
	t, err := m.get(id)
	if err != nil {
		return Result{}, err
	}
	if t.State == target {
		return Result{Task: t.Clone(), From: t.State}, nil
	}
	if t.State.Terminal() {
		return Result{}, fmt.Errorf("%w: %s → %s for task %s", model.ErrInvalidTransition, t.State, target, id)
	}

	next := t.Clone()
	next.State = target
	next.UpdatedAt = now
	return m.commit(t.State, next), nil
}

// Reopen sets a new due date on a non-terminal task. Overdue and Escalated
// tasks go back to Pending (AwaitingResponse if previously marked) and
// lose their escalation level.
func (m *Machine) Reopen(id string, due time.Time, now time.Time) (Result, error) {
	t, err := m.get(id)
	if err != nil {
		return Result{}, err
	}
	if t.State.Terminal() {
		return Result{}, fmt.Errorf("%w: reopen %s task %s", model.ErrInvalidTransition, t.State, id)
	}

	next := t.Clone()
	next.DueAt = &due
	next.UpdatedAt = now
	if t.State == model.StateOverdue || t.State == model.StateEscalated {
		next.State = model.StatePending
		if t.AwaitingResponse {
			next.State = model.StateAwaitingResponse
		}
		next.OverdueSince = nil
		next.EscalationLevel = 0
	}
	return m.commit(t.State, next), nil
}

// Evaluate checks every live task against now and returns the ones that
// changed, sorted by task id. Overdue detection and escalation level are
// applied in one step.
func (m *Machine) Evaluate(now time.Time) []Result {
	var out []Result
	for _, id := range m.sortedIDs() {
		t := m.tasks[id]
		if t.State.Terminal() || t.DueAt == nil {
			continue
		}
		next, changed := m.evaluate(*t, now)
		if changed {
			out = append(out, m.commit(t.State, next))
		}
	}
	return out
}

func (m *Machine) evaluate(t model.FollowupTask, now time.Time) (model.FollowupTask, bool) {
	next := t.Clone()
	changed := false

	if (next.State == model.StatePending || next.State == model.StateAwaitingResponse) && next.DueAt.Before(now) {
		since := *next.DueAt
		next.State = model.StateOverdue
		next.OverdueSince = &since
		next.EscalationLevel = 0
		changed = true
	}

	if next.State == model.StateOverdue || next.State == model.StateEscalated {
		level := m.escalationLevel(next, now)
		if level > next.EscalationLevel {
			next.EscalationLevel = level
			next.State = model.StateEscalated
			changed = true
		}
	}

	if changed {
		next.UpdatedAt = now
	}
	return next, changed
}

// escalationLevel = 逾期以来经过的完整阈值个数，封顶 MaxEscalationLevel
func (m *Machine) escalationLevel(t model.FollowupTask, now time.Time) int {
	if t.OverdueSince == nil {
		return 0
	}
	threshold := m.cfg.Policy(t.Urgency, m.importance(t.SenderDomain))
	if threshold <= 0 {
		return 0
	}
	level := int(now.Sub(*t.OverdueSince) / threshold)
	return min(level, m.cfg.MaxEscalationLevel)
}

// commit 整体替换任务，快照不会看到中间状态
func (m *Machine) commit(from model.TaskState, next model.FollowupTask) Result {
	stored := next.Clone()
	m.tasks[next.ID] = &stored
	if from != next.State {
		metrics.IncrementTransition(string(from), string(next.State))
		m.logger.Debug("task transition",
			zap.String("task_id", next.ID),
			zap.String("from", string(from)),
			zap.String("to", string(next.State)),
			zap.Int("escalation_level", next.EscalationLevel),
		)
	}
	return Result{Task: next.Clone(), From: from, Changed: true}
}

func (m *Machine) get(id string) (*model.FollowupTask, error) {
	t, ok := m.tasks[id]
	if !ok {
		return nil, fmt.Errorf("%w: task %s", model.ErrNotFound, id)
	}
	return t, nil
}

func (m *Machine) live(emailID string) *model.FollowupTask {
	id, ok := m.byEmail[emailID]
	if !ok {
		return nil
	}
	t := m.tasks[id]
	if t == nil || t.State.Terminal() {
		return nil
	}
	return t
}

// Get returns a copy of the task.
func (m *Machine) Get(id string) (model.FollowupTask, error) {
	t, err := m.get(id)
	if err != nil {
		return model.FollowupTask{}, err
	}
	return t.Clone(), nil
}

// ByEmail 返回邮件当前关联的任务（可能是终态）
func (m *Machine) ByEmail(emailID string) (model.FollowupTask, bool) {
	id, ok := m.byEmail[emailID]
	if !ok {
		return model.FollowupTask{}, false
	}
	return m.tasks[id].Clone(), true
}

// Live 返回邮件当前的非终态任务
func (m *Machine) Live(emailID string) (model.FollowupTask, bool) {
	t := m.live(emailID)
	if t == nil {
		return model.FollowupTask{}, false
	}
	return t.Clone(), true
}

// All returns copies of every task sorted by id.
func (m *Machine) All() []model.FollowupTask {
	out := make([]model.FollowupTask, 0, len(m.tasks))
	for _, id := range m.sortedIDs() {
		out = append(out, m.tasks[id].Clone())
	}
	return out
}

// ByState 按状态筛选
func (m *Machine) ByState(states ...model.TaskState) []model.FollowupTask {
	want := make(map[model.TaskState]bool, len(states))
	for _, s := range states {
		want[s] = true
	}
	var out []model.FollowupTask
	for _, id := range m.sortedIDs() {
		if t := m.tasks[id]; want[t.State] {
			out = append(out, t.Clone())
		}
	}
	return out
}

func (m *Machine) sortedIDs() []string {
	ids := make([]string, 0, len(m.tasks))
	for id := range m.tasks {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
