package engine

import (
	"sort"
	"time"

	"mailtriage/internal/learning"
	"mailtriage/internal/ledger"
	"mailtriage/internal/model"
	"mailtriage/internal/priority"
)

// PendingEmail 等待（重新）分类的邮件及提交时的代号
type PendingEmail struct {
	Email      model.EmailRecord
	Generation uint64
}

// Snapshot is an immutable view published after every command. Readers
// never see a half-applied transition.
type Snapshot struct {
	Version   uint64
	TakenAt   time.Time
	Tasks     []model.FollowupTask
	Reminders []model.ReminderInstance
	Weights   []model.LearningWeight
	// 每封邮件的当前决策
	Decisions      map[string]model.ClassificationDecision
	Pending        []PendingEmail
	Corrections    ledger.Stats
	TotalDecisions int

	weights priority.Weights
}

// publish 构造新快照并原子替换；只在协调器 goroutine 中调用
func (e *Engine) publish() {
	e.version++
	s := &Snapshot{
		Version:        e.version,
		TakenAt:        e.now(),
		Tasks:          e.tasks.All(),
		Reminders:      e.reminders.All(),
		Weights:        e.learning.Summaries(),
		Decisions:      make(map[string]model.ClassificationDecision, len(e.emails)),
		Corrections:    e.ledger.Stats(),
		TotalDecisions: len(e.decisions),
		weights:        e.cfg.Priority,
	}
	for id, es := range e.emails {
		if d, ok := e.decisions[es.decisionID]; ok {
			s.Decisions[id] = d
		}
		if es.pending {
			s.Pending = append(s.Pending, PendingEmail{Email: es.record, Generation: es.generation})
		}
	}
	sort.Slice(s.Pending, func(i, j int) bool {
		return s.Pending[i].Email.ID < s.Pending[j].Email.ID
	})
	e.snapshot.Store(s)
}

// Snapshot returns the latest published snapshot.
func (e *Engine) Snapshot() *Snapshot {
	return e.snapshot.Load()
}

// Ranked 当前快照的优先级排序
func (s *Snapshot) Ranked() []priority.Entry {
	return priority.Rank(s.Tasks, s.weights)
}

// Task 按 id 查任务
func (s *Snapshot) Task(id string) (model.FollowupTask, bool) {
	i := sort.Search(len(s.Tasks), func(i int) bool { return s.Tasks[i].ID >= id })
	if i < len(s.Tasks) && s.Tasks[i].ID == id {
		return s.Tasks[i], true
	}
	return model.FollowupTask{}, false
}

// Stats 学习与反馈统计
type Stats struct {
	Corrections         ledger.Stats            `json:"corrections"`
	AdaptationLevel     string                  `json:"adaptation_level"`
	TotalDecisions      int                     `json:"total_decisions"`
	CurrentDecisions    int                     `json:"current_decisions"`
	DegradedDecisions   int                     `json:"degraded_decisions"`
	AverageConfidence   float64                 `json:"average_confidence"`
	UrgencyDistribution map[model.Urgency]int   `json:"urgency_distribution"`
	PendingClassify     int                     `json:"pending_classification"`
	Weights             []model.LearningWeight  `json:"weights"`
	Overdue             OverdueSummary          `json:"overdue"`
	TasksByState        map[model.TaskState]int `json:"tasks_by_state"`
}

// OverdueSummary 逾期概况
type OverdueSummary struct {
	Overdue             int         `json:"overdue"`
	Escalated           int         `json:"escalated"`
	ByLevel             map[int]int `json:"by_level"`
	AverageOverdueHours float64     `json:"average_overdue_hours"`
	// 已升级或紧急邮件的逾期任务
	NeedsAttention int `json:"needs_attention"`
}

// Stats derives learning statistics and the overdue summary.
func (s *Snapshot) Stats() Stats {
	st := Stats{
		Corrections:         s.Corrections,
		AdaptationLevel:     learning.AdaptationLevel(s.Corrections.Total),
		TotalDecisions:      s.TotalDecisions,
		CurrentDecisions:    len(s.Decisions),
		UrgencyDistribution: make(map[model.Urgency]int),
		PendingClassify:     len(s.Pending),
		Weights:             s.Weights,
		TasksByState:        make(map[model.TaskState]int),
		Overdue:             OverdueSummary{ByLevel: make(map[int]int)},
	}

	var confSum float64
	for _, d := range s.Decisions {
		confSum += d.Confidence
		st.UrgencyDistribution[d.Urgency]++
		if d.Degraded {
			st.DegradedDecisions++
		}
	}
	if len(s.Decisions) > 0 {
		st.AverageConfidence = confSum / float64(len(s.Decisions))
	}

	var overdueHours float64
	for _, t := range s.Tasks {
		st.TasksByState[t.State]++
		if t.State != model.StateOverdue && t.State != model.StateEscalated {
			continue
		}
		if t.State == model.StateOverdue {
			st.Overdue.Overdue++
		} else {
			st.Overdue.Escalated++
			st.Overdue.ByLevel[t.EscalationLevel]++
		}
		if t.OverdueSince != nil {
			overdueHours += s.TakenAt.Sub(*t.OverdueSince).Hours()
		}
		if t.State == model.StateEscalated || t.Urgency == model.UrgencyUrgent {
			st.Overdue.NeedsAttention++
		}
	}
	if n := st.Overdue.Overdue + st.Overdue.Escalated; n > 0 {
		st.Overdue.AverageOverdueHours = overdueHours / float64(n)
	}
	return st
}
