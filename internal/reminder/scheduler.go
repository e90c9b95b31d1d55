package reminder

import (
	"fmt"
	"math"
	"sort"
	"time"

	"go.uber.org/zap"

	"mailtriage/internal/model"
)

// Config 提醒间隔参数
type Config struct {
	BaseInterval        map[model.Urgency]time.Duration `yaml:"base_interval"`
	MinInterval         time.Duration                   `yaml:"min_interval"`
	MaxInterval         time.Duration                   `yaml:"max_interval"`
	MaxSnoozeMultiplier float64                         `yaml:"max_snooze_multiplier"`
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		BaseInterval: map[model.Urgency]time.Duration{
			model.UrgencyUrgent:    2 * time.Hour,
			model.UrgencyMeeting:   1 * time.Hour,
			model.UrgencyToRespond: 12 * time.Hour,
		},
		MinInterval:         15 * time.Minute,
		MaxInterval:         72 * time.Hour,
		MaxSnoozeMultiplier: 8,
	}
}

const fallbackBase = 24 * time.Hour

// Affinity 发件域的学习亲和度，取值 [-bound, bound]
type Affinity func(domain string) float64

// Scheduler keeps at most one active reminder per task. It never owns
// timers; the coordinator tick asks for Due reminders.
type Scheduler struct {
	cfg       Config
	reminders map[string]*model.ReminderInstance
	affinity  Affinity
	logger    *zap.Logger
}

// New creates a Scheduler. Zero config fields take defaults.
func New(cfg Config, affinity Affinity, logger *zap.Logger) *Scheduler {
	def := DefaultConfig()
	if cfg.BaseInterval == nil {
		cfg.BaseInterval = def.BaseInterval
	}
	if cfg.MinInterval <= 0 {
		cfg.MinInterval = def.MinInterval
	}
	if cfg.MaxInterval <= 0 {
		cfg.MaxInterval = def.MaxInterval
	}
	if cfg.MaxSnoozeMultiplier < 1 {
		cfg.MaxSnoozeMultiplier = def.MaxSnoozeMultiplier
	}
	if affinity == nil {
		affinity = func(string) float64 { return 0 }
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		cfg:       cfg,
		reminders: make(map[string]*model.ReminderInstance),
		affinity:  affinity,
		logger:    logger,
	}
}

// Load 恢复持久化的提醒
func (s *Scheduler) Load(reminders []model.ReminderInstance) {
	for _, r := range reminders {
		r := r
		s.reminders[r.TaskID] = &r
	}
}

// Base returns the base interval for an urgency.
func (s *Scheduler) Base(u model.Urgency) time.Duration {
	if b, ok := s.cfg.BaseInterval[u]; ok && b > 0 {
		return b
	}
	return fallbackBase
}

// Interval = clamp(base·senderFactor·min(2^snooze, maxMult), min, max).
// A snoozed interval is never below base.
func (s *Scheduler) Interval(task model.FollowupTask, snoozeCount int) time.Duration {
	base := s.Base(task.Urgency)
	senderFactor := 1 - s.affinity(task.SenderDomain)
	snoozeFactor := math.Min(math.Pow(2, float64(snoozeCount)), s.cfg.MaxSnoozeMultiplier)

	interval := time.Duration(math.Round(float64(base) * senderFactor * snoozeFactor))
	if snoozeCount > 0 && interval < base {
		interval = base
	}
	if interval < s.cfg.MinInterval {
		interval = s.cfg.MinInterval
	}
	if interval > s.cfg.MaxInterval {
		interval = s.cfg.MaxInterval
	}
	return interval
}

// ScheduleNext creates or replaces the task's reminder at now+interval,
// keeping the current snooze count.
func (s *Scheduler) ScheduleNext(task model.FollowupTask, now time.Time) (model.ReminderInstance, error) {
	if task.State.Terminal() {
		return model.ReminderInstance{}, fmt.Errorf("%w: no reminder for %s task %s", model.ErrInvalidTransition, task.State, task.ID)
	}
	snooze := 0
	if cur, ok := s.reminders[task.ID]; ok {
		snooze = cur.SnoozeCount
	}
	return s.put(task, snooze, now), nil
}

// Snooze 增加 snooze 次数并重新排期；这是间隔增长的唯一途径
func (s *Scheduler) Snooze(task model.FollowupTask, now time.Time) (model.ReminderInstance, error) {
	if task.State.Terminal() {
		return model.ReminderInstance{}, fmt.Errorf("%w: snooze %s task %s", model.ErrInvalidTransition, task.State, task.ID)
	}
	snooze := 1
	if cur, ok := s.reminders[task.ID]; ok {
		snooze = cur.SnoozeCount + 1
	}
	r := s.put(task, snooze, now)
	s.logger.Debug("reminder snoozed",
		zap.String("task_id", task.ID),
		zap.Int("snooze_count", r.SnoozeCount),
		zap.Duration("interval", r.Interval()),
	)
	return r, nil
}

func (s *Scheduler) put(task model.FollowupTask, snooze int, now time.Time) model.ReminderInstance {
	interval := s.Interval(task, snooze)
	r := model.ReminderInstance{
		TaskID:          task.ID,
		ScheduledAt:     now.Add(interval),
		SnoozeCount:     snooze,
		IntervalSeconds: int64(interval / time.Second),
		CreatedAt:       now,
	}
	s.reminders[task.ID] = &r
	return r
}

// Cancel 删除任务的提醒，任务进入终态时调用
func (s *Scheduler) Cancel(taskID string) bool {
	if _, ok := s.reminders[taskID]; !ok {
		return false
	}
	delete(s.reminders, taskID)
	return true
}

// Get returns the active reminder for a task.
func (s *Scheduler) Get(taskID string) (model.ReminderInstance, bool) {
	r, ok := s.reminders[taskID]
	if !ok {
		return model.ReminderInstance{}, false
	}
	return *r, true
}

// Due lists reminders with scheduled_at <= now, earliest first.
func (s *Scheduler) Due(now time.Time) []model.ReminderInstance {
	var out []model.ReminderInstance
	for _, r := range s.reminders {
		if !r.ScheduledAt.After(now) {
			out = append(out, *r)
		}
	}
	sortReminders(out)
	return out
}

// All 全部活动提醒
func (s *Scheduler) All() []model.ReminderInstance {
	out := make([]model.ReminderInstance, 0, len(s.reminders))
	for _, r := range s.reminders {
		out = append(out, *r)
	}
	sortReminders(out)
	return out
}

func sortReminders(rs []model.ReminderInstance) {
	sort.Slice(rs, func(i, j int) bool {
		if !rs[i].ScheduledAt.Equal(rs[j].ScheduledAt) {
			return rs[i].ScheduledAt.Before(rs[j].ScheduledAt)
		}
		return rs[i].TaskID < rs[j].TaskID
	})
}
