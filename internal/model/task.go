package model

import "time"

// TaskState 跟进任务状态
type TaskState string

const (
	StatePending          TaskState = "pending"
	StateAwaitingResponse TaskState = "awaiting_response"
	StateOverdue          TaskState = "overdue"
	StateEscalated        TaskState = "escalated"
	StateCompleted        TaskState = "completed"
	StateDismissed        TaskState = "dismissed"
)

// Terminal 终态不再接受任何迁移
func (s TaskState) Terminal() bool {
	return s == StateCompleted || s == StateDismissed
}

// FollowupTask is the per-email action item. One live task per email.
type FollowupTask struct {
	ID               string     `json:"id"`
	EmailID          string     `json:"email_id"`
	DecisionID       string     `json:"decision_id"`
	SenderDomain     string     `json:"sender_domain"`
	Urgency          Urgency    `json:"urgency"`
	Confidence       float64    `json:"confidence"`
	Rationale        string     `json:"rationale"`
	State            TaskState  `json:"state"`
	AwaitingResponse bool       `json:"awaiting_response"`
	CreatedAt        time.Time  `json:"created_at"`
	DueAt            *time.Time `json:"due_at,omitempty"`
	OverdueSince     *time.Time `json:"overdue_since,omitempty"`
	EscalationLevel  int        `json:"escalation_level"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// Clone 返回深拷贝，快照与迁移都基于拷贝
func (t FollowupTask) Clone() FollowupTask {
	if t.DueAt != nil {
		d := *t.DueAt
		t.DueAt = &d
	}
	if t.OverdueSince != nil {
		o := *t.OverdueSince
		t.OverdueSince = &o
	}
	return t
}

// ReminderInstance 每个非终态任务至多一个活动提醒
type ReminderInstance struct {
	TaskID          string    `json:"task_id"`
	ScheduledAt     time.Time `json:"scheduled_at"`
	SnoozeCount     int       `json:"snooze_count"`
	IntervalSeconds int64     `json:"interval_seconds"`
	CreatedAt       time.Time `json:"created_at"`
}

// Interval returns the reminder interval as a duration.
func (r ReminderInstance) Interval() time.Duration {
	return time.Duration(r.IntervalSeconds) * time.Second
}

// NoticeKind 推送给 GUI / 通知协作方的事件类型
type NoticeKind string

const (
	NoticeReminderDue   NoticeKind = "reminder.due"
	NoticeTaskOverdue   NoticeKind = "task.overdue"
	NoticeTaskEscalated NoticeKind = "task.escalated"
)

// Notice 由 tick 产生，核心不直接投递
type Notice struct {
	Kind            NoticeKind `json:"kind"`
	TaskID          string     `json:"task_id"`
	EmailID         string     `json:"email_id"`
	Urgency         Urgency    `json:"urgency"`
	EscalationLevel int        `json:"escalation_level,omitempty"`
	DueAt           *time.Time `json:"due_at,omitempty"`
	At              time.Time  `json:"at"`
}
