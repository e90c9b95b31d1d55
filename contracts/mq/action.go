package mq

import "time"

// RoutingTriageAction GUI 发出的用户操作
const RoutingTriageAction = "triage.action"

// ActionKind 用户操作类型
type ActionKind string

const (
	ActionCorrect      ActionKind = "correct"
	ActionMarkFollowup ActionKind = "mark_followup"
	ActionComplete     ActionKind = "complete"
	ActionDismiss      ActionKind = "dismiss"
	ActionSnooze       ActionKind = "snooze"
	ActionReschedule   ActionKind = "reschedule"
)

// TriageActionPayload carries one user action. Which fields are required
// depends on Action: correct needs decision_id, mark_followup needs
// email_id, the rest need task_id (reschedule also due_at).
type TriageActionPayload struct {
	ActionID   string     `json:"action_id,omitempty"`
	Action     ActionKind `json:"action"`
	DecisionID string     `json:"decision_id,omitempty"`
	EmailID    string     `json:"email_id,omitempty"`
	TaskID     string     `json:"task_id,omitempty"`
	Urgency    *string    `json:"urgency,omitempty"`
	Category   *string    `json:"category,omitempty"`
	Note       string     `json:"note,omitempty"`
	// explicit（默认）或 implicit
	Source string     `json:"source,omitempty"`
	DueAt  *time.Time `json:"due_at,omitempty"`
}
