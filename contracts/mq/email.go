package mq

import (
	"time"

	"mailtriage/internal/model"
)

// 邮件传输层发布的事件
const (
	RoutingEmailReceived = "email.received"
	RoutingEmailDeleted  = "email.deleted"
)

// EmailReceivedPayload 邮件收到（或内容变更）事件的 payload
type EmailReceivedPayload struct {
	// 可选，重复投递去重用；为空时不去重
	EventID     string     `json:"event_id,omitempty"`
	EmailID     string     `json:"email_id"`
	Sender      string     `json:"sender"`
	ThreadID    string     `json:"thread_id"`
	Subject     string     `json:"subject"`
	BodyExcerpt string     `json:"body_excerpt"`
	ReceivedAt  time.Time  `json:"received_at"`
	DueHint     *time.Time `json:"due_hint,omitempty"`
}

// DedupKey 去重键，仅按事件 id；没有事件 id 的重复投递由引擎的 generation 吸收
func (p EmailReceivedPayload) DedupKey() string {
	return p.EventID
}

// Record converts the payload into the engine's email record.
func (p EmailReceivedPayload) Record() model.EmailRecord {
	return model.EmailRecord{
		ID:          p.EmailID,
		Sender:      p.Sender,
		ThreadID:    p.ThreadID,
		Subject:     p.Subject,
		BodyExcerpt: p.BodyExcerpt,
		ReceivedAt:  p.ReceivedAt,
		DueHint:     p.DueHint,
	}
}

// EmailDeletedPayload 邮件删除事件
type EmailDeletedPayload struct {
	EmailID string `json:"email_id"`
}
