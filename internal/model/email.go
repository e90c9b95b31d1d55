package model

import (
	"net/mail"
	"strings"
	"time"
)

// EmailRecord 由邮件传输层提供，核心只读
type EmailRecord struct {
	ID          string     `json:"email_id"`
	Sender      string     `json:"sender"`
	ThreadID    string     `json:"thread_id"`
	Subject     string     `json:"subject"`
	BodyExcerpt string     `json:"body_excerpt"`
	ReceivedAt  time.Time  `json:"received_at"`
	DueHint     *time.Time `json:"due_hint,omitempty"`
}

// SenderDomain returns the lower-cased domain of the sender address,
// or "unknown" when none can be extracted.
func (e EmailRecord) SenderDomain() string {
	return DomainOf(e.Sender)
}

// DomainOf 支持 "Name <a@b.com>" 与裸地址两种格式
func DomainOf(sender string) string {
	addr := strings.TrimSpace(sender)
	if parsed, err := mail.ParseAddress(addr); err == nil {
		addr = parsed.Address
	}
	at := strings.LastIndex(addr, "@")
	if at < 0 || at == len(addr)-1 {
		return "unknown"
	}
	return strings.ToLower(strings.Trim(addr[at+1:], "> "))
}
