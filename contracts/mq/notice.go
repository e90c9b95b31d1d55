package mq

import "mailtriage/internal/model"

// tick 产生的通知按类型作为 routing key 发布，payload 为 model.Notice
const (
	RoutingReminderDue   = string(model.NoticeReminderDue)
	RoutingTaskOverdue   = string(model.NoticeTaskOverdue)
	RoutingTaskEscalated = string(model.NoticeTaskEscalated)
)
