package engine

import (
	"context"
	"time"

	"go.uber.org/zap"

	"mailtriage/internal/model"
)

// NoticePublisher 通知出口（mq.Publisher）
type NoticePublisher interface {
	Publish(ctx context.Context, routingKey string, payload any) error
}

// Orchestrator drives the engine tick and hands the resulting notices to
// the notification collaborator.
type Orchestrator struct {
	engine    *Engine
	publisher NoticePublisher
	logger    *zap.Logger
}

// NewOrchestrator creates an Orchestrator. publisher may be nil; notices
// are then only logged.
func NewOrchestrator(e *Engine, publisher NoticePublisher, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{engine: e, publisher: publisher, logger: logger}
}

// RunOnce 执行一次 tick 并发布通知，返回成功发布的数量
func (o *Orchestrator) RunOnce(ctx context.Context) (int, error) {
	notices, err := o.engine.Tick(ctx)
	if err != nil {
		o.logger.Error("Engine tick failed", zap.Error(err))
		return 0, err
	}
	if len(notices) == 0 {
		o.logger.Debug("No notices produced")
		return 0, nil
	}

	published := 0
	for _, n := range notices {
		if o.publisher == nil {
			o.logger.Info("Notice produced",
				zap.String("kind", string(n.Kind)),
				zap.String("task_id", n.TaskID),
			)
			continue
		}
		if err := o.publisher.Publish(ctx, string(n.Kind), n); err != nil {
			o.logger.Error("Failed to publish notice",
				zap.String("kind", string(n.Kind)),
				zap.String("task_id", n.TaskID),
				zap.Error(err),
			)
			continue
		}
		published++
	}

	o.logger.Info("Tick completed",
		zap.Int("notices", len(notices)),
		zap.Int("published", published),
		zap.Int("by_kind_overdue", count(notices, model.NoticeTaskOverdue)),
		zap.Int("by_kind_escalated", count(notices, model.NoticeTaskEscalated)),
		zap.Int("by_kind_reminder", count(notices, model.NoticeReminderDue)),
	)
	return published, nil
}

// Run ticks immediately, then every interval until ctx is done.
func (o *Orchestrator) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	_, _ = o.RunOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			o.logger.Info("Tick orchestrator stopped")
			return
		case <-ticker.C:
			_, _ = o.RunOnce(ctx)
		}
	}
}

func count(notices []model.Notice, kind model.NoticeKind) int {
	n := 0
	for _, x := range notices {
		if x.Kind == kind {
			n++
		}
	}
	return n
}
