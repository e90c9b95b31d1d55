package mqhandler

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	mqcontracts "mailtriage/contracts/mq"
	"mailtriage/internal/engine"
	"mailtriage/internal/model"
	"mailtriage/pkg/logger"
	"mailtriage/pkg/mq"
)

// ActionEngine 用户操作用到的引擎操作
type ActionEngine interface {
	Correct(ctx context.Context, req engine.CorrectionRequest) (model.CorrectionEvent, error)
	MarkFollowup(ctx context.Context, emailID string) (model.FollowupTask, error)
	Complete(ctx context.Context, taskID string) (model.FollowupTask, error)
	Dismiss(ctx context.Context, taskID string) (model.FollowupTask, error)
	Snooze(ctx context.Context, taskID string) (model.ReminderInstance, error)
	Reschedule(ctx context.Context, taskID string, due time.Time) (model.FollowupTask, error)
}

type ActionHandler struct {
	engine  ActionEngine
	deduper Deduper
	logger  *zap.Logger
}

// NewActionHandler creates the handler for triage.action. deduper may be nil.
func NewActionHandler(engine ActionEngine, deduper Deduper, log *zap.Logger) *ActionHandler {
	return &ActionHandler{
		engine:  engine,
		deduper: deduper,
		logger:  logger.OrNop(log),
	}
}

// Handle applies one user action. Actions carrying an action_id are
// applied at most once.
func (h *ActionHandler) Handle(ctx context.Context, raw json.RawMessage) error {
	log := logger.WithTrace(ctx, h.logger)

	var p mqcontracts.TriageActionPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		log.Error("Failed to unmarshal triage action payload (non-retryable, sending to DLQ)",
			zap.Error(err),
			zap.String("raw_payload", string(raw)),
		)
		return mq.Permanent(fmt.Errorf("json_unmarshal_error: %w", err))
	}

	// correct 由账本按 id 去重，不占用去重键
	dedup := p.ActionID != "" && p.Action != mqcontracts.ActionCorrect && h.deduper != nil
	if dedup && !h.deduper.AcquireOnce(ctx, dedupTriageAction, p.ActionID) {
		log.Info("Skipped duplicated action",
			zap.String("action_id", p.ActionID),
			zap.String("action", string(p.Action)),
		)
		return nil
	}

	if err := h.apply(ctx, p); err != nil {
		log.Error("Failed to apply triage action",
			zap.String("action", string(p.Action)),
			zap.String("action_id", p.ActionID),
			zap.Error(err),
		)
		err = classifyErr(err)
		if dedup {
			releaseOnRetry(ctx, h.deduper, dedupTriageAction, p.ActionID, err)
		}
		return err
	}

	log.Info("Triage action applied",
		zap.String("action", string(p.Action)),
		zap.String("email_id", p.EmailID),
		zap.String("task_id", p.TaskID),
	)
	return nil
}

func (h *ActionHandler) apply(ctx context.Context, p mqcontracts.TriageActionPayload) error {
	switch p.Action {
	case mqcontracts.ActionCorrect:
		req, err := CorrectionRequestFrom(p)
		if err != nil {
			return err
		}
		_, err = h.engine.Correct(ctx, req)
		return err
	case mqcontracts.ActionMarkFollowup:
		if p.EmailID == "" {
			return fmt.Errorf("%w: email_id is required", model.ErrValidation)
		}
		_, err := h.engine.MarkFollowup(ctx, p.EmailID)
		return err
	}

	if p.TaskID == "" {
		return fmt.Errorf("%w: task_id is required for %q", model.ErrValidation, p.Action)
	}
	var err error
	switch p.Action {
	case mqcontracts.ActionComplete:
		_, err = h.engine.Complete(ctx, p.TaskID)
	case mqcontracts.ActionDismiss:
		_, err = h.engine.Dismiss(ctx, p.TaskID)
	case mqcontracts.ActionSnooze:
		_, err = h.engine.Snooze(ctx, p.TaskID)
	case mqcontracts.ActionReschedule:
		if p.DueAt == nil {
			return fmt.Errorf("%w: due_at is required", model.ErrValidation)
		}
		_, err = h.engine.Reschedule(ctx, p.TaskID, *p.DueAt)
	default:
		return fmt.Errorf("%w: unknown action %q", model.ErrValidation, p.Action)
	}
	return err
}

// CorrectionRequestFrom builds the engine request from a correct action.
func CorrectionRequestFrom(p mqcontracts.TriageActionPayload) (engine.CorrectionRequest, error) {
	if p.DecisionID == "" {
		return engine.CorrectionRequest{}, fmt.Errorf("%w: decision_id is required", model.ErrValidation)
	}
	req := engine.CorrectionRequest{
		ID:         p.ActionID,
		DecisionID: p.DecisionID,
		Note:       p.Note,
		Source:     model.SourceExplicit,
	}
	switch model.CorrectionSource(p.Source) {
	case "", model.SourceExplicit:
	case model.SourceImplicit:
		req.Source = model.SourceImplicit
	default:
		return engine.CorrectionRequest{}, fmt.Errorf("%w: unknown source %q", model.ErrValidation, p.Source)
	}
	if p.Urgency != nil {
		u := model.Urgency(*p.Urgency)
		req.Urgency = &u
	}
	if p.Category != nil {
		c := model.Category(*p.Category)
		req.Category = &c
	}
	return req, nil
}
