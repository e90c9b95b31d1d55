package mqhandler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	mqcontracts "mailtriage/contracts/mq"
	"mailtriage/internal/model"
	"mailtriage/pkg/logger"
	"mailtriage/pkg/mq"
)

// Deduper 重复投递去重（util.Deduper）
type Deduper interface {
	AcquireOnce(ctx context.Context, handler string, id string) bool
	Release(ctx context.Context, handler string, id string)
}

const (
	dedupEmailReceived = "email_received"
	dedupTriageAction  = "triage_action"
)

// EmailEngine 邮件事件用到的引擎操作
type EmailEngine interface {
	Ingest(ctx context.Context, email model.EmailRecord) (uint64, error)
	Forget(ctx context.Context, emailID string) error
}

// Kicker 通知分类流水线尽快执行
type Kicker interface {
	Kick()
}

type EmailHandler struct {
	engine  EmailEngine
	kicker  Kicker
	deduper Deduper
	logger  *zap.Logger
}

// NewEmailHandler creates the handler for email.received and email.deleted.
// kicker and deduper may be nil.
func NewEmailHandler(engine EmailEngine, kicker Kicker, deduper Deduper, log *zap.Logger) *EmailHandler {
	return &EmailHandler{
		engine:  engine,
		kicker:  kicker,
		deduper: deduper,
		logger:  logger.OrNop(log),
	}
}

// HandleReceived registers the email and queues it for classification.
func (h *EmailHandler) HandleReceived(ctx context.Context, raw json.RawMessage) error {
	log := logger.WithTrace(ctx, h.logger)

	var p mqcontracts.EmailReceivedPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		// JSON decode 错误 - 不可重试，发送到 DLQ
		log.Error("Failed to unmarshal email received payload (non-retryable, sending to DLQ)",
			zap.Error(err),
			zap.String("raw_payload", string(raw)),
		)
		return mq.Permanent(fmt.Errorf("json_unmarshal_error: %w", err))
	}

	key := p.DedupKey()
	if key != "" && h.deduper != nil && !h.deduper.AcquireOnce(ctx, dedupEmailReceived, key) {
		log.Info("Skipped duplicated event",
			zap.String("handler", dedupEmailReceived),
			zap.String("event_id", key),
			zap.String("email_id", p.EmailID),
		)
		return nil
	}

	gen, err := h.engine.Ingest(ctx, p.Record())
	if err != nil {
		log.Error("Failed to ingest email", zap.String("email_id", p.EmailID), zap.Error(err))
		err = classifyErr(err)
		if key != "" {
			releaseOnRetry(ctx, h.deduper, dedupEmailReceived, key, err)
		}
		return err
	}
	if h.kicker != nil {
		h.kicker.Kick()
	}

	log.Info("Email queued for classification",
		zap.String("email_id", p.EmailID),
		zap.String("sender_domain", model.DomainOf(p.Sender)),
		zap.Uint64("generation", gen),
	)
	return nil
}

// HandleDeleted forgets the email; unknown emails are ignored.
func (h *EmailHandler) HandleDeleted(ctx context.Context, raw json.RawMessage) error {
	log := logger.WithTrace(ctx, h.logger)

	var p mqcontracts.EmailDeletedPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		log.Error("Failed to unmarshal email deleted payload", zap.Error(err))
		return mq.Permanent(fmt.Errorf("json_unmarshal_error: %w", err))
	}
	if p.EmailID == "" {
		return mq.Permanent(fmt.Errorf("%w: email_id is required", model.ErrValidation))
	}

	if err := h.engine.Forget(ctx, p.EmailID); err != nil {
		log.Error("Failed to forget email", zap.String("email_id", p.EmailID), zap.Error(err))
		return classifyErr(err)
	}
	log.Info("Email forgotten", zap.String("email_id", p.EmailID))
	return nil
}

// releaseOnRetry 需要重投的失败释放去重键，否则重投会被当作重复丢弃
func releaseOnRetry(ctx context.Context, d Deduper, handler, id string, err error) {
	if d == nil || mq.IsPermanent(err) {
		return
	}
	d.Release(ctx, handler, id)
}

// classifyErr 业务错误不可重试；协调器停止等暂时性错误交给 MQ 重新投递
func classifyErr(err error) error {
	switch {
	case errors.Is(err, model.ErrValidation),
		errors.Is(err, model.ErrNotFound),
		errors.Is(err, model.ErrInvalidTransition),
		errors.Is(err, model.ErrInvalidReference):
		return mq.Permanent(err)
	default:
		return err
	}
}
