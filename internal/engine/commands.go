package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"mailtriage/internal/classify"
	"mailtriage/internal/followup"
	"mailtriage/internal/model"
	"mailtriage/pkg/metrics"
)

// Ingest registers (or re-registers) an email and queues it for
// classification. Any in-flight result for an older generation of the same
// email will be discarded.
func (e *Engine) Ingest(ctx context.Context, email model.EmailRecord) (uint64, error) {
	if strings.TrimSpace(email.ID) == "" {
		return 0, fmt.Errorf("%w: email id is required", model.ErrValidation)
	}
	v, err := e.do(ctx, func(cs *changeset) (any, error) {
		es, ok := e.emails[email.ID]
		if !ok {
			es = &emailState{}
			e.emails[email.ID] = es
		}
		e.generation++
		es.record = email
		es.generation = e.generation
		es.pending = true
		cs.emails = append(cs.emails, es.stored())
		return es.generation, nil
	})
	if err != nil {
		return 0, err
	}
	return v.(uint64), nil
}

// ClassificationResult 分类结果回传协调器；Generation 为提交时观察到的代号
type ClassificationResult struct {
	EmailID    string
	Generation uint64
	Raw        *classify.RawClassification
	Err        error
	// 超时/不可用时是否留在待分类队列中等待下一轮
	Requeue bool
}

// ApplyClassification adapts a classifier result into a decision and syncs
// the email's task and reminder. Results for forgotten or re-ingested emails
// are discarded (applied=false). A transport error still yields a degraded
// decision.
func (e *Engine) ApplyClassification(ctx context.Context, res ClassificationResult) (model.ClassificationDecision, bool, error) {
	v, err := e.do(ctx, func(cs *changeset) (any, error) {
		es, ok := e.emails[res.EmailID]
		if !ok || es.generation != res.Generation {
			e.logger.Debug("stale classification discarded",
				zap.String("email_id", res.EmailID),
				zap.Uint64("generation", res.Generation),
			)
			metrics.IncrementDecision("discarded")
			return nil, nil
		}

		var d model.ClassificationDecision
		if res.Err != nil {
			d = e.adapter.Fallback(es.record, res.Err.Error())
		} else {
			d = e.adapter.Adapt(es.record, res.Raw)
		}

		es.pending = transient(res.Err) && res.Requeue
		cs.emails = append(cs.emails, es.stored())

		return e.commitDecision(es, d, cs), nil
	})
	if err != nil || v == nil {
		return model.ClassificationDecision{}, false, err
	}
	return v.(model.ClassificationDecision), true, nil
}

// transient 分类器超时或不可用，下一轮可能成功
func transient(err error) bool {
	return errors.Is(err, model.ErrClassifierTimeout) || errors.Is(err, model.ErrClassifierUnavailable)
}

// commitDecision 记录新决策（取代旧决策）并同步任务与提醒
func (e *Engine) commitDecision(es *emailState, d model.ClassificationDecision, cs *changeset) model.ClassificationDecision {
	d.Supersedes = es.decisionID
	e.decisions[d.ID] = d
	es.decisionID = d.ID
	cs.decisions = append(cs.decisions, d)

	now := e.now()
	if res, ok := e.tasks.Sync(d, es.record, now); ok {
		e.afterTransition(res, now, cs)
	}
	return d
}

// afterTransition 任务变化后维护提醒：终态取消，新任务排期
func (e *Engine) afterTransition(res followup.Result, now time.Time, cs *changeset) {
	if !res.Changed {
		return
	}
	cs.tasks = append(cs.tasks, res.Task)

	if res.Task.State.Terminal() {
		if e.reminders.Cancel(res.Task.ID) {
			cs.deletedReminders = append(cs.deletedReminders, res.Task.ID)
		}
		return
	}
	if _, ok := e.reminders.Get(res.Task.ID); ok {
		return
	}
	r, err := e.reminders.ScheduleNext(res.Task, now)
	if err == nil {
		cs.reminders = append(cs.reminders, r)
	}
}

// Forget drops an email: pending classification is discarded and the live
// task dismissed. Unknown emails are a no-op.
func (e *Engine) Forget(ctx context.Context, emailID string) error {
	_, err := e.do(ctx, func(cs *changeset) (any, error) {
		if _, ok := e.emails[emailID]; !ok {
			return nil, nil
		}
		delete(e.emails, emailID)
		cs.deletedEmails = append(cs.deletedEmails, emailID)

		now := e.now()
		if live, ok := e.tasks.Live(emailID); ok {
			res, err := e.tasks.Dismiss(live.ID, now)
			if err != nil {
				return nil, err
			}
			e.afterTransition(res, now, cs)
		}
		e.logger.Info("email forgotten", zap.String("email_id", emailID))
		return nil, nil
	})
	return err
}

// CorrectionRequest GUI 发起的纠正
type CorrectionRequest struct {
	// 可选，重复投递时用于去重
	ID         string
	DecisionID string
	Urgency    *model.Urgency
	Category   *model.Category
	Note       string
	Source     model.CorrectionSource
}

// Correct records a correction, feeds it to the learning model and, when it
// changes the labels of the email's current decision, supersedes that
// decision with the corrected one.
func (e *Engine) Correct(ctx context.Context, req CorrectionRequest) (model.CorrectionEvent, error) {
	v, err := e.do(ctx, func(cs *changeset) (any, error) {
		if req.ID != "" {
			if ev, ok := e.ledger.Get(req.ID); ok {
				return ev, nil
			}
		}

		ev, err := e.ledger.Record(model.CorrectionEvent{
			ID:                req.ID,
			DecisionID:        req.DecisionID,
			CorrectedUrgency:  req.Urgency,
			CorrectedCategory: req.Category,
			Note:              req.Note,
			Source:            req.Source,
		})
		if err != nil {
			return nil, err
		}
		cs.corrections = append(cs.corrections, ev)

		updated, _ := e.learning.ApplyCorrection(ev)
		cs.weights = append(cs.weights, updated...)

		if !ev.Confirming() {
			e.supersedeWithCorrection(ev, cs)
		}
		return ev, nil
	})
	if err != nil {
		return model.CorrectionEvent{}, err
	}
	return v.(model.CorrectionEvent), nil
}

// supersedeWithCorrection 仅当被纠正的是邮件当前决策时生效
func (e *Engine) supersedeWithCorrection(ev model.CorrectionEvent, cs *changeset) {
	es, ok := e.emails[ev.EmailID]
	if !ok || es.decisionID != ev.DecisionID {
		return
	}
	prev := e.decisions[ev.DecisionID]

	rationale := "corrected by user"
	if ev.Note != "" {
		rationale += ": " + ev.Note
	}
	d := model.ClassificationDecision{
		ID:            e.newID(),
		EmailID:       ev.EmailID,
		SenderDomain:  prev.SenderDomain,
		Urgency:       ev.FinalUrgency(),
		Category:      ev.FinalCategory(),
		Confidence:    1,
		RawConfidence: 1,
		Rationale:     rationale,
		CreatedAt:     ev.CreatedAt,
	}
	es.pending = false
	e.commitDecision(es, d, cs)
}

// MarkFollowup marks the email's live task as awaiting a response.
func (e *Engine) MarkFollowup(ctx context.Context, emailID string) (model.FollowupTask, error) {
	return e.taskAction(ctx, func(now time.Time) (followup.Result, error) {
		live, ok := e.tasks.Live(emailID)
		if !ok {
			if t, found := e.tasks.ByEmail(emailID); found {
				return e.tasks.MarkFollowup(t.ID, now)
			}
			return followup.Result{}, fmt.Errorf("%w: no task for email %s", model.ErrNotFound, emailID)
		}
		return e.tasks.MarkFollowup(live.ID, now)
	})
}

// Complete 完成任务；对已完成任务为空操作
func (e *Engine) Complete(ctx context.Context, taskID string) (model.FollowupTask, error) {
	return e.taskAction(ctx, func(now time.Time) (followup.Result, error) {
		return e.tasks.Complete(taskID, now)
	})
}

// Dismiss 忽略任务；对已忽略任务为空操作
func (e *Engine) Dismiss(ctx context.Context, taskID string) (model.FollowupTask, error) {
	return e.taskAction(ctx, func(now time.Time) (followup.Result, error) {
		return e.tasks.Dismiss(taskID, now)
	})
}

// Reschedule sets a new due date; overdue/escalated tasks are reopened and
// the reminder restarts from the new date's perspective.
func (e *Engine) Reschedule(ctx context.Context, taskID string, due time.Time) (model.FollowupTask, error) {
	v, err := e.do(ctx, func(cs *changeset) (any, error) {
		now := e.now()
		res, err := e.tasks.Reopen(taskID, due, now)
		if err != nil {
			return nil, err
		}
		cs.tasks = append(cs.tasks, res.Task)
		r, err := e.reminders.ScheduleNext(res.Task, now)
		if err == nil {
			cs.reminders = append(cs.reminders, r)
		}
		return res.Task, nil
	})
	if err != nil {
		return model.FollowupTask{}, err
	}
	return v.(model.FollowupTask), nil
}

// Snooze pushes the task's reminder out; each snooze grows the interval.
func (e *Engine) Snooze(ctx context.Context, taskID string) (model.ReminderInstance, error) {
	v, err := e.do(ctx, func(cs *changeset) (any, error) {
		t, err := e.tasks.Get(taskID)
		if err != nil {
			return nil, err
		}
		r, err := e.reminders.Snooze(t, e.now())
		if err != nil {
			return nil, err
		}
		cs.reminders = append(cs.reminders, r)
		return r, nil
	})
	if err != nil {
		return model.ReminderInstance{}, err
	}
	return v.(model.ReminderInstance), nil
}

func (e *Engine) taskAction(ctx context.Context, fn func(now time.Time) (followup.Result, error)) (model.FollowupTask, error) {
	v, err := e.do(ctx, func(cs *changeset) (any, error) {
		now := e.now()
		res, err := fn(now)
		if err != nil {
			return nil, err
		}
		e.afterTransition(res, now, cs)
		return res.Task, nil
	})
	if err != nil {
		return model.FollowupTask{}, err
	}
	return v.(model.FollowupTask), nil
}

// Tick runs one cooperative evaluation pass: weight decay, overdue and
// escalation checks, then due reminders. It returns the notices produced.
func (e *Engine) Tick(ctx context.Context) ([]model.Notice, error) {
	start := time.Now()
	v, err := e.do(ctx, func(cs *changeset) (any, error) {
		now := e.now()
		var notices []model.Notice

		cs.weights = append(cs.weights, e.learning.DecayPass(now)...)

		for _, res := range e.tasks.Evaluate(now) {
			cs.tasks = append(cs.tasks, res.Task)
			t := res.Task
			switch {
			case t.State == model.StateOverdue && res.From != model.StateOverdue:
				notices = append(notices, noticeFor(model.NoticeTaskOverdue, t, now))
			case t.State == model.StateEscalated:
				notices = append(notices, noticeFor(model.NoticeTaskEscalated, t, now))
			}
		}

		// 加载后缺失提醒的活动任务补排
		for _, t := range e.tasks.All() {
			if t.State.Terminal() {
				continue
			}
			if _, ok := e.reminders.Get(t.ID); !ok {
				if r, err := e.reminders.ScheduleNext(t, now); err == nil {
					cs.reminders = append(cs.reminders, r)
				}
			}
		}

		fired := 0
		for _, r := range e.reminders.Due(now) {
			t, err := e.tasks.Get(r.TaskID)
			if err != nil || t.State.Terminal() {
				e.reminders.Cancel(r.TaskID)
				cs.deletedReminders = append(cs.deletedReminders, r.TaskID)
				continue
			}
			notices = append(notices, noticeFor(model.NoticeReminderDue, t, now))
			next, err := e.reminders.ScheduleNext(t, now)
			if err == nil {
				cs.reminders = append(cs.reminders, next)
			}
			fired++
		}
		metrics.IncrementReminderFired(fired)
		return notices, nil
	})
	metrics.RecordTick(time.Since(start))
	if err != nil {
		return nil, err
	}
	return v.([]model.Notice), nil
}

func noticeFor(kind model.NoticeKind, t model.FollowupTask, now time.Time) model.Notice {
	return model.Notice{
		Kind:            kind,
		TaskID:          t.ID,
		EmailID:         t.EmailID,
		Urgency:         t.Urgency,
		EscalationLevel: t.EscalationLevel,
		DueAt:           t.DueAt,
		At:              now,
	}
}
