package mqhandler

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mqcontracts "mailtriage/contracts/mq"
	"mailtriage/internal/engine"
	"mailtriage/internal/model"
	"mailtriage/pkg/mq"
)

type fakeEngine struct {
	mu          sync.Mutex
	ingested    []model.EmailRecord
	forgotten   []string
	corrections []engine.CorrectionRequest
	calls       []string
	err         error
	// 依次返回的一次性错误，用完后回到 err
	failures []error
}

func (f *fakeEngine) record(call string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
	if len(f.failures) > 0 {
		err := f.failures[0]
		f.failures = f.failures[1:]
		return err
	}
	return f.err
}

func (f *fakeEngine) Ingest(_ context.Context, email model.EmailRecord) (uint64, error) {
	if err := f.record("ingest:" + email.ID); err != nil {
		return 0, err
	}
	f.ingested = append(f.ingested, email)
	return uint64(len(f.ingested)), nil
}

func (f *fakeEngine) Forget(_ context.Context, emailID string) error {
	if err := f.record("forget:" + emailID); err != nil {
		return err
	}
	f.forgotten = append(f.forgotten, emailID)
	return nil
}

func (f *fakeEngine) Correct(_ context.Context, req engine.CorrectionRequest) (model.CorrectionEvent, error) {
	if err := f.record("correct:" + req.DecisionID); err != nil {
		return model.CorrectionEvent{}, err
	}
	f.corrections = append(f.corrections, req)
	return model.CorrectionEvent{ID: req.ID}, nil
}

func (f *fakeEngine) MarkFollowup(_ context.Context, emailID string) (model.FollowupTask, error) {
	return model.FollowupTask{}, f.record("mark_followup:" + emailID)
}

func (f *fakeEngine) Complete(_ context.Context, taskID string) (model.FollowupTask, error) {
	return model.FollowupTask{}, f.record("complete:" + taskID)
}

func (f *fakeEngine) Dismiss(_ context.Context, taskID string) (model.FollowupTask, error) {
	return model.FollowupTask{}, f.record("dismiss:" + taskID)
}

func (f *fakeEngine) Snooze(_ context.Context, taskID string) (model.ReminderInstance, error) {
	return model.ReminderInstance{}, f.record("snooze:" + taskID)
}

func (f *fakeEngine) Reschedule(_ context.Context, taskID string, due time.Time) (model.FollowupTask, error) {
	return model.FollowupTask{}, f.record("reschedule:" + taskID + "@" + due.UTC().Format(time.RFC3339))
}

type fakeDeduper struct {
	seen     map[string]bool
	released []string
}

func (d *fakeDeduper) AcquireOnce(_ context.Context, handler string, id string) bool {
	if d.seen == nil {
		d.seen = make(map[string]bool)
	}
	key := handler + ":" + id
	if d.seen[key] {
		return false
	}
	d.seen[key] = true
	return true
}

func (d *fakeDeduper) Release(_ context.Context, handler string, id string) {
	key := handler + ":" + id
	delete(d.seen, key)
	d.released = append(d.released, key)
}

type countingKicker struct{ n int }

func (k *countingKicker) Kick() { k.n++ }

func mustJSON(t *testing.T, v any) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}

func TestEmailHandler_Received(t *testing.T) {
	eng := &fakeEngine{}
	kick := &countingKicker{}
	h := NewEmailHandler(eng, kick, &fakeDeduper{}, nil)
	ctx := context.Background()

	payload := mqcontracts.EmailReceivedPayload{
		EventID:     "evt-1",
		EmailID:     "m1",
		Sender:      "Alice <alice@acme.io>",
		Subject:     "Please review",
		BodyExcerpt: "body",
		ReceivedAt:  time.Date(2026, 3, 9, 9, 0, 0, 0, time.UTC),
	}
	require.NoError(t, h.HandleReceived(ctx, mustJSON(t, payload)))
	// 重复投递被去重
	require.NoError(t, h.HandleReceived(ctx, mustJSON(t, payload)))

	require.Len(t, eng.ingested, 1)
	assert.Equal(t, "m1", eng.ingested[0].ID)
	assert.Equal(t, "acme.io", eng.ingested[0].SenderDomain())
	assert.Equal(t, 1, kick.n)

	// 新事件 id 允许同一邮件重新分类
	payload.EventID = "evt-2"
	require.NoError(t, h.HandleReceived(ctx, mustJSON(t, payload)))
	assert.Len(t, eng.ingested, 2)
}

func TestEmailHandler_ReceivedWithoutEventIDIsNotDeduped(t *testing.T) {
	eng := &fakeEngine{}
	h := NewEmailHandler(eng, nil, &fakeDeduper{}, nil)
	ctx := context.Background()

	payload := mqcontracts.EmailReceivedPayload{EmailID: "m1", Subject: "v1"}
	require.NoError(t, h.HandleReceived(ctx, mustJSON(t, payload)))
	payload.Subject = "v2 (edited)"
	require.NoError(t, h.HandleReceived(ctx, mustJSON(t, payload)))

	require.Len(t, eng.ingested, 2)
	assert.Equal(t, "v2 (edited)", eng.ingested[1].Subject)
}

func TestEmailHandler_RedeliveryAfterTransientFailure(t *testing.T) {
	eng := &fakeEngine{failures: []error{model.ErrEngineStopped}}
	dedup := &fakeDeduper{}
	h := NewEmailHandler(eng, nil, dedup, nil)
	ctx := context.Background()
	msg := mustJSON(t, mqcontracts.EmailReceivedPayload{EventID: "evt-1", EmailID: "m1"})

	err := h.HandleReceived(ctx, msg)
	require.ErrorIs(t, err, model.ErrEngineStopped)
	assert.False(t, mq.IsPermanent(err))
	assert.Equal(t, []string{"email_received:evt-1"}, dedup.released)

	// MQ 重投后正常处理，之后的重复投递仍被去重
	require.NoError(t, h.HandleReceived(ctx, msg))
	require.NoError(t, h.HandleReceived(ctx, msg))
	require.Len(t, eng.ingested, 1)
	assert.Equal(t, []string{"ingest:m1", "ingest:m1"}, eng.calls)
}

func TestEmailHandler_PermanentFailureKeepsDedupKey(t *testing.T) {
	eng := &fakeEngine{failures: []error{model.ErrValidation}}
	dedup := &fakeDeduper{}
	h := NewEmailHandler(eng, nil, dedup, nil)

	err := h.HandleReceived(context.Background(), mustJSON(t, mqcontracts.EmailReceivedPayload{EventID: "evt-1", EmailID: "m1"}))
	assert.True(t, mq.IsPermanent(err))
	assert.Empty(t, dedup.released)
}

func TestEmailHandler_ReceivedErrors(t *testing.T) {
	ctx := context.Background()

	h := NewEmailHandler(&fakeEngine{}, nil, nil, nil)
	err := h.HandleReceived(ctx, json.RawMessage(`{not json`))
	assert.True(t, mq.IsPermanent(err))

	h = NewEmailHandler(&fakeEngine{err: model.ErrValidation}, nil, nil, nil)
	err = h.HandleReceived(ctx, json.RawMessage(`{"email_id":""}`))
	assert.True(t, mq.IsPermanent(err))

	h = NewEmailHandler(&fakeEngine{err: model.ErrEngineStopped}, nil, nil, nil)
	err = h.HandleReceived(ctx, json.RawMessage(`{"email_id":"m1"}`))
	require.Error(t, err)
	assert.False(t, mq.IsPermanent(err), "transient errors are redelivered")
}

func TestEmailHandler_Deleted(t *testing.T) {
	eng := &fakeEngine{}
	h := NewEmailHandler(eng, nil, nil, nil)
	ctx := context.Background()

	require.NoError(t, h.HandleDeleted(ctx, json.RawMessage(`{"email_id":"m1"}`)))
	assert.Equal(t, []string{"m1"}, eng.forgotten)

	err := h.HandleDeleted(ctx, json.RawMessage(`{}`))
	assert.True(t, mq.IsPermanent(err))
	assert.ErrorIs(t, err, model.ErrValidation)
}

func TestActionHandler_Dispatch(t *testing.T) {
	due := time.Date(2026, 3, 12, 9, 0, 0, 0, time.UTC)
	tests := []struct {
		name    string
		payload mqcontracts.TriageActionPayload
		call    string
	}{
		{"mark followup", mqcontracts.TriageActionPayload{Action: mqcontracts.ActionMarkFollowup, EmailID: "m1"}, "mark_followup:m1"},
		{"complete", mqcontracts.TriageActionPayload{Action: mqcontracts.ActionComplete, TaskID: "t1"}, "complete:t1"},
		{"dismiss", mqcontracts.TriageActionPayload{Action: mqcontracts.ActionDismiss, TaskID: "t1"}, "dismiss:t1"},
		{"snooze", mqcontracts.TriageActionPayload{Action: mqcontracts.ActionSnooze, TaskID: "t1"}, "snooze:t1"},
		{"reschedule", mqcontracts.TriageActionPayload{Action: mqcontracts.ActionReschedule, TaskID: "t1", DueAt: &due}, "reschedule:t1@2026-03-12T09:00:00Z"},
		{"correct", mqcontracts.TriageActionPayload{Action: mqcontracts.ActionCorrect, DecisionID: "d1"}, "correct:d1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			eng := &fakeEngine{}
			h := NewActionHandler(eng, nil, nil)
			require.NoError(t, h.Handle(context.Background(), mustJSON(t, tt.payload)))
			assert.Equal(t, []string{tt.call}, eng.calls)
		})
	}
}

func TestActionHandler_Validation(t *testing.T) {
	tests := []struct {
		name    string
		payload mqcontracts.TriageActionPayload
	}{
		{"unknown action", mqcontracts.TriageActionPayload{Action: "archive", TaskID: "t1"}},
		{"missing task id", mqcontracts.TriageActionPayload{Action: mqcontracts.ActionComplete}},
		{"missing email id", mqcontracts.TriageActionPayload{Action: mqcontracts.ActionMarkFollowup}},
		{"missing due", mqcontracts.TriageActionPayload{Action: mqcontracts.ActionReschedule, TaskID: "t1"}},
		{"missing decision", mqcontracts.TriageActionPayload{Action: mqcontracts.ActionCorrect}},
		{"bad source", mqcontracts.TriageActionPayload{Action: mqcontracts.ActionCorrect, DecisionID: "d1", Source: "robot"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			eng := &fakeEngine{}
			h := NewActionHandler(eng, nil, nil)
			err := h.Handle(context.Background(), mustJSON(t, tt.payload))
			assert.True(t, mq.IsPermanent(err))
			assert.ErrorIs(t, err, model.ErrValidation)
			assert.Empty(t, eng.calls)
		})
	}
}

func TestActionHandler_EngineErrors(t *testing.T) {
	payload := mqcontracts.TriageActionPayload{Action: mqcontracts.ActionComplete, TaskID: "t1"}

	h := NewActionHandler(&fakeEngine{err: model.ErrInvalidTransition}, nil, nil)
	assert.True(t, mq.IsPermanent(h.Handle(context.Background(), mustJSON(t, payload))))

	h = NewActionHandler(&fakeEngine{err: errors.New("boom")}, nil, nil)
	err := h.Handle(context.Background(), mustJSON(t, payload))
	require.Error(t, err)
	assert.False(t, mq.IsPermanent(err))
}

func TestActionHandler_DedupByActionID(t *testing.T) {
	eng := &fakeEngine{}
	h := NewActionHandler(eng, &fakeDeduper{}, nil)
	ctx := context.Background()

	snooze := mqcontracts.TriageActionPayload{ActionID: "a1", Action: mqcontracts.ActionSnooze, TaskID: "t1"}
	require.NoError(t, h.Handle(ctx, mustJSON(t, snooze)))
	require.NoError(t, h.Handle(ctx, mustJSON(t, snooze)))
	assert.Equal(t, []string{"snooze:t1"}, eng.calls)

	// correct 交给引擎按 id 去重
	u := "urgent"
	correct := mqcontracts.TriageActionPayload{ActionID: "a2", Action: mqcontracts.ActionCorrect, DecisionID: "d1", Urgency: &u}
	require.NoError(t, h.Handle(ctx, mustJSON(t, correct)))
	require.NoError(t, h.Handle(ctx, mustJSON(t, correct)))
	require.Len(t, eng.corrections, 2)
	assert.Equal(t, "a2", eng.corrections[0].ID)
	assert.Equal(t, model.UrgencyUrgent, *eng.corrections[0].Urgency)
	assert.Equal(t, model.SourceExplicit, eng.corrections[0].Source)
}

func TestActionHandler_RedeliveryAfterTransientFailure(t *testing.T) {
	eng := &fakeEngine{failures: []error{context.DeadlineExceeded}}
	dedup := &fakeDeduper{}
	h := NewActionHandler(eng, dedup, nil)
	ctx := context.Background()
	msg := mustJSON(t, mqcontracts.TriageActionPayload{ActionID: "a1", Action: mqcontracts.ActionComplete, TaskID: "t1"})

	err := h.Handle(ctx, msg)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, []string{"triage_action:a1"}, dedup.released)

	require.NoError(t, h.Handle(ctx, msg))
	require.NoError(t, h.Handle(ctx, msg))
	assert.Equal(t, []string{"complete:t1", "complete:t1"}, eng.calls)
}
