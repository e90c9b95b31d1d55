package reminder

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mailtriage/internal/model"
)

var t0 = time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)

func task(id string, u model.Urgency, domain string) model.FollowupTask {
	return model.FollowupTask{ID: id, EmailID: "e-" + id, SenderDomain: domain, Urgency: u, State: model.StatePending}
}

func TestInterval(t *testing.T) {
	s := New(DefaultConfig(), func(domain string) float64 {
		switch domain {
		case "vip.com":
			return 0.3
		case "meh.com":
			return -0.3
		}
		return 0
	}, nil)

	assert.Equal(t, 2*time.Hour, s.Interval(task("a", model.UrgencyUrgent, "x.com"), 0))
	assert.Equal(t, 84*time.Minute, s.Interval(task("a", model.UrgencyUrgent, "vip.com"), 0))
	assert.Equal(t, 156*time.Minute, s.Interval(task("a", model.UrgencyUrgent, "meh.com"), 0))
	assert.Equal(t, 4*time.Hour, s.Interval(task("a", model.UrgencyUrgent, "x.com"), 1))
	assert.Equal(t, 16*time.Hour, s.Interval(task("a", model.UrgencyUrgent, "x.com"), 10), "snooze multiplier capped at 8")
	assert.Equal(t, 72*time.Hour, s.Interval(task("a", model.UrgencyToRespond, "meh.com"), 5), "capped at max")
	assert.Equal(t, 24*time.Hour, s.Interval(task("a", model.UrgencyFYI, "x.com"), 0))
}

func TestScheduleNextReplaces(t *testing.T) {
	s := New(DefaultConfig(), nil, nil)
	tk := task("a", model.UrgencyUrgent, "x.com")

	r1, err := s.ScheduleNext(tk, t0)
	require.NoError(t, err)
	assert.Equal(t, t0.Add(2*time.Hour), r1.ScheduledAt)
	assert.Equal(t, int64(7200), r1.IntervalSeconds)

	r2, err := s.ScheduleNext(tk, t0.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, t0.Add(3*time.Hour), r2.ScheduledAt)
	assert.Len(t, s.All(), 1, "replaced, not duplicated")
}

func TestSnoozeBounds(t *testing.T) {
	cfg := DefaultConfig()
	s := New(cfg, func(string) float64 { return 0.3 }, nil)
	tk := task("a", model.UrgencyToRespond, "vip.com")
	base := s.Base(tk.Urgency)

	var prev time.Duration
	for n := 1; n <= 12; n++ {
		r, err := s.Snooze(tk, t0)
		require.NoError(t, err)
		assert.Equal(t, n, r.SnoozeCount)
		assert.GreaterOrEqual(t, r.Interval(), base, "snooze %d", n)
		assert.LessOrEqual(t, r.Interval(), cfg.MaxInterval, "snooze %d", n)
		assert.GreaterOrEqual(t, r.Interval(), prev, "non-decreasing")
		prev = r.Interval()
	}
}

func TestSnoozeCountSurvivesReschedule(t *testing.T) {
	s := New(DefaultConfig(), nil, nil)
	tk := task("a", model.UrgencyUrgent, "x.com")

	_, err := s.Snooze(tk, t0)
	require.NoError(t, err)
	r, err := s.ScheduleNext(tk, t0)
	require.NoError(t, err)
	assert.Equal(t, 1, r.SnoozeCount)
	assert.Equal(t, 4*time.Hour, r.Interval())

	assert.True(t, s.Cancel(tk.ID))
	r, err = s.ScheduleNext(tk, t0)
	require.NoError(t, err)
	assert.Zero(t, r.SnoozeCount, "cancel and recreate resets")
}

func TestTerminalTaskRejected(t *testing.T) {
	s := New(DefaultConfig(), nil, nil)
	tk := task("a", model.UrgencyUrgent, "x.com")
	tk.State = model.StateCompleted

	_, err := s.ScheduleNext(tk, t0)
	assert.ErrorIs(t, err, model.ErrInvalidTransition)
	_, err = s.Snooze(tk, t0)
	assert.ErrorIs(t, err, model.ErrInvalidTransition)
	_, ok := s.Get(tk.ID)
	assert.False(t, ok)
}

func TestDue(t *testing.T) {
	s := New(DefaultConfig(), nil, nil)
	_, _ = s.ScheduleNext(task("b", model.UrgencyMeeting, "x.com"), t0)   // t0+1h
	_, _ = s.ScheduleNext(task("a", model.UrgencyMeeting, "x.com"), t0)   // t0+1h
	_, _ = s.ScheduleNext(task("c", model.UrgencyToRespond, "x.com"), t0) // t0+12h

	assert.Empty(t, s.Due(t0.Add(59*time.Minute)))

	due := s.Due(t0.Add(time.Hour))
	require.Len(t, due, 2)
	assert.Equal(t, "a", due[0].TaskID)
	assert.Equal(t, "b", due[1].TaskID)

	assert.Len(t, s.Due(t0.Add(24*time.Hour)), 3)
}
