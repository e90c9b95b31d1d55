package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"mailtriage/internal/classify"
	"mailtriage/internal/model"
)

var t0 = time.Date(2026, 3, 9, 9, 0, 0, 0, time.UTC)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func sequence() func() string {
	var n atomic.Int64
	return func() string { return fmt.Sprintf("id-%03d", n.Add(1)) }
}

// startEngine runs an engine on a fake clock and stops it when the test ends.
func startEngine(t *testing.T, store Store, cfg Config) (*Engine, *testClock) {
	t.Helper()
	clk := &testClock{now: t0}
	e := New(cfg, store, nil, WithClock(clk.Now), WithIDGenerator(sequence()))
	if store != nil {
		require.NoError(t, e.Load(context.Background()))
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = e.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return e, clk
}

func conf(v float64) *float64 { return &v }

func raw(u, c string, confidence float64) *classify.RawClassification {
	return &classify.RawClassification{Urgency: u, Category: c, Confidence: conf(confidence), Rationale: "test"}
}

// ingestAndClassify feeds one email through the coordinator.
func ingestAndClassify(t *testing.T, e *Engine, email model.EmailRecord, r *classify.RawClassification) model.ClassificationDecision {
	t.Helper()
	ctx := context.Background()
	gen, err := e.Ingest(ctx, email)
	require.NoError(t, err)
	d, ok, err := e.ApplyClassification(ctx, ClassificationResult{EmailID: email.ID, Generation: gen, Raw: r})
	require.NoError(t, err)
	require.True(t, ok)
	return d
}

// fakeStore is an in-memory Store with failure injection. With block set,
// every write hangs until its context ends.
type fakeStore struct {
	mu          sync.Mutex
	fail        error
	block       bool
	writes      int
	emails      map[string]StoredEmail
	decisions   map[string]model.ClassificationDecision
	corrections []model.CorrectionEvent
	weights     map[model.WeightKey]model.LearningWeight
	tasks       map[string]model.FollowupTask
	reminders   map[string]model.ReminderInstance
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		emails:    make(map[string]StoredEmail),
		decisions: make(map[string]model.ClassificationDecision),
		weights:   make(map[model.WeightKey]model.LearningWeight),
		tasks:     make(map[string]model.FollowupTask),
		reminders: make(map[string]model.ReminderInstance),
	}
}

func (s *fakeStore) setFail(err error) {
	s.mu.Lock()
	s.fail = err
	s.mu.Unlock()
}

func (s *fakeStore) setBlock(block bool) {
	s.mu.Lock()
	s.block = block
	s.mu.Unlock()
}

func (s *fakeStore) writeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}

// write runs fn under the lock unless the store is failing or blocked.
func (s *fakeStore) write(ctx context.Context, fn func()) error {
	s.mu.Lock()
	s.writes++
	block, fail := s.block, s.fail
	s.mu.Unlock()
	if block {
		<-ctx.Done()
		return ctx.Err()
	}
	if fail != nil {
		return fail
	}
	s.mu.Lock()
	fn()
	s.mu.Unlock()
	return nil
}

func (s *fakeStore) SaveEmail(ctx context.Context, em StoredEmail) error {
	return s.write(ctx, func() { s.emails[em.Record.ID] = em })
}

func (s *fakeStore) DeleteEmail(ctx context.Context, emailID string) error {
	return s.write(ctx, func() { delete(s.emails, emailID) })
}

func (s *fakeStore) SaveDecision(ctx context.Context, d model.ClassificationDecision) error {
	return s.write(ctx, func() { s.decisions[d.ID] = d })
}

func (s *fakeStore) AppendCorrection(ctx context.Context, ev model.CorrectionEvent) error {
	return s.write(ctx, func() { s.corrections = append(s.corrections, ev) })
}

func (s *fakeStore) UpsertWeight(ctx context.Context, w model.LearningWeight) error {
	return s.write(ctx, func() { s.weights[w.Key] = w })
}

func (s *fakeStore) SaveTask(ctx context.Context, t model.FollowupTask) error {
	return s.write(ctx, func() { s.tasks[t.ID] = t })
}

func (s *fakeStore) SaveReminder(ctx context.Context, r model.ReminderInstance) error {
	return s.write(ctx, func() { s.reminders[r.TaskID] = r })
}

func (s *fakeStore) DeleteReminder(ctx context.Context, taskID string) error {
	return s.write(ctx, func() { delete(s.reminders, taskID) })
}

func (s *fakeStore) TasksByState(_ context.Context, states ...model.TaskState) ([]model.FollowupTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.FollowupTask
	for _, t := range s.tasks {
		for _, st := range states {
			if t.State == st {
				out = append(out, t)
			}
		}
	}
	return out, nil
}

func (s *fakeStore) TasksDueBetween(_ context.Context, from, to time.Time) ([]model.FollowupTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.FollowupTask
	for _, t := range s.tasks {
		if t.DueAt != nil && !t.DueAt.Before(from) && t.DueAt.Before(to) {
			out = append(out, t)
		}
	}
	return out, nil
}

func (s *fakeStore) WeightsByPrefix(_ context.Context, prefix string) ([]model.LearningWeight, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.LearningWeight
	for k, w := range s.weights {
		if strings.HasPrefix(string(k), prefix) {
			out = append(out, w)
		}
	}
	return out, nil
}

func (s *fakeStore) Load(context.Context) (PersistedState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return PersistedState{}, s.fail
	}
	var st PersistedState
	for _, em := range s.emails {
		st.Emails = append(st.Emails, em)
	}
	sort.Slice(st.Emails, func(i, j int) bool { return st.Emails[i].Record.ID < st.Emails[j].Record.ID })
	for _, d := range s.decisions {
		st.Decisions = append(st.Decisions, d)
	}
	sort.Slice(st.Decisions, func(i, j int) bool { return st.Decisions[i].ID < st.Decisions[j].ID })
	st.Corrections = append(st.Corrections, s.corrections...)
	for _, w := range s.weights {
		st.Weights = append(st.Weights, w)
	}
	for _, t := range s.tasks {
		st.Tasks = append(st.Tasks, t)
	}
	for _, r := range s.reminders {
		st.Reminders = append(st.Reminders, r)
	}
	return st, nil
}

var errDiskFull = errors.New("disk full")
