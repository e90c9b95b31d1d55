package repository

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"mailtriage/internal/engine"
	"mailtriage/internal/model"
)

// MemoryStore 进程内存储，未配置数据库时使用，也用于测试
type MemoryStore struct {
	mu            sync.RWMutex
	emails        map[string]engine.StoredEmail
	decisions     map[string]model.ClassificationDecision
	corrections   []model.CorrectionEvent
	correctionIDs map[string]struct{}
	weights       map[model.WeightKey]model.LearningWeight
	tasks         map[string]model.FollowupTask
	reminders     map[string]model.ReminderInstance
}

var _ engine.Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		emails:        make(map[string]engine.StoredEmail),
		decisions:     make(map[string]model.ClassificationDecision),
		correctionIDs: make(map[string]struct{}),
		weights:       make(map[model.WeightKey]model.LearningWeight),
		tasks:         make(map[string]model.FollowupTask),
		reminders:     make(map[string]model.ReminderInstance),
	}
}

func (s *MemoryStore) SaveEmail(_ context.Context, e engine.StoredEmail) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.emails[e.Record.ID] = e
	return nil
}

func (s *MemoryStore) DeleteEmail(_ context.Context, emailID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.emails, emailID)
	return nil
}

func (s *MemoryStore) SaveDecision(_ context.Context, d model.ClassificationDecision) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.decisions[d.ID]; !ok {
		s.decisions[d.ID] = d
	}
	return nil
}

func (s *MemoryStore) AppendCorrection(_ context.Context, ev model.CorrectionEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.correctionIDs[ev.ID]; ok {
		return nil
	}
	s.correctionIDs[ev.ID] = struct{}{}
	s.corrections = append(s.corrections, ev)
	return nil
}

func (s *MemoryStore) UpsertWeight(_ context.Context, w model.LearningWeight) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.weights[w.Key] = w
	return nil
}

func (s *MemoryStore) SaveTask(_ context.Context, t model.FollowupTask) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[t.ID] = t.Clone()
	return nil
}

func (s *MemoryStore) SaveReminder(_ context.Context, r model.ReminderInstance) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reminders[r.TaskID] = r
	return nil
}

func (s *MemoryStore) DeleteReminder(_ context.Context, taskID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.reminders, taskID)
	return nil
}

func (s *MemoryStore) TasksByState(_ context.Context, states ...model.TaskState) ([]model.FollowupTask, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	want := make(map[model.TaskState]struct{}, len(states))
	for _, st := range states {
		want[st] = struct{}{}
	}
	out := []model.FollowupTask{}
	for _, t := range s.tasks {
		if _, ok := want[t.State]; ok {
			out = append(out, t.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) TasksDueBetween(_ context.Context, from, to time.Time) ([]model.FollowupTask, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []model.FollowupTask{}
	for _, t := range s.tasks {
		if t.DueAt != nil && !t.DueAt.Before(from) && t.DueAt.Before(to) {
			out = append(out, t.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].DueAt.Equal(*out[j].DueAt) {
			return out[i].DueAt.Before(*out[j].DueAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *MemoryStore) WeightsByPrefix(_ context.Context, prefix string) ([]model.LearningWeight, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []model.LearningWeight{}
	for k, w := range s.weights {
		if strings.HasPrefix(string(k), prefix) {
			out = append(out, w)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (s *MemoryStore) Load(ctx context.Context) (engine.PersistedState, error) {
	st := engine.PersistedState{}

	s.mu.RLock()
	for _, e := range s.emails {
		st.Emails = append(st.Emails, e)
	}
	for _, d := range s.decisions {
		st.Decisions = append(st.Decisions, d)
	}
	st.Corrections = append(st.Corrections, s.corrections...)
	for _, r := range s.reminders {
		st.Reminders = append(st.Reminders, r)
	}
	s.mu.RUnlock()

	sort.Slice(st.Decisions, func(i, j int) bool {
		if !st.Decisions[i].CreatedAt.Equal(st.Decisions[j].CreatedAt) {
			return st.Decisions[i].CreatedAt.Before(st.Decisions[j].CreatedAt)
		}
		return st.Decisions[i].ID < st.Decisions[j].ID
	})
	sort.Slice(st.Emails, func(i, j int) bool { return st.Emails[i].Record.ID < st.Emails[j].Record.ID })
	sort.Slice(st.Reminders, func(i, j int) bool { return st.Reminders[i].TaskID < st.Reminders[j].TaskID })

	st.Weights, _ = s.WeightsByPrefix(ctx, "")
	st.Tasks, _ = s.TasksByState(ctx,
		model.StatePending, model.StateAwaitingResponse, model.StateOverdue,
		model.StateEscalated, model.StateCompleted, model.StateDismissed,
	)
	return st, nil
}
