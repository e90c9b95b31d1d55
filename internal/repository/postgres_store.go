package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"mailtriage/internal/engine"
	"mailtriage/internal/model"
)

// PostgresStore implements engine.Store on top of the per-table repositories.
type PostgresStore struct {
	emails      *EmailRepository
	decisions   *DecisionRepository
	corrections *CorrectionRepository
	weights     *WeightRepository
	tasks       *TaskRepository
	reminders   *ReminderRepository
}

var _ engine.Store = (*PostgresStore)(nil)

func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{
		emails:      NewEmailRepository(db),
		decisions:   NewDecisionRepository(db),
		corrections: NewCorrectionRepository(db),
		weights:     NewWeightRepository(db),
		tasks:       NewTaskRepository(db),
		reminders:   NewReminderRepository(db),
	}
}

func (s *PostgresStore) SaveEmail(ctx context.Context, e engine.StoredEmail) error {
	return s.emails.Upsert(ctx, e.Record, e.Pending)
}

func (s *PostgresStore) DeleteEmail(ctx context.Context, emailID string) error {
	return s.emails.Delete(ctx, emailID)
}

func (s *PostgresStore) SaveDecision(ctx context.Context, d model.ClassificationDecision) error {
	return s.decisions.Insert(ctx, d)
}

func (s *PostgresStore) AppendCorrection(ctx context.Context, ev model.CorrectionEvent) error {
	return s.corrections.Append(ctx, ev)
}

func (s *PostgresStore) UpsertWeight(ctx context.Context, w model.LearningWeight) error {
	return s.weights.Upsert(ctx, w)
}

func (s *PostgresStore) SaveTask(ctx context.Context, t model.FollowupTask) error {
	return s.tasks.Upsert(ctx, t)
}

func (s *PostgresStore) SaveReminder(ctx context.Context, r model.ReminderInstance) error {
	return s.reminders.Upsert(ctx, r)
}

func (s *PostgresStore) DeleteReminder(ctx context.Context, taskID string) error {
	return s.reminders.Deactivate(ctx, taskID)
}

func (s *PostgresStore) TasksByState(ctx context.Context, states ...model.TaskState) ([]model.FollowupTask, error) {
	return s.tasks.ListByState(ctx, states...)
}

func (s *PostgresStore) TasksDueBetween(ctx context.Context, from, to time.Time) ([]model.FollowupTask, error) {
	return s.tasks.ListDueBetween(ctx, from, to)
}

func (s *PostgresStore) WeightsByPrefix(ctx context.Context, prefix string) ([]model.LearningWeight, error) {
	return s.weights.ListByPrefix(ctx, prefix)
}

// Load 并发读取各表
func (s *PostgresStore) Load(ctx context.Context) (engine.PersistedState, error) {
	var st engine.PersistedState
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() (err error) {
		st.Emails, err = s.emails.ListAll(gctx)
		return wrap("load emails", err)
	})
	g.Go(func() (err error) {
		st.Decisions, err = s.decisions.ListAll(gctx)
		return wrap("load decisions", err)
	})
	g.Go(func() (err error) {
		st.Corrections, err = s.corrections.ListAll(gctx)
		return wrap("load corrections", err)
	})
	g.Go(func() (err error) {
		st.Weights, err = s.weights.ListByPrefix(gctx, "")
		return wrap("load weights", err)
	})
	g.Go(func() (err error) {
		st.Tasks, err = s.tasks.ListAll(gctx)
		return wrap("load tasks", err)
	})
	g.Go(func() (err error) {
		st.Reminders, err = s.reminders.ListActive(gctx)
		return wrap("load reminders", err)
	})

	if err := g.Wait(); err != nil {
		return engine.PersistedState{}, err
	}
	return st, nil
}

func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", op, err)
}
