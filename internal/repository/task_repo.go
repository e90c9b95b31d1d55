package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"mailtriage/internal/model"
)

type TaskRepository struct {
	db *pgxpool.Pool
}

func NewTaskRepository(db *pgxpool.Pool) *TaskRepository {
	return &TaskRepository{db: db}
}

const taskColumns = `id, email_id, decision_id, sender_domain, urgency, confidence, rationale,
               state, awaiting_response, created_at, due_at, overdue_since, escalation_level, updated_at`

// Upsert 整行替换任务
func (r *TaskRepository) Upsert(ctx context.Context, t model.FollowupTask) error {
	query := `
        INSERT INTO followup_tasks (` + taskColumns + `)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
        ON CONFLICT (id) DO UPDATE
        SET decision_id = EXCLUDED.decision_id,
            urgency = EXCLUDED.urgency,
            confidence = EXCLUDED.confidence,
            rationale = EXCLUDED.rationale,
            state = EXCLUDED.state,
            awaiting_response = EXCLUDED.awaiting_response,
            due_at = EXCLUDED.due_at,
            overdue_since = EXCLUDED.overdue_since,
            escalation_level = EXCLUDED.escalation_level,
            updated_at = EXCLUDED.updated_at
    `
	_, err := r.db.Exec(ctx, query,
		t.ID, t.EmailID, t.DecisionID, t.SenderDomain, string(t.Urgency), t.Confidence, t.Rationale,
		string(t.State), t.AwaitingResponse, t.CreatedAt, t.DueAt, t.OverdueSince, t.EscalationLevel, t.UpdatedAt,
	)
	return err
}

// ListAll returns every task ordered by id.
func (r *TaskRepository) ListAll(ctx context.Context) ([]model.FollowupTask, error) {
	query := `SELECT ` + taskColumns + ` FROM followup_tasks ORDER BY id`
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	return scanTasks(rows)
}

// ListByState returns tasks in any of the given states.
func (r *TaskRepository) ListByState(ctx context.Context, states ...model.TaskState) ([]model.FollowupTask, error) {
	names := make([]string, len(states))
	for i, s := range states {
		names[i] = string(s)
	}
	query := `SELECT ` + taskColumns + ` FROM followup_tasks WHERE state = ANY($1) ORDER BY id`
	rows, err := r.db.Query(ctx, query, names)
	if err != nil {
		return nil, err
	}
	return scanTasks(rows)
}

// ListDueBetween returns tasks with due_at in [from, to).
func (r *TaskRepository) ListDueBetween(ctx context.Context, from, to time.Time) ([]model.FollowupTask, error) {
	query := `
        SELECT ` + taskColumns + `
        FROM followup_tasks
        WHERE due_at >= $1 AND due_at < $2
        ORDER BY due_at, id
    `
	rows, err := r.db.Query(ctx, query, from, to)
	if err != nil {
		return nil, err
	}
	return scanTasks(rows)
}

func scanTasks(rows pgx.Rows) ([]model.FollowupTask, error) {
	defer rows.Close()

	tasks := []model.FollowupTask{}
	for rows.Next() {
		var t model.FollowupTask
		var urgency, state string
		err := rows.Scan(
			&t.ID,
			&t.EmailID,
			&t.DecisionID,
			&t.SenderDomain,
			&urgency,
			&t.Confidence,
			&t.Rationale,
			&state,
			&t.AwaitingResponse,
			&t.CreatedAt,
			&t.DueAt,
			&t.OverdueSince,
			&t.EscalationLevel,
			&t.UpdatedAt,
		)
		if err != nil {
			return nil, err
		}
		t.Urgency = model.Urgency(urgency)
		t.State = model.TaskState(state)
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}
