package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"mailtriage/internal/model"
)

type ReminderRepository struct {
	db *pgxpool.Pool
}

func NewReminderRepository(db *pgxpool.Pool) *ReminderRepository {
	return &ReminderRepository{db: db}
}

// Upsert 每个任务一行，重新排期时覆盖并重新激活
func (r *ReminderRepository) Upsert(ctx context.Context, rem model.ReminderInstance) error {
	query := `
        INSERT INTO reminder_instances (task_id, scheduled_at, snooze_count, interval_seconds, active, created_at)
        VALUES ($1, $2, $3, $4, TRUE, $5)
        ON CONFLICT (task_id) DO UPDATE
        SET scheduled_at = EXCLUDED.scheduled_at,
            snooze_count = EXCLUDED.snooze_count,
            interval_seconds = EXCLUDED.interval_seconds,
            active = TRUE,
            created_at = EXCLUDED.created_at
    `
	_, err := r.db.Exec(ctx, query, rem.TaskID, rem.ScheduledAt, rem.SnoozeCount, rem.IntervalSeconds, rem.CreatedAt)
	return err
}

// Deactivate cancels the task's reminder; the row is kept.
func (r *ReminderRepository) Deactivate(ctx context.Context, taskID string) error {
	query := `
        UPDATE reminder_instances
        SET active = FALSE
        WHERE task_id = $1
    `
	_, err := r.db.Exec(ctx, query, taskID)
	return err
}

// ListActive returns active reminders ordered by scheduled_at.
func (r *ReminderRepository) ListActive(ctx context.Context) ([]model.ReminderInstance, error) {
	query := `
        SELECT task_id, scheduled_at, snooze_count, interval_seconds, created_at
        FROM reminder_instances
        WHERE active
        ORDER BY scheduled_at, task_id
    `
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	reminders := []model.ReminderInstance{}
	for rows.Next() {
		var rem model.ReminderInstance
		if err := rows.Scan(&rem.TaskID, &rem.ScheduledAt, &rem.SnoozeCount, &rem.IntervalSeconds, &rem.CreatedAt); err != nil {
			return nil, err
		}
		reminders = append(reminders, rem)
	}
	return reminders, rows.Err()
}
