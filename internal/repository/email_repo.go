package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"mailtriage/internal/engine"
	"mailtriage/internal/model"
)

type EmailRepository struct {
	db *pgxpool.Pool
}

func NewEmailRepository(db *pgxpool.Pool) *EmailRepository {
	return &EmailRepository{db: db}
}

// Upsert 保存邮件及其待分类标记，重复登记覆盖旧内容
func (r *EmailRepository) Upsert(ctx context.Context, e model.EmailRecord, pending bool) error {
	query := `
        INSERT INTO triage_emails
            (id, sender, thread_id, subject, body_excerpt, received_at, due_hint, pending, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())
        ON CONFLICT (id) DO UPDATE SET
            sender = EXCLUDED.sender,
            thread_id = EXCLUDED.thread_id,
            subject = EXCLUDED.subject,
            body_excerpt = EXCLUDED.body_excerpt,
            received_at = EXCLUDED.received_at,
            due_hint = EXCLUDED.due_hint,
            pending = EXCLUDED.pending,
            updated_at = NOW()
    `
	_, err := r.db.Exec(ctx, query,
		e.ID, e.Sender, e.ThreadID, e.Subject, e.BodyExcerpt, e.ReceivedAt, e.DueHint, pending,
	)
	return err
}

func (r *EmailRepository) Delete(ctx context.Context, id string) error {
	_, err := r.db.Exec(ctx, `DELETE FROM triage_emails WHERE id = $1`, id)
	return err
}

// ListAll returns every registered email ordered by id.
func (r *EmailRepository) ListAll(ctx context.Context) ([]engine.StoredEmail, error) {
	query := `
        SELECT id, sender, thread_id, subject, body_excerpt, received_at, due_hint, pending
        FROM triage_emails
        ORDER BY id
    `
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	emails := []engine.StoredEmail{}
	for rows.Next() {
		var e engine.StoredEmail
		err := rows.Scan(
			&e.Record.ID,
			&e.Record.Sender,
			&e.Record.ThreadID,
			&e.Record.Subject,
			&e.Record.BodyExcerpt,
			&e.Record.ReceivedAt,
			&e.Record.DueHint,
			&e.Pending,
		)
		if err != nil {
			return nil, err
		}
		emails = append(emails, e)
	}
	return emails, rows.Err()
}
