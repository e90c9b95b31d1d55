package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"mailtriage/internal/model"
)

type CorrectionRepository struct {
	db *pgxpool.Pool
}

func NewCorrectionRepository(db *pgxpool.Pool) *CorrectionRepository {
	return &CorrectionRepository{db: db}
}

// Append 只追加；重复写入同一事件时忽略
func (r *CorrectionRepository) Append(ctx context.Context, ev model.CorrectionEvent) error {
	query := `
        INSERT INTO correction_events
            (id, decision_id, email_id, sender_domain, original_urgency, original_category,
             corrected_urgency, corrected_category, note, source, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
        ON CONFLICT (id) DO NOTHING
    `
	var corrUrgency, corrCategory *string
	if ev.CorrectedUrgency != nil {
		s := string(*ev.CorrectedUrgency)
		corrUrgency = &s
	}
	if ev.CorrectedCategory != nil {
		s := string(*ev.CorrectedCategory)
		corrCategory = &s
	}
	_, err := r.db.Exec(ctx, query,
		ev.ID, ev.DecisionID, ev.EmailID, ev.SenderDomain,
		string(ev.OriginalUrgency), string(ev.OriginalCategory),
		corrUrgency, corrCategory, ev.Note, string(ev.Source), ev.CreatedAt,
	)
	return err
}

// ListAll returns the ledger in append order.
func (r *CorrectionRepository) ListAll(ctx context.Context) ([]model.CorrectionEvent, error) {
	query := `
        SELECT id, decision_id, email_id, sender_domain, original_urgency, original_category,
               corrected_urgency, corrected_category, note, source, created_at
        FROM correction_events
        ORDER BY created_at, id
    `
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	events := []model.CorrectionEvent{}
	for rows.Next() {
		var ev model.CorrectionEvent
		var origUrgency, origCategory, source string
		var corrUrgency, corrCategory *string
		err := rows.Scan(
			&ev.ID,
			&ev.DecisionID,
			&ev.EmailID,
			&ev.SenderDomain,
			&origUrgency,
			&origCategory,
			&corrUrgency,
			&corrCategory,
			&ev.Note,
			&source,
			&ev.CreatedAt,
		)
		if err != nil {
			return nil, err
		}
		ev.OriginalUrgency = model.Urgency(origUrgency)
		ev.OriginalCategory = model.Category(origCategory)
		ev.Source = model.CorrectionSource(source)
		if corrUrgency != nil {
			u := model.Urgency(*corrUrgency)
			ev.CorrectedUrgency = &u
		}
		if corrCategory != nil {
			c := model.Category(*corrCategory)
			ev.CorrectedCategory = &c
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}
