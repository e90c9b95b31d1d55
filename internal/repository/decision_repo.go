package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"mailtriage/internal/model"
)

type DecisionRepository struct {
	db *pgxpool.Pool
}

func NewDecisionRepository(db *pgxpool.Pool) *DecisionRepository {
	return &DecisionRepository{db: db}
}

// Insert stores a decision. Decisions are immutable, so a replayed insert
// is ignored.
func (r *DecisionRepository) Insert(ctx context.Context, d model.ClassificationDecision) error {
	query := `
        INSERT INTO classification_decisions
            (id, email_id, sender_domain, urgency, category, confidence, raw_confidence,
             rationale, degraded, supersedes, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NULLIF($10, ''), $11)
        ON CONFLICT (id) DO NOTHING
    `
	_, err := r.db.Exec(ctx, query,
		d.ID, d.EmailID, d.SenderDomain, string(d.Urgency), string(d.Category),
		d.Confidence, d.RawConfidence, d.Rationale, d.Degraded, d.Supersedes, d.CreatedAt,
	)
	return err
}

// ListAll returns every decision ordered by creation time.
func (r *DecisionRepository) ListAll(ctx context.Context) ([]model.ClassificationDecision, error) {
	query := `
        SELECT id, email_id, sender_domain, urgency, category, confidence, raw_confidence,
               rationale, degraded, COALESCE(supersedes, ''), created_at
        FROM classification_decisions
        ORDER BY created_at, id
    `
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	decisions := []model.ClassificationDecision{}
	for rows.Next() {
		var d model.ClassificationDecision
		var urgency, category string
		err := rows.Scan(
			&d.ID,
			&d.EmailID,
			&d.SenderDomain,
			&urgency,
			&category,
			&d.Confidence,
			&d.RawConfidence,
			&d.Rationale,
			&d.Degraded,
			&d.Supersedes,
			&d.CreatedAt,
		)
		if err != nil {
			return nil, err
		}
		d.Urgency = model.Urgency(urgency)
		d.Category = model.Category(category)
		decisions = append(decisions, d)
	}
	return decisions, rows.Err()
}
