package repository

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"mailtriage/internal/model"
)

type WeightRepository struct {
	db *pgxpool.Pool
}

func NewWeightRepository(db *pgxpool.Pool) *WeightRepository {
	return &WeightRepository{db: db}
}

// Upsert writes the latest value of a weight.
func (r *WeightRepository) Upsert(ctx context.Context, w model.LearningWeight) error {
	query := `
        INSERT INTO learning_weights (key, value, observations, updated_at, decayed_at)
        VALUES ($1, $2, $3, $4, $5)
        ON CONFLICT (key) DO UPDATE
        SET value = EXCLUDED.value,
            observations = EXCLUDED.observations,
            updated_at = EXCLUDED.updated_at,
            decayed_at = EXCLUDED.decayed_at
    `
	_, err := r.db.Exec(ctx, query, string(w.Key), w.Value, w.Observations, w.UpdatedAt, w.DecayedAt)
	return err
}

// ListByPrefix returns weights whose key starts with prefix; an empty
// prefix returns all of them.
func (r *WeightRepository) ListByPrefix(ctx context.Context, prefix string) ([]model.LearningWeight, error) {
	query := `
        SELECT key, value, observations, updated_at, decayed_at
        FROM learning_weights
        WHERE starts_with(key, $1)
        ORDER BY key
    `
	rows, err := r.db.Query(ctx, query, prefix)
	if err != nil {
		return nil, err
	}
	return scanWeights(rows)
}

func scanWeights(rows pgx.Rows) ([]model.LearningWeight, error) {
	defer rows.Close()

	weights := []model.LearningWeight{}
	for rows.Next() {
		var w model.LearningWeight
		var key string
		if err := rows.Scan(&key, &w.Value, &w.Observations, &w.UpdatedAt, &w.DecayedAt); err != nil {
			return nil, err
		}
		w.Key = model.WeightKey(key)
		weights = append(weights, w)
	}
	return weights, rows.Err()
}
