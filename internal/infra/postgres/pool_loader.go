package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"qbank-service/internal/domain"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
)

// PoolLoader loads paper question pools stored as JSONB in Postgres.
type PoolLoader struct {
	pool *pgxpool.Pool
}

func NewPoolLoader(pool *pgxpool.Pool) *PoolLoader {
	return &PoolLoader{pool: pool}
}

func (l *PoolLoader) LoadPool(ctx context.Context, paperID string) ([]domain.Question, error) {
	var raw []byte
	err := l.pool.QueryRow(ctx, `SELECT questions FROM papers WHERE id=$1`, paperID).Scan(&raw)
	if err == pgx.ErrNoRows {
		// A paper without a row has an empty pool; the state machine turns
		// that into a user-visible notice, not a failure.
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load paper pool: %w", err)
	}
	var questions []domain.Question
	if err := json.Unmarshal(raw, &questions); err != nil {
		return nil, fmt.Errorf("unmarshal paper pool: %w", err)
	}
	return questions, nil
}
