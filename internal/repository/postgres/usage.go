package postgres

import (
	"context"
	"fmt"

	"github.com/airelay/chat-gateway/internal/domain"
	"github.com/jackc/pgx/v5/pgxpool"
)

// UsageRepository implements domain.UsageRepository
type UsageRepository struct {
	pool *pgxpool.Pool
}

// NewUsageRepository creates a new usage log repository
func NewUsageRepository(pool *pgxpool.Pool) *UsageRepository {
	return &UsageRepository{pool: pool}
}

// Create appends one audit record
func (r *UsageRepository) Create(ctx context.Context, entry *domain.UsageLog) error {
	query := `
		INSERT INTO ai_usage_logs (user_id, call_type, prompt_summary, prompt_tokens, completion_tokens, total_tokens, response_time_ms, success, error_message, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id
	`
	err := r.pool.QueryRow(ctx, query,
		entry.UserID,
		entry.CallType,
		entry.PromptSummary,
		entry.PromptTokens,
		entry.CompletionTokens,
		entry.TotalTokens,
		entry.ResponseTimeMs,
		entry.Success,
		entry.ErrorMessage,
		entry.CreatedAt,
	).Scan(&entry.ID)
	if err != nil {
		return fmt.Errorf("failed to create usage log: %w", err)
	}
	return nil
}
