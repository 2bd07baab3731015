package store

import (
	"context"
	"fmt"
	"time"

	"github.com/zulandar/closeout/internal/models"
)

// RecordCall appends a reasoning-model call to the log.
func (s *Store) RecordCall(ctx context.Context, call models.OracleCall) error {
	if call.CreatedAt.IsZero() {
		call.CreatedAt = time.Now()
	}
	if err := s.db.WithContext(ctx).Create(&call).Error; err != nil {
		return fmt.Errorf("store: record oracle call: %w", err)
	}
	return nil
}

// CallStats aggregates the call log for one stage.
type CallStats struct {
	Stage        string
	Calls        int64
	Errors       int64
	InputTokens  int64
	OutputTokens int64
}

// CallStatsBetween aggregates the call log per stage over [since, until).
func (s *Store) CallStatsBetween(ctx context.Context, since, until time.Time) ([]CallStats, error) {
	var stats []CallStats
	err := s.db.WithContext(ctx).Model(&models.OracleCall{}).
		Select("stage, COUNT(*) AS calls, "+
			"SUM(CASE WHEN outcome = 'error' THEN 1 ELSE 0 END) AS errors, "+
			"COALESCE(SUM(input_tokens), 0) AS input_tokens, "+
			"COALESCE(SUM(output_tokens), 0) AS output_tokens").
		Where("created_at >= ? AND created_at < ?", since, until).
		Group("stage").Order("stage").
		Scan(&stats).Error
	if err != nil {
		return nil, fmt.Errorf("store: call stats: %w", err)
	}
	return stats, nil
}
