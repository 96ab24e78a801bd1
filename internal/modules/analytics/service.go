package analytics

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/gistly/core/internal/models"
)

const (
	maxHistoryDays     = 365
	defaultHistoryDays = 7
	recentRequestCount = 10
)

// Totals are the all-time aggregates over every day row.
type Totals struct {
	TotalRequests      int     `json:"totalRequests"`
	SuccessfulRequests int     `json:"successfulRequests"`
	FailedRequests     int     `json:"failedRequests"`
	TotalTokensUsed    int     `json:"totalTokensUsed"`
	TotalCost          float64 `json:"totalCost"`
}

// Summary is the analytics dashboard payload.
type Summary struct {
	AllTime        Totals                             `json:"allTime"`
	Today          models.AnalyticsDayModel           `json:"today"`
	RecentRequests []models.SummarizationRequestModel `json:"recentRequests"`
}

// Service reads the rollup rows the Updater writes.
type Service struct {
	db  *gorm.DB
	now func() time.Time
}

func NewService(db *gorm.DB) *Service {
	return &Service{db: db, now: time.Now}
}

// History returns the last `days` day rows, newest first. Days is clamped to
// [1, 365]; missing days simply have no row.
func (s *Service) History(ctx context.Context, days int) ([]models.AnalyticsDayModel, error) {
	if days < 1 {
		days = defaultHistoryDays
	}
	if days > maxHistoryDays {
		days = maxHistoryDays
	}

	since := DayOf(s.now()).AddDate(0, 0, -(days - 1))
	var rows []models.AnalyticsDayModel
	err := s.db.WithContext(ctx).
		Where("date >= ?", since).
		Order("date DESC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("load analytics history: %w", err)
	}
	return rows, nil
}

// GetSummary assembles the dashboard view from three independent reads.
func (s *Service) GetSummary(ctx context.Context) (*Summary, error) {
	var summary Summary

	err := s.db.WithContext(ctx).
		Model(&models.AnalyticsDayModel{}).
		Select(
			"COALESCE(SUM(total_requests), 0) AS total_requests",
			"COALESCE(SUM(successful_requests), 0) AS successful_requests",
			"COALESCE(SUM(failed_requests), 0) AS failed_requests",
			"COALESCE(SUM(total_tokens_used), 0) AS total_tokens_used",
			"COALESCE(SUM(total_cost), 0) AS total_cost",
		).
		Scan(&summary.AllTime).Error
	if err != nil {
		return nil, fmt.Errorf("aggregate analytics totals: %w", err)
	}

	today := DayOf(s.now())
	err = s.db.WithContext(ctx).
		Where("date = ?", today).
		First(&summary.Today).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		summary.Today = models.AnalyticsDayModel{Date: today}
	} else if err != nil {
		return nil, fmt.Errorf("load today's analytics: %w", err)
	}

	err = s.db.WithContext(ctx).
		Order("created_at DESC").
		Limit(recentRequestCount).
		Find(&summary.RecentRequests).Error
	if err != nil {
		return nil, fmt.Errorf("load recent requests: %w", err)
	}
	if summary.RecentRequests == nil {
		summary.RecentRequests = []models.SummarizationRequestModel{}
	}
	return &summary, nil
}
