package models

import "time"

// AnalyticsDayModel is the per-calendar-day usage rollup. One row per local
// day, created lazily on the first event and updated in place afterwards.
// Invariant: TotalRequests == SuccessfulRequests + FailedRequests.
type AnalyticsDayModel struct {
	Base
	Date               time.Time `json:"date"               gorm:"uniqueIndex;not null"`
	TotalRequests      int       `json:"totalRequests"      gorm:"not null;default:0"`
	SuccessfulRequests int       `json:"successfulRequests" gorm:"not null;default:0"`
	FailedRequests     int       `json:"failedRequests"     gorm:"not null;default:0"`
	TotalTokensUsed    int       `json:"totalTokensUsed"    gorm:"not null;default:0"`
	TotalCost          float64   `json:"totalCost"          gorm:"not null;default:0"`
	AvgDuration        float64   `json:"avgDuration"`
	GeminiRequests     int       `json:"geminiRequests"     gorm:"not null;default:0"`
	OpenAIRequests     int       `json:"openaiRequests"     gorm:"not null;default:0"`
}

func (AnalyticsDayModel) TableName() string { return "analytics_days" }
