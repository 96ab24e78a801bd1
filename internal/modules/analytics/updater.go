package analytics

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/gistly/core/internal/models"
	"github.com/gistly/core/internal/modules/llm"
)

// Event is one finished summarization, successful or not.
type Event struct {
	Provider     string
	Success      bool
	TokensInput  int
	TokensOutput int
	Cost         float64
	Duration     time.Duration
}

// Updater folds events into per-day rollup rows.
type Updater struct {
	db  *gorm.DB
	log *zap.Logger
	now func() time.Time
}

func NewUpdater(db *gorm.DB, log *zap.Logger) *Updater {
	return &Updater{db: db, log: log, now: time.Now}
}

// DayOf truncates t to local midnight, the rollup bucket key.
func DayOf(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// RecordEvent upserts today's rollup row. Failures are logged and swallowed:
// analytics must never change a job's outcome.
func (u *Updater) RecordEvent(ctx context.Context, e Event) {
	date := DayOf(u.now())

	err := u.upsert(ctx, date, e)
	if err != nil && isDuplicateKey(err) {
		// lost the creation race for today's row, the second pass updates it
		err = u.upsert(ctx, date, e)
	}
	if err != nil {
		u.log.Error("analytics update failed",
			zap.String("provider", e.Provider),
			zap.Bool("success", e.Success),
			zap.Error(err))
	}
}

func (u *Updater) upsert(ctx context.Context, date time.Time, e Event) error {
	return u.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var day models.AnalyticsDayModel
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("date = ?", date).
			First(&day).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			day = models.AnalyticsDayModel{Date: date}
		case err != nil:
			return err
		}

		applyEvent(&day, e)
		return tx.Save(&day).Error
	})
}

// applyEvent folds one event into a day row. The running average weights by
// the request count before this event.
func applyEvent(day *models.AnalyticsDayModel, e Event) {
	prevCount := day.TotalRequests

	day.TotalRequests++
	if e.Success {
		day.SuccessfulRequests++
	} else {
		day.FailedRequests++
	}
	day.TotalTokensUsed += e.TokensInput + e.TokensOutput
	day.TotalCost += e.Cost

	durationMs := float64(e.Duration.Milliseconds())
	day.AvgDuration = (day.AvgDuration*float64(prevCount) + durationMs) / float64(prevCount+1)

	switch e.Provider {
	case llm.ProviderGemini:
		day.GeminiRequests++
	case llm.ProviderOpenAI:
		day.OpenAIRequests++
	}
}

func isDuplicateKey(err error) bool {
	return errors.Is(err, gorm.ErrDuplicatedKey)
}
