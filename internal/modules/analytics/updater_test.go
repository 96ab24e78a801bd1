package analytics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/gistly/core/internal/models"
	"github.com/gistly/core/internal/modules/llm"
)

func TestApplyEventCountersStayConsistent(t *testing.T) {
	day := &models.AnalyticsDayModel{}

	events := []Event{
		{Provider: llm.ProviderGemini, Success: true, TokensInput: 100, TokensOutput: 50, Cost: 0.001, Duration: 200 * time.Millisecond},
		{Provider: llm.ProviderOpenAI, Success: true, TokensInput: 300, TokensOutput: 80, Cost: 0.002, Duration: 400 * time.Millisecond},
		{Provider: llm.ProviderUnknown, Success: false, Duration: 100 * time.Millisecond},
		{Provider: llm.ProviderGemini, Success: true, TokensInput: 10, TokensOutput: 5, Cost: 0.0001, Duration: 300 * time.Millisecond},
		{Provider: llm.ProviderUnknown, Success: false, Duration: 500 * time.Millisecond},
	}
	for _, e := range events {
		applyEvent(day, e)
	}

	assert.Equal(t, 5, day.TotalRequests)
	assert.Equal(t, 3, day.SuccessfulRequests)
	assert.Equal(t, 2, day.FailedRequests)
	assert.Equal(t, day.TotalRequests, day.SuccessfulRequests+day.FailedRequests)
	assert.Equal(t, 545, day.TotalTokensUsed)
	assert.InDelta(t, 0.0031, day.TotalCost, 1e-9)
	assert.Equal(t, 2, day.GeminiRequests)
	assert.Equal(t, 1, day.OpenAIRequests)
}

func TestApplyEventIncrementalMean(t *testing.T) {
	day := &models.AnalyticsDayModel{}

	applyEvent(day, Event{Success: true, Duration: 100 * time.Millisecond})
	assert.InDelta(t, 100, day.AvgDuration, 1e-9)

	applyEvent(day, Event{Success: true, Duration: 300 * time.Millisecond})
	assert.InDelta(t, 200, day.AvgDuration, 1e-9)

	applyEvent(day, Event{Success: false, Duration: 800 * time.Millisecond})
	assert.InDelta(t, 400, day.AvgDuration, 1e-9)
}

func TestApplyEventUnknownProviderCountsNeither(t *testing.T) {
	day := &models.AnalyticsDayModel{}
	applyEvent(day, Event{Provider: "mystery", Success: true})
	assert.Equal(t, 0, day.GeminiRequests)
	assert.Equal(t, 0, day.OpenAIRequests)
	assert.Equal(t, 1, day.TotalRequests)
}

func TestDayOfTruncatesToLocalMidnight(t *testing.T) {
	loc := time.FixedZone("UTC+2", 2*3600)
	at := time.Date(2026, 3, 15, 23, 45, 12, 0, loc)
	day := DayOf(at)
	assert.Equal(t, time.Date(2026, 3, 15, 0, 0, 0, 0, loc), day)
	assert.Equal(t, loc, day.Location())
}
