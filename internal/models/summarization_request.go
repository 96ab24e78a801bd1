package models

// RequestStatus is the lifecycle state of a summarization request.
// Transitions are strictly forward: PENDING → PROCESSING → COMPLETED | FAILED.
type RequestStatus string

const (
	StatusPending    RequestStatus = "PENDING"
	StatusProcessing RequestStatus = "PROCESSING"
	StatusCompleted  RequestStatus = "COMPLETED"
	StatusFailed     RequestStatus = "FAILED"
)

// IsValidRequestStatus reports whether raw names a known status.
func IsValidRequestStatus(raw string) bool {
	switch RequestStatus(raw) {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// IsTerminal reports whether no further transition is possible.
func (s RequestStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// ProviderPending is the llm_provider placeholder before processing starts.
const ProviderPending = "pending"

// SummarizationRequestModel is the persisted lifecycle record of one request.
type SummarizationRequestModel struct {
	Base
	OriginalText string        `json:"originalText" gorm:"type:longtext;not null"`
	Summary      *string       `json:"summary"      gorm:"type:longtext"`
	Status       RequestStatus `json:"status"       gorm:"type:varchar(16);index;not null;default:'PENDING'"`
	LLMProvider  string        `json:"llmProvider"  gorm:"index;not null;default:'pending'"`
	TokensInput  *int          `json:"tokensInput"`
	TokensOutput *int          `json:"tokensOutput"`
	CostEstimate *float64      `json:"costEstimate"`
	Duration     *int64        `json:"duration"` // provider call wall time, milliseconds
	ErrorMessage *string       `json:"errorMessage" gorm:"type:text"`
	UserID       *string       `json:"userId"       gorm:"index"`
	RequestIP    *string       `json:"requestIp"`
}

func (SummarizationRequestModel) TableName() string { return "summarization_requests" }
