package summarization

const (
	// Text length bounds enforced at the API boundary.
	MinTextLength = 10
	MaxTextLength = 50000
)

// CreateInput is the validated payload for a new summarization request.
type CreateInput struct {
	Text   string  `json:"text" binding:"required"`
	UserID *string `json:"userId"`
}

// CreateResult is the acknowledgement returned on accepted requests.
type CreateResult struct {
	ID        string `json:"id"`
	Status    string `json:"status"`
	CreatedAt string `json:"createdAt"`
}

// JobPayload is the queue record body for one request.
type JobPayload struct {
	RequestID string `json:"requestId"`
}

// PriorityFor maps text length to a queue priority band: short texts jump the
// line, long ones wait. Lower value runs first.
func PriorityFor(text string) int {
	switch {
	case len(text) < 1000:
		return 1
	case len(text) < 5000:
		return 2
	default:
		return 3
	}
}
