package summarization

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/gistly/core/internal/models"
)

// ErrNotFound is returned when a request id has no record.
var ErrNotFound = errors.New("summarization request not found")

// RequestStore is the persistence surface the facade and worker use. The GORM
// implementation below is the production one; tests provide fakes.
type RequestStore interface {
	Insert(ctx context.Context, req *models.SummarizationRequestModel) error
	GetByID(ctx context.Context, id string) (*models.SummarizationRequestModel, error)
	// UpdateByID merges the given column updates; updated_at refreshes
	// automatically.
	UpdateByID(ctx context.Context, id string, updates map[string]interface{}) error
	// List returns up to limit requests newest first, optionally filtered by
	// status.
	List(ctx context.Context, limit int, status *models.RequestStatus) ([]models.SummarizationRequestModel, error)
}

type gormRequestStore struct {
	db *gorm.DB
}

// NewRequestStore wraps db in the production RequestStore.
func NewRequestStore(db *gorm.DB) RequestStore {
	return &gormRequestStore{db: db}
}

func (s *gormRequestStore) Insert(ctx context.Context, req *models.SummarizationRequestModel) error {
	if err := s.db.WithContext(ctx).Create(req).Error; err != nil {
		return fmt.Errorf("insert summarization request: %w", err)
	}
	return nil
}

func (s *gormRequestStore) GetByID(ctx context.Context, id string) (*models.SummarizationRequestModel, error) {
	var req models.SummarizationRequestModel
	err := s.db.WithContext(ctx).First(&req, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load summarization request %s: %w", id, err)
	}
	return &req, nil
}

func (s *gormRequestStore) UpdateByID(ctx context.Context, id string, updates map[string]interface{}) error {
	res := s.db.WithContext(ctx).
		Model(&models.SummarizationRequestModel{}).
		Where("id = ?", id).
		Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("update summarization request %s: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *gormRequestStore) List(ctx context.Context, limit int, status *models.RequestStatus) ([]models.SummarizationRequestModel, error) {
	query := s.db.WithContext(ctx).
		Model(&models.SummarizationRequestModel{}).
		Order("created_at DESC").
		Limit(limit)
	if status != nil {
		query = query.Where("status = ?", *status)
	}

	var reqs []models.SummarizationRequestModel
	if err := query.Find(&reqs).Error; err != nil {
		return nil, fmt.Errorf("list summarization requests: %w", err)
	}
	return reqs, nil
}
