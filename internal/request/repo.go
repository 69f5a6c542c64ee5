package request

import (
	"context"

	"gorm.io/gorm"
)

type Repo struct {
	db *gorm.DB
}

func NewRepo(db *gorm.DB) *Repo {
	return &Repo{db: db}
}

func (r *Repo) Create(ctx context.Context, req *Request) error {
	return r.db.WithContext(ctx).Create(req).Error
}

func (r *Repo) GetByID(ctx context.Context, id string) (*Request, error) {
	var req Request
	if err := r.db.WithContext(ctx).First(&req, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &req, nil
}

// ListByRequester returns the requester's records newest first.
func (r *Repo) ListByRequester(ctx context.Context, requesterKey string, limit int) ([]Request, error) {
	if limit <= 0 || limit > 200 {
		limit = 100
	}
	var reqs []Request
	if err := r.db.WithContext(ctx).
		Where("requester_key = ?", requesterKey).
		Order("created_at DESC").
		Order("id DESC").
		Limit(limit).
		Find(&reqs).Error; err != nil {
		return nil, err
	}
	return reqs, nil
}

// ListPending returns the open backlog newest first.
func (r *Repo) ListPending(ctx context.Context, limit int) ([]Request, error) {
	if limit <= 0 || limit > 500 {
		limit = 200
	}
	var reqs []Request
	if err := r.db.WithContext(ctx).
		Where("status = ?", StatusPending).
		Order("created_at DESC").
		Order("id DESC").
		Limit(limit).
		Find(&reqs).Error; err != nil {
		return nil, err
	}
	return reqs, nil
}

// CompleteIfPending performs the pending->completed transition as a single
// conditional update. Returns the number of rows changed: 0 means the row
// is missing or no longer pending, which the caller disambiguates with a
// follow-up read.
func (r *Repo) CompleteIfPending(ctx context.Context, id, resultURI string) (int64, error) {
	tx := r.db.WithContext(ctx).Model(&Request{}).
		Where("id = ? AND status = ?", id, StatusPending).
		Updates(map[string]any{
			"status":     StatusCompleted,
			"result_uri": resultURI,
		})
	return tx.RowsAffected, tx.Error
}

// FailIfPending performs the pending->failed transition under the same
// conditional-update guard as CompleteIfPending.
func (r *Repo) FailIfPending(ctx context.Context, id, reason string) (int64, error) {
	tx := r.db.WithContext(ctx).Model(&Request{}).
		Where("id = ? AND status = ?", id, StatusPending).
		Updates(map[string]any{
			"status":      StatusFailed,
			"fail_reason": reason,
		})
	return tx.RowsAffected, tx.Error
}
