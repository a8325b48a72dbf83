package repo

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"crede/internal/models"
)

type JobStore struct{ db *gorm.DB }

func NewJobStore(db *gorm.DB) *JobStore { return &JobStore{db: db} }

func (s *JobStore) Create(ctx context.Context, j *models.SyncJob) error {
	return s.db.WithContext(ctx).Create(j).Error
}

func (s *JobStore) ByID(ctx context.Context, id uint) (*models.SyncJob, error) {
	var j models.SyncJob
	err := s.db.WithContext(ctx).First(&j, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	return &j, err
}

// Pending lists jobs eligible for processing: PENDING, or FAILED with
// attempts left, oldest scheduled first.
func (s *JobStore) Pending(ctx context.Context, limit int) ([]models.SyncJob, error) {
	var out []models.SyncJob
	err := s.db.WithContext(ctx).
		Where("status = ? OR (status = ? AND attempts < max_attempts)",
			models.JobPending, models.JobFailed).
		Order("scheduled_at ASC").
		Limit(limit).
		Find(&out).Error
	return out, err
}

// Claim transitions a job to PROCESSING with a conditional update: it only
// succeeds while the row is still eligible, so a concurrent worker that lost
// the race sees claimed == false instead of processing the job twice.
func (s *JobStore) Claim(ctx context.Context, j *models.SyncJob) (bool, error) {
	now := time.Now().UTC()
	res := s.db.WithContext(ctx).Model(&models.SyncJob{}).
		Where("id = ? AND (status = ? OR (status = ? AND attempts < max_attempts))",
			j.ID, models.JobPending, models.JobFailed).
		Updates(map[string]any{
			"status":     models.JobProcessing,
			"attempts":   gorm.Expr("attempts + 1"),
			"started_at": now,
		})
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected == 0 {
		return false, nil
	}
	j.Status = models.JobProcessing
	j.Attempts++
	j.StartedAt = &now
	return true, nil
}

func (s *JobStore) MarkDone(ctx context.Context, id uint, message string) error {
	now := time.Now().UTC()
	return s.db.WithContext(ctx).Model(&models.SyncJob{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":       models.JobDone,
			"last_error":   message,
			"completed_at": now,
		}).Error
}

// MarkFailedOrRetry sends an exhausted job to terminal FAILED, otherwise
// back to PENDING for another pass.
func (s *JobStore) MarkFailedOrRetry(ctx context.Context, id uint, errMsg string, attempts, maxAttempts int) error {
	updates := map[string]any{"last_error": errMsg}
	if attempts >= maxAttempts {
		updates["status"] = models.JobFailed
		updates["completed_at"] = time.Now().UTC()
	} else {
		updates["status"] = models.JobPending
	}
	return s.db.WithContext(ctx).Model(&models.SyncJob{}).
		Where("id = ?", id).
		Updates(updates).Error
}
