package repo

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"crede/internal/models"
)

type AttemptStore struct{ db *gorm.DB }

func NewAttemptStore(db *gorm.DB) *AttemptStore { return &AttemptStore{db: db} }

func (s *AttemptStore) Create(ctx context.Context, a *models.AccessAttempt) error {
	return s.db.WithContext(ctx).Create(a).Error
}

// Latest finds the most recent attempt on a reader, optionally narrowed to a
// person (personID == nil matches unattributed attempts). Used to link the
// access capture the reader uploads after the verdict.
func (s *AttemptStore) Latest(ctx context.Context, deviceID uint, personID *uint) (*models.AccessAttempt, error) {
	q := s.db.WithContext(ctx).Where("device_id = ?", deviceID)
	if personID != nil {
		q = q.Where("person_id = ?", *personID)
	} else {
		q = q.Where("person_id IS NULL")
	}
	var a models.AccessAttempt
	err := q.Order("attempted_at DESC").First(&a).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	return &a, err
}

func (s *AttemptStore) AttachPhoto(ctx context.Context, attemptID, photoID uint) error {
	return s.db.WithContext(ctx).Model(&models.AccessAttempt{}).
		Where("id = ?", attemptID).
		Update("photo_id", photoID).Error
}
