package repo

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"crede/internal/models"
)

type PhotoStore struct{ db *gorm.DB }

func NewPhotoStore(db *gorm.DB) *PhotoStore { return &PhotoStore{db: db} }

func (s *PhotoStore) ByID(ctx context.Context, id uint) (*models.Photo, error) {
	var p models.Photo
	err := s.db.WithContext(ctx).First(&p, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	return &p, err
}

// LatestEnrollment returns the newest enrollment photo of a person,
// regardless of delivery history (forced sync, job fan-out).
func (s *PhotoStore) LatestEnrollment(ctx context.Context, personID uint) (*models.Photo, error) {
	var p models.Photo
	err := s.db.WithContext(ctx).
		Where("owner_id = ? AND owner_kind = ? AND kind = ?",
			personID, models.PhotoOwnerPerson, models.PhotoKindEnrollment).
		Order("created_at DESC").
		First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	return &p, err
}

// LatestUndelivered returns the newest enrollment photo of a person with no
// successful Delivery row for the given reader. ErrNotFound means the reader
// is up to date for that person.
func (s *PhotoStore) LatestUndelivered(ctx context.Context, personID, deviceID uint) (*models.Photo, error) {
	var p models.Photo
	err := s.db.WithContext(ctx).
		Where("owner_id = ? AND owner_kind = ? AND kind = ?",
			personID, models.PhotoOwnerPerson, models.PhotoKindEnrollment).
		Where("NOT EXISTS (SELECT 1 FROM deliveries WHERE deliveries.photo_id = photos.id AND deliveries.device_id = ? AND deliveries.ok = ?)",
			deviceID, true).
		Order("created_at DESC").
		First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	return &p, err
}

func (s *PhotoStore) Create(ctx context.Context, p *models.Photo) error {
	return s.db.WithContext(ctx).Create(p).Error
}

type DeliveryStore struct{ db *gorm.DB }

func NewDeliveryStore(db *gorm.DB) *DeliveryStore { return &DeliveryStore{db: db} }

// Record writes one delivery outcome for (device, photo).
func (s *DeliveryStore) Record(ctx context.Context, deviceID, photoID uint, ok bool, message string) error {
	return s.db.WithContext(ctx).Create(&models.Delivery{
		DeviceID: deviceID,
		PhotoID:  photoID,
		OK:       ok,
		Message:  message,
	}).Error
}
