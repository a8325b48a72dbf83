package repo

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"crede/internal/models"
)

type PersonStore struct{ db *gorm.DB }

func NewPersonStore(db *gorm.DB) *PersonStore { return &PersonStore{db: db} }

// WithActiveCredential returns active persons holding at least one active
// credential: the population routine sync pushes to readers.
func (s *PersonStore) WithActiveCredential(ctx context.Context) ([]models.Person, error) {
	var out []models.Person
	err := s.db.WithContext(ctx).
		Distinct("people.*").
		Joins("JOIN credentials ON credentials.person_id = people.id AND credentials.active = ?", true).
		Where("people.active = ?", true).
		Order("people.id").
		Find(&out).Error
	return out, err
}

func (s *PersonStore) ByID(ctx context.Context, id uint) (*models.Person, error) {
	var p models.Person
	err := s.db.WithContext(ctx).Where("id = ? AND active = ?", id, true).First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	return &p, err
}

type CredentialStore struct{ db *gorm.DB }

func NewCredentialStore(db *gorm.DB) *CredentialStore { return &CredentialStore{db: db} }

// CurrentForPerson returns the most recently created active credential.
func (s *CredentialStore) CurrentForPerson(ctx context.Context, personID uint) (*models.Credential, error) {
	var c models.Credential
	err := s.db.WithContext(ctx).
		Where("person_id = ? AND active = ?", personID, true).
		Order("created_at DESC").
		First(&c).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	return &c, err
}

type BatchStore struct{ db *gorm.DB }

func NewBatchStore(db *gorm.DB) *BatchStore { return &BatchStore{db: db} }

// SectorAllowed reports whether the batch has an active authorization for
// the sector.
func (s *BatchStore) SectorAllowed(ctx context.Context, batchID, sectorID uint) (bool, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&models.BatchSector{}).
		Where("batch_id = ? AND sector_id = ? AND active = ?", batchID, sectorID, true).
		Count(&n).Error
	return n > 0, err
}

// ActivePeriods returns the batch's active validity windows.
func (s *BatchStore) ActivePeriods(ctx context.Context, batchID uint) ([]models.BatchPeriod, error) {
	var out []models.BatchPeriod
	err := s.db.WithContext(ctx).
		Where("batch_id = ? AND active = ?", batchID, true).
		Find(&out).Error
	return out, err
}

// InsidePeriod reports whether now falls inside any of the given windows.
func InsidePeriod(periods []models.BatchPeriod, now time.Time) bool {
	for _, p := range periods {
		if !now.Before(p.StartsAt) && !now.After(p.EndsAt) {
			return true
		}
	}
	return false
}
