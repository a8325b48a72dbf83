package repo

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"crede/internal/models"
)

var (
	ErrNotFound = errors.New("record not found")
)

type DeviceStore struct{ db *gorm.DB }

func NewDeviceStore(db *gorm.DB) *DeviceStore { return &DeviceStore{db: db} }

func (s *DeviceStore) All(ctx context.Context) ([]models.Device, error) {
	var out []models.Device
	err := s.db.WithContext(ctx).Order("name").Find(&out).Error
	return out, err
}

// Eligible returns readers routine sync and job fan-out may talk to.
func (s *DeviceStore) Eligible(ctx context.Context) ([]models.Device, error) {
	var out []models.Device
	err := s.db.WithContext(ctx).
		Where("active = ? AND configured = ?", true, true).
		Order("name").Find(&out).Error
	return out, err
}

// Unconfigured returns readers waiting for provisioning.
func (s *DeviceStore) Unconfigured(ctx context.Context) ([]models.Device, error) {
	var out []models.Device
	err := s.db.WithContext(ctx).Where("configured = ?", false).Order("name").Find(&out).Error
	return out, err
}

func (s *DeviceStore) ByID(ctx context.Context, id uint) (*models.Device, error) {
	var d models.Device
	err := s.db.WithContext(ctx).First(&d, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	return &d, err
}

// ByRemoteID resolves the reader an identification webhook came from.
// Only active readers match.
func (s *DeviceStore) ByRemoteID(ctx context.Context, remoteID int) (*models.Device, error) {
	var d models.Device
	err := s.db.WithContext(ctx).
		Where("remote_id = ? AND active = ?", remoteID, true).
		First(&d).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	return &d, err
}

// UpdateSession persists a freshly obtained session token so other workers
// reuse it instead of logging in again.
func (s *DeviceStore) UpdateSession(ctx context.Context, id uint, session string) error {
	return s.db.WithContext(ctx).Model(&models.Device{}).
		Where("id = ?", id).
		Update("session", session).Error
}

func (s *DeviceStore) SetRemoteID(ctx context.Context, id uint, remoteID int) error {
	return s.db.WithContext(ctx).Model(&models.Device{}).
		Where("id = ?", id).
		Update("remote_id", remoteID).Error
}

func (s *DeviceStore) SetServerID(ctx context.Context, id uint, serverID int) error {
	return s.db.WithContext(ctx).Model(&models.Device{}).
		Where("id = ?", id).
		Update("server_id", serverID).Error
}

func (s *DeviceStore) MarkConfigured(ctx context.Context, id uint) error {
	return s.db.WithContext(ctx).Model(&models.Device{}).
		Where("id = ?", id).
		Update("configured", true).Error
}

// Heartbeat marks the reader alive. Matched by the reader-assigned id the
// webhook carries.
func (s *DeviceStore) Heartbeat(ctx context.Context, remoteID int, now time.Time) error {
	res := s.db.WithContext(ctx).Model(&models.Device{}).
		Where("remote_id = ?", remoteID).
		Updates(map[string]any{
			"active":         true,
			"last_heartbeat": now,
			"updated_at":     now,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkStale deactivates readers whose heartbeat is older than the cutoff.
// Readers that never reported are left alone.
func (s *DeviceStore) MarkStale(ctx context.Context, cutoff time.Time) (int64, error) {
	res := s.db.WithContext(ctx).Model(&models.Device{}).
		Where("active = ? AND last_heartbeat IS NOT NULL AND last_heartbeat < ?", true, cutoff).
		Update("active", false)
	return res.RowsAffected, res.Error
}
