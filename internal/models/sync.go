package models

import (
	"time"
)

// Photo owner/kind tags. Enrollment photos belong to a person; access
// captures from an unidentified event are filed under the reader.
const (
	PhotoOwnerPerson = "PERSON"
	PhotoOwnerDevice = "DEVICE"

	PhotoKindEnrollment = "AVATAR"
	PhotoKindAccess     = "ACCESS"
)

type Photo struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time `gorm:"index" json:"created_at"`

	OwnerID   uint   `gorm:"index" json:"owner_id"`
	OwnerKind string `gorm:"size:16;index" json:"owner_kind"`
	Kind      string `gorm:"size:16;index" json:"kind"`

	LocalPath string `gorm:"size:512" json:"local_path"`
	// RemoteRef is an already-encoded cloud reference; when set it is passed
	// through to the reader instead of reading LocalPath.
	RemoteRef string `json:"remote_ref"`
}

// SyncJob statuses. PENDING -> PROCESSING -> {DONE, PENDING (retry), FAILED}.
// DONE and FAILED are terminal.
const (
	JobPending    = "PENDING"
	JobProcessing = "PROCESSING"
	JobDone       = "DONE"
	JobFailed     = "FAILED"
)

// SyncJob is a queued on-demand distribution of one photo to all eligible
// readers. Created when a new enrollment photo appears; consumed only by the
// job worker.
type SyncJob struct {
	ID uint `gorm:"primaryKey" json:"id"`

	PersonID uint   `gorm:"index" json:"person_id"`
	PhotoID  uint   `gorm:"index" json:"photo_id"`
	Status   string `gorm:"size:16;index" json:"status"`

	Attempts    int    `json:"attempts"`
	MaxAttempts int    `json:"max_attempts"`
	LastError   string `gorm:"size:512" json:"last_error"`

	ScheduledAt time.Time  `gorm:"index" json:"scheduled_at"`
	StartedAt   *time.Time `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at"`
}

// Delivery is the durable fact that a photo was (or was not) pushed to a
// reader. A successful row for (device, photo) stops routine sync from
// re-sending that photo.
type Delivery struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time `json:"created_at"`

	DeviceID uint   `gorm:"index:idx_delivery_device_photo" json:"device_id"`
	PhotoID  uint   `gorm:"index:idx_delivery_device_photo" json:"photo_id"`
	OK       bool   `json:"ok"`
	Message  string `gorm:"size:512" json:"message"`
}
