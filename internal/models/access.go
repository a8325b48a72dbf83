package models

import (
	"time"

	"gorm.io/datatypes"
)

type Person struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time `json:"created_at"`

	Name   string `gorm:"size:255" json:"name"`
	Active bool   `gorm:"index" json:"active"`
}

// Credential ties a person to a batch. The "current" credential of a person
// is the most recently created active one.
type Credential struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time `json:"created_at"`

	PersonID uint `gorm:"index" json:"person_id"`
	BatchID  uint `gorm:"index" json:"batch_id"`
	Active   bool `json:"active"`
}

// Batch groups credentials sharing sector authorizations and validity
// windows.
type Batch struct {
	ID     uint   `gorm:"primaryKey" json:"id"`
	Name   string `gorm:"size:255" json:"name"`
	Active bool   `json:"active"`
}

// BatchSector authorizes a batch for a sector.
type BatchSector struct {
	ID       uint `gorm:"primaryKey" json:"id"`
	BatchID  uint `gorm:"index" json:"batch_id"`
	SectorID uint `gorm:"index" json:"sector_id"`
	Active   bool `json:"active"`
}

// BatchPeriod is one validity window of a batch.
type BatchPeriod struct {
	ID       uint      `gorm:"primaryKey" json:"id"`
	BatchID  uint      `gorm:"index" json:"batch_id"`
	StartsAt time.Time `json:"starts_at"`
	EndsAt   time.Time `json:"ends_at"`
	Active   bool      `json:"active"`
}

// AccessAttempt is the immutable log row written for every identification
// event that can be attributed to a known reader.
type AccessAttempt struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	AttemptedAt time.Time `gorm:"index" json:"attempted_at"`

	EventCode    int    `json:"event_code"`
	DeviceID     uint   `gorm:"index" json:"device_id"`
	PersonID     *uint  `gorm:"index" json:"person_id"`
	CredentialID *uint  `json:"credential_id"`
	SectorID     *uint  `json:"sector_id"`
	Allowed      bool   `json:"allowed"`
	Message      string `gorm:"size:255" json:"message"`

	// PhotoID links the access capture the reader uploads after the event.
	PhotoID *uint `json:"photo_id"`
	// Payload keeps the raw identification event for auditing (duress flag,
	// mask flag, confidence, alternate credential values).
	Payload datatypes.JSON `json:"payload"`
}
