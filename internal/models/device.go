package models

import (
	"time"
)

// Device is a networked facial reader managed by this server.
// Eligible for synchronization only when Active && Configured.
type Device struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Name     string `gorm:"size:255" json:"name"`
	Addr     string `gorm:"size:255;not null" json:"addr"` // host[:port] of the reader HTTP interface
	Username string `gorm:"size:64" json:"username"`
	Password string `gorm:"size:64" json:"-"`

	// Session is the last known session token for this reader. Persisted so
	// any worker can reuse it; empty when the reader was never logged into.
	Session string `gorm:"size:64" json:"-"`

	// RemoteID is the id the reader assigns to itself; identification
	// webhooks carry it as device_id.
	RemoteID int `gorm:"index" json:"remote_id"`
	// ServerID is the id of the management-server object created on the
	// reader during provisioning.
	ServerID int `json:"server_id"`

	SectorID   uint   `gorm:"index" json:"sector_id"`
	TerminalID int    `json:"terminal_id"`
	ServerURL  string `gorm:"size:255" json:"server_url"` // callback base for monitor/online mode

	Active        bool       `json:"active"`
	Configured    bool       `json:"configured"`
	LastHeartbeat *time.Time `json:"last_heartbeat"`
}

// Sector is an access zone guarded by one or more readers.
type Sector struct {
	ID     uint   `gorm:"primaryKey" json:"id"`
	Name   string `gorm:"size:255" json:"name"`
	Active bool   `json:"active"`
}
