package reader

import (
	"context"

	"crede/internal/logs"
	"crede/internal/models"
)

// SessionStore persists session tokens back to the fleet registry.
type SessionStore interface {
	UpdateSession(ctx context.Context, deviceID uint, session string) error
}

// SessionManager obtains, validates and renews the authentication session
// of a reader. The token is returned to the caller and threaded explicitly
// through subsequent client calls; the only shared state is the persisted
// device row.
type SessionManager struct {
	Client  *Client
	Devices SessionStore
}

func NewSessionManager(c *Client, ds SessionStore) *SessionManager {
	return &SessionManager{Client: c, Devices: ds}
}

// Ensure returns a valid session token for the reader, logging in when the
// stored token is missing or rejected. A renewed token is persisted so other
// workers reuse it.
func (m *SessionManager) Ensure(ctx context.Context, dev *models.Device) (string, error) {
	if dev.Session != "" {
		valid, err := m.Client.SessionValid(ctx, dev.Addr, dev.Session)
		if err != nil {
			return "", err
		}
		if valid {
			return dev.Session, nil
		}
	}

	session, err := m.Client.Login(ctx, dev.Addr, dev.Username, dev.Password)
	if err != nil {
		return "", err
	}
	if err := m.Devices.UpdateSession(ctx, dev.ID, session); err != nil {
		// The token still works for this run even if persisting it failed.
		logs.Logger.Errorf("reader %s: persisting session failed: %v", dev.Name, err)
	}
	dev.Session = session
	logs.Logger.Infof("reader %s: session renewed", dev.Name)
	return session, nil
}
