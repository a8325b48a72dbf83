package provision

import (
	"context"
	"time"

	"crede/internal/logs"
)

type StaleRepo interface {
	MarkStale(ctx context.Context, cutoff time.Time) (int64, error)
}

// Monitor deactivates readers whose heartbeat went silent. Heartbeats are
// written by the device_is_alive webhook; a reader that stops reporting is
// taken out of the sync rotation until it reports again.
type Monitor struct {
	Devices      StaleRepo
	OfflineAfter time.Duration
}

func (m *Monitor) Run(ctx context.Context) error {
	n, err := m.Devices.MarkStale(ctx, time.Now().Add(-m.OfflineAfter))
	if err != nil {
		return err
	}
	if n > 0 {
		logs.Logger.Warnf("%d reader(s) marked inactive (no heartbeat for %s)", n, m.OfflineAfter)
	}
	return nil
}
