package access

import (
	"context"
	"fmt"
	"time"

	"gorm.io/datatypes"

	"crede/internal/logs"
	"crede/internal/models"
	"crede/internal/repo"
)

// Event codes the readers understand. The numeric code, not the HTTP
// status, is what allows or denies the access; the webhook transport
// always answers 200.
const (
	EventInvalidEquipment = 1
	EventPersonNotFound   = 3
	EventDenied           = 6
	EventGranted          = 7
)

// WindowPolicy decides a batch with no configured validity windows.
type WindowPolicy string

const (
	PolicyAllow WindowPolicy = "allow"
	PolicyDeny  WindowPolicy = "deny"
)

// IdentificationEvent is one identification webhook, normalized.
type IdentificationEvent struct {
	DeviceID int    // reader-assigned device id
	PersonID uint   // identified user, 0 when none
	UserName string // as reported by the reader
	PortalID int
	Raw      []byte // original payload, kept on the attempt row
}

// Action is an actuator instruction in the verdict (e.g. unlock relay).
type Action struct {
	Action     string `json:"action"`
	Parameters string `json:"parameters"`
}

// Verdict is the stable response shape returned for every branch.
type Verdict struct {
	Event     int      `json:"event"`
	Message   string   `json:"message"`
	UserID    string   `json:"user_id"`
	UserName  string   `json:"user_name"`
	UserImage bool     `json:"user_image"`
	PortalID  int      `json:"portal_id"`
	Actions   []Action `json:"actions,omitempty"`
}

// Repositories the engine consumes.
type DeviceRepo interface {
	ByRemoteID(ctx context.Context, remoteID int) (*models.Device, error)
}
type PersonRepo interface {
	ByID(ctx context.Context, id uint) (*models.Person, error)
}
type CredentialRepo interface {
	CurrentForPerson(ctx context.Context, personID uint) (*models.Credential, error)
}
type BatchRepo interface {
	SectorAllowed(ctx context.Context, batchID, sectorID uint) (bool, error)
	ActivePeriods(ctx context.Context, batchID uint) ([]models.BatchPeriod, error)
}
type AttemptRepo interface {
	Create(ctx context.Context, a *models.AccessAttempt) error
}

// Engine evaluates one identification event through ordered short-circuit
// checks. Every deny except an unknown reader writes exactly one
// AccessAttempt row before the verdict is returned.
type Engine struct {
	Devices     DeviceRepo
	Persons     PersonRepo
	Credentials CredentialRepo
	Batches     BatchRepo
	Attempts    AttemptRepo

	Policy WindowPolicy
	Now    func() time.Time // test hook; nil = time.Now
}

func (e *Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// Decide runs the pipeline. It never returns an error: internal failures
// are mapped to the "invalid equipment" verdict so the reader always gets a
// well-formed answer.
func (e *Engine) Decide(ctx context.Context, ev IdentificationEvent) Verdict {
	deny := func(event int, msg string) Verdict {
		return Verdict{
			Event:    event,
			Message:  msg,
			UserID:   fmt.Sprintf("%d", ev.PersonID),
			UserName: ev.UserName,
			PortalID: ev.PortalID,
		}
	}

	// 1) Reader known and active. No attempt row here: there is no reader
	// to attribute it to.
	dev, err := e.Devices.ByRemoteID(ctx, ev.DeviceID)
	if err != nil {
		if err != repo.ErrNotFound {
			logs.Logger.Errorf("access: reader lookup for device %d: %v", ev.DeviceID, err)
		}
		return deny(EventInvalidEquipment, "invalid equipment")
	}

	// 2) Person known and active.
	person, err := e.Persons.ByID(ctx, ev.PersonID)
	if err != nil {
		if err != repo.ErrNotFound {
			logs.Logger.Errorf("access: person lookup %d: %v", ev.PersonID, err)
			return deny(EventInvalidEquipment, "internal error")
		}
		e.logAttempt(ctx, dev, nil, nil, EventPersonNotFound, false, "person not found", ev.Raw)
		return deny(EventPersonNotFound, "person not found")
	}

	// 3) Current credential: the newest active one.
	cred, err := e.Credentials.CurrentForPerson(ctx, person.ID)
	if err != nil {
		if err != repo.ErrNotFound {
			logs.Logger.Errorf("access: credential lookup for person %d: %v", person.ID, err)
			return deny(EventInvalidEquipment, "internal error")
		}
		e.logAttempt(ctx, dev, &person.ID, nil, EventDenied, false, "invalid credential", ev.Raw)
		return deny(EventDenied, "invalid credential")
	}

	// 4) Credential's batch authorized for the reader's sector.
	allowed, err := e.Batches.SectorAllowed(ctx, cred.BatchID, dev.SectorID)
	if err != nil {
		logs.Logger.Errorf("access: sector check for batch %d: %v", cred.BatchID, err)
		return deny(EventInvalidEquipment, "internal error")
	}
	if !allowed {
		e.logAttempt(ctx, dev, &person.ID, &cred.ID, EventDenied, false, "sector not authorized", ev.Raw)
		return deny(EventDenied, "sector not authorized")
	}

	// 5) Inside one of the batch's validity windows. A batch with no
	// configured windows falls back to the configured policy.
	periods, err := e.Batches.ActivePeriods(ctx, cred.BatchID)
	if err != nil {
		logs.Logger.Errorf("access: period lookup for batch %d: %v", cred.BatchID, err)
		return deny(EventInvalidEquipment, "internal error")
	}
	inside := repo.InsidePeriod(periods, e.now())
	if len(periods) == 0 {
		inside = e.Policy == PolicyAllow
	}
	if !inside {
		e.logAttempt(ctx, dev, &person.ID, &cred.ID, EventDenied, false, "outside access period", ev.Raw)
		return deny(EventDenied, "outside access period")
	}

	// 6) Granted: success attempt plus an actuator instruction for the
	// portal behind the reader's terminal.
	e.logAttempt(ctx, dev, &person.ID, &cred.ID, EventGranted, true, "access granted", ev.Raw)
	v := deny(EventGranted, "access granted")
	v.Actions = []Action{{
		Action:     "sec_box",
		Parameters: fmt.Sprintf("id=%d, reason=1", dev.TerminalID),
	}}
	return v
}

func (e *Engine) logAttempt(ctx context.Context, dev *models.Device, personID, credentialID *uint, event int, allowed bool, message string, raw []byte) {
	sector := dev.SectorID
	a := &models.AccessAttempt{
		AttemptedAt:  e.now(),
		EventCode:    event,
		DeviceID:     dev.ID,
		PersonID:     personID,
		CredentialID: credentialID,
		SectorID:     &sector,
		Allowed:      allowed,
		Message:      message,
	}
	if len(raw) > 0 {
		a.Payload = datatypes.JSON(raw)
	}
	if err := e.Attempts.Create(ctx, a); err != nil {
		logs.Logger.Errorf("access: writing attempt row: %v", err)
	}
}
