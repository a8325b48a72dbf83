package webhooks

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"crede/internal/access"
	"crede/internal/logs"
	"crede/internal/models"
	"crede/internal/repo"
)

type HeartbeatRepo interface {
	Heartbeat(ctx context.Context, remoteID int, now time.Time) error
}

// Handler answers the webhook-style calls readers make at this server.
// The identification path always answers transport 200; the event code in
// the body, not the HTTP status, tells the reader what to do.
type Handler struct {
	Devices HeartbeatRepo
	Engine  *access.Engine
	Intake  *access.PhotoIntake
}

func NewHandler(devices HeartbeatRepo, engine *access.Engine, intake *access.PhotoIntake) *Handler {
	return &Handler{Devices: devices, Engine: engine, Intake: intake}
}

// flexInt tolerates readers sending numeric fields as either JSON numbers
// or strings.
type flexInt int

func (f *flexInt) UnmarshalJSON(b []byte) error {
	if len(b) == 0 || string(b) == "null" {
		*f = 0
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		if s == "" {
			*f = 0
			return nil
		}
		n, err := strconv.Atoi(s)
		if err != nil {
			*f = 0
			return nil
		}
		*f = flexInt(n)
		return nil
	}
	var n float64
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = flexInt(n)
	return nil
}

// DeviceAlive handles reader heartbeats: device_id comes as a query
// parameter.
func (h *Handler) DeviceAlive(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("device_id")
	if raw == "" {
		models.WriteJSON(w, http.StatusBadRequest, map[string]any{})
		return
	}
	remoteID, err := strconv.Atoi(raw)
	if err != nil {
		models.WriteJSON(w, http.StatusBadRequest, map[string]any{})
		return
	}
	if err := h.Devices.Heartbeat(r.Context(), remoteID, time.Now()); err != nil {
		if err == repo.ErrNotFound {
			logs.Logger.Warnf("heartbeat from unknown reader %d", remoteID)
		} else {
			logs.Logger.Errorf("heartbeat for reader %d: %v", remoteID, err)
		}
	}
	models.WriteJSON(w, http.StatusOK, map[string]any{})
}

// UserIdentified evaluates one identification event synchronously.
func (h *Handler) UserIdentified(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		models.WriteJSON(w, http.StatusOK, access.Verdict{Event: access.EventInvalidEquipment, Message: "invalid equipment"})
		return
	}
	var payload struct {
		DeviceID flexInt `json:"device_id"`
		UserID   flexInt `json:"user_id"`
		UserName string  `json:"user_name"`
		PortalID flexInt `json:"portal_id"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		logs.Logger.Errorf("identification event: unparsable payload: %v", err)
		models.WriteJSON(w, http.StatusOK, access.Verdict{Event: access.EventInvalidEquipment, Message: "invalid equipment"})
		return
	}

	verdict := h.Engine.Decide(r.Context(), access.IdentificationEvent{
		DeviceID: int(payload.DeviceID),
		PersonID: uint(payload.UserID),
		UserName: payload.UserName,
		PortalID: int(payload.PortalID),
		Raw:      raw,
	})
	logs.Logger.Infof("identification on reader %d: person %d -> event %d (%s)",
		payload.DeviceID, payload.UserID, verdict.Event, verdict.Message)
	models.WriteJSON(w, http.StatusOK, verdict)
}

// BiometricImage acknowledges template notifications; the payload is not
// consumed.
func (h *Handler) BiometricImage(w http.ResponseWriter, r *http.Request) {
	models.WriteJSON(w, http.StatusOK, map[string]any{})
}

// AccessPhoto stores the capture a reader uploads after an event.
func (h *Handler) AccessPhoto(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		DeviceID flexInt `json:"device_id"`
		UserID   flexInt `json:"user_id"`
		PortalID flexInt `json:"portal_id"`
		Event    flexInt `json:"event"`
		Photo    string  `json:"access_photo"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		models.WriteJSON(w, http.StatusOK, map[string]any{"success": false, "message": "unparsable payload"})
		return
	}
	photo, err := h.Intake.Store(r.Context(), int(payload.DeviceID), uint(payload.UserID), payload.Photo)
	if err != nil {
		logs.Logger.Errorf("access photo from reader %d: %v", payload.DeviceID, err)
		models.WriteJSON(w, http.StatusOK, map[string]any{"success": false, "message": err.Error()})
		return
	}
	models.WriteJSON(w, http.StatusOK, map[string]any{"success": true, "photo_id": photo.ID})
}
