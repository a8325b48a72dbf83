package webhooks

import (
	"net/http"

	"github.com/gorilla/mux"
)

// RegisterRoutes mounts the .fcgi endpoints the readers call.
func RegisterRoutes(r *mux.Router, h *Handler) {
	r.HandleFunc("/device_is_alive.fcgi", h.DeviceAlive).Methods(http.MethodPost)
	r.HandleFunc("/new_user_identified.fcgi", h.UserIdentified).Methods(http.MethodPost)
	r.HandleFunc("/new_biometric_image.fcgi", h.BiometricImage).Methods(http.MethodGet, http.MethodPost)
	r.HandleFunc("/access_photo.fcgi", h.AccessPhoto).Methods(http.MethodPost)
}
