package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/DoyleJ11/lobbysync/internal/hub"
	"github.com/DoyleJ11/lobbysync/internal/telemetry"
	"github.com/DoyleJ11/lobbysync/internal/ws"
)

// SetupRoutes serves the observer surface of one session. Command routes are
// mounted only when host is non-nil.
func SetupRoutes(h *hub.Hub, host ws.Host) http.Handler {
	r := chi.NewRouter()

	// Public routes
	r.Get("/healthz", Healthz)
	r.Method(http.MethodGet, "/metrics", telemetry.MetricsHandler())
	r.Method(http.MethodGet, "/lobby", telemetry.Instrument("get_lobby", GetLobby(h)))
	r.Get("/ws", ws.Handler(h, host))

	if host != nil {
		r.Method(http.MethodPost, "/lobby/launch", telemetry.Instrument("launch", Launch(host)))
		r.Method(http.MethodPost, "/lobby/kick/{slot}", telemetry.Instrument("kick", Kick(host)))
	}
	return r
}
