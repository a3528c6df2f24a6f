package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/DoyleJ11/lobbysync/internal/hub"
	"github.com/DoyleJ11/lobbysync/internal/lobby"
	"github.com/DoyleJ11/lobbysync/internal/setup"
	"github.com/DoyleJ11/lobbysync/internal/ws"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, lobby.ErrNoSuchSlot):
		status = http.StatusNotFound
	case errors.Is(err, lobby.ErrLaunched), errors.Is(err, lobby.ErrNotReady), errors.Is(err, lobby.ErrNoPeers):
		status = http.StatusConflict
	case errors.Is(err, lobby.ErrClosed):
		status = http.StatusServiceUnavailable
	case errors.Is(err, setup.ErrUnknownOption):
		status = http.StatusBadRequest
	}
	writeJSON(w, status, struct {
		Error string `json:"error"`
	}{Error: err.Error()})
}

// GetLobby serves the latest snapshot.
func GetLobby(h *hub.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, h.Latest())
	}
}

func Launch(host ws.Host) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := host.Launch(r.Context()); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	}
}

func Kick(host ws.Host) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		slot, err := strconv.Atoi(chi.URLParam(r, "slot"))
		if err != nil {
			http.Error(w, "bad slot", http.StatusBadRequest)
			return
		}
		if err := host.Kick(r.Context(), slot); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	}
}

func Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}
