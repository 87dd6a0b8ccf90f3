package routes

import (
	"context"
	"errors"
	"net/http"

	"github.com/avendeel/sonabridge/internal/command"
)

func registerTransportRoutes(mux *http.ServeMux, d Deps) {
	for _, p := range d.Panels {
		p := p
		base := "/api/" + string(p.Source())

		// POST /api/{source}/play {"id": ...}
		handlePost(mux, base+"/play", func(w http.ResponseWriter, r *http.Request, req struct {
			ID string `json:"id"`
		}) {
			if req.ID == "" {
				http.Error(w, "missing id", http.StatusBadRequest)
				return
			}
			respondTransport(w, p.Play(r.Context(), req.ID))
		})

		// POST /api/{source}/pause, /resume, /stop take no body.
		registerBodyless(mux, base+"/pause", p.Pause)
		registerBodyless(mux, base+"/resume", p.Resume)
		registerBodyless(mux, base+"/stop", p.Stop)

		// POST /api/{source}/seek {"position": seconds}
		handlePost(mux, base+"/seek", func(w http.ResponseWriter, r *http.Request, req struct {
			Position *float64 `json:"position"`
		}) {
			if req.Position == nil {
				http.Error(w, "missing position", http.StatusBadRequest)
				return
			}
			respondTransport(w, p.Seek(r.Context(), *req.Position))
		})

		// POST /api/{source}/speed {"value": rate}
		handlePost(mux, base+"/speed", func(w http.ResponseWriter, r *http.Request, req struct {
			Value *float64 `json:"value"`
		}) {
			if req.Value == nil {
				http.Error(w, "missing value", http.StatusBadRequest)
				return
			}
			respondTransport(w, p.SetSpeed(r.Context(), *req.Value))
		})

		// POST /api/{source}/subscribe, /unsubscribe {"id": ...}
		handlePost(mux, base+"/subscribe", func(w http.ResponseWriter, r *http.Request, req struct {
			ID string `json:"id"`
		}) {
			if req.ID == "" {
				http.Error(w, "missing id", http.StatusBadRequest)
				return
			}
			respondLibrary(w, p.Subscribe(r.Context(), req.ID))
		})
		handlePost(mux, base+"/unsubscribe", func(w http.ResponseWriter, r *http.Request, req struct {
			ID string `json:"id"`
		}) {
			if req.ID == "" {
				http.Error(w, "missing id", http.StatusBadRequest)
				return
			}
			respondLibrary(w, p.Unsubscribe(r.Context(), req.ID))
		})
	}
}

func registerBodyless(mux *http.ServeMux, path string, do func(context.Context) error) {
	mux.HandleFunc(path, func(w http.ResponseWriter, r *http.Request) {
		if !requireMethod(w, r, http.MethodPost) {
			return
		}
		respondTransport(w, do(r.Context()))
	})
}

// respondTransport maps a playback-control result onto the wire. Client
// mistakes are 4xx; a transport failure is 202 because the command may or
// may not have landed and the next delta settles it either way.
func respondTransport(w http.ResponseWriter, err error) {
	switch {
	case err == nil:
		writeJSON(w, map[string]string{"status": "sent"})
	case errors.Is(err, command.ErrBusy):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, command.ErrUnknownSource), errors.Is(err, command.ErrSpeedNotAllowed):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		writeJSONStatus(w, http.StatusAccepted, map[string]string{"status": "pending"})
	}
}

// respondLibrary maps a library action result. These are attributable
// user actions, so failures surface instead of self-healing.
func respondLibrary(w http.ResponseWriter, err error) {
	switch {
	case err == nil:
		writeJSON(w, map[string]string{"status": "ok"})
	case errors.Is(err, command.ErrBusy):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, command.ErrUnknownSource):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		http.Error(w, err.Error(), http.StatusBadGateway)
	}
}
