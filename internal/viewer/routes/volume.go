package routes

import "net/http"

func registerVolumeRoutes(mux *http.ServeMux, d Deps) {
	if d.Volume == nil {
		return
	}

	// POST /api/volume {"level": n} or {"delta": n}. Every call lands in
	// the store immediately; the throttle decides when the wire sees it.
	handlePost(mux, "/api/volume", func(w http.ResponseWriter, r *http.Request, req struct {
		Level *int `json:"level"`
		Delta *int `json:"delta"`
	}) {
		switch {
		case req.Level != nil && req.Delta != nil:
			http.Error(w, "level or delta, not both", http.StatusBadRequest)
		case req.Level != nil:
			writeJSON(w, map[string]int{"level": d.Volume.SetVolume(*req.Level)})
		case req.Delta != nil:
			writeJSON(w, map[string]int{"level": d.Volume.AdjustVolume(*req.Delta)})
		default:
			http.Error(w, "missing level or delta", http.StatusBadRequest)
		}
	})

	// POST /api/volume/up, /down: one configured step per call.
	mux.HandleFunc("/api/volume/up", func(w http.ResponseWriter, r *http.Request) {
		if !requireMethod(w, r, http.MethodPost) {
			return
		}
		writeJSON(w, map[string]int{"level": d.Volume.AdjustVolume(d.Volume.Step())})
	})
	mux.HandleFunc("/api/volume/down", func(w http.ResponseWriter, r *http.Request) {
		if !requireMethod(w, r, http.MethodPost) {
			return
		}
		writeJSON(w, map[string]int{"level": d.Volume.AdjustVolume(-d.Volume.Step())})
	})

	// POST /api/volume/commit: gesture over, flush now.
	mux.HandleFunc("/api/volume/commit", func(w http.ResponseWriter, r *http.Request) {
		if !requireMethod(w, r, http.MethodPost) {
			return
		}
		d.Volume.End(r.Context())
		writeJSON(w, map[string]string{"status": "committed"})
	})
}
