package routes

import (
	"net/http"

	"github.com/avendeel/sonabridge/internal/panel"
)

func registerStateRoutes(mux *http.ServeMux, d Deps) {
	// GET /api/state serves the raw store snapshot, for diagnostics.
	handleGet(mux, "/api/state", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, d.Store.Snapshot())
	})

	// GET /api/panels serves every panel's UI projection.
	handleGet(mux, "/api/panels", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, panelViews(d))
	})

	// GET /api/{source}/state serves one panel's UI projection.
	for _, p := range d.Panels {
		p := p
		handleGet(mux, "/api/"+string(p.Source())+"/state", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, p.ViewState())
		})
	}
}

func panelViews(d Deps) []panel.ViewState {
	out := make([]panel.ViewState, 0, len(d.Panels))
	for _, p := range d.Panels {
		out = append(out, p.ViewState())
	}
	return out
}
