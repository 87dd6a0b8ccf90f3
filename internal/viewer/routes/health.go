package routes

import (
	"net/http"
	"time"
)

func registerHealthRoutes(mux *http.ServeMux, d Deps) {
	// GET /api/health reports liveness plus the two facts a dashboard wants:
	// is the backend link up, and is the state it serves current.
	handleGet(mux, "/api/health", func(w http.ResponseWriter, r *http.Request) {
		connected := d.Connected != nil && d.Connected()
		status := "ok"
		if !connected {
			status = "degraded"
		}
		writeJSON(w, map[string]any{
			"status":    status,
			"connected": connected,
			"stale":     d.Store.Snapshot().Stale,
			"uptime_s":  int(time.Since(d.StartedAt).Seconds()),
			"version":   d.Version,
		})
	})
}
