package routes

import (
	"net/http"
	"time"

	"github.com/avendeel/sonabridge/internal/command"
	"github.com/avendeel/sonabridge/internal/hub"
	"github.com/avendeel/sonabridge/internal/panel"
	"github.com/avendeel/sonabridge/internal/state"
)

// Logs is what the log endpoints need from the log buffer. An interface
// here keeps the parent package out of this one's imports.
type Logs interface {
	ServeLogsJSON(w http.ResponseWriter, r *http.Request)
	ServeLogsSSE(w http.ResponseWriter, r *http.Request)
}

type Deps struct {
	Store  *state.Store
	Panels []*panel.Panel
	Volume *command.VolumeThrottle
	Hub    *hub.Hub
	Logs   Logs

	// Connected reports whether the backend link is up.
	Connected func() bool

	StartedAt time.Time
	Version   string
}

func Register(mux *http.ServeMux, d Deps) {
	registerStateRoutes(mux, d)
	registerTransportRoutes(mux, d)
	registerVolumeRoutes(mux, d)
	registerEventRoutes(mux, d)
	registerLogRoutes(mux, d)
	registerHealthRoutes(mux, d)
}
