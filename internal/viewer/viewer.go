// Package viewer serves the daemon's HTTP surface: panel state, transport
// controls, volume, the event stream and the log ring.
package viewer

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/avendeel/sonabridge/internal/command"
	"github.com/avendeel/sonabridge/internal/hub"
	"github.com/avendeel/sonabridge/internal/panel"
	"github.com/avendeel/sonabridge/internal/source"
	"github.com/avendeel/sonabridge/internal/state"
	"github.com/avendeel/sonabridge/internal/viewer/routes"
)

// Viewer wires the HTTP server over the daemon's managers.
type Viewer struct {
	Addr      string
	Store     *state.Store
	Panels    []*panel.Panel
	Volume    *command.VolumeThrottle
	Hub       *hub.Hub
	Logs      *LogBuffer
	Connected func() bool
	Version   string
	Log       zerolog.Logger

	srv  *http.Server
	stop context.CancelFunc
}

// Start binds the listen address and serves in the background. A bind
// failure surfaces here, before anything else comes up.
func (v *Viewer) Start() error {
	mux := http.NewServeMux()
	deps := routes.Deps{
		Store:     v.Store,
		Panels:    v.Panels,
		Volume:    v.Volume,
		Hub:       v.Hub,
		Connected: v.Connected,
		StartedAt: time.Now(),
		Version:   v.Version,
	}
	// A nil *LogBuffer must stay a nil interface for the route guard.
	if v.Logs != nil {
		deps.Logs = v.Logs
	}
	routes.Register(mux, deps)

	ln, err := net.Listen("tcp", v.Addr)
	if err != nil {
		return err
	}

	// The base context reaches every request; cancelling it on shutdown
	// releases the long-lived SSE handlers.
	ctx, cancel := context.WithCancel(context.Background())
	v.stop = cancel
	v.srv = &http.Server{
		Handler:     mux,
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	v.Log.Info().Str("addr", v.Addr).Msg("viewer listening")
	go func() {
		if err := v.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			v.Log.Error().Err(err).Msg("viewer server failed")
		}
	}()
	return nil
}

// Pump forwards store snapshots to the event hub until ctx ends.
func (v *Viewer) Pump(ctx context.Context) {
	updates, cancel := v.Store.Subscribe()
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return
		case snap, ok := <-updates:
			if !ok {
				return
			}
			v.Hub.Publish(hub.TypeState, source.None, snap)
		}
	}
}

// Shutdown stops the server, unhooking streams first.
func (v *Viewer) Shutdown(ctx context.Context) error {
	if v.srv == nil {
		return nil
	}
	v.stop()
	return v.srv.Shutdown(ctx)
}
