// Package app wires the daemon together and owns its lifecycle.
package app

import (
	"context"
	"reflect"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"

	"github.com/avendeel/sonabridge/internal/channel"
	"github.com/avendeel/sonabridge/internal/command"
	"github.com/avendeel/sonabridge/internal/config"
	"github.com/avendeel/sonabridge/internal/hub"
	"github.com/avendeel/sonabridge/internal/panel"
	"github.com/avendeel/sonabridge/internal/source"
	"github.com/avendeel/sonabridge/internal/state"
	"github.com/avendeel/sonabridge/internal/viewer"
	"github.com/avendeel/sonabridge/internal/visibility"
)

// shutdownTimeout bounds the HTTP server drain on exit.
const shutdownTimeout = 5 * time.Second

type Options struct {
	CfgPath string
	Cfg     config.Config
	Logs    *viewer.LogBuffer
	Version string
	Log     zerolog.Logger
}

// Run builds every component in dependency order, blocks until ctx ends,
// then tears down in reverse: watcher, viewer, panels, throttle, channel.
func Run(ctx context.Context, o Options) error {
	cfg, log := o.Cfg, o.Log
	clk := clock.New()

	log.Info().
		Str("version", o.Version).
		Str("config", o.CfgPath).
		Str("backend", cfg.Backend.URL).
		Msg("sonabridge starting")

	// ── State store
	st := state.New(clk, log)

	// ── Backend channel
	ch := channel.New(st, channel.Options{
		URL:          cfg.Backend.URL,
		Sources:      cfg.Backend.Sources,
		CallTimeout:  cfg.Backend.CallTimeout.Std(),
		PingInterval: cfg.Backend.PingInterval.Std(),
		ReconnectMin: cfg.Backend.ReconnectMin.Std(),
		ReconnectMax: cfg.Backend.ReconnectMax.Std(),
	}, clk, log)

	chanCtx, stopChannel := context.WithCancel(context.Background())
	chanDone := make(chan struct{})
	go func() {
		defer close(chanDone)
		ch.Run(chanCtx)
	}()
	defer func() {
		stopChannel()
		<-chanDone
	}()

	// ── Command path
	vol := command.NewVolumeThrottle(ch, st, clk,
		cfg.Volume.Debounce.Std(), cfg.Volume.Failsafe.Std(), cfg.Volume.Step, log)
	defer vol.Close()
	disp := command.NewDispatcher(ch, st, cfg.Speeds, log)

	// ── Panels
	h := hub.New()
	timings := visibility.Timings{
		FrameInterval: cfg.Visibility.FrameInterval.Std(),
		Appear:        cfg.Visibility.Appear.Std(),
		Disappear:     cfg.Visibility.Disappear.Std(),
		Grace:         cfg.Visibility.Grace.Std(),
	}

	var wg sync.WaitGroup
	panels := make([]*panel.Panel, 0, len(cfg.Backend.Sources))
	for _, k := range cfg.Backend.Sources {
		p := panel.New(k, st, disp, timings, clk, log)
		p.OnPresentation(func(k source.Kind, vs visibility.State) {
			h.Publish(hub.TypePanel, k, vs)
		})
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.Run(context.Background())
		}()
		panels = append(panels, p)
	}
	defer func() {
		for _, p := range panels {
			p.Close()
		}
		wg.Wait()
	}()

	// ── Viewer
	v := &viewer.Viewer{
		Addr:      cfg.HTTP.Addr,
		Store:     st,
		Panels:    panels,
		Volume:    vol,
		Hub:       h,
		Logs:      o.Logs,
		Connected: ch.Connected,
		Version:   o.Version,
		Log:       log,
	}
	if err := v.Start(); err != nil {
		return err
	}
	pumpCtx, stopPump := context.WithCancel(context.Background())
	go v.Pump(pumpCtx)
	defer func() {
		stopPump()
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := v.Shutdown(sctx); err != nil {
			log.Warn().Err(err).Msg("viewer shutdown")
		}
	}()

	// ── Config watcher
	w, err := config.Watch(o.CfgPath, log, func(next config.Config) {
		applyReload(cfg, next, log)
	})
	if err != nil {
		log.Warn().Err(err).Msg("config watch unavailable, hot reload disabled")
	} else {
		defer w.Close()
	}

	<-ctx.Done()
	log.Info().Msg("sonabridge stopping")
	return nil
}

// applyReload applies what can change live and names what cannot. Only
// the log level takes effect without a restart.
func applyReload(running, next config.Config, log zerolog.Logger) {
	if lvl, err := zerolog.ParseLevel(next.Log.Level); err == nil && lvl != zerolog.GlobalLevel() {
		zerolog.SetGlobalLevel(lvl)
		log.Info().Str("level", next.Log.Level).Msg("log level changed")
	}

	a, b := running, next
	a.Log, b.Log = config.Log{}, config.Log{}
	if !reflect.DeepEqual(a, b) {
		log.Warn().Msg("config changed beyond log.level, restart to apply")
	}
}
