package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/avendeel/sonabridge/internal/app"
	"github.com/avendeel/sonabridge/internal/config"
	"github.com/avendeel/sonabridge/internal/viewer"
)

var (
	cfgPath     = flag.String("config", "sonabridge.yaml", "path to the config file")
	httpAddr    = flag.String("addr", "", "viewer listen address (overrides config)")
	backendURL  = flag.String("backend", "", "backend websocket url (overrides config)")
	showVersion = flag.Bool("version", false, "print the version and exit")
)

// appVersion is set at build time via -ldflags "-X main.appVersion=x.y.z"
var appVersion = "dev"

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Printf("sonabridge v%s\n", appVersion)
		return
	}

	cfg, created, err := config.Ensure(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	if *httpAddr != "" {
		cfg.HTTP.Addr = *httpAddr
	}
	if *backendURL != "" {
		cfg.Backend.URL = *backendURL
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	// Every log line lands in the ring for /api/logs; the console gets the
	// same stream, prettified when asked for.
	logs := viewer.NewLogBuffer(800)
	var console io.Writer = os.Stderr
	if cfg.Log.Pretty {
		console = zerolog.ConsoleWriter{Out: os.Stderr}
	}
	lvl, _ := zerolog.ParseLevel(cfg.Log.Level)
	zerolog.SetGlobalLevel(lvl)
	log := zerolog.New(zerolog.MultiLevelWriter(console, logs)).With().Timestamp().Logger()

	if created {
		log.Info().Str("path", *cfgPath).Msg("wrote default config")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info().Msg("signal received, shutting down")
		cancel()
	}()

	if err := app.Run(ctx, app.Options{
		CfgPath: *cfgPath,
		Cfg:     cfg,
		Logs:    logs,
		Version: appVersion,
		Log:     log,
	}); err != nil {
		log.Error().Err(err).Msg("daemon failed")
		os.Exit(1)
	}
}
