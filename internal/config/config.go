// Package config is the daemon's operator input: a YAML file with
// defaults, validation and hot reload. The daemon reads it and never
// writes state back to it.
package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/avendeel/sonabridge/internal/source"
	"github.com/avendeel/sonabridge/internal/util"
)

// Duration is a time.Duration that reads and writes as a YAML string,
// e.g. "250ms" or "5s".
type Duration time.Duration

func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(v)
	return nil
}

type Config struct {
	HTTP       HTTP       `yaml:"http"`
	Backend    Backend    `yaml:"backend"`
	Volume     Volume     `yaml:"volume"`
	Visibility Visibility `yaml:"visibility"`
	Speeds     []float64  `yaml:"speeds"`
	Log        Log        `yaml:"log"`
}

type HTTP struct {
	Addr string `yaml:"addr"`
}

type Backend struct {
	URL          string        `yaml:"url"`
	Sources      []source.Kind `yaml:"sources"`
	CallTimeout  Duration      `yaml:"call_timeout"`
	PingInterval Duration      `yaml:"ping_interval"`
	ReconnectMin Duration      `yaml:"reconnect_min"`
	ReconnectMax Duration      `yaml:"reconnect_max"`
}

type Volume struct {
	Debounce Duration `yaml:"debounce"`
	Failsafe Duration `yaml:"failsafe"`
	Step     int      `yaml:"step"`
}

type Visibility struct {
	FrameInterval Duration `yaml:"frame_interval"`
	Appear        Duration `yaml:"appear"`
	Disappear     Duration `yaml:"disappear"`
	Grace         Duration `yaml:"grace"`
}

type Log struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

func Default() Config {
	return Config{
		HTTP: HTTP{
			Addr: "127.0.0.1:7333",
		},
		Backend: Backend{
			URL:          "ws://127.0.0.1:9700/ws",
			Sources:      []source.Kind{source.Radio, source.Podcast},
			CallTimeout:  Duration(5 * time.Second),
			PingInterval: Duration(20 * time.Second),
			ReconnectMin: Duration(500 * time.Millisecond),
			ReconnectMax: Duration(30 * time.Second),
		},
		Volume: Volume{
			Debounce: Duration(50 * time.Millisecond),
			Failsafe: Duration(200 * time.Millisecond),
			Step:     5,
		},
		Visibility: Visibility{
			FrameInterval: Duration(16 * time.Millisecond),
			Appear:        Duration(300 * time.Millisecond),
			Disappear:     Duration(250 * time.Millisecond),
			Grace:         Duration(5 * time.Second),
		},
		Speeds: []float64{0.5, 0.75, 1.0, 1.25, 1.5, 1.75, 2.0},
		Log: Log{
			Level:  "info",
			Pretty: false,
		},
	}
}

func (c *Config) Validate() error {
	// HTTP
	if strings.TrimSpace(c.HTTP.Addr) == "" {
		return errors.New("http.addr is required")
	}
	if _, _, err := net.SplitHostPort(c.HTTP.Addr); err != nil {
		return fmt.Errorf("http.addr: %v", err)
	}

	// Backend
	if strings.TrimSpace(c.Backend.URL) == "" {
		return errors.New("backend.url is required")
	}
	if err := validateBackendURL(c.Backend.URL); err != nil {
		return fmt.Errorf("backend.url: %w", err)
	}
	if len(c.Backend.Sources) == 0 {
		return errors.New("backend.sources must name at least one source")
	}
	seen := map[source.Kind]bool{}
	for _, k := range c.Backend.Sources {
		if !source.Known(k) {
			return fmt.Errorf("backend.sources: unknown source %q", k)
		}
		if seen[k] {
			return fmt.Errorf("backend.sources: %q listed twice", k)
		}
		seen[k] = true
	}
	if c.Backend.CallTimeout <= 0 {
		return errors.New("backend.call_timeout must be > 0")
	}
	if c.Backend.PingInterval < 0 {
		return errors.New("backend.ping_interval must be >= 0")
	}
	if c.Backend.ReconnectMin <= 0 {
		return errors.New("backend.reconnect_min must be > 0")
	}
	if c.Backend.ReconnectMax < c.Backend.ReconnectMin {
		return errors.New("backend.reconnect_max must be >= backend.reconnect_min")
	}

	// Volume
	if c.Volume.Debounce <= 0 {
		return errors.New("volume.debounce must be > 0")
	}
	if c.Volume.Failsafe < c.Volume.Debounce {
		return errors.New("volume.failsafe must be >= volume.debounce")
	}
	if c.Volume.Step <= 0 || c.Volume.Step > 100 {
		return errors.New("volume.step must be 1..100")
	}

	// Visibility
	if c.Visibility.FrameInterval <= 0 {
		return errors.New("visibility.frame_interval must be > 0")
	}
	if c.Visibility.Appear <= 0 {
		return errors.New("visibility.appear must be > 0")
	}
	if c.Visibility.Disappear <= 0 {
		return errors.New("visibility.disappear must be > 0")
	}
	if c.Visibility.Grace < 0 {
		return errors.New("visibility.grace must be >= 0")
	}

	// Speeds
	if len(c.Speeds) == 0 {
		return errors.New("speeds must list at least one rate")
	}
	hasNormal := false
	for _, s := range c.Speeds {
		if s <= 0 {
			return fmt.Errorf("speeds: %v must be > 0", s)
		}
		if s == 1.0 {
			hasNormal = true
		}
	}
	if !hasNormal {
		return errors.New("speeds must include 1.0")
	}

	// Log
	if strings.TrimSpace(c.Log.Level) == "" {
		return errors.New("log.level is required")
	}
	if _, err := zerolog.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log.level: %v", err)
	}

	return nil
}

func validateBackendURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid url: %v", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return errors.New("scheme must be ws or wss")
	}
	if u.Host == "" {
		return errors.New("missing host")
	}
	return nil
}

func Load(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}

	b = stripBOM(b)

	// Start from defaults so missing YAML fields remain initialized.
	cfg := Default()
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// stripBOM removes a UTF-8 byte order mark if present.
func stripBOM(b []byte) []byte {
	if len(b) >= 3 && b[0] == 0xEF && b[1] == 0xBB && b[2] == 0xBF {
		return b[3:]
	}
	return b
}

func Save(path string, cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	return util.WriteYAMLFile(path, cfg)
}

// Ensure loads the config if it exists; otherwise creates a default
// config file. Returns (cfg, createdNew, err).
func Ensure(path string) (Config, bool, error) {
	if _, err := os.Stat(path); err == nil {
		cfg, err := Load(path)
		return cfg, false, err
	} else if !os.IsNotExist(err) {
		return Config{}, false, err
	}

	cfg := Default()
	if err := Save(path, cfg); err != nil {
		return Config{}, false, fmt.Errorf("create default config: %w", err)
	}
	return cfg, true, nil
}
