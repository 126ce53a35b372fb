// Package daemon manages the soma node lifecycle and configuration.
package daemon

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/google/uuid"

	"github.com/soma-network/soma/internal/mesh"
	"github.com/soma-network/soma/internal/trace"
)

// Config holds all daemon configuration.
type Config struct {
	Node      NodeConfig      `toml:"node"`
	API       APIConfig       `toml:"api"`
	Mesh      MeshConfig      `toml:"mesh"`
	Storage   StorageConfig   `toml:"storage"`
	Logging   LoggingConfig   `toml:"logging"`
	Telemetry TelemetryConfig `toml:"telemetry"`
}

// NodeConfig identifies this node.
type NodeConfig struct {
	ID          string  `toml:"id"`
	InitialLoad float64 `toml:"initial_load"`
}

// APIConfig controls the HTTP server that carries both the control surface
// and the /mesh websocket.
type APIConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`
}

// MeshConfig controls peer timing, learning and transport. Durations are
// Go duration strings ("15s", "500ms").
type MeshConfig struct {
	AliveTimeout      string `toml:"alive_timeout"`
	HeartbeatInterval string `toml:"heartbeat_interval"`
	CleanupInterval   string `toml:"cleanup_interval"`
	ReconnectInterval string `toml:"reconnect_interval"`
	StateSyncInterval string `toml:"state_sync_interval"`
	ResonanceInterval string `toml:"resonance_interval"`
	FireWindow        string `toml:"fire_window"`
	EvictAfter        string `toml:"evict_after"`

	QueueSize     int     `toml:"queue_size"`
	MaxFrameBytes int64   `toml:"max_frame_bytes"`
	InboundRate   float64 `toml:"inbound_rate"`
	InboundBurst  int     `toml:"inbound_burst"`

	Reconnect ReconnectConfig `toml:"reconnect"`
	Link      mesh.LinkParams `toml:"link"`
	Peers     []PeerConfig    `toml:"peers"`
}

// ReconnectConfig controls probation for zero-quality peers.
type ReconnectConfig struct {
	Probation bool   `toml:"probation"`
	Initial   string `toml:"initial"`
	Max       string `toml:"max"`
}

// PeerConfig is a statically configured reconnect target.
type PeerConfig struct {
	ID  string `toml:"id"`
	URL string `toml:"url"`
}

// StorageConfig controls the SQLite store and the trace recorder.
type StorageConfig struct {
	Dir           string `toml:"dir"`
	TraceInterval string `toml:"trace_interval"`
	MaxTraces     int    `toml:"max_traces"` // 0 keeps every trace
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"` // "console" or "json"
}

// TelemetryConfig controls metrics export.
type TelemetryConfig struct {
	Prometheus bool `toml:"prometheus"`
}

// DefaultConfig returns the reference configuration.
func DefaultConfig() Config {
	mc := mesh.DefaultConfig("")
	return Config{
		Node: NodeConfig{
			InitialLoad: 0.5,
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 8080,
		},
		Mesh: MeshConfig{
			AliveTimeout:      mc.AliveTimeout.String(),
			HeartbeatInterval: mc.HeartbeatInterval.String(),
			CleanupInterval:   mc.CleanupInterval.String(),
			ReconnectInterval: mc.ReconnectInterval.String(),
			StateSyncInterval: mc.StateSyncInterval.String(),
			ResonanceInterval: mc.ResonanceInterval.String(),
			FireWindow:        mc.FireWindow.String(),
			EvictAfter:        "0s",
			QueueSize:         mc.QueueSize,
			MaxFrameBytes:     mc.MaxFrameBytes,
			InboundRate:       mc.InboundRate,
			InboundBurst:      mc.InboundBurst,
			Reconnect: ReconnectConfig{
				Probation: false,
				Initial:   mc.ProbationInitial.String(),
				Max:       mc.ProbationMax.String(),
			},
			Link: mc.Link,
		},
		Storage: StorageConfig{
			Dir:           somaHome(),
			TraceInterval: "5s",
			MaxTraces:     trace.DefaultMaxTraces,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
		Telemetry: TelemetryConfig{
			Prometheus: true,
		},
	}
}

// MeshConfig converts the [mesh] section into the node's runtime settings.
// Unparseable durations fall back to the reference values.
func (c Config) MeshConfig(nodeID string) mesh.Config {
	def := mesh.DefaultConfig(nodeID)
	m := c.Mesh

	cfg := def
	cfg.AliveTimeout = parseDuration(m.AliveTimeout, def.AliveTimeout)
	cfg.HeartbeatInterval = parseDuration(m.HeartbeatInterval, def.HeartbeatInterval)
	cfg.CleanupInterval = parseDuration(m.CleanupInterval, def.CleanupInterval)
	cfg.ReconnectInterval = parseDuration(m.ReconnectInterval, def.ReconnectInterval)
	cfg.StateSyncInterval = parseDuration(m.StateSyncInterval, def.StateSyncInterval)
	cfg.ResonanceInterval = parseDuration(m.ResonanceInterval, def.ResonanceInterval)
	cfg.FireWindow = parseDuration(m.FireWindow, def.FireWindow)
	cfg.EvictAfter = parseDuration(m.EvictAfter, 0)
	cfg.Probation = m.Reconnect.Probation
	cfg.ProbationInitial = parseDuration(m.Reconnect.Initial, def.ProbationInitial)
	cfg.ProbationMax = parseDuration(m.Reconnect.Max, def.ProbationMax)

	if m.QueueSize > 0 {
		cfg.QueueSize = m.QueueSize
	}
	if m.MaxFrameBytes > 0 {
		cfg.MaxFrameBytes = m.MaxFrameBytes
	}
	if m.InboundRate > 0 {
		cfg.InboundRate = m.InboundRate
	}
	if m.InboundBurst > 0 {
		cfg.InboundBurst = m.InboundBurst
	}
	if m.Link.WeightMax > m.Link.WeightMin && m.Link.WeightMax > 0 {
		cfg.Link = m.Link
	}
	return cfg
}

// LoadConfig reads config from $SOMA_HOME/config.toml, falling back to defaults.
func LoadConfig() (Config, error) {
	return LoadConfigFile(filepath.Join(somaHome(), "config.toml"))
}

// LoadConfigFile reads config from path, falling back to defaults when the
// file does not exist.
func LoadConfigFile(path string) (Config, error) {
	cfg := DefaultConfig()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// SaveConfig writes the config to $SOMA_HOME/config.toml.
func SaveConfig(cfg Config) error {
	path := filepath.Join(somaHome(), "config.toml")
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}

// ParsePeerFlag parses "id=url" as given to --peer.
func ParsePeerFlag(s string) (PeerConfig, error) {
	id, url, ok := strings.Cut(s, "=")
	if !ok || id == "" || url == "" {
		return PeerConfig{}, fmt.Errorf("peer %q: want id=url", s)
	}
	return PeerConfig{ID: id, URL: url}, nil
}

// newNodeID returns "node-" plus the first 8 hex digits of a random UUID.
func newNodeID() string {
	return "node-" + uuid.NewString()[:8]
}

// somaHome returns the soma data directory.
func somaHome() string {
	if env := os.Getenv("SOMA_HOME"); env != "" {
		return env
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".soma")
}

// SomaHome is exported for use by other packages.
func SomaHome() string {
	return somaHome()
}

// parseDuration parses a duration string, returning a fallback on error.
func parseDuration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}
