package config

import (
	"fmt"

	"github.com/BurntSushi/toml"
)

// CaptureConfig is the top-level configuration for the capture binary.
type CaptureConfig struct {
	Capture CaptureSection `toml:"capture"`
	Redis   RedisSection   `toml:"redis"`
	Logging LoggingSection `toml:"logging"`
	Metrics MetricsSection `toml:"metrics"`
}

// CaptureSection configures C1/C2/C3.
type CaptureSection struct {
	Mode            string            `toml:"mode"`
	RingBufferSize  int               `toml:"ring_buffer_size"`
	SnapLength      int               `toml:"snap_length"`
	FlushIntervalMs int64             `toml:"flush_interval_ms"`
	BatchSize       int               `toml:"batch_size"`
	Interfaces      []InterfaceConfig `toml:"interfaces"`
}

// InterfaceConfig names one NIC to bind a capture ring to.
type InterfaceConfig struct {
	Name        string `toml:"name"`
	Promiscuous bool   `toml:"promiscuous"`
	Description string `toml:"description"`
}

// RedisSection configures the frame-stream publisher used by C3.
type RedisSection struct {
	URL             string `toml:"url"`
	StreamName      string `toml:"stream_name"`
	MaxStreamLength int64  `toml:"max_stream_length"`
	PoolSize        int    `toml:"pool_size"`
}

// LoggingSection is shared verbatim between both binaries.
type LoggingSection struct {
	Level  string `toml:"level"`
	File   string `toml:"file"`
	Stdout bool   `toml:"stdout"`
	Format string `toml:"format"`
}

// MetricsSection is shared verbatim between both binaries.
type MetricsSection struct {
	Enabled bool   `toml:"enabled"`
	Port    int    `toml:"port"`
	Path    string `toml:"path"`
}

// DefaultCaptureConfig returns the same defaults as the capture daemon's
// reference configuration, before any TOML file is overlaid on top.
func DefaultCaptureConfig() CaptureConfig {
	return CaptureConfig{
		Capture: CaptureSection{
			Mode:            "mirror",
			RingBufferSize:  8192,
			SnapLength:      1518,
			FlushIntervalMs: 100,
			BatchSize:       1000,
		},
		Redis: RedisSection{
			URL:             "redis://127.0.0.1:6379",
			StreamName:      "netsentinel:frames",
			MaxStreamLength: 100000,
			PoolSize:        4,
		},
		Logging: LoggingSection{
			Level:  "info",
			Stdout: true,
			Format: "pretty",
		},
		Metrics: MetricsSection{
			Port: 9100,
			Path: "/metrics",
		},
	}
}

// LoadCaptureConfig reads and decodes a capture TOML file on top of the
// built-in defaults, then validates the result.
func LoadCaptureConfig(path string) (*CaptureConfig, error) {
	cfg := DefaultCaptureConfig()

	meta, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return nil, fmt.Errorf("config: read capture config %q: %w", path, err)
	}

	for i := range cfg.Capture.Interfaces {
		key := []string{"capture", "interfaces", fmt.Sprintf("%d", i), "promiscuous"}
		if !meta.IsDefined(key...) {
			cfg.Capture.Interfaces[i].Promiscuous = true
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: invalid capture config: %w", err)
	}
	return &cfg, nil
}

// Validate enforces the invariants a capture configuration must satisfy
// before any interface is bound.
func (c *CaptureConfig) Validate() error {
	if c.Capture.Mode != "mirror" && c.Capture.Mode != "bypass" {
		return fmt.Errorf("capture.mode must be 'mirror' or 'bypass', got %q", c.Capture.Mode)
	}
	if len(c.Capture.Interfaces) == 0 {
		return fmt.Errorf("at least one capture interface must be configured")
	}
	for _, iface := range c.Capture.Interfaces {
		if iface.Name == "" {
			return fmt.Errorf("capture interface name must not be empty")
		}
	}
	if c.Capture.RingBufferSize < 64 {
		return fmt.Errorf("capture.ring_buffer_size must be at least 64, got %d", c.Capture.RingBufferSize)
	}
	if c.Capture.SnapLength < 64 || c.Capture.SnapLength > 65535 {
		return fmt.Errorf("capture.snap_length must be in [64, 65535], got %d", c.Capture.SnapLength)
	}
	return nil
}
