package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// AggregatorConfig is the top-level configuration for the aggregator binary.
type AggregatorConfig struct {
	Redis       AggRedisSection `toml:"redis"`
	Database    DatabaseSection `toml:"database"`
	Aggregation AggregationSection `toml:"aggregation"`
	Events      EventsSection   `toml:"events"`
	Logging     LoggingSection  `toml:"logging"`
	Metrics     MetricsSection  `toml:"metrics"`
}

// AggRedisSection configures the frame-stream consumer (A1).
type AggRedisSection struct {
	URL           string `toml:"url"`
	StreamName    string `toml:"stream_name"`
	ConsumerGroup string `toml:"consumer_group"`
	ConsumerName  string `toml:"consumer_name"`
	BatchSize     int64  `toml:"batch_size"`
	BlockMs       int64  `toml:"block_ms"`
}

// DatabaseSection configures the relational store (A3).
type DatabaseSection struct {
	URL               string `toml:"url"`
	MaxConnections    int32  `toml:"max_connections"`
	ConnectTimeoutSec int64  `toml:"connect_timeout"`
}

// AggregationSection configures the in-memory model (A2).
type AggregationSection struct {
	PersistIntervalSecs   int64  `toml:"persist_interval_secs"`
	MetricsBucket         string `toml:"metrics_bucket"`
	InactivityTimeout     int64  `toml:"inactivity_timeout"`
	FlowTimeout           int64  `toml:"flow_timeout"`
	FlowCap               int    `toml:"flow_cap"`
	ActivityWindowSecs    int64  `toml:"activity_window_secs"`
	MaxBucketLookbackSecs int64  `toml:"max_bucket_lookback_secs"`
}

// EventsSection configures the event publisher (A4).
type EventsSection struct {
	Channel           string `toml:"channel"`
	PublishNewDevices bool   `toml:"publish_new_devices"`
	PublishNewFlows   bool   `toml:"publish_new_flows"`
}

// DefaultAggregatorConfig mirrors the aggregator daemon's reference
// defaults before any TOML file is overlaid on top.
func DefaultAggregatorConfig() AggregatorConfig {
	return AggregatorConfig{
		Redis: AggRedisSection{
			URL:           "redis://127.0.0.1:6379",
			StreamName:    "netsentinel:frames",
			ConsumerGroup: "aggregator",
			ConsumerName:  "aggregator-1",
			BatchSize:     100,
			BlockMs:       1000,
		},
		Database: DatabaseSection{
			MaxConnections:    10,
			ConnectTimeoutSec: 30,
		},
		Aggregation: AggregationSection{
			PersistIntervalSecs:   60,
			MetricsBucket:         "1 minute",
			InactivityTimeout:     300,
			FlowTimeout:           120,
			FlowCap:               100000,
			ActivityWindowSecs:    300,
			MaxBucketLookbackSecs: 600,
		},
		Events: EventsSection{
			Channel:           "netsentinel:events",
			PublishNewDevices: true,
			PublishNewFlows:   true,
		},
		Logging: LoggingSection{
			Level:  "info",
			Stdout: true,
			Format: "pretty",
		},
		Metrics: MetricsSection{
			Port: 9101,
			Path: "/metrics",
		},
	}
}

// LoadAggregatorConfig reads and decodes an aggregator TOML file on top of
// the built-in defaults, then validates the result.
func LoadAggregatorConfig(path string) (*AggregatorConfig, error) {
	cfg := DefaultAggregatorConfig()
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, fmt.Errorf("config: read aggregator config %q: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: invalid aggregator config: %w", err)
	}
	return &cfg, nil
}

// BucketDuration parses the humantime-style "N unit" value
// (e.g. "1 minute", "30 seconds") into a time.Duration, falling back to
// fallback on any parse failure.
func (a AggregationSection) BucketDuration(fallback time.Duration) time.Duration {
	fields := strings.Fields(strings.TrimSpace(a.MetricsBucket))
	if len(fields) != 2 {
		return fallback
	}
	n, err := strconv.Atoi(fields[0])
	if err != nil || n <= 0 {
		return fallback
	}
	unit := strings.TrimSuffix(strings.ToLower(fields[1]), "s")
	var scale time.Duration
	switch unit {
	case "second":
		scale = time.Second
	case "minute":
		scale = time.Minute
	case "hour":
		scale = time.Hour
	default:
		return fallback
	}
	return time.Duration(n) * scale
}

// Validate enforces the invariants an aggregator configuration must
// satisfy before the pipeline starts.
func (c *AggregatorConfig) Validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("database.url must be set")
	}
	if c.Database.MaxConnections < 1 {
		return fmt.Errorf("database.max_connections must be at least 1, got %d", c.Database.MaxConnections)
	}
	if c.Aggregation.PersistIntervalSecs < 1 {
		return fmt.Errorf("aggregation.persist_interval_secs must be at least 1, got %d", c.Aggregation.PersistIntervalSecs)
	}
	return nil
}
