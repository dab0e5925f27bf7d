// Package config loads the driver configuration from a JSON file. Fields
// omitted from the file keep their defaults, so partial configs are safe;
// flags in cmd/canopyscan override the file.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Config is the on-disk configuration schema. Pointer fields distinguish
// "unset" from zero values; the Get* methods supply defaults.
type Config struct {
	// Sensor connection
	SensorAddress  *string `json:"sensor_address,omitempty"`  // host:port, default 192.168.0.1:2112
	ConnectTimeout *string `json:"connect_timeout,omitempty"` // duration string like "10s"
	ReadTimeout    *string `json:"read_timeout,omitempty"`    // liveness deadline, default "5s"

	// Filtering
	MinDistanceMM *float64 `json:"min_distance_mm,omitempty"`
	MaxDistanceMM *float64 `json:"max_distance_mm,omitempty"`
	MinAngleDeg   *float64 `json:"min_angle_deg,omitempty"`
	MaxAngleDeg   *float64 `json:"max_angle_deg,omitempty"`

	// Decoding policy
	VerifyChecksum        *bool `json:"verify_checksum,omitempty"`
	AllowPollutionWarning *bool `json:"allow_pollution_warning,omitempty"`

	// Reconnect policy
	BackoffInitial *string `json:"backoff_initial,omitempty"` // default "500ms"
	BackoffMax     *string `json:"backoff_max,omitempty"`     // default "30s"
	MaxOutage      *string `json:"max_outage,omitempty"`      // default "2m"

	// Process surfaces
	ListenAddress *string `json:"listen_address,omitempty"` // monitor HTTP, default ":8082"
	EventLogPath  *string `json:"event_log_path,omitempty"` // default "canopyscan_events.db"
}

// Default returns a Config with all fields unset, i.e. pure defaults.
func Default() *Config {
	return &Config{}
}

// Load reads and validates a JSON config file.
func Load(path string) (*Config, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks the fields that can fail independently of the driver's
// own bound checks, chiefly duration strings.
func (c *Config) Validate() error {
	for name, v := range map[string]*string{
		"connect_timeout": c.ConnectTimeout,
		"read_timeout":    c.ReadTimeout,
		"backoff_initial": c.BackoffInitial,
		"backoff_max":     c.BackoffMax,
		"max_outage":      c.MaxOutage,
	} {
		if v == nil {
			continue
		}
		d, err := time.ParseDuration(*v)
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", name, d)
		}
	}
	return nil
}

func (c *Config) GetSensorAddress() string {
	if c.SensorAddress != nil {
		return *c.SensorAddress
	}
	return "192.168.0.1:2112"
}

func (c *Config) GetConnectTimeout() time.Duration { return c.duration(c.ConnectTimeout, 10*time.Second) }
func (c *Config) GetReadTimeout() time.Duration    { return c.duration(c.ReadTimeout, 5*time.Second) }
func (c *Config) GetBackoffInitial() time.Duration {
	return c.duration(c.BackoffInitial, 500*time.Millisecond)
}
func (c *Config) GetBackoffMax() time.Duration { return c.duration(c.BackoffMax, 30*time.Second) }
func (c *Config) GetMaxOutage() time.Duration  { return c.duration(c.MaxOutage, 2*time.Minute) }

func (c *Config) GetMinDistanceMM() float64 { return c.float(c.MinDistanceMM, 100) }
func (c *Config) GetMaxDistanceMM() float64 { return c.float(c.MaxDistanceMM, 3000) }
func (c *Config) GetMinAngleDeg() float64   { return c.float(c.MinAngleDeg, 0) }
func (c *Config) GetMaxAngleDeg() float64   { return c.float(c.MaxAngleDeg, 180) }

func (c *Config) GetVerifyChecksum() bool        { return c.bool(c.VerifyChecksum, false) }
func (c *Config) GetAllowPollutionWarning() bool { return c.bool(c.AllowPollutionWarning, false) }

func (c *Config) GetListenAddress() string {
	if c.ListenAddress != nil {
		return *c.ListenAddress
	}
	return ":8082"
}

func (c *Config) GetEventLogPath() string {
	if c.EventLogPath != nil {
		return *c.EventLogPath
	}
	return "canopyscan_events.db"
}

func (c *Config) duration(v *string, fallback time.Duration) time.Duration {
	if v == nil {
		return fallback
	}
	d, err := time.ParseDuration(*v)
	if err != nil {
		return fallback // Validate rejects unparseable durations before this point
	}
	return d
}

func (c *Config) float(v *float64, fallback float64) float64 {
	if v == nil {
		return fallback
	}
	return *v
}

func (c *Config) bool(v *bool, fallback bool) bool {
	if v == nil {
		return fallback
	}
	return *v
}
