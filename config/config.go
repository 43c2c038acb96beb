package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	HTTP    HTTPConfig    `yaml:"http"`
	API     APIConfig     `yaml:"api"`
	Redis   RedisConfig   `yaml:"redis"`
	Scanner ScannerConfig `yaml:"scanner"`
	Camera  CameraConfig  `yaml:"camera"`
	Events  EventsConfig  `yaml:"events"`
}

type HTTPConfig struct {
	Address        string   `yaml:"address"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// APIConfig points at the remote ticketing API that owns tickets and check-ins.
type APIConfig struct {
	BaseURL        string `yaml:"base_url"`
	AccessToken    string `yaml:"access_token"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

func (a APIConfig) Timeout() time.Duration {
	return time.Duration(a.TimeoutSeconds) * time.Second
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type ScannerConfig struct {
	EventID               int64 `yaml:"event_id"`
	ResetDelayMillis      int   `yaml:"reset_delay_ms"`
	RequestTimeoutSeconds int   `yaml:"request_timeout_seconds"`
}

func (s ScannerConfig) ResetDelay() time.Duration {
	return time.Duration(s.ResetDelayMillis) * time.Millisecond
}

func (s ScannerConfig) RequestTimeout() time.Duration {
	return time.Duration(s.RequestTimeoutSeconds) * time.Second
}

type CameraConfig struct {
	Facing          string `yaml:"facing"`
	FrontURL        string `yaml:"front_url"`
	BackURL         string `yaml:"back_url"`
	Username        string `yaml:"username"`
	Password        string `yaml:"password"`
	FrameIntervalMS int    `yaml:"frame_interval_ms"`
	AutoStart       bool   `yaml:"autostart"`
}

func (c CameraConfig) FrameInterval() time.Duration {
	return time.Duration(c.FrameIntervalMS) * time.Millisecond
}

type EventsConfig struct {
	CacheTTLSeconds int `yaml:"cache_ttl_seconds"`
}

func (e EventsConfig) CacheTTL() time.Duration {
	return time.Duration(e.CacheTTLSeconds) * time.Second
}

func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyEnv lets secrets and the per-shift event id come from the environment
// instead of the checked-in file.
func (c *Config) applyEnv() error {
	if token := os.Getenv("CHECKIN_ACCESS_TOKEN"); token != "" {
		c.API.AccessToken = token
	}
	if raw := os.Getenv("CHECKIN_EVENT_ID"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid CHECKIN_EVENT_ID %q: %w", raw, err)
		}
		c.Scanner.EventID = id
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.HTTP.Address == "" {
		c.HTTP.Address = ":8080"
	}
	if c.API.TimeoutSeconds <= 0 {
		c.API.TimeoutSeconds = 10
	}
	if c.Scanner.ResetDelayMillis <= 0 {
		c.Scanner.ResetDelayMillis = 3000
	}
	if c.Scanner.RequestTimeoutSeconds <= 0 {
		c.Scanner.RequestTimeoutSeconds = 15
	}
	if c.Camera.Facing == "" {
		c.Camera.Facing = "back"
	}
	if c.Camera.FrameIntervalMS <= 0 {
		c.Camera.FrameIntervalMS = 200
	}
	if c.Events.CacheTTLSeconds <= 0 {
		c.Events.CacheTTLSeconds = 300
	}
}

func (c *Config) Validate() error {
	if c.API.BaseURL == "" {
		return errors.New("api.base_url is required")
	}
	if c.Scanner.EventID <= 0 {
		return errors.New("scanner.event_id must be positive")
	}
	if c.Camera.Facing != "front" && c.Camera.Facing != "back" {
		return fmt.Errorf("camera.facing must be front or back, got %q", c.Camera.Facing)
	}
	return nil
}
