// Package config handles carousel configuration from YAML files and the
// SQLite-backed user preferences.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("config: invalid")

// Config is the top-level carousel configuration.
type Config struct {
	Browser     BrowserConfig     `yaml:"browser"`
	Device      DeviceConfig      `yaml:"device"`
	Capture     CaptureConfig     `yaml:"capture"`
	Output      OutputConfig      `yaml:"output"`
	Sinks       []SinkConfig      `yaml:"sinks"`
	Server      ServerConfig      `yaml:"server"`
	Preferences PreferencesConfig `yaml:"preferences"`
}

// BrowserConfig controls Chrome lifecycle.
type BrowserConfig struct {
	Remote           string        `yaml:"remote"`
	Bin              string        `yaml:"bin"`
	Mode             string        `yaml:"mode"` // headless | xvfb | visible
	MemoryLimit      int64         `yaml:"memory_limit"`
	RecycleInterval  time.Duration `yaml:"recycle_interval"`
	NavigateTimeout  time.Duration `yaml:"navigate_timeout"`
	ResourceBlocking []string      `yaml:"resource_blocking"`
	XvfbDisplay      string        `yaml:"xvfb_display"`
}

// DeviceConfig is the emulated mobile device. Height always follows the
// page's natural viewport.
type DeviceConfig struct {
	Width       int   `yaml:"width"`
	ScaleFactor int   `yaml:"scale_factor"`
	Mobile      *bool `yaml:"mobile"`
}

// CaptureConfig tunes the capture pipeline.
type CaptureConfig struct {
	Format                 string        `yaml:"format"` // jpeg | png | webp
	Quality                int           `yaml:"quality"`
	ScrollPause            time.Duration `yaml:"scroll_pause"`
	SettleDelay            time.Duration `yaml:"settle_delay"`
	NoticeDelay            time.Duration `yaml:"notice_delay"`
	RepaintDelay           time.Duration `yaml:"repaint_delay"`
	NeutralizeAfterProfile *bool         `yaml:"neutralize_after_profile"`
	ReloadOnDetach         *bool         `yaml:"reload_on_detach"`
	// Timeout bounds a session from prepare to delivery, waiting for the
	// pick included.
	Timeout time.Duration `yaml:"timeout"`
}

// OutputConfig controls chunk encoding.
type OutputConfig struct {
	Format  string `yaml:"format"` // jpeg | png
	Quality int    `yaml:"quality"`
	Width   int    `yaml:"width"` // 0 keeps the raster width
	Workers int    `yaml:"workers"`
}

// SinkConfig defines a download destination.
type SinkConfig struct {
	Type    string `yaml:"type"` // dir | webhook | stdout
	Path    string `yaml:"path"` // for dir
	URL     string `yaml:"url"`  // for webhook
	Retries int    `yaml:"retries"`
}

// ServerConfig controls the HTTP surface.
type ServerConfig struct {
	Addr          string `yaml:"addr"`
	RatePerMinute int    `yaml:"rate_per_minute"`
	Burst         int    `yaml:"burst"`
	MaxBodyBytes  int64  `yaml:"max_body_bytes"`
	// AllowPrivateURLs lets API and MCP callers open loopback and
	// intranet pages.
	AllowPrivateURLs bool `yaml:"allow_private_urls"`
}

// PreferencesConfig locates the preferences database, which also holds
// the capture history.
type PreferencesConfig struct {
	DB               string        `yaml:"db"`
	HistoryRetention time.Duration `yaml:"history_retention"`
	TraceSQL         bool          `yaml:"trace_sql"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	var cfg Config
	cfg.applyDefaults()
	return &cfg
}

// LoadFile reads a YAML configuration file.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Browser.Mode == "" {
		c.Browser.Mode = "headless"
	}
	if c.Browser.MemoryLimit <= 0 {
		c.Browser.MemoryLimit = 1 << 30
	}
	if c.Browser.RecycleInterval <= 0 {
		c.Browser.RecycleInterval = 4 * time.Hour
	}
	if c.Browser.NavigateTimeout <= 0 {
		c.Browser.NavigateTimeout = 30 * time.Second
	}
	if c.Browser.XvfbDisplay == "" {
		c.Browser.XvfbDisplay = ":99"
	}

	if c.Device.Width <= 0 {
		c.Device.Width = 450
	}
	if c.Device.ScaleFactor <= 0 {
		c.Device.ScaleFactor = 2
	}
	if c.Device.Mobile == nil {
		c.Device.Mobile = boolPtr(true)
	}

	if c.Capture.Format == "" {
		c.Capture.Format = "jpeg"
	}
	if c.Capture.Quality <= 0 {
		c.Capture.Quality = 100
	}
	if c.Capture.ScrollPause <= 0 {
		c.Capture.ScrollPause = 150 * time.Millisecond
	}
	if c.Capture.SettleDelay <= 0 {
		c.Capture.SettleDelay = 500 * time.Millisecond
	}
	if c.Capture.NoticeDelay <= 0 {
		c.Capture.NoticeDelay = 500 * time.Millisecond
	}
	if c.Capture.RepaintDelay <= 0 {
		c.Capture.RepaintDelay = 300 * time.Millisecond
	}
	if c.Capture.NeutralizeAfterProfile == nil {
		c.Capture.NeutralizeAfterProfile = boolPtr(true)
	}
	if c.Capture.ReloadOnDetach == nil {
		c.Capture.ReloadOnDetach = boolPtr(true)
	}
	if c.Capture.Timeout <= 0 {
		c.Capture.Timeout = 10 * time.Minute
	}

	if c.Output.Format == "" {
		c.Output.Format = "jpeg"
	}
	if c.Output.Quality <= 0 {
		c.Output.Quality = 95
	}

	for i := range c.Sinks {
		if c.Sinks[i].Type == "dir" && c.Sinks[i].Path == "" {
			c.Sinks[i].Path = "."
		}
		if c.Sinks[i].Type == "webhook" && c.Sinks[i].Retries <= 0 {
			c.Sinks[i].Retries = 3
		}
	}

	if c.Server.Addr == "" {
		c.Server.Addr = ":8087"
	}
	if c.Server.RatePerMinute <= 0 {
		c.Server.RatePerMinute = 30
	}
	if c.Server.Burst <= 0 {
		c.Server.Burst = 5
	}
	if c.Server.MaxBodyBytes <= 0 {
		c.Server.MaxBodyBytes = 64 << 10
	}

	if c.Preferences.DB == "" {
		c.Preferences.DB = "carousel.db"
	}
	if c.Preferences.HistoryRetention <= 0 {
		c.Preferences.HistoryRetention = 30 * 24 * time.Hour
	}
}

// Validate checks values defaults cannot repair.
func (c *Config) Validate() error {
	switch c.Browser.Mode {
	case "headless", "xvfb", "visible":
	default:
		return fmt.Errorf("%w: browser.mode %q", ErrInvalidConfig, c.Browser.Mode)
	}
	switch c.Capture.Format {
	case "jpeg", "png", "webp":
	default:
		return fmt.Errorf("%w: capture.format %q", ErrInvalidConfig, c.Capture.Format)
	}
	if c.Capture.Quality > 100 {
		return fmt.Errorf("%w: capture.quality %d", ErrInvalidConfig, c.Capture.Quality)
	}
	switch c.Output.Format {
	case "jpeg", "png":
	default:
		return fmt.Errorf("%w: output.format %q", ErrInvalidConfig, c.Output.Format)
	}
	if c.Output.Quality > 100 {
		return fmt.Errorf("%w: output.quality %d", ErrInvalidConfig, c.Output.Quality)
	}
	if c.Output.Width < 0 || c.Output.Workers < 0 {
		return fmt.Errorf("%w: output width/workers must not be negative", ErrInvalidConfig)
	}
	for i, s := range c.Sinks {
		switch s.Type {
		case "dir", "stdout":
		case "webhook":
			if s.URL == "" {
				return fmt.Errorf("%w: sinks[%d]: webhook without url", ErrInvalidConfig, i)
			}
		default:
			return fmt.Errorf("%w: sinks[%d]: unknown type %q", ErrInvalidConfig, i, s.Type)
		}
	}
	return nil
}

// Bool dereferences an optional flag, nil meaning false.
func Bool(p *bool) bool { return p != nil && *p }

func boolPtr(b bool) *bool { return &b }
