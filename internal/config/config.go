package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env"
	"gopkg.in/yaml.v3"

	"festpage/internal/fsutil"
)

// NOTE: This file provides the configuration model and full YAML-based
// load/save behavior, including first-run config creation and 0600
// permissions. Environment variables (FESTPAGE_*) override file values.

// Removal policies for past events.
const (
	PolicyRemove = "remove"
	PolicyMark   = "mark"
)

// PageConfig describes where the static event page comes from.
type PageConfig struct {
	// Path is a local HTML file. Used when URL is empty.
	Path string `yaml:"path" json:"path"`
	// URL is an upstream page fetched once at startup with ETag caching.
	URL string `yaml:"url" json:"url"`
	// CacheDir holds the fetch cache for URL sources.
	CacheDir string `yaml:"cache_dir" json:"cache_dir"`
	// AssetsDir, if set, is served for every path other than "/".
	AssetsDir string `yaml:"assets_dir" json:"assets_dir"`
	// Title names the calendar feed at /events.ics.
	Title string `yaml:"title" json:"title"`
	// Domain is the right-hand side of exported event UIDs.
	Domain string `yaml:"domain" json:"domain"`
}

// SelectorConfig maps the markup contract onto CSS selectors.
type SelectorConfig struct {
	Event            string `yaml:"event" json:"event"`
	Section          string `yaml:"section" json:"section"`
	DateTitle        string `yaml:"date_title" json:"date_title"`
	EventDate        string `yaml:"event_date" json:"event_date"`
	EventTitle       string `yaml:"event_title" json:"event_title"`
	EventDescription string `yaml:"event_description" json:"event_description"`
}

// FilterConfig controls the past-event filter and its schedule.
type FilterConfig struct {
	// Policy is "remove" (animate out, then detach) or "mark" (add PastClass).
	Policy string `yaml:"policy" json:"policy"`
	// PastClass is added to entries/sections under the mark policy.
	PastClass string `yaml:"past_class" json:"past_class"`
	// LeavingClass is added while an entry animates out under the remove policy.
	LeavingClass string `yaml:"leaving_class" json:"leaving_class"`
	// TransitionDelay is how long a leaving entry stays before detaching.
	TransitionDelay time.Duration `yaml:"transition_delay" json:"transition_delay"`
	// Refresh is a cron-style schedule string (e.g. "@hourly", "0 * * * *").
	Refresh string `yaml:"refresh" json:"refresh"`
	// SettleDelay is the delay of the one-shot pass after startup.
	SettleDelay time.Duration `yaml:"settle_delay" json:"settle_delay"`
}

// CaptureConfig controls optional headless-Chromium previews.
type CaptureConfig struct {
	Enabled    bool          `yaml:"enabled" json:"enabled"`
	OutputPath string        `yaml:"output_path" json:"output_path"`
	Width      int           `yaml:"width" json:"width"`
	Height     int           `yaml:"height" json:"height"`
	Timeout    time.Duration `yaml:"timeout" json:"timeout"`
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the web surface.
// PasswordHash (argon2id, see `festpage hash-password`) takes precedence
// over a plain Password.
type BasicAuthConfig struct {
	Username     string `yaml:"username" json:"username"`
	Password     string `yaml:"password,omitempty" json:"password,omitempty"`
	PasswordHash string `yaml:"password_hash,omitempty" json:"password_hash,omitempty"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address.
	Listen string `yaml:"listen" json:"listen"`

	// Timezone is the IANA timezone that decides when "today" starts.
	Timezone string `yaml:"timezone" json:"timezone"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level" json:"log_level"`
	// LogFormat is "text" or "json".
	LogFormat string `yaml:"log_format" json:"log_format"`

	// StatePath is the JSON file backing the local flags.
	StatePath string `yaml:"state_path" json:"state_path"`

	Page      PageConfig     `yaml:"page" json:"page"`
	Selectors SelectorConfig `yaml:"selectors" json:"selectors"`
	Filter    FilterConfig   `yaml:"filter" json:"filter"`
	Capture   CaptureConfig  `yaml:"capture" json:"capture"`

	// Metrics toggles the /metrics endpoint.
	Metrics bool `yaml:"metrics" json:"metrics"`

	// BasicAuth, if non-nil, enables HTTP Basic Authentication on all endpoints
	// except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

// envOverrides lists the settings that may be supplied through the
// environment. Empty values leave the file setting alone.
type envOverrides struct {
	Listen    string `env:"FESTPAGE_LISTEN"`
	Timezone  string `env:"FESTPAGE_TIMEZONE"`
	LogLevel  string `env:"FESTPAGE_LOG_LEVEL"`
	LogFormat string `env:"FESTPAGE_LOG_FORMAT"`
	StatePath string `env:"FESTPAGE_STATE_PATH"`
	PagePath  string `env:"FESTPAGE_PAGE_PATH"`
	PageURL   string `env:"FESTPAGE_PAGE_URL"`
	Policy    string `env:"FESTPAGE_POLICY"`
	Refresh   string `env:"FESTPAGE_REFRESH"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:    "127.0.0.1:8080",
		Timezone:  "Asia/Kolkata",
		LogLevel:  "info",
		LogFormat: "text",
		StatePath: "/var/lib/festpage/state.json",
		Page: PageConfig{
			CacheDir: "/var/lib/festpage/page-cache",
			Title:    "Ganeshotsav 2025",
		},
		Selectors: DefaultSelectors(),
		Filter: FilterConfig{
			Policy:          PolicyRemove,
			PastClass:       "past",
			LeavingClass:    "leaving",
			TransitionDelay: 500 * time.Millisecond,
			Refresh:         "@hourly",
			SettleDelay:     time.Second,
		},
		Capture: CaptureConfig{
			Enabled:    false,
			OutputPath: "/var/lib/festpage/preview.png",
			Width:      1280,
			Height:     2000,
			Timeout:    30 * time.Second,
		},
		Metrics:   true,
		BasicAuth: nil,
	}
}

// DefaultSelectors matches the class names used by the festival page.
func DefaultSelectors() SelectorConfig {
	return SelectorConfig{
		Event:            ".event-card",
		Section:          ".date-section",
		DateTitle:        ".date-title",
		EventDate:        ".event-date",
		EventTitle:       "h3",
		EventDescription: "p",
	}
}

// Normalize fills in missing/zero values with sensible defaults so that
// partially-filled configs still behave correctly.
func (c *Config) Normalize() {
	def := DefaultConfig()

	if c.Listen == "" {
		c.Listen = def.Listen
	}
	if c.Timezone == "" {
		c.Timezone = def.Timezone
	}
	if c.LogLevel == "" {
		c.LogLevel = def.LogLevel
	}
	switch strings.ToLower(c.LogFormat) {
	case "text", "json":
		c.LogFormat = strings.ToLower(c.LogFormat)
	default:
		c.LogFormat = def.LogFormat
	}
	if c.StatePath == "" {
		c.StatePath = def.StatePath
	}
	if c.Page.CacheDir == "" {
		c.Page.CacheDir = def.Page.CacheDir
	}
	if c.Page.Title == "" {
		c.Page.Title = def.Page.Title
	}

	sel := &c.Selectors
	if sel.Event == "" {
		sel.Event = def.Selectors.Event
	}
	if sel.Section == "" {
		sel.Section = def.Selectors.Section
	}
	if sel.DateTitle == "" {
		sel.DateTitle = def.Selectors.DateTitle
	}
	if sel.EventDate == "" {
		sel.EventDate = def.Selectors.EventDate
	}
	if sel.EventTitle == "" {
		sel.EventTitle = def.Selectors.EventTitle
	}
	if sel.EventDescription == "" {
		sel.EventDescription = def.Selectors.EventDescription
	}

	f := &c.Filter
	switch strings.ToLower(f.Policy) {
	case PolicyRemove, PolicyMark:
		f.Policy = strings.ToLower(f.Policy)
	default:
		// Unknown or empty policy falls back to remove.
		f.Policy = PolicyRemove
	}
	if f.PastClass == "" {
		f.PastClass = def.Filter.PastClass
	}
	if f.LeavingClass == "" {
		f.LeavingClass = def.Filter.LeavingClass
	}
	if f.TransitionDelay < 0 {
		f.TransitionDelay = 0
	}
	if f.Refresh == "" {
		f.Refresh = def.Filter.Refresh
	}
	if f.SettleDelay <= 0 {
		f.SettleDelay = def.Filter.SettleDelay
	}

	cp := &c.Capture
	if cp.OutputPath == "" {
		cp.OutputPath = def.Capture.OutputPath
	}
	if cp.Width <= 0 {
		cp.Width = def.Capture.Width
	}
	if cp.Height <= 0 {
		cp.Height = def.Capture.Height
	}
	if cp.Timeout <= 0 {
		cp.Timeout = def.Capture.Timeout
	}
}

// Location resolves Timezone, falling back to time.Local.
func (c *Config) Location() *time.Location {
	loc, _ := c.ResolveLocation()
	return loc
}

// ResolveLocation is Location that also reports why Timezone could not be
// loaded. The returned location is never nil.
func (c *Config) ResolveLocation() (*time.Location, error) {
	if c.Timezone == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.Local, fmt.Errorf("config: load timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// ApplyEnv overrides file values with any FESTPAGE_* variables that are set.
func (c *Config) ApplyEnv() error {
	var ov envOverrides
	if err := env.Parse(&ov); err != nil {
		return fmt.Errorf("config: parse environment: %w", err)
	}

	set := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	set(&c.Listen, ov.Listen)
	set(&c.Timezone, ov.Timezone)
	set(&c.LogLevel, ov.LogLevel)
	set(&c.LogFormat, ov.LogFormat)
	set(&c.StatePath, ov.StatePath)
	set(&c.Page.Path, ov.PagePath)
	set(&c.Page.URL, ov.PageURL)
	set(&c.Filter.Policy, ov.Policy)
	set(&c.Filter.Refresh, ov.Refresh)

	c.Normalize()
	return nil
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist:
//   - create parent directory if needed
//   - write a default config with 0600 perms
//   - return the default config
//   - If the file exists:
//   - read YAML and unmarshal into Config
//   - normalize defaults
//   - In both cases FESTPAGE_* environment overrides are applied last.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			// First run: create default config file.
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				// Even if save fails, return cfg with error so caller can decide.
				return cfg, err
			}
			return cfg, cfg.ApplyEnv()
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	cfg.Normalize()

	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Save writes the given configuration to the specified path.
//
// Implementation details:
//   - Ensures parent directory exists (0700).
//   - Marshals cfg to YAML.
//   - Writes atomically via a temp file + rename.
//   - Ensures final file permissions are 0600.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return fsutil.WriteFileAtomic(path, data, ".festpage-config-*.tmp")
}

// Save is a convenience method on Config that delegates to the package-level
// Save function.
func (c *Config) Save(path string) error {
	return Save(path, c)
}
