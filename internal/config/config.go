package config

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

const (
	defaultForecastDays  = 5
	defaultRemindMinutes = 10
	defaultRemindEvery   = "@every 2m"
	defaultLogLevel      = "info"
)

// CalendarConfig is one remote calendar refreshed into Dir as <name>.ics.
type CalendarConfig struct {
	Name string `yaml:"name"`
	// URL is http(s), webcal(s) or caldav(s).
	URL      string `yaml:"url"`
	Username string `yaml:"username,omitempty"`
	Password string `yaml:"password,omitempty"`
}

// Config is the top-level application configuration.
type Config struct {
	// Dir holds the *.ics files read by view and remind.
	Dir string `yaml:"dir"`

	// CacheDir keeps HTTP validators and last bodies for refresh.
	CacheDir string `yaml:"cache_dir"`

	// Timezone is the IANA zone used for day grouping and clock times.
	// Empty means the system zone.
	Timezone string `yaml:"timezone"`

	ForecastDays  int `yaml:"forecast_days"`
	RemindMinutes int `yaml:"remind_minutes"`

	// RemindEvery is the cron spec of reminder checks.
	RemindEvery string `yaml:"remind_every"`

	// Refresh is a cron spec for refreshing calendars while remind runs.
	// Empty disables it.
	Refresh string `yaml:"refresh"`

	// Expand lists every occurrence of a rule in view instead of the next.
	Expand bool `yaml:"expand"`

	LogLevel string `yaml:"log_level"`

	Calendars []CalendarConfig `yaml:"calendars"`
}

// DefaultPath is ~/.config/agenda/config.yaml, or a relative path when the
// home directory is unknown.
func DefaultPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return filepath.Join(".agenda", "config.yaml")
	}
	return filepath.Join(dir, "agenda", "config.yaml")
}

// DefaultConfig returns the configuration written on first run. The
// calendar directory sits next to the config file.
func DefaultConfig(path string) *Config {
	base := filepath.Dir(path)
	return &Config{
		Dir:           base,
		CacheDir:      filepath.Join(base, "cache"),
		ForecastDays:  defaultForecastDays,
		RemindMinutes: defaultRemindMinutes,
		RemindEvery:   defaultRemindEvery,
		LogLevel:      defaultLogLevel,
		Calendars:     []CalendarConfig{},
	}
}

// Normalize fills zero values so partially written files behave like the
// defaults.
func (c *Config) Normalize(path string) {
	def := DefaultConfig(path)
	if c.Dir == "" {
		c.Dir = def.Dir
	}
	if c.CacheDir == "" {
		c.CacheDir = filepath.Join(c.Dir, "cache")
	}
	if c.ForecastDays <= 0 {
		c.ForecastDays = def.ForecastDays
	}
	if c.RemindMinutes <= 0 {
		c.RemindMinutes = def.RemindMinutes
	}
	if c.RemindEvery == "" {
		c.RemindEvery = def.RemindEvery
	}
	if c.LogLevel == "" {
		c.LogLevel = def.LogLevel
	}
	if c.Calendars == nil {
		c.Calendars = []CalendarConfig{}
	}
}

// Location resolves Timezone.
func (c *Config) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// Validate checks the fields Normalize cannot repair.
func (c *Config) Validate() error {
	if _, err := c.Location(); err != nil {
		return err
	}
	if _, err := cron.ParseStandard(c.RemindEvery); err != nil {
		return fmt.Errorf("remind_every %q: %w", c.RemindEvery, err)
	}
	if c.Refresh != "" {
		if _, err := cron.ParseStandard(c.Refresh); err != nil {
			return fmt.Errorf("refresh %q: %w", c.Refresh, err)
		}
	}
	for i, cal := range c.Calendars {
		if cal.Name == "" || cal.URL == "" {
			return fmt.Errorf("calendars[%d]: name and url are required", i)
		}
	}
	return nil
}

// Load reads the YAML file at path. A missing file is created with the
// defaults (0600) and those are returned.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			cfg := DefaultConfig(path)
			if err := Save(path, cfg); err != nil {
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	cfg.Normalize(path)
	return &cfg, nil
}

// Save writes cfg atomically through a temp file in the same directory.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}
	cfg.Normalize(path)

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".agenda-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

// ResolveCalendars returns the configured calendars or, when there are
// none, those listed in the legacy <dir>/calendars file.
func (c *Config) ResolveCalendars() ([]CalendarConfig, error) {
	if len(c.Calendars) > 0 {
		return c.Calendars, nil
	}
	data, err := os.ReadFile(filepath.Join(c.Dir, "calendars"))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	return ParseLegacyCalendars(data)
}

// ParseLegacyCalendars reads "name;url" lines. Blank lines and lines
// starting with '#' are skipped.
func ParseLegacyCalendars(data []byte) ([]CalendarConfig, error) {
	var out []CalendarConfig
	sc := bufio.NewScanner(bytes.NewReader(data))
	for n := 1; sc.Scan(); n++ {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		name, url, ok := strings.Cut(line, ";")
		name, url = strings.TrimSpace(name), strings.TrimSpace(url)
		if !ok || name == "" || url == "" {
			return nil, fmt.Errorf("calendars line %d: want name;url", n)
		}
		out = append(out, CalendarConfig{Name: name, URL: url})
	}
	return out, sc.Err()
}
