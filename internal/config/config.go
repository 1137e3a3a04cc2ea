package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"evcal/internal/command"
	"evcal/internal/display"
)

var (
	ErrEmptyPath   = errors.New("config: path is empty")
	ErrNilConfig   = errors.New("config: config is nil")
	ErrNoAuthority = errors.New("config: neither authority.url nor ics sources are set")
	ErrUnknownView = errors.New("config: unknown view")
	ErrBadTimezone = errors.New("config: unknown timezone")
	ErrBadSchedule = errors.New("config: invalid refresh schedule")
)

// viewCommands maps view command names to widget views.
var viewCommands = map[string]display.View{
	command.Month: display.ViewMonth,
	command.Week:  display.ViewWeek,
	command.Day:   display.ViewDay,
	command.List:  display.ViewList,
}

// ICSConfig describes a single ICS subscription source.
type ICSConfig struct {
	URL string `yaml:"url" json:"url"`
	// ID prefixes event ids and doubles as a filter value.
	ID   string `yaml:"id" json:"id"`
	Name string `yaml:"name" json:"name"`
}

// AuthorityConfig points at the remote event store's websocket endpoint.
type AuthorityConfig struct {
	URL   string `yaml:"url" json:"url"`
	Token string `yaml:"token,omitempty" json:"-"`
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

type Config struct {
	// Listen is the HTTP listen address of the API.
	Listen string `yaml:"listen" json:"listen"`

	// Timezone is the IANA zone floating times and views are anchored in.
	Timezone string `yaml:"timezone" json:"timezone"`

	// WeekStart is "monday" (default) or "sunday".
	WeekStart string `yaml:"week_start" json:"week_start"`

	LogLevel string `yaml:"log_level" json:"log_level"`

	// IsAdmin grants the capability to forward mutations to the authority.
	// It is read once at startup.
	IsAdmin bool `yaml:"is_admin" json:"is_admin"`

	// InitialView is one of Views.
	InitialView string `yaml:"initial_view" json:"initial_view"`

	// Views lists the enabled view commands: month, week, day, list.
	Views []string `yaml:"views" json:"views"`

	// RefreshCron is a standard 5-field cron schedule for refetching the
	// current window. Empty disables scheduled refresh.
	RefreshCron string `yaml:"refresh" json:"refresh"`

	// MaxOccurrences caps recurrence expansion per event.
	MaxOccurrences int `yaml:"max_occurrences" json:"max_occurrences"`

	Authority AuthorityConfig `yaml:"authority" json:"authority"`

	// ICS lists read-only feeds, used when Authority.URL is empty.
	ICS []ICSConfig `yaml:"ics" json:"ics"`

	CacheDir string `yaml:"cache_dir" json:"cache_dir"`

	// CalendarName is the X-WR-CALNAME of the iCal export.
	CalendarName string `yaml:"calendar_name" json:"calendar_name"`

	// BasicAuth, if non-nil, protects every endpoint except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

func DefaultConfig() *Config {
	return &Config{
		Listen:         "127.0.0.1:8080",
		Timezone:       "UTC",
		WeekStart:      "monday",
		LogLevel:       "info",
		InitialView:    command.Month,
		Views:          []string{command.Month, command.Week, command.Day, command.List},
		RefreshCron:    "*/15 * * * *",
		MaxOccurrences: 5000,
		ICS:            []ICSConfig{},
		CacheDir:       "./var/ics-cache",
		CalendarName:   "evcal",
	}
}

// Normalize fills zero values with defaults and drops unknown views.
func (c *Config) Normalize() {
	def := DefaultConfig()
	if c.Listen == "" {
		c.Listen = def.Listen
	}
	if c.Timezone == "" {
		c.Timezone = def.Timezone
	}
	switch c.WeekStart = strings.ToLower(strings.TrimSpace(c.WeekStart)); c.WeekStart {
	case "monday", "sunday":
	default:
		c.WeekStart = def.WeekStart
	}
	if c.LogLevel == "" {
		c.LogLevel = def.LogLevel
	}

	views := make([]string, 0, len(c.Views))
	enabled := make(map[string]bool)
	for _, v := range c.Views {
		v = strings.ToLower(strings.TrimSpace(v))
		if _, ok := viewCommands[v]; ok && !enabled[v] {
			enabled[v] = true
			views = append(views, v)
		}
	}
	if len(views) == 0 {
		views = def.Views
		for _, v := range views {
			enabled[v] = true
		}
	}
	c.Views = views
	c.InitialView = strings.ToLower(strings.TrimSpace(c.InitialView))
	if !enabled[c.InitialView] {
		c.InitialView = c.Views[0]
	}

	if c.MaxOccurrences <= 0 {
		c.MaxOccurrences = def.MaxOccurrences
	}
	if c.ICS == nil {
		c.ICS = []ICSConfig{}
	}
	for i := range c.ICS {
		if c.ICS[i].ID == "" {
			c.ICS[i].ID = fmt.Sprintf("ics%d", i+1)
		}
	}
	if c.CacheDir == "" {
		c.CacheDir = def.CacheDir
	}
	if c.CalendarName == "" {
		c.CalendarName = def.CalendarName
	}
}

// Validate reports settings Normalize cannot repair.
func (c *Config) Validate() error {
	var errs []error
	if _, err := c.Location(); err != nil {
		errs = append(errs, err)
	}
	if c.RefreshCron != "" {
		if _, err := cron.ParseStandard(c.RefreshCron); err != nil {
			errs = append(errs, fmt.Errorf("%w %q: %v", ErrBadSchedule, c.RefreshCron, err))
		}
	}
	if c.Authority.URL == "" && len(c.ICS) == 0 {
		errs = append(errs, ErrNoAuthority)
	}
	for _, v := range c.Views {
		if _, ok := viewCommands[v]; !ok {
			errs = append(errs, fmt.Errorf("%w %q", ErrUnknownView, v))
		}
	}
	return errors.Join(errs...)
}

func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("%w %q: %v", ErrBadTimezone, c.Timezone, err)
	}
	return loc, nil
}

func (c *Config) WeekStartDay() time.Weekday {
	if c.WeekStart == "sunday" {
		return time.Sunday
	}
	return time.Monday
}

// ViewMap returns the enabled view commands mapped to widget views.
func (c *Config) ViewMap() map[string]string {
	out := make(map[string]string, len(c.Views))
	for _, v := range c.Views {
		if view, ok := viewCommands[v]; ok {
			out[v] = string(view)
		}
	}
	return out
}

// InitialDisplayView returns the widget view to open with.
func (c *Config) InitialDisplayView() display.View {
	if view, ok := viewCommands[c.InitialView]; ok {
		return view
	}
	return display.ViewMonth
}

// Load reads the YAML config at path. On first run the file does not exist;
// a default config is written (0600) and returned.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, ErrEmptyPath
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	cfg.Normalize()
	return &cfg, nil
}

// Save writes cfg atomically (temp file + rename) with 0600 permissions,
// creating the parent directory if needed.
func Save(path string, cfg *Config) error {
	if path == "" {
		return ErrEmptyPath
	}
	if cfg == nil {
		return ErrNilConfig
	}
	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".evcal-config-*.tmp")
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

func (c *Config) Save(path string) error {
	return Save(path, c)
}
